package pipeline

import "context"

// ProcessingContext carries the information a Processor needs beyond the
// image itself: whether this is a final or progressive frame, and the
// request it is serving.
type ProcessingContext struct {
	Request    *ImageRequest
	IsFinal    bool
	IsPreview  bool
}

// Processor is the narrow capability interface image transformations
// implement. The core does not ship a catalog of processors (spec.md §1
// Non-goals) — only this interface.
type Processor interface {
	// Process applies the transformation. Returning a nil container (with a
	// nil error) means "could not process this image"; the pipeline treats
	// that the same as an error on a final frame (processingFailed) and
	// silently drops it on a progressive frame.
	Process(ctx context.Context, input ImageContainer, pctx ProcessingContext) (*ImageContainer, error)

	// Identifier uniquely names the transformation for cache-key
	// composition. Two processors with equal HashableIdentifier must
	// produce equal outputs.
	Identifier() string

	// HashableIdentifier is usually Identifier() itself; processors whose
	// identity depends on non-string-friendly parameters may return a
	// distinct, still-stable string here.
	HashableIdentifier() string
}

// composeIdentifiers joins processor identifiers into the composed
// processor identifier used by the final-image data-cache key (spec.md §3).
func composeIdentifiers(processors []Processor) string {
	if len(processors) == 0 {
		return ""
	}
	out := make([]byte, 0, 64)
	for i, p := range processors {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, p.HashableIdentifier()...)
	}
	return string(out)
}
