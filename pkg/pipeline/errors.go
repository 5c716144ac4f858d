package pipeline

import "errors"

// StageKind identifies which stage of the four-stage graph produced an error.
type StageKind int

const (
	// KindDataLoadingFailed means the underlying network/transport fetch failed.
	KindDataLoadingFailed StageKind = iota
	// KindDecodingFailed means no decoder produced an image for completed data.
	KindDecodingFailed
	// KindProcessingFailed means a processor returned nil for a final image.
	KindProcessingFailed
	// KindDecoderNotRegistered means no decoder matched the request/data.
	KindDecoderNotRegistered
)

func (k StageKind) String() string {
	switch k {
	case KindDataLoadingFailed:
		return "dataLoadingFailed"
	case KindDecodingFailed:
		return "decodingFailed"
	case KindProcessingFailed:
		return "processingFailed"
	case KindDecoderNotRegistered:
		return "decoderNotRegistered"
	default:
		return "unknown"
	}
}

// StageError is the single error type surfaced by every stage of the
// pipeline. Kind identifies the taxonomy member (spec.md §7); Err carries
// the underlying cause when there is one (e.g. a transport error).
type StageError struct {
	Kind    StageKind
	Context string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		if e.Context != "" {
			return e.Kind.String() + ": " + e.Context
		}
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrDecodingFailed) style checks against the kind
// sentinels below without requiring callers to type-assert *StageError.
func (e *StageError) Is(target error) bool {
	se, ok := target.(*StageError)
	if !ok {
		return false
	}
	return se.Kind == e.Kind && se.Err == nil
}

func newStageError(kind StageKind, context string, err error) *StageError {
	return &StageError{Kind: kind, Context: context, Err: err}
}

// Sentinels usable with errors.Is for matching by kind only.
var (
	ErrDataLoadingFailed    = &StageError{Kind: KindDataLoadingFailed}
	ErrDecodingFailed       = &StageError{Kind: KindDecodingFailed}
	ErrProcessingFailed     = &StageError{Kind: KindProcessingFailed}
	ErrDecoderNotRegistered = &StageError{Kind: KindDecoderNotRegistered}
)

// ErrCancelled is never delivered as a Task event (cancellation produces no
// event per spec.md §7), and no API of this package returns it.
var ErrCancelled = errors.New("imagepipe: task cancelled")
