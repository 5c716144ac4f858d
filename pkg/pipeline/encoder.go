package pipeline

// EncodingContext carries what an Encoder needs to turn a processed
// container back into bytes for the final-image disk cache (spec.md §6).
type EncodingContext struct {
	Request *ImageRequest
}

// Encoder writes a processed image container to bytes for the disk cache.
// Encode may return a nil slice with a nil error to mean "not encodable"
// (e.g. an animated container the encoder declines to re-encode).
type Encoder interface {
	Encode(container ImageContainer, ectx EncodingContext) ([]byte, error)
}
