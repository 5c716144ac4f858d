package pipeline

import "net/http"

// ImageType is a coarse classification of the decoded image's source
// format, used to decide whether the decompression stage applies.
type ImageType string

const (
	ImageTypeUnknown ImageType = ""
	ImageTypeAnimated ImageType = "animated"
)

// Image is the decoded bitmap payload. The core treats it opaquely; the
// platform image-decode primitives are an out-of-scope external
// collaborator (spec.md §1). Width/Height/BytesPerRow are enough to derive
// the default MemoryCache cost (spec.md §3).
type Image struct {
	Width       int
	Height      int
	BytesPerRow int
	Pixels      []byte
}

// WidthOrZero and HeightOrZero let callers report dimensions without a nil
// check of their own (e.g. the HTTP gateway's JSON responses).
func (im *Image) WidthOrZero() int {
	if im == nil {
		return 0
	}
	return im.Width
}

func (im *Image) HeightOrZero() int {
	if im == nil {
		return 0
	}
	return im.Height
}

// Cost is the default MemoryCache entry cost: bytesPerRow × height, or 1
// when the platform cannot introspect the bitmap (spec.md §3).
func (im *Image) Cost() int {
	if im == nil {
		return 1
	}
	if im.BytesPerRow <= 0 || im.Height <= 0 {
		return 1
	}
	return im.BytesPerRow * im.Height
}

// ImageContainer wraps a decoded image with the metadata the pipeline
// stages need to thread through the graph (spec.md §3).
type ImageContainer struct {
	Image      *Image
	Type       ImageType
	IsPreview  bool
	Data       []byte
	UserInfo   map[string]any

	// NeedsDecompression replaces the reference implementation's
	// associated-object flag on the platform image object (spec.md §9,
	// "Associated-object state on platform images").
	NeedsDecompression bool
}

// ImageResponse pairs a container with the URLResponse of the fetch that
// produced it, when there was one (cache hits have none).
type ImageResponse struct {
	Container   ImageContainer
	URLResponse *http.Response
}
