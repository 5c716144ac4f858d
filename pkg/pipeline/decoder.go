package pipeline

import "net/http"

// Decoder is the external collaborator that turns raw bytes into an
// ImageResponse (spec.md §6). Decode may return a nil response with a nil
// error to mean "not yet decodable" (a progressive chunk that doesn't carry
// a complete enough image yet).
type Decoder interface {
	Decode(data []byte, resp *http.Response, isCompleted bool) (*ImageResponse, error)
}

// DecoderContext is what a DecoderRegistry matches against to lazily
// construct a Decoder for a given fetch (spec.md §4.8.4).
type DecoderContext struct {
	Request     *ImageRequest
	Data        []byte
	URLResponse *http.Response
	IsCompleted bool
}

// DecoderRegistry matches a DecoderContext to a Decoder. The core ships no
// concrete decoders (spec.md §1 Non-goals); callers register platform
// decode primitives.
type DecoderRegistry struct {
	factories []func(DecoderContext) (Decoder, bool)
}

// NewDecoderRegistry returns an empty registry.
func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{}
}

// Register appends a factory. match returns (decoder, true) when it can
// handle the context; factories are tried in registration order and the
// first match wins.
func (r *DecoderRegistry) Register(match func(DecoderContext) (Decoder, bool)) {
	r.factories = append(r.factories, match)
}

// Decoder returns the first matching decoder, or nil if none matched
// (spec.md §7 decoderNotRegistered).
func (r *DecoderRegistry) Decoder(ctx DecoderContext) Decoder {
	for _, f := range r.factories {
		if d, ok := f(ctx); ok {
			return d
		}
	}
	return nil
}
