package pipeline

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type jpegStubDecoder struct{}

func (jpegStubDecoder) Decode(data []byte, resp *http.Response, isCompleted bool) (*ImageResponse, error) {
	return &ImageResponse{}, nil
}

func TestDecoderRegistryReturnsNilWhenNoMatch(t *testing.T) {
	reg := NewDecoderRegistry()
	d := reg.Decoder(DecoderContext{})
	assert.Nil(t, d)
}

func TestDecoderRegistryReturnsFirstMatch(t *testing.T) {
	reg := NewDecoderRegistry()

	var calls []string
	reg.Register(func(ctx DecoderContext) (Decoder, bool) {
		calls = append(calls, "first")
		return nil, false
	})
	reg.Register(func(ctx DecoderContext) (Decoder, bool) {
		calls = append(calls, "second")
		return jpegStubDecoder{}, true
	})
	reg.Register(func(ctx DecoderContext) (Decoder, bool) {
		calls = append(calls, "third")
		return nil, false
	})

	d := reg.Decoder(DecoderContext{})
	assert.NotNil(t, d)
	assert.Equal(t, []string{"first", "second"}, calls, "registry should stop at the first match")
}
