package cache

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func respWithHeaders(headers map[string]string) *http.Response {
	h := make(http.Header)
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{Header: h}
}

func TestResumableStoreRequiresAcceptRangesAndValidator(t *testing.T) {
	s := NewResumableStore(0)

	ok := s.Store("https://example.com/a.jpg", []byte("partial"), respWithHeaders(nil))
	assert.False(t, ok, "no Accept-Ranges header should refuse to store")

	ok = s.Store("https://example.com/a.jpg", []byte("partial"), respWithHeaders(map[string]string{
		"Accept-Ranges": "bytes",
	}))
	assert.False(t, ok, "no ETag/Last-Modified validator should refuse to store")

	ok = s.Store("https://example.com/a.jpg", []byte("partial"), respWithHeaders(map[string]string{
		"Accept-Ranges": "bytes",
		"ETag":          `"abc123"`,
	}))
	assert.True(t, ok)
}

func TestResumableStoreLookupAndRemove(t *testing.T) {
	s := NewResumableStore(0)
	s.Store("https://example.com/a.jpg", []byte("partial"), respWithHeaders(map[string]string{
		"Accept-Ranges": "bytes",
		"ETag":          `"abc123"`,
	}))

	data, ok := s.Lookup("https://example.com/a.jpg")
	assert.True(t, ok)
	assert.Equal(t, []byte("partial"), data.Bytes)
	assert.Equal(t, `"abc123"`, data.Validator)

	s.Remove("https://example.com/a.jpg")
	_, ok = s.Lookup("https://example.com/a.jpg")
	assert.False(t, ok)
}

func TestResumableStoreFallsBackToLastModified(t *testing.T) {
	s := NewResumableStore(0)
	ok := s.Store("https://example.com/a.jpg", []byte("partial"), respWithHeaders(map[string]string{
		"Accept-Ranges": "bytes",
		"Last-Modified": "Wed, 21 Oct 2015 07:28:00 GMT",
	}))
	assert.True(t, ok)

	data, _ := s.Lookup("https://example.com/a.jpg")
	assert.Equal(t, "Wed, 21 Oct 2015 07:28:00 GMT", data.Validator)
}

func TestResumableStoreApplyRequestHeaders(t *testing.T) {
	s := NewResumableStore(0)
	s.Store("https://example.com/a.jpg", []byte("0123456789"), respWithHeaders(map[string]string{
		"Accept-Ranges": "bytes",
		"ETag":          `"v1"`,
	}))

	header := make(http.Header)
	data, ok := s.ApplyRequestHeaders("https://example.com/a.jpg", header)
	assert.True(t, ok)
	assert.Equal(t, 10, len(data.Bytes))
	assert.Equal(t, "bytes=10-", header.Get("Range"))
	assert.Equal(t, `"v1"`, header.Get("If-Range"))
}

func TestResumableStoreApplyRequestHeadersMiss(t *testing.T) {
	s := NewResumableStore(0)
	header := make(http.Header)
	_, ok := s.ApplyRequestHeaders("https://example.com/missing.jpg", header)
	assert.False(t, ok)
	assert.Empty(t, header.Get("Range"))
}
