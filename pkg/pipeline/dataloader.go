package pipeline

import (
	"net/http"
)

// DataChunk is one delivery of bytes from a DataLoader to the pipeline.
type DataChunk struct {
	Data     []byte
	Response *http.Response
}

// CancellableHandle is returned by DataLoader.LoadData; Cancel must be
// idempotent (spec.md §6).
type CancellableHandle interface {
	Cancel()
}

// DataLoader is the out-of-scope concrete HTTP transport (spec.md §1, §6).
// Implementations must call onData at least once per received chunk (on
// any goroutine — the pipeline hops to its own queue) and call onFinish
// exactly once.
type DataLoader interface {
	LoadData(req *ImageRequest, onData func(DataChunk), onFinish func(error)) CancellableHandle
}
