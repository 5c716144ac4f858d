package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/khryptorgraphics/imagepipe/pkg/pipeline"
)

// httpDataLoader is the concrete net/http transport the binary wires in as
// pipeline.DataLoader. The library itself stays transport-agnostic
// (SPEC_FULL.md §3 domain stack, spec.md §1/§6 Non-goals); this is
// application glue, not a core component.
type httpDataLoader struct {
	client *http.Client
}

func newHTTPDataLoader() *httpDataLoader {
	return &httpDataLoader{client: &http.Client{Timeout: 2 * time.Minute}}
}

type httpCancelHandle struct {
	cancel context.CancelFunc
}

func (h *httpCancelHandle) Cancel() {
	h.cancel()
}

// LoadData issues the request and delivers the whole body as a single
// chunk. Implementations are free to stream in smaller chunks; imagepipe's
// stages only require at least one onData call before onFinish.
func (l *httpDataLoader) LoadData(req *pipeline.ImageRequest, onData func(pipeline.DataChunk), onFinish func(error)) pipeline.CancellableHandle {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &httpCancelHandle{cancel: cancel}

	go func() {
		defer cancel()

		method := req.Resource.Method
		if method == "" {
			method = http.MethodGet
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, req.Resource.URL, nil)
		if err != nil {
			onFinish(err)
			return
		}
		for key, values := range req.Resource.Header {
			for _, v := range values {
				httpReq.Header.Add(key, v)
			}
		}

		resp, err := l.client.Do(httpReq)
		if err != nil {
			onFinish(err)
			return
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			onFinish(err)
			return
		}

		onData(pipeline.DataChunk{Data: body, Response: resp})
		onFinish(nil)
	}()

	return handle
}
