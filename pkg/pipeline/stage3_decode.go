package pipeline

import (
	"context"
	"net/http"

	"github.com/khryptorgraphics/imagepipe/pkg/queue"
)

// originalDecodedTask returns the (possibly shared) stage-3 task decoding
// the raw origin bytes into an ImageResponse (spec.md §4.8.4).
func (p *Pipeline) originalDecodedTask(req ImageRequest) *Task[ImageResponse] {
	key := req.OriginalLoadKey()
	return p.originalDecPool.GetOrCreate(key, func() *Task[ImageResponse] {
		return NewTask[ImageResponse](func(t *Task[ImageResponse]) {
			p.startOriginalDecode(t, req)
		})
	})
}

// startOriginalDecode subscribes to stage 4 and decodes every chunk that
// arrives, applying spec.md §4.8.4's progressive back-pressure rule: while
// a decode is in flight, intermediate chunks are dropped and only the most
// recent pending chunk is redecoded once the in-flight pass finishes; a
// final chunk is never dropped, only deferred.
func (p *Pipeline) startOriginalDecode(t *Task[ImageResponse], req ImageRequest) {
	ctrl := &stageController{}
	t.SetOperation(ctrl)

	var (
		decoding  bool
		hasChunk  bool
		pending   dataChunkView
	)

	var tryDecode func()
	tryDecode = func() {
		if decoding || !hasChunk || ctrl.IsCancelled() {
			return
		}
		if !pending.completed && !p.cfg.IsProgressiveDecodingEnabled {
			return
		}
		decoding = true
		hasChunk = false
		chunk := pending

		op := queue.NewOperation(func(ctx context.Context, finish func()) {
			defer finish()
			dctx := DecoderContext{
				Request:     &req,
				Data:        chunk.data,
				URLResponse: chunk.resp,
				IsCompleted: chunk.completed,
			}
			decoder := p.decoders.Decoder(dctx)
			var (
				result *ImageResponse
				err    error
			)
			switch {
			case decoder == nil && chunk.completed:
				err = newStageError(KindDecoderNotRegistered, req.preferredURL(), nil)
			case decoder == nil:
				// No decoder could handle this progressive chunk yet; wait
				// for more data or the final chunk.
			default:
				result, err = decoder.Decode(chunk.data, chunk.resp, chunk.completed)
			}

			p.run(func() {
				decoding = false
				if err != nil {
					t.Send(ErrorEvent[ImageResponse](err))
					return
				}
				if result != nil {
					t.Send(ValueEvent(*result, chunk.completed))
				}
				tryDecode()
			})
		})
		op.Priority = queue.Priority(req.Priority)
		ctrl.setCurrent(op)
		p.queues.Decoding.Submit(op)
	}

	dataTask := p.originalDataTask(req)
	sub := dataTask.Subscribe(req.Priority, func(ev Event[DataResult]) {
		p.run(func() {
			switch ev.Kind {
			case EventProgress:
				t.Send(ProgressEvent[ImageResponse](ev.Completed, ev.Total))
			case EventValue:
				pending = dataChunkView{data: ev.Value.Data, resp: ev.Value.URLResponse, completed: ev.IsCompleted}
				hasChunk = true
				tryDecode()
			case EventError:
				t.Send(ErrorEvent[ImageResponse](ev.Err))
			}
		})
	})
	if sub != nil {
		t.SetDependency(sub)
	}
}

// dataChunkView is the decode stage's local snapshot of the most recent
// stage-4 delivery awaiting a decode pass.
type dataChunkView struct {
	data      []byte
	resp      *http.Response
	completed bool
}
