package orchestration

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// synthesisDispatcher fans sentences out to concurrent synthesis calls and
// funnels the results through the reorder buffer into the playback queue.
//
// Dispatch assigns indices sequentially from 0 in call order; it is only
// invoked from the single goroutine driving the chat response, so index
// assignment needs no lock. Synthesis itself runs on one goroutine per
// sentence and may complete in any order.
//
// A failed synthesis call is non-fatal for the turn: it logs, inserts a
// zero-length placeholder at its index so the reorder buffer's gap closes
// immediately, and the sentence plays as silence. Wait joins all outstanding
// calls so the queue can be closed without racing a straggler.
type synthesisDispatcher struct {
	synthesize   func(ctx context.Context, sentence string) ([]byte, error)
	reorder      *reorderBuffer
	deliver      func(Segment)
	onFirstAudio func()

	wg        sync.WaitGroup
	next      int
	firstOnce sync.Once

	// deliverMu is held across the reorder insert and the delivery of the
	// released run. Two inserts can release back-to-back runs; without the
	// shared lock their deliveries could interleave out of index order.
	deliverMu sync.Mutex
}

func newSynthesisDispatcher(
	synthesize func(ctx context.Context, sentence string) ([]byte, error),
	deliver func(Segment),
	onFirstAudio func(),
) *synthesisDispatcher {
	return &synthesisDispatcher{
		synthesize:   synthesize,
		reorder:      newReorderBuffer(),
		deliver:      deliver,
		onFirstAudio: onFirstAudio,
	}
}

// Dispatch starts an independent synthesis call for the sentence under the
// next sequential index.
func (d *synthesisDispatcher) Dispatch(ctx context.Context, sentence string) {
	index := d.next
	d.next++

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, span := tracer.Start(ctx, "synthesize sentence")
		defer span.End()
		span.SetAttributes(attribute.Int("segment.index", index))

		audio, err := d.synthesize(ctx, sentence)
		if err != nil {
			err = ctxOrSynthesisError(ctx, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("synthesis failed, segment will be silent",
				"segment_index", index, "error", err)
			audio = nil
		}

		d.deliverMu.Lock()
		for _, segment := range d.reorder.Insert(index, audio) {
			if len(segment.Audio) == 0 {
				continue
			}
			d.firstOnce.Do(d.onFirstAudio)
			d.deliver(segment)
		}
		d.deliverMu.Unlock()
	}()
}

// Dispatched reports how many sentences have been dispatched so far. Only
// meaningful from the dispatching goroutine.
func (d *synthesisDispatcher) Dispatched() int {
	return d.next
}

// Wait blocks until every dispatched synthesis call has completed and fed
// the reorder buffer.
func (d *synthesisDispatcher) Wait() {
	d.wg.Wait()
}

func ctxOrSynthesisError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
