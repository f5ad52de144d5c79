package orchestration

import (
	"context"
	"sync"
	"time"
)

// defaultWarmUpDelay masks playback-device startup latency before the first
// segment of a session.
const defaultWarmUpDelay = 200 * time.Millisecond

// playbackQueue plays ordered audio segments sequentially on an AudioOutput
// device. Segments may be enqueued at any time while the queue is open;
// Close marks that no further segments will arrive and arranges a drain
// callback that fires exactly once when the queue is closed, empty and not
// playing. Stop hard-interrupts: it halts the current segment, clears
// pending work and discards the drain callback.
type playbackQueue struct {
	output  AudioOutput
	warmUp  time.Duration
	baseCtx context.Context

	mu         sync.Mutex
	session    int
	pending    []Segment
	closed     bool
	playing    bool
	warmedUp   bool
	drainFired bool
	onDrained  func()
	cancelPlay context.CancelFunc
}

func newPlaybackQueue(output AudioOutput, warmUp time.Duration) *playbackQueue {
	return &playbackQueue{
		output:  output,
		warmUp:  warmUp,
		baseCtx: context.Background(),
		closed:  true,
	}
}

// Replace stops any current playback, clears pending segments and opens a
// fresh queue session seeded with the given segments (normally empty for a
// streaming turn). The returned session handle scopes StopSession to this
// session.
func (q *playbackQueue) Replace(segments []Segment) int {
	q.mu.Lock()
	q.session++
	session := q.session
	if q.cancelPlay != nil {
		q.cancelPlay()
		q.cancelPlay = nil
	}
	q.pending = append([]Segment(nil), segments...)
	q.closed = false
	q.warmedUp = false
	q.drainFired = false
	q.onDrained = nil
	q.playing = len(q.pending) > 0
	start := q.playing
	q.mu.Unlock()

	if start {
		go q.pump(session)
	}
	return session
}

// Enqueue appends a segment; if the queue is open and idle, playback starts
// immediately. Segments arriving after Close or Stop are dropped.
func (q *playbackQueue) Enqueue(segment Segment) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		logger.Warn("dropping segment enqueued on closed playback queue", "segment_index", segment.Index)
		return
	}
	q.pending = append(q.pending, segment)
	start := !q.playing
	if start {
		q.playing = true
	}
	session := q.session
	q.mu.Unlock()

	if start {
		go q.pump(session)
	}
}

// Close marks that no further segments will arrive. If the queue is already
// idle and empty the callback fires synchronously; otherwise it fires once
// draining completes naturally.
func (q *playbackQueue) Close(onDrained func()) {
	q.mu.Lock()
	q.closed = true
	if !q.playing && len(q.pending) == 0 {
		fire := !q.drainFired
		q.drainFired = true
		q.mu.Unlock()
		if fire && onDrained != nil {
			onDrained()
		}
		return
	}
	q.onDrained = onDrained
	q.mu.Unlock()
}

// Stop hard-interrupts the current session: playback halts, pending segments
// are discarded, the queue is closed and any pending drain callback is
// dropped without being invoked. Only the turn that owns the queue may call
// it; a wound-down turn uses StopSession instead.
func (q *playbackQueue) Stop() {
	q.mu.Lock()
	q.stopLocked()
	q.mu.Unlock()
}

// StopSession stops the queue only if session is still the current one. A
// superseded turn's late wind-down must not touch the playback its successor
// started.
func (q *playbackQueue) StopSession(session int) {
	q.mu.Lock()
	if q.session == session {
		q.stopLocked()
	}
	q.mu.Unlock()
}

func (q *playbackQueue) stopLocked() {
	q.session++
	q.closed = true
	q.pending = nil
	q.onDrained = nil
	q.playing = false
	if q.cancelPlay != nil {
		q.cancelPlay()
		q.cancelPlay = nil
	}
}

// pump plays pending segments back-to-back until its session is superseded
// or pending drains. Exactly one pump runs per session at a time: it is
// started only on the idle→playing edge.
func (q *playbackQueue) pump(session int) {
	for {
		q.mu.Lock()
		if q.session != session {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.playing = false
			var onDrained func()
			if q.closed && !q.drainFired {
				q.drainFired = true
				onDrained = q.onDrained
				q.onDrained = nil
			}
			q.mu.Unlock()
			if onDrained != nil {
				onDrained()
			}
			return
		}

		segment := q.pending[0]
		q.pending = q.pending[1:]
		first := !q.warmedUp
		q.warmedUp = true
		playCtx, cancel := context.WithCancel(q.baseCtx)
		q.cancelPlay = cancel
		q.mu.Unlock()

		if first && q.warmUp > 0 {
			select {
			case <-time.After(q.warmUp):
			case <-playCtx.Done():
			}
		}

		if q.output != nil && len(segment.Audio) > 0 && playCtx.Err() == nil {
			if err := q.output.Play(playCtx, segment.Audio); err != nil && playCtx.Err() == nil {
				logger.Warn("segment playback failed", "segment_index", segment.Index, "error", err)
			}
		}
		cancel()
	}
}
