package orchestration

import "sync"

// Segment is one unit of synthesized audio corresponding to one sentence.
// Index is assigned at dispatch time, strictly increasing from 0 per turn,
// and uniquely identifies the segment's position in playback order.
type Segment struct {
	Index int
	Audio []byte
}

// reorderBuffer collects out-of-order synthesis results and releases them in
// index order. A segment is released if and only if all segments with a
// smaller index have already been released; nextIndex only increases.
//
// Inserts race from concurrent synthesis goroutines; the mutex gives each
// insert's reconciliation loop single-writer semantics, so no segment is
// delivered twice and delivery never skips an index.
type reorderBuffer struct {
	mu        sync.Mutex
	nextIndex int
	pending   map[int][]byte
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{pending: map[int][]byte{}}
}

// Insert stores the segment and returns the contiguous run now ready for
// playback, possibly empty. A nil audio payload is a valid placeholder for a
// failed synthesis: it closes the gap so later segments are not stranded.
func (b *reorderBuffer) Insert(index int, audio []byte) []Segment {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[index] = audio

	var released []Segment
	for {
		pendingAudio, ok := b.pending[b.nextIndex]
		if !ok {
			break
		}
		delete(b.pending, b.nextIndex)
		released = append(released, Segment{Index: b.nextIndex, Audio: pendingAudio})
		b.nextIndex++
	}
	return released
}
