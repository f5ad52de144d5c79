package llms

import (
	"context"
	"iter"
)

// Stream is an in-progress streaming completion. Chunks yields incremental
// fragments of the assistant reply as they arrive from the chat service.
//
// A yielded error terminates the stream: either the stream could not be
// opened (connection failure, non-success status) or it failed before the
// end-of-stream marker. Callers decide whether to fall back to a one-shot
// completion.
type Stream interface {
	Chunks(ctx context.Context) iter.Seq2[string, error]
}
