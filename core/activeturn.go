package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gideontalk/talk-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// processTurn drives a turn from captured audio to a drained playback
// queue. Everything after the state checks runs off the caller's goroutine;
// each step re-validates the token before touching shared state.
func (o *Orchestrator) processTurn(ctx context.Context, token string, captured []byte) {
	ctx, span := tracer.Start(ctx, "process turn")
	defer span.End()
	span.SetAttributes(attribute.Int("capture.bytes", len(captured)))

	if len(captured) == 0 {
		// nothing was captured: back to idle without invoking transcription
		if o.ifActive(token, func() { o.state = StateIdle }) {
			o.notifyState()
		}
		return
	}

	if o.speechToText == nil {
		o.failTurn(token, errors.New("no transcription client configured"))
		return
	}

	transcript, err := o.speechToText.Transcribe(ctx, captured, o.transcriptionOptions...)
	if err != nil {
		err = fmt.Errorf("transcription failed: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.failTurn(token, err)
		return
	}
	span.SetAttributes(attribute.Int("transcript.length", len(transcript)))

	if !o.ifActive(token, func() {
		o.transcript = transcript
		o.history.Append(llms.MessageRoleUser, transcript)
	}) {
		return
	}
	if o.callbacks.onTranscript != nil {
		o.callbacks.onTranscript(transcript)
	}

	newActiveTurn(o, token).run(ctx)
}

// activeTurn is the per-turn response pipeline: the chat driver feeding the
// sentence segmenter, the synthesis dispatcher, and the reorder buffer in
// front of the playback queue. All of it is scoped by the turn token.
type activeTurn struct {
	orchestrator *Orchestrator
	token        string
	dispatcher   *synthesisDispatcher

	// residual is the segmenter buffer between streamed chunks.
	residual string
	full     strings.Builder
	// stale flips when a token check fails mid-generation; the pipeline
	// then winds down without observable output.
	stale bool
}

func newActiveTurn(o *Orchestrator, token string) *activeTurn {
	t := &activeTurn{
		orchestrator: o,
		token:        token,
	}

	t.dispatcher = newSynthesisDispatcher(
		func(ctx context.Context, sentence string) ([]byte, error) {
			if o.textToSpeech == nil {
				return nil, errors.New("no synthesis client configured")
			}
			return o.textToSpeech.Synthesize(ctx, sentence, o.synthesisOptions...)
		},
		func(segment Segment) {
			// a synthesis result from a superseded turn must never reach
			// the playback queue
			if !o.isActive(token) {
				return
			}
			o.playback.Enqueue(segment)
		},
		func() { o.markSpeaking(token) },
	)

	return t
}

func (t *activeTurn) run(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "respond to turn")
	defer span.End()

	o := t.orchestrator
	session := o.playback.Replace(nil)

	text, err := t.generateResponse(ctx)
	if err != nil {
		// join outstanding synthesis work before tearing the queue down so
		// nothing races the stop; the session handle keeps a stale turn
		// from stopping its successor's playback
		t.dispatcher.Wait()
		o.playback.StopSession(session)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.failTurn(t.token, err)
		return
	}

	t.dispatcher.Wait()

	if !o.ifActive(t.token, func() {
		o.response = text
		o.history.Append(llms.MessageRoleAssistant, text)
	}) {
		o.playback.StopSession(session)
		return
	}

	o.playback.Close(func() { o.finishTurn(t.token) })
}

// publishPartial updates the displayed response text with the running total,
// token-gated.
func (t *activeTurn) publishPartial(text string) {
	o := t.orchestrator
	if !o.ifActive(t.token, func() { o.response = text }) {
		t.stale = true
		return
	}
	if o.callbacks.onResponse != nil {
		o.callbacks.onResponse(text)
	}
}
