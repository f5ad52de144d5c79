package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/gideontalk/talk-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// generateResponse produces the assistant reply for the turn, dispatching
// sentences for synthesis as they complete. Streaming is preferred; the
// one-shot completion is the fallback, taken only when the stream failed
// before producing a single usable sentence, so no audio is ever duplicated
// across the two paths.
func (t *activeTurn) generateResponse(ctx context.Context) (string, error) {
	o := t.orchestrator

	switch client := o.chat.(type) {
	case LLMWithStream:
		text, err := t.processStreaming(ctx, client)
		if err == nil || t.stale {
			return text, nil
		}

		if t.dispatcher.Dispatched() > 0 {
			// partial streaming success: the earlier sentences are already
			// synthesizing, keep them instead of restarting via fallback
			logger.Warn("chat stream failed mid-reply, keeping partial response", "error", err)
			return text, nil
		}

		fallback, ok := o.chat.(LLMWithPrompt)
		if !ok {
			return "", err
		}
		logger.Warn("chat stream failed, falling back to one-shot completion", "error", err)
		return t.processFallback(ctx, fallback)

	case LLMWithPrompt:
		return t.processFallback(ctx, client)
	}

	return "", errors.New("no chat client configured")
}

func (t *activeTurn) processStreaming(ctx context.Context, client LLMWithStream) (string, error) {
	ctx, span := tracer.Start(ctx, "generate response stream")
	defer span.End()

	o := t.orchestrator
	stream := client.PromptWithStream(ctx, llms.WithMessages(o.history.Messages()...))

	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			err = fmt.Errorf("chat stream failed: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return t.full.String(), err
		}

		if !o.isActive(t.token) {
			t.stale = true
			return t.full.String(), nil
		}

		t.full.WriteString(chunk)
		t.publishPartial(t.full.String())

		var sentences []string
		sentences, t.residual = extractSentences(t.residual + chunk)
		for _, sentence := range sentences {
			t.dispatcher.Dispatch(ctx, sentence)
		}
	}

	if sentence, ok := flushResidual(t.residual); ok {
		t.residual = ""
		t.dispatcher.Dispatch(ctx, sentence)
	}

	span.SetAttributes(attribute.Int("response.sentences", t.dispatcher.Dispatched()))
	return t.full.String(), nil
}

func (t *activeTurn) processFallback(ctx context.Context, client LLMWithPrompt) (string, error) {
	ctx, span := tracer.Start(ctx, "generate response fallback")
	defer span.End()

	o := t.orchestrator
	reply, err := client.Prompt(ctx, llms.WithMessages(o.history.Messages()...))
	if err != nil {
		err = fmt.Errorf("chat completion failed: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if !o.isActive(t.token) {
		t.stale = true
		return reply, nil
	}

	t.full.Reset()
	t.full.WriteString(reply)
	t.publishPartial(reply)

	sentences, residual := extractSentences(reply)
	if sentence, ok := flushResidual(residual); ok {
		sentences = append(sentences, sentence)
	}

	if len(sentences) == 0 {
		// guarantee at least one synthesis attempt even for an empty reply
		t.dispatcher.Dispatch(ctx, reply)
		return reply, nil
	}

	for _, sentence := range sentences {
		t.dispatcher.Dispatch(ctx, sentence)
	}
	span.SetAttributes(attribute.Int("response.sentences", t.dispatcher.Dispatched()))
	return reply, nil
}
