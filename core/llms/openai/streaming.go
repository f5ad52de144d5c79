package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/gideontalk/talk-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PromptWithStream prepares a streaming completion. The request is not sent
// until the returned stream's Chunks iterator is consumed.
func (c *Client) PromptWithStream(_ context.Context, opts ...llms.PromptOption) llms.Stream {
	options := llms.PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	return &Stream{
		client:   c,
		messages: c.toMessages(options),
	}
}

type Stream struct {
	client   *Client
	messages []message
}

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (s *Stream) Chunks(ctx context.Context) iter.Seq2[string, error] {
	requestToFirstTokenTime := time.Time{}
	setRequestToFirstTokenTime := func(span trace.Span) {
		if requestToFirstTokenTime.IsZero() {
			return
		}
		span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestToFirstTokenTime).Seconds()))
		span.AddEvent("received first chunk")
		requestToFirstTokenTime = time.Time{}
	}

	return func(yield func(string, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.client.model))

		reqBody := requestBody{
			Model:    s.client.model,
			Messages: s.messages,
			Stream:   true,
		}

		requestBodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			err = fmt.Errorf("error marshalling JSON: %w", err)
			span.RecordError(err)
			yield("", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.completionsURL(), bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			err = fmt.Errorf("error creating HTTP request: %w", err)
			span.RecordError(err)
			yield("", err)
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.client.token)

		requestToFirstTokenTime = time.Now()
		span.AddEvent("request started")
		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			err = fmt.Errorf("error sending request: %w", err)
			span.RecordError(err)
			yield("", err)
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		if resp.StatusCode != http.StatusOK {
			if errorBody, readErr := io.ReadAll(resp.Body); readErr == nil {
				span.SetAttributes(attribute.String("response.error", string(errorBody)))
			}
			err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield("", err)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
			setRequestToFirstTokenTime(span)

			if len(chunk) == 0 {
				continue
			}

			if chunk == endMessage {
				return
			}

			var responseBody streamingResponseBody
			if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
				err = fmt.Errorf("error unmarshalling JSON: %w", err)
				span.RecordError(err)
				if !yield("", err) {
					return
				}
				continue
			}

			if len(responseBody.Choices) == 0 {
				continue
			}

			if content := responseBody.Choices[0].Delta.Content; content != "" {
				if !yield(content, nil) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			err = fmt.Errorf("error reading stream: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield("", err)
		}
	}
}
