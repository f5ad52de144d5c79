package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gideontalk/talk-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type requestBody struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type completionResponseBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) toMessages(options llms.PromptOptions) []message {
	instructions := options.Instructions
	if instructions == "" {
		instructions = c.systemPrompt
	}

	messages := []message{{Role: "system", Content: instructions}}
	for _, msg := range options.Messages {
		messages = append(messages, message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return messages
}

// Prompt performs a one-shot (non-streaming) completion and returns the full
// assistant reply.
func (c *Client) Prompt(ctx context.Context, opts ...llms.PromptOption) (string, error) {
	ctx, span := tracer.Start(ctx, "prompt llm")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))

	options := llms.PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	reqBody := requestBody{
		Model:    c.model,
		Messages: c.toMessages(options),
		Stream:   false,
	}

	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		err = fmt.Errorf("error marshalling JSON: %w", err)
		span.RecordError(err)
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL(), bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		return "", err
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
		return "", err
	}

	var responseBody completionResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&responseBody); err != nil {
		err = fmt.Errorf("error unmarshalling JSON: %w", err)
		span.RecordError(err)
		return "", err
	}

	if len(responseBody.Choices) == 0 {
		logger.WarnContext(ctx, "no choices returned for completion")
		return "", nil
	}

	return responseBody.Choices[0].Message.Content, nil
}
