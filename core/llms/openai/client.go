// Package openai talks to any OpenAI-compatible chat completion gateway.
//
// The assistant routes all chat traffic through a local gateway that speaks
// the /v1/chat/completions protocol, so this client only needs the base URL,
// a bearer token and a model name.
package openai

import (
	"context"
	"net/http"
	"strings"

	"github.com/gideontalk/talk-core/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultSystemPrompt = "You are Gideon, a voice assistant. Keep responses " +
	"concise and conversational. You're speaking out loud, so be natural — no " +
	"markdown, no bullet points, no code blocks."

const (
	completionsPath = "/v1/chat/completions"

	endMessage  = "[DONE]"
	chunkPrefix = "data:"
)

type Client struct {
	baseURL      string
	token        string
	model        string
	systemPrompt string

	httpClient *http.Client
}

type ClientOption func(*Client)

// WithSystemPrompt replaces the built-in voice-assistant system prompt.
func WithSystemPrompt(prompt string) ClientOption {
	return func(c *Client) { c.systemPrompt = prompt }
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

func NewClient(baseURL, token, model string, opts ...ClientOption) *Client {
	client := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		model:        model,
		systemPrompt: defaultSystemPrompt,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)}
	}

	return client
}

func (c *Client) completionsURL() string {
	return c.baseURL + completionsPath
}

// PromptOnlyClient narrows a Client to the one-shot completion surface, for
// deployments with streaming disabled. The orchestrator sees no streaming
// method and routes every reply through Prompt.
type PromptOnlyClient struct {
	client *Client
}

func (c *Client) PromptOnly() *PromptOnlyClient {
	return &PromptOnlyClient{client: c}
}

func (c *PromptOnlyClient) Prompt(ctx context.Context, opts ...llms.PromptOption) (string, error) {
	return c.client.Prompt(ctx, opts...)
}
