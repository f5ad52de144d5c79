// Package whisper transcribes captured audio against a local whisper-style
// HTTP server: POST <base>/transcribe with a WAV body, JSON {text} back.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gideontalk/talk-core/core/audio"
	"github.com/gideontalk/talk-core/core/speechtotext"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	client := &Client{baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		opt(client)
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return client
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe frames the PCM as WAV and runs a one-shot transcription.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, opts ...speechtotext.TranscriptionOption) (string, error) {
	options := speechtotext.TranscriptionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}

	wav, err := audio.EncodeWAV(pcm, options.EncodingInfo)
	if err != nil {
		return "", fmt.Errorf("failed to frame audio for transcription: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", bytes.NewReader(wav))
	if err != nil {
		return "", fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return "", fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, string(body))
	}

	var response transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("error unmarshalling JSON: %w", err)
	}

	return response.Text, nil
}
