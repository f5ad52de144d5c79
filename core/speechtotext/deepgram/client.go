// Package deepgram transcribes captured audio through Deepgram's prerecorded
// API. It is the hosted alternative to the local whisper server.
package deepgram

import (
	"bytes"
	"context"
	"fmt"

	listenv1 "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/rest"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/pkg/client/listen"

	"github.com/gideontalk/talk-core/core/audio"
	"github.com/gideontalk/talk-core/core/speechtotext"
)

type Client struct {
	apiKey string
	model  string
}

type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// NewClient builds a prerecorded transcription client. An empty apiKey falls
// back to the DEEPGRAM_API_KEY environment variable, which the SDK reads on
// its own.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	client := &Client{
		apiKey: apiKey,
		model:  "nova-2",
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *Client) Transcribe(ctx context.Context, pcm []byte, opts ...speechtotext.TranscriptionOption) (string, error) {
	options := speechtotext.TranscriptionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}

	wav, err := audio.EncodeWAV(pcm, options.EncodingInfo)
	if err != nil {
		return "", fmt.Errorf("failed to frame audio for transcription: %w", err)
	}

	restClient := listen.NewREST(c.apiKey, &clientinterfaces.ClientOptions{})
	dg := listenv1.New(restClient)

	transcriptionOptions := &clientinterfaces.PreRecordedTranscriptionOptions{
		Model:       c.model,
		SmartFormat: true,
	}
	if options.Language != "" {
		transcriptionOptions.Language = options.Language
	}

	response, err := dg.FromStream(ctx, bytes.NewReader(wav), transcriptionOptions)
	if err != nil {
		return "", fmt.Errorf("deepgram transcription failed: %w", err)
	}

	if len(response.Results.Channels) == 0 || len(response.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}

	return response.Results.Channels[0].Alternatives[0].Transcript, nil
}
