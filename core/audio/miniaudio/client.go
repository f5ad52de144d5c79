// Package miniaudio provides malgo-backed capture and playback devices for
// the orchestrator. Capture produces 16kHz mono s16le frames; playback
// consumes s16le PCM (a leading RIFF header is stripped if present).
package miniaudio

import (
	"fmt"
	"log"

	"github.com/gen2brain/malgo"
	"github.com/gideontalk/talk-core/core/audio"
)

type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	playbackClient
	captureClient
}

type ClientOption func(*Client)

// WithPlaybackSampleRate overrides the playback device sample rate to match
// the synthesis service output.
func WithPlaybackSampleRate(sampleRate int) ClientOption {
	return func(c *Client) { c.playbackClient.sampleRate = sampleRate }
}

// WithOutputLevelCallback receives a normalized output level per playback
// period, for UI visualization only.
func WithOutputLevelCallback(onLevel func(float64)) ClientOption {
	return func(c *Client) { c.playbackClient.onLevel = onLevel }
}

func NewClient(opts ...ClientOption) (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {})
	if err != nil {
		log.Fatalf("malgo InitContext failed: %v", err)
	}

	client := Client{
		audioContext: audioCtx,
	}
	client.playbackClient.sampleRate = audio.DefaultSampleRate

	for _, opt := range opts {
		opt(&client)
	}

	if err := client.playbackClient.Init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}

	if err := client.playbackClient.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	if err := client.captureClient.Init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &client, nil
}

func (c *Client) Close() {
	if err := c.captureClient.Uninit(); err != nil {
		log.Printf("Failed to uninitialize capture client: %v", err)
	}
	if err := c.playbackClient.Uninit(); err != nil {
		log.Printf("Failed to uninitialize playback client: %v", err)
	}

	if c.audioContext != nil {
		if err := c.audioContext.Uninit(); err != nil {
			log.Printf("Failed to uninitialize audio context: %v", err)
		}
		c.audioContext.Free()
		c.audioContext = nil
	}
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
		Channels:   1,
	}
}
