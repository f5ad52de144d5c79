// Package portaudio provides a portaudio-backed capture device, as an
// alternative to the miniaudio backend on hosts where miniaudio misbehaves.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"

	"github.com/gideontalk/talk-core/core/audio"
	"github.com/gordonklaus/portaudio"
)

const defaultBufferSize = 1024

type Client struct {
	bufferSize int
	stream     *portaudio.Stream
	in         []int16

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewClient() (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	in := make([]int16, defaultBufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, audio.DefaultSampleRate, defaultBufferSize, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open PortAudio stream: %w", err)
	}

	return &Client{
		bufferSize: defaultBufferSize,
		stream:     stream,
		in:         in,
	}, nil
}

// StartCapture reads microphone frames in a background goroutine and hands
// them to onAudio as s16le bytes until StopCapture or ctx cancellation.
func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return fmt.Errorf("capture already in progress")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	captureCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.stream.Start(); err != nil {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("failed to start PortAudio stream: %w", err)
	}

	go func() {
		defer func() {
			if err := c.stream.Stop(); err != nil {
				log.Printf("Failed to stop PortAudio stream: %v", err)
			}
		}()

		for {
			select {
			case <-captureCtx.Done():
				return
			default:
				if err := c.stream.Read(); err != nil {
					log.Printf("Failed to read from PortAudio stream: %v", err)
					continue
				}

				audioBuffer := bytes.Buffer{}
				binary.Write(&audioBuffer, binary.LittleEndian, c.in)
				onAudio(audioBuffer.Bytes())
			}
		}
	}()

	return nil
}

func (c *Client) StopCapture() error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (c *Client) Close() {
	c.StopCapture()
	c.stream.Close()
	portaudio.Terminate()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
		Channels:   1,
	}
}
