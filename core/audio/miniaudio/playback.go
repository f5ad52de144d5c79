package miniaudio

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/gideontalk/talk-core/core/audio"
)

const bytesPerSample = 2

// playbackMark fires its callback once remaining buffered bytes ahead of it
// have been consumed by the device.
type playbackMark struct {
	remaining int
	callback  func()
}

type playbackClient struct {
	device     *malgo.Device
	sampleRate int
	onLevel    func(float64)

	audioMu       sync.Mutex
	leftoverAudio []byte
	marks         []playbackMark
}

func (c *playbackClient) Init(audioCtx *malgo.AllocatedContext) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(c.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(audioCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: c.processAudio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	c.device = device
	return nil
}

func (c *playbackClient) Start() error {
	if c.device == nil {
		return fmt.Errorf("playback device not initialized")
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

func (c *playbackClient) processAudio(pOutput, _ []byte, framecount uint32) {
	requested := int(framecount) * bytesPerSample

	c.audioMu.Lock()
	taken := min(requested, len(c.leftoverAudio))
	copy(pOutput, c.leftoverAudio[:taken])
	c.leftoverAudio = c.leftoverAudio[taken:]
	for i := taken; i < requested; i++ {
		pOutput[i] = 0
	}

	var fired []func()
	for i := range c.marks {
		c.marks[i].remaining -= taken
	}
	for len(c.marks) > 0 && c.marks[0].remaining <= 0 {
		fired = append(fired, c.marks[0].callback)
		c.marks = c.marks[1:]
	}
	c.audioMu.Unlock()

	for _, callback := range fired {
		go callback()
	}

	if c.onLevel != nil {
		go c.onLevel(audio.NormalizeLevel(audio.Decibels(audio.RMS(pOutput[:taken]))))
	}
}

// Play buffers audio on the playback device and blocks until the device has
// consumed it, or until ctx is cancelled, in which case any unplayed audio
// is discarded.
func (c *playbackClient) Play(ctx context.Context, pcm []byte) error {
	if c.device == nil {
		return fmt.Errorf("playback device not initialized")
	}

	pcm = stripRIFFHeader(pcm)
	if len(pcm) == 0 {
		return nil
	}

	done := make(chan struct{})
	c.audioMu.Lock()
	c.leftoverAudio = append(c.leftoverAudio, pcm...)
	c.marks = append(c.marks, playbackMark{
		remaining: len(c.leftoverAudio),
		callback:  func() { close(done) },
	})
	c.audioMu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.ClearBuffer()
		return ctx.Err()
	}
}

// ClearBuffer drops any audio not yet consumed by the device, along with the
// marks waiting on it.
func (c *playbackClient) ClearBuffer() {
	c.audioMu.Lock()
	c.leftoverAudio = nil
	c.marks = nil
	c.audioMu.Unlock()
}

func (c *playbackClient) Uninit() error {
	c.ClearBuffer()
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	return nil
}

// stripRIFFHeader skips a WAV container header when the synthesis service
// wraps its PCM output in one.
func stripRIFFHeader(data []byte) []byte {
	if len(data) < 44 || !bytes.HasPrefix(data, []byte("RIFF")) {
		return data
	}
	if idx := bytes.Index(data, []byte("data")); idx >= 0 && idx+8 <= len(data) {
		return data[idx+8:]
	}
	return data[44:]
}
