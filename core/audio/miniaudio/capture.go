package miniaudio

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gen2brain/malgo"
)

type captureClient struct {
	device *malgo.Device

	mu      sync.Mutex
	onAudio func([]byte)
	active  bool
}

func (c *captureClient) Init(audioCtx *malgo.AllocatedContext) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = 16000
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(audioCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, pSample []byte, framecount uint32) {
			c.mu.Lock()
			onAudio := c.onAudio
			active := c.active
			c.mu.Unlock()

			if !active || onAudio == nil {
				return
			}

			frame := make([]byte, len(pSample))
			copy(frame, pSample)
			onAudio(frame)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	c.device = device
	return nil
}

// StartCapture begins streaming microphone frames to onAudio. Frames keep
// flowing until StopCapture is called or ctx is cancelled.
func (c *captureClient) StartCapture(ctx context.Context, onAudio func([]byte)) error {
	if c.device == nil {
		return fmt.Errorf("capture device not initialized")
	}

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return fmt.Errorf("capture already in progress")
	}
	c.onAudio = onAudio
	c.active = true
	c.mu.Unlock()

	if err := c.device.Start(); err != nil {
		c.mu.Lock()
		c.active = false
		c.onAudio = nil
		c.mu.Unlock()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			if err := c.StopCapture(); err != nil {
				log.Printf("Failed to stop capture device: %v", err)
			}
		}()
	}

	return nil
}

func (c *captureClient) StopCapture() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = false
	c.onAudio = nil
	c.mu.Unlock()

	if c.device != nil {
		if err := c.device.Stop(); err != nil {
			return fmt.Errorf("failed to stop capture device: %w", err)
		}
	}
	return nil
}

func (c *captureClient) Uninit() error {
	err := c.StopCapture()
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	return err
}
