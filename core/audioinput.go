package orchestration

import (
	"context"
	"sync"
	"time"

	"github.com/gideontalk/talk-core/core/audio"
)

const (
	// defaultSilenceThresholdDB is the energy floor below which a frame
	// counts as silence.
	defaultSilenceThresholdDB = -40.0
	defaultSilenceTimeout     = 2 * time.Second
)

// audioInput wraps a capture device and owns everything the orchestrator
// needs from the microphone: buffering the captured PCM for transcription,
// level telemetry for UI meters, and the prolonged-low-energy auto-stop
// signal. Devices stay dumb frame sources.
type audioInput struct {
	device AudioInput

	silenceThresholdDB float64
	silenceTimeout     time.Duration

	mu           sync.Mutex
	capturing    bool
	buffer       []byte
	silenceStart time.Time
	autoStopped  bool
	onLevel      func(float64)
	onSilence    func()
}

func newAudioInput(device AudioInput) *audioInput {
	return &audioInput{
		device:             device,
		silenceThresholdDB: defaultSilenceThresholdDB,
		silenceTimeout:     defaultSilenceTimeout,
	}
}

// Begin clears the capture buffer and starts the device. onLevel receives a
// normalized [0,1] level per frame; onSilence fires once per capture session
// when energy stays below the threshold for the configured timeout.
func (a *audioInput) Begin(ctx context.Context, onLevel func(float64), onSilence func()) error {
	a.mu.Lock()
	a.capturing = true
	a.buffer = nil
	a.silenceStart = time.Time{}
	a.autoStopped = false
	a.onLevel = onLevel
	a.onSilence = onSilence
	a.mu.Unlock()

	if a.device == nil {
		return nil
	}
	return a.device.StartCapture(ctx, a.consume)
}

// End stops the device and returns everything captured since Begin.
func (a *audioInput) End() ([]byte, error) {
	var err error
	if a.device != nil {
		err = a.device.StopCapture()
	}

	a.mu.Lock()
	captured := a.buffer
	a.buffer = nil
	a.capturing = false
	a.onLevel = nil
	a.onSilence = nil
	a.mu.Unlock()

	return captured, err
}

// Abort stops the device and discards the buffer; used on interruption.
func (a *audioInput) Abort() {
	if a.device != nil {
		if err := a.device.StopCapture(); err != nil {
			logger.Warn("failed to stop capture device", "error", err)
		}
	}

	a.mu.Lock()
	a.buffer = nil
	a.capturing = false
	a.onLevel = nil
	a.onSilence = nil
	a.mu.Unlock()
}

// consume is the device frame callback. Frames are appended to the capture
// buffer and folded into level and silence tracking.
func (a *audioInput) consume(frame []byte) {
	rms := audio.RMS(frame)
	db := audio.Decibels(rms)

	a.mu.Lock()
	if !a.capturing {
		a.mu.Unlock()
		return
	}
	a.buffer = append(a.buffer, frame...)
	onLevel := a.onLevel

	var onSilence func()
	if a.silenceTimeout > 0 {
		if db < a.silenceThresholdDB {
			now := time.Now()
			if a.silenceStart.IsZero() {
				a.silenceStart = now
			} else if !a.autoStopped && now.Sub(a.silenceStart) >= a.silenceTimeout {
				a.autoStopped = true
				onSilence = a.onSilence
			}
		} else {
			a.silenceStart = time.Time{}
		}
	}
	a.mu.Unlock()

	if onLevel != nil {
		onLevel(audio.NormalizeLevel(db))
	}
	if onSilence != nil {
		// run off the device callback goroutine so stopping the device
		// cannot deadlock against its own data callback
		go onSilence()
	}
}
