package orchestration

import (
	"context"
	"time"

	"github.com/gideontalk/talk-core/core/llms"
	"github.com/gideontalk/talk-core/core/speechtotext"
	"github.com/gideontalk/talk-core/core/texttospeech"
)

type OrchestratorOption func(*Orchestrator)

// LLM is the marker for chat service clients. A usable client implements
// LLMWithStream, LLMWithPrompt or both; when both are available the stream
// is preferred and the one-shot call serves as the fallback path.
type LLM interface{}

type LLMWithStream interface {
	PromptWithStream(ctx context.Context, opts ...llms.PromptOption) llms.Stream
}

type LLMWithPrompt interface {
	Prompt(ctx context.Context, opts ...llms.PromptOption) (string, error)
}

func WithChatClient(client LLM) OrchestratorOption {
	return func(o *Orchestrator) { o.chat = client }
}

type SpeechToText interface {
	Transcribe(ctx context.Context, pcm []byte, opts ...speechtotext.TranscriptionOption) (string, error)
}

func WithSpeechToTextClient(client SpeechToText) OrchestratorOption {
	return func(o *Orchestrator) { o.speechToText = client }
}

type TextToSpeech interface {
	Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error)
}

func WithTextToSpeechClient(client TextToSpeech) OrchestratorOption {
	return func(o *Orchestrator) { o.textToSpeech = client }
}

// AudioInput is the capture device contract: a dumb frame source.
type AudioInput interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

func WithAudioInput(device AudioInput) OrchestratorOption {
	return func(o *Orchestrator) { o.audioInput.device = device }
}

// AudioOutput is the playback device contract. Play blocks until the audio
// has played to completion or ctx is cancelled.
type AudioOutput interface {
	Play(ctx context.Context, audio []byte) error
}

func WithAudioOutput(device AudioOutput) OrchestratorOption {
	return func(o *Orchestrator) { o.playback.output = device }
}

// WithContinuousMode re-enters listening after a turn completes normally,
// waiting delay before capture restarts.
func WithContinuousMode(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.continuousMode = true
		if delay > 0 {
			o.relistenDelay = delay
		}
	}
}

// WithoutContinuousMode turns automatic re-listening off, including a
// re-listen delay already in flight.
func WithoutContinuousMode() OrchestratorOption {
	return func(o *Orchestrator) { o.continuousMode = false }
}

// WithSilenceDetection tunes the capture auto-stop: thresholdDB is the
// energy floor, timeout how long energy must stay below it. A zero timeout
// disables auto-stop.
func WithSilenceDetection(thresholdDB float64, timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if thresholdDB != 0 {
			o.audioInput.silenceThresholdDB = thresholdDB
		}
		o.audioInput.silenceTimeout = timeout
	}
}

func WithPlaybackWarmUp(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.playback.warmUp = delay }
}

func WithHistoryLimit(limit int) OrchestratorOption {
	return func(o *Orchestrator) { o.history.SetLimit(limit) }
}

// WithSynthesisOptions forwards options (speed, voice) to every synthesis
// call.
func WithSynthesisOptions(opts ...texttospeech.SynthesisOption) OrchestratorOption {
	return func(o *Orchestrator) { o.synthesisOptions = opts }
}

// WithTranscriptionOptions forwards options to every transcription call.
func WithTranscriptionOptions(opts ...speechtotext.TranscriptionOption) OrchestratorOption {
	return func(o *Orchestrator) { o.transcriptionOptions = opts }
}

type OrchestrateOptions struct {
	onStateChange func(Snapshot)
	onTranscript  func(string)
	onResponse    func(string)
	onInputLevel  func(float64)
}

type OrchestrateOption func(*OrchestrateOptions)

// OnStateChange is invoked after every observable state mutation with a
// fresh snapshot.
func OnStateChange(callback func(Snapshot)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onStateChange = callback }
}

// OnTranscript is invoked once per turn with the user transcript.
func OnTranscript(callback func(string)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onTranscript = callback }
}

// OnResponse is invoked with the running assistant reply as it streams in,
// and once with the full reply on the non-streaming path.
func OnResponse(callback func(string)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onResponse = callback }
}

// OnInputLevel receives normalized microphone levels while listening.
// UI-only telemetry; never used by orchestration logic.
func OnInputLevel(callback func(float64)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onInputLevel = callback }
}
