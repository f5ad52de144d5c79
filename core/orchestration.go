// Package orchestration coordinates one conversation turn of the voice
// assistant: capture, transcription, a streamed chat reply, per-sentence
// speech synthesis and strictly ordered playback.
//
// The orchestrator is the single owner of conversation state. Every
// asynchronous completion (transcription, chat chunks, synthesis results,
// queue drain) carries the turn token that was active when it was started
// and is discarded without side effects if that token has been superseded.
package orchestration

import (
	"context"
	"sync"
	"time"

	"github.com/gideontalk/talk-core/core/llms"
	"github.com/gideontalk/talk-core/core/speechtotext"
	"github.com/gideontalk/talk-core/core/texttospeech"
	"github.com/google/uuid"
)

const defaultRelistenDelay = 1 * time.Second

var (
	turnsStarted, _ = meter.Int64Counter("gideontalk.turns.started")
	turnsFailed, _  = meter.Int64Counter("gideontalk.turns.failed")
)

type Orchestrator struct {
	mu          sync.Mutex
	state       State
	errMessage  string
	transcript  string
	response    string
	activeToken string

	history      *history
	chat         LLM
	speechToText SpeechToText
	textToSpeech TextToSpeech
	audioInput   *audioInput
	playback     *playbackQueue

	continuousMode       bool
	relistenDelay        time.Duration
	synthesisOptions     []texttospeech.SynthesisOption
	transcriptionOptions []speechtotext.TranscriptionOption

	callbacks   OrchestrateOptions
	baseContext context.Context
	closeOnce   sync.Once

	// notifyMu serializes state-change deliveries so observers never see
	// snapshots regress across rapid transitions.
	notifyMu sync.Mutex
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		state:         StateIdle,
		history:       newHistory(defaultHistoryLimit),
		audioInput:    newAudioInput(nil),
		playback:      newPlaybackQueue(nil, defaultWarmUpDelay),
		relistenDelay: defaultRelistenDelay,
		baseContext:   context.Background(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Orchestrate attaches observer callbacks and the base context for all turn
// work. Call it once, before the first intent.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) {
	o.baseContext = ctx
	o.callbacks = OrchestrateOptions{}
	for _, opt := range opts {
		opt(&o.callbacks)
	}

	go func() {
		<-ctx.Done()
		o.Close()
	}()
}

// Close cancels any in-flight turn and stops locally controlled resources.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.CancelTurn()
	})
}

// Snapshot returns a point-in-time view of the observable state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		State:      o.state,
		Transcript: o.transcript,
		Response:   o.response,
		Err:        o.errMessage,
	}
}

// Toggle is the hotkey/menu intent. Idle (or errored) starts a turn,
// listening stops capture and processes it, thinking or speaking interrupts
// back to idle.
func (o *Orchestrator) Toggle() {
	o.mu.Lock()
	switch o.state {
	case StateIdle, StateError:
		o.beginTurnLocked()
		token := o.activeToken
		o.mu.Unlock()
		o.notifyState()
		o.startCapture(token)

	case StateListening:
		token := o.activeToken
		o.state = StateThinking
		o.mu.Unlock()
		o.notifyState()
		o.finishListening(token)

	default: // Thinking, Speaking
		o.invalidateLocked()
		o.mu.Unlock()
		o.notifyState()
		o.haltTurnResources()
	}
}

// CancelTurn forces idle from any state: the active token is invalidated
// first, then capture and playback are stopped synchronously. Superseded
// asynchronous results become silent no-ops.
func (o *Orchestrator) CancelTurn() {
	o.mu.Lock()
	o.invalidateLocked()
	o.mu.Unlock()
	o.notifyState()
	o.haltTurnResources()
}

// NewConversation cancels the current turn and clears the conversation
// history, transcript and response.
func (o *Orchestrator) NewConversation() {
	o.mu.Lock()
	o.invalidateLocked()
	o.transcript = ""
	o.response = ""
	o.mu.Unlock()
	o.history.Clear()
	o.notifyState()
	o.haltTurnResources()
}

// History returns a copy of the conversation history.
func (o *Orchestrator) History() []llms.Message {
	return o.history.Messages()
}

// UpdateSettings applies configuration options at runtime. The active turn,
// if any, keeps running; new values take effect from the next turn step that
// reads them.
func (o *Orchestrator) UpdateSettings(opts ...OrchestratorOption) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, opt := range opts {
		opt(o)
	}
}

// beginTurnLocked mints the new turn's token and resets per-turn state.
// Minting invalidates whatever token came before it.
func (o *Orchestrator) beginTurnLocked() {
	o.activeToken = uuid.NewString()
	o.state = StateListening
	o.transcript = ""
	o.response = ""
	o.errMessage = ""
	turnsStarted.Add(o.baseContext, 1)
}

func (o *Orchestrator) invalidateLocked() {
	o.activeToken = ""
	o.state = StateIdle
	o.errMessage = ""
}

// ifActive runs fn under the orchestrator lock only when token is still the
// active turn token. Stale callers get false and must not produce output.
func (o *Orchestrator) ifActive(token string, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if token == "" || token != o.activeToken {
		return false
	}
	fn()
	return true
}

func (o *Orchestrator) isActive(token string) bool {
	return o.ifActive(token, func() {})
}

// notifyState delivers the current snapshot to the state observer. The
// snapshot is taken inside the delivery window, so concurrent notifications
// hand out snapshots in the order they are delivered. The callback must not
// call intents synchronously.
func (o *Orchestrator) notifyState() {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	snapshot := o.snapshotLocked()
	callback := o.callbacks.onStateChange
	o.mu.Unlock()

	if callback != nil {
		callback(snapshot)
	}
}

// startCapture begins microphone capture for the turn guarded by token.
func (o *Orchestrator) startCapture(token string) {
	err := o.audioInput.Begin(
		o.baseContext,
		o.callbacks.onInputLevel,
		func() { o.silenceDetected(token) },
	)
	if err != nil {
		o.failTurn(token, err)
	}
}

// silenceDetected is the capture-side auto-stop signal: treated exactly like
// an explicit stop, but only if the turn is still listening.
func (o *Orchestrator) silenceDetected(token string) {
	o.mu.Lock()
	if token != o.activeToken || o.state != StateListening {
		o.mu.Unlock()
		return
	}
	o.state = StateThinking
	o.mu.Unlock()
	o.notifyState()
	o.finishListening(token)
}

// finishListening stops capture and hands the audio to turn processing.
func (o *Orchestrator) finishListening(token string) {
	captured, err := o.audioInput.End()
	if err != nil {
		logger.Warn("failed to stop capture device", "error", err)
	}
	go o.processTurn(o.baseContext, token, captured)
}

// failTurn moves the turn to the terminal Error state. Errors are surfaced
// until the next explicit start; stale failures are silent.
func (o *Orchestrator) failTurn(token string, err error) {
	if !o.ifActive(token, func() {
		o.state = StateError
		o.errMessage = err.Error()
	}) {
		return
	}
	turnsFailed.Add(o.baseContext, 1)
	logger.Error("turn failed", "error", err)
	o.notifyState()
	o.playback.Stop()
}

// finishTurn runs when the playback queue drains. The turn token stays
// active so the continuous-mode re-listen can verify nothing superseded it
// during the delay.
func (o *Orchestrator) finishTurn(token string) {
	relisten := false
	if !o.ifActive(token, func() {
		o.state = StateIdle
		relisten = o.continuousMode
	}) {
		return
	}
	o.notifyState()
	if relisten {
		go o.relisten(token)
	}
}

// markSpeaking transitions Thinking → Speaking the moment the first audio
// segment is ready, even while chat generation continues.
func (o *Orchestrator) markSpeaking(token string) {
	changed := false
	o.ifActive(token, func() {
		if o.state == StateThinking {
			o.state = StateSpeaking
			changed = true
		}
	})
	if changed {
		o.notifyState()
	}
}

// relisten re-enters listening after a normal turn completion in continuous
// mode. The restart is abandoned silently if the token was superseded or the
// state moved off Idle during the delay.
func (o *Orchestrator) relisten(token string) {
	time.Sleep(o.relistenDelay)

	o.mu.Lock()
	if token != o.activeToken || o.state != StateIdle || !o.continuousMode {
		o.mu.Unlock()
		return
	}
	o.beginTurnLocked()
	newToken := o.activeToken
	o.mu.Unlock()
	o.notifyState()
	o.startCapture(newToken)
}

// haltTurnResources synchronously stops the locally controlled resources.
// In-flight network calls are not aborted; their results die on the token
// check instead.
func (o *Orchestrator) haltTurnResources() {
	o.audioInput.Abort()
	o.playback.Stop()
}
