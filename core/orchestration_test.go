package orchestration

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gideontalk/talk-core/core/llms"
	"github.com/gideontalk/talk-core/core/speechtotext"
	"github.com/gideontalk/talk-core/core/texttospeech"
)

type fakeAudioInput struct {
	mu      sync.Mutex
	onAudio func([]byte)
	starts  atomic.Int32
	stops   atomic.Int32
}

func (f *fakeAudioInput) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	f.mu.Lock()
	f.onAudio = onAudio
	f.mu.Unlock()
	f.starts.Add(1)
	return nil
}

func (f *fakeAudioInput) StopCapture() error {
	f.mu.Lock()
	f.onAudio = nil
	f.mu.Unlock()
	f.stops.Add(1)
	return nil
}

func (f *fakeAudioInput) feed(frame []byte) {
	f.mu.Lock()
	onAudio := f.onAudio
	f.mu.Unlock()
	if onAudio != nil {
		onAudio(frame)
	}
}

type fakeSpeechToText struct {
	transcript string
	err        error
	calls      atomic.Int32
}

func (f *fakeSpeechToText) Transcribe(ctx context.Context, pcm []byte, opts ...speechtotext.TranscriptionOption) (string, error) {
	f.calls.Add(1)
	return f.transcript, f.err
}

type fakeTextToSpeech struct {
	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
	err     error
	calls   atomic.Int32
}

func (f *fakeTextToSpeech) Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if release != nil {
		<-release
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte(text), nil
}

type scriptedStream struct {
	chunks []string
	err    error
}

func (s scriptedStream) Chunks(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, chunk := range s.chunks {
			if !yield(chunk, nil) {
				return
			}
		}
		if s.err != nil {
			yield("", s.err)
		}
	}
}

// gatedStream yields its chunks and then parks until gate is closed,
// keeping the turn's chat driver in flight.
type gatedStream struct {
	chunks []string
	gate   chan struct{}
}

func (s gatedStream) Chunks(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, chunk := range s.chunks {
			if !yield(chunk, nil) {
				return
			}
		}
		<-s.gate
	}
}

// sequencedChat hands out a scripted stream per turn.
type sequencedChat struct {
	mu      sync.Mutex
	streams []llms.Stream
}

func (f *sequencedChat) PromptWithStream(ctx context.Context, opts ...llms.PromptOption) llms.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	stream := f.streams[0]
	if len(f.streams) > 1 {
		f.streams = f.streams[1:]
	}
	return stream
}

type fakeChat struct {
	chunks    []string
	streamErr error

	reply       string
	promptErr   error
	promptCalls atomic.Int32

	promptOnly bool
}

func (f *fakeChat) PromptWithStream(ctx context.Context, opts ...llms.PromptOption) llms.Stream {
	return scriptedStream{chunks: f.chunks, err: f.streamErr}
}

func (f *fakeChat) Prompt(ctx context.Context, opts ...llms.PromptOption) (string, error) {
	f.promptCalls.Add(1)
	return f.reply, f.promptErr
}

// promptOnlyChat exposes just the one-shot completion path.
type promptOnlyChat struct {
	reply string
	calls atomic.Int32
}

func (f *promptOnlyChat) Prompt(ctx context.Context, opts ...llms.PromptOption) (string, error) {
	f.calls.Add(1)
	return f.reply, nil
}

func newTestOrchestrator(t *testing.T, extra ...OrchestratorOption) (*Orchestrator, *fakeAudioInput, *fakeAudioOutput) {
	t.Helper()
	input := &fakeAudioInput{}
	output := newFakeAudioOutput()

	opts := append([]OrchestratorOption{
		WithAudioInput(input),
		WithAudioOutput(output),
		WithPlaybackWarmUp(0),
		WithSilenceDetection(-40, 0),
	}, extra...)

	o := NewOrchestrator(opts...)
	t.Cleanup(o.Close)
	return o, input, output
}

func waitForState(t *testing.T, o *Orchestrator, state State) {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool { return o.Snapshot().State == state })
}

func TestFullStreamingTurn(t *testing.T) {
	chat := &fakeChat{chunks: []string{"Hello there. ", "How are", " you? ", "Good."}}
	stt := &fakeSpeechToText{transcript: "hi gideon"}
	tts := &fakeTextToSpeech{}

	o, input, output := newTestOrchestrator(t,
		WithChatClient(chat),
		WithSpeechToTextClient(stt),
		WithTextToSpeechClient(tts),
	)
	o.Orchestrate(context.Background())

	o.Toggle()
	if got := o.Snapshot().State; got != StateListening {
		t.Fatalf("expected listening after toggle, got %v", got)
	}

	input.feed([]byte{1, 2, 3, 4})
	o.Toggle()
	waitForState(t, o, StateIdle)

	snapshot := o.Snapshot()
	if snapshot.Transcript != "hi gideon" {
		t.Fatalf("expected transcript %q, got %q", "hi gideon", snapshot.Transcript)
	}
	if snapshot.Response != "Hello there. How are you? Good." {
		t.Fatalf("unexpected response %q", snapshot.Response)
	}

	history := o.History()
	if len(history) != 2 {
		t.Fatalf("expected user and assistant history entries, got %d", len(history))
	}
	if history[0].Role != llms.MessageRoleUser || history[0].Content != "hi gideon" {
		t.Fatalf("unexpected user history entry %+v", history[0])
	}
	if history[1].Role != llms.MessageRoleAssistant || history[1].Content != "Hello there. How are you? Good." {
		t.Fatalf("unexpected assistant history entry %+v", history[1])
	}

	played := output.playedAudio()
	expected := []string{"Hello there.", "How are you?", "Good."}
	if len(played) != len(expected) {
		t.Fatalf("expected %d played segments, got %v", len(expected), played)
	}
	for i, sentence := range expected {
		if played[i] != sentence {
			t.Fatalf("expected segment %d to be %q, got %q", i, sentence, played[i])
		}
	}

	if got := input.stops.Load(); got < 1 {
		t.Fatalf("expected capture stopped, stops=%d", got)
	}
}

func TestEmptyCaptureSkipsTranscription(t *testing.T) {
	stt := &fakeSpeechToText{transcript: "never"}
	o, _, _ := newTestOrchestrator(t,
		WithChatClient(&fakeChat{chunks: []string{"hi"}}),
		WithSpeechToTextClient(stt),
		WithTextToSpeechClient(&fakeTextToSpeech{}),
	)
	o.Orchestrate(context.Background())

	o.Toggle()
	o.Toggle()
	waitForState(t, o, StateIdle)

	if got := stt.calls.Load(); got != 0 {
		t.Fatalf("expected no transcription for empty capture, got %d calls", got)
	}
	if len(o.History()) != 0 {
		t.Fatalf("expected no history entries, got %v", o.History())
	}
}

func TestTranscriptionFailureEntersErrorState(t *testing.T) {
	stt := &fakeSpeechToText{err: errors.New("service down")}
	o, input, _ := newTestOrchestrator(t,
		WithChatClient(&fakeChat{chunks: []string{"hi"}}),
		WithSpeechToTextClient(stt),
		WithTextToSpeechClient(&fakeTextToSpeech{}),
	)
	o.Orchestrate(context.Background())

	o.Toggle()
	input.feed([]byte{1, 2})
	o.Toggle()
	waitForState(t, o, StateError)

	snapshot := o.Snapshot()
	if !strings.Contains(snapshot.Err, "transcription failed") {
		t.Fatalf("expected transcription failure surfaced, got %q", snapshot.Err)
	}

	// a new toggle starts a fresh turn from the error state
	o.Toggle()
	if got := o.Snapshot().State; got != StateListening {
		t.Fatalf("expected listening after toggle from error, got %v", got)
	}
	if got := o.Snapshot().Err; got != "" {
		t.Fatalf("expected error cleared on new turn, got %q", got)
	}
}

func TestInterruptionDropsLateResults(t *testing.T) {
	chat := &fakeChat{chunks: []string{"One. ", "Two."}}
	tts := &fakeTextToSpeech{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	o, input, output := newTestOrchestrator(t,
		WithChatClient(chat),
		WithSpeechToTextClient(&fakeSpeechToText{transcript: "hello"}),
		WithTextToSpeechClient(tts),
	)
	o.Orchestrate(context.Background())

	o.Toggle()
	input.feed([]byte{1, 2})
	o.Toggle()
	<-tts.started

	// interrupt while synthesis is still in flight
	o.Toggle()
	if got := o.Snapshot().State; got != StateIdle {
		t.Fatalf("expected idle after interrupt, got %v", got)
	}

	close(tts.release)
	waitFor(t, 2*time.Second, func() bool {
		return len(o.History()) == 1
	})

	time.Sleep(50 * time.Millisecond)
	if played := output.playedAudio(); len(played) != 0 {
		t.Fatalf("expected no audio from superseded turn, played %v", played)
	}
	history := o.History()
	if len(history) != 1 || history[0].Role != llms.MessageRoleUser {
		t.Fatalf("expected only the user message to survive interruption, got %v", history)
	}
	if got := o.Snapshot().State; got != StateIdle {
		t.Fatalf("expected state to stay idle after stale results, got %v", got)
	}
}

func TestStaleTurnWindDownLeavesSuccessorPlaybackAlone(t *testing.T) {
	gate := make(chan struct{})
	chat := &sequencedChat{streams: []llms.Stream{
		gatedStream{chunks: []string{"A one. "}, gate: gate},
		scriptedStream{chunks: []string{"B one. B two. B three."}},
	}}
	o, input, output := newTestOrchestrator(t,
		WithChatClient(chat),
		WithSpeechToTextClient(&fakeSpeechToText{transcript: "hello"}),
		WithTextToSpeechClient(&fakeTextToSpeech{}),
	)
	o.Orchestrate(context.Background())

	// first turn plays its one sentence, then its stream stays in flight
	o.Toggle()
	input.feed([]byte{1, 2})
	o.Toggle()
	waitFor(t, 2*time.Second, func() bool {
		return len(output.playedAudio()) == 1
	})
	waitForState(t, o, StateSpeaking)

	// interrupt it and start a second turn whose playback we hold open
	o.Toggle()
	output.mu.Lock()
	output.started = make(chan struct{}, 8)
	output.release = make(chan struct{})
	output.mu.Unlock()

	o.Toggle()
	input.feed([]byte{3, 4})
	o.Toggle()
	<-output.started
	if got := o.Snapshot().State; got != StateSpeaking {
		t.Fatalf("expected second turn speaking, got %v", got)
	}

	// now let the first turn's parked stream wind down while the second
	// turn is mid-playback
	close(gate)
	time.Sleep(100 * time.Millisecond)

	output.mu.Lock()
	release := output.release
	output.release = nil
	output.mu.Unlock()
	close(release)

	waitForState(t, o, StateIdle)

	played := output.playedAudio()
	expected := []string{"A one.", "B one.", "B two.", "B three."}
	if len(played) != len(expected) {
		t.Fatalf("expected the second turn's segments to survive the stale wind-down, got %v", played)
	}
	for i, sentence := range expected {
		if played[i] != sentence {
			t.Fatalf("expected segment %d to be %q, got %q", i, sentence, played[i])
		}
	}
}

func TestCancelTurnWhileListening(t *testing.T) {
	stt := &fakeSpeechToText{transcript: "never"}
	o, input, _ := newTestOrchestrator(t,
		WithChatClient(&fakeChat{chunks: []string{"hi"}}),
		WithSpeechToTextClient(stt),
		WithTextToSpeechClient(&fakeTextToSpeech{}),
	)
	o.Orchestrate(context.Background())

	o.Toggle()
	input.feed([]byte{1, 2})
	o.CancelTurn()

	if got := o.Snapshot().State; got != StateIdle {
		t.Fatalf("expected idle after cancel, got %v", got)
	}
	time.Sleep(50 * time.Millisecond)
	if got := stt.calls.Load(); got != 0 {
		t.Fatalf("expected discarded capture not transcribed, got %d calls", got)
	}
	if got := input.stops.Load(); got < 1 {
		t.Fatalf("expected capture device stopped on cancel, stops=%d", got)
	}
}

func TestStreamFailureBeforeAudioFallsBackToPrompt(t *testing.T) {
	chat := &fakeChat{
		streamErr: errors.New("stream broken"),
		reply:     "Fallback reply.",
	}
	o, input, output := newTestOrchestrator(t,
		WithChatClient(chat),
		WithSpeechToTextClient(&fakeSpeechToText{transcript: "hello"}),
		WithTextToSpeechClient(&fakeTextToSpeech{}),
	)
	o.Orchestrate(context.Background())

	o.Toggle()
	input.feed([]byte{1, 2})
	o.Toggle()
	waitForState(t, o, StateIdle)

	if got := chat.promptCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one fallback completion, got %d", got)
	}
	if got := o.Snapshot().Response; got != "Fallback reply." {
		t.Fatalf("expected fallback response, got %q", got)
	}

	history := o.History()
	if len(history) != 2 {
		t.Fatalf("expected one user and one assistant entry after fallback, got %v", history)
	}
	if history[1].Content != "Fallback reply." {
		t.Fatalf("expected assistant entry from fallback, got %q", history[1].Content)
	}

	played := output.playedAudio()
	if len(played) != 1 || played[0] != "Fallback reply." {
		t.Fatalf("expected the fallback reply synthesized once, got %v", played)
	}
}

func TestStreamFailureAfterSentencesKeepsPartialReply(t *testing.T) {
	chat := &fakeChat{
		chunks:    []string{"First part. "},
		streamErr: errors.New("stream broken mid-reply"),
		reply:     "should not be used",
	}
	o, input, output := newTestOrchestrator(t,
		WithChatClient(chat),
		WithSpeechToTextClient(&fakeSpeechToText{transcript: "hello"}),
		WithTextToSpeechClient(&fakeTextToSpeech{}),
	)
	o.Orchestrate(context.Background())

	o.Toggle()
	input.feed([]byte{1, 2})
	o.Toggle()
	waitForState(t, o, StateIdle)

	if got := chat.promptCalls.Load(); got != 0 {
		t.Fatalf("expected no fallback after partial streaming success, got %d calls", got)
	}
	if got := o.Snapshot().Response; got != "First part. " {
		t.Fatalf("expected partial reply kept, got %q", got)
	}
	if played := output.playedAudio(); len(played) != 1 || played[0] != "First part." {
		t.Fatalf("expected the partial sentence played, got %v", played)
	}
}

func TestPromptOnlyClientUsesFallbackPath(t *testing.T) {
	chat := &promptOnlyChat{reply: "Plain reply."}
	o, input, output := newTestOrchestrator(t,
		WithChatClient(chat),
		WithSpeechToTextClient(&fakeSpeechToText{transcript: "hello"}),
		WithTextToSpeechClient(&fakeTextToSpeech{}),
	)
	o.Orchestrate(context.Background())

	o.Toggle()
	input.feed([]byte{1, 2})
	o.Toggle()
	waitForState(t, o, StateIdle)

	if got := chat.calls.Load(); got != 1 {
		t.Fatalf("expected one completion call, got %d", got)
	}
	if played := output.playedAudio(); len(played) != 1 || played[0] != "Plain reply." {
		t.Fatalf("expected reply synthesized as a single segment, got %v", played)
	}
}

func TestContinuousModeRelistensAfterTurn(t *testing.T) {
	o, input, _ := newTestOrchestrator(t,
		WithChatClient(&fakeChat{chunks: []string{"Sure."}}),
		WithSpeechToTextClient(&fakeSpeechToText{transcript: "hello"}),
		WithTextToSpeechClient(&fakeTextToSpeech{}),
		WithContinuousMode(10*time.Millisecond),
	)
	o.Orchestrate(context.Background())

	o.Toggle()
	input.feed([]byte{1, 2})
	o.Toggle()

	waitForState(t, o, StateListening)
	if got := input.starts.Load(); got < 2 {
		t.Fatalf("expected capture restarted in continuous mode, starts=%d", got)
	}

	// cancelling during re-listen abandons the loop
	o.CancelTurn()
	time.Sleep(50 * time.Millisecond)
	if got := o.Snapshot().State; got != StateIdle {
		t.Fatalf("expected idle after cancel, got %v", got)
	}
}

func TestContinuousModeRelistenAbandonedWhenSuperseded(t *testing.T) {
	o, input, _ := newTestOrchestrator(t,
		WithChatClient(&fakeChat{chunks: []string{"Sure."}}),
		WithSpeechToTextClient(&fakeSpeechToText{transcript: "hello"}),
		WithTextToSpeechClient(&fakeTextToSpeech{}),
		WithContinuousMode(80*time.Millisecond),
	)
	o.Orchestrate(context.Background())

	o.Toggle()
	input.feed([]byte{1, 2})
	o.Toggle()
	waitForState(t, o, StateIdle)

	// a manual toggle during the re-listen delay supersedes the old token
	o.Toggle()
	if got := o.Snapshot().State; got != StateListening {
		t.Fatalf("expected manual turn to start, got %v", got)
	}
	startsBefore := input.starts.Load()

	time.Sleep(150 * time.Millisecond)
	if got := o.Snapshot().State; got != StateListening {
		t.Fatalf("expected stale re-listen not to disturb the manual turn, got %v", got)
	}
	if got := input.starts.Load(); got != startsBefore {
		t.Fatalf("expected no extra capture start from the stale re-listen, got %d (was %d)", got, startsBefore)
	}
}

func TestNewConversationClearsHistoryAndState(t *testing.T) {
	o, input, _ := newTestOrchestrator(t,
		WithChatClient(&fakeChat{chunks: []string{"Sure."}}),
		WithSpeechToTextClient(&fakeSpeechToText{transcript: "hello"}),
		WithTextToSpeechClient(&fakeTextToSpeech{}),
	)
	o.Orchestrate(context.Background())

	o.Toggle()
	input.feed([]byte{1, 2})
	o.Toggle()
	waitForState(t, o, StateIdle)
	if len(o.History()) == 0 {
		t.Fatalf("expected history before new conversation")
	}

	o.NewConversation()

	if len(o.History()) != 0 {
		t.Fatalf("expected history cleared, got %v", o.History())
	}
	snapshot := o.Snapshot()
	if snapshot.Transcript != "" || snapshot.Response != "" {
		t.Fatalf("expected transcript and response cleared, got %+v", snapshot)
	}
	if snapshot.State != StateIdle {
		t.Fatalf("expected idle after new conversation, got %v", snapshot.State)
	}
}

func TestUpdateSettingsTakesEffectOnNextTurn(t *testing.T) {
	o, input, _ := newTestOrchestrator(t,
		WithChatClient(&fakeChat{chunks: []string{"Sure."}}),
		WithSpeechToTextClient(&fakeSpeechToText{transcript: "hello"}),
		WithTextToSpeechClient(&fakeTextToSpeech{}),
	)
	o.Orchestrate(context.Background())

	o.UpdateSettings(WithContinuousMode(10 * time.Millisecond))

	o.Toggle()
	input.feed([]byte{1, 2})
	o.Toggle()

	waitForState(t, o, StateListening)
	if got := input.starts.Load(); got < 2 {
		t.Fatalf("expected continuous mode active after settings update, starts=%d", got)
	}
	o.CancelTurn()
}

func TestStateNotificationsNeverRegress(t *testing.T) {
	o, _, _ := newTestOrchestrator(t,
		WithChatClient(&fakeChat{chunks: []string{"Sure."}}),
		WithSpeechToTextClient(&fakeSpeechToText{transcript: "hello"}),
		WithTextToSpeechClient(&fakeTextToSpeech{}),
	)

	var mu sync.Mutex
	var seen []State
	o.Orchestrate(context.Background(), OnStateChange(func(snapshot Snapshot) {
		mu.Lock()
		seen = append(seen, snapshot.State)
		mu.Unlock()
	}))

	// hammer transitions from several goroutines so notifications overlap
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				o.Toggle()
				o.CancelTurn()
			}
		}()
	}
	wg.Wait()

	// let straggling turn goroutines settle, then make one final transition
	time.Sleep(100 * time.Millisecond)
	o.CancelTurn()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatalf("expected state notifications")
	}
	if last := seen[len(seen)-1]; last != o.Snapshot().State {
		t.Fatalf("expected the last delivered snapshot to match the current state %v, got %v",
			o.Snapshot().State, last)
	}
}

func TestSynthesisFailureDoesNotStallTheTurn(t *testing.T) {
	tts := &fakeTextToSpeech{err: errors.New("synthesis down")}
	o, input, output := newTestOrchestrator(t,
		WithChatClient(&fakeChat{chunks: []string{"One. Two. Three."}}),
		WithSpeechToTextClient(&fakeSpeechToText{transcript: "hello"}),
		WithTextToSpeechClient(tts),
	)
	o.Orchestrate(context.Background())

	o.Toggle()
	input.feed([]byte{1, 2})
	o.Toggle()
	waitForState(t, o, StateIdle)

	// every sentence failed synthesis, the turn still completes with text
	if got := o.Snapshot().Response; got != "One. Two. Three." {
		t.Fatalf("expected full text response despite synthesis failures, got %q", got)
	}
	if played := output.playedAudio(); len(played) != 0 {
		t.Fatalf("expected nothing played, got %v", played)
	}
	if len(o.History()) != 2 {
		t.Fatalf("expected completed turn history, got %v", o.History())
	}
}
