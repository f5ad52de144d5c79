package overlay

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	core "github.com/gideontalk/talk-core/core"
)

func snapshotForTest() core.Snapshot {
	return core.Snapshot{State: core.StateListening, Transcript: "hello"}
}

type fakeController struct {
	mu       sync.Mutex
	toggles  int
	applied  []string
	applyErr error
}

func (f *fakeController) Toggle() {
	f.mu.Lock()
	f.toggles++
	f.mu.Unlock()
}

func (f *fakeController) CancelTurn()      {}
func (f *fakeController) NewConversation() {}

func (f *fakeController) ApplySettings(settings json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, string(settings))
	return f.applyErr
}

func dialOverlay(t *testing.T, controller Controller) (*websocket.Conn, func()) {
	t.Helper()
	server := NewServer("127.0.0.1:0", controller)
	testServer := httptest.NewServer(server.httpServer.Handler)

	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		testServer.Close()
		t.Fatalf("failed to dial overlay websocket: %v", err)
	}
	return conn, func() {
		conn.Close()
		testServer.Close()
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestSettingsIntentReachesController(t *testing.T) {
	controller := &fakeController{}
	conn, cleanup := dialOverlay(t, controller)
	defer cleanup()

	payload := `{"type":"settings","settings":{"continuousMode":true,"synthesisSpeed":1.25}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("failed to send settings intent: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		controller.mu.Lock()
		defer controller.mu.Unlock()
		return len(controller.applied) == 1
	})

	controller.mu.Lock()
	defer controller.mu.Unlock()
	var decoded struct {
		ContinuousMode bool    `json:"continuousMode"`
		SynthesisSpeed float64 `json:"synthesisSpeed"`
	}
	if err := json.Unmarshal([]byte(controller.applied[0]), &decoded); err != nil {
		t.Fatalf("controller received malformed settings object: %v", err)
	}
	if !decoded.ContinuousMode || decoded.SynthesisSpeed != 1.25 {
		t.Fatalf("unexpected settings payload %q", controller.applied[0])
	}
}

func TestSettingsIntentWithoutPayloadIsIgnored(t *testing.T) {
	controller := &fakeController{}
	conn, cleanup := dialOverlay(t, controller)
	defer cleanup()

	messages := []string{
		`{"type":"settings"}`,
		`{"type":"toggle"}`,
	}
	for _, message := range messages {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
			t.Fatalf("failed to send intent: %v", err)
		}
	}

	// the toggle after the empty settings intent proves the read loop survived
	waitFor(t, 2*time.Second, func() bool {
		controller.mu.Lock()
		defer controller.mu.Unlock()
		return controller.toggles == 1
	})

	controller.mu.Lock()
	defer controller.mu.Unlock()
	if len(controller.applied) != 0 {
		t.Fatalf("expected empty settings intent dropped, controller got %v", controller.applied)
	}
}

func TestIntentDispatchAndStateReplay(t *testing.T) {
	controller := &fakeController{}
	server := NewServer("127.0.0.1:0", controller)
	testServer := httptest.NewServer(server.httpServer.Handler)
	defer testServer.Close()

	server.PublishState(snapshotForTest())

	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial overlay websocket: %v", err)
	}
	defer conn.Close()

	// a late joiner gets the last published state first
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected replayed state message, got %v", err)
	}
	var state stateMessage
	if err := json.Unmarshal(payload, &state); err != nil {
		t.Fatalf("failed to decode state message: %v", err)
	}
	if state.Type != "state" || state.Transcript != "hello" {
		t.Fatalf("unexpected replayed state %+v", state)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"toggle"}`)); err != nil {
		t.Fatalf("failed to send toggle intent: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		controller.mu.Lock()
		defer controller.mu.Unlock()
		return controller.toggles == 1
	})
}
