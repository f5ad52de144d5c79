// Package overlay serves assistant state to UI clients over a websocket and
// accepts control intents back from them. The menu-bar overlay and any
// remote dashboard speak the same small JSON protocol.
package overlay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	core "github.com/gideontalk/talk-core/core"
	"github.com/gideontalk/talk-core/internal/config"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Overlay binds to localhost only, so any origin is fine.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Controller is the control surface the overlay can drive.
type Controller interface {
	Toggle()
	CancelTurn()
	NewConversation()
	// ApplySettings receives the raw settings object from a "settings"
	// intent; the app merges it over the current settings, persists it and
	// applies it to the running orchestrator.
	ApplySettings(settings json.RawMessage) error
}

type intentMessage struct {
	Type     string          `json:"type"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

type stateMessage struct {
	Type       string `json:"type"`
	State      string `json:"state"`
	StatusText string `json:"statusText"`
	Transcript string `json:"transcript,omitempty"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
}

type levelMessage struct {
	Type  string  `json:"type"`
	Level float64 `json:"level"`
}

type Server struct {
	controller Controller
	httpServer *http.Server

	mu        sync.Mutex
	clients   map[*websocket.Conn]struct{}
	lastState []byte
}

func NewServer(addr string, controller Controller) *Server {
	server := &Server{
		controller: controller,
		clients:    map[*websocket.Conn]struct{}{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.handleWebsocket)
	mux.HandleFunc("/settings/schema", server.handleSchema)

	server.httpServer = &http.Server{Addr: addr, Handler: mux}
	return server
}

// Start serves until Shutdown. It returns once the listener closes.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clients = map[*websocket.Conn]struct{}{}
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

// PublishState broadcasts a state snapshot to every connected client. The
// latest snapshot is replayed to clients that connect later.
func (s *Server) PublishState(snapshot core.Snapshot) {
	message := stateMessage{
		Type:       "state",
		State:      snapshot.State.String(),
		StatusText: snapshot.State.StatusText(snapshot.Err),
		Transcript: snapshot.Transcript,
		Response:   snapshot.Response,
		Error:      snapshot.Err,
	}
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("Failed to encode state message: %v", err)
		return
	}

	s.mu.Lock()
	s.lastState = payload
	s.broadcastLocked(payload)
	s.mu.Unlock()
}

// PublishLevel broadcasts a normalized input level sample. Levels are not
// replayed to late joiners.
func (s *Server) PublishLevel(level float64) {
	payload, err := json.Marshal(levelMessage{Type: "level", Level: level})
	if err != nil {
		return
	}

	s.mu.Lock()
	s.broadcastLocked(payload)
	s.mu.Unlock()
}

func (s *Server) broadcastLocked(payload []byte) {
	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade overlay connection: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	lastState := s.lastState
	s.mu.Unlock()

	if lastState != nil {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, lastState); err != nil {
			s.dropClient(conn)
			return
		}
	}

	go s.readIntents(conn)
}

func (s *Server) readIntents(conn *websocket.Conn) {
	defer s.dropClient(conn)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var intent intentMessage
		if err := json.Unmarshal(payload, &intent); err != nil {
			log.Printf("Ignoring malformed overlay intent: %v", err)
			continue
		}

		switch intent.Type {
		case "toggle":
			s.controller.Toggle()
		case "cancel":
			s.controller.CancelTurn()
		case "new_conversation":
			s.controller.NewConversation()
		case "settings":
			if len(intent.Settings) == 0 {
				log.Printf("Ignoring settings intent without a payload")
				continue
			}
			if err := s.controller.ApplySettings(intent.Settings); err != nil {
				log.Printf("Failed to apply settings intent: %v", err)
			}
		default:
			log.Printf("Ignoring unknown overlay intent %q", intent.Type)
		}
	}
}

func (s *Server) dropClient(conn *websocket.Conn) {
	conn.Close()
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(config.Schema()); err != nil {
		log.Printf("Failed to encode settings schema: %v", err)
	}
}
