package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nstogner/autoassist/pkg/autoassist"
	"github.com/nstogner/autoassist/pkg/metrics"
	"github.com/nstogner/autoassist/pkg/runner"
	"github.com/nstogner/autoassist/pkg/store"
)

// Event types sent over the websocket feed.
const (
	EventAssistant = "assistant"
	EventDeleted   = "deleted"
	EventWarning   = "warning"
	EventError     = "error"
)

type event struct {
	Type      string              `json:"type"`
	ID        int64               `json:"id,omitempty"`
	Assistant *store.Assistant    `json:"assistant,omitempty"`
	Session   *autoassist.Session `json:"session,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// hub fans events out to websocket clients. Slow clients miss events.
type hub struct {
	mu      sync.Mutex
	clients map[chan event]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[chan event]struct{})}
}

func (h *hub) subscribe() chan event {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan event, 16)
	h.clients[ch] = struct{}{}
	return ch
}

func (h *hub) unsubscribe(ch chan event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, ch)
}

func (h *hub) broadcast(ev event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		// Non-blocking send
		select {
		case ch <- ev:
		default:
		}
	}
}

// pump turns store change notifications and runner output into hub events.
func (s *Server) pump(ctx context.Context) {
	var changes <-chan int64
	if w, ok := s.store.(store.Watcher); ok {
		changes = w.Subscribe()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-changes:
			a, err := store.Get(ctx, s.store, id)
			if errors.Is(err, store.ErrNotFound) {
				s.hub.broadcast(event{Type: EventDeleted, ID: id})
				continue
			}
			if err != nil {
				slog.Error("Failed to load changed assistant", "assistantID", id, "error", err)
				continue
			}
			s.hub.broadcast(s.assistantEvent(a))
		case a := <-s.runner.Updates:
			s.hub.broadcast(s.assistantEvent(a))
		case err := <-s.runner.Warnings:
			s.hub.broadcast(event{Type: EventWarning, Message: err.Error()})
		case err := <-s.runner.ErrorChan:
			s.hub.broadcast(event{Type: EventError, Message: err.Error()})
		}
	}
}

func (s *Server) assistantEvent(a store.Assistant) event {
	a = redacted(a)
	ev := event{Type: EventAssistant, ID: a.ID, Assistant: &a}
	if a.IsAutoAssist() {
		sess := s.runner.Session()
		ev.Session = &sess
	}
	return ev
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	a, err := store.Get(r.Context(), s.store, id)
	if err != nil {
		slog.Error("Failed to load assistant", "assistantID", id, "error", err)
		ws.WriteJSON(event{Type: EventError, Message: "Assistant not found"})
		return
	}

	metrics.AddWebsocketConnection(1)
	defer metrics.AddWebsocketConnection(-1)

	updates := s.hub.subscribe()
	defer s.hub.unsubscribe(updates)

	// Initial sync
	if err := ws.WriteJSON(s.assistantEvent(a)); err != nil {
		slog.Error("Failed initial sync", "error", err)
		return
	}

	done := make(chan struct{})
	// replies carries events produced by the reader loop; only the writer loop writes to ws.
	replies := make(chan event, 4)

	var wg sync.WaitGroup
	wg.Add(1)

	// Writer Loop (Pusher)
	go func() {
		defer wg.Done()
		defer ws.Close()

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			var ev event
			select {
			case <-done:
				return
			case ev = <-replies:
			case ev = <-updates:
				if ev.ID != 0 && ev.ID != id {
					continue
				}
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
				continue
			}
			if err := ws.WriteJSON(ev); err != nil {
				slog.Error("WebSocket write error", "error", err)
				return
			}
		}
	}()

	// Reader Loop
	for {
		var msg struct {
			Content     string   `json:"content"`
			Attachments []string `json:"attachments"`
			APIs        []string `json:"apis"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}
		if msg.Content == "" && len(msg.Attachments) == 0 {
			continue
		}
		// The reply arrives through the store change feed.
		if _, err := s.runner.Submit(runner.Message{
			AssistantID: id,
			Text:        msg.Content,
			Attachments: msg.Attachments,
			APIs:        msg.APIs,
		}); err != nil {
			select {
			case replies <- event{Type: EventError, Message: err.Error()}:
			default:
			}
		}
	}

	close(done)
	wg.Wait()
}
