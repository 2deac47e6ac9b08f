package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 20 * time.Second
)

// wsMessage is the frame shape in both directions. Clients send subscribe,
// unsubscribe and ping; the server answers with subscribed, pong, error,
// complete and one frame per broker event.
type wsMessage struct {
	Type         string          `json:"type"`
	ExperimentID string          `json:"experimentId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// WSHandler handles /v1/ws
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var wmu sync.Mutex
	write := func(v wsMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	subs := map[string]chan Event{} // experimentId -> channel
	defer func() {
		for id, ch := range subs {
			s.Broker.Unsubscribe(id, ch)
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			id := msg.ExperimentID
			if _, dup := subs[id]; dup {
				continue
			}
			if id == "" {
				_ = write(wsMessage{Type: "error", Payload: errorPayload("experimentId required")})
				continue
			}
			if _, err := s.Store.GetExperiment(r.Context(), id); err != nil {
				_ = write(wsMessage{Type: "error", ExperimentID: id, Payload: errorPayload("experiment not found")})
				continue
			}
			ch := s.Broker.Subscribe(id)
			subs[id] = ch
			_ = write(wsMessage{Type: "subscribed", ExperimentID: id})
			if exp, err := s.Store.GetExperiment(r.Context(), id); err == nil && exp.Done() {
				evt := newEvent(EventExperimentFinished, exp)
				_ = write(wsMessage{Type: evt.Type, ExperimentID: id, Payload: evt.Data})
				_ = write(wsMessage{Type: "complete", ExperimentID: id})
				continue
			}
			go func(id string, c chan Event) {
				for evt := range c {
					_ = write(wsMessage{Type: evt.Type, ExperimentID: id, Payload: evt.Data})
					if evt.Type == EventExperimentFinished {
						_ = write(wsMessage{Type: "complete", ExperimentID: id})
						return
					}
				}
			}(id, ch)
		case "unsubscribe":
			if ch, ok := subs[msg.ExperimentID]; ok {
				s.Broker.Unsubscribe(msg.ExperimentID, ch)
				delete(subs, msg.ExperimentID)
				_ = write(wsMessage{Type: "complete", ExperimentID: msg.ExperimentID})
			}
		default:
			_ = write(wsMessage{Type: "error", Payload: errorPayload("unknown message type " + msg.Type)})
		}
	}
}

func errorPayload(msg string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"message": msg})
	return b
}
