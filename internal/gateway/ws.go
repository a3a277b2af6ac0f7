package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/aiorg/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// handleWebSocket streams one org's live events to the client. The client
// subscribes with /ws?org=<org_id>; omitting org subscribes to every org,
// which is only useful for admin dashboards.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Gateway.Token != "" && extractBearerToken(r) != s.cfg.Gateway.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	prefix := ""
	if raw := r.URL.Query().Get("org"); raw != "" {
		orgID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid org id", http.StatusBadRequest)
			return
		}
		prefix = protocol.OrgTopic(orgID.String())
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(prefix)
	defer s.bus.Unsubscribe(sub)

	s.logger.Info("event feed connected", "remote", r.RemoteAddr, "topic", prefix)

	// Reader only consumes control frames; any client data closes the feed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-sub.Ch():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg.Event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
