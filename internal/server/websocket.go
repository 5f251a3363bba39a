package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/romarket/internal/hub"
)

// newClientID returns a short random client id.
func newClientID() string {
	return uuid.NewString()[:8]
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := newClientID()
	t := hub.NewWSTransport(conn, s.cfg.Stream, s.logger)
	c := s.deps.Hub.Connect(t, id)

	err = s.deps.Hub.Serve(c, t)
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Warn("websocket read failed", "client_id", id, "error", err)
		return
	}
	s.logger.Debug("websocket closed", "client_id", id)
}

func (s *Server) handleWebSocketStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Hub.Stats())
}
