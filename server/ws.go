package server

import (
	"net/http"

	"dndj/core/player"
	"dndj/core/room"
	"dndj/logger"
)

// handleObserver upgrades to the observer protocol. The new observer first
// receives the current state, then every event broadcast after it joined.
func (s *Server) handleObserver(w http.ResponseWriter, r *http.Request) {
	observer, err := s.authenticate(r)
	if err != nil {
		logger.Warn("observer rejected", logger.String("remote", r.RemoteAddr), logger.ErrorField(err))
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	client := s.hub.NewClient(conn)
	logger.Debug("observer upgraded",
		logger.String("observer", client.ID),
		logger.String("name", observer),
		logger.String("remote", r.RemoteAddr))

	s.hub.Register(client, func() []player.Event {
		return room.StateMessages(s.player.State())
	})
	go client.WritePump()
	go client.ReadPump(s.ctx, s.dispatcher.Handle)
}
