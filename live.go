package locationtracking

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/theoremus-urban-solutions/location-tracking/tracking"
)

const liveWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLive streams every fix to a websocket client as JSON until the
// client goes away.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// The subscription's goroutine is the connection's only writer.
	sub := s.app.Subscribe(func(loc tracking.TrackedLocation) error {
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		return conn.WriteJSON(loc)
	})
	s.log.Debug("live client connected", "remote", r.RemoteAddr)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.app.Unsubscribe(sub)
	<-sub.Done()
	s.log.Debug("live client disconnected", "remote", r.RemoteAddr)
}
