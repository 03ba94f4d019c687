package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AaronLay10/SentientDrill/internal/events"
)

const (
	// Number of recent events to send on connection
	recentEventsCount = 50

	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second
)

// handleEventsWS streams bus events. ?session_id= limits the stream to one
// session.
func (s *Server) handleEventsWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn("ws upgrade failed", "error", err)
		return
	}

	filter := c.Query("session_id")
	match := func(e events.Event) bool {
		return filter == "" || e.SessionID() == filter
	}

	sub := s.Bus.Subscribe()
	closeAll := func() {
		s.Bus.Unsubscribe(sub)
		conn.Close()
	}

	write := func(e events.Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return nil
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	for _, e := range s.Bus.RecentEvents(recentEventsCount) {
		if !match(e) {
			continue
		}
		if err := write(e); err != nil {
			s.Log.Debug("ws write recent event failed", "error", err)
			closeAll()
			return
		}
	}

	// Reader handles pongs and close messages
	done := make(chan struct{})
	go func() {
		defer close(done)
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
			closeAll()
			return

		case e, ok := <-sub:
			if !ok {
				conn.Close()
				return
			}
			if !match(e) {
				continue
			}
			if err := write(e); err != nil {
				s.Log.Debug("ws write event failed", "error", err)
				closeAll()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				closeAll()
				return
			}
		}
	}
}
