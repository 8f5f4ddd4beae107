package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"rfidattendance/internal/auth"
	"rfidattendance/internal/live"
)

const writeWait = 10 * time.Second

// streamAttendance is the SSE feed for one session. A user holds at most one stream per
// session; opening a second one ends the first.
func (s *Server) streamAttendance(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required", "kind": "bad_request"})
		return
	}
	if _, err := s.svc.Session(c.Request.Context(), sessionID); err != nil {
		s.writeError(c, err)
		return
	}

	claims, _ := auth.ClaimsFrom(c)
	sub := s.hub.Subscribe(sessionID, claims.Subject)
	defer s.hub.Unsubscribe(sub)
	s.log.Debug("sse stream opened", "session", sessionID, "user", claims.Subject)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("connected", gin.H{"session_id": sessionID, "message": "SSE connection established"})
	c.Writer.Flush()

	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return false
			}
			c.SSEvent(msg.Kind, msg)
			return true
		case <-ping.C:
			c.SSEvent(live.KindPing, gin.H{"at": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
	s.log.Debug("sse stream closed", "session", sessionID, "user", claims.Subject)
}

// sessionSocket pushes a snapshot on connect and then every live message of the session.
func (s *Server) sessionSocket(c *gin.Context) {
	sessionID := c.Param("id")
	// Subscribe before reading the snapshot so nothing emitted in between is lost.
	sub := s.hub.Subscribe(sessionID, "")
	defer s.hub.Unsubscribe(sub)

	snap, err := s.svc.Snapshot(c.Request.Context(), sessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	first, err := live.NewMessage(live.KindSnapshot, sessionID, snap, snap.GeneratedAt)
	if err != nil {
		s.writeError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.log.Warn("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(first); err != nil {
		return
	}

	pongWait := 2 * s.cfg.PingInterval
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow"))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
