package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Purpose-Longe/guesssing-game/internal/fanout"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 512
)

func (s *Server) ping() fanout.Event {
	now := s.clock.Now().UTC()
	return fanout.Event{
		Type:       fanout.TypePing,
		Payload:    gin.H{"server_now": now},
		ServerTime: now,
	}
}

// handleSSE streams a topic as server-sent events. The first frame is a ping
// so clients learn the server clock before anything happens.
func (s *Server) handleSSE(c *gin.Context) {
	topic := c.Param("topic")
	sub, unsubscribe := s.hub.Subscribe(topic)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent("message", s.ping())
	c.Writer.Flush()

	var keepalive <-chan time.Time
	if d := s.cfg.SSEKeepalive(); d > 0 {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		keepalive = ticker.C
	}

	ctx := c.Request.Context()
	log.Debug().Str("topic", topic).Msg("sse subscriber connected")
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent("message", ev)
			return true
		case <-keepalive:
			c.SSEvent("message", s.ping())
			return true
		}
	})
	log.Debug().Str("topic", topic).Msg("sse subscriber gone")
}

// handleWebsocket mirrors the SSE stream over a websocket. Incoming
// messages are read only to notice pongs and closes.
func (s *Server) handleWebsocket(c *gin.Context) {
	topic := c.Param("topic")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Str("topic", topic).Msg("websocket upgrade failed")
		return
	}
	sub, unsubscribe := s.hub.Subscribe(topic)
	done := make(chan struct{})
	go func() {
		defer close(done)
		readPump(conn)
	}()
	s.writePump(conn, sub, done)
	unsubscribe()
	_ = conn.Close()
	<-done
}

func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *fanout.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(s.ping()); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
