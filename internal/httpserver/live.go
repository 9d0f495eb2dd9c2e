package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/blogapp/internal/api"
	"github.com/blackmichael/blogapp/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// liveConn serializes writes to a live feed connection.
type liveConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *liveConn) send(f api.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

func (c *liveConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *liveConn) close(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

// handleLive streams post snapshots over a WebSocket: one snapshot frame on
// connect and one after every change. A failed load sends an error frame
// and closes the connection.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("live feed upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lc := &liveConn{conn: conn}
	onSnapshot := func(posts []domain.Post) {
		if err := lc.send(api.Frame{Type: api.FrameSnapshot, Posts: api.FromPosts(posts)}); err != nil {
			s.logger.Debug("live feed write failed", "error", err)
			cancel()
		}
	}
	onError := func(err error) {
		s.logger.Error("live feed load failed", "error", err)
		_ = lc.send(api.Frame{Type: api.FrameError, Message: "failed to load posts"})
		lc.close(websocket.CloseInternalServerErr, "load failed")
		cancel()
	}

	release, err := s.posts.SubscribePosts(ctx, onSnapshot, onError)
	if err != nil {
		s.logger.Error("live feed subscribe failed", "error", err)
		onError(err)
		return
	}
	defer release()
	s.logger.Debug("live feed connected", "remote", r.RemoteAddr)

	// Reading is required to process pings, pongs and the close handshake.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
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
		case <-ctx.Done():
			s.logger.Debug("live feed disconnected", "remote", r.RemoteAddr)
			return
		case <-ticker.C:
			if err := lc.ping(); err != nil {
				return
			}
		}
	}
}
