package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/blogapp/internal/api"
	"github.com/blackmichael/blogapp/internal/domain"
)

// ErrLiveFeed is reported through onError when the server ends a live feed
// with an error frame.
var ErrLiveFeed = errors.New("live feed failed")

const handshakeTimeout = 10 * time.Second

// SubscribePosts opens the server's live feed. The first connection is made
// before returning; later disconnects are retried every reconnect delay
// without reporting an error. An error frame from the server is reported
// once through onError and ends the subscription.
func (c *Client) SubscribePosts(ctx context.Context, onSnapshot func([]domain.Post), onError func(error)) (domain.Unsubscribe, error) {
	conn, err := c.dialLive(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe posts: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.stream(ctx, conn, onSnapshot, onError)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (c *Client) liveURL() string {
	u := c.baseURL + "/api/posts/live"
	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		return "wss://" + rest
	}
	return "ws://" + strings.TrimPrefix(u, "http://")
}

func (c *Client) dialLive(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.liveURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial live feed: %w", err)
	}
	return conn, nil
}

func (c *Client) stream(ctx context.Context, conn *websocket.Conn, onSnapshot func([]domain.Post), onError func(error)) {
	for {
		err := c.readFrames(ctx, conn, onSnapshot)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrLiveFeed) {
			onError(err)
			return
		}

		c.logger.Warn("live feed disconnected, reconnecting", "error", err, "delay", c.reconnectDelay)
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.reconnectDelay):
			}
			conn, err = c.dialLive(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("live feed reconnect failed", "error", err)
		}
		c.logger.Info("live feed reconnected")
	}
}

// readFrames delivers snapshots until the connection fails, ctx is done or
// the server sends an error frame. It always closes conn.
func (c *Client) readFrames(ctx context.Context, conn *websocket.Conn, onSnapshot func([]domain.Post)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = conn.Close()
	}()

	for {
		var f api.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch f.Type {
		case api.FrameSnapshot:
			onSnapshot(api.ToPosts(f.Posts))
		case api.FrameError:
			return fmt.Errorf("%w: %s", ErrLiveFeed, f.Message)
		default:
			c.logger.Warn("unknown live feed frame", "type", f.Type)
		}
	}
}
