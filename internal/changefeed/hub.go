// Package changefeed fans collection changes out to live subscribers. Each
// subscriber receives a freshly loaded, full snapshot after every change.
package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blackmichael/blogapp/internal/domain"
)

// Loader reads the current ordered snapshot of the collection.
type Loader func(ctx context.Context) ([]domain.Post, error)

// Notifier is told that the collection changed.
type Notifier interface {
	Notify(ctx context.Context) error
}

// Hub tracks live subscriptions and wakes them on change.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

type subscriber struct {
	load       Loader
	onSnapshot func([]domain.Post)
	onError    func(error)

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (s *subscriber) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Subscribe starts a subscription that loads and delivers a snapshot right
// away and again after every Publish. Callbacks run on one goroutine per
// subscription, so snapshots arrive in order. A load error is reported once
// through onError and ends the subscription.
func (h *Hub) Subscribe(ctx context.Context, load Loader, onSnapshot func([]domain.Post), onError func(error)) (domain.Unsubscribe, error) {
	s := &subscriber{
		load:       load,
		onSnapshot: onSnapshot,
		onError:    onError,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.wake <- struct{}{}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("subscribe: hub closed")
	}
	h.subs[s] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "subscribers", count)
	go h.run(ctx, s)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.halt()
			<-s.done
			h.remove(s)
		})
	}, nil
}

// Publish wakes every subscriber. Changes published while a subscriber is
// still loading are coalesced into one more load.
func (h *Hub) Publish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Notify implements Notifier for a single-process deployment.
func (h *Hub) Notify(context.Context) error {
	h.Publish()
	return nil
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for _, s := range subs {
		s.halt()
		<-s.done
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	count := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("subscriber removed", "subscribers", count)
}

func (h *Hub) run(ctx context.Context, s *subscriber) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		posts, err := s.load(ctx)

		// Unsubscribe may have happened while loading.
		select {
		case <-s.stop:
			return
		default:
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Error("snapshot load failed", "error", err)
			s.onError(fmt.Errorf("load snapshot: %w", err))
			return
		}
		s.onSnapshot(posts)
	}
}
