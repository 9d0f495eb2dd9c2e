package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// FeedView is what a feed consumer renders: a loading flag and the posts of
// the latest snapshot, newest first.
type FeedView struct {
	Loading bool
	Posts   []Post
}

// FeedSynchronizer keeps a live, ordered list of all posts. Every snapshot
// from the store replaces the list as a whole.
type FeedSynchronizer struct {
	store    PostSubscriber
	logger   *slog.Logger
	onChange func(FeedView)

	mu         sync.RWMutex
	loading    bool
	posts      []Post
	generation uint64
	active     bool
	release    Unsubscribe
}

// NewFeedSynchronizer creates an inactive feed. onChange, if not nil, is
// called with the new view after every snapshot or subscription error.
func NewFeedSynchronizer(store PostSubscriber, logger *slog.Logger, onChange func(FeedView)) *FeedSynchronizer {
	return &FeedSynchronizer{
		store:    store,
		logger:   logger,
		onChange: onChange,
		loading:  true,
	}
}

// Activate opens the subscription. The returned Unsubscribe must be called
// when the consumer goes away.
func (f *FeedSynchronizer) Activate(ctx context.Context) (Unsubscribe, error) {
	f.mu.Lock()
	if f.active {
		f.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	f.active = true
	f.generation++
	gen := f.generation
	f.loading = true
	f.mu.Unlock()

	release, err := f.store.SubscribePosts(ctx,
		func(posts []Post) { f.applySnapshot(gen, posts) },
		func(err error) { f.applyError(gen, err) },
	)
	if err != nil {
		f.applyError(gen, err)
		f.mu.Lock()
		if f.generation == gen {
			f.active = false
		}
		f.mu.Unlock()
		return nil, fmt.Errorf("subscribe posts: %w", err)
	}

	f.mu.Lock()
	f.release = release
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { f.deactivate(gen) })
	}, nil
}

// View returns a copy of the current state.
func (f *FeedSynchronizer) View() FeedView {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return FeedView{
		Loading: f.loading,
		Posts:   append([]Post(nil), f.posts...),
	}
}

// Loading reports whether the first snapshot is still outstanding.
func (f *FeedSynchronizer) Loading() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loading
}

func (f *FeedSynchronizer) deactivate(gen uint64) {
	f.mu.Lock()
	var release Unsubscribe
	if f.generation == gen {
		release = f.release
		f.generation++
		f.active = false
		f.release = nil
	}
	f.mu.Unlock()

	if release != nil {
		release()
	}
}

func (f *FeedSynchronizer) applySnapshot(gen uint64, posts []Post) {
	f.mu.Lock()
	if f.generation != gen {
		f.mu.Unlock()
		return
	}
	f.posts = append([]Post(nil), posts...)
	f.loading = false
	view := FeedView{Posts: append([]Post(nil), f.posts...)}
	f.mu.Unlock()

	f.logger.Debug("feed snapshot applied", "posts", len(posts))
	f.notify(view)
}

func (f *FeedSynchronizer) applyError(gen uint64, err error) {
	f.mu.Lock()
	if f.generation != gen {
		f.mu.Unlock()
		return
	}
	f.posts = nil
	f.loading = false
	f.mu.Unlock()

	f.logger.Error("error fetching posts", "error", err)
	f.notify(FeedView{})
}

func (f *FeedSynchronizer) notify(view FeedView) {
	if f.onChange != nil {
		f.onChange(view)
	}
}
