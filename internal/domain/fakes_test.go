package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory PostStore. Subscriptions are delivered
// synchronously from the calling goroutine.
type memStore struct {
	mu      sync.Mutex
	posts   map[string]Post
	nextID  int
	now     time.Time
	subs    map[int]*memSub
	nextSub int

	getErr    error
	createErr error
	updateErr error
	subErr    error

	creates int
	updates int
	gets    int
}

type memSub struct {
	onSnapshot func([]Post)
	onError    func(error)
}

func newMemStore() *memStore {
	return &memStore{
		posts: make(map[string]Post),
		subs:  make(map[int]*memSub),
		now:   time.Date(2025, time.March, 14, 9, 26, 0, 0, time.UTC),
	}
}

func (s *memStore) put(p Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.ID] = p
}

func (s *memStore) CreatePost(_ context.Context, np NewPost) (string, error) {
	s.mu.Lock()
	s.creates++
	if s.createErr != nil {
		s.mu.Unlock()
		return "", s.createErr
	}
	s.nextID++
	s.now = s.now.Add(time.Minute)
	created := s.now
	id := fmt.Sprintf("post-%d", s.nextID)
	s.posts[id] = Post{
		ID:         id,
		Title:      np.Title,
		Body:       np.Body,
		CoverImage: np.CoverImage,
		Author:     np.Author,
		CreatedAt:  &created,
	}
	s.mu.Unlock()
	s.broadcast()
	return id, nil
}

func (s *memStore) GetPost(_ context.Context, id string) (*Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *memStore) UpdatePost(_ context.Context, id string, patch PostPatch) error {
	s.mu.Lock()
	s.updates++
	if s.updateErr != nil {
		s.mu.Unlock()
		return s.updateErr
	}
	p, ok := s.posts[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.now = s.now.Add(time.Minute)
	updated := s.now
	p.Title = patch.Title
	p.Body = patch.Body
	p.CoverImage = patch.CoverImage
	p.UpdatedAt = &updated
	s.posts[id] = p
	s.mu.Unlock()
	s.broadcast()
	return nil
}

func (s *memStore) SubscribePosts(_ context.Context, onSnapshot func([]Post), onError func(error)) (Unsubscribe, error) {
	s.mu.Lock()
	if s.subErr != nil {
		s.mu.Unlock()
		return nil, s.subErr
	}
	s.nextSub++
	id := s.nextSub
	s.subs[id] = &memSub{onSnapshot: onSnapshot, onError: onError}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}, nil
}

func (s *memStore) snapshot() []Post {
	posts := make([]Post, 0, len(s.posts))
	for _, p := range s.posts {
		posts = append(posts, p)
	}
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(*posts[j].CreatedAt)
	})
	return posts
}

func (s *memStore) broadcast() {
	s.mu.Lock()
	snap := s.snapshot()
	subs := s.activeSubs()
	s.mu.Unlock()
	for _, sub := range subs {
		sub.onSnapshot(snap)
	}
}

// emit delivers an arbitrary snapshot to every subscriber.
func (s *memStore) emit(posts []Post) {
	s.mu.Lock()
	subs := s.activeSubs()
	s.mu.Unlock()
	for _, sub := range subs {
		sub.onSnapshot(posts)
	}
}

func (s *memStore) fail(err error) {
	s.mu.Lock()
	subs := s.activeSubs()
	s.mu.Unlock()
	for _, sub := range subs {
		sub.onError(err)
	}
}

func (s *memStore) activeSubs() []*memSub {
	subs := make([]*memSub, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (s *memStore) subscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// memBlobs is an in-memory BlobStore.
type memBlobs struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	uploadErr error
	uploads   []string

	// block, when set, makes Upload wait until it is closed.
	block chan struct{}
}

func newMemBlobs() *memBlobs {
	return &memBlobs{blobs: make(map[string][]byte)}
}

func (b *memBlobs) Upload(ctx context.Context, key string, data []byte) (BlobRef, error) {
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return BlobRef{}, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads = append(b.uploads, key)
	if b.uploadErr != nil {
		return BlobRef{}, b.uploadErr
	}
	b.blobs[key] = data
	return BlobRef{Key: key}, nil
}

func (b *memBlobs) URL(_ context.Context, ref BlobRef) (string, error) {
	return "https://blobs.test/" + ref.Key, nil
}

func (b *memBlobs) uploadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.uploads)
}

// staticSession is a fabricated Session.
type staticSession struct {
	user     User
	loggedIn bool
}

func signedIn(id, email string) *staticSession {
	return &staticSession{user: User{ID: id, Email: email}, loggedIn: true}
}

func (s *staticSession) CurrentUser() (User, bool) {
	return s.user, s.loggedIn
}

func (s *staticSession) SignOut(context.Context) error {
	s.loggedIn = false
	return nil
}

// recorder captures notices and navigation.
type recorder struct {
	mu      sync.Mutex
	notices []Notice
	visited []string
}

func (r *recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visited = append(r.visited, path)
}

func (r *recorder) lastNotice() Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}
	}
	return r.notices[len(r.notices)-1]
}

func (r *recorder) navigations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.visited...)
}

var errBoom = errors.New("boom")
