package blob

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = 5 * time.Minute

// CoverLister reports every cover image reference held by posts.
type CoverLister interface {
	CoverImages(ctx context.Context) ([]string, error)
}

// Sweeper deletes uploaded blobs that no post references, such as covers
// whose post write failed after the upload succeeded. Blobs younger than the
// grace period are left alone so an in-flight composer can still use them.
type Sweeper struct {
	store  *Store
	covers CoverLister
	grace  time.Duration
	logger *slog.Logger
	now    func() time.Time

	cron *cron.Cron
}

// NewSweeper creates a sweeper for store.
func NewSweeper(store *Store, covers CoverLister, grace time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		covers: covers,
		grace:  grace,
		logger: logger,
		now:    time.Now,
	}
}

// Start runs Sweep on the given cron schedule (e.g. "@hourly").
func (s *Sweeper) Start(schedule string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("blob sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule blob sweep %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Debug("blob sweeper started", "schedule", schedule, "grace", s.grace)
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep deletes unreferenced blobs older than the grace period and returns
// how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	covers, err := s.covers.CoverImages(ctx)
	if err != nil {
		return 0, fmt.Errorf("list cover images: %w", err)
	}
	referenced := make(map[string]struct{}, len(covers))
	for _, c := range covers {
		if key, ok := s.store.KeyFromURL(c); ok {
			referenced[key] = struct{}{}
		}
	}

	objects, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.grace)
	removed := 0
	for _, obj := range objects {
		if _, ok := referenced[obj.Key]; ok {
			continue
		}
		if obj.ModTime.After(cutoff) {
			continue
		}
		if err := s.store.Delete(obj.Key); err != nil {
			s.logger.Warn("failed to delete orphaned blob", "key", obj.Key, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("orphaned blobs removed", "count", removed)
	}
	return removed, nil
}
