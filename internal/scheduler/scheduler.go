// Package scheduler periodically turns the active watch list into
// acquisition tasks.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/user/medprice/internal/storage"
	"github.com/user/medprice/internal/task"
)

// Scheduler enqueues one acquisition task per sweep covering every active
// watch-list keyword that has not been acquired recently.
type Scheduler struct {
	store        storage.Store
	redis        *storage.RedisStore
	orchestrator *task.Orchestrator
	interval     time.Duration
	dedupTTL     time.Duration
	logger       *zap.Logger
}

func New(store storage.Store, redis *storage.RedisStore, o *task.Orchestrator, interval, dedupTTL time.Duration, l *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if dedupTTL <= 0 {
		dedupTTL = 12 * time.Hour
	}
	return &Scheduler{
		store:        store,
		redis:        redis,
		orchestrator: o,
		interval:     interval,
		dedupTTL:     dedupTTL,
		logger:       l,
	}
}

// Run blocks until ctx is cancelled, sweeping the watch list at each tick.
// The first sweep happens one full interval after startup so a restart does
// not immediately re-acquire everything.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("watch list sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep collects due keywords and submits them as a single task.
func (s *Scheduler) Sweep(ctx context.Context) error {
	entries, err := s.store.ListWatch(ctx, "", true)
	if err != nil {
		return err
	}

	var keywords []string
	for _, e := range entries {
		recent, err := s.redis.RecentlyAcquired(ctx, e.Keyword)
		if err != nil {
			s.logger.Warn("redis dedup check failed, including keyword",
				zap.String("keyword", e.Keyword), zap.Error(err))
		}
		if recent {
			continue
		}
		keywords = append(keywords, e.Keyword)
	}
	if len(keywords) == 0 {
		s.logger.Info("watch list sweep found nothing due")
		return nil
	}

	t, err := s.orchestrator.Submit(ctx, "scheduled watch list sweep", keywords)
	if err != nil {
		return err
	}
	for _, kw := range keywords {
		if err := s.redis.MarkAcquired(ctx, kw, s.dedupTTL); err != nil {
			s.logger.Warn("failed to mark keyword acquired",
				zap.String("keyword", kw), zap.Error(err))
		}
	}
	s.logger.Info("watch list sweep submitted",
		zap.Int64("task_id", t.ID), zap.Int("keywords", len(keywords)))
	return nil
}
