// Package scheduler runs the gateway's periodic maintenance jobs.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/miraihub/mirai-gateway/internal/metrics"
	"github.com/miraihub/mirai-gateway/internal/pubsub"
	"github.com/miraihub/mirai-gateway/internal/search"
)

// Scheduler manages the gateway's cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	gateway *search.Gateway
	hub     *pubsub.Hub
	logger  *slog.Logger
}

// New creates a scheduler with the maintenance jobs registered.
func New(gateway *search.Gateway, hub *pubsub.Hub, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		cron:    cron.New(),
		gateway: gateway,
		hub:     hub,
		logger:  logger,
	}
	s.scheduleCacheSweep()
	s.scheduleStatsRefresh()
	return s
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// scheduleCacheSweep drops expired search cache entries hourly.
func (s *Scheduler) scheduleCacheSweep() {
	_, err := s.cron.AddFunc("0 * * * *", func() {
		removed := s.gateway.SweepCache()
		if removed > 0 {
			s.logger.Info("swept expired search cache entries", "removed", removed)
		}
	})
	if err != nil {
		s.logger.Error("failed to schedule cache sweep", "error", err)
	}
}

// scheduleStatsRefresh republishes gauge metrics every five minutes so they
// stay accurate even when traffic is idle.
func (s *Scheduler) scheduleStatsRefresh() {
	_, err := s.cron.AddFunc("*/5 * * * *", func() {
		metrics.SearchCacheSize.Set(float64(s.gateway.CacheLen()))
		s.logger.Debug("stats refreshed",
			"cache_entries", s.gateway.CacheLen(),
			"global_subscribers", s.hub.SubscriberCount(pubsub.GlobalChannel))
	})
	if err != nil {
		s.logger.Error("failed to schedule stats refresh", "error", err)
	}
}
