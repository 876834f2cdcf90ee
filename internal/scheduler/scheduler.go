package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/ucommute/commute-data-aggregation/internal/commute"
)

// Sweeper removes expired entries; the in-memory cache implements it, the
// Redis cache expires keys itself.
type Sweeper interface {
	Sweep() int
}

// Scheduler periodically warms the composite cache for the configured
// locations and sweeps the in-memory cache.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *commute.Service
	locations []string
	interval  time.Duration
	sweeper   Sweeper
	log       *zap.Logger
}

// New creates a new Scheduler. sweeper may be nil.
func New(locations []string, interval time.Duration, service *commute.Service, sweeper Sweeper, log *zap.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		service:   service,
		locations: locations,
		interval:  interval,
		sweeper:   sweeper,
		log:       log,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 {
		s.log.Info("no locations configured; nothing to schedule")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 15
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(s.warm)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) warm() {
	s.log.Info("running cache warm job", zap.Int("locations", len(s.locations)))

	var wg sync.WaitGroup
	for _, name := range s.locations {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if _, err := s.service.GetAggregateData(ctx, name, commute.IncludeAll()); err != nil {
				s.log.Warn("warm fetch failed", zap.String("location", name), zap.Error(err))
			}
		}()
	}
	wg.Wait()

	if s.sweeper != nil {
		if removed := s.sweeper.Sweep(); removed > 0 {
			s.log.Info("swept expired cache entries", zap.Int("removed", removed))
		}
	}

	s.log.Info("completed cache warm job")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
