package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/goRegistry/internal/audit"
	"github.com/MrEthical07/goRegistry/internal/metrics"
	"github.com/MrEthical07/goRegistry/internal/schedule"
)

// DefaultSeedInterval is the delay between seeding attempts.
const DefaultSeedInterval = 10 * time.Second

// Seeder saves the statically configured services once, retrying in the
// background until every one of them has been stored.
//
// Services already stored by an earlier attempt are skipped on retry, so a
// failure part-way through does not save the earlier services a second time
// under fresh ids.
type Seeder struct {
	store    *Store
	services []Service
	interval time.Duration

	mu     sync.Mutex
	seeded []bool
	task   *schedule.Task
}

// NewSeeder prepares a seeder for services. The services are copied; the
// caller's values are not modified.
func NewSeeder(st *Store, services []Service, interval time.Duration) (*Seeder, error) {
	if interval <= 0 {
		interval = DefaultSeedInterval
	}
	copies := make([]Service, len(services))
	for i, svc := range services {
		c, err := Clone(svc)
		if err != nil {
			return nil, err
		}
		copies[i] = c
	}
	return &Seeder{
		store:    st,
		services: copies,
		interval: interval,
		seeded:   make([]bool, len(copies)),
	}, nil
}

// Start begins seeding in the background. Calling it again has no effect.
func (s *Seeder) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task != nil {
		return
	}
	s.task = schedule.Every(s.interval, s.run)
}

// Stop cancels any pending retry and waits for a running attempt.
func (s *Seeder) Stop() {
	s.mu.Lock()
	task := s.task
	s.mu.Unlock()
	task.Stop()
}

// Done is closed when seeding finished or was stopped. It is nil before Start.
func (s *Seeder) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task == nil {
		return nil
	}
	return s.task.Done()
}

// Seeded reports how many services have been stored so far.
func (s *Seeder) Seeded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ok := range s.seeded {
		if ok {
			n++
		}
	}
	return n
}

func (s *Seeder) run(ctx context.Context) bool {
	log := s.store.log.WithField("task", "seed")

	for i, svc := range s.services {
		s.mu.Lock()
		done := s.seeded[i]
		s.mu.Unlock()
		if done {
			continue
		}

		if _, err := s.store.Save(ctx, svc); err != nil {
			if ctx.Err() != nil {
				return true
			}
			s.store.metrics.Inc(metrics.SeedFailure)
			log.WithError(err).Errorf("unable to save pre-configured services, retrying in %s", s.interval)
			return false
		}

		s.mu.Lock()
		s.seeded[i] = true
		s.mu.Unlock()
	}

	s.store.metrics.Inc(metrics.SeedCompleted)
	audit.Emit(ctx, s.store.audit, audit.Event{
		EventType: audit.EventServicesSeeded,
		Success:   true,
		Metadata:  map[string]string{"count": strconv.Itoa(len(s.services))},
	})
	log.WithField("count", len(s.services)).Info("stored pre-configured services")
	return true
}
