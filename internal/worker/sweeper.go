package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"storefront/internal/backend"
	"storefront/internal/models"
	"storefront/internal/util"
)

// PendingFinder lists pending orders that never received their items.
type PendingFinder interface {
	PendingWithoutItems(ctx context.Context, data backend.DataService, cutoff time.Time) ([]models.Order, error)
}

// Sweeper periodically flags orders whose items were never written. It
// catches partial orders whose event was lost.
type Sweeper struct {
	data    backend.DataService
	finder  PendingFinder
	flagger Flagger
	grace   time.Duration
	logger  *zap.Logger
	now     func() time.Time
	cron    *cron.Cron
}

// NewSweeper creates a sweeper. data must be able to read every user's orders.
func NewSweeper(data backend.DataService, finder PendingFinder, flagger Flagger, grace time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		data:    data,
		finder:  finder,
		flagger: flagger,
		grace:   grace,
		logger:  logger,
		now:     time.Now,
	}
}

// Start schedules Sweep on a cron schedule such as "@every 5m" or "*/10 * * * *".
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("reconciliation sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("reconciliation sweeper started", zap.String("schedule", schedule))
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep flags every stale pending order without items and returns how many it found.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "Sweeper.Sweep")
	defer span.End()

	orders, err := s.finder.PendingWithoutItems(ctx, s.data, s.now().Add(-s.grace))
	if err != nil {
		return 0, err
	}
	for _, o := range orders {
		if err := flag(ctx, s.flagger, s.logger, o.ID, o.OrderNumber, "sweep"); err != nil {
			return 0, fmt.Errorf("failed to flag order %s: %w", o.ID, err)
		}
	}
	return len(orders), nil
}
