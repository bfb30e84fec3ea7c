package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-ops-api/internal/models"
)

// FeeSweeper recomputes fee records tenant by tenant.
type FeeSweeper interface {
	TenantIDs(ctx context.Context) ([]string, error)
	Sweep(ctx context.Context, tenantID string) (int, error)
}

// RuleEvaluator runs alert rules tenant by tenant.
type RuleEvaluator interface {
	TenantIDs(ctx context.Context) ([]string, error)
	EvaluateTenant(ctx context.Context, tenantID string) ([]models.AlertEvent, error)
}

// EventDispatcher fans emitted events out to their channels.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event models.AlertEvent) error
}

// SweepLocker grants per-tenant single-flight across processes.
type SweepLocker interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// Config tunes the sweep cadence and parallelism.
type Config struct {
	FeeInterval  time.Duration
	RuleInterval time.Duration
	LockTTL      time.Duration
	// Workers bounds how many tenants are swept in parallel per loop.
	Workers int
}

// Scheduler drives the periodic fee and rule sweeps. Each loop fans its
// tenants out over a small worker pool; every tenant is swept under a
// lock so overlapping processes never double-sweep. The sweeps
// themselves are idempotent, the lock only avoids wasted work and
// duplicate log noise.
type Scheduler struct {
	fees     FeeSweeper
	rules    RuleEvaluator
	dispatch EventDispatcher
	locker   SweepLocker
	cfg      Config
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a scheduler.
func New(fees FeeSweeper, rules RuleEvaluator, dispatch EventDispatcher, locker SweepLocker, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.FeeInterval <= 0 {
		cfg.FeeInterval = time.Hour
	}
	if cfg.RuleInterval <= 0 {
		cfg.RuleInterval = 15 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Scheduler{
		fees:     fees,
		rules:    rules,
		dispatch: dispatch,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start launches the sweep loops. Both run once immediately so a fresh
// deployment does not wait a full interval for date-driven transitions.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.loop(ctx, "fee-sweep", s.cfg.FeeInterval, s.runFeeSweep)
	go s.loop(ctx, "rule-sweep", s.cfg.RuleInterval, s.runRuleSweep)
}

// Stop cancels the loops and waits for in-flight sweeps to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(ctx context.Context)) {
	defer s.wg.Done()

	run(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep loop stopped", zap.String("loop", name))
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

func (s *Scheduler) runFeeSweep(ctx context.Context) {
	tenants, err := s.fees.TenantIDs(ctx)
	if err != nil {
		s.logger.Error("fee sweep could not list tenants", zap.Error(err))
		return
	}
	s.forEachTenant(ctx, tenants, func(ctx context.Context, tenantID string) {
		if !s.acquire(ctx, "fee", tenantID) {
			return
		}
		changed, err := s.fees.Sweep(ctx, tenantID)
		if err != nil {
			s.logger.Error("fee sweep failed",
				zap.String("tenantId", tenantID),
				zap.Error(err))
			return
		}
		if changed > 0 {
			s.logger.Info("fee sweep completed",
				zap.String("tenantId", tenantID),
				zap.Int("statusChanges", changed))
		}
	})
}

func (s *Scheduler) runRuleSweep(ctx context.Context) {
	tenants, err := s.rules.TenantIDs(ctx)
	if err != nil {
		s.logger.Error("rule sweep could not list tenants", zap.Error(err))
		return
	}
	s.forEachTenant(ctx, tenants, func(ctx context.Context, tenantID string) {
		if !s.acquire(ctx, "rule", tenantID) {
			return
		}
		events, err := s.rules.EvaluateTenant(ctx, tenantID)
		if err != nil {
			s.logger.Error("rule sweep failed",
				zap.String("tenantId", tenantID),
				zap.Error(err))
			return
		}
		for _, event := range events {
			if err := s.dispatch.Dispatch(ctx, event); err != nil {
				s.logger.Error("event dispatch failed",
					zap.String("tenantId", tenantID),
					zap.String("eventId", event.ID),
					zap.Error(err))
			}
		}
	})
}

// forEachTenant fans the tenant list out over the worker pool. The
// per-tenant locks make concurrent sweeps safe; the pool only bounds how
// many run at once.
func (s *Scheduler) forEachTenant(ctx context.Context, tenants []string, work func(ctx context.Context, tenantID string)) {
	queue := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tenantID := range queue {
				work(ctx, tenantID)
			}
		}()
	}
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			break
		}
		queue <- tenantID
	}
	close(queue)
	wg.Wait()
}

// acquire takes the per-tenant sweep lock. A lost lock means another
// process is already sweeping this tenant.
func (s *Scheduler) acquire(ctx context.Context, kind, tenantID string) bool {
	key := fmt.Sprintf("sweep:lock:%s:%s", kind, tenantID)
	won, err := s.locker.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), s.cfg.LockTTL)
	if err != nil {
		s.logger.Warn("sweep lock unavailable, proceeding",
			zap.String("tenantId", tenantID),
			zap.Error(err))
		return true
	}
	return won
}
