package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-ops-api/internal/models"
)

type countingSweeper struct {
	mu     sync.Mutex
	sweeps map[string]int
}

func newCountingSweeper() *countingSweeper {
	return &countingSweeper{sweeps: make(map[string]int)}
}

func (s *countingSweeper) TenantIDs(_ context.Context) ([]string, error) {
	return []string{"tenant-1", "tenant-2"}, nil
}

func (s *countingSweeper) Sweep(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps[tenantID]++
	return 0, nil
}

type countingEvaluator struct {
	mu     sync.Mutex
	runs   int
	events []models.AlertEvent
}

func (e *countingEvaluator) TenantIDs(_ context.Context) ([]string, error) {
	return []string{"tenant-1"}, nil
}

func (e *countingEvaluator) EvaluateTenant(_ context.Context, _ string) ([]models.AlertEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs++
	return e.events, nil
}

type recordingDispatcher struct {
	mu         sync.Mutex
	dispatched []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event models.AlertEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, event.ID)
	return nil
}

// denyLocker refuses every lock except for the allowed tenant keys.
type denyLocker struct {
	mu      sync.Mutex
	granted map[string]bool
}

func (l *denyLocker) SetNX(_ context.Context, key, _ string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.granted == nil {
		l.granted = make(map[string]bool)
	}
	if l.granted[key] {
		return false, nil
	}
	l.granted[key] = true
	return true, nil
}

func TestSchedulerRunsSweepsImmediately(t *testing.T) {
	fees := newCountingSweeper()
	rules := &countingEvaluator{events: []models.AlertEvent{{ID: "event-1", TenantID: "tenant-1"}}}
	dispatch := &recordingDispatcher{}

	s := New(fees, rules, dispatch, &denyLocker{}, Config{
		FeeInterval:  time.Hour,
		RuleInterval: time.Hour,
		LockTTL:      time.Minute,
	}, zap.NewNop())

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		fees.mu.Lock()
		defer fees.mu.Unlock()
		return fees.sweeps["tenant-1"] == 1 && fees.sweeps["tenant-2"] == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		dispatch.mu.Lock()
		defer dispatch.mu.Unlock()
		return len(dispatch.dispatched) == 1 && dispatch.dispatched[0] == "event-1"
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerHonorsSweepLock(t *testing.T) {
	fees := newCountingSweeper()
	locker := &denyLocker{granted: map[string]bool{
		"sweep:lock:fee:tenant-2": true, // held by another process
	}}

	s := New(fees, &countingEvaluator{}, &recordingDispatcher{}, locker, Config{
		FeeInterval:  time.Hour,
		RuleInterval: time.Hour,
		LockTTL:      time.Minute,
	}, zap.NewNop())

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		fees.mu.Lock()
		defer fees.mu.Unlock()
		return fees.sweeps["tenant-1"] == 1
	}, time.Second, 5*time.Millisecond)

	fees.mu.Lock()
	defer fees.mu.Unlock()
	require.Zero(t, fees.sweeps["tenant-2"], "locked tenant is skipped")
}

// blockingSweeper parks every Sweep call until released, so the test can
// observe how many tenants are in flight at once.
type blockingSweeper struct {
	started chan string
	release chan struct{}
}

func (s *blockingSweeper) TenantIDs(_ context.Context) ([]string, error) {
	return []string{"tenant-1", "tenant-2"}, nil
}

func (s *blockingSweeper) Sweep(_ context.Context, tenantID string) (int, error) {
	s.started <- tenantID
	<-s.release
	return 0, nil
}

func TestSchedulerSweepsTenantsInParallel(t *testing.T) {
	release := make(chan struct{})
	fees := &blockingSweeper{started: make(chan string, 2), release: release}

	s := New(fees, &countingEvaluator{}, &recordingDispatcher{}, &denyLocker{}, Config{
		FeeInterval:  time.Hour,
		RuleInterval: time.Hour,
		LockTTL:      time.Minute,
		Workers:      2,
	}, zap.NewNop())

	s.Start(context.Background())

	// Both tenants must enter Sweep while the first is still blocked.
	for i := 0; i < 2; i++ {
		select {
		case <-fees.started:
		case <-time.After(time.Second):
			close(release)
			t.Fatal("second tenant never started while the first was in flight")
		}
	}
	close(release)
	s.Stop()
}

func TestSchedulerStopsCleanly(t *testing.T) {
	fees := newCountingSweeper()
	s := New(fees, &countingEvaluator{}, &recordingDispatcher{}, &denyLocker{}, Config{
		FeeInterval:  10 * time.Millisecond,
		RuleInterval: 10 * time.Millisecond,
		LockTTL:      time.Minute,
	}, zap.NewNop())

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	fees.mu.Lock()
	after := fees.sweeps["tenant-1"]
	fees.mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	fees.mu.Lock()
	defer fees.mu.Unlock()
	require.Equal(t, after, fees.sweeps["tenant-1"], "no sweeps after Stop")
}
