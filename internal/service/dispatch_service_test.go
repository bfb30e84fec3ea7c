package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-ops-api/internal/models"
	"github.com/noah-isme/campus-ops-api/internal/notify"
	"github.com/noah-isme/campus-ops-api/pkg/clock"
	"github.com/noah-isme/campus-ops-api/pkg/config"
	appErrors "github.com/noah-isme/campus-ops-api/pkg/errors"
)

// scriptedSender fails a configurable number of times per message before
// succeeding, or always fails permanently.
type scriptedSender struct {
	mu            sync.Mutex
	channel       models.NotificationChannel
	failuresLeft  int
	permanentFail bool
	sent          int
}

func (s *scriptedSender) Channel() models.NotificationChannel { return s.channel }

func (s *scriptedSender) Send(_ context.Context, _ notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permanentFail {
		return notify.Permanent(errors.New("recipient disabled"))
	}
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return notify.Transient(errors.New("gateway timeout"))
	}
	s.sent++
	return nil
}

func dispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		MaxAttempts: 3,
		BaseBackoff: 5 * time.Millisecond,
		SendTimeout: time.Second,
		Workers:     2,
		DedupTTL:    time.Hour,
	}
}

func testEvent(channels ...string) models.AlertEvent {
	return models.AlertEvent{
		ID:             "event-1",
		TenantID:       "tenant-1",
		RuleID:         "rule-1",
		RuleName:       "overdue watch",
		SubjectID:      "student-s",
		TriggeredAt:    time.Now(),
		Payload:        []byte(`{"days_overdue":6}`),
		Channels:       pq.StringArray(channels),
		DeliveryStatus: models.DeliveryPending,
	}
}

func waitForStatus(t *testing.T, store *stubAlertStore, eventID string, want models.AlertDeliveryStatus) models.AlertEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("event %s never reached status %s", eventID, want)
		case <-time.After(5 * time.Millisecond):
		}
		store.mu.Lock()
		for _, event := range store.events {
			if event.ID == eventID && event.DeliveryStatus == want {
				store.mu.Unlock()
				return event
			}
		}
		store.mu.Unlock()
	}
}

func TestDispatchDeliversAllChannels(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC))
	store := &stubAlertStore{}
	event := testEvent("email", "push")
	store.events = append(store.events, event)

	email := &scriptedSender{channel: models.ChannelEmail}
	push := &scriptedSender{channel: models.ChannelPush}
	svc := NewDispatchService(store, newStubCooldownCache(clk), []notify.ChannelSender{email, push}, dispatchConfig(), clk, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	require.NoError(t, svc.Dispatch(context.Background(), event))
	resolved := waitForStatus(t, store, event.ID, models.DeliveryDelivered)
	require.Nil(t, resolved.DeliveryError)
	require.NotNil(t, resolved.DeliveredAt)
	require.Equal(t, 1, email.sent)
	require.Equal(t, 1, push.sent)
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC))
	store := &stubAlertStore{}
	event := testEvent("email")
	store.events = append(store.events, event)

	// Fails twice, succeeds on the third and final attempt.
	email := &scriptedSender{channel: models.ChannelEmail, failuresLeft: 2}
	svc := NewDispatchService(store, newStubCooldownCache(clk), []notify.ChannelSender{email}, dispatchConfig(), clk, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	require.NoError(t, svc.Dispatch(context.Background(), event))
	waitForStatus(t, store, event.ID, models.DeliveryDelivered)
	require.Equal(t, 1, email.sent)
}

func TestDispatchGivesUpAfterAttemptBound(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC))
	store := &stubAlertStore{}
	event := testEvent("email")
	store.events = append(store.events, event)

	email := &scriptedSender{channel: models.ChannelEmail, failuresLeft: 10}
	svc := NewDispatchService(store, newStubCooldownCache(clk), []notify.ChannelSender{email}, dispatchConfig(), clk, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	require.NoError(t, svc.Dispatch(context.Background(), event))
	resolved := waitForStatus(t, store, event.ID, models.DeliveryFailed)
	require.NotNil(t, resolved.DeliveryError)
	require.Nil(t, resolved.DeliveredAt)
	require.Equal(t, 0, email.sent)
}

func TestDispatchPermanentFailureIsNotRetried(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC))
	store := &stubAlertStore{}
	event := testEvent("email", "push")
	store.events = append(store.events, event)

	email := &scriptedSender{channel: models.ChannelEmail, permanentFail: true}
	push := &scriptedSender{channel: models.ChannelPush}
	svc := NewDispatchService(store, newStubCooldownCache(clk), []notify.ChannelSender{email, push}, dispatchConfig(), clk, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	require.NoError(t, svc.Dispatch(context.Background(), event))
	resolved := waitForStatus(t, store, event.ID, models.DeliveryPartial)
	require.NotNil(t, resolved.DeliveryError)
	require.NotNil(t, resolved.DeliveredAt)
	require.Equal(t, 1, push.sent)
}

// typedErrSender replays a fixed queue of errors before succeeding.
type typedErrSender struct {
	mu      sync.Mutex
	channel models.NotificationChannel
	errs    []error
	sent    int
}

func (s *typedErrSender) Channel() models.NotificationChannel { return s.channel }

func (s *typedErrSender) Send(_ context.Context, _ notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	s.sent++
	return nil
}

func TestDispatchRetriesTypedTransientErrors(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC))
	store := &stubAlertStore{}
	event := testEvent("email")
	store.events = append(store.events, event)

	email := &typedErrSender{
		channel: models.ChannelEmail,
		errs:    []error{appErrors.ErrTransient, appErrors.ErrTransient},
	}
	svc := NewDispatchService(store, newStubCooldownCache(clk), []notify.ChannelSender{email}, dispatchConfig(), clk, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	require.NoError(t, svc.Dispatch(context.Background(), event))
	waitForStatus(t, store, event.ID, models.DeliveryDelivered)
	require.Equal(t, 1, email.sent)
}

func TestDispatchTypedRejectionIsNotRetried(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC))
	store := &stubAlertStore{}
	event := testEvent("email")
	store.events = append(store.events, event)

	// A typed error that is not TRANSIENT stops on the first attempt even
	// though the attempt budget allows more.
	email := &typedErrSender{
		channel: models.ChannelEmail,
		errs:    []error{appErrors.Clone(appErrors.ErrNotFound, "no recipient on file")},
	}
	svc := NewDispatchService(store, newStubCooldownCache(clk), []notify.ChannelSender{email}, dispatchConfig(), clk, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	require.NoError(t, svc.Dispatch(context.Background(), event))
	resolved := waitForStatus(t, store, event.ID, models.DeliveryFailed)
	require.NotNil(t, resolved.DeliveryError)
	require.Equal(t, 0, email.sent)
}

func TestDispatchDeduplicatesDeliveredChannels(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC))
	store := &stubAlertStore{}
	event := testEvent("email")
	store.events = append(store.events, event)

	cache := newStubCooldownCache(clk)
	email := &scriptedSender{channel: models.ChannelEmail}
	svc := NewDispatchService(store, cache, []notify.ChannelSender{email}, dispatchConfig(), clk, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	require.NoError(t, svc.Dispatch(context.Background(), event))
	waitForStatus(t, store, event.ID, models.DeliveryDelivered)

	// Redelivery after a partial failure elsewhere must not double-send.
	require.NoError(t, svc.Dispatch(context.Background(), event))
	waitForStatus(t, store, event.ID, models.DeliveryDelivered)
	require.Equal(t, 1, email.sent)
}
