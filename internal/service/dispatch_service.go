package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-ops-api/internal/models"
	"github.com/noah-isme/campus-ops-api/internal/notify"
	"github.com/noah-isme/campus-ops-api/pkg/clock"
	"github.com/noah-isme/campus-ops-api/pkg/config"
	appErrors "github.com/noah-isme/campus-ops-api/pkg/errors"
	"github.com/noah-isme/campus-ops-api/pkg/jobs"
)

type deliveryStore interface {
	UpdateEventDelivery(ctx context.Context, tenantID, eventID string, status models.AlertDeliveryStatus, deliveryError *string, deliveredAt *time.Time) error
}

type dispatchCache interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// channelJob is one delivery attempt for one (event, channel) pair.
type channelJob struct {
	event   models.AlertEvent
	channel models.NotificationChannel
	attempt int
}

// eventProgress tracks outstanding channels for one event so the final
// delivery status resolves exactly once.
type eventProgress struct {
	mu        sync.Mutex
	remaining int
	failures  []string
	delivered int
}

// DispatchService fans an AlertEvent out to its channels on a worker
// queue. Transient failures retry with exponential backoff up to the
// configured attempt bound; permanent failures stop immediately. An
// idempotency key per (event, channel) guarantees a channel that
// succeeded once is never sent again, even across partial redeliveries.
type DispatchService struct {
	repo    deliveryStore
	cache   dispatchCache
	senders map[models.NotificationChannel]notify.ChannelSender
	cfg     config.DispatchConfig
	clock   clock.Clock
	logger  *zap.Logger
	metrics *MetricsService

	queue *jobs.Queue

	mu       sync.Mutex
	progress map[string]*eventProgress
}

// NewDispatchService constructs the dispatcher.
func NewDispatchService(
	repo deliveryStore,
	cache dispatchCache,
	senders []notify.ChannelSender,
	cfg config.DispatchConfig,
	clk clock.Clock,
	logger *zap.Logger,
) *DispatchService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	byChannel := make(map[models.NotificationChannel]notify.ChannelSender, len(senders))
	for _, sender := range senders {
		byChannel[sender.Channel()] = sender
	}

	s := &DispatchService{
		repo:     repo,
		cache:    cache,
		senders:  byChannel,
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		progress: make(map[string]*eventProgress),
	}
	s.queue = jobs.NewQueue("alert-dispatch", s.handleJob, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: 1,
		Logger:     logger,
	})
	return s
}

// WithMetrics attaches delivery instrumentation.
func (s *DispatchService) WithMetrics(metrics *MetricsService) *DispatchService {
	s.metrics = metrics
	return s
}

// Start launches the dispatch workers.
func (s *DispatchService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *DispatchService) Stop() {
	s.queue.Stop()
}

// Dispatch enqueues every channel of the event for delivery. Unknown
// channels count as permanent failures.
func (s *DispatchService) Dispatch(ctx context.Context, event models.AlertEvent) error {
	if len(event.Channels) == 0 {
		msg := "event has no channels"
		return s.repo.UpdateEventDelivery(ctx, event.TenantID, event.ID, models.DeliveryFailed, &msg, nil)
	}

	s.mu.Lock()
	s.progress[event.ID] = &eventProgress{remaining: len(event.Channels)}
	s.mu.Unlock()

	for _, raw := range event.Channels {
		channel := models.NotificationChannel(raw)
		job := jobs.Job{
			ID:      dispatchKey(event.ID, channel),
			Type:    "deliver",
			Payload: channelJob{event: event, channel: channel, attempt: 1},
		}
		if err := s.queue.Enqueue(job); err != nil {
			s.finishChannel(event, channel, fmt.Errorf("enqueue: %w", err))
		}
	}
	return nil
}

// handleJob performs one delivery attempt. Retries are re-enqueued by
// this handler with exponential backoff, so the queue's own retry stays
// disabled for delivery jobs.
func (s *DispatchService) handleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(channelJob)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}

	sender, ok := s.senders[payload.channel]
	if !ok {
		s.finishChannel(payload.event, payload.channel, notify.Permanent(fmt.Errorf("no sender for channel %q", payload.channel)))
		return nil
	}

	// Idempotency: a channel that was delivered once is never re-sent.
	// The key is claimed before sending and released on failure, so a
	// lost claim always means a completed delivery.
	key := "dispatch:sent:" + dispatchKey(payload.event.ID, payload.channel)
	won, err := s.cache.SetNX(ctx, key, s.clock.Now().Format(time.RFC3339), s.cfg.DedupTTL)
	if err != nil {
		s.logger.Warn("dedup cache unavailable, sending anyway",
			zap.String("eventId", payload.event.ID),
			zap.Error(err))
	} else if !won {
		s.finishChannel(payload.event, payload.channel, nil)
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	err = sender.Send(sendCtx, notify.Message{
		TenantID:  payload.event.TenantID,
		SubjectID: payload.event.SubjectID,
		Subject:   payload.event.RuleName,
		Body:      renderBody(payload.event),
	})
	cancel()

	if err == nil {
		s.finishChannel(payload.event, payload.channel, nil)
		return nil
	}

	// Failed: release the claim so a retry or redelivery can send.
	if delErr := s.cache.Delete(ctx, key); delErr != nil {
		s.logger.Warn("failed to release dedup key",
			zap.String("eventId", payload.event.ID),
			zap.Error(delErr))
	}

	if !retryableSend(err) || payload.attempt >= s.cfg.MaxAttempts {
		s.finishChannel(payload.event, payload.channel, err)
		return nil
	}

	// Transient: back off exponentially, then try again. The dedup key is
	// released so the retry is not mistaken for a completed send.
	backoff := s.cfg.BaseBackoff * (1 << (payload.attempt - 1))
	s.logger.Warn("delivery attempt failed, retrying",
		zap.String("eventId", payload.event.ID),
		zap.String("channel", string(payload.channel)),
		zap.Int("attempt", payload.attempt),
		zap.Duration("backoff", backoff),
		zap.Error(err))

	next := jobs.Job{
		ID:      job.ID,
		Type:    job.Type,
		Payload: channelJob{event: payload.event, channel: payload.channel, attempt: payload.attempt + 1},
	}
	time.AfterFunc(backoff, func() {
		if err := s.queue.Enqueue(next); err != nil {
			s.finishChannel(payload.event, payload.channel, fmt.Errorf("requeue: %w", err))
		}
	})
	return nil
}

// finishChannel records one channel outcome and, when it is the last
// outstanding channel, resolves the event's delivery status.
func (s *DispatchService) finishChannel(event models.AlertEvent, channel models.NotificationChannel, sendErr error) {
	s.mu.Lock()
	progress, ok := s.progress[event.ID]
	s.mu.Unlock()
	if !ok {
		return
	}

	progress.mu.Lock()
	if sendErr != nil {
		progress.failures = append(progress.failures, fmt.Sprintf("%s: %v", channel, sendErr))
		s.metrics.ObserveDelivery(string(channel), "failed")
	} else {
		progress.delivered++
		s.metrics.ObserveDelivery(string(channel), "delivered")
	}
	progress.remaining--
	done := progress.remaining == 0
	delivered := progress.delivered
	failures := append([]string(nil), progress.failures...)
	progress.mu.Unlock()

	if !done {
		return
	}

	s.mu.Lock()
	delete(s.progress, event.ID)
	s.mu.Unlock()

	status := models.DeliveryDelivered
	var deliveryError *string
	switch {
	case len(failures) == 0:
	case delivered > 0:
		status = models.DeliveryPartial
		joined := strings.Join(failures, "; ")
		deliveryError = &joined
	default:
		status = models.DeliveryFailed
		joined := strings.Join(failures, "; ")
		deliveryError = &joined
	}

	now := s.clock.Now()
	var deliveredAt *time.Time
	if delivered > 0 {
		deliveredAt = &now
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.UpdateEventDelivery(ctx, event.TenantID, event.ID, status, deliveryError, deliveredAt); err != nil {
		s.logger.Error("failed to record delivery outcome",
			zap.String("eventId", event.ID),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}

	s.logger.Info("alert delivery resolved",
		zap.String("tenantId", event.TenantID),
		zap.String("eventId", event.ID),
		zap.String("status", string(status)),
		zap.Int("delivered", delivered),
		zap.Int("failed", len(failures)))
}

// retryableSend decides whether a failed send may be re-attempted.
// Channel senders classify their failures with notify.Transient and
// notify.Permanent; typed domain errors retry only when marked
// TRANSIENT. Unclassified errors spend the attempt budget.
func retryableSend(err error) bool {
	if notify.IsPermanent(err) {
		return false
	}
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return appErrors.IsRetryable(err)
	}
	return true
}

// dispatchKey is the idempotency key for an (event, channel) pair.
func dispatchKey(eventID string, channel models.NotificationChannel) string {
	sum := sha256.Sum256([]byte(eventID + "|" + string(channel)))
	return hex.EncodeToString(sum[:])
}

// renderBody formats the alert payload for human channels.
func renderBody(event models.AlertEvent) string {
	return fmt.Sprintf("Alert %q fired for subject %s at %s.\n\nDetails: %s\n",
		event.RuleName, event.SubjectID,
		event.TriggeredAt.Format(time.RFC3339),
		string(event.Payload))
}
