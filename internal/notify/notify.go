package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-ops-api/internal/models"
)

// Message is one rendered notification for one recipient.
type Message struct {
	TenantID  string
	SubjectID string
	Subject   string
	Body      string
}

// ChannelSender delivers a message over one notification channel. The
// engine resolves recipient addressing from the subject id; senders are
// external collaborators behind this interface.
type ChannelSender interface {
	Channel() models.NotificationChannel
	Send(ctx context.Context, msg Message) error
}

// SendErrorKind classifies delivery failures for the retry policy.
type SendErrorKind int

const (
	// SendErrorTransient marks timeouts and 5xx responses; retried with
	// backoff up to the attempt bound.
	SendErrorTransient SendErrorKind = iota
	// SendErrorPermanent marks invalid recipients and disabled channels;
	// never retried.
	SendErrorPermanent
)

// SendError is a classified delivery failure.
type SendError struct {
	Kind SendErrorKind
	Err  error
}

func (e *SendError) Error() string {
	if e.Kind == SendErrorPermanent {
		return fmt.Sprintf("permanent send failure: %v", e.Err)
	}
	return fmt.Sprintf("transient send failure: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable delivery failure.
func Transient(err error) *SendError {
	return &SendError{Kind: SendErrorTransient, Err: err}
}

// Permanent wraps err as a non-retryable delivery failure.
func Permanent(err error) *SendError {
	return &SendError{Kind: SendErrorPermanent, Err: err}
}

// IsPermanent reports whether err is a classified permanent failure.
// Unclassified errors default to transient so the retry budget decides.
func IsPermanent(err error) bool {
	se, ok := err.(*SendError)
	return ok && se.Kind == SendErrorPermanent
}

// ConsoleSender logs messages instead of delivering them. Used for the
// sms and push channels until their gateways are wired, and in
// development for email.
type ConsoleSender struct {
	channel models.NotificationChannel
	logger  *zap.Logger
}

// NewConsoleSender constructs a logging sender for the given channel.
func NewConsoleSender(channel models.NotificationChannel, logger *zap.Logger) *ConsoleSender {
	return &ConsoleSender{channel: channel, logger: logger}
}

// Channel implements ChannelSender.
func (s *ConsoleSender) Channel() models.NotificationChannel { return s.channel }

// Send implements ChannelSender.
func (s *ConsoleSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("notification delivered to console",
		zap.String("channel", string(s.channel)),
		zap.String("tenantId", msg.TenantID),
		zap.String("subjectId", msg.SubjectID),
		zap.String("subject", msg.Subject))
	return nil
}
