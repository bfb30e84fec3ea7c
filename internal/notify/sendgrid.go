package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/noah-isme/campus-ops-api/internal/models"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// RecipientResolver maps a subject id to a deliverable email address.
type RecipientResolver interface {
	EmailFor(ctx context.Context, tenantID, subjectID string) (name, address string, err error)
}

// SendgridSender delivers email notifications through SendGrid.
type SendgridSender struct {
	key      string
	from     *sgmail.Email
	resolver RecipientResolver
}

// NewSendgridSender constructs an email sender.
func NewSendgridSender(key, senderName, senderEmail string, resolver RecipientResolver) *SendgridSender {
	return &SendgridSender{
		key:      key,
		from:     sgmail.NewEmail(senderName, senderEmail),
		resolver: resolver,
	}
}

// Channel implements ChannelSender.
func (s *SendgridSender) Channel() models.NotificationChannel { return models.ChannelEmail }

// Send implements ChannelSender. HTTP 4xx responses are permanent, 5xx
// and transport errors are transient.
func (s *SendgridSender) Send(ctx context.Context, msg Message) error {
	name, address, err := s.resolver.EmailFor(ctx, msg.TenantID, msg.SubjectID)
	if err != nil {
		return Permanent(fmt.Errorf("resolve recipient %s: %w", msg.SubjectID, err))
	}

	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail(name, address))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Body))

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return Transient(fmt.Errorf("sendgrid request: %w", err))
	}
	switch {
	case res.StatusCode >= http.StatusInternalServerError:
		return Transient(fmt.Errorf("sendgrid responded %d", res.StatusCode))
	case res.StatusCode >= http.StatusBadRequest:
		return Permanent(fmt.Errorf("sendgrid rejected message with %d", res.StatusCode))
	}
	return nil
}
