package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-ops-api/internal/models"
	"github.com/noah-isme/campus-ops-api/pkg/clock"
	appErrors "github.com/noah-isme/campus-ops-api/pkg/errors"
)

type qrCodeStore interface {
	Insert(ctx context.Context, token *models.QRCodeToken) error
	FindByCode(ctx context.Context, tenantID, code string) (*models.QRCodeToken, error)
	ConsumeOnce(ctx context.Context, tenantID, code string, now time.Time) (*models.QRCodeToken, error)
	Deactivate(ctx context.Context, tenantID, id string, now time.Time) error
	ListActive(ctx context.Context, tenantID string, now time.Time) ([]models.QRCodeToken, error)
}

// IssueQRCodeParams carries the inputs for issuing a check-in token.
type IssueQRCodeParams struct {
	TenantID     string
	BoundContext string
	ValidUntil   time.Time
	MaxUsage     int
	IssuedBy     string
}

// QRCodeService issues, lists and consumes check-in tokens.
type QRCodeService struct {
	repo   qrCodeStore
	clock  clock.Clock
	logger *zap.Logger
}

// NewQRCodeService constructs the service.
func NewQRCodeService(repo qrCodeStore, clk clock.Clock, logger *zap.Logger) *QRCodeService {
	return &QRCodeService{repo: repo, clock: clk, logger: logger}
}

// Issue creates a new token bound to a context (a class session, an
// event). ValidUntil must be in the future and MaxUsage at least one.
func (s *QRCodeService) Issue(ctx context.Context, params IssueQRCodeParams) (*models.QRCodeToken, error) {
	now := s.clock.Now()
	if params.TenantID == "" || params.BoundContext == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "tenant and bound context are required")
	}
	if !params.ValidUntil.After(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "valid_until must be in the future")
	}
	if params.MaxUsage < 1 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "max_usage must be at least 1")
	}

	code, err := generateCode()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "generate qr code")
	}

	token := &models.QRCodeToken{
		ID:           uuid.NewString(),
		TenantID:     params.TenantID,
		Code:         code,
		BoundContext: params.BoundContext,
		IssuedAt:     now,
		ValidUntil:   params.ValidUntil,
		MaxUsage:     params.MaxUsage,
		CurrentUsage: 0,
		Active:       true,
		IssuedBy:     params.IssuedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, token); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "store qr token")
	}

	s.logger.Info("qr token issued",
		zap.String("tenantId", token.TenantID),
		zap.String("tokenId", token.ID),
		zap.String("boundContext", token.BoundContext),
		zap.Int("maxUsage", token.MaxUsage))
	return token, nil
}

// Consume atomically spends one use of the token. When the guarded
// increment finds no eligible row, a follow-up read classifies the
// refusal: unknown code, expired, deactivated or exhausted.
func (s *QRCodeService) Consume(ctx context.Context, tenantID, code string) (*models.ConsumeResult, error) {
	now := s.clock.Now()
	token, err := s.repo.ConsumeOnce(ctx, tenantID, code, now)
	if err == nil {
		return &models.ConsumeResult{Token: token, Remaining: token.RemainingUses()}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "consume qr token")
	}

	existing, findErr := s.repo.FindByCode(ctx, tenantID, code)
	if findErr != nil {
		if errors.Is(findErr, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "qr code not found")
		}
		return nil, appErrors.Wrap(findErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "inspect qr token")
	}

	switch {
	case !existing.Active:
		return nil, appErrors.Clone(appErrors.ErrExpired, "qr code has been deactivated")
	// A scan at exactly valid_until still counts; expired means strictly
	// past the deadline.
	case existing.ValidUntil.Before(now):
		return nil, appErrors.ErrExpired
	case existing.RemainingUses() == 0:
		return nil, appErrors.ErrExhausted
	default:
		// The guard failed but the re-read looks consumable: a concurrent
		// consumer raced us between the two statements. Treat as exhausted
		// rather than retrying into a loop.
		return nil, appErrors.ErrExhausted
	}
}

// Deactivate disables a token ahead of its natural expiry.
func (s *QRCodeService) Deactivate(ctx context.Context, tenantID, tokenID string) error {
	if err := s.repo.Deactivate(ctx, tenantID, tokenID, s.clock.Now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "qr token not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "deactivate qr token")
	}
	s.logger.Info("qr token deactivated", zap.String("tenantId", tenantID), zap.String("tokenId", tokenID))
	return nil
}

// ListActive returns the tenant's currently usable tokens.
func (s *QRCodeService) ListActive(ctx context.Context, tenantID string) ([]models.QRCodeToken, error) {
	tokens, err := s.repo.ListActive(ctx, tenantID, s.clock.Now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list qr tokens")
	}
	return tokens, nil
}

// generateCode produces a 16-character base32 code from 10 random bytes.
func generateCode() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
