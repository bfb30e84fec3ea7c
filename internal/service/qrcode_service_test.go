package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-ops-api/internal/models"
	"github.com/noah-isme/campus-ops-api/pkg/clock"
	appErrors "github.com/noah-isme/campus-ops-api/pkg/errors"
)

// stubQRStore mimics the guarded single-statement consume with a mutex.
type stubQRStore struct {
	mu     sync.Mutex
	tokens map[string]*models.QRCodeToken
}

func newStubQRStore() *stubQRStore {
	return &stubQRStore{tokens: make(map[string]*models.QRCodeToken)}
}

func (s *stubQRStore) key(tenantID, code string) string { return tenantID + "/" + code }

func (s *stubQRStore) Insert(_ context.Context, token *models.QRCodeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.tokens[s.key(token.TenantID, token.Code)] = &copied
	return nil
}

func (s *stubQRStore) FindByCode(_ context.Context, tenantID, code string) (*models.QRCodeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[s.key(tenantID, code)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *token
	return &copied, nil
}

func (s *stubQRStore) ConsumeOnce(_ context.Context, tenantID, code string, now time.Time) (*models.QRCodeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[s.key(tenantID, code)]
	if !ok || !token.Active || token.CurrentUsage >= token.MaxUsage || token.ValidUntil.Before(now) {
		return nil, sql.ErrNoRows
	}
	token.CurrentUsage++
	token.UpdatedAt = now
	copied := *token
	return &copied, nil
}

func (s *stubQRStore) Deactivate(_ context.Context, tenantID, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.TenantID == tenantID && token.ID == id {
			token.Active = false
			token.UpdatedAt = now
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *stubQRStore) ListActive(_ context.Context, tenantID string, now time.Time) ([]models.QRCodeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QRCodeToken
	for _, token := range s.tokens {
		if token.TenantID == tenantID && token.Active && !token.ValidUntil.Before(now) {
			out = append(out, *token)
		}
	}
	return out, nil
}

func newQRService(store *stubQRStore, clk clock.Clock) *QRCodeService {
	return NewQRCodeService(store, clk, zap.NewNop())
}

func TestQRCodeServiceIssueValidation(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	svc := newQRService(newStubQRStore(), clk)

	_, err := svc.Issue(context.Background(), IssueQRCodeParams{
		TenantID:     "tenant-1",
		BoundContext: "class-10a",
		ValidUntil:   clk.Now().Add(-time.Minute),
		MaxUsage:     10,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Issue(context.Background(), IssueQRCodeParams{
		TenantID:     "tenant-1",
		BoundContext: "class-10a",
		ValidUntil:   clk.Now().Add(time.Hour),
		MaxUsage:     0,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestQRCodeServiceConsumeLifecycle(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	store := newStubQRStore()
	svc := newQRService(store, clk)

	token, err := svc.Issue(context.Background(), IssueQRCodeParams{
		TenantID:     "tenant-1",
		BoundContext: "class-10a",
		ValidUntil:   clk.Now().Add(time.Hour),
		MaxUsage:     2,
		IssuedBy:     "teacher-1",
	})
	require.NoError(t, err)

	result, err := svc.Consume(context.Background(), "tenant-1", token.Code)
	require.NoError(t, err)
	require.Equal(t, 1, result.Remaining)

	result, err = svc.Consume(context.Background(), "tenant-1", token.Code)
	require.NoError(t, err)
	require.Equal(t, 0, result.Remaining)

	_, err = svc.Consume(context.Background(), "tenant-1", token.Code)
	require.Equal(t, appErrors.ErrExhausted.Code, appErrors.FromError(err).Code)
}

func TestQRCodeServiceConsumeExpired(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	store := newStubQRStore()
	svc := newQRService(store, clk)

	token, err := svc.Issue(context.Background(), IssueQRCodeParams{
		TenantID:     "tenant-1",
		BoundContext: "class-10a",
		ValidUntil:   clk.Now().Add(30 * time.Minute),
		MaxUsage:     10,
	})
	require.NoError(t, err)

	clk.Advance(31 * time.Minute)
	_, err = svc.Consume(context.Background(), "tenant-1", token.Code)
	require.Equal(t, appErrors.ErrExpired.Code, appErrors.FromError(err).Code)
}

func TestQRCodeServiceConsumeAtExactExpiry(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	store := newStubQRStore()
	svc := newQRService(store, clk)

	token, err := svc.Issue(context.Background(), IssueQRCodeParams{
		TenantID:     "tenant-1",
		BoundContext: "class-10a",
		ValidUntil:   clk.Now().Add(30 * time.Minute),
		MaxUsage:     10,
	})
	require.NoError(t, err)

	// A scan at exactly valid_until is still accepted.
	clk.Advance(30 * time.Minute)
	result, err := svc.Consume(context.Background(), "tenant-1", token.Code)
	require.NoError(t, err)
	require.Equal(t, 9, result.Remaining)

	// One tick past the deadline it is expired.
	clk.Advance(time.Second)
	_, err = svc.Consume(context.Background(), "tenant-1", token.Code)
	require.Equal(t, appErrors.ErrExpired.Code, appErrors.FromError(err).Code)
}

func TestQRCodeServiceConsumeUnknownCode(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	svc := newQRService(newStubQRStore(), clk)

	_, err := svc.Consume(context.Background(), "tenant-1", "NOPE")
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestQRCodeServiceConcurrentConsumeNeverOversells(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	store := newStubQRStore()
	svc := newQRService(store, clk)

	const maxUsage = 25
	const attempts = 40

	token, err := svc.Issue(context.Background(), IssueQRCodeParams{
		TenantID:     "tenant-1",
		BoundContext: "class-10a",
		ValidUntil:   clk.Now().Add(time.Hour),
		MaxUsage:     maxUsage,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Consume(context.Background(), "tenant-1", token.Code)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	exhausted := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.Equal(t, appErrors.ErrExhausted.Code, appErrors.FromError(err).Code)
		exhausted++
	}
	require.Equal(t, maxUsage, succeeded)
	require.Equal(t, attempts-maxUsage, exhausted)

	stored, err := store.FindByCode(context.Background(), "tenant-1", token.Code)
	require.NoError(t, err)
	require.Equal(t, maxUsage, stored.CurrentUsage)
}
