package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-ops-api/internal/models"
)

// QRCodeRepository handles persistence for QR check-in tokens.
type QRCodeRepository struct {
	db *sqlx.DB
}

// NewQRCodeRepository constructs the repository.
func NewQRCodeRepository(db *sqlx.DB) *QRCodeRepository {
	return &QRCodeRepository{db: db}
}

const qrColumns = `id, tenant_id, code, bound_context, issued_at, valid_until, max_usage, current_usage, active, issued_by, created_at, updated_at`

// Insert stores a freshly issued token.
func (r *QRCodeRepository) Insert(ctx context.Context, token *models.QRCodeToken) error {
	query := `INSERT INTO qr_tokens (id, tenant_id, code, bound_context, issued_at, valid_until, max_usage, current_usage, active, issued_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.ExecContext(ctx, query,
		token.ID, token.TenantID, token.Code, token.BoundContext, token.IssuedAt,
		token.ValidUntil, token.MaxUsage, token.CurrentUsage, token.Active,
		token.IssuedBy, token.CreatedAt, token.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert qr token: %w", err)
	}
	return nil
}

// FindByCode loads a token by tenant and code string.
func (r *QRCodeRepository) FindByCode(ctx context.Context, tenantID, code string) (*models.QRCodeToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM qr_tokens WHERE tenant_id = $1 AND code = $2`, qrColumns)
	var token models.QRCodeToken
	if err := r.db.GetContext(ctx, &token, query, tenantID, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find qr token: %w", err)
	}
	return &token, nil
}

// ConsumeOnce atomically increments usage when the token is still active,
// unexpired and under its usage cap. The guard and the increment are one
// statement, so two concurrent scans of the last remaining use cannot
// both succeed. sql.ErrNoRows means the guard failed; the caller
// classifies why from a follow-up read.
func (r *QRCodeRepository) ConsumeOnce(ctx context.Context, tenantID, code string, now time.Time) (*models.QRCodeToken, error) {
	query := fmt.Sprintf(`UPDATE qr_tokens
SET current_usage = current_usage + 1, updated_at = $3
WHERE tenant_id = $1 AND code = $2 AND active
  AND current_usage < max_usage AND valid_until >= $3
RETURNING %s`, qrColumns)
	var token models.QRCodeToken
	if err := r.db.GetContext(ctx, &token, query, tenantID, code, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("consume qr token: %w", err)
	}
	return &token, nil
}

// Deactivate soft-disables a token ahead of its expiry.
func (r *QRCodeRepository) Deactivate(ctx context.Context, tenantID, id string, now time.Time) error {
	query := `UPDATE qr_tokens SET active = false, updated_at = $3 WHERE tenant_id = $1 AND id = $2`
	res, err := r.db.ExecContext(ctx, query, tenantID, id, now)
	if err != nil {
		return fmt.Errorf("deactivate qr token: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListActive returns unexpired tokens for a tenant.
func (r *QRCodeRepository) ListActive(ctx context.Context, tenantID string, now time.Time) ([]models.QRCodeToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM qr_tokens
WHERE tenant_id = $1 AND active AND valid_until >= $2
ORDER BY issued_at DESC`, qrColumns)
	var tokens []models.QRCodeToken
	if err := r.db.SelectContext(ctx, &tokens, query, tenantID, now); err != nil {
		return nil, fmt.Errorf("list active qr tokens: %w", err)
	}
	return tokens, nil
}
