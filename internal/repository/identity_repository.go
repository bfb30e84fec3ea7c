package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// IdentityRepository resolves subject identifiers to contact details and
// card assignments. Backed by the tenant's enrolment tables.
type IdentityRepository struct {
	db *sqlx.DB
}

// NewIdentityRepository constructs an identity repository.
func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// EmailFor returns the notification recipient for a subject.
func (r *IdentityRepository) EmailFor(ctx context.Context, tenantID, subjectID string) (string, string, error) {
	var row struct {
		Name  string `db:"name"`
		Email string `db:"email"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT name, email
		FROM subject_contacts
		WHERE tenant_id = $1 AND subject_id = $2 AND email <> ''
		ORDER BY is_primary DESC, updated_at DESC
		LIMIT 1`, tenantID, subjectID)
	if err != nil {
		return "", "", err
	}
	return row.Name, row.Email, nil
}

// Resolve maps an RFID card UID to the subject it is assigned to.
// Returns sql.ErrNoRows for unassigned or revoked cards.
func (r *IdentityRepository) Resolve(ctx context.Context, tenantID, cardUID string) (string, error) {
	var subjectID string
	err := r.db.GetContext(ctx, &subjectID, `
		SELECT subject_id
		FROM rfid_cards
		WHERE tenant_id = $1 AND card_uid = $2 AND revoked_at IS NULL`, tenantID, cardUID)
	if err != nil {
		return "", err
	}
	return subjectID, nil
}
