package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-ops-api/internal/models"
	"github.com/noah-isme/campus-ops-api/pkg/clock"
	"github.com/noah-isme/campus-ops-api/pkg/config"
	appErrors "github.com/noah-isme/campus-ops-api/pkg/errors"
	"github.com/noah-isme/campus-ops-api/pkg/export"
)

type feeStore interface {
	Insert(ctx context.Context, rec *models.FeeRecord) error
	FindByID(ctx context.Context, tenantID, id string) (*models.FeeRecord, error)
	UpdateDerived(ctx context.Context, rec *models.FeeRecord, expectedVersion int64) error
	InsertPayment(ctx context.Context, p *models.Payment) error
	ListPayments(ctx context.Context, tenantID, feeRecordID string) ([]models.Payment, error)
	FindPayment(ctx context.Context, tenantID, paymentID string) (*models.Payment, error)
	List(ctx context.Context, filter models.FeeFilter) ([]models.FeeRecord, int, error)
	SweepCandidates(ctx context.Context, tenantID string) ([]models.FeeRecord, error)
	TenantIDs(ctx context.Context) ([]string, error)
	Stats(ctx context.Context, tenantID, academicYear string) (*models.FeeStats, error)
	Snapshot(ctx context.Context, tenantID string, now time.Time) ([]models.FeeSnapshotRow, error)
}

type receiptRenderer interface {
	Render(data export.ReceiptData) ([]byte, error)
}

type receiptArchive interface {
	Save(name string, data []byte) (string, error)
}

type receiptLinkSigner interface {
	Generate(paymentID, relPath string) (string, time.Time, error)
}

// AssessFeeParams creates a new fee obligation.
type AssessFeeParams struct {
	TenantID        string    `validate:"required"`
	StudentID       string    `validate:"required"`
	FeeType         string    `validate:"required"`
	AcademicYear    string
	TotalAmount     float64   `validate:"gt=0"`
	DiscountAmount  float64   `validate:"gte=0"`
	DueDate         time.Time `validate:"required"`
	GracePeriodDays int       `validate:"gte=0"`
	Description     *string
}

// ApplyPaymentParams records a payment against a fee record.
type ApplyPaymentParams struct {
	TenantID    string
	FeeRecordID string
	Amount      float64
	Method      models.PaymentMethod
	Reference   *string
	PaidAt      *time.Time
	VerifiedBy  *string
}

// FeeService owns the fee ledger: assessment, payments, waivers and the
// recompute-then-persist cycle. Status is always derived, never written
// directly by a caller.
type FeeService struct {
	repo      feeStore
	receipt   receiptRenderer
	archive   receiptArchive
	signer    receiptLinkSigner
	validator *validator.Validate
	cfg       config.FeesConfig
	clock     clock.Clock
	logger    *zap.Logger
}

// NewFeeService constructs the service. validate may be nil.
func NewFeeService(repo feeStore, receipt receiptRenderer, validate *validator.Validate, cfg config.FeesConfig, clk clock.Clock, logger *zap.Logger) *FeeService {
	if validate == nil {
		validate = validator.New()
	}
	return &FeeService{repo: repo, receipt: receipt, validator: validate, cfg: cfg, clock: clk, logger: logger}
}

// WithReceiptArchive attaches durable receipt storage and the signer for
// shareable download links. Without it receipts are rendered on demand
// only.
func (s *FeeService) WithReceiptArchive(archive receiptArchive, signer receiptLinkSigner) *FeeService {
	s.archive = archive
	s.signer = signer
	return s
}

// Recompute derives paid_amount, late_fee_accrued and status from the
// payment history and the clock. It is pure: no I/O, same inputs always
// produce the same outputs. Late fees only ever grow; a waiver is the
// single path that zeroes them.
func Recompute(rec *models.FeeRecord, payments []models.Payment, dailyRate float64, now time.Time) {
	if rec.Status.Terminal() {
		return
	}

	var paid float64
	for _, p := range payments {
		if p.Verified {
			paid += p.Amount
		}
	}
	rec.PaidAmount = paid

	if rec.Waived {
		rec.LateFeeAccrued = 0
	} else {
		deadline := rec.GraceDeadline()
		if now.After(deadline) {
			outstanding := rec.EffectiveDue() - paid
			if outstanding > 0 {
				days := int(now.Sub(deadline).Hours() / 24)
				if days < 1 {
					days = 1
				}
				accrued := outstanding * dailyRate * float64(days)
				// Monotonic: accrual never shrinks between recomputes.
				if accrued > rec.LateFeeAccrued {
					rec.LateFeeAccrued = accrued
				}
			}
		}
	}

	switch {
	case paid >= rec.EffectiveDue():
		rec.Status = models.FeeStatusPaid
	case now.After(rec.GraceDeadline()):
		// Overdue wins over partial: a record past its grace deadline is
		// overdue even when partially paid.
		rec.Status = models.FeeStatusOverdue
	case paid > 0:
		rec.Status = models.FeeStatusPartial
	default:
		rec.Status = models.FeeStatusPending
	}
}

// Assess creates a fee record in pending state.
func (s *FeeService) Assess(ctx context.Context, params AssessFeeParams) (*models.FeeRecord, error) {
	if err := s.validator.Struct(params); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fee assessment")
	}
	if params.DiscountAmount > params.TotalAmount {
		return nil, appErrors.Clone(appErrors.ErrValidation, "discount must not exceed the total amount")
	}

	now := s.clock.Now()
	rec := &models.FeeRecord{
		ID:              uuid.NewString(),
		TenantID:        params.TenantID,
		StudentID:       params.StudentID,
		FeeType:         params.FeeType,
		AcademicYear:    params.AcademicYear,
		TotalAmount:     params.TotalAmount,
		DiscountAmount:  params.DiscountAmount,
		DueDate:         params.DueDate,
		GracePeriodDays: params.GracePeriodDays,
		Status:          models.FeeStatusPending,
		Description:     params.Description,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "store fee record")
	}

	s.logger.Info("fee assessed",
		zap.String("tenantId", rec.TenantID),
		zap.String("studentId", rec.StudentID),
		zap.String("feeType", rec.FeeType),
		zap.Float64("totalAmount", rec.TotalAmount))
	return rec, nil
}

// ApplyPayment appends a payment fact and recomputes the record. The
// version CAS retries once on a concurrent recompute; payments are never
// lost because the fact is inserted before any derived write.
func (s *FeeService) ApplyPayment(ctx context.Context, params ApplyPaymentParams) (*models.FeeRecord, error) {
	if params.Amount == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be non-zero")
	}
	if !params.Method.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported payment method %q", params.Method))
	}

	rec, err := s.loadRecord(ctx, params.TenantID, params.FeeRecordID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "fee record is closed")
	}

	now := s.clock.Now()
	paidAt := now
	if params.PaidAt != nil {
		paidAt = *params.PaidAt
	}
	payment := &models.Payment{
		ID:          uuid.NewString(),
		TenantID:    params.TenantID,
		FeeRecordID: params.FeeRecordID,
		Amount:      params.Amount,
		Method:      params.Method,
		Reference:   params.Reference,
		PaidAt:      paidAt,
		Verified:    true,
		VerifiedBy:  params.VerifiedBy,
		CreatedAt:   now,
	}
	if err := s.repo.InsertPayment(ctx, payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "store payment")
	}

	updated, err := s.recomputeAndPersist(ctx, params.TenantID, params.FeeRecordID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment applied",
		zap.String("tenantId", params.TenantID),
		zap.String("feeRecordId", params.FeeRecordID),
		zap.Float64("amount", params.Amount),
		zap.String("status", string(updated.Status)))
	return updated, nil
}

// Waive marks the record waived, zeroing late fees on the next
// recompute, which runs immediately.
func (s *FeeService) Waive(ctx context.Context, tenantID, feeRecordID, reason string) (*models.FeeRecord, error) {
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "waiver requires a reason")
	}

	rec, err := s.loadRecord(ctx, tenantID, feeRecordID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "fee record is closed")
	}

	rec.Waived = true
	rec.WaiverReason = &reason
	payments, err := s.repo.ListPayments(ctx, tenantID, feeRecordID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list payments")
	}
	Recompute(rec, payments, s.cfg.LateFeeDailyRate, s.clock.Now())
	rec.UpdatedAt = s.clock.Now()

	if err := s.repo.UpdateDerived(ctx, rec, rec.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "fee record changed, retry the waiver")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "persist waiver")
	}

	s.logger.Info("late fees waived",
		zap.String("tenantId", tenantID),
		zap.String("feeRecordId", feeRecordID),
		zap.String("reason", reason))
	return rec, nil
}

// RecomputeRecord reloads, recomputes and persists one record.
func (s *FeeService) RecomputeRecord(ctx context.Context, tenantID, feeRecordID string) (*models.FeeRecord, error) {
	return s.recomputeAndPersist(ctx, tenantID, feeRecordID)
}

// Sweep recomputes every non-terminal record for a tenant. Returns how
// many records changed status.
func (s *FeeService) Sweep(ctx context.Context, tenantID string) (int, error) {
	candidates, err := s.repo.SweepCandidates(ctx, tenantID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load sweep candidates")
	}

	changed := 0
	for i := range candidates {
		rec := candidates[i]
		before := rec.Status
		payments, err := s.repo.ListPayments(ctx, tenantID, rec.ID)
		if err != nil {
			s.logger.Warn("sweep skipping record",
				zap.String("tenantId", tenantID),
				zap.String("feeRecordId", rec.ID),
				zap.Error(err))
			continue
		}
		Recompute(&rec, payments, s.cfg.LateFeeDailyRate, s.clock.Now())
		if rec.Status == before && rec.PaidAmount == candidates[i].PaidAmount && rec.LateFeeAccrued == candidates[i].LateFeeAccrued {
			continue
		}
		rec.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateDerived(ctx, &rec, rec.Version); err != nil {
			// Lost a CAS race; the concurrent writer already recomputed.
			if !errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn("sweep persist failed",
					zap.String("tenantId", tenantID),
					zap.String("feeRecordId", rec.ID),
					zap.Error(err))
			}
			continue
		}
		if rec.Status != before {
			changed++
		}
	}
	return changed, nil
}

// TenantIDs lists tenants with open fee records for the sweep scheduler.
func (s *FeeService) TenantIDs(ctx context.Context) ([]string, error) {
	ids, err := s.repo.TenantIDs(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list fee tenants")
	}
	return ids, nil
}

// Get returns one fee record with its payments.
func (s *FeeService) Get(ctx context.Context, tenantID, feeRecordID string) (*models.FeeRecord, []models.Payment, error) {
	rec, err := s.loadRecord(ctx, tenantID, feeRecordID)
	if err != nil {
		return nil, nil, err
	}
	payments, err := s.repo.ListPayments(ctx, tenantID, feeRecordID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list payments")
	}
	return rec, payments, nil
}

// List returns fee records for the filter.
func (s *FeeService) List(ctx context.Context, filter models.FeeFilter) ([]models.FeeRecord, *models.Pagination, error) {
	records, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list fee records")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	return records, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Stats aggregates a tenant's fee position.
func (s *FeeService) Stats(ctx context.Context, tenantID, academicYear string) (*models.FeeStats, error) {
	stats, err := s.repo.Stats(ctx, tenantID, academicYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "fee stats")
	}
	return stats, nil
}

// Snapshot feeds rule evaluation with per-record positions.
func (s *FeeService) Snapshot(ctx context.Context, tenantID string) ([]models.FeeSnapshotRow, error) {
	rows, err := s.repo.Snapshot(ctx, tenantID, s.clock.Now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "fee snapshot")
	}
	return rows, nil
}

// Receipt renders a PDF receipt for one payment.
func (s *FeeService) Receipt(ctx context.Context, tenantID, paymentID string) ([]byte, error) {
	payment, err := s.repo.FindPayment(ctx, tenantID, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load payment")
	}
	rec, err := s.loadRecord(ctx, tenantID, payment.FeeRecordID)
	if err != nil {
		return nil, err
	}

	outstanding := rec.EffectiveDue() + rec.LateFeeAccrued - rec.PaidAmount
	if outstanding < 0 {
		outstanding = 0
	}
	pdf, err := s.receipt.Render(export.ReceiptData{
		PaymentID:     payment.ID,
		StudentID:     rec.StudentID,
		FeeType:       rec.FeeType,
		AcademicYear:  rec.AcademicYear,
		PaymentMethod: string(payment.Method),
		Amount:        payment.Amount,
		PaidAt:        payment.PaidAt,
		TotalAmount:   rec.TotalAmount,
		PaidToDate:    rec.PaidAmount,
		Outstanding:   outstanding,
		Status:        string(rec.Status),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "render receipt")
	}

	// Archiving is best effort; the rendered bytes are already in hand.
	if s.archive != nil {
		if _, err := s.archive.Save(receiptPath(tenantID, payment.ID), pdf); err != nil {
			s.logger.Warn("failed to archive receipt",
				zap.String("tenantId", tenantID),
				zap.String("paymentId", payment.ID),
				zap.Error(err))
		}
	}
	return pdf, nil
}

// ReceiptLink renders and archives the receipt, then returns a signed
// download token usable without authentication until it expires.
func (s *FeeService) ReceiptLink(ctx context.Context, tenantID, paymentID string) (string, time.Time, error) {
	if s.archive == nil || s.signer == nil {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrInternal, "receipt archive is not configured")
	}
	if _, err := s.Receipt(ctx, tenantID, paymentID); err != nil {
		return "", time.Time{}, err
	}
	token, expiresAt, err := s.signer.Generate(paymentID, receiptPath(tenantID, paymentID))
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "sign receipt link")
	}
	return token, expiresAt, nil
}

// receiptPath is the archive location for one payment's receipt.
func receiptPath(tenantID, paymentID string) string {
	return fmt.Sprintf("%s/%s.pdf", tenantID, paymentID)
}

func (s *FeeService) loadRecord(ctx context.Context, tenantID, feeRecordID string) (*models.FeeRecord, error) {
	rec, err := s.repo.FindByID(ctx, tenantID, feeRecordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load fee record")
	}
	// A stored discount above the total poisons every derivation
	// downstream; surface it instead of recomputing nonsense.
	if rec.EffectiveDue() < 0 {
		return nil, appErrors.Clone(appErrors.ErrInvariant, "fee record discount exceeds the total amount")
	}
	return rec, nil
}

// recomputeAndPersist reloads the record and its payments, recomputes
// derived fields and persists with one CAS retry.
func (s *FeeService) recomputeAndPersist(ctx context.Context, tenantID, feeRecordID string) (*models.FeeRecord, error) {
	for attempt := 0; attempt < 2; attempt++ {
		rec, err := s.loadRecord(ctx, tenantID, feeRecordID)
		if err != nil {
			return nil, err
		}
		payments, err := s.repo.ListPayments(ctx, tenantID, feeRecordID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list payments")
		}

		Recompute(rec, payments, s.cfg.LateFeeDailyRate, s.clock.Now())
		rec.UpdatedAt = s.clock.Now()

		if err := s.repo.UpdateDerived(ctx, rec, rec.Version); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "persist fee record")
		}
		return rec, nil
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "fee record is under concurrent recomputation")
}
