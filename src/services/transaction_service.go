package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/username/crewledger/backend/src/audit"
	"github.com/username/crewledger/backend/src/ledger"
	"github.com/username/crewledger/backend/src/logger"
	"github.com/username/crewledger/backend/src/models"
	"github.com/username/crewledger/backend/src/notify"
	"github.com/username/crewledger/backend/src/otp"
	"github.com/username/crewledger/backend/src/telemetry"
)

// InitiateRequest carries everything needed to open an OTP-gated transfer.
type InitiateRequest struct {
	OrganizationID string `json:"organization_id" validate:"required"`
	InitiatorID    string `json:"initiator_id" validate:"required"`
	RecipientID    string `json:"recipient_id" validate:"required"`
	RecipientEmail string `json:"recipient_email" validate:"omitempty,email"`
	RecipientName  string `json:"recipient_name" validate:"omitempty,max=200"`
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	Purpose        string `json:"purpose" validate:"required"`
	Note           string `json:"note" validate:"omitempty,max=500"`
}

// TransactionService drives the lifecycle state machine for every OTP-gated
// value transfer: cash handovers, payouts, advances, float returns.
type TransactionService struct {
	db        *sql.DB
	issuer    *otp.Issuer
	auditSink *audit.Sink
	ledger    LedgerClient
	notifier  notify.Notifier
	telemetry telemetry.Emitter
	validate  *validator.Validate
	locks     *keyedMutex
}

func NewTransactionService(
	db *sql.DB,
	issuer *otp.Issuer,
	auditSink *audit.Sink,
	ledgerClient LedgerClient,
	notifier notify.Notifier,
	emitter telemetry.Emitter,
) *TransactionService {
	return &TransactionService{
		db:        db,
		issuer:    issuer,
		auditSink: auditSink,
		ledger:    ledgerClient,
		notifier:  notifier,
		telemetry: emitter,
		validate:  validator.New(),
		locks:     newKeyedMutex(),
	}
}

// Initiate creates a pending transaction with a freshly issued OTP and a
// fixed validity window, then dispatches the code to the recipient. Delivery
// is best-effort; the override flow covers delivery failures.
func (s *TransactionService) Initiate(ctx context.Context, req InitiateRequest) (*models.Transaction, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, validationMessage(err))
	}
	if !models.ValidPurposes[req.Purpose] {
		return nil, fmt.Errorf("%w: unknown purpose %q", ErrValidation, req.Purpose)
	}

	now := time.Now().UTC()
	code, hash, expiresAt, err := s.issuer.Issue(now)
	if err != nil {
		return nil, err
	}

	t := &models.Transaction{
		ID:             uuid.NewString(),
		OrganizationID: req.OrganizationID,
		InitiatorID:    req.InitiatorID,
		RecipientID:    req.RecipientID,
		Amount:         req.Amount,
		Purpose:        req.Purpose,
		Note:           req.Note,
		OTPHash:        hash,
		OTPExpiresAt:   expiresAt,
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := models.InsertTransaction(s.db, t); err != nil {
		return nil, fmt.Errorf("persisting transaction: %w", err)
	}

	s.appendAudit(audit.Entry{
		ActorID:    req.InitiatorID,
		Action:     "transaction_initiated",
		Resource:   "transaction",
		ResourceID: t.ID,
		Success:    true,
		Retention:  audit.RetentionFinancial,
	})
	s.telemetry.Emit("transaction_initiated", map[string]any{
		"transaction_id": t.ID,
		"purpose":        t.Purpose,
		"amount":         t.Amount,
	})

	if req.RecipientEmail != "" {
		// Fire-and-forget: a dead SMS/email gateway must not fail Initiate.
		go func() {
			if err := s.notifier.SendOTP(req.RecipientEmail, req.RecipientName, code, expiresAt); err != nil {
				logger.L.Warn("OTP delivery failed; override flow remains available",
					"transactionID", t.ID, "error", err)
			}
		}()
	}

	logger.L.Info("Transaction initiated", "transactionID", t.ID, "purpose", t.Purpose, "amount", t.Amount)
	return t, nil
}

// Confirm verifies the submitted code and drives pending -> confirmed. The
// lazy expiry check here is the only way a transaction ever becomes expired.
// The ledger side effect runs before the local state flip so that a network
// failure leaves the transaction pending and a resubmission safe.
func (s *TransactionService) Confirm(ctx context.Context, transactionID, submittedOTP, confirmedBy string) (*models.Transaction, error) {
	s.locks.Lock("tx:" + transactionID)
	defer s.locks.Unlock("tx:" + transactionID)

	t, err := models.GetTransactionByID(s.db, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, transactionID)
		}
		return nil, fmt.Errorf("loading transaction %s: %w", transactionID, err)
	}
	if t.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: confirm from %q", ErrInvalidState, t.Status)
	}

	now := time.Now().UTC()
	verifyErr := otp.Verify(submittedOTP, t.OTPHash, t.OTPExpiresAt, now)
	if errors.Is(verifyErr, otp.ErrExpired) {
		if _, err := models.MarkTransactionExpired(s.db, t.ID, now); err != nil {
			return nil, fmt.Errorf("expiring transaction %s: %w", t.ID, err)
		}
		s.appendAudit(audit.Entry{
			ActorID:       confirmedBy,
			Action:        "transaction_expired",
			Resource:      "transaction",
			ResourceID:    t.ID,
			Success:       false,
			FailureReason: "otp validity window passed",
			Retention:     audit.RetentionFinancial,
		})
		s.telemetry.Emit("transaction_expired", map[string]any{"transaction_id": t.ID})
		return nil, fmt.Errorf("%w: transaction %s", ErrExpired, t.ID)
	}
	if verifyErr != nil {
		// Mismatch: no state change, no audit entry. Repeated attempts are
		// allowed within the window.
		return nil, fmt.Errorf("%w: transaction %s", ErrInvalidOTP, t.ID)
	}

	// Ledger-balance side effect (e.g. debiting a float allocation). The
	// upsert is keyed by the transaction id, so a retry after a crash here
	// cannot double-debit.
	t.ConfirmedBy = confirmedBy
	canonicalAt, err := s.ledger.ConfirmTransaction(ctx, t)
	if err != nil {
		return nil, s.mapLedgerError("confirm", t.ID, err)
	}

	swapped, err := models.MarkTransactionConfirmed(s.db, t.ID, confirmedBy, now)
	if err != nil {
		return nil, fmt.Errorf("confirming transaction %s: %w", t.ID, err)
	}
	if !swapped {
		return nil, fmt.Errorf("%w: transaction %s left pending concurrently", ErrInvalidState, t.ID)
	}
	if err := models.AdoptConfirmedAt(s.db, t.ID, canonicalAt); err != nil {
		logger.L.Warn("Failed to adopt canonical confirmation time", "transactionID", t.ID, "error", err)
	}

	s.appendAudit(audit.Entry{
		ActorID:    confirmedBy,
		Action:     "transaction_confirmed",
		Resource:   "transaction",
		ResourceID: t.ID,
		Success:    true,
		Retention:  audit.RetentionFinancial,
	})
	s.telemetry.Emit("transaction_confirmed", map[string]any{
		"transaction_id": t.ID,
		"purpose":        t.Purpose,
		"amount":         t.Amount,
	})

	logger.L.Info("Transaction confirmed", "transactionID", t.ID, "confirmedBy", confirmedBy)
	return models.GetTransactionByID(s.db, t.ID)
}

// Override bypasses OTP verification, the escalation path when code delivery
// fails. Allowed only from pending or expired; which roles may invoke it is
// the caller's responsibility, this engine only enforces the state machine.
func (s *TransactionService) Override(ctx context.Context, transactionID, overriddenBy, reason string) (*models.Transaction, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: override reason is required", ErrValidation)
	}

	s.locks.Lock("tx:" + transactionID)
	defer s.locks.Unlock("tx:" + transactionID)

	t, err := models.GetTransactionByID(s.db, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, transactionID)
		}
		return nil, fmt.Errorf("loading transaction %s: %w", transactionID, err)
	}
	if t.Status != models.StatusPending && t.Status != models.StatusExpired {
		return nil, fmt.Errorf("%w: override from %q", ErrInvalidState, t.Status)
	}

	t.OverriddenBy = overriddenBy
	t.OverrideReason = reason
	canonicalAt, err := s.ledger.OverrideTransaction(ctx, t)
	if err != nil {
		return nil, s.mapLedgerError("override", t.ID, err)
	}

	now := time.Now().UTC()
	swapped, err := models.MarkTransactionOverridden(s.db, t.ID, overriddenBy, reason, now)
	if err != nil {
		return nil, fmt.Errorf("overriding transaction %s: %w", t.ID, err)
	}
	if !swapped {
		return nil, fmt.Errorf("%w: transaction %s changed state concurrently", ErrInvalidState, t.ID)
	}
	if err := models.AdoptOverriddenAt(s.db, t.ID, canonicalAt); err != nil {
		logger.L.Warn("Failed to adopt canonical override time", "transactionID", t.ID, "error", err)
	}

	s.appendAudit(audit.Entry{
		ActorID:    overriddenBy,
		Action:     "transaction_overridden",
		Resource:   "transaction",
		ResourceID: t.ID,
		Success:    true,
		Retention:  audit.RetentionFinancial,
	})
	s.telemetry.Emit("transaction_overridden", map[string]any{
		"transaction_id": t.ID,
		"reason":         reason,
	})

	logger.L.Info("Transaction overridden", "transactionID", t.ID, "overriddenBy", overriddenBy, "reason", reason)
	return models.GetTransactionByID(s.db, t.ID)
}

// Get loads one transaction.
func (s *TransactionService) Get(transactionID string) (*models.Transaction, error) {
	t, err := models.GetTransactionByID(s.db, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, transactionID)
		}
		return nil, err
	}
	return t, nil
}

// List returns an organization's transactions, optionally filtered by status.
func (s *TransactionService) List(organizationID, status string) ([]models.Transaction, error) {
	if status != "" && status != models.StatusPending && status != models.StatusConfirmed &&
		status != models.StatusExpired && status != models.StatusOverridden {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return models.ListTransactionsByStatus(s.db, organizationID, status)
}

func (s *TransactionService) mapLedgerError(op, transactionID string, err error) error {
	if errors.Is(err, ledger.ErrUnavailable) {
		logger.L.Warn("Ledger unavailable, transaction stays pending", "op", op, "transactionID", transactionID, "error", err)
		return fmt.Errorf("%w: ledger %s for transaction %s", ErrNetwork, op, transactionID)
	}
	if errors.Is(err, ledger.ErrRejected) {
		return fmt.Errorf("%w: ledger rejected %s for transaction %s: %v", ErrValidation, op, transactionID, err)
	}
	return err
}

// appendAudit logs instead of failing the operation when the audit write
// breaks. The state write is already durable at this point.
func (s *TransactionService) appendAudit(e audit.Entry) {
	if err := s.auditSink.Append(e); err != nil {
		logger.L.Error("Audit append failed", "action", e.Action, "resourceID", e.ResourceID, "error", err)
	}
}

// validationMessage flattens validator errors into one readable line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("field %s is required", fe.Field()))
		case "gt":
			parts = append(parts, fmt.Sprintf("field %s must be greater than %s", fe.Field(), fe.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("field %s must be at most %s characters", fe.Field(), fe.Param()))
		case "email":
			parts = append(parts, fmt.Sprintf("field %s must be a valid email address", fe.Field()))
		default:
			parts = append(parts, fmt.Sprintf("field %s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
