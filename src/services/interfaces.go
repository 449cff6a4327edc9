package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/crewledger/backend/src/models"
)

// LedgerClient is the authoritative backend, reached over a fallible network
// boundary. Every write is an idempotent upsert keyed by the record's
// client-generated id. Implemented by the ledger package; faked in tests.
type LedgerClient interface {
	SyncPunch(ctx context.Context, rec *models.PunchRecord) (serverTime time.Time, err error)
	ConfirmTransaction(ctx context.Context, t *models.Transaction) (confirmedAt time.Time, err error)
	OverrideTransaction(ctx context.Context, t *models.Transaction) (overriddenAt time.Time, err error)
}

// EmployeeProfile is what the eligibility collaborator knows about an
// employee: whether they may punch, when they acknowledged their engagement
// (anchors the salary cycle) and their hourly rate.
type EmployeeProfile struct {
	EmployeeID     string          `json:"employee_id"`
	OrganizationID string          `json:"organization_id"`
	Active         bool            `json:"active"`
	AcknowledgedAt time.Time       `json:"acknowledged_at"`
	HourlyRate     decimal.Decimal `json:"hourly_rate"`
	ContactEmail   string          `json:"contact_email,omitempty"`
	Name           string          `json:"name,omitempty"`
}

// EligibilityChecker answers "is this employee active/acknowledged". A
// precondition check owned by a collaborator, not by this core.
type EligibilityChecker interface {
	Profile(ctx context.Context, employeeID string) (*EmployeeProfile, error)
}
