package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/username/crewledger/backend/src/audit"
	"github.com/username/crewledger/backend/src/ledger"
	"github.com/username/crewledger/backend/src/logger"
	"github.com/username/crewledger/backend/src/models"
	"github.com/username/crewledger/backend/src/telemetry"
)

// PunchOptions carries the optional capture context of a punch.
type PunchOptions struct {
	Latitude  *float64
	Longitude *float64
	Note      string
}

// AttendanceSummary aggregates an employee's punches over a window. Closed
// shifts are paired by client time; an open shift is reported separately and
// never added to the historical total.
type AttendanceSummary struct {
	EmployeeID          string     `json:"employee_id"`
	WindowStart         time.Time  `json:"window_start"`
	WindowEnd           time.Time  `json:"window_end"`
	TotalMinutes        int64      `json:"total_minutes"`
	ClosedShifts        int        `json:"closed_shifts"`
	CurrentShiftStart   *time.Time `json:"current_shift_start,omitempty"`
	CurrentShiftMinutes int64      `json:"current_shift_minutes,omitempty"`
	PendingSync         int        `json:"pending_sync"`
}

// EarningsStatement is the on-demand salary computation for the current pay
// cycle. Always recomputed from synced punch records, never cached, so
// late-arriving syncs cannot leave a stale running total behind.
type EarningsStatement struct {
	EmployeeID string          `json:"employee_id"`
	CycleStart time.Time       `json:"cycle_start"`
	CycleEnd   time.Time       `json:"cycle_end"`
	TotalHours decimal.Decimal `json:"total_hours"`
	HourlyRate decimal.Decimal `json:"hourly_rate"`
	Earnings   decimal.Decimal `json:"earnings"`
}

// PunchService records attendance events locally first and reconciles them
// with the remote ledger, immediately when online and through the background
// reconciler otherwise.
type PunchService struct {
	db          *sql.DB
	auditSink   *audit.Sink
	ledger      LedgerClient
	eligibility EligibilityChecker
	telemetry   telemetry.Emitter
	locks       *keyedMutex
}

func NewPunchService(
	db *sql.DB,
	auditSink *audit.Sink,
	ledgerClient LedgerClient,
	eligibility EligibilityChecker,
	emitter telemetry.Emitter,
) *PunchService {
	return &PunchService{
		db:          db,
		auditSink:   auditSink,
		ledger:      ledgerClient,
		eligibility: eligibility,
		telemetry:   emitter,
		locks:       newKeyedMutex(),
	}
}

// PunchIn opens a shift. Fails with ErrAlreadyActive while an unmatched 'in'
// exists for the employee.
func (s *PunchService) PunchIn(ctx context.Context, employeeID string, opts PunchOptions) (*models.PunchRecord, error) {
	return s.punch(ctx, employeeID, models.PunchIn, opts)
}

// PunchOut closes the open shift. Fails with ErrNotActive when none exists.
func (s *PunchService) PunchOut(ctx context.Context, employeeID string, opts PunchOptions) (*models.PunchRecord, error) {
	return s.punch(ctx, employeeID, models.PunchOut, opts)
}

func (s *PunchService) punch(ctx context.Context, employeeID, punchType string, opts PunchOptions) (*models.PunchRecord, error) {
	profile, err := s.eligibility.Profile(ctx, employeeID)
	switch {
	case errors.Is(err, ErrNetwork):
		// Offline capture must not depend on the collaborator being
		// reachable. Proceed optimistically; the ledger rejects ineligible
		// records at sync time.
		logger.L.Warn("Eligibility collaborator unreachable, accepting punch optimistically",
			"employeeID", employeeID, "error", err)
		profile = &EmployeeProfile{EmployeeID: employeeID, Active: true}
	case err != nil:
		return nil, err
	}
	if !profile.Active {
		return nil, fmt.Errorf("%w: employee %s", ErrNotEligible, employeeID)
	}

	s.locks.Lock("emp:" + employeeID)
	defer s.locks.Unlock("emp:" + employeeID)

	latest, err := models.GetLatestPunch(s.db, employeeID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checking shift state for %s: %w", employeeID, err)
	}
	shiftOpen := latest != nil && latest.Type == models.PunchIn
	if punchType == models.PunchIn && shiftOpen {
		return nil, fmt.Errorf("%w: employee %s punched in at %s", ErrAlreadyActive, employeeID, latest.ClientTime.Format(time.RFC3339))
	}
	if punchType == models.PunchOut && !shiftOpen {
		return nil, fmt.Errorf("%w: employee %s", ErrNotActive, employeeID)
	}

	now := time.Now().UTC()
	rec := &models.PunchRecord{
		ID:             uuid.NewString(),
		EmployeeID:     employeeID,
		OrganizationID: profile.OrganizationID,
		Type:           punchType,
		ClientTime:     now, // device clock, authoritative for duration math
		SyncStatus:     models.SyncPending,
		Latitude:       opts.Latitude,
		Longitude:      opts.Longitude,
		Note:           opts.Note,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Phase one: durable local commit. Nothing network-facing before this.
	if err := models.InsertPunchRecordWithQueue(s.db, rec); err != nil {
		s.appendAudit(audit.Entry{
			ActorID:       employeeID,
			Action:        "punch_" + punchType,
			Resource:      "punch_record",
			ResourceID:    rec.ID,
			Success:       false,
			FailureReason: err.Error(),
			Retention:     audit.RetentionAttendance,
		})
		return nil, fmt.Errorf("persisting punch record: %w", err)
	}

	s.appendAudit(audit.Entry{
		ActorID:    employeeID,
		Action:     "punch_" + punchType,
		Resource:   "punch_record",
		ResourceID: rec.ID,
		Success:    true,
		Retention:  audit.RetentionAttendance,
	})
	s.telemetry.Emit("punch_"+punchType, map[string]any{
		"record_id":   rec.ID,
		"employee_id": employeeID,
	})

	// Phase two: best-effort immediate reconciliation. Failure leaves the
	// record queued; the user already succeeded locally.
	s.trySync(ctx, rec, false)

	return models.GetPunchRecordByID(s.db, rec.ID)
}

// trySync attempts one idempotent upsert of a pending record. Transient
// failures leave the record queued for the next tick; permanent rejections
// dequeue it as rejected.
func (s *PunchService) trySync(ctx context.Context, rec *models.PunchRecord, fromReconciler bool) {
	serverTime, err := s.ledger.SyncPunch(ctx, rec)
	now := time.Now().UTC()
	switch {
	case err == nil:
		applied, markErr := models.MarkPunchSynced(s.db, rec.ID, serverTime, now)
		if markErr != nil {
			logger.L.Error("Failed to mark punch synced", "recordID", rec.ID, "error", markErr)
			return
		}
		if applied && fromReconciler {
			s.appendAudit(audit.Entry{
				ActorID:    rec.EmployeeID,
				Action:     "offline_punch_synced",
				Resource:   "punch_record",
				ResourceID: rec.ID,
				Success:    true,
				Retention:  audit.RetentionAttendance,
			})
			s.telemetry.Emit("offline_punch_synced", map[string]any{"record_id": rec.ID})
		}
	case errors.Is(err, ledger.ErrRejected):
		if _, markErr := models.MarkPunchRejected(s.db, rec.ID, err.Error(), now); markErr != nil {
			logger.L.Error("Failed to mark punch rejected", "recordID", rec.ID, "error", markErr)
			return
		}
		s.appendAudit(audit.Entry{
			ActorID:       rec.EmployeeID,
			Action:        "punch_sync_rejected",
			Resource:      "punch_record",
			ResourceID:    rec.ID,
			Success:       false,
			FailureReason: err.Error(),
			Retention:     audit.RetentionAttendance,
		})
	default:
		logger.L.Debug("Punch sync deferred", "recordID", rec.ID, "error", err)
		if recErr := models.RecordSyncFailure(s.db, rec.ID, err.Error()); recErr != nil {
			logger.L.Error("Failed to record sync failure", "recordID", rec.ID, "error", recErr)
		}
	}
}

// AnnotateNote adds or replaces the free-text note on a record. The only
// mutation allowed once a record is synced.
func (s *PunchService) AnnotateNote(recordID, note string) error {
	if _, err := models.GetPunchRecordByID(s.db, recordID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: punch record %s", ErrNotFound, recordID)
		}
		return err
	}
	return models.AnnotatePunchNote(s.db, recordID, note, time.Now().UTC())
}

// PendingSyncCount reports how many of the employee's punches still await
// reconciliation, the client's degradation indicator.
func (s *PunchService) PendingSyncCount(employeeID string) (int, error) {
	return models.CountPendingSync(s.db, employeeID)
}

// SummarizeWindow pairs consecutive in/out punches chronologically by client
// time (sync order is irrelevant) and sums the deltas. The open shift, if
// any, is reported only when the window includes "now".
func (s *PunchService) SummarizeWindow(employeeID string, from, to time.Time) (*AttendanceSummary, error) {
	punches, err := models.ListPunchesInWindow(s.db, employeeID, from, to, false)
	if err != nil {
		return nil, fmt.Errorf("loading punches for %s: %w", employeeID, err)
	}

	now := time.Now().UTC()
	summary := &AttendanceSummary{
		EmployeeID:  employeeID,
		WindowStart: from,
		WindowEnd:   to,
	}

	var total time.Duration
	var openIn *models.PunchRecord
	for i := range punches {
		p := punches[i]
		switch p.Type {
		case models.PunchIn:
			openIn = &punches[i]
		case models.PunchOut:
			if openIn != nil {
				total += p.ClientTime.Sub(openIn.ClientTime)
				summary.ClosedShifts++
				openIn = nil
			}
		}
	}

	if openIn != nil && !now.Before(from) && now.Before(to) {
		start := openIn.ClientTime
		summary.CurrentShiftStart = &start
		summary.CurrentShiftMinutes = int64(now.Sub(start) / time.Minute)
	}
	summary.TotalMinutes = int64(total / time.Minute)

	pending, err := models.CountPendingSync(s.db, employeeID)
	if err != nil {
		return nil, err
	}
	summary.PendingSync = pending

	return summary, nil
}

// Earnings recomputes the current pay cycle's earnings on demand: hours of
// closed, synced shifts in the cycle times the hourly rate.
func (s *PunchService) Earnings(ctx context.Context, employeeID string) (*EarningsStatement, error) {
	profile, err := s.eligibility.Profile(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if profile.AcknowledgedAt.IsZero() {
		return nil, fmt.Errorf("%w: employee %s has no acknowledgment timestamp", ErrNotEligible, employeeID)
	}

	now := time.Now().UTC()
	cycleStart, cycleEnd := currentPayCycle(profile.AcknowledgedAt, now)

	upper := cycleEnd
	if now.Before(upper) {
		upper = now
	}
	punches, err := models.ListPunchesInWindow(s.db, employeeID, cycleStart, upper, true)
	if err != nil {
		return nil, fmt.Errorf("loading synced punches for %s: %w", employeeID, err)
	}

	var total time.Duration
	var openIn *models.PunchRecord
	for i := range punches {
		p := punches[i]
		switch p.Type {
		case models.PunchIn:
			openIn = &punches[i]
		case models.PunchOut:
			if openIn != nil {
				total += p.ClientTime.Sub(openIn.ClientTime)
				openIn = nil
			}
		}
	}

	hours := decimal.NewFromInt(int64(total / time.Minute)).Div(decimal.NewFromInt(60)).Round(2)
	earnings := hours.Mul(profile.HourlyRate).Round(2)

	return &EarningsStatement{
		EmployeeID: employeeID,
		CycleStart: cycleStart,
		CycleEnd:   cycleEnd,
		TotalHours: hours,
		HourlyRate: profile.HourlyRate,
		Earnings:   earnings,
	}, nil
}

// currentPayCycle returns the calendar-month cycle anchored on the
// acknowledgment's day of month, clamped to the last day of short months.
func currentPayCycle(acknowledgedAt, now time.Time) (start, end time.Time) {
	anchorDay := acknowledgedAt.Day()

	start = cycleBoundary(now.Year(), now.Month(), anchorDay, now.Location())
	if start.After(now) {
		start = cycleBoundary(now.Year(), now.Month()-1, anchorDay, now.Location())
	}
	end = cycleBoundary(start.Year(), start.Month()+1, anchorDay, now.Location())
	return start, end
}

// cycleBoundary accepts out-of-range months and relies on time.Date
// normalization, so month arithmetic near year boundaries stays correct.
func cycleBoundary(year int, month time.Month, day int, loc *time.Location) time.Time {
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (s *PunchService) appendAudit(e audit.Entry) {
	if err := s.auditSink.Append(e); err != nil {
		logger.L.Error("Audit append failed", "action", e.Action, "resourceID", e.ResourceID, "error", err)
	}
}
