// Package audit provides the append-only log of every lifecycle transition.
// Entries are never mutated; the only deletion path is the retention sweep.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/username/crewledger/backend/src/logger"
)

// RetentionTag governs how long an entry must be kept before it becomes
// eligible for deletion. It never drives business logic.
type RetentionTag struct {
	Category            string `json:"category"`
	RetentionPeriodDays int    `json:"retention_period_days"`
	AutoDelete          bool   `json:"auto_delete"`
	LegalHold           bool   `json:"legal_hold"`
}

// Retention classes used across the core.
var (
	RetentionFinancial  = RetentionTag{Category: "financial", RetentionPeriodDays: 2555, AutoDelete: false}
	RetentionAttendance = RetentionTag{Category: "attendance", RetentionPeriodDays: 730, AutoDelete: true}
	RetentionSecurity   = RetentionTag{Category: "security", RetentionPeriodDays: 365, AutoDelete: true}
)

// Entry is one immutable audit record.
type Entry struct {
	ID            string       `json:"id"`
	Timestamp     time.Time    `json:"timestamp"`
	ActorID       string       `json:"actor_id"`
	Action        string       `json:"action"`
	Resource      string       `json:"resource"`
	ResourceID    string       `json:"resource_id"`
	Success       bool         `json:"success"`
	FailureReason string       `json:"failure_reason,omitempty"`
	Retention     RetentionTag `json:"retention"`
}

// Sink is the append-only audit log backed by the local durable store.
type Sink struct {
	db *sql.DB
}

func NewSink(db *sql.DB) *Sink {
	return &Sink{db: db}
}

// Append writes one entry. This is the sink's only write path. A zero ID or
// timestamp is filled in here so callers only describe the transition.
func (s *Sink) Append(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	_, err := s.db.Exec(`
	INSERT INTO audit_log (id, ts, actor_id, action, resource, resource_id, success, failure_reason,
		retention_category, retention_days, auto_delete, legal_hold)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.ActorID, e.Action, e.Resource, e.ResourceID, e.Success, e.FailureReason,
		e.Retention.Category, e.Retention.RetentionPeriodDays, e.Retention.AutoDelete, e.Retention.LegalHold)
	if err != nil {
		return fmt.Errorf("appending audit entry (action %s): %w", e.Action, err)
	}
	return nil
}

// Sweep deletes entries past their retention period, skipping anything under
// legal hold or not marked for auto-deletion. Idempotent and safe to run
// concurrently with appends: it is a single DELETE, never a table lock held
// across calls. Returns the number of purged entries.
func (s *Sink) Sweep(now time.Time) (int64, error) {
	res, err := s.db.Exec(`
	DELETE FROM audit_log
	WHERE auto_delete = TRUE AND legal_hold = FALSE
	  AND julianday(ts) < julianday(?) - retention_days`,
		now.UTC())
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 && logger.L != nil {
		logger.L.Info("Retention sweep purged audit entries", "count", n)
	}
	return n, nil
}

// ListByResource returns entries for one resource, oldest first, so the audit
// trail reads in transition order.
func (s *Sink) ListByResource(resource, resourceID string) ([]Entry, error) {
	rows, err := s.db.Query(`
	SELECT id, ts, actor_id, action, resource, resource_id, success, failure_reason,
		retention_category, retention_days, auto_delete, legal_hold
	FROM audit_log
	WHERE resource = ? AND resource_id = ?
	ORDER BY ts ASC, id ASC`, resource, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var failureReason sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorID, &e.Action, &e.Resource, &e.ResourceID,
			&e.Success, &failureReason,
			&e.Retention.Category, &e.Retention.RetentionPeriodDays, &e.Retention.AutoDelete, &e.Retention.LegalHold); err != nil {
			return nil, err
		}
		e.FailureReason = failureReason.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetLegalHold flips the legal-hold flag on an entry's retention tag. Holds
// are the one piece of retention metadata that may change after append.
func (s *Sink) SetLegalHold(id string, hold bool) error {
	res, err := s.db.Exec(`UPDATE audit_log SET legal_hold = ? WHERE id = ?`, hold, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("audit entry %s not found", id)
	}
	return nil
}
