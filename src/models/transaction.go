package models

import (
	"database/sql"
	"time"
)

// Transaction statuses. Transitions only move along the lifecycle state
// machine: pending -> confirmed | expired | overridden, expired -> overridden.
const (
	StatusPending    = "pending"
	StatusConfirmed  = "confirmed"
	StatusExpired    = "expired"
	StatusOverridden = "overridden"
)

// Transaction purposes, one closed enum per value-transfer kind.
const (
	PurposeCashHandover = "cash_handover"
	PurposePayout       = "payout"
	PurposeAdvance      = "advance"
	PurposeFloatReturn  = "float_return"
)

// ValidPurposes lists every accepted purpose value.
var ValidPurposes = map[string]bool{
	PurposeCashHandover: true,
	PurposePayout:       true,
	PurposeAdvance:      true,
	PurposeFloatReturn:  true,
}

// Transaction is an OTP-gated value transfer recorded locally first and
// reconciled with the remote ledger exactly once.
type Transaction struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	InitiatorID    string     `json:"initiator_id"`
	RecipientID    string     `json:"recipient_id"`
	Amount         int64      `json:"amount"` // minor units, always > 0
	Purpose        string     `json:"purpose"`
	Note           string     `json:"note,omitempty"`
	OTPHash        string     `json:"-"` // bcrypt hash, never serialized
	OTPExpiresAt   time.Time  `json:"otp_expires_at"`
	Status         string     `json:"status"`
	ConfirmedBy    string     `json:"confirmed_by,omitempty"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
	OverriddenBy   string     `json:"overridden_by,omitempty"`
	OverriddenAt   *time.Time `json:"overridden_at,omitempty"`
	OverrideReason string     `json:"override_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// InsertTransaction persists a freshly initiated transaction.
func InsertTransaction(db *sql.DB, t *Transaction) error {
	stmt, err := db.Prepare(`
	INSERT INTO transactions (id, organization_id, initiator_id, recipient_id, amount, purpose, note,
		otp_hash, otp_expires_at, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.Exec(t.ID, t.OrganizationID, t.InitiatorID, t.RecipientID, t.Amount, t.Purpose, t.Note,
		t.OTPHash, t.OTPExpiresAt, t.Status, t.CreatedAt, t.UpdatedAt)
	return err
}

// GetTransactionByID loads one transaction. Returns sql.ErrNoRows when absent.
func GetTransactionByID(db *sql.DB, id string) (*Transaction, error) {
	row := db.QueryRow(`
	SELECT id, organization_id, initiator_id, recipient_id, amount, purpose, note,
		otp_hash, otp_expires_at, status, confirmed_by, confirmed_at,
		overridden_by, overridden_at, override_reason, created_at, updated_at
	FROM transactions WHERE id = ?`, id)

	var t Transaction
	var note, confirmedBy, overriddenBy, overrideReason sql.NullString
	var confirmedAt, overriddenAt sql.NullTime
	err := row.Scan(&t.ID, &t.OrganizationID, &t.InitiatorID, &t.RecipientID, &t.Amount, &t.Purpose, &note,
		&t.OTPHash, &t.OTPExpiresAt, &t.Status, &confirmedBy, &confirmedAt,
		&overriddenBy, &overriddenAt, &overrideReason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Note = note.String
	t.ConfirmedBy = confirmedBy.String
	t.OverriddenBy = overriddenBy.String
	t.OverrideReason = overrideReason.String
	if confirmedAt.Valid {
		ts := confirmedAt.Time
		t.ConfirmedAt = &ts
	}
	if overriddenAt.Valid {
		ts := overriddenAt.Time
		t.OverriddenAt = &ts
	}
	return &t, nil
}

// MarkTransactionConfirmed performs the pending -> confirmed transition as a
// compare-and-swap on the stored status. Returns false when the row was not in
// 'pending', so two concurrent confirms cannot both succeed.
func MarkTransactionConfirmed(db *sql.DB, id, confirmedBy string, confirmedAt time.Time) (bool, error) {
	res, err := db.Exec(`
	UPDATE transactions
	SET status = ?, confirmed_by = ?, confirmed_at = ?, updated_at = ?
	WHERE id = ? AND status = ?`,
		StatusConfirmed, confirmedBy, confirmedAt, confirmedAt, id, StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkTransactionExpired performs the lazy pending -> expired transition.
func MarkTransactionExpired(db *sql.DB, id string, at time.Time) (bool, error) {
	res, err := db.Exec(`
	UPDATE transactions SET status = ?, updated_at = ?
	WHERE id = ? AND status = ?`,
		StatusExpired, at, id, StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkTransactionOverridden transitions pending or expired to overridden.
func MarkTransactionOverridden(db *sql.DB, id, overriddenBy, reason string, at time.Time) (bool, error) {
	res, err := db.Exec(`
	UPDATE transactions
	SET status = ?, overridden_by = ?, overridden_at = ?, override_reason = ?, updated_at = ?
	WHERE id = ? AND status IN (?, ?)`,
		StatusOverridden, overriddenBy, at, reason, at, id, StatusPending, StatusExpired)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AdoptConfirmedAt replaces the locally stamped confirmation time with the
// canonical one the ledger returned. Display uses the canonical timestamp.
func AdoptConfirmedAt(db *sql.DB, id string, canonical time.Time) error {
	_, err := db.Exec(`UPDATE transactions SET confirmed_at = ? WHERE id = ? AND status = ?`,
		canonical, id, StatusConfirmed)
	return err
}

// AdoptOverriddenAt is the override counterpart of AdoptConfirmedAt.
func AdoptOverriddenAt(db *sql.DB, id string, canonical time.Time) error {
	_, err := db.Exec(`UPDATE transactions SET overridden_at = ? WHERE id = ? AND status = ?`,
		canonical, id, StatusOverridden)
	return err
}

// ListTransactionsByStatus returns an organization's transactions, newest
// first, optionally filtered by status.
func ListTransactionsByStatus(db *sql.DB, organizationID, status string) ([]Transaction, error) {
	query := `
	SELECT id, organization_id, initiator_id, recipient_id, amount, purpose, note,
		otp_hash, otp_expires_at, status, confirmed_by, confirmed_at,
		overridden_by, overridden_at, override_reason, created_at, updated_at
	FROM transactions WHERE organization_id = ?`
	args := []interface{}{organizationID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var note, confirmedBy, overriddenBy, overrideReason sql.NullString
		var confirmedAt, overriddenAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.OrganizationID, &t.InitiatorID, &t.RecipientID, &t.Amount, &t.Purpose, &note,
			&t.OTPHash, &t.OTPExpiresAt, &t.Status, &confirmedBy, &confirmedAt,
			&overriddenBy, &overriddenAt, &overrideReason, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Note = note.String
		t.ConfirmedBy = confirmedBy.String
		t.OverriddenBy = overriddenBy.String
		t.OverrideReason = overrideReason.String
		if confirmedAt.Valid {
			ts := confirmedAt.Time
			t.ConfirmedAt = &ts
		}
		if overriddenAt.Valid {
			ts := overriddenAt.Time
			t.OverriddenAt = &ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
