package models

import (
	"database/sql"
	"time"
)

// Punch types.
const (
	PunchIn  = "in"
	PunchOut = "out"
)

// Sync statuses for the two-phase local-first write.
const (
	SyncPending  = "pending"
	SyncSynced   = "synced"
	SyncRejected = "rejected"
)

// PunchRecord is an attendance event captured on-device. ClientTime is
// authoritative for duration math; ServerTime is set only once the remote
// ledger accepts the record and is used for display.
type PunchRecord struct {
	ID             string     `json:"id"`
	EmployeeID     string     `json:"employee_id"`
	OrganizationID string     `json:"organization_id"`
	Type           string     `json:"type"`
	ClientTime     time.Time  `json:"client_time"`
	ServerTime     *time.Time `json:"server_time,omitempty"`
	SyncStatus     string     `json:"sync_status"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	Note           string     `json:"note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// QueueItem is one entry of the pending-sync index.
type QueueItem struct {
	RecordID   string    `json:"record_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
}

// InsertPunchRecordWithQueue durably writes a new pending record together with
// its pending-sync index row in a single database transaction. This is phase
// one of the two-phase write; no network call happens before it commits.
func InsertPunchRecordWithQueue(db *sql.DB, p *PunchRecord) error {
	dbTx, err := db.Begin()
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	_, err = dbTx.Exec(`
	INSERT INTO punch_records (id, employee_id, organization_id, punch_type, client_time,
		sync_status, latitude, longitude, note, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.EmployeeID, p.OrganizationID, p.Type, p.ClientTime,
		p.SyncStatus, p.Latitude, p.Longitude, p.Note, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}

	_, err = dbTx.Exec(`INSERT INTO punch_sync_queue (record_id, enqueued_at, attempts) VALUES (?, ?, 0)`,
		p.ID, p.CreatedAt)
	if err != nil {
		return err
	}

	return dbTx.Commit()
}

// GetPunchRecordByID loads one record. Returns sql.ErrNoRows when absent.
func GetPunchRecordByID(db *sql.DB, id string) (*PunchRecord, error) {
	row := db.QueryRow(punchSelectColumns+` FROM punch_records WHERE id = ?`, id)
	return scanPunchRow(row)
}

const punchSelectColumns = `
	SELECT id, employee_id, organization_id, punch_type, client_time, server_time,
		sync_status, latitude, longitude, note, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPunchRow(row rowScanner) (*PunchRecord, error) {
	var p PunchRecord
	var serverTime sql.NullTime
	var lat, lon sql.NullFloat64
	var note sql.NullString
	err := row.Scan(&p.ID, &p.EmployeeID, &p.OrganizationID, &p.Type, &p.ClientTime, &serverTime,
		&p.SyncStatus, &lat, &lon, &note, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if serverTime.Valid {
		ts := serverTime.Time
		p.ServerTime = &ts
	}
	if lat.Valid {
		v := lat.Float64
		p.Latitude = &v
	}
	if lon.Valid {
		v := lon.Float64
		p.Longitude = &v
	}
	p.Note = note.String
	return &p, nil
}

// GetLatestPunch returns the employee's chronologically last non-rejected
// punch, or sql.ErrNoRows if none exists. An 'in' here means an open shift.
func GetLatestPunch(db *sql.DB, employeeID string) (*PunchRecord, error) {
	row := db.QueryRow(punchSelectColumns+`
	FROM punch_records
	WHERE employee_id = ? AND sync_status != ?
	ORDER BY client_time DESC, created_at DESC
	LIMIT 1`, employeeID, SyncRejected)
	return scanPunchRow(row)
}

// MarkPunchSynced transitions pending -> synced, stamps the canonical server
// time and removes the record from the pending-sync index, all atomically.
// Returns false when the record was not pending (an already-applied retry).
func MarkPunchSynced(db *sql.DB, id string, serverTime, now time.Time) (bool, error) {
	dbTx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer dbTx.Rollback()

	res, err := dbTx.Exec(`
	UPDATE punch_records SET sync_status = ?, server_time = ?, updated_at = ?
	WHERE id = ? AND sync_status = ?`,
		SyncSynced, serverTime, now, id, SyncPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if _, err := dbTx.Exec(`DELETE FROM punch_sync_queue WHERE record_id = ?`, id); err != nil {
		return false, err
	}

	if err := dbTx.Commit(); err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkPunchRejected records a permanent remote rejection and dequeues the
// record. Rejected records never re-enter the sync loop.
func MarkPunchRejected(db *sql.DB, id, reason string, now time.Time) (bool, error) {
	dbTx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer dbTx.Rollback()

	res, err := dbTx.Exec(`
	UPDATE punch_records SET sync_status = ?, note = CASE WHEN note IS NULL OR note = '' THEN ? ELSE note END, updated_at = ?
	WHERE id = ? AND sync_status = ?`,
		SyncRejected, reason, now, id, SyncPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if _, err := dbTx.Exec(`DELETE FROM punch_sync_queue WHERE record_id = ?`, id); err != nil {
		return false, err
	}

	if err := dbTx.Commit(); err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordSyncFailure bumps the attempt counter on the queue row. Observability
// only; the reconciler retries on a fixed interval regardless.
func RecordSyncFailure(db *sql.DB, recordID, lastError string) error {
	_, err := db.Exec(`
	UPDATE punch_sync_queue SET attempts = attempts + 1, last_error = ?
	WHERE record_id = ?`, lastError, recordID)
	return err
}

// ListPendingSync returns queued records oldest-first, joined with their punch
// rows, for the background reconciler.
func ListPendingSync(db *sql.DB, limit int) ([]PunchRecord, error) {
	rows, err := db.Query(punchSelectColumns+`
	FROM punch_records
	WHERE id IN (SELECT record_id FROM punch_sync_queue)
	ORDER BY client_time ASC
	LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PunchRecord
	for rows.Next() {
		p, err := scanPunchRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// CountPendingSync reports the size of the pending-sync index, surfaced to the
// client as the degradation indicator.
func CountPendingSync(db *sql.DB, employeeID string) (int, error) {
	var n int
	err := db.QueryRow(`
	SELECT COUNT(*) FROM punch_sync_queue q
	JOIN punch_records p ON p.id = q.record_id
	WHERE p.employee_id = ?`, employeeID).Scan(&n)
	return n, err
}

// ListPunchesInWindow returns an employee's punches with client_time in
// [from, to), ordered by client_time so offline-captured order is preserved
// even when sync happened out of order. Rejected records are excluded;
// syncedOnly additionally drops records still awaiting sync.
func ListPunchesInWindow(db *sql.DB, employeeID string, from, to time.Time, syncedOnly bool) ([]PunchRecord, error) {
	query := punchSelectColumns + `
	FROM punch_records
	WHERE employee_id = ? AND client_time >= ? AND client_time < ?`
	args := []interface{}{employeeID, from, to}
	if syncedOnly {
		query += ` AND sync_status = ?`
		args = append(args, SyncSynced)
	} else {
		query += ` AND sync_status != ?`
		args = append(args, SyncRejected)
	}
	query += ` ORDER BY client_time ASC, created_at ASC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PunchRecord
	for rows.Next() {
		p, err := scanPunchRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// AnnotatePunchNote updates the free-text note. The only mutation allowed on a
// record once it is synced.
func AnnotatePunchNote(db *sql.DB, id, note string, now time.Time) error {
	_, err := db.Exec(`UPDATE punch_records SET note = ?, updated_at = ? WHERE id = ?`, note, now, id)
	return err
}
