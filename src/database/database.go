package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/crewledger/backend/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

// InitDB opens (or creates) the local durable store and ensures the schema.
// Every collection is keyed by its own client-generated id so that concurrent
// read-modify-write cycles touch single rows, never whole collections.
func InitDB(databasePath string) *sql.DB {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	// sqlite serializes writers; a single connection avoids SQLITE_BUSY churn
	// under the keyed-lock serialization the services already enforce.
	db.SetMaxOpenConns(1)

	DB = db

	if logger.L != nil {
		logger.L.Info("Ensuring database schema", "databasePath", databasePath)
	} else {
		stdlog.Println("Ensuring database schema for:", databasePath)
	}

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		initiator_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		purpose TEXT NOT NULL,
		note TEXT,
		otp_hash TEXT NOT NULL,
		otp_expires_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		confirmed_by TEXT,
		confirmed_at TIMESTAMP,
		overridden_by TEXT,
		overridden_at TIMESTAMP,
		override_reason TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS punch_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		punch_type TEXT NOT NULL,
		client_time TIMESTAMP NOT NULL,
		server_time TIMESTAMP,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		latitude REAL,
		longitude REAL,
		note TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_punch_records_employee_time
		ON punch_records(employee_id, client_time);

	CREATE TABLE IF NOT EXISTS punch_sync_queue (
		record_id TEXT PRIMARY KEY,
		enqueued_at TIMESTAMP NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		FOREIGN KEY(record_id) REFERENCES punch_records(id)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		ts TIMESTAMP NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		resource TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		failure_reason TEXT,
		retention_category TEXT NOT NULL,
		retention_days INTEGER NOT NULL,
		auto_delete BOOLEAN NOT NULL,
		legal_hold BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_resource
		ON audit_log(resource, resource_id);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}

	migratePunchQueueTable()

	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}

	return DB
}

// migratePunchQueueTable backfills the last_error column for stores created
// before it existed.
func migratePunchQueueTable() {
	rows, err := DB.Query("PRAGMA table_info(punch_sync_queue)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'punch_sync_queue'", "error", err)
		} else {
			stdlog.Printf("Error querying table schema for 'punch_sync_queue': %v", err)
		}
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info for 'punch_sync_queue'", "error", err)
			} else {
				stdlog.Printf("Error scanning column info for 'punch_sync_queue': %v", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for 'punch_sync_queue'", "error", err)
		} else {
			stdlog.Printf("Error iterating over column info for 'punch_sync_queue': %v", err)
		}
		return
	}

	if _, ok := columnExists["last_error"]; !ok {
		_, err := DB.Exec("ALTER TABLE punch_sync_queue ADD COLUMN last_error TEXT")
		if err != nil {
			if logger.L != nil {
				logger.L.Error("Error adding 'last_error' column to 'punch_sync_queue' table", "error", err)
			}
		} else if logger.L != nil {
			logger.L.Info("Added 'last_error' column to 'punch_sync_queue' table")
		}
	}
}
