package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/username/crewledger/backend/src/database"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	db := database.InitDB(filepath.Join(t.TempDir(), "audit_test.db"))
	t.Cleanup(func() { db.Close() })
	return NewSink(db)
}

func TestAppendAndListByResource(t *testing.T) {
	sink := newTestSink(t)
	base := time.Now().UTC()

	entries := []Entry{
		{Timestamp: base.Add(2 * time.Minute), ActorID: "emp-1", Action: "transaction_confirmed", Resource: "transaction", ResourceID: "tx-1", Success: true, Retention: RetentionFinancial},
		{Timestamp: base, ActorID: "emp-1", Action: "transaction_initiated", Resource: "transaction", ResourceID: "tx-1", Success: true, Retention: RetentionFinancial},
		{Timestamp: base.Add(time.Minute), ActorID: "emp-2", Action: "punch_in", Resource: "punch_record", ResourceID: "p-1", Success: true, Retention: RetentionAttendance},
	}
	for _, e := range entries {
		if err := sink.Append(e); err != nil {
			t.Fatalf("Append(%s) error: %v", e.Action, err)
		}
	}

	got, err := sink.ListByResource("transaction", "tx-1")
	if err != nil {
		t.Fatalf("ListByResource error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for tx-1, got %d", len(got))
	}
	if got[0].Action != "transaction_initiated" || got[1].Action != "transaction_confirmed" {
		t.Fatalf("entries not in chronological order: %s, %s", got[0].Action, got[1].Action)
	}
	if got[0].ID == "" {
		t.Fatal("Append must assign an ID when none is provided")
	}
	if got[0].Retention.Category != "financial" || got[0].Retention.RetentionPeriodDays != 2555 {
		t.Fatalf("retention tag not round-tripped: %+v", got[0].Retention)
	}
}

func TestSweepRespectsRetentionAndLegalHold(t *testing.T) {
	sink := newTestSink(t)
	now := time.Now().UTC()
	old := now.AddDate(-3, 0, 0) // past attendance retention, inside financial

	cases := []Entry{
		{ID: "purgeable", Timestamp: old, ActorID: "a", Action: "punch_in", Resource: "punch_record", ResourceID: "p1", Success: true, Retention: RetentionAttendance},
		{ID: "held", Timestamp: old, ActorID: "a", Action: "punch_in", Resource: "punch_record", ResourceID: "p2", Success: true,
			Retention: RetentionTag{Category: "attendance", RetentionPeriodDays: 730, AutoDelete: true, LegalHold: true}},
		{ID: "financial", Timestamp: old, ActorID: "a", Action: "transaction_confirmed", Resource: "transaction", ResourceID: "t1", Success: true, Retention: RetentionFinancial},
		{ID: "recent", Timestamp: now.AddDate(0, 0, -1), ActorID: "a", Action: "punch_out", Resource: "punch_record", ResourceID: "p3", Success: true, Retention: RetentionAttendance},
	}
	for _, e := range cases {
		if err := sink.Append(e); err != nil {
			t.Fatalf("Append(%s) error: %v", e.ID, err)
		}
	}

	purged, err := sink.Sweep(now)
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged entry, got %d", purged)
	}

	for _, tc := range []struct {
		resource   string
		resourceID string
		want       int
	}{
		{"punch_record", "p1", 0},
		{"punch_record", "p2", 1},
		{"transaction", "t1", 1},
		{"punch_record", "p3", 1},
	} {
		got, err := sink.ListByResource(tc.resource, tc.resourceID)
		if err != nil {
			t.Fatalf("ListByResource(%s) error: %v", tc.resourceID, err)
		}
		if len(got) != tc.want {
			t.Fatalf("resource %s: expected %d entries after sweep, got %d", tc.resourceID, tc.want, len(got))
		}
	}

	// A second sweep finds nothing new.
	purged, err = sink.Sweep(now)
	if err != nil {
		t.Fatalf("second Sweep error: %v", err)
	}
	if purged != 0 {
		t.Fatalf("expected idempotent sweep, purged %d", purged)
	}
}

func TestSetLegalHold(t *testing.T) {
	sink := newTestSink(t)
	e := Entry{ID: "e1", ActorID: "a", Action: "punch_in", Resource: "punch_record", ResourceID: "p1", Success: true, Retention: RetentionAttendance}
	if err := sink.Append(e); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	if err := sink.SetLegalHold("e1", true); err != nil {
		t.Fatalf("SetLegalHold error: %v", err)
	}
	got, err := sink.ListByResource("punch_record", "p1")
	if err != nil || len(got) != 1 {
		t.Fatalf("ListByResource: %v, %d entries", err, len(got))
	}
	if !got[0].Retention.LegalHold {
		t.Fatal("legal hold not set")
	}

	if err := sink.SetLegalHold("missing", true); err == nil {
		t.Fatal("expected error for unknown entry")
	}
}
