package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/username/crewledger/backend/src/logger"
	"github.com/username/crewledger/backend/src/models"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func testRecord() *models.PunchRecord {
	return &models.PunchRecord{
		ID:             "punch-1",
		EmployeeID:     "emp-1",
		OrganizationID: "org-1",
		Type:           models.PunchIn,
		ClientTime:     time.Date(2026, 8, 12, 9, 0, 0, 0, time.UTC),
	}
}

func TestSyncPunchSuccess(t *testing.T) {
	serverTime := time.Date(2026, 8, 12, 9, 0, 3, 0, time.UTC)
	var gotIdempotencyKey, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/punches" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		if body["id"] != "punch-1" || body["type"] != "in" {
			t.Errorf("unexpected body: %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"server_time": serverTime})
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, APISecret: "secret"})
	got, err := client.SyncPunch(context.Background(), testRecord())
	if err != nil {
		t.Fatalf("SyncPunch error: %v", err)
	}
	if !got.Equal(serverTime) {
		t.Fatalf("expected server time %v, got %v", serverTime, got)
	}
	if gotIdempotencyKey != "punch-1" {
		t.Fatalf("expected idempotency key punch-1, got %q", gotIdempotencyKey)
	}
	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Fatalf("expected bearer service token, got %q", gotAuth)
	}
}

func TestSyncPunchServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, APISecret: "secret"})
	if _, err := client.SyncPunch(context.Background(), testRecord()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSyncPunchClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "employee unknown", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, APISecret: "secret"})
	_, err := client.SyncPunch(context.Background(), testRecord())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "employee unknown") {
		t.Fatalf("expected rejection detail in error, got %v", err)
	}
}

func TestSyncPunchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	client := NewClient(Options{BaseURL: srv.URL, APISecret: "secret"})
	if _, err := client.SyncPunch(context.Background(), testRecord()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestConfirmTransaction(t *testing.T) {
	confirmedAt := time.Date(2026, 8, 12, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transactions/tx-1/confirm" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["actor_id"] != "emp-1" {
			t.Errorf("expected actor_id emp-1, got %v", body["actor_id"])
		}
		json.NewEncoder(w).Encode(map[string]any{"confirmed_at": confirmedAt})
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, APISecret: "secret"})
	tx := &models.Transaction{ID: "tx-1", OrganizationID: "org-1", InitiatorID: "manager-1",
		RecipientID: "emp-1", Amount: 5000, Purpose: models.PurposePayout, ConfirmedBy: "emp-1"}
	got, err := client.ConfirmTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("ConfirmTransaction error: %v", err)
	}
	if !got.Equal(confirmedAt) {
		t.Fatalf("expected %v, got %v", confirmedAt, got)
	}
}

func TestConfirmTransactionMissingTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, APISecret: "secret"})
	tx := &models.Transaction{ID: "tx-1", Purpose: models.PurposePayout}
	if _, err := client.ConfirmTransaction(context.Background(), tx); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestOverrideTransaction(t *testing.T) {
	overriddenAt := time.Date(2026, 8, 12, 11, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transactions/tx-1/override" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["reason"] != "phone lost" {
			t.Errorf("expected override reason, got %v", body["reason"])
		}
		json.NewEncoder(w).Encode(map[string]any{"overridden_at": overriddenAt})
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, APISecret: "secret"})
	tx := &models.Transaction{ID: "tx-1", Purpose: models.PurposePayout,
		OverriddenBy: "supervisor-1", OverrideReason: "phone lost"}
	got, err := client.OverrideTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("OverrideTransaction error: %v", err)
	}
	if !got.Equal(overriddenAt) {
		t.Fatalf("expected %v, got %v", overriddenAt, got)
	}
}
