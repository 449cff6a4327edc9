package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/username/crewledger/backend/src/config"
	"github.com/username/crewledger/backend/src/logger"
	"github.com/username/crewledger/backend/src/security"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	config.Cfg = &config.AppConfig{AccessTokenExpiry: time.Hour}
	os.Exit(m.Run())
}

func TestAuthMiddleware(t *testing.T) {
	authService := security.NewAuthService("0123456789abcdef0123456789abcdef")
	token, err := authService.GenerateToken("emp-1")
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	var gotActor string
	handler := AuthMiddleware(authService)(func(w http.ResponseWriter, r *http.Request) {
		gotActor, _ = GetActorIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	cases := []struct {
		name       string
		authHeader string
		wantStatus int
		wantActor  string
	}{
		{"bearer token", "Bearer " + token, http.StatusOK, "emp-1"},
		{"raw token", token, http.StatusOK, "emp-1"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"garbage token", "Bearer not-a-token", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		gotActor = ""
		req := httptest.NewRequest(http.MethodGet, "/api/punches/pending", nil)
		if tc.authHeader != "" {
			req.Header.Set("Authorization", tc.authHeader)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != tc.wantStatus {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.wantStatus, rr.Code)
		}
		if gotActor != tc.wantActor {
			t.Fatalf("%s: expected actor %q, got %q", tc.name, tc.wantActor, gotActor)
		}
	}
}

func TestWindowBounds(t *testing.T) {
	now := time.Date(2026, 8, 12, 15, 30, 0, 0, time.UTC) // a Wednesday

	from, to, err := windowBounds("today", now)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if !from.Equal(time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2026, 8, 13, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("today bounds: [%v, %v)", from, to)
	}

	from, to, err = windowBounds("week", now)
	if err != nil {
		t.Fatalf("week: %v", err)
	}
	if !from.Equal(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("week bounds: [%v, %v)", from, to)
	}

	from, to, err = windowBounds("month", now)
	if err != nil {
		t.Fatalf("month: %v", err)
	}
	if !from.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("month bounds: [%v, %v)", from, to)
	}

	// Sunday belongs to the week that started the previous Monday.
	sunday := time.Date(2026, 8, 16, 10, 0, 0, 0, time.UTC)
	from, _, err = windowBounds("week", sunday)
	if err != nil {
		t.Fatalf("sunday week: %v", err)
	}
	if !from.Equal(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("sunday week start: %v", from)
	}

	if _, _, err := windowBounds("quarter", now); err == nil {
		t.Fatal("expected error for unknown window")
	}
}
