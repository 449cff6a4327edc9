// Package ledger talks to the authoritative remote ledger. Every write is an
// idempotent upsert keyed by the local record's client-generated id, so a
// retried call is a safe no-op on the remote side.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/username/crewledger/backend/src/logger"
	"github.com/username/crewledger/backend/src/models"
	"golang.org/x/time/rate"
)

// ErrUnavailable marks transient failures (timeout, connection refused, 5xx).
// Safe to retry.
var ErrUnavailable = errors.New("ledger unavailable")

// ErrRejected marks permanent rejections (4xx). Retrying will not help.
var ErrRejected = errors.New("ledger rejected request")

// Client is the HTTP remote ledger client.
type Client struct {
	baseURL        string
	apiSecret      string
	httpClient     *http.Client
	limiter        *rate.Limiter
	confirmTimeout time.Duration
	probeTimeout   time.Duration
}

type Options struct {
	BaseURL        string
	APISecret      string
	ConfirmTimeout time.Duration // transaction confirm/override calls
	ProbeTimeout   time.Duration // punch sync and connectivity probes
	RatePerSecond  int
}

func NewClient(opts Options) *Client {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 8 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 20
	}
	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		apiSecret:      opts.APISecret,
		httpClient:     &http.Client{},
		limiter:        rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RatePerSecond),
		confirmTimeout: opts.ConfirmTimeout,
		probeTimeout:   opts.ProbeTimeout,
	}
}

// serviceToken mints a short-lived HS256 token identifying this device core.
func (c *Client) serviceToken() (string, error) {
	claims := jwt.MapClaims{
		"iss": "crewledger-core",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.apiSecret))
}

type punchUpsertRequest struct {
	ID             string     `json:"id"`
	EmployeeID     string     `json:"employee_id"`
	OrganizationID string     `json:"organization_id"`
	Type           string     `json:"type"`
	ClientTime     time.Time  `json:"client_time"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	Note           string     `json:"note,omitempty"`
}

type punchUpsertResponse struct {
	ServerTime time.Time `json:"server_time"`
}

// SyncPunch upserts one punch record and returns the canonical server
// timestamp the ledger assigned on first acceptance.
func (c *Client) SyncPunch(ctx context.Context, rec *models.PunchRecord) (time.Time, error) {
	body := punchUpsertRequest{
		ID:             rec.ID,
		EmployeeID:     rec.EmployeeID,
		OrganizationID: rec.OrganizationID,
		Type:           rec.Type,
		ClientTime:     rec.ClientTime,
		Latitude:       rec.Latitude,
		Longitude:      rec.Longitude,
		Note:           rec.Note,
	}
	var resp punchUpsertResponse
	if err := c.post(ctx, "/v1/punches", rec.ID, c.probeTimeout, body, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.ServerTime, nil
}

type transactionUpsertRequest struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	InitiatorID    string `json:"initiator_id"`
	RecipientID    string `json:"recipient_id"`
	Amount         int64  `json:"amount"`
	Purpose        string `json:"purpose"`
	ActorID        string `json:"actor_id"`
	Reason         string `json:"reason,omitempty"`
}

type transactionUpsertResponse struct {
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	OverriddenAt *time.Time `json:"overridden_at,omitempty"`
}

// ConfirmTransaction applies the confirmed transaction's balance side effect
// on the ledger (for example debiting a float allocation) and returns the
// canonical confirmation timestamp.
func (c *Client) ConfirmTransaction(ctx context.Context, t *models.Transaction) (time.Time, error) {
	body := transactionUpsertRequest{
		ID:             t.ID,
		OrganizationID: t.OrganizationID,
		InitiatorID:    t.InitiatorID,
		RecipientID:    t.RecipientID,
		Amount:         t.Amount,
		Purpose:        t.Purpose,
		ActorID:        t.ConfirmedBy,
	}
	var resp transactionUpsertResponse
	path := fmt.Sprintf("/v1/transactions/%s/confirm", t.ID)
	if err := c.post(ctx, path, t.ID, c.confirmTimeout, body, &resp); err != nil {
		return time.Time{}, err
	}
	if resp.ConfirmedAt == nil {
		return time.Time{}, fmt.Errorf("%w: confirm response missing confirmed_at", ErrRejected)
	}
	return *resp.ConfirmedAt, nil
}

// OverrideTransaction records the manual override on the ledger.
func (c *Client) OverrideTransaction(ctx context.Context, t *models.Transaction) (time.Time, error) {
	body := transactionUpsertRequest{
		ID:             t.ID,
		OrganizationID: t.OrganizationID,
		InitiatorID:    t.InitiatorID,
		RecipientID:    t.RecipientID,
		Amount:         t.Amount,
		Purpose:        t.Purpose,
		ActorID:        t.OverriddenBy,
		Reason:         t.OverrideReason,
	}
	var resp transactionUpsertResponse
	path := fmt.Sprintf("/v1/transactions/%s/override", t.ID)
	if err := c.post(ctx, path, t.ID, c.confirmTimeout, body, &resp); err != nil {
		return time.Time{}, err
	}
	if resp.OverriddenAt == nil {
		return time.Time{}, fmt.Errorf("%w: override response missing overridden_at", ErrRejected)
	}
	return *resp.OverriddenAt, nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, timeout time.Duration, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding ledger request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	token, err := c.serviceToken()
	if err != nil {
		return fmt.Errorf("signing ledger request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection errors degrade to the retry path.
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding ledger response from %s: %w", path, err)
		}
		return nil
	case resp.StatusCode >= 500:
		logger.L.Warn("Ledger returned server error", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}
