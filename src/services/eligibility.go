package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/crewledger/backend/src/logger"
)

const eligibilityCacheKey = "profile_%s"

// HTTPEligibilityChecker queries the remote employee service and caches
// profiles briefly so repeated punches don't hammer the collaborator. A cache
// hit may be up to cacheTTL stale; deactivation takes effect on the next
// cache expiry.
type HTTPEligibilityChecker struct {
	baseURL      string
	httpClient   *http.Client
	profileCache *cache.Cache
}

func NewHTTPEligibilityChecker(baseURL string, probeTimeout, cacheTTL time.Duration) *HTTPEligibilityChecker {
	return &HTTPEligibilityChecker{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: probeTimeout},
		profileCache: cache.New(cacheTTL, 2*cacheTTL),
	}
}

func (c *HTTPEligibilityChecker) Profile(ctx context.Context, employeeID string) (*EmployeeProfile, error) {
	cacheKey := fmt.Sprintf(eligibilityCacheKey, employeeID)
	if cached, found := c.profileCache.Get(cacheKey); found {
		logger.L.Debug("Cache hit for employee profile", "employeeID", employeeID)
		return cached.(*EmployeeProfile), nil
	}

	url := fmt.Sprintf("%s/v1/employees/%s/profile", c.baseURL, employeeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building eligibility request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: eligibility probe: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: employee %s", ErrNotFound, employeeID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: eligibility probe status %d", ErrNetwork, resp.StatusCode)
	}

	var profile EmployeeProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decoding employee profile: %w", err)
	}

	c.profileCache.Set(cacheKey, &profile, cache.DefaultExpiration)
	return &profile, nil
}
