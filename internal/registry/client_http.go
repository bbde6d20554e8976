package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// HTTPClient speaks the registry's JSON API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for baseURL. timeout bounds each request
// independently of any context deadline.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type policyList struct {
	Policies []Policy `json:"policies"`
}

func (c *HTTPClient) FindPolicyAndInsured(ctx context.Context, creds Credentials, policyNumber string) (*Policy, error) {
	const op = "find_policy"
	var p Policy
	if err := c.get(ctx, op, creds, "/v1/policies/"+url.PathEscape(policyNumber), nil, &p); err != nil {
		return nil, err
	}
	if p.PolicyNumber == "" {
		return nil, newError(ErrorBadData, op, "response has no policy number", nil)
	}
	return &p, nil
}

func (c *HTTPClient) FindByVehicle(ctx context.Context, creds Credentials, registrationNumber string) ([]Policy, error) {
	return c.search(ctx, "find_by_vehicle", creds, url.Values{"registration_number": {registrationNumber}})
}

func (c *HTTPClient) FindByChassis(ctx context.Context, creds Credentials, chassisNumber string) ([]Policy, error) {
	return c.search(ctx, "find_by_chassis", creds, url.Values{"chassis_number": {chassisNumber}})
}

func (c *HTTPClient) search(ctx context.Context, op string, creds Credentials, q url.Values) ([]Policy, error) {
	var list policyList
	if err := c.get(ctx, op, creds, "/v1/policies", q, &list); err != nil {
		return nil, err
	}
	return list.Policies, nil
}

func (c *HTTPClient) get(ctx context.Context, op string, creds Credentials, path string, q url.Values, out any) error {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return newError(ErrorBadData, op, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if creds.Username != "" {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return newError(ErrorTimeout, op, "request timed out", err)
		}
		return newError(ErrorOutage, op, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return newError(ErrorOutage, op, "read response", err)
	}
	if err := statusError(op, resp.StatusCode); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return newError(ErrorBadData, op, "decode response", err)
	}
	return nil
}

func statusError(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return newError(ErrorNotFound, op, "no matching record", nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(ErrorAuthentication, op, "credentials rejected", nil)
	case status == http.StatusTooManyRequests:
		return newError(ErrorRateLimited, op, "rate limited", nil)
	case status >= 500:
		return newError(ErrorOutage, op, fmt.Sprintf("registry returned %d", status), nil)
	default:
		return newError(ErrorBadData, op, fmt.Sprintf("unexpected status %d", status), nil)
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
