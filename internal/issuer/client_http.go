package issuer

import (
	"bytes"
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

// unauthorizedStatus is the issuer's code for refused credentials.
const unauthorizedStatus = -36

// HTTPClient speaks the issuer's JSON API.
type HTTPClient struct {
	baseURL    string
	http       *http.Client
	sessionTTL time.Duration
	now        func() time.Time
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
	}
}

// envelope is the common response shape. Status is the issuer status code.
type envelope struct {
	Status            int    `json:"status"`
	Message           string `json:"message"`
	Token             string `json:"token"`
	RequestNumber     string `json:"request_number"`
	CertificateNumber string `json:"certificate_number"`
	DownloadLocator   string `json:"download_locator"`
	URL               string `json:"url"`
}

func (c *HTTPClient) Login(ctx context.Context, creds Credentials) (Session, error) {
	body := map[string]string{"username": creds.Username, "password": creds.Password}
	env, err := c.do(ctx, "login", http.MethodPost, "/v1/auth/login", "", body)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return Session{}, &RejectedError{Operation: "login", Code: unauthorizedStatus}
		}
		return Session{}, err
	}
	if err := rejected("login", env); err != nil {
		return Session{}, err
	}
	if env.Token == "" {
		return Session{}, fmt.Errorf("issuer login: response has no token")
	}
	return SessionFromToken(env.Token, c.now(), c.sessionTTL), nil
}

func (c *HTTPClient) SubmitProduction(ctx context.Context, session Session, req ProductionRequest) (SubmitResult, error) {
	env, err := c.do(ctx, "submit", http.MethodPost, "/v1/certificates", session.Token, req)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := rejected("submit", env); err != nil {
		return SubmitResult{}, err
	}
	if env.RequestNumber == "" {
		return SubmitResult{}, fmt.Errorf("issuer submit: response has no request number")
	}
	return SubmitResult{RequestNumber: env.RequestNumber, Status: env.Status}, nil
}

// CheckStatus returns negative codes as a result, not an error: a failed
// production is a status the caller reconciles.
func (c *HTTPClient) CheckStatus(ctx context.Context, session Session, requestNumber string) (StatusResult, error) {
	env, err := c.do(ctx, "check_status", http.MethodGet, "/v1/requests/"+url.PathEscape(requestNumber), session.Token, nil)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{
		Status:            env.Status,
		CertificateNumber: env.CertificateNumber,
		DownloadLocator:   env.DownloadLocator,
		Message:           env.Message,
	}, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, session Session, reference, reason string) error {
	return c.operatorAction(ctx, "cancel", session, reference, reason)
}

func (c *HTTPClient) Suspend(ctx context.Context, session Session, reference, reason string) error {
	return c.operatorAction(ctx, "suspend", session, reference, reason)
}

func (c *HTTPClient) operatorAction(ctx context.Context, op string, session Session, reference, reason string) error {
	path := "/v1/certificates/" + url.PathEscape(reference) + "/" + op
	env, err := c.do(ctx, op, http.MethodPost, path, session.Token, map[string]string{"reason": reason})
	if err != nil {
		return err
	}
	return rejected(op, env)
}

func (c *HTTPClient) Download(ctx context.Context, session Session, reference string) (DownloadResult, error) {
	path := "/v1/certificates/" + url.PathEscape(reference) + "/download"
	env, err := c.do(ctx, "download", http.MethodGet, path, session.Token, nil)
	if err != nil {
		return DownloadResult{}, err
	}
	if err := rejected("download", env); err != nil {
		return DownloadResult{}, err
	}
	if env.URL == "" {
		return DownloadResult{}, fmt.Errorf("issuer download: response has no url")
	}
	return DownloadResult{Locator: env.URL}, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path, token string, in any) (envelope, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return envelope{}, fmt.Errorf("issuer %s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return envelope{}, fmt.Errorf("issuer %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("issuer %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return envelope{}, fmt.Errorf("issuer %s: read response: %w", op, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return envelope{}, ErrUnauthorized
	case resp.StatusCode >= 500:
		return envelope{}, fmt.Errorf("issuer %s: server returned %d", op, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("issuer %s: decode response (HTTP %d): %w", op, resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 && env.Status >= 0 {
		return envelope{}, fmt.Errorf("issuer %s: unexpected HTTP %d", op, resp.StatusCode)
	}
	return env, nil
}

func rejected(op string, env envelope) error {
	if env.Status < 0 {
		return &RejectedError{Operation: op, Code: env.Status, Message: env.Message}
	}
	return nil
}
