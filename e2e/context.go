package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"certo/e2e/steps/certificate"
)

// Settings point the suite at a deployment.
type Settings struct {
	BaseURL    string
	SigningKey string
	Issuer     string
	Operator   string
	Policy     certificate.Policy
}

// TestContext holds per-scenario HTTP state.
type TestContext struct {
	settings Settings
	client   *http.Client
	token    string

	lastStatus  int
	lastHeaders http.Header
	lastBody    []byte
	values      map[string]string
}

func NewTestContext(s Settings) *TestContext {
	return &TestContext{
		settings: s,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Reset clears scenario state and signs a fresh operator token.
func (tc *TestContext) Reset() error {
	tc.lastStatus = 0
	tc.lastHeaders = nil
	tc.lastBody = nil
	tc.values = map[string]string{"run": strconv.FormatInt(time.Now().UnixNano(), 36)}

	claims := jwt.RegisteredClaims{
		Subject:   tc.settings.Operator,
		Issuer:    tc.settings.Issuer,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tc.settings.SigningKey))
	if err != nil {
		return fmt.Errorf("sign operator token: %w", err)
	}
	tc.token = token
	return nil
}

// SandboxPolicy is a policy expected to exist in the target registry.
func (tc *TestContext) SandboxPolicy() certificate.Policy { return tc.settings.Policy }

// Remember stores a value under name for later steps; Recall reads it back.
func (tc *TestContext) Remember(name, value string) { tc.values[name] = value }

func (tc *TestContext) Recall(name string) string { return tc.values[name] }

// Expand replaces {name} placeholders with remembered values.
func (tc *TestContext) Expand(s string) string {
	for k, v := range tc.values {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}

func (tc *TestContext) POST(ctx context.Context, path string, body any, headers map[string]string) error {
	return tc.do(ctx, http.MethodPost, path, body, headers)
}

func (tc *TestContext) GET(ctx context.Context, path string, headers map[string]string) error {
	return tc.do(ctx, http.MethodGet, path, nil, headers)
}

func (tc *TestContext) do(ctx context.Context, method, path string, body any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, tc.settings.BaseURL+tc.Expand(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tc.token != "" {
		req.Header.Set("Authorization", "Bearer "+tc.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.lastStatus = resp.StatusCode
	tc.lastHeaders = resp.Header
	return nil
}

func (tc *TestContext) Status() int { return tc.lastStatus }

func (tc *TestContext) Header(name string) string { return tc.lastHeaders.Get(name) }

func (tc *TestContext) Body() []byte { return tc.lastBody }

// ResponseField reads a top level field of the last JSON response.
func (tc *TestContext) ResponseField(field string) (any, error) {
	var m map[string]any
	if err := json.Unmarshal(tc.lastBody, &m); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	v, ok := m[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response %s", field, tc.lastBody)
	}
	return v, nil
}
