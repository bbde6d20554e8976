package issuer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIssuerServer(t *testing.T, mux *http.ServeMux) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, 2*time.Second)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPClient_Login(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, exp)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "right" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": -36})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": 0, "token": token})
	})
	client := newIssuerServer(t, mux)

	s, err := client.Login(context.Background(), Credentials{Username: "certo", Password: "right"})
	require.NoError(t, err)
	assert.Equal(t, token, s.Token)
	assert.True(t, exp.Equal(s.ExpiresAt))

	_, err = client.Login(context.Background(), Credentials{Username: "certo", Password: "wrong"})
	re, ok := AsRejected(err)
	require.True(t, ok)
	assert.Equal(t, -36, re.Code)
}

func TestHTTPClient_SubmitProduction(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/certificates", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req ProductionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.PolicyNumber {
		case "OK":
			writeJSON(w, http.StatusOK, map[string]any{"status": 1, "request_number": "REQ-1"})
		case "REJECT":
			writeJSON(w, http.StatusOK, map[string]any{"status": -12, "message": "vehicle already certified"})
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	})
	client := newIssuerServer(t, mux)
	sess := Session{Token: "tok"}
	ctx := context.Background()

	res, err := client.SubmitProduction(ctx, sess, ProductionRequest{PolicyNumber: "OK"})
	require.NoError(t, err)
	assert.Equal(t, SubmitResult{RequestNumber: "REQ-1", Status: 1}, res)

	_, err = client.SubmitProduction(ctx, sess, ProductionRequest{PolicyNumber: "REJECT"})
	re, ok := AsRejected(err)
	require.True(t, ok)
	assert.Equal(t, -12, re.Code)
	assert.False(t, CountsAsFailure(err))

	_, err = client.SubmitProduction(ctx, sess, ProductionRequest{PolicyNumber: "DOWN"})
	require.Error(t, err)
	assert.True(t, CountsAsFailure(err))
}

func TestHTTPClient_CheckStatusAndDownload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/requests/{n}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("n") {
		case "REQ-1":
			writeJSON(w, http.StatusOK, map[string]any{"status": 4, "certificate_number": "C-77", "download_locator": "doc/77"})
		case "REQ-ERR":
			writeJSON(w, http.StatusOK, map[string]any{"status": -5})
		}
	})
	mux.HandleFunc("GET /v1/certificates/{ref}/download", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": 0, "url": "https://issuer.example/doc/" + r.PathValue("ref")})
	})
	client := newIssuerServer(t, mux)
	ctx := context.Background()

	st, err := client.CheckStatus(ctx, Session{Token: "t"}, "REQ-1")
	require.NoError(t, err)
	assert.Equal(t, StatusResult{Status: 4, CertificateNumber: "C-77", DownloadLocator: "doc/77"}, st)

	st, err = client.CheckStatus(ctx, Session{Token: "t"}, "REQ-ERR")
	require.NoError(t, err)
	assert.Equal(t, -5, st.Status)

	dl, err := client.Download(ctx, Session{Token: "t"}, "CRT-20260101-ABCDEF12")
	require.NoError(t, err)
	assert.Equal(t, "https://issuer.example/doc/CRT-20260101-ABCDEF12", dl.Locator)
}

func TestHTTPClient_OperatorActions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/certificates/{ref}/cancel", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "customer request", body["reason"])
		writeJSON(w, http.StatusOK, map[string]any{"status": 0})
	})
	mux.HandleFunc("POST /v1/certificates/{ref}/suspend", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, nil)
	})
	client := newIssuerServer(t, mux)
	ctx := context.Background()

	require.NoError(t, client.Cancel(ctx, Session{Token: "t"}, "REF", "customer request"))
	assert.ErrorIs(t, client.Suspend(ctx, Session{Token: "t"}, "REF", "fraud"), ErrUnauthorized)
}
