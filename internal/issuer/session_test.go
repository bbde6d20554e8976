package issuer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "certo",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("issuer-owned-key"))
	require.NoError(t, err)
	return tok
}

func TestSessionFromToken(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	t.Run("reads exp claim", func(t *testing.T) {
		exp := now.Add(2 * time.Hour)
		s := SessionFromToken(signedToken(t, exp), now, time.Minute)
		assert.Equal(t, exp.Unix(), s.ExpiresAt.Unix())
	})

	t.Run("opaque token falls back to ttl", func(t *testing.T) {
		s := SessionFromToken("opaque-token", now, time.Minute)
		assert.Equal(t, now.Add(time.Minute), s.ExpiresAt)
		assert.Equal(t, "opaque-token", s.Token)
	})

	t.Run("validity keeps skew in reserve", func(t *testing.T) {
		s := Session{Token: "t", ExpiresAt: now.Add(time.Minute)}
		assert.True(t, s.ValidAt(now, 30*time.Second))
		assert.False(t, s.ValidAt(now.Add(31*time.Second), 30*time.Second))
		assert.False(t, Session{}.ValidAt(now, 0))
	})
}

type countingLogin struct {
	calls atomic.Int32
	ttl   time.Duration
	now   func() time.Time
	err   error
	delay time.Duration
}

func (c *countingLogin) Login(context.Context, Credentials) (Session, error) {
	n := c.calls.Add(1)
	time.Sleep(c.delay)
	if c.err != nil {
		return Session{}, c.err
	}
	return Session{Token: "token-" + string(rune('0'+n)), ExpiresAt: c.now().Add(c.ttl)}, nil
}

func (c *countingLogin) SubmitProduction(context.Context, Session, ProductionRequest) (SubmitResult, error) {
	return SubmitResult{}, nil
}
func (c *countingLogin) CheckStatus(context.Context, Session, string) (StatusResult, error) {
	return StatusResult{}, nil
}
func (c *countingLogin) Cancel(context.Context, Session, string, string) error  { return nil }
func (c *countingLogin) Suspend(context.Context, Session, string, string) error { return nil }
func (c *countingLogin) Download(context.Context, Session, string) (DownloadResult, error) {
	return DownloadResult{}, nil
}

func TestLoginSource_ReusesUntilExpiry(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	login := &countingLogin{ttl: 10 * time.Minute, now: clock}
	src := NewLoginSource(login, Credentials{Username: "u"}, WithSourceClock(clock), WithSkew(time.Minute))
	ctx := context.Background()

	s1, err := src.Session(ctx)
	require.NoError(t, err)
	s2, err := src.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.EqualValues(t, 1, login.calls.Load())

	now = now.Add(9*time.Minute + time.Second)
	s3, err := src.Session(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, s1.Token, s3.Token)
	assert.EqualValues(t, 2, login.calls.Load())
}

func TestLoginSource_SingleLoginUnderConcurrency(t *testing.T) {
	login := &countingLogin{ttl: time.Hour, now: time.Now, delay: 20 * time.Millisecond}
	src := NewLoginSource(login, Credentials{})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := src.Session(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, login.calls.Load())
}

func TestLoginSource_Invalidate(t *testing.T) {
	login := &countingLogin{ttl: time.Hour, now: time.Now}
	src := NewLoginSource(login, Credentials{})
	ctx := context.Background()

	s1, err := src.Session(ctx)
	require.NoError(t, err)

	// a stale token from another caller does not drop the current one
	src.Invalidate(Session{Token: "older"})
	again, err := src.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, s1, again)

	src.Invalidate(s1)
	s2, err := src.Session(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, s1.Token, s2.Token)
}

func TestLoginSource_LoginError(t *testing.T) {
	loginErr := errors.New("connection refused")
	src := NewLoginSource(&countingLogin{err: loginErr, now: time.Now}, Credentials{})
	_, err := src.Session(context.Background())
	assert.ErrorIs(t, err, loginErr)
}
