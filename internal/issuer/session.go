package issuer

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultSessionTTL applies when the token carries no readable expiry.
	DefaultSessionTTL = 15 * time.Minute
	defaultSkew       = 30 * time.Second
)

// SessionFromToken builds a session, reading the expiry from the token's
// JWT exp claim. The signature is not checked: the issuer owns the key and
// the token is only ever sent back to it.
func SessionFromToken(token string, now time.Time, fallbackTTL time.Duration) Session {
	s := Session{Token: token, ExpiresAt: now.Add(fallbackTTL)}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return s
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s
}

// LoginSource logs in on demand and reuses the session until it nears
// expiry. Concurrent callers share a single login.
type LoginSource struct {
	client Client
	creds  Credentials
	skew   time.Duration
	now    func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	current Session
}

type SourceOption func(*LoginSource)

func WithSkew(d time.Duration) SourceOption {
	return func(s *LoginSource) { s.skew = d }
}

func WithSourceClock(now func() time.Time) SourceOption {
	return func(s *LoginSource) { s.now = now }
}

func NewLoginSource(client Client, creds Credentials, opts ...SourceOption) *LoginSource {
	s := &LoginSource{client: client, creds: creds, skew: defaultSkew, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LoginSource) Session(ctx context.Context) (Session, error) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur.ValidAt(s.now(), s.skew) {
		return cur, nil
	}

	v, err, _ := s.group.Do("login", func() (any, error) {
		// another caller may have logged in while we waited
		s.mu.Lock()
		cur := s.current
		s.mu.Unlock()
		if cur.ValidAt(s.now(), s.skew) {
			return cur, nil
		}
		sess, err := s.client.Login(ctx, s.creds)
		if err != nil {
			return Session{}, err
		}
		s.mu.Lock()
		s.current = sess
		s.mu.Unlock()
		return sess, nil
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

func (s *LoginSource) Invalidate(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Token == session.Token {
		s.current = Session{}
	}
}
