package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// SessionStore defines the persistence contract for session tokens.
type SessionStore interface {
	Save(token, username, role string, expiresAt time.Time) error
	Get(token string) (SessionRecord, bool, error)
	Delete(token string) error
	PurgeExpired(now time.Time) error
}

// SessionRecord captures a session row retrieved from the backing store.
// Role is frozen at login time; a role change on the account does not
// propagate to live sessions.
type SessionRecord struct {
	Token     string
	Username  string
	Role      string
	ExpiresAt time.Time
}

// SessionOption configures a SessionManager instance.
type SessionOption func(*SessionManager)

// WithStore injects a custom SessionStore implementation.
func WithStore(store SessionStore) SessionOption {
	return func(m *SessionManager) {
		m.store = store
	}
}

// WithTokenLength sets the token length used for newly created sessions.
func WithTokenLength(length int) SessionOption {
	return func(m *SessionManager) {
		if length > 0 {
			m.tokenLength = length
		}
	}
}

// SessionManager coordinates session creation and validation against a backing
// store. Sessions expire after the configured idle timeout; every successful
// Validate slides the expiry forward.
type SessionManager struct {
	store        SessionStore
	idleTimeout  time.Duration
	tokenLength  int
	tokenFactory func(int) (string, error)
}

// DefaultIdleTimeout is the idle expiry applied when none is configured.
const DefaultIdleTimeout = 30 * time.Minute

// NewSessionManager constructs a SessionManager with the provided idle timeout
// and options. The manager defaults to a 30-minute idle timeout and an
// in-memory store for local development when no store is supplied.
func NewSessionManager(idleTimeout time.Duration, opts ...SessionOption) *SessionManager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	manager := &SessionManager{
		idleTimeout:  idleTimeout,
		tokenLength:  32,
		tokenFactory: generateToken,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.store == nil {
		manager.store = NewMemorySessionStore()
	}
	return manager
}

// Create issues a new session token bound to the provided username and role.
func (m *SessionManager) Create(username, role string) (string, time.Time, error) {
	if username == "" {
		return "", time.Time{}, ErrUsernameRequired
	}
	if role == "" {
		return "", time.Time{}, ErrRoleRequired
	}
	token, err := m.tokenFactory(m.tokenLength)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := time.Now().Add(m.idleTimeout)
	if err := m.store.Save(token, username, role, expiresAt.UTC()); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate checks the backing store for the provided token and returns the
// associated session when live. A successful validation refreshes the idle
// expiry; an expired token is deleted and reported as invalid. Store I/O
// failures are returned as errors rather than treated as a missing session.
func (m *SessionManager) Validate(token string) (SessionRecord, bool, error) {
	if token == "" {
		return SessionRecord{}, false, nil
	}
	record, ok, err := m.store.Get(token)
	if err != nil {
		return SessionRecord{}, false, err
	}
	if !ok {
		return SessionRecord{}, false, nil
	}
	now := time.Now()
	if now.After(record.ExpiresAt) {
		_ = m.store.Delete(token)
		return SessionRecord{}, false, nil
	}
	refreshTo := now.Add(m.idleTimeout)
	if refreshTo.After(record.ExpiresAt) {
		if err := m.store.Save(record.Token, record.Username, record.Role, refreshTo.UTC()); err != nil {
			return SessionRecord{}, false, err
		}
		record.ExpiresAt = refreshTo
	}
	return record, true, nil
}

// Revoke deletes the session token from the backing store.
func (m *SessionManager) Revoke(token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(token)
}

// PurgeExpired removes any expired sessions from the backing store.
func (m *SessionManager) PurgeExpired() error {
	return m.store.PurgeExpired(time.Now())
}

// IdleTimeout reports the configured sliding idle expiry.
func (m *SessionManager) IdleTimeout() time.Duration {
	return m.idleTimeout
}

// Ping verifies the underlying session store is reachable when it exposes a ping method.
func (m *SessionManager) Ping(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if m.store == nil {
		return nil
	}
	if pinger, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// ErrUsernameRequired is returned when attempting to create a session without a username.
var ErrUsernameRequired = errors.New("username is required")

// ErrRoleRequired is returned when attempting to create a session without a role.
var ErrRoleRequired = errors.New("role is required")
