package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// ErrInvalidUserID rejects session creation without a user identifier.
var ErrInvalidUserID = errors.New("userID is required")

// SessionStore persists issued session tokens.
type SessionStore interface {
	Save(token, userID string, expiresAt, absoluteExpiresAt time.Time) error
	Get(token string) (SessionRecord, bool, error)
	Delete(token string) error
	PurgeExpired(now time.Time) error
}

// SessionRecord is one session as the backing store returns it.
type SessionRecord struct {
	Token             string
	UserID            string
	ExpiresAt         time.Time
	AbsoluteExpiresAt time.Time
}

type SessionOption func(*SessionManager)

// WithStore swaps the backing store; the default is in-memory.
func WithStore(store SessionStore) SessionOption {
	return func(m *SessionManager) {
		m.store = store
	}
}

// WithTokenLength overrides the random byte length of new tokens.
func WithTokenLength(length int) SessionOption {
	return func(m *SessionManager) {
		if length > 0 {
			m.tokenLength = length
		}
	}
}

// WithIdleTimeout makes sessions lapse after a period of inactivity.
// Validate slides the expiry forward on each use, capped at the absolute TTL.
func WithIdleTimeout(timeout time.Duration) SessionOption {
	return func(m *SessionManager) {
		if timeout > 0 {
			m.idleTimeout = timeout
		}
	}
}

// SessionManager issues, validates, and revokes session tokens against a
// SessionStore.
type SessionManager struct {
	store       SessionStore
	maxTTL      time.Duration
	idleTimeout time.Duration
	tokenLength int
	mintToken   func(int) (string, error)
}

// NewSessionManager builds a manager with the given absolute TTL (7 days when
// zero). Without WithStore the sessions live in process memory.
func NewSessionManager(ttl time.Duration, opts ...SessionOption) *SessionManager {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	manager := &SessionManager{
		maxTTL:      ttl,
		tokenLength: 32,
		mintToken:   randomToken,
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

// Create issues a fresh token for userID and returns it with its expiry.
func (m *SessionManager) Create(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrInvalidUserID
	}
	token, err := m.mintToken(m.tokenLength)
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now()
	absoluteExpiresAt := now.Add(m.maxTTL)
	expiresAt := absoluteExpiresAt
	if m.idleTimeout > 0 {
		expiresAt = now.Add(m.idleTimeout)
		if expiresAt.After(absoluteExpiresAt) {
			expiresAt = absoluteExpiresAt
		}
	}
	if err := m.store.Save(token, userID, expiresAt.UTC(), absoluteExpiresAt.UTC()); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate resolves a token to its user. Expired tokens are deleted on sight;
// live ones get their idle expiry refreshed, never past the absolute deadline.
func (m *SessionManager) Validate(token string) (string, time.Time, bool, error) {
	if token == "" {
		return "", time.Time{}, false, nil
	}
	record, ok, err := m.store.Get(token)
	if err != nil {
		return "", time.Time{}, false, err
	}
	if !ok {
		return "", time.Time{}, false, nil
	}
	now := time.Now()
	absoluteExpiresAt := record.AbsoluteExpiresAt
	if absoluteExpiresAt.IsZero() {
		absoluteExpiresAt = record.ExpiresAt
	}
	if now.After(record.ExpiresAt) || now.After(absoluteExpiresAt) {
		_ = m.store.Delete(token)
		return "", time.Time{}, false, nil
	}
	expiresAt := record.ExpiresAt
	if m.idleTimeout > 0 {
		refreshTo := now.Add(m.idleTimeout)
		if refreshTo.After(absoluteExpiresAt) {
			refreshTo = absoluteExpiresAt
		}
		if refreshTo.After(record.ExpiresAt) {
			if err := m.store.Save(record.Token, record.UserID, refreshTo.UTC(), absoluteExpiresAt.UTC()); err != nil {
				return "", time.Time{}, false, err
			}
			expiresAt = refreshTo
		}
	}
	return record.UserID, expiresAt, true, nil
}

// Revoke forgets the token. Revoking an unknown token is not an error.
func (m *SessionManager) Revoke(token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(token)
}

// PurgeExpired sweeps expired sessions out of the backing store.
func (m *SessionManager) PurgeExpired() error {
	return m.store.PurgeExpired(time.Now())
}

// Ping reports store health when the store exposes a ping method.
func (m *SessionManager) Ping(ctx context.Context) error {
	if m == nil || m.store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if pinger, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func randomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
