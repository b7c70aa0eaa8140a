// Package session manages browser-facing login sessions: cookie-bound
// identifiers that rotate on privilege-relevant events and can be
// revoked outright on logout.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nimbusid/authgateway/cache"
	"github.com/nimbusid/authgateway/pkg/crypto"
	"github.com/nimbusid/authgateway/storage"
)

var ErrInvalidSession = errors.New("session: invalid or expired")

const InactivityTTL = 30 * 24 * time.Hour

// Service manages sessions in storage. Its cache holds only in-flight login
// state (PutLoginState/ConsumeLoginState); session lookups and revocation
// checks go to storage on every call and are not cached.
type Service struct {
	store storage.Storage
	cache *cache.Cache
	clock clockwork.Clock
}

func New(store storage.Storage, c *cache.Cache, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{store: store, cache: c, clock: clock}
}

// Create starts a new session for subject and returns its id, which the
// caller sets as an HttpOnly cookie value.
func (s *Service) Create(ctx context.Context, subject, deviceFingerprint string) (storage.Session, error) {
	now := s.clock.Now().UTC()
	sess := storage.Session{
		ID:                storage.NewID(),
		Subject:           subject,
		IssuedAt:          now,
		LastSeenAt:        now,
		DeviceFingerprint: deviceFingerprint,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return storage.Session{}, err
	}
	return sess, nil
}

// Validate looks up a session by id, rejecting revoked sessions and those
// whose LastSeenAt is more than InactivityTTL ago. It does not update
// LastSeenAt, so the timeout runs from the session's creation or last
// rotation.
func (s *Service) Validate(ctx context.Context, id string) (storage.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Session{}, ErrInvalidSession
		}
		return storage.Session{}, err
	}
	now := s.clock.Now().UTC()
	if sess.Revoked || now.Sub(sess.LastSeenAt) > InactivityTTL {
		return storage.Session{}, ErrInvalidSession
	}
	return sess, nil
}

// Rotate replaces a session with a fresh id bound to the same subject,
// used after a privilege-relevant event like a password change.
func (s *Service) Rotate(ctx context.Context, oldID string) (storage.Session, error) {
	old, err := s.store.GetSession(ctx, oldID)
	if err != nil {
		return storage.Session{}, err
	}
	now := s.clock.Now().UTC()
	next := storage.Session{
		ID:                storage.NewID(),
		Subject:           old.Subject,
		IssuedAt:          now,
		LastSeenAt:        now,
		DeviceFingerprint: old.DeviceFingerprint,
	}
	if err := s.store.RotateSession(ctx, oldID, next); err != nil {
		return storage.Session{}, err
	}
	return next, nil
}

func (s *Service) Revoke(ctx context.Context, id string) error {
	return s.store.RevokeSession(ctx, id)
}

// PutLoginState stashes a CSRF/state value for an in-flight browser login,
// single-use and short-lived, entirely in cache: losing it only forces the
// user to restart the login, so no durable storage is warranted.
func (s *Service) PutLoginState(ctx context.Context, state, redirectURI string) bool {
	return s.cache.PutOnce(ctx, loginStateKey(state), redirectURI, 10*time.Minute)
}

// ConsumeLoginState verifies state was issued by PutLoginState and was not
// already consumed, returning the associated redirect_uri.
func (s *Service) ConsumeLoginState(ctx context.Context, state string) (string, bool) {
	return s.cache.ConsumeOnce(ctx, loginStateKey(state))
}

func loginStateKey(state string) string {
	return "authgateway:login_state:" + crypto.HashToken(state)
}
