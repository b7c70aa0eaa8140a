// Package apikey implements the lifecycle of long-lived machine
// credentials: create, list, rotate, and revoke, all backed by PBKDF2
// hashing and prefix-based lookup.
package apikey

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nimbusid/authgateway/eventstore"
	"github.com/nimbusid/authgateway/pkg/crypto"
	"github.com/nimbusid/authgateway/storage"
)

var ErrInvalidKey = errors.New("apikey: invalid or revoked key")

const prefixLength = 8

// Service manages API keys for one environment (development or
// production); the caller selects which Prefix namespace to mint into.
type Service struct {
	store  storage.Storage
	clock  clockwork.Clock
	prefix string // e.g. "ak_live_" or "ak_test_"
}

func New(store storage.Storage, clock clockwork.Clock, prefix string) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{store: store, clock: clock, prefix: prefix}
}

// Created is returned once, at creation or rotation time; the plaintext is
// never retrievable again.
type Created struct {
	Key     storage.APIKey
	Plaintext string
}

func (s *Service) newPlaintext() (plaintext, prefix string, err error) {
	random, err := crypto.NewOpaqueToken()
	if err != nil {
		return "", "", err
	}
	plaintext = s.prefix + random
	if len(plaintext) < prefixLength {
		return "", "", errors.New("apikey: generated key shorter than lookup prefix")
	}
	return plaintext, plaintext[:prefixLength], nil
}

// Create mints a new API key for owner with the given name and scopes. ttl
// of zero means the key never expires.
func (s *Service) Create(ctx context.Context, owner, name string, scopes []string, ttl time.Duration) (Created, error) {
	plaintext, prefix, err := s.newPlaintext()
	if err != nil {
		return Created{}, err
	}
	hash, err := crypto.HashAPIKey(plaintext)
	if err != nil {
		return Created{}, err
	}

	now := s.clock.Now().UTC()
	k := storage.APIKey{
		ID:        storage.NewID(),
		Name:      name,
		Owner:     owner,
		Prefix:    prefix,
		Hash:      hash,
		Scopes:    scopes,
		CreatedAt: now,
		Active:    true,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		k.ExpiresAt = &exp
	}

	var created Created
	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateAPIKey(k); err != nil {
			return err
		}
		if _, _, err := eventstore.Append(tx, eventstore.AppendParams{
			AggregateType: "api_key",
			AggregateID:   k.ID,
			EventType:     "api_key.created",
			Payload:       map[string]any{"owner": owner, "name": name, "scopes": scopes},
			Metadata:      storage.EventMetadata{Actor: owner},
			OccurredAt:    now,
		}); err != nil {
			return err
		}
		created = Created{Key: k, Plaintext: plaintext}
		return nil
	})
	return created, err
}

// Verify looks up plaintext by its lookup prefix, verifies the PBKDF2
// hash, rejects expired or inactive keys, and records last-used time.
func (s *Service) Verify(ctx context.Context, plaintext string) (storage.APIKey, error) {
	if len(plaintext) < prefixLength {
		return storage.APIKey{}, ErrInvalidKey
	}
	candidates, err := s.store.GetAPIKeysByPrefix(ctx, plaintext[:prefixLength])
	if err != nil {
		return storage.APIKey{}, err
	}

	now := s.clock.Now().UTC()
	for _, k := range candidates {
		ok, err := crypto.VerifyAPIKey(plaintext, k.Hash)
		if err != nil || !ok {
			continue
		}
		if !k.Active || k.Expired(now) {
			return storage.APIKey{}, ErrInvalidKey
		}
		_ = s.store.TouchAPIKeyLastUsed(ctx, k.ID, now)
		return k, nil
	}
	return storage.APIKey{}, ErrInvalidKey
}

func (s *Service) List(ctx context.Context, owner string) ([]storage.APIKey, error) {
	return s.store.ListAPIKeysByOwner(ctx, owner)
}

func (s *Service) Get(ctx context.Context, id string) (storage.APIKey, error) {
	return s.store.GetAPIKey(ctx, id)
}

// Revoke disables a key permanently; it can no longer authenticate even if
// its TTL has not elapsed.
func (s *Service) Revoke(ctx context.Context, id, actor string) error {
	return s.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.RevokeAPIKey(id); err != nil {
			return err
		}
		_, _, err := eventstore.Append(tx, eventstore.AppendParams{
			AggregateType: "api_key",
			AggregateID:   id,
			EventType:     "api_key.revoked",
			Payload:       map[string]any{},
			Metadata:      storage.EventMetadata{Actor: actor},
			OccurredAt:    s.clock.Now().UTC(),
		})
		return err
	})
}

// Rotate issues a new plaintext under the existing key's ID, Name, Owner,
// and Scopes, replacing its credential material in place so callers that
// reference the key by ID (grants, audit trails) see no identity change.
// The old plaintext stops verifying as soon as this returns.
func (s *Service) Rotate(ctx context.Context, id, actor string) (Created, error) {
	old, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		return Created{}, err
	}

	var ttl time.Duration
	if old.ExpiresAt != nil {
		if remaining := old.ExpiresAt.Sub(s.clock.Now()); remaining > 0 {
			ttl = remaining
		}
	}

	plaintext, prefix, err := s.newPlaintext()
	if err != nil {
		return Created{}, err
	}
	hash, err := crypto.HashAPIKey(plaintext)
	if err != nil {
		return Created{}, err
	}

	now := s.clock.Now().UTC()
	next := old
	next.Prefix = prefix
	next.Hash = hash
	next.Active = true
	next.LastUsedAt = nil
	next.ExpiresAt = nil
	if ttl > 0 {
		exp := now.Add(ttl)
		next.ExpiresAt = &exp
	}

	var rotated Created
	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.RotateAPIKeyCredential(id, prefix, hash, next.ExpiresAt); err != nil {
			return err
		}
		_, _, err := eventstore.Append(tx, eventstore.AppendParams{
			AggregateType: "api_key",
			AggregateID:   id,
			EventType:     "api_key.rotated",
			Payload:       map[string]any{"owner": old.Owner, "name": old.Name, "scopes": old.Scopes},
			Metadata:      storage.EventMetadata{Actor: actor},
			OccurredAt:    now,
		})
		if err != nil {
			return err
		}
		rotated = Created{Key: next, Plaintext: plaintext}
		return nil
	})
	return rotated, err
}
