package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nimbusid/authgateway/session"
	"github.com/nimbusid/authgateway/storage/memory"
)

func TestCreateAndValidate(t *testing.T) {
	svc := session.New(memory.New(), nil, clockwork.NewFakeClock())
	sess, err := svc.Create(context.Background(), "user-1", "fp-abc")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := svc.Validate(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Subject != "user-1" {
		t.Errorf("got subject %q, want user-1", got.Subject)
	}
}

func TestRevokedSessionFailsValidate(t *testing.T) {
	svc := session.New(memory.New(), nil, clockwork.NewFakeClock())
	sess, err := svc.Create(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Revoke(context.Background(), sess.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Validate(context.Background(), sess.ID); err != session.ErrInvalidSession {
		t.Errorf("want ErrInvalidSession, got %v", err)
	}
}

func TestInactivityTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := session.New(memory.New(), nil, clock)
	sess, err := svc.Create(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(session.InactivityTTL + time.Hour)
	if _, err := svc.Validate(context.Background(), sess.ID); err != session.ErrInvalidSession {
		t.Errorf("want ErrInvalidSession after inactivity timeout, got %v", err)
	}
}

func TestRotateIssuesNewIDSameSubject(t *testing.T) {
	svc := session.New(memory.New(), nil, clockwork.NewFakeClock())
	sess, err := svc.Create(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rotated, err := svc.Rotate(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.ID == sess.ID || rotated.Subject != sess.Subject {
		t.Errorf("rotation broke identity: %+v vs %+v", rotated, sess)
	}
	if _, err := svc.Validate(context.Background(), sess.ID); err != session.ErrInvalidSession {
		t.Error("old session id should be invalid after rotation")
	}
}
