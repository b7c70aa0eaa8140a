package apikey_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nimbusid/authgateway/apikey"
	"github.com/nimbusid/authgateway/storage/memory"
)

func TestCreateAndVerify(t *testing.T) {
	svc := apikey.New(memory.New(), clockwork.NewFakeClock(), "ak_test_")

	created, err := svc.Create(context.Background(), "owner-1", "ci key", []string{"read"}, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Plaintext == "" {
		t.Fatal("expected a plaintext key")
	}

	got, err := svc.Verify(context.Background(), created.Plaintext)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.ID != created.Key.ID {
		t.Errorf("got key %s, want %s", got.ID, created.Key.ID)
	}

	if _, err := svc.Verify(context.Background(), "ak_test_wrong-key-entirely"); err != apikey.ErrInvalidKey {
		t.Errorf("want ErrInvalidKey for unknown key, got %v", err)
	}
}

func TestRevokedKeyFailsVerify(t *testing.T) {
	svc := apikey.New(memory.New(), clockwork.NewFakeClock(), "ak_test_")
	created, err := svc.Create(context.Background(), "owner-1", "key", nil, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Revoke(context.Background(), created.Key.ID, "owner-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Verify(context.Background(), created.Plaintext); err != apikey.ErrInvalidKey {
		t.Errorf("want ErrInvalidKey after revoke, got %v", err)
	}
}

func TestExpiredKeyFailsVerify(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := apikey.New(memory.New(), clock, "ak_test_")
	created, err := svc.Create(context.Background(), "owner-1", "key", nil, time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(2 * time.Hour)
	if _, err := svc.Verify(context.Background(), created.Plaintext); err != apikey.ErrInvalidKey {
		t.Errorf("want ErrInvalidKey after expiry, got %v", err)
	}
}

func TestRotatePreservesIdentityAndInvalidatesOld(t *testing.T) {
	svc := apikey.New(memory.New(), clockwork.NewFakeClock(), "ak_test_")
	created, err := svc.Create(context.Background(), "owner-1", "rotating key", []string{"admin"}, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rotated, err := svc.Rotate(context.Background(), created.Key.ID, "owner-1")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.Plaintext == created.Plaintext {
		t.Fatal("expected a new plaintext after rotation")
	}
	if rotated.Key.ID != created.Key.ID {
		t.Errorf("rotation changed key ID: got %s, want %s", rotated.Key.ID, created.Key.ID)
	}
	if rotated.Key.Owner != created.Key.Owner || rotated.Key.Name != created.Key.Name {
		t.Errorf("rotation changed identity: %+v vs %+v", rotated.Key, created.Key)
	}

	got, err := svc.Get(context.Background(), created.Key.ID)
	if err != nil {
		t.Fatalf("Get after rotate: %v", err)
	}
	if got.ID != created.Key.ID {
		t.Errorf("store holds a different ID after rotation: got %s, want %s", got.ID, created.Key.ID)
	}

	if _, err := svc.Verify(context.Background(), created.Plaintext); err != apikey.ErrInvalidKey {
		t.Error("old plaintext should no longer verify after rotation")
	}
	if _, err := svc.Verify(context.Background(), rotated.Plaintext); err != nil {
		t.Errorf("new plaintext should verify: %v", err)
	}
}
