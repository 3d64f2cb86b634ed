package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestFSStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore returned error: %v", err)
	}
	ctx := context.Background()
	key := Key(CollectionEvents, "event-1")
	if key != "events/event-1.jpeg" {
		t.Fatalf("unexpected key %q", key)
	}

	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before upload, got %v", err)
	}

	if err := store.Put(ctx, key, []byte("first")); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := store.Put(ctx, key, []byte("second")); err != nil {
		t.Fatalf("Put overwrite returned error: %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !bytes.Equal(got, []byte("second")) {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestFSStoreRejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore returned error: %v", err)
	}
	for _, key := range []string{"../outside.jpeg", "/abs.jpeg", "users/../../x.jpeg", ""} {
		if err := store.Put(context.Background(), key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}
