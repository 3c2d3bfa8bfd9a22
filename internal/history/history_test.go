package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestAppendAndTopConsumers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	for _, identity := range []string{"U1", "U1", "U1", "U2", "U2", "U3"} {
		if err := store.Append(ctx, identity, "G1", "2025-06-02", false, at); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Append(ctx, "U9", "", "2025-06-01", false, at); err != nil {
		t.Fatal(err)
	}

	top, err := store.TopConsumers(ctx, "2025-06-02", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 {
		t.Fatalf("got %d rows, want 2", len(top))
	}
	if top[0].Identity != "U1" || top[0].Count != 3 {
		t.Fatalf("top row %+v, want U1 with 3", top[0])
	}
	if top[1].Identity != "U2" || top[1].Count != 2 {
		t.Fatalf("second row %+v, want U2 with 2", top[1])
	}
}

func TestIdentityDaily(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	today := now.Format("2006-01-02")
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")
	for i := 0; i < 2; i++ {
		if err := store.Append(ctx, "U1", "", today, false, now); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Append(ctx, "U1", "G1", yesterday, true, now); err != nil {
		t.Fatal(err)
	}

	daily, err := store.IdentityDaily(ctx, "U1", 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(daily) != 2 {
		t.Fatalf("got %d buckets, want 2", len(daily))
	}
	if daily[0].Bucket != yesterday || daily[0].Count != 1 {
		t.Fatalf("oldest bucket %+v, want %s with 1", daily[0], yesterday)
	}
	if daily[1].Bucket != today || daily[1].Count != 2 {
		t.Fatalf("latest bucket %+v, want %s with 2", daily[1], today)
	}
}

func TestCleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Append(ctx, "U1", "", now.Format("2006-01-02"), false, now); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, "U1", "", now.AddDate(0, 0, -100).Format("2006-01-02"), false, now); err != nil {
		t.Fatal(err)
	}

	removed, err := store.Cleanup(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}
	if removed, _ = store.Cleanup(ctx, 30); removed != 0 {
		t.Fatalf("second cleanup removed %d, want 0", removed)
	}
}
