package trend

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func intp(v int) *int { return &v }

func newTestStore(t *testing.T, now time.Time) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store.SetNow(func() time.Time { return now })
	return store
}

func TestSaveMergesFields(t *testing.T) {
	store := newTestStore(t, time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC))

	if err := store.Save("2025-06-02", Partial{TotalRequests: intp(5)}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("2025-06-02", Partial{ActiveUsers: intp(2)}); err != nil {
		t.Fatal(err)
	}

	snapshot, ok, err := store.Load("2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("snapshot missing")
	}
	if snapshot.TotalRequests != 5 || snapshot.ActiveUsers != 2 {
		t.Fatalf("merge lost a field: %+v", snapshot)
	}
	if snapshot.SavedAt.IsZero() {
		t.Fatal("saved_at not stamped")
	}
}

func TestSaveOverwritesPresentFields(t *testing.T) {
	store := newTestStore(t, time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC))

	if err := store.Save("2025-06-02", Partial{TotalRequests: intp(5)}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("2025-06-02", Partial{TotalRequests: intp(9)}); err != nil {
		t.Fatal(err)
	}
	snapshot, _, err := store.Load("2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.TotalRequests != 9 {
		t.Fatalf("last write should win: %+v", snapshot)
	}
}

func TestLoadMissingDate(t *testing.T) {
	store := newTestStore(t, time.Now())
	_, ok, err := store.Load("2020-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("missing date reported present")
	}
	if _, _, err = store.Load("not-a-date"); err == nil {
		t.Fatal("malformed date accepted")
	}
}

func TestLoadRangeOrderedOldestFirstSkippingGaps(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, now)

	for _, date := range []string{"2025-06-10", "2025-06-08", "2025-06-05"} {
		if err := store.Save(date, Partial{TotalRequests: intp(1)}); err != nil {
			t.Fatal(err)
		}
	}

	snapshots, err := store.LoadRange(7)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2025-06-05", "2025-06-08", "2025-06-10"}
	if len(snapshots) != len(want) {
		t.Fatalf("got %d snapshots, want %d", len(snapshots), len(want))
	}
	for i, date := range want {
		if snapshots[i].Date != date {
			t.Fatalf("snapshot %d date %s, want %s", i, snapshots[i].Date, date)
		}
	}
}

func TestCleanupRemovesOldRecords(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, now)

	for _, date := range []string{"2025-06-10", "2025-06-01", "2025-03-01"} {
		if err := store.Save(date, Partial{TotalRequests: intp(1)}); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := store.Cleanup(30)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}
	if _, ok, _ := store.Load("2025-03-01"); ok {
		t.Fatal("expired record survived cleanup")
	}
	if _, ok, _ := store.Load("2025-06-01"); !ok {
		t.Fatal("retained record removed")
	}

	// Nothing left past retention: reported as zero removed.
	if removed, _ = store.Cleanup(30); removed != 0 {
		t.Fatalf("second cleanup removed %d, want 0", removed)
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	store := newTestStore(t, time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC))
	if err := store.Save("2025-06-02", Partial{TotalRequests: intp(1)}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(storeDir(t, store))
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" {
			t.Fatalf("unexpected leftover file %s", entry.Name())
		}
	}
}

func storeDir(t *testing.T, store *FileStore) string {
	t.Helper()
	return store.dir
}
