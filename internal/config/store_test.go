package config

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestMutationsPersistAndBumpVersion(t *testing.T) {
	store := newTestStore(t)
	v0 := store.Version()

	if err := store.SetUserLimit("U1", 50); err != nil {
		t.Fatal(err)
	}
	if store.Version() != v0+1 {
		t.Fatalf("version %d, want %d", store.Version(), v0+1)
	}
	if store.Policy().UserLimits["U1"] != 50 {
		t.Fatal("policy snapshot missing new override")
	}

	// A fresh store against the same file sees the persisted change.
	reopened, err := NewStore(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Policy().UserLimits["U1"] != 50 {
		t.Fatal("mutation not persisted to disk")
	}
}

func TestRejectedMutationLeavesSnapshotUntouched(t *testing.T) {
	store := newTestStore(t)
	before := store.Policy()
	v0 := store.Version()

	if err := store.SetGroupMode("G1", "pooled"); err == nil {
		t.Fatal("invalid mode accepted")
	}
	if _, err := store.AddWindow(Window{Start: "25:00", End: "06:00", Limit: 1, Enabled: true}); err == nil {
		t.Fatal("invalid window accepted")
	}
	if store.Version() != v0 {
		t.Fatalf("version moved to %d on rejected mutation", store.Version())
	}
	if store.Policy() != before {
		t.Fatal("snapshot swapped on rejected mutation")
	}
}

func TestClearOperationsAreIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetGroupLimit("G1", 10); err != nil {
		t.Fatal(err)
	}
	if err := store.ClearGroupLimit("G1"); err != nil {
		t.Fatal(err)
	}
	if err := store.ClearGroupLimit("G1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Policy().GroupLimits["G1"]; ok {
		t.Fatal("cleared override survived")
	}
}

func TestExemptAddRemove(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddExempt("admin"); err != nil {
		t.Fatal(err)
	}
	if err := store.AddExempt("admin"); err != nil {
		t.Fatal(err)
	}
	if got := len(store.Config().Limits.ExemptUsers); got != 1 {
		t.Fatalf("exempt list has %d entries, want 1", got)
	}
	if err := store.RemoveExempt("admin"); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Policy().Exempt["admin"]; ok {
		t.Fatal("removed exemption survived")
	}
}

func TestWindowLifecycle(t *testing.T) {
	store := newTestStore(t)
	index, err := store.AddWindow(Window{Start: "22:00", End: "06:00", Limit: 3, Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if index != 0 {
		t.Fatalf("window index %d, want 0", index)
	}
	if err = store.SetWindowEnabled(index, false); err != nil {
		t.Fatal(err)
	}
	if store.Policy().Windows[0].Enabled {
		t.Fatal("window still enabled")
	}
	if err = store.RemoveWindow(index); err != nil {
		t.Fatal(err)
	}
	if len(store.Policy().Windows) != 0 {
		t.Fatal("window not removed")
	}
	if err = store.RemoveWindow(5); err == nil {
		t.Fatal("out-of-range removal accepted")
	}
}

func TestConfigReturnsCopy(t *testing.T) {
	store := newTestStore(t)
	cfg := store.Config()
	cfg.Limits.DefaultDailyLimit = 999
	if store.Config().Limits.DefaultDailyLimit == 999 {
		t.Fatal("Config leaked internal state")
	}
}

func TestReloadPicksUpExternalEdit(t *testing.T) {
	store := newTestStore(t)
	edited := Default()
	edited.Limits.DefaultDailyLimit = 77
	if err := Save(store.Path(), edited); err != nil {
		t.Fatal(err)
	}
	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	if store.Policy().DefaultLimit != 77 {
		t.Fatalf("reload missed edit: %d", store.Policy().DefaultLimit)
	}
}
