package collector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/router-for-me/ChatQuota/internal/counter"
	"github.com/router-for-me/ChatQuota/internal/history"
	"github.com/router-for-me/ChatQuota/internal/policy"
	"github.com/router-for-me/ChatQuota/internal/quota"
	"github.com/router-for-me/ChatQuota/internal/report"
	"github.com/router-for-me/ChatQuota/internal/trend"
)

func TestRunWritesImmediateSnapshotAndStopsOnCancel(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	store := counter.NewMemoryStore()
	trends, err := trend.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	trends.SetNow(func() time.Time { return now })
	provider := func() quota.Snapshot {
		return quota.Snapshot{
			Policy:    &policy.Policy{DefaultLimit: 10},
			KeyPrefix: "test",
		}
	}
	reporter := report.NewReporter(store, trends, nil, provider, func() time.Time { return now })

	bucket := "2025-06-02"
	for i := 0; i < 4; i++ {
		if _, err = store.Incr(context.Background(), counter.DailyKey("test", bucket, policy.PrivateScope("U1"))); err != nil {
			t.Fatal(err)
		}
	}

	collector := New(reporter, trends, nil, 90, 90)
	collector.SetInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		collector.Run(ctx)
		close(done)
	}()

	// The first snapshot lands before the first tick.
	deadline := time.After(2 * time.Second)
	for {
		snapshot, ok, errLoad := trends.Load(bucket)
		if errLoad != nil {
			t.Fatal(errLoad)
		}
		if ok {
			if snapshot.TotalRequests != 4 || snapshot.ActiveUsers != 1 {
				t.Fatalf("snapshot %+v", snapshot)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("no snapshot written")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCollectPrunesExpiredSnapshots(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	store := counter.NewMemoryStore()
	trends, err := trend.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	trends.SetNow(func() time.Time { return now })
	provider := func() quota.Snapshot {
		return quota.Snapshot{Policy: &policy.Policy{DefaultLimit: 10}, KeyPrefix: "test"}
	}
	reporter := report.NewReporter(store, trends, nil, provider, func() time.Time { return now })

	one := 1
	if err = trends.Save("2025-01-01", trend.Partial{TotalRequests: &one}); err != nil {
		t.Fatal(err)
	}

	collector := New(reporter, trends, nil, 30, 30)
	collector.collect(context.Background())

	if _, ok, _ := trends.Load("2025-01-01"); ok {
		t.Fatal("expired snapshot survived collection cycle")
	}
	if _, ok, _ := trends.Load("2025-06-02"); !ok {
		t.Fatal("today's snapshot missing")
	}
}

func TestCollectPrunesHistoryOnItsOwnRetention(t *testing.T) {
	now := time.Now().UTC()
	store := counter.NewMemoryStore()
	trends, err := trend.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	provider := func() quota.Snapshot {
		return quota.Snapshot{Policy: &policy.Policy{DefaultLimit: 10}, KeyPrefix: "test"}
	}

	conn, err := history.Open(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatal(err)
	}
	records, err := history.NewStore(conn)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	oldBucket := now.AddDate(0, 0, -60).Format("2006-01-02")
	freshBucket := now.Format("2006-01-02")
	if err = records.Append(ctx, "U1", "", oldBucket, false, now.AddDate(0, 0, -60)); err != nil {
		t.Fatal(err)
	}
	if err = records.Append(ctx, "U1", "", freshBucket, false, now); err != nil {
		t.Fatal(err)
	}

	reporter := report.NewReporter(store, trends, records, provider, nil)

	// History retention is tighter than snapshot retention; only the
	// history rows must age out on it.
	collector := New(reporter, trends, records, 3650, 30)
	collector.collect(ctx)

	counts, err := records.IdentityDaily(ctx, "U1", 90)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 1 || counts[0].Bucket != freshBucket {
		t.Fatalf("history after cleanup = %+v, want only %s", counts, freshBucket)
	}
}
