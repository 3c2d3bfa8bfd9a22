// Package collector runs the background loop that turns live counters
// into durable trend snapshots and prunes expired records.
package collector

import (
	"context"
	"time"

	"github.com/router-for-me/ChatQuota/internal/history"
	"github.com/router-for-me/ChatQuota/internal/report"
	"github.com/router-for-me/ChatQuota/internal/trend"

	log "github.com/sirupsen/logrus"
)

// defaultInterval is the snapshot cadence.
const defaultInterval = time.Hour

// Collector periodically persists today's aggregate stats. Failures
// are logged and retried on the next tick; the request path never
// depends on the collector.
type Collector struct {
	reporter          *report.Reporter
	trends            *trend.FileStore
	records           *history.Store
	snapshotRetention int
	historyRetention  int
	interval          time.Duration
}

// New constructs a Collector. Snapshots and history rows age out on
// independent retentions. records may be nil when history is disabled.
func New(reporter *report.Reporter, trends *trend.FileStore, records *history.Store, snapshotRetentionDays, historyRetentionDays int) *Collector {
	return &Collector{
		reporter:          reporter,
		trends:            trends,
		records:           records,
		snapshotRetention: snapshotRetentionDays,
		historyRetention:  historyRetentionDays,
		interval:          defaultInterval,
	}
}

// SetInterval overrides the cadence. Tests only.
func (c *Collector) SetInterval(interval time.Duration) { c.interval = interval }

// Run snapshots immediately, then on every tick until ctx is
// cancelled.
func (c *Collector) Run(ctx context.Context) {
	c.collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// collect persists one snapshot of today's stats and runs retention
// cleanup.
func (c *Collector) collect(ctx context.Context) {
	stats, errStats := c.reporter.UsageStats(ctx, "")
	if errStats != nil {
		log.WithError(errStats).Warn("collector: stats computation failed, retrying next cycle")
		return
	}
	partial := trend.Partial{
		TotalRequests: &stats.TotalRequests,
		ActiveUsers:   &stats.ActiveUsers,
		ActiveGroups:  &stats.ActiveGroups,
	}
	if errSave := c.trends.Save(stats.Date, partial); errSave != nil {
		log.WithError(errSave).Warn("collector: snapshot write failed, retrying next cycle")
		return
	}

	if removed, errCleanup := c.trends.Cleanup(c.snapshotRetention); errCleanup != nil {
		log.WithError(errCleanup).Warn("collector: snapshot cleanup failed")
	} else if removed > 0 {
		log.WithField("removed", removed).Info("collector: pruned expired snapshots")
	}
	if c.records != nil {
		if removed, errCleanup := c.records.Cleanup(ctx, c.historyRetention); errCleanup != nil {
			log.WithError(errCleanup).Warn("collector: history cleanup failed")
		} else if removed > 0 {
			log.WithField("removed", removed).Info("collector: pruned expired history rows")
		}
	}
}
