// Package history persists one row per allowed consumption so past
// usage can be queried after the live counters expire.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is one allowed consumption event.
type Record struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"` // Primary key.
	Identity    string    `gorm:"type:text;not null;index"` // Requesting identity.
	GroupID     *string   `gorm:"type:text;index"`          // Group context, nil for private chats.
	Shared      bool      `gorm:"not null;default:false"`   // Whether a shared group counter was consumed.
	Bucket      string    `gorm:"type:text;not null;index"` // Period bucket (calendar date).
	RequestedAt time.Time `gorm:"not null"`                 // Consumption timestamp.
}

// TableName pins the table name.
func (Record) TableName() string { return "usage_records" }

// Open connects to the history database, picking the dialect from the
// DSN: postgres URLs and keyword DSNs go to PostgreSQL, anything else
// is treated as a SQLite file path.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("history: empty dsn")
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		conn, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("history: open postgres: %w", err)
		}
		return conn, nil
	}
	conn, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	return conn, nil
}

// Store reads and writes usage records.
type Store struct {
	db *gorm.DB
}

// NewStore runs migrations and constructs a Store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("history: nil db")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Append inserts one consumption row.
func (s *Store) Append(ctx context.Context, identity, group, bucket string, shared bool, at time.Time) error {
	row := Record{
		Identity:    identity,
		Shared:      shared,
		Bucket:      bucket,
		RequestedAt: at.UTC(),
	}
	if g := strings.TrimSpace(group); g != "" {
		row.GroupID = &g
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// ConsumerCount is a leaderboard row.
type ConsumerCount struct {
	Identity string `json:"identity"`
	Count    int64  `json:"count"`
}

// TopConsumers returns the identities with the most consumptions in a
// period bucket, busiest first.
func (s *Store) TopConsumers(ctx context.Context, bucket string, n int) ([]ConsumerCount, error) {
	if n < 1 {
		n = 10
	}
	var rows []ConsumerCount
	if err := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("identity, COUNT(*) AS count").
		Where("bucket = ?", bucket).
		Group("identity").
		Order("count DESC").
		Limit(n).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("history: top consumers: %w", err)
	}
	return rows, nil
}

// DailyCount is a per-bucket consumption count.
type DailyCount struct {
	Bucket string `json:"date"`
	Count  int64  `json:"count"`
}

// IdentityDaily returns per-day consumption counts for one identity
// over the last days buckets, oldest first. Days without consumption
// are absent.
func (s *Store) IdentityDaily(ctx context.Context, identity string, days int) ([]DailyCount, error) {
	if days < 1 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")
	var rows []DailyCount
	if err := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("bucket, COUNT(*) AS count").
		Where("identity = ? AND bucket > ?", identity, cutoff).
		Group("bucket").
		Order("bucket ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("history: identity daily: %w", err)
	}
	return rows, nil
}

// Cleanup deletes rows older than retentionDays and returns how many
// were removed.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02")
	result := s.db.WithContext(ctx).Where("bucket < ?", cutoff).Delete(&Record{})
	if result.Error != nil {
		return 0, fmt.Errorf("history: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}
