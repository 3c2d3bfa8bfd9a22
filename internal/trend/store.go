// Package trend persists one aggregate snapshot per calendar date for
// historical reporting, independent of the live counters.
package trend

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// dateLayout is the canonical snapshot date format.
const dateLayout = "2006-01-02"

// ErrWrite wraps durable write failures. Non-fatal to the request
// path; the collector retries on its next cycle.
var ErrWrite = errors.New("trend snapshot write failed")

// Snapshot is the durable daily aggregate record.
type Snapshot struct {
	Date          string    `json:"date"`
	TotalRequests int       `json:"total_requests"`
	ActiveUsers   int       `json:"active_users"`
	ActiveGroups  int       `json:"active_groups"`
	SavedAt       time.Time `json:"saved_at"`
}

// Partial carries the fields a writer wants to merge into a snapshot.
// Nil fields leave the stored value untouched.
type Partial struct {
	TotalRequests *int
	ActiveUsers   *int
	ActiveGroups  *int
}

// FileStore keeps one JSON file per date under a directory. Writes go
// through a temp file and an atomic rename so readers never observe a
// torn record, and a store-level mutex serializes concurrent writers
// within the process.
type FileStore struct {
	dir   string
	mu    sync.Mutex
	nowFn func() time.Time
}

// NewFileStore creates the snapshot directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("trend: empty snapshot dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("trend: create dir: %w", err)
	}
	return &FileStore{dir: dir, nowFn: time.Now}, nil
}

// SetNow overrides the clock. Tests only.
func (s *FileStore) SetNow(nowFn func() time.Time) { s.nowFn = nowFn }

func (s *FileStore) path(date string) string {
	return filepath.Join(s.dir, date+".json")
}

func validDate(date string) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("trend: bad date %q: %w", date, err)
	}
	return nil
}

// Save merges partial into any existing record for date and persists
// it durably. Present fields win, absent fields are preserved.
func (s *FileStore) Save(date string, partial Partial) error {
	if err := validDate(date); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, ok, errLoad := s.read(date)
	if errLoad != nil {
		return errLoad
	}
	if !ok {
		snapshot = Snapshot{Date: date}
	}
	if partial.TotalRequests != nil {
		snapshot.TotalRequests = *partial.TotalRequests
	}
	if partial.ActiveUsers != nil {
		snapshot.ActiveUsers = *partial.ActiveUsers
	}
	if partial.ActiveGroups != nil {
		snapshot.ActiveGroups = *partial.ActiveGroups
	}
	snapshot.SavedAt = s.nowFn().UTC()

	data, errMarshal := json.MarshalIndent(snapshot, "", "  ")
	if errMarshal != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrWrite, date, errMarshal)
	}

	tmp, errTmp := os.CreateTemp(s.dir, date+".tmp-*")
	if errTmp != nil {
		return fmt.Errorf("%w: temp file: %v", ErrWrite, errTmp)
	}
	tmpName := tmp.Name()
	if _, errWrite := tmp.Write(data); errWrite != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", ErrWrite, date, errWrite)
	}
	if errClose := tmp.Close(); errClose != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: close %s: %v", ErrWrite, date, errClose)
	}
	if errRename := os.Rename(tmpName, s.path(date)); errRename != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: rename %s: %v", ErrWrite, date, errRename)
	}
	return nil
}

// Load returns the snapshot for date, reporting absence separately
// from errors.
func (s *FileStore) Load(date string) (Snapshot, bool, error) {
	if err := validDate(date); err != nil {
		return Snapshot{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(date)
}

func (s *FileStore) read(date string) (Snapshot, bool, error) {
	data, errRead := os.ReadFile(s.path(date))
	if errors.Is(errRead, os.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if errRead != nil {
		return Snapshot{}, false, fmt.Errorf("trend: read %s: %w", date, errRead)
	}
	var snapshot Snapshot
	if errUnmarshal := json.Unmarshal(data, &snapshot); errUnmarshal != nil {
		return Snapshot{}, false, fmt.Errorf("trend: parse %s: %w", date, errUnmarshal)
	}
	return snapshot, true, nil
}

// LoadRange returns snapshots for the last days calendar dates ending
// today, oldest first, skipping dates without a record.
func (s *FileStore) LoadRange(days int) ([]Snapshot, error) {
	if days < 1 {
		return nil, nil
	}
	today := s.nowFn()
	snapshots := make([]Snapshot, 0, days)
	for i := days - 1; i >= 0; i-- {
		date := today.AddDate(0, 0, -i).Format(dateLayout)
		snapshot, ok, errLoad := s.Load(date)
		if errLoad != nil {
			return nil, errLoad
		}
		if ok {
			snapshots = append(snapshots, snapshot)
		}
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Date < snapshots[j].Date })
	return snapshots, nil
}

// Cleanup deletes records older than retentionDays and returns how
// many were removed.
func (s *FileStore) Cleanup(retentionDays int) (int, error) {
	if retentionDays < 1 {
		return 0, nil
	}
	cutoff := s.nowFn().AddDate(0, 0, -retentionDays).Format(dateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, errRead := os.ReadDir(s.dir)
	if errRead != nil {
		return 0, fmt.Errorf("trend: list dir: %w", errRead)
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		date, ok := strings.CutSuffix(name, ".json")
		if !ok || validDate(date) != nil {
			continue
		}
		if date < cutoff {
			if errRemove := os.Remove(filepath.Join(s.dir, name)); errRemove != nil {
				return removed, fmt.Errorf("trend: remove %s: %w", name, errRemove)
			}
			removed++
		}
	}
	return removed, nil
}
