// Package history keeps the per-day record of clips already turned into shorts.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"twitch-shorts-pipeline/types"
)

// History maps an ISO calendar date to the shorts published that day.
type History map[string][]types.PublicationRecord

// LoadStatus tells how Load obtained the history it returned.
type LoadStatus int

const (
	Loaded LoadStatus = iota
	Missing
	Corrupt
)

func (s LoadStatus) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Missing:
		return "missing"
	case Corrupt:
		return "corrupt"
	}
	return "unknown"
}

var (
	// ErrLocked is returned by Lock while another run holds the lock file.
	ErrLocked = errors.New("history: another run holds the lock")
	// ErrDuplicate is returned by Record when the clip was already published that day.
	ErrDuplicate = errors.New("history: clip already recorded today")
)

const dayLayout = "2006-01-02"

// Store reads and writes the history file.
type Store struct {
	path       string
	staleAfter time.Duration
	now        func() time.Time
}

// New creates a Store for the given file. staleAfter <= 0 means a lock never goes stale.
func New(path string, staleAfter time.Duration) *Store {
	return &Store{path: path, staleAfter: staleAfter, now: time.Now}
}

// Path returns the history file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the history. A missing or unparseable file yields an empty
// history and the matching status; only unexpected I/O errors are returned.
func (s *Store) Load() (History, LoadStatus, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return History{}, Missing, nil
		}
		return History{}, Corrupt, fmt.Errorf("read history: %w", err)
	}

	h := History{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return h, Corrupt, nil
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return History{}, Corrupt, nil
	}
	if h == nil {
		h = History{}
	}
	return h, Loaded, nil
}

// Save writes the whole history atomically.
func (s *Store) Save(h History) error {
	if h == nil {
		h = History{}
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("create temp history: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write history: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close history: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}

// Today returns today's date key.
func (s *Store) Today() string {
	return s.now().Format(dayLayout)
}

// PublishedOn returns the set of clip ids published on day.
func PublishedOn(h History, day string) map[string]bool {
	ids := make(map[string]bool, len(h[day]))
	for _, rec := range h[day] {
		ids[rec.SourceClipID] = true
	}
	return ids
}

// PublishedToday returns the clip ids published today.
func (s *Store) PublishedToday(h History) map[string]bool {
	return PublishedOn(h, s.Today())
}

// Record appends a publication for today and persists immediately.
// If the write fails the append is undone so memory never runs ahead of disk.
func (s *Store) Record(h History, clipID, videoID string) (types.PublicationRecord, error) {
	now := s.now()
	day := now.Format(dayLayout)
	if PublishedOn(h, day)[clipID] {
		return types.PublicationRecord{}, fmt.Errorf("%w: %s", ErrDuplicate, clipID)
	}

	rec := types.PublicationRecord{
		SourceClipID:     clipID,
		PublishedVideoID: videoID,
		Timestamp:        now.Format(time.RFC3339),
	}
	prev, had := h[day]
	h[day] = append(prev[:len(prev):len(prev)], rec)

	if err := s.Save(h); err != nil {
		if had {
			h[day] = prev
		} else {
			delete(h, day)
		}
		return types.PublicationRecord{}, err
	}
	return rec, nil
}

// Lock takes the run lock next to the history file. Runs are expected to be
// strictly sequential; a stale lock left by a crashed run is replaced.
func (s *Store) Lock() error {
	lockPath := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d %s\n", os.Getpid(), s.now().UTC().Format(time.RFC3339))
			cerr := f.Close()
			if werr != nil {
				return fmt.Errorf("write lock: %w", werr)
			}
			return cerr
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock: %w", err)
		}
		if !s.lockIsStale(lockPath) {
			return ErrLocked
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return ErrLocked
}

// Unlock releases the run lock.
func (s *Store) Unlock() error {
	err := os.Remove(s.path + ".lock")
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) lockIsStale(lockPath string) bool {
	if s.staleAfter <= 0 {
		return false
	}
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return true
	}
	if _, err := strconv.Atoi(fields[0]); err != nil {
		return true
	}
	taken, err := time.Parse(time.RFC3339, fields[1])
	if err != nil {
		return true
	}
	return s.now().Sub(taken) > s.staleAfter
}
