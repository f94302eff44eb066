package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File names used by FileStore, matching the legacy deployment layout.
const (
	UsersFileName = "user_data.json"
	StatsFileName = "stats.json"
)

// legacyTimeLayout is the naive ISO-8601 format written by legacy deployments.
const legacyTimeLayout = "2006-01-02T15:04:05.999999"

// FileStore implements Store on two JSON files in a directory. All state is
// held in memory and both files are rewritten atomically after every
// mutation, before the mutating call returns.
type FileStore struct {
	mu    sync.Mutex
	dir   string
	users map[string]fileIdentity
	stats Stats
	now   func() time.Time
	write func(path string, v any) error
}

// fileIdentity is the on-disk shape of one user_data.json entry.
type fileIdentity struct {
	Nickname  *string `json:"nickname,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
}

// OpenFileStore loads user_data.json and stats.json from dir. Missing files
// start empty; the directory is created if needed.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	s := &FileStore{
		dir:   dir,
		users: make(map[string]fileIdentity),
		now:   time.Now,
		write: writeJSONAtomic,
	}
	if err := readJSON(filepath.Join(dir, UsersFileName), &s.users); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, StatsFileName), &s.stats); err != nil {
		return nil, err
	}
	if s.users == nil {
		s.users = make(map[string]fileIdentity)
	}
	return s, nil
}

// Dir returns the directory the store persists to.
func (s *FileStore) Dir() string { return s.dir }

// Nickname implements IdentityStore.
func (s *FileStore) Nickname(ctx context.Context, userID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.users[userID]
	if !ok || ident.Nickname == nil {
		return "", false, nil
	}
	return *ident.Nickname, true, nil
}

// SetNickname implements IdentityStore.
func (s *FileStore) SetNickname(ctx context.Context, userID, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.users[userID]
	prevStats := s.stats

	nick := nickname
	s.users[userID] = fileIdentity{
		Nickname:  &nick,
		CreatedAt: s.now().UTC().Format(time.RFC3339Nano),
	}
	if !existed {
		s.stats.TotalUsers = int64(len(s.users))
	}

	if err := s.persistAll(); err != nil {
		if existed {
			s.users[userID] = prev
		} else {
			delete(s.users, userID)
		}
		s.stats = prevStats
		s.restoreFiles()
		return storageErr("set nickname", err)
	}
	return nil
}

// RemoveNickname implements IdentityStore.
func (s *FileStore) RemoveNickname(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[userID]
	if !ok || prev.Nickname == nil {
		return false, nil
	}
	cleared := prev
	cleared.Nickname = nil
	s.users[userID] = cleared

	if err := s.write(filepath.Join(s.dir, UsersFileName), s.users); err != nil {
		s.users[userID] = prev
		return false, storageErr("remove nickname", err)
	}
	return true, nil
}

// NextMessageNumber implements CounterStore.
func (s *FileStore) NextMessageNumber(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalMessages++
	if err := s.write(filepath.Join(s.dir, StatsFileName), s.stats); err != nil {
		s.stats.TotalMessages--
		return 0, storageErr("next message number", err)
	}
	return s.stats.TotalMessages, nil
}

// Stats implements CounterStore.
func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, nil
}

// Snapshot implements Store.
func (s *FileStore) Snapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Identities: make(map[string]IdentityRecord, len(s.users)), Stats: s.stats}
	for userID, ident := range s.users {
		var rec IdentityRecord
		if ident.Nickname != nil {
			rec.Nickname = *ident.Nickname
		}
		if ident.CreatedAt != "" {
			t, err := parseFileTime(ident.CreatedAt)
			if err != nil {
				return Snapshot{}, fmt.Errorf("store: snapshot %s: %w", userID, err)
			}
			rec.CreatedAt = t
		}
		snap.Identities[userID] = rec
	}
	return snap, nil
}

// Restore implements Store.
func (s *FileStore) Restore(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevUsers := make(map[string]fileIdentity, len(s.users))
	for k, v := range s.users {
		prevUsers[k] = v
	}
	prevStats := s.stats

	for userID, rec := range snap.Identities {
		var ident fileIdentity
		if rec.Nickname != "" {
			nick := rec.Nickname
			ident.Nickname = &nick
		}
		if !rec.CreatedAt.IsZero() {
			ident.CreatedAt = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		s.users[userID] = ident
	}
	s.stats = snap.Stats

	if err := s.persistAll(); err != nil {
		s.users = prevUsers
		s.stats = prevStats
		s.restoreFiles()
		return storageErr("restore", err)
	}
	return nil
}

// persistAll writes both files. Callers hold s.mu.
func (s *FileStore) persistAll() error {
	if err := s.write(filepath.Join(s.dir, UsersFileName), s.users); err != nil {
		return err
	}
	return s.write(filepath.Join(s.dir, StatsFileName), s.stats)
}

// restoreFiles rewrites both files from memory after a rolled-back
// mutation so a half-finished persistAll does not leave the files ahead of
// the in-memory state. Failures here are reported by the next mutation.
func (s *FileStore) restoreFiles() {
	_ = s.persistAll()
}

// parseFileTime accepts RFC 3339 timestamps and the naive format written
// by legacy deployments (interpreted as UTC).
func parseFileTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(legacyTimeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", v, err)
	}
	return t.UTC(), nil
}

// readJSON decodes path into v. A missing file leaves v untouched.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: decode %s: %w", path, err)
	}
	return nil
}

// writeJSONAtomic writes v to path through a synced temp file and rename.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
