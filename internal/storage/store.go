// Package storage persists session snapshots as msgpack files, one per
// session, with a blake3 integrity hash so a torn write is detected on load
// instead of producing a half-rehydrated conversation.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"

	"github.com/danshapiro/socratic/internal/turnlog"
)

const (
	fileExt = ".session"
	magic   = "SOCR1"
)

// SessionSnapshot is the persisted form of a session.
type SessionSnapshot struct {
	ID        string         `msgpack:"id"`
	Topic     string         `msgpack:"topic"`
	CreatedAt time.Time      `msgpack:"created_at"`
	UpdatedAt time.Time      `msgpack:"updated_at"`
	Turns     []turnlog.Turn `msgpack:"turns"`
}

// Store reads and writes snapshots under a single directory.
type Store struct {
	Dir string
}

func NewStore(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{Dir: dir}, nil
}

// SaveSession writes the snapshot atomically (temp file + rename). The file
// layout is magic, 32-byte blake3 sum of the payload, payload.
func (s *Store) SaveSession(snap SessionSnapshot) error {
	if strings.TrimSpace(snap.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	payload, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", snap.ID, err)
	}
	sum := blake3.Sum256(payload)

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.Write(sum[:])
	buf.Write(payload)

	path := s.path(snap.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadAllSessions reads every snapshot in the directory, newest first by
// UpdatedAt. Files that are corrupt (bad magic or hash mismatch) are
// skipped rather than failing the whole load.
func (s *Store) LoadAllSessions() ([]SessionSnapshot, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []SessionSnapshot
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		snap, err := s.load(filepath.Join(s.Dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// LoadSession reads one snapshot by id.
func (s *Store) LoadSession(id string) (SessionSnapshot, error) {
	return s.load(s.path(id))
}

func (s *Store) DeleteSession(id string) error {
	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) load(path string) (SessionSnapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return SessionSnapshot{}, err
	}
	if len(b) < len(magic)+32 || string(b[:len(magic)]) != magic {
		return SessionSnapshot{}, fmt.Errorf("%s: not a session snapshot", path)
	}
	var sum [32]byte
	copy(sum[:], b[len(magic):len(magic)+32])
	payload := b[len(magic)+32:]
	if blake3.Sum256(payload) != sum {
		return SessionSnapshot{}, fmt.Errorf("%s: integrity hash mismatch", path)
	}
	var snap SessionSnapshot
	if err := msgpack.Unmarshal(payload, &snap); err != nil {
		return SessionSnapshot{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return snap, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.Dir, id+fileExt)
}
