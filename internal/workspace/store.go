// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package workspace persists sessions as directories of stage artifacts,
// a metadata record, and an append-only transcript.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/report-engine/pkg/types"
)

var (
	// ErrNotFound reports a missing session or artifact.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists reports a duplicate session or a taken write-once name.
	ErrAlreadyExists = errors.New("already exists")
)

// Store manages session directories under a root directory. Stage artifacts
// are addressed by session ID and a session-relative path such as
// "01_draft/draft.md".
type Store struct {
	root string
	now  func() time.Time

	// metaMu serializes read-modify-write of session.yaml within this process.
	metaMu sync.Mutex
	logMu  sync.Mutex
}

// Option customizes a Store during construction.
type Option func(*Store)

// WithClock overrides the clock used for metadata and transcript timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.now = clock
	}
}

// NewStore opens a store rooted at root, creating the directory if needed.
func NewStore(root string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	s := &Store{root: abs, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute workspace root.
func (s *Store) Root() string { return s.root }

// NewSessionID returns an opaque identifier that sorts in creation order.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewSession builds the metadata record for a session that has not been
// created on disk yet.
func (s *Store) NewSession(topic string, mode types.Mode, cfg types.SessionConfig) types.Session {
	now := s.now().UTC()
	return types.Session{
		ID:          NewSessionID(),
		Topic:       topic,
		CreatedAt:   now,
		Mode:        mode,
		Config:      cfg,
		Status:      types.StatusInitialized,
		LastUpdated: now,
	}
}

// Create makes the session directory with its fixed stage subdirectories and
// writes the metadata record. It fails with ErrAlreadyExists if the session
// directory is already present.
func (s *Store) Create(ctx context.Context, sess types.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sess.ID == "" || strings.ContainsAny(sess.ID, `/\`) || sess.ID == "." || sess.ID == ".." {
		return fmt.Errorf("invalid session id %q", sess.ID)
	}
	dir := filepath.Join(s.root, sess.ID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("session %s: %w", sess.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("creating session directory: %w", err)
	}
	for _, sub := range StageDirs(sess.Mode) {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", sub, err)
		}
	}
	return s.saveSession(sess)
}

// Load reads a session's metadata record.
func (s *Store) Load(id string) (types.Session, error) {
	data, err := s.Read(id, MetadataFile)
	if err != nil {
		return types.Session{}, err
	}
	var sess types.Session
	if err := yaml.Unmarshal(data, &sess); err != nil {
		return types.Session{}, fmt.Errorf("parsing %s metadata: %w", id, err)
	}
	return sess, nil
}

// UpdateStatus records a status transition and the stage in progress.
func (s *Store) UpdateStatus(id string, status types.Status, stage string) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	sess, err := s.Load(id)
	if err != nil {
		return err
	}
	sess.Status = status
	sess.CurrentStage = stage
	sess.LastUpdated = s.now().UTC()
	return s.saveSession(sess)
}

func (s *Store) saveSession(sess types.Session) error {
	data, err := yaml.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	return s.Write(sess.ID, MetadataFile, data)
}

// ListSessions returns every session ID in creation order.
func (s *Store) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading workspace root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), MetadataFile)); err != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Remove deletes a session and all its artifacts.
func (s *Store) Remove(id string) error {
	dir, err := s.sessionDir(id)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// Scope returns the absolute session directory handed to the executor.
func (s *Store) Scope(id string) (string, error) {
	return s.sessionDir(id)
}

// Path resolves a session-relative path to an absolute path. Paths that
// would leave the session directory are rejected.
func (s *Store) Path(id, rel string) (string, error) {
	dir, err := s.sessionDir(id)
	if err != nil {
		return "", err
	}
	return ResolveWithin(dir, rel)
}

func (s *Store) sessionDir(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	dir := filepath.Join(s.root, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return dir, nil
}

// ResolveWithin joins rel onto base and rejects results outside base.
func ResolveWithin(base, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative", rel)
	}
	full := filepath.Join(base, rel)
	r, err := filepath.Rel(base, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %s", rel, base)
	}
	return full, nil
}

// Write creates or replaces an artifact atomically: readers see either the
// old content or the new content, never a partial file.
func (s *Store) Write(id, rel string, data []byte) error {
	path, err := s.Path(id, rel)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteNew creates an artifact that must not exist yet. It fails with
// ErrAlreadyExists if another writer got there first.
func (s *Store) WriteNew(id, rel string, data []byte) error {
	path, err := s.Path(id, rel)
	if err != nil {
		return err
	}
	return WriteFileExclusive(path, data)
}

// Read returns an artifact's content or ErrNotFound.
func (s *Store) Read(id, rel string) ([]byte, error) {
	path, err := s.Path(id, rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s/%s: %w", id, rel, ErrNotFound)
		}
		return nil, fmt.Errorf("reading %s/%s: %w", id, rel, err)
	}
	return data, nil
}

// Exists reports whether an artifact is present.
func (s *Store) Exists(id, rel string) bool {
	path, err := s.Path(id, rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// IsNonEmpty reports whether an artifact exists as a regular file with
// content. This is the stage completion check.
func (s *Store) IsNonEmpty(id, rel string) bool {
	path, err := s.Path(id, rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// List returns the session-relative paths of files in dir whose names match
// the glob pattern, sorted by name.
func (s *Store) List(id, dir, pattern string) ([]string, error) {
	full, err := s.Path(id, dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ok, err := filepath.Match(pattern, e.Name())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, filepath.ToSlash(filepath.Join(dir, e.Name())))
		}
	}
	sort.Strings(out)
	return out, nil
}

// WriteYAML marshals v and writes it atomically.
func (s *Store) WriteYAML(id, rel string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", rel, err)
	}
	return s.Write(id, rel, data)
}

// ReadYAML reads rel and unmarshals it into v.
func (s *Store) ReadYAML(id, rel string, v any) error {
	data, err := s.Read(id, rel)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", rel, err)
	}
	return nil
}
