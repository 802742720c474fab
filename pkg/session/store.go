package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jg-phare/gshell/pkg/types"
)

// Store is the append-only, file-backed session journal described in
// SPEC_FULL.md §4.4: one directory per session under baseDir, holding a
// journal.jsonl (SessionEntry lines, parentUuid-threaded) and a
// metadata.json summary.
type Store struct {
	baseDir        string
	writer         *journalWriter
	persistEnabled bool // false = all writes are no-ops

	mu      sync.Mutex
	lastUUD map[string]string // sessionID -> UUID of the last appended entry
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPersistEnabled controls whether the store actually writes to disk.
func WithPersistEnabled(enabled bool) StoreOption {
	return func(s *Store) { s.persistEnabled = enabled }
}

// NewStore creates a new session store rooted at baseDir.
// baseDir is typically ~/.claude/projects/{sanitized-cwd}/sessions/
func NewStore(baseDir string, opts ...StoreOption) *Store {
	s := &Store{
		baseDir:        baseDir,
		writer:         newJournalWriter(),
		persistEnabled: true, // default: writes are enabled
		lastUUD:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

func (s *Store) journalPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), journalFile)
}

// Create starts a new session rooted at cwd, using model as its default
// model, and persists the initial metadata. The session ID is generated
// here and returned in the metadata.
func (s *Store) Create(cwd, model string) (types.SessionMetadata, error) {
	now := time.Now()
	meta := types.SessionMetadata{
		ID:        uuid.NewString(),
		CWD:       cwd,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !s.persistEnabled {
		return meta, nil
	}
	dir := s.sessionDir(meta.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return types.SessionMetadata{}, fmt.Errorf("create session dir: %w", err)
	}
	if err := saveMetadata(dir, meta); err != nil {
		return types.SessionMetadata{}, err
	}
	return meta, nil
}

// SessionState bundles a session's metadata with its full entry history.
type SessionState struct {
	Metadata types.SessionMetadata
	Entries  []types.SessionEntry
}

// Load retrieves a session by ID with all its journal entries.
func (s *Store) Load(sessionID string) (*SessionState, error) {
	dir := s.sessionDir(sessionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, ErrSessionNotFound
	}

	meta, err := loadMetadata(dir)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}

	entries, err := loadEntries(s.journalPath(sessionID))
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}

	return &SessionState{Metadata: meta, Entries: entries}, nil
}

// LoadLatest finds the most recently updated session for the given CWD.
func (s *Store) LoadLatest(cwd string) (*SessionState, error) {
	sessions, err := s.List()
	if err != nil {
		return nil, err
	}

	var latest *types.SessionMetadata
	for i := range sessions {
		if sessions[i].CWD != cwd {
			continue
		}
		if latest == nil || sessions[i].UpdatedAt.After(latest.UpdatedAt) {
			latest = &sessions[i]
		}
	}

	if latest == nil {
		return nil, ErrSessionNotFound
	}
	return s.Load(latest.ID)
}

// Delete removes a session and all its files.
func (s *Store) Delete(sessionID string) error {
	dir := s.sessionDir(sessionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	delete(s.lastUUD, sessionID)
	s.mu.Unlock()
	return os.RemoveAll(dir)
}

// List returns metadata for all sessions, most recently updated first.
func (s *Store) List() ([]types.SessionMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []types.SessionMetadata
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := loadMetadata(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			continue // skip corrupt sessions
		}
		sessions = append(sessions, meta)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	return sessions, nil
}

// Append writes a new SessionEntry to the session's journal via the async
// writer, chaining it off the UUID of the last entry written for this
// session. The parent UUID is cached in memory after the first append and
// lazily populated from the journal's tail otherwise, so the chain
// survives a process restart.
func (s *Store) Append(sessionID string, entryType types.EntryType, message *types.EntryMessage, metadata *types.EntryMetadata) (types.SessionEntry, error) {
	parent, err := s.parentFor(sessionID)
	if err != nil {
		return types.SessionEntry{}, err
	}

	entry := types.SessionEntry{
		SessionID:  sessionID,
		UUID:       uuid.NewString(),
		ParentUUID: parent,
		Timestamp:  time.Now(),
		Type:       entryType,
		Message:    message,
		Metadata:   metadata,
	}

	s.mu.Lock()
	s.lastUUD[sessionID] = entry.UUID
	s.mu.Unlock()

	if !s.persistEnabled {
		return entry, nil
	}

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return types.SessionEntry{}, err
	}

	data, err := marshalEntry(entry)
	if err != nil {
		return types.SessionEntry{}, err
	}

	errCh := make(chan error, 1)
	s.writer.Append(s.journalPath(sessionID), data, errCh)
	if err := <-errCh; err != nil {
		return types.SessionEntry{}, err
	}

	if err := s.touchMetadata(sessionID, entryType); err != nil {
		return types.SessionEntry{}, err
	}
	return entry, nil
}

func (s *Store) parentFor(sessionID string) (string, error) {
	s.mu.Lock()
	if p, ok := s.lastUUD[sessionID]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	p, err := lastUUID(s.journalPath(sessionID))
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.lastUUD[sessionID] = p
	s.mu.Unlock()
	return p, nil
}

func (s *Store) touchMetadata(sessionID string, entryType types.EntryType) error {
	dir := s.sessionDir(sessionID)
	meta, err := loadMetadata(dir)
	if err != nil {
		return fmt.Errorf("load metadata for touch: %w", err)
	}
	meta.UpdatedAt = time.Now()
	meta.MessageCount++
	if entryType == types.EntryUser {
		meta.TurnCount++
	}
	return saveMetadata(dir, meta)
}

// LoadEntries reads all journal entries for a session.
func (s *Store) LoadEntries(sessionID string) ([]types.SessionEntry, error) {
	return loadEntries(s.journalPath(sessionID))
}

// LoadEntriesUpTo reads journal entries up to and including the specified UUID.
func (s *Store) LoadEntriesUpTo(sessionID string, entryUUID string) ([]types.SessionEntry, error) {
	return loadEntriesUpTo(s.journalPath(sessionID), entryUUID)
}

// UpdateMetadata loads the session's metadata, applies fn, and saves the
// result. UpdatedAt is set to the current time unless fn changed it.
func (s *Store) UpdateMetadata(sessionID string, fn func(*types.SessionMetadata)) error {
	if !s.persistEnabled {
		return nil
	}
	dir := s.sessionDir(sessionID)
	meta, err := loadMetadata(dir)
	if err != nil {
		return fmt.Errorf("load metadata for update: %w", err)
	}

	before := meta.UpdatedAt
	fn(&meta)
	if meta.UpdatedAt.Equal(before) {
		meta.UpdatedAt = time.Now()
	}
	return saveMetadata(dir, meta)
}

// Close flushes the async writer and releases resources.
func (s *Store) Close() error {
	return s.writer.Close()
}
