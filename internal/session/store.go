package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// snapshotFile is the document Persist writes under its directory.
const snapshotFile = "placement_sessions.json"

// ErrSessionExists is returned by Insert when the student already has an
// active session; the existing session wins.
var ErrSessionExists = errors.New("student already has an active exam session")

// ErrSessionTimedOut is returned by Insert for sessions whose exam
// deadline has already passed.
var ErrSessionTimedOut = errors.New("exam session has already timed out")

// Store owns every active exam session, keyed by student. It is
// constructed once and injected wherever sessions are needed.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	deps     Deps
	log      zerolog.Logger
}

// NewStore creates an empty session store.
func NewStore(deps Deps) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		deps:     deps,
		log:      deps.Log.With().Str("component", "session_store").Logger(),
	}
}

// Get returns the student's active session, or nil.
func (st *Store) Get(studentID string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[studentID]
}

// Insert registers a session for its student. The first writer wins: if
// the student already has a session the new one is rejected, and sessions
// whose deadline has already passed are never stored.
func (st *Store) Insert(s *Session) error {
	now := st.deps.now()
	if s.IsTimedOut(now) {
		st.log.Warn().
			Str("student_id", s.StudentID()).
			Str("exam", s.ExamRef()).
			Msg("Refusing to store timed-out exam session")
		return ErrSessionTimedOut
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[s.StudentID()]; ok {
		return ErrSessionExists
	}
	st.sessions[s.StudentID()] = s
	return nil
}

// Remove drops the student's session, if any.
func (st *Store) Remove(studentID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, studentID)
}

// Active returns a snapshot of all current sessions.
func (st *Store) Active() []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of active sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Persist writes every non-timed-out session to a versioned document under
// dir. Sessions past their deadline are deliberately dropped: they will be
// force-graded before persistence by the purge sweep, or rejected at
// restore.
func (st *Store) Persist(dir string) error {
	now := st.deps.now()

	doc := snapshotDoc{
		Version: snapshotVersion,
		SavedAt: now,
	}
	for _, s := range st.Active() {
		if s.IsTimedOut(now) {
			continue
		}
		doc.Sessions = append(doc.Sessions, s.snapshot())
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}

	path := filepath.Join(dir, snapshotFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace session snapshot: %w", err)
	}

	st.log.Info().Int("sessions", len(doc.Sessions)).Str("path", path).Msg("Persisted exam sessions")
	return nil
}

// Restore loads a persisted document from dir, rehydrates its sessions
// through the normal insert rule, and renames the file to .bak so a
// crash loop cannot restore the same document twice.
func (st *Store) Restore(dir string) error {
	path := filepath.Join(dir, snapshotFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session snapshot: %w", err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse session snapshot: %w", err)
	}
	if doc.Version != snapshotVersion {
		return fmt.Errorf("unsupported session snapshot version %d", doc.Version)
	}

	restored := 0
	for _, snap := range doc.Sessions {
		s, err := restoreSession(st.deps, snap)
		if err != nil {
			st.log.Error().Err(err).Str("student_id", snap.StudentID).Msg("Failed to restore exam session")
			continue
		}
		if err := st.Insert(s); err != nil {
			st.log.Warn().Err(err).Str("student_id", snap.StudentID).Msg("Skipping restored exam session")
			continue
		}
		restored++
	}

	if err := os.Rename(path, path+".bak"); err != nil {
		return fmt.Errorf("archive session snapshot: %w", err)
	}

	st.log.Info().Int("sessions", restored).Msg("Restored exam sessions")
	return nil
}

// PurgeExpired reclaims every session past its purge deadline. Sessions
// still interacting with exam items are force-graded so the student's work
// is not lost; all others are abandoned with a recovery snapshot, leaving
// their pending-exam rows for later recovery. Returns the number of
// sessions removed.
func (st *Store) PurgeExpired(ctx context.Context) int {
	now := st.deps.now()

	var expired []*Session
	for _, s := range st.Active() {
		if s.IsPurgable(now) {
			expired = append(expired, s)
		}
	}

	for _, s := range expired {
		name := s.StateName()
		switch {
		case strings.HasPrefix(name, "ITEM_") || strings.HasPrefix(name, "SUBMIT_"):
			st.log.Info().
				Str("student_id", s.StudentID()).
				Str("exam", s.ExamRef()).
				Msg("Purging abandoned exam session, grading as submitted")
			s.ForceSubmit(ctx)

		default:
			st.log.Info().
				Str("student_id", s.StudentID()).
				Str("exam", s.ExamRef()).
				Msg("Purging abandoned exam session")
			s.Abandon()
		}
		st.Remove(s.StudentID())
	}

	return len(expired)
}
