package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreInsertFirstWriterWins(t *testing.T) {
	env := newTestEnv()
	store := NewStore(env.deps)

	first := startedSession(t, env)
	if err := store.Insert(first); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	second := New(env.deps, "S0000001", "math-placement", false, "")
	if err := store.Insert(second); !errors.Is(err, ErrSessionExists) {
		t.Errorf("second insert err = %v, want ErrSessionExists", err)
	}

	if got := store.Get("S0000001"); got != first {
		t.Error("stored session is not the first writer")
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
}

func TestStoreInsertRejectsTimedOut(t *testing.T) {
	env := newTestEnv()
	store := NewStore(env.deps)
	ctx := context.Background()

	s := examSession(t, env)
	s.Handle(ctx, Input{Action: "nav_0_0", EchoSect: -1, EchoItem: -1})
	env.clock.advance(2 * time.Hour)

	if err := store.Insert(s); !errors.Is(err, ErrSessionTimedOut) {
		t.Errorf("insert err = %v, want ErrSessionTimedOut", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len = %d, want 0", store.Len())
	}
}

func TestStorePersistRestoreRoundTrip(t *testing.T) {
	env := newTestEnv()
	store := NewStore(env.deps)
	ctx := context.Background()
	dir := t.TempDir()

	s := examSession(t, env)
	s.Handle(ctx, Input{Action: "nav_0_0", EchoSect: -1, EchoItem: -1})
	s.Handle(ctx, Input{Action: "nav_0_1", EchoSect: 0, EchoItem: 0, Answers: []string{"2"}})
	if err := store.Insert(s); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := store.Persist(dir); err != nil {
		t.Fatalf("persist: %v", err)
	}

	// A fresh store, as after a process restart, picks the session back up.
	restored := NewStore(env.deps)
	if err := restored.Restore(dir); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got := restored.Get("S0000001")
	if got == nil {
		t.Fatal("session not restored")
	}
	if got.ID() != s.ID() {
		t.Errorf("restored id = %s, want %s", got.ID(), s.ID())
	}
	if got.StateName() != "ITEM_0_1" {
		t.Errorf("restored state = %s, want ITEM_0_1", got.StateName())
	}

	r := got.Render()
	if r.Answered != 1 {
		t.Errorf("restored answered = %d, want 1", r.Answered)
	}
	if r.TimeRemaining != 3600 {
		t.Errorf("restored remaining = %d, want 3600", r.TimeRemaining)
	}

	// The document is archived so a crash loop cannot restore it twice.
	if _, err := os.Stat(filepath.Join(dir, snapshotFile)); !os.IsNotExist(err) {
		t.Error("snapshot file still present after restore")
	}
	if _, err := os.Stat(filepath.Join(dir, snapshotFile+".bak")); err != nil {
		t.Errorf("snapshot .bak missing: %v", err)
	}
}

func TestSnapshotCopiesLiveAnswers(t *testing.T) {
	env := newTestEnv()
	s := examSession(t, env)
	ctx := context.Background()
	s.Handle(ctx, Input{Action: "nav_0_0", EchoSect: -1, EchoItem: -1})

	snap := s.snapshot()

	// Answers recorded after the copy is taken must not reach it; the
	// persistence path marshals snapshots outside the session lock.
	s.Handle(ctx, Input{Action: "nav_0_1", EchoSect: 0, EchoItem: 0, Answers: []string{"2"}})

	if got := snap.Instance.Problem(0, 0).Recorded; len(got) != 0 {
		t.Errorf("snapshot shares answer storage with the live session: %v", got)
	}
	if snap.State != snapItem || snap.Sect != 0 || snap.Item != 0 {
		t.Errorf("snapshot position = %s %d/%d, want ITEM 0/0", snap.State, snap.Sect, snap.Item)
	}
}

func TestSnapshotCopiesProfileResponses(t *testing.T) {
	env := newTestEnv()
	s := startedSession(t, env)

	snap := s.snapshot()

	s.Handle(context.Background(), Input{Action: "goto2", EchoSect: -1, EchoItem: -1,
		Survey: map[string]string{"q1": "5"}})

	if snap.ProfileResponses[0] != "" {
		t.Errorf("snapshot shares profile storage with the live session: %q", snap.ProfileResponses[0])
	}
}

func TestStorePersistDropsTimedOut(t *testing.T) {
	env := newTestEnv()
	store := NewStore(env.deps)
	ctx := context.Background()
	dir := t.TempDir()

	s := examSession(t, env)
	s.Handle(ctx, Input{Action: "nav_0_0", EchoSect: -1, EchoItem: -1})
	if err := store.Insert(s); err != nil {
		t.Fatalf("insert: %v", err)
	}

	env.clock.advance(2 * time.Hour)
	if err := store.Persist(dir); err != nil {
		t.Fatalf("persist: %v", err)
	}

	restored := NewStore(env.deps)
	if err := restored.Restore(dir); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Len() != 0 {
		t.Errorf("restored %d sessions, want 0", restored.Len())
	}
}

func TestStoreRestoreMissingFile(t *testing.T) {
	env := newTestEnv()
	store := NewStore(env.deps)

	if err := store.Restore(t.TempDir()); err != nil {
		t.Errorf("restore with no snapshot: %v", err)
	}
}

func TestStoreRestoreRejectsUnknownVersion(t *testing.T) {
	env := newTestEnv()
	store := NewStore(env.deps)
	dir := t.TempDir()

	doc := []byte(`{"version": 99, "saved_at": "2026-03-09T10:00:00Z", "sessions": []}`)
	if err := os.WriteFile(filepath.Join(dir, snapshotFile), doc, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := store.Restore(dir); err == nil {
		t.Error("restore accepted an unknown snapshot version")
	}
}

func TestPurgeExpiredGradesInExamSessions(t *testing.T) {
	env := newTestEnv()
	store := NewStore(env.deps)
	ctx := context.Background()

	s := examSession(t, env)
	s.Handle(ctx, Input{Action: "nav_0_0", EchoSect: -1, EchoItem: -1})
	if err := store.Insert(s); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Not yet past the purge deadline.
	if n := store.PurgeExpired(ctx); n != 0 {
		t.Fatalf("early purge reclaimed %d sessions", n)
	}

	env.clock.advance(PurgeTimeout + time.Minute)
	if n := store.PurgeExpired(ctx); n != 1 {
		t.Fatalf("purge reclaimed %d sessions, want 1", n)
	}

	if env.grader.callCount() != 1 {
		t.Errorf("grader calls = %d, want 1 (in-exam session must be graded)", env.grader.callCount())
	}
	if store.Len() != 0 {
		t.Errorf("Len = %d, want 0", store.Len())
	}
}

func TestPurgeExpiredAbandonsPreExamSessions(t *testing.T) {
	env := newTestEnv()
	store := NewStore(env.deps)
	ctx := context.Background()

	s := startedSession(t, env)
	if err := store.Insert(s); err != nil {
		t.Fatalf("insert: %v", err)
	}

	env.clock.advance(PurgeTimeout + time.Minute)
	if n := store.PurgeExpired(ctx); n != 1 {
		t.Fatalf("purge reclaimed %d sessions, want 1", n)
	}

	if env.grader.callCount() != 0 {
		t.Errorf("grader calls = %d, want 0 (profile session is never graded)", env.grader.callCount())
	}
	if env.recovery.updated != 1 {
		t.Errorf("recovery snapshots = %d, want 1", env.recovery.updated)
	}
	// The pending-exam row stays: it is the recoverable trace of the
	// attempt. Only an administrative abort removes it.
	if len(env.repo.pendingDeleted) != 0 {
		t.Errorf("pending deletes = %d, want 0", len(env.repo.pendingDeleted))
	}
}
