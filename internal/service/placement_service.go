package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/unimath/placement-backend/internal/session"
)

// Placement service errors.
var (
	ErrNoActiveSession = errors.New("student has no exam session in progress")
)

// SessionSummary is the monitoring view of one active exam session.
type SessionSummary struct {
	SessionID     string `json:"session_id"`
	StudentID     string `json:"student_id"`
	ExamRef       string `json:"exam_ref"`
	State         string `json:"state"`
	Started       bool   `json:"started"`
	TimeRemaining int64  `json:"time_remaining"`
	Answered      int    `json:"answered"`
	Total         int    `json:"total"`
}

// PlacementService orchestrates exam sessions: opening them, routing
// student actions, and the administrative force operations.
type PlacementService struct {
	store *session.Store
	deps  session.Deps
	log   zerolog.Logger
}

// NewPlacementService creates a new PlacementService.
func NewPlacementService(store *session.Store, deps session.Deps, log zerolog.Logger) *PlacementService {
	return &PlacementService{
		store: store,
		deps:  deps,
		log:   log.With().Str("component", "placement_service").Logger(),
	}
}

// StartExam returns the student's exam session, creating and realizing one
// when none exists. An existing session always wins, whatever exam it was
// opened for.
func (s *PlacementService) StartExam(ctx context.Context, studentID, examRef string, proctored bool, redirectOnEnd string) (*session.Render, error) {
	if existing := s.store.Get(studentID); existing != nil {
		return existing.Render(), nil
	}

	sess := session.New(s.deps, studentID, examRef, proctored, redirectOnEnd)
	sess.Start(ctx)

	if err := s.store.Insert(sess); err != nil {
		if errors.Is(err, session.ErrSessionExists) {
			// Lost the race; the stored session wins.
			if existing := s.store.Get(studentID); existing != nil {
				return existing.Render(), nil
			}
		}
		return nil, err
	}

	return sess.Render(), nil
}

// Act applies one student action to their session. When the action closes
// the session it is dropped from the store.
func (s *PlacementService) Act(ctx context.Context, studentID string, in session.Input) (*session.Render, error) {
	sess := s.store.Get(studentID)
	if sess == nil {
		return nil, ErrNoActiveSession
	}

	r := sess.Handle(ctx, in)
	if r.Closed {
		s.store.Remove(studentID)
	}
	return r, nil
}

// Render describes the student's session without applying an action.
func (s *PlacementService) Render(studentID string) (*session.Render, error) {
	sess := s.store.Get(studentID)
	if sess == nil {
		return nil, ErrNoActiveSession
	}
	return sess.Render(), nil
}

// ForceAbort abandons a student's session without grading.
func (s *PlacementService) ForceAbort(ctx context.Context, studentID string) error {
	sess := s.store.Get(studentID)
	if sess == nil {
		return ErrNoActiveSession
	}

	s.log.Info().Str("student_id", studentID).Msg("Forcing exam session abort")
	sess.ForceAbort(ctx)
	s.store.Remove(studentID)
	return nil
}

// ForceSubmit grades a student's session as-is and removes it.
func (s *PlacementService) ForceSubmit(ctx context.Context, studentID string) error {
	sess := s.store.Get(studentID)
	if sess == nil {
		return ErrNoActiveSession
	}

	s.log.Info().Str("student_id", studentID).Msg("Forcing exam session submit")
	sess.ForceSubmit(ctx)
	s.store.Remove(studentID)
	return nil
}

// ActiveSessions summarizes every session in the store for monitoring.
func (s *PlacementService) ActiveSessions() []SessionSummary {
	sessions := s.store.Active()
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		r := sess.Render()
		out = append(out, SessionSummary{
			SessionID:     r.SessionID,
			StudentID:     sess.StudentID(),
			ExamRef:       sess.ExamRef(),
			State:         r.State,
			Started:       r.Started,
			TimeRemaining: r.TimeRemaining,
			Answered:      r.Answered,
			Total:         r.Total,
		})
	}
	return out
}
