package session

import (
	"fmt"
	"time"

	"github.com/unimath/placement-backend/internal/exam"
)

// snapshotVersion is bumped whenever the persisted document shape changes;
// Restore refuses documents with a version it does not know.
const snapshotVersion = 1

// snapshotDoc is the persisted form of the whole session store.
type snapshotDoc struct {
	Version  int               `json:"version"`
	SavedAt  time.Time         `json:"saved_at"`
	Sessions []sessionSnapshot `json:"sessions"`
}

// sessionSnapshot is the persisted form of one session. Collaborators are
// not serialized; restore re-wires the process's deps.
type sessionSnapshot struct {
	ID               string         `json:"id"`
	StudentID        string         `json:"student_id"`
	ExamRef          string         `json:"exam_ref"`
	ExamID           string         `json:"exam_id"`
	Proctored        bool           `json:"proctored"`
	RedirectOnEnd    string         `json:"redirect_on_end"`
	State            string         `json:"state"`
	Sect             int            `json:"sect"`
	Item             int            `json:"item"`
	ProfilePage      int            `json:"profile_page"`
	ProfileResponses []string       `json:"profile_responses"`
	LastSect         int            `json:"last_sect"`
	LastItem         int            `json:"last_item"`
	Started          bool           `json:"started"`
	TimeoutAt        time.Time      `json:"timeout_at"`
	PurgeAt          time.Time      `json:"purge_at"`
	Error            string         `json:"error,omitempty"`
	GradingError     string         `json:"grading_error,omitempty"`
	Result           string         `json:"result,omitempty"`
	Score            *int           `json:"score,omitempty"`
	Mastery          *int           `json:"mastery,omitempty"`
	Instance         *exam.Instance `json:"instance,omitempty"`
}

// Snapshot state kinds.
const (
	snapInitial      = "INITIAL"
	snapError        = "ERROR"
	snapProfile      = "PROFILE"
	snapInstructions = "INSTRUCTIONS"
	snapItem         = "ITEM"
	snapSubmit       = "SUBMIT"
	snapCompleted    = "COMPLETED"
)

// snapshot copies the session's state under its lock. Mutable parts are
// deep-copied so the caller can marshal the result while the session keeps
// serving requests.
func (s *Session) snapshot() sessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := sessionSnapshot{
		ID:               s.id,
		StudentID:        s.studentID,
		ExamRef:          s.examRef,
		ExamID:           s.examID,
		Proctored:        s.proctored,
		RedirectOnEnd:    s.redirectOnEnd,
		ProfilePage:      s.profilePage,
		ProfileResponses: append([]string(nil), s.profileResponses[:]...),
		LastSect:         s.lastSect,
		LastItem:         s.lastItem,
		Started:          s.started,
		TimeoutAt:        s.timeoutAt,
		PurgeAt:          s.purgeAt,
		Error:            s.errMsg,
		GradingError:     s.gradingError,
		Result:           s.resultCode,
		Score:            s.score,
		Mastery:          s.mastery,
		Instance:         s.instance.Clone(),
	}

	switch st := s.state.(type) {
	case StateInitial:
		snap.State = snapInitial
	case StateError:
		snap.State = snapError
	case StateProfile:
		snap.State = snapProfile
	case StateInstructions:
		snap.State = snapInstructions
	case StateItem:
		snap.State = snapItem
		snap.Sect, snap.Item = st.Sect, st.Item
	case StateSubmit:
		snap.State = snapSubmit
		snap.Sect, snap.Item = st.Sect, st.Item
	case StateCompleted:
		snap.State = snapCompleted
	}

	return snap
}

// restoreSession rebuilds a session from its snapshot. The purge deadline
// is pushed past the exam deadline so a session that expired while the
// process was down still gets force-graded by the next sweep.
func restoreSession(deps Deps, snap sessionSnapshot) (*Session, error) {
	s := &Session{
		id:            snap.ID,
		studentID:     snap.StudentID,
		examRef:       snap.ExamRef,
		examID:        snap.ExamID,
		proctored:     snap.Proctored,
		redirectOnEnd: snap.RedirectOnEnd,
		profilePage:   snap.ProfilePage,
		lastSect:      snap.LastSect,
		lastItem:      snap.LastItem,
		started:       snap.Started,
		timeoutAt:     snap.TimeoutAt,
		purgeAt:       snap.PurgeAt,
		errMsg:        snap.Error,
		gradingError:  snap.GradingError,
		resultCode:    snap.Result,
		score:         snap.Score,
		mastery:       snap.Mastery,
		instance:      snap.Instance,
		deps:          deps,
		log: deps.Log.With().
			Str("session_id", snap.ID).
			Str("student_id", snap.StudentID).
			Str("exam", snap.ExamRef).
			Logger(),
	}

	copy(s.profileResponses[:], snap.ProfileResponses)

	switch snap.State {
	case snapInitial:
		s.state = StateInitial{}
	case snapError:
		s.state = StateError{}
	case snapProfile:
		s.state = StateProfile{}
	case snapInstructions:
		s.state = StateInstructions{}
	case snapItem:
		s.state = StateItem{Sect: snap.Sect, Item: snap.Item}
	case snapSubmit:
		s.state = StateSubmit{Sect: snap.Sect, Item: snap.Item}
	case snapCompleted:
		s.state = StateCompleted{}
	default:
		return nil, fmt.Errorf("unknown session state %q", snap.State)
	}

	if !s.timeoutAt.IsZero() {
		if floor := s.timeoutAt.Add(purgeGrace); s.purgeAt.Before(floor) {
			s.purgeAt = floor
		}
	}

	return s, nil
}
