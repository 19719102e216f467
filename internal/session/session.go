// Package session implements the per-student exam-taking session: the
// state machine driving the profile survey, instructions, item, and submit
// pages, plus the in-memory store that owns every active session.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unimath/placement-backend/internal/exam"
	"github.com/unimath/placement-backend/internal/grading"
	"github.com/unimath/placement-backend/internal/model"
)

// PurgeTimeout is how long an idle session survives before the purge
// sweep reclaims it.
const PurgeTimeout = 5 * time.Hour

// purgeGrace is added past the exam deadline when restoring persisted
// sessions, so a just-expired session still gets force-graded rather than
// silently dropped.
const purgeGrace = time.Minute

// Repo is the persistence surface the session itself needs. The grading
// engine carries its own, wider interface.
type Repo interface {
	GetStudent(ctx context.Context, studentID string) (*model.Student, error)
	CountLegalAttempts(ctx context.Context, studentID, examID string) (unproctored, proctored int, err error)
	InsertPendingExam(ctx context.Context, pe model.PendingExam) error
	DeletePendingExam(ctx context.Context, serial int64, studentID string) error
	InsertPlacementLog(ctx context.Context, entry model.PlacementLog) error
	InsertSurveyAnswers(ctx context.Context, answers []model.SurveyAnswer) error
}

// Grader scores a submitted attempt. Implemented by grading.Engine.
type Grader interface {
	ScoreAttempt(ctx context.Context, att *grading.Attempt, now time.Time) (*grading.Result, error)
}

// RecoveryWriter persists point-in-time exam snapshots so an attempt can be
// reconstructed if the process dies mid-exam.
type RecoveryWriter interface {
	WritePresented(inst *exam.Instance) error
	WriteUpdated(inst *exam.Instance) error
}

// Deps carries the collaborators a session needs. They are never
// serialized; restored sessions are re-wired with the process's deps.
type Deps struct {
	Loader       exam.TemplateLoader
	Repo         Repo
	Grader       Grader
	Recovery     RecoveryWriter
	AcademicYear string
	Log          zerolog.Logger
	Now          func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Input is one student action posted to the session.
type Input struct {
	// Action is the symbolic command: "goto2", "goto3", "instruct",
	// "score", "timeout", "close", "Y", "N", or "nav_<sect>_<item>".
	Action string

	// EchoSect and EchoItem identify the item the answers belong to, as
	// echoed back by the page that collected them. -1 when absent.
	EchoSect int
	EchoItem int

	// Answers holds the recorded answer tokens for the echoed item.
	Answers []string

	// Survey holds the profile-page field values, keyed by field name.
	// Checkbox fields are present when checked.
	Survey map[string]string
}

// Render describes what the caller should present for the session's
// current state.
type Render struct {
	SessionID     string     `json:"session_id"`
	State         string     `json:"state"`
	ProfilePage   int        `json:"profile_page,omitempty"`
	Sect          int        `json:"sect"`
	Item          int        `json:"item"`
	Started       bool       `json:"started"`
	TimeRemaining int64      `json:"time_remaining"`
	Answered      int        `json:"answered"`
	Total         int        `json:"total"`
	Error         string     `json:"error,omitempty"`
	GradingError  string     `json:"grading_error,omitempty"`
	Score         *int       `json:"score,omitempty"`
	MasteryScore  *int       `json:"mastery_score,omitempty"`
	Result        string     `json:"result,omitempty"`
	Exam          *exam.View `json:"exam,omitempty"`
	Redirect      string     `json:"redirect,omitempty"`
	Closed        bool       `json:"closed,omitempty"`
}

// Session is one student's in-progress placement attempt.
type Session struct {
	mu sync.Mutex

	id            string
	studentID     string
	examRef       string
	examID        string
	proctored     bool
	redirectOnEnd string

	state            State
	profilePage      int
	profileResponses [15]string
	lastSect         int
	lastItem         int
	started          bool
	timeoutAt        time.Time
	purgeAt          time.Time
	errMsg           string
	gradingError     string
	score            *int
	mastery          *int
	resultCode       string
	instance         *exam.Instance

	deps Deps
	log  zerolog.Logger
}

// New constructs a session in the initial state. Call Start to realize the
// exam and move it into the profile survey.
func New(deps Deps, studentID, examRef string, proctored bool, redirectOnEnd string) *Session {
	id := uuid.NewString()
	return &Session{
		id:            id,
		studentID:     studentID,
		examRef:       examRef,
		proctored:     proctored,
		redirectOnEnd: redirectOnEnd,
		state:         StateInitial{},
		profilePage:   1,
		purgeAt:       deps.now().Add(PurgeTimeout),
		deps:          deps,
		log: deps.Log.With().
			Str("session_id", id).
			Str("student_id", studentID).
			Str("exam", examRef).
			Logger(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// StudentID returns the owning student's identifier.
func (s *Session) StudentID() string { return s.studentID }

// ExamRef returns the template reference the session was opened with.
func (s *Session) ExamRef() string { return s.examRef }

// StateName returns the wire form of the current state.
func (s *Session) StateName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Name()
}

// IsTimedOut reports whether the exam deadline has passed. Untimed
// sessions never time out.
func (s *Session) IsTimedOut(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timedOutLocked(now)
}

func (s *Session) timedOutLocked(now time.Time) bool {
	return !s.timeoutAt.IsZero() && !now.Before(s.timeoutAt)
}

// IsPurgable reports whether the purge sweep should reclaim the session.
func (s *Session) IsPurgable(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.purgeAt.IsZero() && !now.Before(s.purgeAt)
}

// Start realizes the exam instance and advances to the profile survey. On
// any failure the session lands in the error state with a student-facing
// message; Start never returns an error because the error page is the
// recovery path.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.(StateInitial); !ok {
		return
	}

	now := s.deps.now()

	tmpl, err := s.deps.Loader.Load(ctx, s.examRef)
	if err != nil {
		s.failLocked("Unable to load the placement exam.", err)
		return
	}
	if tmpl.ExamType != "Q" {
		s.failLocked("Requested exam is not a placement exam.",
			fmt.Errorf("exam %s has type %q", s.examRef, tmpl.ExamType))
		return
	}

	student, err := s.deps.Repo.GetStudent(ctx, s.studentID)
	if err != nil {
		s.failLocked("Unable to look up your student record.", err)
		return
	}

	// Test accounts skip the eligibility check; their attempts are never
	// recorded, so they cannot use up attempts either.
	if !student.IsTestAccount() {
		unproctored, proctored, err := s.deps.Repo.CountLegalAttempts(ctx, s.studentID, tmpl.ExamID)
		if err != nil {
			s.failLocked("Unable to check exam eligibility.", err)
			return
		}
		if s.proctored && proctored >= grading.MaxProctoredAttempts {
			s.failLocked("You have used all proctored attempts on this exam.",
				fmt.Errorf("student %s has %d proctored attempts", s.studentID, proctored))
			return
		}
		if !s.proctored && unproctored >= grading.MaxUnproctoredAttempts {
			s.failLocked("You have used all unproctored attempts on this exam.",
				fmt.Errorf("student %s has %d unproctored attempts", s.studentID, unproctored))
			return
		}
	}

	serial := exam.GenerateSerialNumber()
	rnd := rand.New(rand.NewSource(now.UnixNano() ^ serial))

	inst, err := exam.Realize(tmpl, serial, s.studentID, student.TimeLimitFactor, rnd, now)
	if err != nil {
		s.failLocked("Unable to generate the placement exam.", err)
		return
	}

	if err := s.deps.Recovery.WritePresented(inst); err != nil {
		s.log.Error().Err(err).Msg("Failed to write presented-exam recovery snapshot")
	}

	if !student.IsTestAccount() {
		entry := model.PlacementLog{
			StudentID:    s.studentID,
			AcademicYear: s.deps.AcademicYear,
			Course:       tmpl.Course,
			ExamID:       tmpl.ExamID,
			StartDate:    now,
			StartMinute:  now.Hour()*60 + now.Minute(),
			SerialNumber: serial,
		}
		if err := s.deps.Repo.InsertPlacementLog(ctx, entry); err != nil {
			s.failLocked("Unable to record the start of your exam.", err)
			return
		}

		source := ""
		if s.proctored {
			source = "RM"
		}
		pending := model.PendingExam{
			SerialNumber:    serial,
			ExamID:          tmpl.ExamID,
			StudentID:       s.studentID,
			RealizedDate:    now,
			StartMinute:     now.Hour()*60 + now.Minute(),
			Course:          tmpl.Course,
			Unit:            tmpl.Unit,
			ExamType:        tmpl.ExamType,
			TimeLimitFactor: student.TimeLimitFactor,
			Source:          source,
		}
		if err := s.deps.Repo.InsertPendingExam(ctx, pending); err != nil {
			s.failLocked("Unable to record the start of your exam.", err)
			return
		}
	}

	inst.PresentedAt = now
	s.instance = inst
	s.examID = tmpl.ExamID
	s.state = StateProfile{}
	s.profilePage = 1

	s.log.Info().Int64("serial", serial).Msg("Placement exam realized, presenting profile survey")
}

// Handle applies one posted action to the session and returns what to
// present next.
func (s *Session) Handle(ctx context.Context, in Input) *Render {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.state.(type) {
	case StateProfile:
		s.handleProfileLocked(ctx, in)
	case StateInstructions:
		s.handleInstructionsLocked(ctx, in)
	case StateItem:
		s.handleItemLocked(ctx, st, in)
	case StateSubmit:
		s.handleSubmitLocked(ctx, st, in)
	case StateCompleted:
		if in.Action == "close" {
			s.log.Info().Msg("Closing placement exam session")
			s.instance = nil
			return s.closedRenderLocked()
		}
	case StateError:
		if in.Action == "close" {
			s.log.Info().Str("error", s.errMsg).Msg("Closing placement exam session after error")
			if s.instance != nil {
				if err := s.deps.Repo.DeletePendingExam(ctx, s.instance.SerialNumber, s.studentID); err != nil {
					s.log.Error().Err(err).Msg("Failed to delete pending exam row")
				}
				s.instance = nil
			}
			return s.closedRenderLocked()
		}
	case StateInitial:
		// Nothing to apply before Start has run.
	}

	return s.renderLocked()
}

// Render describes the current state without applying an action.
func (s *Session) Render() *Render {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderLocked()
}

func (s *Session) handleProfileLocked(ctx context.Context, in Input) {
	s.recordProfilePageLocked(in)

	switch in.Action {
	case "goto2":
		s.profilePage = 2
	case "goto3":
		s.profilePage = 3
	case "instruct":
		s.storeSurveyLocked(ctx)
		s.log.Info().Msg("Processed profile submission, moving to instructions")
		s.state = StateInstructions{}
	}
}

func (s *Session) handleInstructionsLocked(ctx context.Context, in Input) {
	switch {
	case in.Action == "score":
		s.log.Info().Msg("'score' action received - confirming submit")
		s.state = StateSubmit{Sect: s.lastSect, Item: s.lastItem}
	case in.Action == "timeout":
		s.log.Info().Msg("'timeout' action received - scoring exam")
		s.submitLocked(ctx)
	case strings.HasPrefix(in.Action, "nav_"):
		s.navigateLocked(in.Action, true)
	}
}

func (s *Session) handleItemLocked(ctx context.Context, st StateItem, in Input) {
	// Record answers only when the page echoes the item it collected them
	// for; a stale post from an earlier item is logged and ignored.
	if in.EchoSect == st.Sect && in.EchoItem == st.Item {
		if prob := s.instance.Problem(st.Sect, st.Item); prob != nil {
			prob.Record(in.Answers)
			s.log.Info().
				Int("sect", st.Sect).
				Int("item", st.Item).
				Strs("answers", in.Answers).
				Msg("Recorded item answer")
		} else {
			s.log.Warn().Int("sect", st.Sect).Int("item", st.Item).Msg("No exam problem found")
		}
	} else if in.EchoItem >= 0 {
		s.log.Warn().
			Int("echo_sect", in.EchoSect).
			Int("echo_item", in.EchoItem).
			Int("sect", st.Sect).
			Int("item", st.Item).
			Msg("Post received for stale item, answers ignored")
	}

	s.lastSect, s.lastItem = st.Sect, st.Item

	switch {
	case in.Action == "score":
		s.log.Info().Msg("'score' action received - confirming submit")
		s.state = StateSubmit{Sect: st.Sect, Item: st.Item}
	case in.Action == "instruct":
		s.state = StateInstructions{}
	case in.Action == "timeout":
		s.log.Info().Msg("'timeout' action received - scoring exam")
		s.submitLocked(ctx)
	case strings.HasPrefix(in.Action, "nav_"):
		s.navigateLocked(in.Action, false)
	}
}

func (s *Session) handleSubmitLocked(ctx context.Context, st StateSubmit, in Input) {
	switch in.Action {
	case "N":
		s.log.Info().Msg("Submit canceled, returning to exam")
		s.state = StateItem{Sect: st.Sect, Item: st.Item}
	case "Y":
		s.log.Info().Msg("Submit confirmed, scoring")
		s.submitLocked(ctx)
	case "timeout":
		s.log.Info().Msg("'timeout' action received - scoring exam")
		s.submitLocked(ctx)
	}
}

// navigateLocked moves to the section/item named by an action of the form
// "nav_<sect>_<item>". Out-of-bounds or malformed targets are ignored. The
// exam timer is armed on the first navigation from the instructions page
// and never reset afterward.
func (s *Session) navigateLocked(act string, startTimer bool) {
	rest := strings.TrimPrefix(act, "nav_")
	last := strings.LastIndex(rest, "_")
	if last <= 0 {
		s.log.Warn().Str("action", act).Msg("Invalid navigation action")
		return
	}

	sect, err := strconv.Atoi(rest[:last])
	if err != nil {
		s.log.Warn().Str("action", act).Msg("Invalid navigation action")
		return
	}
	item, err := strconv.Atoi(rest[last+1:])
	if err != nil {
		s.log.Warn().Str("action", act).Msg("Invalid navigation action")
		return
	}

	if !s.instance.InBounds(sect, item) {
		s.log.Warn().Str("action", act).Msg("Navigation target out of bounds")
		return
	}

	s.state = StateItem{Sect: sect, Item: item}
	s.lastSect, s.lastItem = sect, item
	s.started = true

	if startTimer && s.timeoutAt.IsZero() && s.instance.AllowedSeconds > 0 {
		now := s.deps.now()
		s.timeoutAt = now.Add(time.Duration(s.instance.AllowedSeconds) * time.Second)
		s.purgeAt = now.Add(PurgeTimeout)
		s.log.Info().
			Int64("allowed_seconds", s.instance.AllowedSeconds).
			Msg("Starting placement exam timer")
	}
}

// submitLocked writes a recovery snapshot, runs the grading pass, and
// moves to the completed state. Grading failures are retained as a
// student-visible message; the session still completes.
func (s *Session) submitLocked(ctx context.Context) {
	now := s.deps.now()

	if s.instance != nil {
		if !s.instance.CompletedAt.IsZero() {
			s.log.Warn().Msg("Exam already completed, skipping duplicate grading pass")
			s.state = StateCompleted{}
			return
		}
		s.instance.CompletedAt = now

		if err := s.deps.Recovery.WriteUpdated(s.instance); err != nil {
			s.log.Error().Err(err).Msg("Failed to write updated-exam recovery snapshot")
		}
	}

	att := &grading.Attempt{
		Instance:  s.instance,
		StudentID: s.studentID,
		ExamID:    s.examID,
		Proctored: s.proctored,
	}

	res, err := s.deps.Grader.ScoreAttempt(ctx, att, now)
	if err != nil {
		s.gradingError = err.Error()
		s.log.Warn().Err(err).Msg("Grading pass did not record the attempt")
	}
	if res != nil {
		s.score = res.Score
		s.mastery = res.MasteryScore
		s.resultCode = res.ResultCode
	}

	s.state = StateCompleted{}
}

// ForceAbort abandons the attempt without grading: a recovery snapshot is
// written, the pending-exam row is removed, and the session is left for
// the caller to drop from the store.
func (s *Session) ForceAbort(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info().Msg("Forced abort requested")

	if s.instance != nil {
		if err := s.deps.Recovery.WriteUpdated(s.instance); err != nil {
			s.log.Error().Err(err).Msg("Failed to write recovery snapshot on forced abort")
		}
		if err := s.deps.Repo.DeletePendingExam(ctx, s.instance.SerialNumber, s.studentID); err != nil {
			s.log.Error().Err(err).Msg("Failed to delete pending exam row on forced abort")
		}
		s.instance = nil
	}

	s.state = StateCompleted{}
}

// Abandon writes a recovery snapshot and releases the instance without
// grading. Unlike ForceAbort the pending-exam row is left in place as the
// recoverable trace of the attempt.
func (s *Session) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info().Msg("Abandoning exam session")

	if s.instance != nil {
		if err := s.deps.Recovery.WriteUpdated(s.instance); err != nil {
			s.log.Error().Err(err).Msg("Failed to write recovery snapshot on abandon")
		}
		s.instance = nil
	}

	s.state = StateCompleted{}
}

// ForceSubmit grades the attempt as-is, exactly as if the student had
// confirmed submission.
func (s *Session) ForceSubmit(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info().Msg("Forced submit requested")
	s.submitLocked(ctx)
}

func (s *Session) failLocked(msg string, err error) {
	s.log.Error().Err(err).Msg(msg)
	s.errMsg = msg
	s.state = StateError{}
}

func (s *Session) closedRenderLocked() *Render {
	r := s.renderLocked()
	r.Closed = true
	r.Redirect = s.redirectOnEnd
	return r
}

func (s *Session) renderLocked() *Render {
	r := &Render{
		SessionID:     s.id,
		State:         s.state.Name(),
		Started:       s.started,
		Error:         s.errMsg,
		GradingError:  s.gradingError,
		Score:         s.score,
		MasteryScore:  s.mastery,
		Result:        s.resultCode,
		Sect:          -1,
		Item:          -1,
		TimeRemaining: -1,
	}

	switch st := s.state.(type) {
	case StateProfile:
		r.ProfilePage = s.profilePage
	case StateItem:
		r.Sect, r.Item = st.Sect, st.Item
	case StateSubmit:
		r.Sect, r.Item = st.Sect, st.Item
	}

	if s.instance != nil {
		r.Exam = s.instance.View()
		r.Answered, r.Total = s.instance.AnswerCounts()
		if !s.timeoutAt.IsZero() {
			remaining := s.timeoutAt.Sub(s.deps.now())
			if remaining < 0 {
				remaining = 0
			}
			r.TimeRemaining = int64(remaining / time.Second)
		}
	}

	return r
}
