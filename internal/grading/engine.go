// Package grading implements the scoring pass run once per placement
// attempt: subtest scoring, grading-rule evaluation, outcome determination,
// the attempt-legality re-check, and the ordered database writes.
package grading

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/unimath/placement-backend/internal/exam"
	"github.com/unimath/placement-backend/internal/formula"
	"github.com/unimath/placement-backend/internal/model"
)

// Per-category limits on legal attempts for one exam version.
const (
	MaxUnproctoredAttempts = 1
	MaxProctoredAttempts   = 2
)

// ErrDuplicateSubmission is returned when an attempt with the same serial
// number and start time has already been recorded for the student.
var ErrDuplicateSubmission = errors.New("attempt submitted a second time - ignoring")

// ErrTestAttempt is returned for guest and test-student logins, whose
// attempts are never recorded.
var ErrTestAttempt = errors.New("guest and test student attempts are not recorded")

// AttemptStamp identifies a previously recorded legal attempt by its serial
// number and the calendar coordinates stored on the row: the finish date
// and the minute of day the attempt started.
type AttemptStamp struct {
	SerialNumber int64
	ExamDate     time.Time
	StartMinute  int
}

// Recorder is the persistence surface the engine writes through. The pgx
// implementation lives in the repository package; tests substitute a fake.
type Recorder interface {
	LegalAttemptStamps(ctx context.Context, studentID, examID string) ([]AttemptStamp, error)
	CountLegalAttempts(ctx context.Context, studentID, examID string) (unproctored, proctored int, err error)
	InsertAttempt(ctx context.Context, att *model.PlacementAttempt) error
	InsertAttemptAnswers(ctx context.Context, answers []model.AttemptAnswer) error
	ApplyCredit(ctx context.Context, credit model.Credit) error
	InsertDenial(ctx context.Context, denial model.Denial) error
	UpsertAdminHold(ctx context.Context, hold model.AdminHold) error
	GetStudent(ctx context.Context, studentID string) (*model.Student, error)
	SetLicensed(ctx context.Context, studentID string, licensed bool) error
	SetHoldSeverity(ctx context.Context, studentID, severity string) error
	DeletePendingExam(ctx context.Context, serial int64, studentID string) error
	MarkLogFinished(ctx context.Context, studentID string, startDate time.Time, startMinute int, finishDate time.Time, recovered *time.Time) error
	LatestSurveyAnswers(ctx context.Context, studentID string) ([]model.SurveyAnswer, error)
	QueueSISUpload(ctx context.Context, upload model.SISUpload) error
}

// Attempt is one submitted exam ready for scoring.
type Attempt struct {
	Instance  *exam.Instance
	StudentID string
	ExamID    string
	Proctored bool
	// Recovered is set when the attempt was reconstructed from a recovery
	// snapshot rather than submitted live.
	Recovered *time.Time
}

// Result summarizes a completed scoring pass.
type Result struct {
	Score           *int
	MasteryScore    *int
	ResultCode      string
	HowValidated    string
	EarnedPlacement []string
	EarnedCredit    []string
	DeniedPlacement map[string]string
	DeniedCredit    map[string]string
	Illegal         bool
}

// Engine runs the scoring pass. Formula evaluation is injected so the
// engine is independent of the expression language.
type Engine struct {
	rec          Recorder
	eval         formula.Evaluator
	academicYear string
	log          zerolog.Logger
}

// NewEngine creates a grading engine.
func NewEngine(rec Recorder, eval formula.Evaluator, academicYear string, log zerolog.Logger) *Engine {
	return &Engine{
		rec:          rec,
		eval:         eval,
		academicYear: academicYear,
		log:          log.With().Str("component", "grading_engine").Logger(),
	}
}

// attemptState accumulates per-attempt grading results before insertion.
type attemptState struct {
	answers         []model.AttemptAnswer
	subtestScores   map[string]int
	earnedPlacement []string
	earnedCredit    []string
	deniedPlacement map[string]string
	deniedCredit    map[string]string
	howValidated    string
}

func (st *attemptState) hasEarnedPlacement(course string) bool {
	for _, c := range st.earnedPlacement {
		if c == course {
			return true
		}
	}
	return false
}

func (st *attemptState) hasEarnedCredit(course string) bool {
	for _, c := range st.earnedCredit {
		if c == course {
			return true
		}
	}
	return false
}

// ScoreAttempt grades a submitted attempt and persists its rows in
// dependency order, the attempt-summary row last. Duplicate submissions and
// test-account attempts return sentinel errors without writing anything.
func (e *Engine) ScoreAttempt(ctx context.Context, att *Attempt, now time.Time) (*Result, error) {
	inst := att.Instance
	if inst == nil {
		return nil, errors.New("no exam instance to score")
	}

	student, err := e.rec.GetStudent(ctx, att.StudentID)
	if err != nil {
		return nil, fmt.Errorf("load student: %w", err)
	}
	if student.IsTestAccount() {
		return nil, ErrTestAttempt
	}

	if inst.CompletedAt.IsZero() {
		inst.CompletedAt = now
	}

	// Duplicate guard: a legal record carrying the same serial number,
	// finish date, and start minute means this attempt was already scored.
	// Dates compare by calendar components; the stored DATE column and the
	// instance timestamps may sit in different zones.
	stamps, err := e.rec.LegalAttemptStamps(ctx, att.StudentID, att.ExamID)
	if err != nil {
		return nil, fmt.Errorf("query prior attempts: %w", err)
	}
	startMin := minuteOfDay(inst.RealizedAt)
	for _, s := range stamps {
		if s.SerialNumber != inst.SerialNumber || s.StartMinute != startMin {
			continue
		}
		if !sameDay(s.ExamDate, inst.CompletedAt) {
			continue
		}
		e.log.Warn().
			Str("student_id", att.StudentID).
			Str("exam_id", att.ExamID).
			Int64("serial", s.SerialNumber).
			Msg("Attempt submitted a second time - ignoring")
		return nil, ErrDuplicateSubmission
	}

	e.log.Info().
		Str("student_id", att.StudentID).
		Str("exam_id", att.ExamID).
		Msg("Grading placement attempt")

	if err := e.rec.DeletePendingExam(ctx, inst.SerialNumber, att.StudentID); err != nil {
		return nil, fmt.Errorf("delete pending exam: %w", err)
	}

	env := formula.Env{}
	env.SetBool("proctored", att.Proctored)
	if err := e.loadStudentVariables(ctx, student, env); err != nil {
		return nil, err
	}

	st := &attemptState{
		subtestScores:   make(map[string]int),
		deniedPlacement: make(map[string]string),
		deniedCredit:    make(map[string]string),
	}

	e.buildAnswerList(att, st)
	e.computeSubtestScores(inst, st, env)
	score, mastery := e.evaluateGradingRules(inst, st, env)
	e.determineOutcomes(ctx, att, st, env)

	res := &Result{
		Score:        score,
		MasteryScore: mastery,
	}

	if err := e.insertAttempt(ctx, att, student, st, now, res); err != nil {
		return res, err
	}

	return res, nil
}

// loadStudentVariables installs the student's ACT/SAT scores and latest
// survey responses as formula variables, defaulting missing values.
func (e *Engine) loadStudentVariables(ctx context.Context, student *model.Student, env formula.Env) error {
	act, sat := 0, 0
	if student.ACTMathScore != nil {
		act = *student.ACTMathScore
	}
	if student.SATMathScore != nil {
		sat = *student.SATMathScore
	}
	env.SetInt("student-ACT-math", act)
	env.SetInt("student-SAT-math", sat)

	answers, err := e.rec.LatestSurveyAnswers(ctx, student.ID)
	if err != nil {
		return fmt.Errorf("load survey answers: %w", err)
	}

	prep, resources, taken := 0, 0, 0
	since, typical := 6, 9
	for _, a := range answers {
		n, err := strconv.Atoi(a.Answer)
		if err != nil {
			e.log.Warn().Str("answer", a.Answer).Int("question", a.QuestionNbr).
				Msg("Failed to parse survey answer")
			continue
		}
		switch {
		case a.QuestionNbr == 1:
			prep = n
		case a.QuestionNbr == 2:
			resources = n
		case a.QuestionNbr == 3:
			since = n
		case a.QuestionNbr == 4:
			typical = n
		case a.QuestionNbr >= 5:
			if n > taken {
				taken = n
			}
		}
	}

	env.SetInt("hours-preparing", prep)
	env.SetInt("time-since-last-math", since)
	env.SetInt("highest-math-taken", taken)
	env.SetInt("resources-used-preparing", resources)
	env.SetInt("typical-math-grade", typical)

	return nil
}

// buildAnswerList grades every problem referenced by a subtest and collects
// its answer row.
func (e *Engine) buildAnswerList(att *Attempt, st *attemptState) {
	inst := att.Instance
	finishMin := minuteOfDay(inst.CompletedAt)

	for _, subtest := range inst.Template.Subtests {
		for _, sp := range subtest.Problems {
			prob := inst.FindProblem(sp.ProblemID)
			if prob == nil {
				continue
			}
			prob.Grade()

			st.answers = append(st.answers, model.AttemptAnswer{
				StudentID:    att.StudentID,
				ExamID:       att.ExamID,
				ExamDate:     inst.CompletedAt,
				FinishMinute: finishMin,
				ProblemID:    prob.ProblemID,
				Answer:       prob.AnswerString(),
				Correct:      prob.Correct,
				Subtest:      subtest.Name,
				VariantRef:   prob.Selected.Ref,
			})
		}
	}
}

// computeSubtestScores sums weight x score over correct answers for each
// subtest; the stored score is the integer truncation of the sum.
func (e *Engine) computeSubtestScores(inst *exam.Instance, st *attemptState, env formula.Env) {
	for _, subtest := range inst.Template.Subtests {
		var sum float64
		for _, sp := range subtest.Problems {
			prob := inst.FindProblem(sp.ProblemID)
			if prob != nil && prob.Correct {
				sum += prob.Score * sp.Weight
			}
		}

		st.subtestScores[subtest.Name] = int(sum)
		env.SetNumber(subtest.Name, sum)

		e.log.Debug().Str("subtest", subtest.Name).Float64("score", sum).Msg("Subtest scored")
	}

	inst.SubtestScores = st.subtestScores
}

// evaluateGradingRules evaluates each rule's conditions in order; the first
// true condition passes the rule, erroring conditions are logged and treated
// as unsatisfied. A synthesized "passed" rule (score >= mastery) is added
// first so an explicit template rule of the same name overrides it.
func (e *Engine) evaluateGradingRules(inst *exam.Instance, st *attemptState, env formula.Env) (score, mastery *int) {
	if s, ok := st.subtestScores["score"]; ok {
		v := s
		score = &v
	}
	mastery = inst.Template.MasteryScore

	if score != nil && mastery != nil {
		passed := *score >= *mastery
		env.SetBool("passed", passed)
		e.log.Info().Bool("passed", passed).Int("score", *score).Int("mastery", *mastery).
			Msg("Synthesized passed rule")
	}

	for _, rule := range inst.Template.GradingRules {
		pass := false
		for _, cond := range rule.Conditions {
			result := e.eval.Evaluate(cond, env)

			if result.Kind == formula.KindError {
				e.log.Error().Err(result.Err).
					Str("rule", rule.Name).Str("condition", cond).
					Msg("Error evaluating grading rule condition")
				continue
			}
			if result.Kind == formula.KindBool && result.Bool {
				pass = true
				break
			}
		}

		env.SetBool(rule.Name, pass)
		e.log.Info().Str("rule", rule.Name).Bool("pass", pass).Msg("Grading rule evaluated")
	}

	return score, mastery
}

// determineOutcomes walks the template outcomes in order, applying their
// actions subject to prerequisite and validation checks. Placement denied
// only by validation is still retained; credit denied only by validation is
// retained only on proctored attempts. The asymmetry is deliberate policy.
func (e *Engine) determineOutcomes(ctx context.Context, att *Attempt, st *attemptState, env formula.Env) {
	var validBy string

	for _, outcome := range att.Instance.Template.Outcomes {
		cond := e.eval.Evaluate(outcome.Condition, env)
		if cond.Kind == formula.KindError {
			e.log.Error().Err(cond.Err).Str("condition", outcome.Condition).
				Msg("Error evaluating outcome condition")
			continue
		}
		if cond.Kind != formula.KindBool || !cond.Bool {
			continue
		}

		var whyDeny, howValid string

		// Prerequisites: the first false or erroring formula denies.
		for _, prereq := range outcome.Prereqs {
			result := e.eval.Evaluate(prereq, env)
			if result.Kind != formula.KindBool {
				e.log.Error().Str("prereq", prereq).Stringer("result", result).
					Msg("Outcome prerequisite did not evaluate to boolean")
				whyDeny = model.DeniedByPrereq
				break
			}
			if !result.Bool {
				whyDeny = model.DeniedByPrereq
				break
			}
		}

		// Validations: the first true formula confirms the outcome.
		if whyDeny == "" {
			for _, valid := range outcome.Validations {
				result := e.eval.Evaluate(valid.Formula, env)
				if result.Kind != formula.KindBool {
					e.log.Error().Str("formula", valid.Formula).Stringer("result", result).
						Msg("Outcome validation did not evaluate to boolean")
					continue
				}
				if result.Bool {
					howValid = valid.HowValidated
					validBy = howValid
					break
				}
			}
			if howValid == "" {
				whyDeny = model.DeniedByValidation
			}
		}

		for _, action := range outcome.Actions {
			switch action.Type {
			case model.ActionPlacement:
				switch {
				case whyDeny == "":
					st.earnedPlacement = append(st.earnedPlacement, action.Course)
				case whyDeny == model.DeniedByValidation:
					// Placement is retained even without validation; the
					// denial is logged for audit.
					st.earnedPlacement = append(st.earnedPlacement, action.Course)
					if outcome.LogDenial {
						if _, dup := st.deniedPlacement[action.Course]; !dup {
							st.deniedPlacement[action.Course] = whyDeny
						}
					}
					validBy = "U"
				default:
					if outcome.LogDenial {
						if _, dup := st.deniedPlacement[action.Course]; !dup {
							st.deniedPlacement[action.Course] = whyDeny
						}
					}
				}

			case model.ActionCredit:
				switch {
				case whyDeny == "":
					st.earnedCredit = append(st.earnedCredit, action.Course)
				case whyDeny == model.DeniedByValidation:
					// Unproctored attempts never retain unvalidated credit.
					if !st.hasEarnedCredit(action.Course) {
						if att.Proctored {
							st.earnedCredit = append(st.earnedCredit, action.Course)
						} else {
							e.log.Info().Str("course", action.Course).
								Msg("Not retaining unvalidated credit on unproctored attempt")
						}
					}
					if _, dup := st.deniedCredit[action.Course]; !dup {
						st.deniedCredit[action.Course] = whyDeny
					}
					validBy = "U"
				default:
					if outcome.LogDenial {
						if _, dup := st.deniedCredit[action.Course]; !dup {
							st.deniedCredit[action.Course] = whyDeny
						}
					}
				}

			case model.ActionLicensed:
				student, err := e.rec.GetStudent(ctx, att.StudentID)
				if err != nil {
					e.log.Error().Err(err).Msg("Failed to load student for license action")
					continue
				}
				if !student.Licensed {
					if err := e.rec.SetLicensed(ctx, att.StudentID, true); err != nil {
						e.log.Error().Err(err).Msg("Failed to set licensed flag")
					}
				}
			}
		}
	}

	st.howValidated = validBy
}

// insertAttempt performs the legality re-check and writes all attempt rows.
// The attempt-summary row is written last: its presence tells any external
// consumer that the dependent rows are already committed.
func (e *Engine) insertAttempt(ctx context.Context, att *Attempt, student *model.Student, st *attemptState, now time.Time, res *Result) error {
	inst := att.Instance

	unproctored, proctored, err := e.rec.CountLegalAttempts(ctx, att.StudentID, att.ExamID)
	if err != nil {
		return fmt.Errorf("count legal attempts: %w", err)
	}

	deny := false
	if att.Proctored {
		if proctored >= MaxProctoredAttempts {
			e.log.Info().Str("student_id", att.StudentID).Msg("Max proctored attempts already used, denying")
			deny = true
		}
	} else if unproctored >= MaxUnproctoredAttempts {
		e.log.Info().Str("student_id", att.StudentID).Msg("Max unproctored attempts already used, denying")
		deny = true
	}

	if deny {
		// The attempt is illegal: every award becomes an "illegal attempt"
		// denial and an administrative hold is placed (or refreshed).
		st.howValidated = ""
		for course := range st.deniedPlacement {
			st.deniedPlacement[course] = model.DeniedIllegal
		}
		for course := range st.deniedCredit {
			st.deniedCredit[course] = model.DeniedIllegal
		}
		for _, course := range st.earnedPlacement {
			st.deniedPlacement[course] = model.DeniedIllegal
		}
		for _, course := range st.earnedCredit {
			st.deniedCredit[course] = model.DeniedIllegal
		}
		st.earnedPlacement = nil
		st.earnedCredit = nil

		hold := model.AdminHold{
			StudentID: att.StudentID,
			HoldID:    model.AdminHoldIllegalAttempt,
			Severity:  "F",
			HoldDate:  now,
		}
		if err := e.rec.UpsertAdminHold(ctx, hold); err != nil {
			return fmt.Errorf("upsert admin hold: %w", err)
		}
		if student.HoldSeverity != "F" {
			if err := e.rec.SetHoldSeverity(ctx, att.StudentID, "F"); err != nil {
				return fmt.Errorf("update hold severity: %w", err)
			}
		}
	}

	finish := inst.CompletedAt
	if finish.IsZero() {
		finish = now
	}

	placed := false
	var resultCode string
	switch {
	case deny:
		// An illegal attempt is recorded under its ordinal attempt number.
		resultCode = strconv.Itoa(unproctored + proctored + 1)
	case len(st.earnedCredit) > 0 || len(st.earnedPlacement) > 0:
		resultCode = "Y"
		placed = true
	default:
		resultCode = "N"
	}

	howValidated := ""
	if att.Proctored {
		howValidated = "P"
	} else if placed && st.howValidated != "" {
		howValidated = st.howValidated
	}

	attempt := &model.PlacementAttempt{
		StudentID:     att.StudentID,
		ExamID:        att.ExamID,
		AcademicYear:  e.academicYear,
		ExamDate:      finish,
		StartMinute:   minuteOfDay(inst.RealizedAt),
		FinishMinute:  minuteOfDay(finish),
		LastName:      student.LastName,
		FirstName:     student.FirstName,
		MiddleInitial: student.MiddleInitial,
		SerialNumber:  inst.SerialNumber,
		SubtestScores: st.subtestScores,
		Result:        resultCode,
		HowValidated:  howValidated,
	}

	if err := e.rec.InsertAttemptAnswers(ctx, st.answers); err != nil {
		return fmt.Errorf("insert attempt answers: %w", err)
	}

	var recovered *time.Time
	if att.Recovered != nil {
		recovered = att.Recovered
	}
	if err := e.rec.MarkLogFinished(ctx, att.StudentID, inst.RealizedAt, minuteOfDay(inst.RealizedAt), finish, recovered); err != nil {
		e.log.Warn().Err(err).Msg("Failed to mark placement log finished")
	}

	if err := e.insertResults(ctx, att, student, st, finish, deny); err != nil {
		return err
	}

	// The summary row is last by design; see the append-after-dependents
	// note above.
	if err := e.rec.InsertAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("insert placement attempt record: %w", err)
	}

	res.ResultCode = resultCode
	res.HowValidated = howValidated
	res.EarnedPlacement = st.earnedPlacement
	res.EarnedCredit = st.earnedCredit
	res.DeniedPlacement = st.deniedPlacement
	res.DeniedCredit = st.deniedCredit
	res.Illegal = deny

	return nil
}

// insertResults writes credit, denial, and SIS-upload rows for the attempt.
func (e *Engine) insertResults(ctx context.Context, att *Attempt, student *model.Student, st *attemptState, finish time.Time, deny bool) error {
	source := ""
	if att.Proctored {
		source = "RM"
	}

	for _, course := range st.earnedPlacement {
		if st.hasEarnedCredit(course) {
			// Credit subsumes placement for the same course.
			continue
		}
		credit := model.Credit{
			StudentID:    att.StudentID,
			Course:       course,
			Category:     model.CategoryPlacement,
			AwardDate:    finish,
			SerialNumber: att.Instance.SerialNumber,
			ExamID:       att.ExamID,
			Source:       source,
		}
		if err := e.rec.ApplyCredit(ctx, credit); err != nil {
			return fmt.Errorf("apply placement for %s: %w", course, err)
		}
	}

	for _, course := range st.earnedCredit {
		credit := model.Credit{
			StudentID:    att.StudentID,
			Course:       course,
			Category:     model.CategoryCredit,
			AwardDate:    finish,
			SerialNumber: att.Instance.SerialNumber,
			ExamID:       att.ExamID,
			Source:       source,
		}
		if err := e.rec.ApplyCredit(ctx, credit); err != nil {
			return fmt.Errorf("apply credit for %s: %w", course, err)
		}
	}

	for course, reason := range st.deniedCredit {
		denial := model.Denial{
			StudentID:    att.StudentID,
			Course:       course,
			Category:     model.CategoryCredit,
			DenyDate:     finish,
			Reason:       reason,
			SerialNumber: att.Instance.SerialNumber,
			ExamID:       att.ExamID,
			Source:       source,
		}
		if err := e.rec.InsertDenial(ctx, denial); err != nil {
			return fmt.Errorf("insert credit denial for %s: %w", course, err)
		}
	}

	for course, reason := range st.deniedPlacement {
		denial := model.Denial{
			StudentID:    att.StudentID,
			Course:       course,
			Category:     model.CategoryPlacement,
			DenyDate:     finish,
			Reason:       reason,
			SerialNumber: att.Instance.SerialNumber,
			ExamID:       att.ExamID,
			Source:       source,
		}
		if err := e.rec.InsertDenial(ctx, denial); err != nil {
			return fmt.Errorf("insert placement denial for %s: %w", course, err)
		}
	}

	if !deny && len(st.earnedPlacement) > 0 {
		if student.SISID == nil {
			e.log.Warn().Str("student_id", att.StudentID).
				Msg("Unable to queue placement upload: student has no SIS id")
		} else {
			upload := model.SISUpload{
				StudentID: att.StudentID,
				SISID:     *student.SISID,
				Courses:   st.earnedPlacement,
				FinishAt:  finish,
			}
			if err := e.rec.QueueSISUpload(ctx, upload); err != nil {
				e.log.Error().Err(err).Msg("Failed to queue SIS upload")
			}
		}
	}

	return nil
}

// minuteOfDay converts a timestamp to minutes past local midnight.
func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// sameDay reports whether two timestamps fall on the same calendar day,
// each read in its own location.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
