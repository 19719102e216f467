package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/unimath/placement-backend/internal/exam"
	"github.com/unimath/placement-backend/internal/grading"
	"github.com/unimath/placement-backend/internal/model"
)

// ─── Test Fakes ────────────────────────────────────────────────────────

type fakeLoader struct {
	tmpl *model.ExamTemplate
	err  error
}

func (l *fakeLoader) Load(ctx context.Context, ref string) (*model.ExamTemplate, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.tmpl, nil
}

type fakeRepo struct {
	mu sync.Mutex

	student     *model.Student
	unproctored int
	proctored   int
	countErr    error

	pendingInserted []model.PendingExam
	pendingDeleted  []int64
	logs            []model.PlacementLog
	surveys         []model.SurveyAnswer
}

func (r *fakeRepo) GetStudent(ctx context.Context, studentID string) (*model.Student, error) {
	if r.student == nil {
		return nil, errors.New("student not found")
	}
	return r.student, nil
}

func (r *fakeRepo) CountLegalAttempts(ctx context.Context, studentID, examID string) (int, int, error) {
	return r.unproctored, r.proctored, r.countErr
}

func (r *fakeRepo) InsertPendingExam(ctx context.Context, pe model.PendingExam) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingInserted = append(r.pendingInserted, pe)
	return nil
}

func (r *fakeRepo) DeletePendingExam(ctx context.Context, serial int64, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingDeleted = append(r.pendingDeleted, serial)
	return nil
}

func (r *fakeRepo) InsertPlacementLog(ctx context.Context, entry model.PlacementLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, entry)
	return nil
}

func (r *fakeRepo) InsertSurveyAnswers(ctx context.Context, answers []model.SurveyAnswer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surveys = append(r.surveys, answers...)
	return nil
}

type fakeGrader struct {
	mu    sync.Mutex
	calls int
	res   *grading.Result
	err   error
}

func (g *fakeGrader) ScoreAttempt(ctx context.Context, att *grading.Attempt, now time.Time) (*grading.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.res, g.err
}

func (g *fakeGrader) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeRecovery struct {
	presented int
	updated   int
}

func (w *fakeRecovery) WritePresented(inst *exam.Instance) error { w.presented++; return nil }
func (w *fakeRecovery) WriteUpdated(inst *exam.Instance) error   { w.updated++; return nil }

// clock is a settable time source shared with Deps.Now.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func placementTemplate() *model.ExamTemplate {
	return &model.ExamTemplate{
		Ref:            "math-placement",
		ExamID:         "MPE1",
		ExamType:       "Q",
		Course:         "MATH 101",
		Unit:           1,
		AllowedSeconds: 3600,
		Sections: []model.TemplateSection{
			{
				Name: "Algebra",
				Problems: []model.TemplateProblem{
					{ProblemID: 1, Variants: []model.ProblemVariant{
						{Ref: "p1", Kind: model.ProblemSingleChoice, Solution: []string{"2"}},
					}},
					{ProblemID: 2, Variants: []model.ProblemVariant{
						{Ref: "p2", Kind: model.ProblemSingleChoice, Solution: []string{"1"}},
					}},
				},
			},
		},
	}
}

type testEnv struct {
	repo     *fakeRepo
	grader   *fakeGrader
	recovery *fakeRecovery
	clock    *clock
	deps     Deps
}

func newTestEnv() *testEnv {
	clk := &clock{t: time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)}
	repo := &fakeRepo{student: &model.Student{
		ID:        "S0000001",
		FirstName: "Ada",
		LastName:  "Byron",
	}}
	grader := &fakeGrader{res: &grading.Result{ResultCode: "N"}}
	recovery := &fakeRecovery{}

	return &testEnv{
		repo:     repo,
		grader:   grader,
		recovery: recovery,
		clock:    clk,
		deps: Deps{
			Loader:       &fakeLoader{tmpl: placementTemplate()},
			Repo:         repo,
			Grader:       grader,
			Recovery:     recovery,
			AcademicYear: "2026",
			Log:          zerolog.Nop(),
			Now:          clk.now,
		},
	}
}

// startedSession returns a session advanced through Start into the profile
// survey.
func startedSession(t *testing.T, env *testEnv) *Session {
	t.Helper()
	s := New(env.deps, "S0000001", "math-placement", false, "/done")
	s.Start(context.Background())
	if got := s.StateName(); got != "PROFILE" {
		t.Fatalf("after Start: state = %s, want PROFILE", got)
	}
	return s
}

// ─── Start ─────────────────────────────────────────────────────────────

func TestStartRealizesExam(t *testing.T) {
	env := newTestEnv()
	s := startedSession(t, env)

	if env.recovery.presented != 1 {
		t.Errorf("presented-exam snapshots = %d, want 1", env.recovery.presented)
	}
	if len(env.repo.logs) != 1 {
		t.Fatalf("placement log rows = %d, want 1", len(env.repo.logs))
	}
	if env.repo.logs[0].AcademicYear != "2026" || env.repo.logs[0].ExamID != "MPE1" {
		t.Errorf("log row = %+v", env.repo.logs[0])
	}
	if len(env.repo.pendingInserted) != 1 {
		t.Fatalf("pending exam rows = %d, want 1", len(env.repo.pendingInserted))
	}
	if env.repo.pendingInserted[0].Source != "" {
		t.Errorf("unproctored pending source = %q, want empty", env.repo.pendingInserted[0].Source)
	}

	r := s.Render()
	if r.ProfilePage != 1 {
		t.Errorf("profile page = %d, want 1", r.ProfilePage)
	}
	if r.TimeRemaining != -1 {
		t.Errorf("timer armed before first navigation: remaining = %d", r.TimeRemaining)
	}
}

func TestStartProctoredMarksSource(t *testing.T) {
	env := newTestEnv()
	s := New(env.deps, "S0000001", "math-placement", true, "")
	s.Start(context.Background())

	if got := s.StateName(); got != "PROFILE" {
		t.Fatalf("state = %s, want PROFILE", got)
	}
	if env.repo.pendingInserted[0].Source != "RM" {
		t.Errorf("proctored pending source = %q, want RM", env.repo.pendingInserted[0].Source)
	}
}

func TestStartRejectsNonPlacementExam(t *testing.T) {
	env := newTestEnv()
	env.deps.Loader = &fakeLoader{tmpl: &model.ExamTemplate{Ref: "hw", ExamType: "H"}}

	s := New(env.deps, "S0000001", "hw", false, "")
	s.Start(context.Background())

	if got := s.StateName(); got != "ERROR" {
		t.Errorf("state = %s, want ERROR", got)
	}
}

func TestStartEnforcesAttemptLimits(t *testing.T) {
	tests := []struct {
		name               string
		proctored          bool
		unproctored, taken int
		wantState          string
	}{
		{"first unproctored allowed", false, 0, 0, "PROFILE"},
		{"second unproctored denied", false, 1, 0, "ERROR"},
		{"second proctored allowed", true, 1, 1, "PROFILE"},
		{"third proctored denied", true, 1, 2, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.repo.unproctored = tt.unproctored
			env.repo.proctored = tt.taken

			s := New(env.deps, "S0000001", "math-placement", tt.proctored, "")
			s.Start(context.Background())

			if got := s.StateName(); got != tt.wantState {
				t.Errorf("state = %s, want %s", got, tt.wantState)
			}
		})
	}
}

func TestStartTestAccountSkipsEligibilityAndRecording(t *testing.T) {
	env := newTestEnv()
	env.repo.student = &model.Student{ID: "GUEST"}
	env.repo.countErr = errors.New("must not be called")
	env.repo.unproctored = 99

	s := New(env.deps, "GUEST", "math-placement", false, "")
	s.Start(context.Background())

	if got := s.StateName(); got != "PROFILE" {
		t.Fatalf("state = %s, want PROFILE", got)
	}
	if len(env.repo.pendingInserted) != 0 || len(env.repo.logs) != 0 {
		t.Errorf("test-account start was recorded: pending=%d logs=%d",
			len(env.repo.pendingInserted), len(env.repo.logs))
	}
}

// ─── Profile Survey ────────────────────────────────────────────────────

func surveyByQuestion(rows []model.SurveyAnswer) map[int]string {
	out := make(map[int]string, len(rows))
	for _, r := range rows {
		out[r.QuestionNbr] = r.Answer
	}
	return out
}

func TestProfileSurveyResponseCodes(t *testing.T) {
	env := newTestEnv()
	s := startedSession(t, env)
	ctx := context.Background()

	s.Handle(ctx, Input{Action: "goto2", EchoSect: -1, EchoItem: -1, Survey: map[string]string{
		"q1":   "5",
		"q2_1": "on", // 8
		"q2_4": "on", // 1
	}})
	s.Handle(ctx, Input{Action: "goto3", EchoSect: -1, EchoItem: -1, Survey: map[string]string{
		"q3": "2",
		"q4": "10",
	}})
	s.Handle(ctx, Input{Action: "instruct", EchoSect: -1, EchoItem: -1, Survey: map[string]string{
		"q5_2": "on", // code 6
		"q5_7": "on", // code 13
		"q6_3": "on", // code 11
	}})

	if got := s.StateName(); got != "INSTRUCTIONS" {
		t.Fatalf("state = %s, want INSTRUCTIONS", got)
	}

	byQ := surveyByQuestion(env.repo.surveys)
	want := map[int]string{
		1:  "5",
		2:  "9", // 8 + 1
		3:  "2",
		4:  "10",
		5:  "6",
		6:  "13",
		14: "11",
	}
	for q, a := range want {
		if byQ[q] != a {
			t.Errorf("question %d = %q, want %q", q, byQ[q], a)
		}
	}
	if len(env.repo.surveys) != len(want) {
		t.Errorf("survey rows = %d, want %d (%v)", len(env.repo.surveys), len(want), byQ)
	}
}

func TestProfileSurveyNoCoursesSentinel(t *testing.T) {
	env := newTestEnv()
	s := startedSession(t, env)
	ctx := context.Background()

	s.Handle(ctx, Input{Action: "goto2", EchoSect: -1, EchoItem: -1, Survey: map[string]string{"q1": "0"}})
	s.Handle(ctx, Input{Action: "goto3", EchoSect: -1, EchoItem: -1, Survey: map[string]string{}})
	s.Handle(ctx, Input{Action: "instruct", EchoSect: -1, EchoItem: -1, Survey: map[string]string{}})

	byQ := surveyByQuestion(env.repo.surveys)
	if byQ[5] != "0" {
		t.Errorf("question 5 = %q, want sentinel \"0\"", byQ[5])
	}
}

// ─── Navigation and Timer ──────────────────────────────────────────────

func examSession(t *testing.T, env *testEnv) *Session {
	t.Helper()
	s := startedSession(t, env)
	ctx := context.Background()
	s.Handle(ctx, Input{Action: "goto2", EchoSect: -1, EchoItem: -1})
	s.Handle(ctx, Input{Action: "goto3", EchoSect: -1, EchoItem: -1})
	s.Handle(ctx, Input{Action: "instruct", EchoSect: -1, EchoItem: -1})
	return s
}

func TestTimerArmedOnceOnFirstNavigation(t *testing.T) {
	env := newTestEnv()
	s := examSession(t, env)
	ctx := context.Background()

	r := s.Handle(ctx, Input{Action: "nav_0_0", EchoSect: -1, EchoItem: -1})
	if r.State != "ITEM_0_0" {
		t.Fatalf("state = %s, want ITEM_0_0", r.State)
	}
	if r.TimeRemaining != 3600 {
		t.Errorf("remaining after arming = %d, want 3600", r.TimeRemaining)
	}

	// Returning to instructions and navigating again must not reset the
	// deadline.
	env.clock.advance(10 * time.Minute)
	s.Handle(ctx, Input{Action: "instruct", EchoSect: 0, EchoItem: 0})
	r = s.Handle(ctx, Input{Action: "nav_0_1", EchoSect: -1, EchoItem: -1})
	if r.TimeRemaining != 3000 {
		t.Errorf("remaining after revisit = %d, want 3000", r.TimeRemaining)
	}
}

func TestNavigationRejectsBadTargets(t *testing.T) {
	env := newTestEnv()
	s := examSession(t, env)
	ctx := context.Background()

	for _, act := range []string{"nav_5_0", "nav_0_9", "nav_x_y", "nav_"} {
		r := s.Handle(ctx, Input{Action: act, EchoSect: -1, EchoItem: -1})
		if r.State != "INSTRUCTIONS" {
			t.Errorf("after %q: state = %s, want INSTRUCTIONS", act, r.State)
		}
	}
}

// ─── Answer Recording ──────────────────────────────────────────────────

func TestAnswerRecordedOnMatchingEcho(t *testing.T) {
	env := newTestEnv()
	s := examSession(t, env)
	ctx := context.Background()

	s.Handle(ctx, Input{Action: "nav_0_0", EchoSect: -1, EchoItem: -1})
	r := s.Handle(ctx, Input{Action: "nav_0_1", EchoSect: 0, EchoItem: 0, Answers: []string{"2"}})

	if r.Answered != 1 {
		t.Errorf("answered = %d, want 1", r.Answered)
	}
	if got := r.Exam.Sections[0].Problems[0].Recorded; len(got) != 1 || got[0] != "2" {
		t.Errorf("recorded = %v, want [2]", got)
	}
}

func TestRenderHidesSolutionsAndGradingConfig(t *testing.T) {
	env := newTestEnv()
	tmpl := placementTemplate()
	tmpl.MasteryScore = new(int)
	tmpl.GradingRules = []model.GradingRule{
		{Name: "passed", Conditions: []string{"score >= 10"}},
	}
	tmpl.Outcomes = []model.Outcome{
		{Condition: "passed", Actions: []model.OutcomeAction{
			{Type: model.ActionPlacement, Course: "MATH 201"},
		}},
	}
	env.deps.Loader = &fakeLoader{tmpl: tmpl}

	s := examSession(t, env)
	r := s.Handle(context.Background(), Input{Action: "nav_0_0", EchoSect: -1, EchoItem: -1})

	if r.Exam == nil || len(r.Exam.Sections) != 1 || len(r.Exam.Sections[0].Problems) != 2 {
		t.Fatalf("exam view = %+v", r.Exam)
	}

	// The payload the exam taker sees must never carry the answer key or
	// the template's grading configuration.
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal render: %v", err)
	}
	for _, secret := range []string{"solution", "tolerance", "grading_rules", "outcomes", "subtests"} {
		if bytes.Contains(data, []byte(secret)) {
			t.Errorf("render payload exposes %q: %s", secret, data)
		}
	}
}

func TestStaleEchoIgnored(t *testing.T) {
	env := newTestEnv()
	s := examSession(t, env)
	ctx := context.Background()

	s.Handle(ctx, Input{Action: "nav_0_0", EchoSect: -1, EchoItem: -1})

	// A post echoing a different item than the one on screen is dropped.
	r := s.Handle(ctx, Input{Action: "nav_0_1", EchoSect: 0, EchoItem: 1, Answers: []string{"2"}})
	if r.Answered != 0 {
		t.Errorf("answered = %d, want 0 (stale echo must be ignored)", r.Answered)
	}
}

// ─── Submit ────────────────────────────────────────────────────────────

func TestSubmitConfirmFlow(t *testing.T) {
	env := newTestEnv()
	score := 12
	env.grader.res = &grading.Result{Score: &score, ResultCode: "Y"}

	s := examSession(t, env)
	ctx := context.Background()

	s.Handle(ctx, Input{Action: "nav_0_0", EchoSect: -1, EchoItem: -1})
	r := s.Handle(ctx, Input{Action: "score", EchoSect: 0, EchoItem: 0, Answers: []string{"2"}})
	if r.State != "SUBMIT_0_0" {
		t.Fatalf("state = %s, want SUBMIT_0_0", r.State)
	}

	// Cancel returns to the same item.
	r = s.Handle(ctx, Input{Action: "N", EchoSect: -1, EchoItem: -1})
	if r.State != "ITEM_0_0" {
		t.Fatalf("after cancel: state = %s, want ITEM_0_0", r.State)
	}

	s.Handle(ctx, Input{Action: "score", EchoSect: 0, EchoItem: 0})
	r = s.Handle(ctx, Input{Action: "Y", EchoSect: -1, EchoItem: -1})
	if r.State != "COMPLETED" {
		t.Fatalf("after confirm: state = %s, want COMPLETED", r.State)
	}
	if env.grader.callCount() != 1 {
		t.Errorf("grader calls = %d, want 1", env.grader.callCount())
	}
	if r.Score == nil || *r.Score != 12 || r.Result != "Y" {
		t.Errorf("render score = %v result = %q", r.Score, r.Result)
	}
	if env.recovery.updated != 1 {
		t.Errorf("updated-exam snapshots = %d, want 1", env.recovery.updated)
	}
}

func TestSubmitFromInstructionsUsesLastItem(t *testing.T) {
	env := newTestEnv()
	s := examSession(t, env)
	ctx := context.Background()

	s.Handle(ctx, Input{Action: "nav_0_1", EchoSect: -1, EchoItem: -1})
	s.Handle(ctx, Input{Action: "instruct", EchoSect: 0, EchoItem: 1})
	r := s.Handle(ctx, Input{Action: "score", EchoSect: -1, EchoItem: -1})

	if r.State != "SUBMIT_0_1" {
		t.Errorf("state = %s, want SUBMIT_0_1", r.State)
	}

	// Cancelling from there must land back on the remembered item.
	r = s.Handle(ctx, Input{Action: "N", EchoSect: -1, EchoItem: -1})
	if r.State != "ITEM_0_1" {
		t.Errorf("after cancel: state = %s, want ITEM_0_1", r.State)
	}
}

func TestDuplicateSubmitSkipsGrading(t *testing.T) {
	env := newTestEnv()
	s := examSession(t, env)
	ctx := context.Background()

	s.Handle(ctx, Input{Action: "nav_0_0", EchoSect: -1, EchoItem: -1})
	s.Handle(ctx, Input{Action: "timeout", EchoSect: -1, EchoItem: -1})
	if env.grader.callCount() != 1 {
		t.Fatalf("grader calls = %d, want 1", env.grader.callCount())
	}

	// A second forced submit finds the instance already completed.
	s.ForceSubmit(ctx)
	if env.grader.callCount() != 1 {
		t.Errorf("grader calls after duplicate = %d, want 1", env.grader.callCount())
	}
}

func TestGradingErrorRetained(t *testing.T) {
	env := newTestEnv()
	env.grader.res = nil
	env.grader.err = errors.New("database unavailable")

	s := examSession(t, env)
	ctx := context.Background()

	s.Handle(ctx, Input{Action: "nav_0_0", EchoSect: -1, EchoItem: -1})
	r := s.Handle(ctx, Input{Action: "timeout", EchoSect: -1, EchoItem: -1})

	if r.State != "COMPLETED" {
		t.Errorf("state = %s, want COMPLETED", r.State)
	}
	if r.GradingError == "" {
		t.Error("grading error not surfaced to the student")
	}
}

// ─── Close and Forced Termination ──────────────────────────────────────

func TestCloseAfterCompletion(t *testing.T) {
	env := newTestEnv()
	s := examSession(t, env)
	ctx := context.Background()

	s.Handle(ctx, Input{Action: "nav_0_0", EchoSect: -1, EchoItem: -1})
	s.Handle(ctx, Input{Action: "timeout", EchoSect: -1, EchoItem: -1})

	r := s.Handle(ctx, Input{Action: "close", EchoSect: -1, EchoItem: -1})
	if !r.Closed || r.Redirect != "/done" {
		t.Errorf("close render = closed:%t redirect:%q", r.Closed, r.Redirect)
	}
	if r.Exam != nil {
		t.Error("exam still attached after close")
	}
}

func TestCloseAfterError(t *testing.T) {
	env := newTestEnv()
	env.deps.Loader = &fakeLoader{err: errors.New("missing template")}
	ctx := context.Background()

	s := New(env.deps, "S0000002", "gone", false, "/home")
	s.Start(ctx)
	if got := s.StateName(); got != "ERROR" {
		t.Fatalf("state = %s, want ERROR", got)
	}

	r := s.Handle(ctx, Input{Action: "close", EchoSect: -1, EchoItem: -1})
	if !r.Closed || r.Redirect != "/home" {
		t.Errorf("close render = closed:%t redirect:%q", r.Closed, r.Redirect)
	}
}

func TestForceAbortDeletesPendingExam(t *testing.T) {
	env := newTestEnv()
	s := examSession(t, env)
	ctx := context.Background()

	s.ForceAbort(ctx)

	if got := s.StateName(); got != "COMPLETED" {
		t.Errorf("state = %s, want COMPLETED", got)
	}
	if len(env.repo.pendingDeleted) != 1 {
		t.Errorf("pending deletes = %d, want 1", len(env.repo.pendingDeleted))
	}
	if env.grader.callCount() != 0 {
		t.Errorf("grader calls = %d, want 0 (abort never grades)", env.grader.callCount())
	}
}

// ─── Timeout ───────────────────────────────────────────────────────────

func TestIsTimedOut(t *testing.T) {
	env := newTestEnv()
	s := examSession(t, env)
	ctx := context.Background()

	if s.IsTimedOut(env.clock.now()) {
		t.Error("timed out before the timer was armed")
	}

	s.Handle(ctx, Input{Action: "nav_0_0", EchoSect: -1, EchoItem: -1})
	if s.IsTimedOut(env.clock.now()) {
		t.Error("timed out immediately after arming")
	}

	env.clock.advance(time.Hour)
	if !s.IsTimedOut(env.clock.now()) {
		t.Error("not timed out after the allowed duration elapsed")
	}
}
