package exam

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/unimath/placement-backend/internal/model"
)

func testTemplate() *model.ExamTemplate {
	return &model.ExamTemplate{
		Ref:            "math-placement",
		ExamID:         "MPE1",
		ExamType:       "Q",
		Course:         "MATH 101",
		AllowedSeconds: 3600,
		Sections: []model.TemplateSection{
			{
				Name: "Algebra",
				Problems: []model.TemplateProblem{
					{ProblemID: 1, Variants: []model.ProblemVariant{
						{Ref: "p1a", Kind: model.ProblemSingleChoice, Solution: []string{"2"}},
						{Ref: "p1b", Kind: model.ProblemSingleChoice, Solution: []string{"3"}},
					}},
					{ProblemID: 2, Variants: []model.ProblemVariant{
						{Ref: "p2a", Kind: model.ProblemNumeric, Solution: []string{"7"}},
					}},
				},
			},
			{
				Name: "Trigonometry",
				Problems: []model.TemplateProblem{
					{ProblemID: 3, Variants: []model.ProblemVariant{
						{Ref: "p3a", Kind: model.ProblemMultiChoice, Solution: []string{"1", "3"}},
					}},
				},
			},
		},
	}
}

func TestRealize(t *testing.T) {
	tmpl := testTemplate()
	now := time.Date(2026, 3, 9, 10, 30, 0, 0, time.UTC)

	inst, err := Realize(tmpl, 12345, "S0000001", nil, rand.New(rand.NewSource(1)), now)
	if err != nil {
		t.Fatalf("Realize: %v", err)
	}

	if inst.SerialNumber != 12345 || inst.StudentID != "S0000001" {
		t.Errorf("identity fields = (%d, %q)", inst.SerialNumber, inst.StudentID)
	}
	if inst.AllowedSeconds != 3600 {
		t.Errorf("AllowedSeconds = %d, want 3600", inst.AllowedSeconds)
	}
	if !inst.RealizedAt.Equal(now) {
		t.Errorf("RealizedAt = %v, want %v", inst.RealizedAt, now)
	}
	if len(inst.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(inst.Sections))
	}
	if got := len(inst.Sections[0].Problems); got != 2 {
		t.Errorf("section 0 problems = %d, want 2", got)
	}

	// Every realized problem carries exactly one variant drawn from its slot.
	sel := inst.Sections[0].Problems[0].Selected.Ref
	if sel != "p1a" && sel != "p1b" {
		t.Errorf("selected variant %q not from the problem's variants", sel)
	}
}

func TestRealizeTimeLimitFactor(t *testing.T) {
	tmpl := testTemplate()
	factor := 1.5

	inst, err := Realize(tmpl, 1, "S1", &factor, rand.New(rand.NewSource(1)), time.Now())
	if err != nil {
		t.Fatalf("Realize: %v", err)
	}
	if inst.AllowedSeconds != 5400 {
		t.Errorf("AllowedSeconds = %d, want 5400", inst.AllowedSeconds)
	}
}

func TestRealizeErrors(t *testing.T) {
	now := time.Now()
	rnd := rand.New(rand.NewSource(1))

	empty := &model.ExamTemplate{Ref: "empty"}
	if _, err := Realize(empty, 1, "S1", nil, rnd, now); !errors.Is(err, ErrRealization) {
		t.Errorf("no sections: err = %v, want ErrRealization", err)
	}

	noVariants := &model.ExamTemplate{
		Ref: "bad",
		Sections: []model.TemplateSection{
			{Name: "A", Problems: []model.TemplateProblem{{ProblemID: 1}}},
		},
	}
	if _, err := Realize(noVariants, 1, "S1", nil, rnd, now); !errors.Is(err, ErrRealization) {
		t.Errorf("no variants: err = %v, want ErrRealization", err)
	}
}

func TestInstanceAddressing(t *testing.T) {
	inst, err := Realize(testTemplate(), 1, "S1", nil, rand.New(rand.NewSource(1)), time.Now())
	if err != nil {
		t.Fatalf("Realize: %v", err)
	}

	tests := []struct {
		sect, item int
		want       bool
	}{
		{0, 0, true},
		{0, 1, true},
		{1, 0, true},
		{0, 2, false},
		{1, 1, false},
		{2, 0, false},
		{-1, 0, false},
		{0, -1, false},
	}
	for _, tt := range tests {
		if got := inst.InBounds(tt.sect, tt.item); got != tt.want {
			t.Errorf("InBounds(%d, %d) = %t, want %t", tt.sect, tt.item, got, tt.want)
		}
	}

	if p := inst.Problem(1, 0); p == nil || p.ProblemID != 3 {
		t.Errorf("Problem(1, 0) = %+v, want problem 3", p)
	}
	if p := inst.Problem(5, 5); p != nil {
		t.Errorf("Problem(5, 5) = %+v, want nil", p)
	}
	if p := inst.FindProblem(2); p == nil || p.ProblemID != 2 {
		t.Errorf("FindProblem(2) = %+v", p)
	}
	if p := inst.FindProblem(99); p != nil {
		t.Errorf("FindProblem(99) = %+v, want nil", p)
	}
}

func TestInstanceView(t *testing.T) {
	inst, err := Realize(testTemplate(), 12345, "S1", nil, rand.New(rand.NewSource(1)), time.Now())
	if err != nil {
		t.Fatalf("Realize: %v", err)
	}
	inst.Problem(0, 0).Record([]string{"2"})

	v := inst.View()
	if v.SerialNumber != 12345 || v.AllowedSeconds != 3600 {
		t.Errorf("view header = (%d, %d)", v.SerialNumber, v.AllowedSeconds)
	}
	if len(v.Sections) != 2 || len(v.Sections[0].Problems) != 2 {
		t.Fatalf("view shape = %+v", v.Sections)
	}

	p := v.Sections[0].Problems[0]
	if !p.Answered || len(p.Recorded) != 1 || p.Recorded[0] != "2" {
		t.Errorf("view problem = %+v", p)
	}
	if q := v.Sections[0].Problems[1]; q.Answered {
		t.Errorf("unanswered problem reported answered: %+v", q)
	}
}

func TestInstanceClone(t *testing.T) {
	inst, err := Realize(testTemplate(), 1, "S1", nil, rand.New(rand.NewSource(1)), time.Now())
	if err != nil {
		t.Fatalf("Realize: %v", err)
	}
	inst.Problem(0, 0).Record([]string{"2"})
	inst.SubtestScores = map[string]int{"score": 7}

	cp := inst.Clone()

	// Mutations on the original must not reach the clone, including
	// writes through the recorded-answer slice itself.
	inst.Problem(0, 0).Recorded[0] = "3"
	inst.Problem(0, 1).Record([]string{"7"})
	inst.SubtestScores["score"] = 14

	if got := cp.Problem(0, 0).Recorded; len(got) != 1 || got[0] != "2" {
		t.Errorf("clone answer = %v, want [2]", got)
	}
	if cp.Problem(0, 1).IsAnswered() {
		t.Error("clone picked up an answer recorded after the copy")
	}
	if cp.SubtestScores["score"] != 7 {
		t.Errorf("clone subtest score = %d, want 7", cp.SubtestScores["score"])
	}
	if cp.Template != inst.Template {
		t.Error("clone does not share the immutable template")
	}

	var nilInst *Instance
	if nilInst.Clone() != nil {
		t.Error("nil clone = non-nil")
	}
}

func TestAnswerCounts(t *testing.T) {
	inst, err := Realize(testTemplate(), 1, "S1", nil, rand.New(rand.NewSource(1)), time.Now())
	if err != nil {
		t.Fatalf("Realize: %v", err)
	}

	answered, total := inst.AnswerCounts()
	if answered != 0 || total != 3 {
		t.Errorf("AnswerCounts = (%d, %d), want (0, 3)", answered, total)
	}

	inst.Problem(0, 0).Record([]string{"2"})
	inst.Problem(1, 0).Record([]string{"1", "3"})

	answered, total = inst.AnswerCounts()
	if answered != 2 || total != 3 {
		t.Errorf("AnswerCounts = (%d, %d), want (2, 3)", answered, total)
	}
}

func TestProblemGrade(t *testing.T) {
	p := &Problem{
		ProblemID: 1,
		Selected:  model.ProblemVariant{Kind: model.ProblemSingleChoice, Solution: []string{"2"}},
	}

	p.Record([]string{"2"})
	p.Grade()
	if !p.Correct || p.Score != 1.0 {
		t.Errorf("correct answer: Correct=%t Score=%g", p.Correct, p.Score)
	}

	p.Record([]string{"1"})
	p.Grade()
	if p.Correct || p.Score != 0.0 {
		t.Errorf("wrong answer: Correct=%t Score=%g", p.Correct, p.Score)
	}
}

func TestAnswerString(t *testing.T) {
	tests := []struct {
		name     string
		kind     model.ProblemKind
		recorded []string
		want     string
	}{
		{"single choice", model.ProblemSingleChoice, []string{"2"}, " B   "},
		{"multi choice", model.ProblemMultiChoice, []string{"1", "5"}, "A   E"},
		{"choice with junk token", model.ProblemSingleChoice, []string{"9"}, "     "},
		{"numeric", model.ProblemNumeric, []string{"3.14"}, "3.14"},
		{"embedded", model.ProblemEmbedded, []string{"x", "y"}, "x,y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Problem{Selected: model.ProblemVariant{Kind: tt.kind}, Recorded: tt.recorded}
			if got := p.AnswerString(); got != tt.want {
				t.Errorf("AnswerString() = %q, want %q", got, tt.want)
			}
		})
	}
}
