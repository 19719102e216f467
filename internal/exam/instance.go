// Package exam holds the realized exam instance: a mutable, per-attempt copy
// of an immutable exam template, bound to a serial number and a student.
package exam

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/unimath/placement-backend/internal/model"
)

// ErrRealization indicates that an exam template could not be realized.
var ErrRealization = errors.New("exam could not be realized")

// Instance is a realized exam bound to one attempt.
type Instance struct {
	Template       *model.ExamTemplate `json:"template"`
	SerialNumber   int64               `json:"serial_number"`
	StudentID      string              `json:"student_id"`
	AllowedSeconds int64               `json:"allowed_seconds"`
	RealizedAt     time.Time           `json:"realized_at"`
	PresentedAt    time.Time           `json:"presented_at,omitempty"`
	CompletedAt    time.Time           `json:"completed_at,omitempty"`
	Sections       []Section           `json:"sections"`
	SubtestScores  map[string]int      `json:"subtest_scores,omitempty"`
}

// Section is a realized exam section.
type Section struct {
	Name      string    `json:"name"`
	ShortName string    `json:"short_name,omitempty"`
	Problems  []Problem `json:"problems"`
}

// Problem is a realized problem with its selected variant and, once the
// student responds, the recorded answer.
type Problem struct {
	ProblemID int                  `json:"problem_id"`
	Name      string               `json:"name,omitempty"`
	Selected  model.ProblemVariant `json:"selected"`
	Recorded  []string             `json:"recorded,omitempty"`
	Correct   bool                 `json:"correct"`
	Score     float64              `json:"score"`
}

// Realize builds an Instance from a template: every problem slot gets one
// variant selected at random, and the allowed duration is scaled by the
// student's time-limit factor (rounded down to integer seconds).
func Realize(tmpl *model.ExamTemplate, serial int64, studentID string, timeLimitFactor *float64, rnd *rand.Rand, now time.Time) (*Instance, error) {
	if len(tmpl.Sections) == 0 {
		return nil, fmt.Errorf("%w: template %s has no sections", ErrRealization, tmpl.Ref)
	}

	inst := &Instance{
		Template:     tmpl,
		SerialNumber: serial,
		StudentID:    studentID,
		RealizedAt:   now,
		Sections:     make([]Section, 0, len(tmpl.Sections)),
	}

	inst.AllowedSeconds = tmpl.AllowedSeconds
	if timeLimitFactor != nil && tmpl.AllowedSeconds > 0 {
		inst.AllowedSeconds = int64(float64(tmpl.AllowedSeconds) * *timeLimitFactor)
	}

	for _, ts := range tmpl.Sections {
		sect := Section{Name: ts.Name, ShortName: ts.ShortName}
		for _, tp := range ts.Problems {
			if len(tp.Variants) == 0 {
				return nil, fmt.Errorf("%w: problem %d in section %q has no variants",
					ErrRealization, tp.ProblemID, ts.Name)
			}
			sect.Problems = append(sect.Problems, Problem{
				ProblemID: tp.ProblemID,
				Name:      tp.Name,
				Selected:  tp.Variants[rnd.Intn(len(tp.Variants))],
			})
		}
		inst.Sections = append(inst.Sections, sect)
	}

	return inst, nil
}

// View is the student-facing projection of an instance: prompts, choices,
// and the student's own recorded answers. Solutions, tolerances, and the
// template's grading configuration never cross this boundary.
type View struct {
	Title          string        `json:"title"`
	Instructions   string        `json:"instructions,omitempty"`
	SerialNumber   int64         `json:"serial_number"`
	AllowedSeconds int64         `json:"allowed_seconds"`
	Sections       []SectionView `json:"sections"`
}

// SectionView is one section of a View.
type SectionView struct {
	Name      string        `json:"name"`
	ShortName string        `json:"short_name,omitempty"`
	Problems  []ProblemView `json:"problems"`
}

// ProblemView is one problem as presented to the exam taker.
type ProblemView struct {
	ProblemID int               `json:"problem_id"`
	Name      string            `json:"name,omitempty"`
	Kind      model.ProblemKind `json:"kind"`
	Prompt    string            `json:"prompt"`
	Choices   []string          `json:"choices,omitempty"`
	Recorded  []string          `json:"recorded,omitempty"`
	Answered  bool              `json:"answered"`
}

// View builds the student-facing projection of the instance.
func (i *Instance) View() *View {
	v := &View{
		Title:          i.Template.Title,
		Instructions:   i.Template.Instructions,
		SerialNumber:   i.SerialNumber,
		AllowedSeconds: i.AllowedSeconds,
		Sections:       make([]SectionView, 0, len(i.Sections)),
	}
	for s := range i.Sections {
		sect := SectionView{
			Name:      i.Sections[s].Name,
			ShortName: i.Sections[s].ShortName,
		}
		for p := range i.Sections[s].Problems {
			prob := &i.Sections[s].Problems[p]
			sect.Problems = append(sect.Problems, ProblemView{
				ProblemID: prob.ProblemID,
				Name:      prob.Name,
				Kind:      prob.Selected.Kind,
				Prompt:    prob.Selected.Prompt,
				Choices:   prob.Selected.Choices,
				Recorded:  prob.Recorded,
				Answered:  prob.IsAnswered(),
			})
		}
		v.Sections = append(v.Sections, sect)
	}
	return v
}

// Clone returns a deep copy of the instance. Only the immutable template is
// shared with the original.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	out.Sections = make([]Section, len(i.Sections))
	for s := range i.Sections {
		sect := i.Sections[s]
		probs := make([]Problem, len(sect.Problems))
		copy(probs, sect.Problems)
		for p := range probs {
			probs[p].Recorded = append([]string(nil), probs[p].Recorded...)
		}
		sect.Problems = probs
		out.Sections[s] = sect
	}
	if i.SubtestScores != nil {
		out.SubtestScores = make(map[string]int, len(i.SubtestScores))
		for k, v := range i.SubtestScores {
			out.SubtestScores[k] = v
		}
	}
	return &out
}

// InBounds reports whether (sect, item) addresses a problem of the instance.
func (i *Instance) InBounds(sect, item int) bool {
	if sect < 0 || sect >= len(i.Sections) {
		return false
	}
	return item >= 0 && item < len(i.Sections[sect].Problems)
}

// Problem returns the problem addressed by (sect, item); nil out of bounds.
func (i *Instance) Problem(sect, item int) *Problem {
	if !i.InBounds(sect, item) {
		return nil
	}
	return &i.Sections[sect].Problems[item]
}

// FindProblem returns the problem with the given ID; nil if not present.
func (i *Instance) FindProblem(problemID int) *Problem {
	for s := range i.Sections {
		for p := range i.Sections[s].Problems {
			if i.Sections[s].Problems[p].ProblemID == problemID {
				return &i.Sections[s].Problems[p]
			}
		}
	}
	return nil
}

// AnswerCounts returns how many problems have a recorded answer and the
// total problem count.
func (i *Instance) AnswerCounts() (answered, total int) {
	for s := range i.Sections {
		for p := range i.Sections[s].Problems {
			total++
			if i.Sections[s].Problems[p].IsAnswered() {
				answered++
			}
		}
	}
	return answered, total
}

// IsAnswered reports whether the student has recorded an answer.
func (p *Problem) IsAnswered() bool {
	return len(p.Recorded) > 0
}

// Record stores the student's answer tokens for this problem.
func (p *Problem) Record(tokens []string) {
	p.Recorded = tokens
}

// Grade marks the problem correct or incorrect from its recorded answer and
// assigns a unit score.
func (p *Problem) Grade() {
	p.Correct = p.Selected.IsCorrect(p.Recorded)
	if p.Correct {
		p.Score = 1.0
	} else {
		p.Score = 0.0
	}
}

// AnswerString encodes the recorded answer for persistence: choice answers
// become a fixed five-character letter field ("A"–"E" in token positions),
// other kinds join their tokens.
func (p *Problem) AnswerString() string {
	switch p.Selected.Kind {
	case model.ProblemSingleChoice, model.ProblemMultiChoice:
		letters := []byte("     ")
		for _, tok := range p.Recorded {
			if n, err := strconv.Atoi(tok); err == nil && n >= 1 && n <= 5 {
				letters[n-1] = byte('A' + n - 1)
			}
		}
		return string(letters)
	default:
		return strings.Join(p.Recorded, ",")
	}
}
