package model

import (
	"math"
	"strconv"
	"strings"
)

// ProblemKind enumerates the supported problem interaction types.
type ProblemKind string

const (
	ProblemSingleChoice ProblemKind = "SINGLE_CHOICE"
	ProblemMultiChoice  ProblemKind = "MULTI_CHOICE"
	ProblemNumeric      ProblemKind = "NUMERIC"
	ProblemEmbedded     ProblemKind = "EMBEDDED"
)

// ExamTemplate is the immutable definition of a placement exam. Templates are
// authored externally and loaded by reference; the engine never mutates one.
type ExamTemplate struct {
	Ref            string            `json:"ref"`
	ExamID         string            `json:"exam_id"`
	ExamType       string            `json:"exam_type"`
	Title          string            `json:"title"`
	Course         string            `json:"course"`
	Unit           int               `json:"unit"`
	AllowedSeconds int64             `json:"allowed_seconds"`
	MasteryScore   *int              `json:"mastery_score,omitempty"`
	Instructions   string            `json:"instructions,omitempty"`
	Sections       []TemplateSection `json:"sections"`
	Subtests       []Subtest         `json:"subtests"`
	GradingRules   []GradingRule     `json:"grading_rules"`
	Outcomes       []Outcome         `json:"outcomes"`
}

// TemplateSection groups an ordered run of problems.
type TemplateSection struct {
	Name      string            `json:"name"`
	ShortName string            `json:"short_name,omitempty"`
	Problems  []TemplateProblem `json:"problems"`
}

// TemplateProblem is one exam item slot. It carries one or more variants;
// realization selects exactly one for presentation.
type TemplateProblem struct {
	ProblemID int              `json:"problem_id"`
	Name      string           `json:"name,omitempty"`
	Variants  []ProblemVariant `json:"variants"`
}

// ProblemVariant is a concrete, presentable form of a problem.
type ProblemVariant struct {
	Ref       string      `json:"ref"`
	Kind      ProblemKind `json:"kind"`
	Prompt    string      `json:"prompt"`
	Choices   []string    `json:"choices,omitempty"`
	Solution  []string    `json:"solution"`
	Tolerance float64     `json:"tolerance,omitempty"`
}

// IsCorrect checks recorded answer tokens against the variant's solution.
// Choice answers compare as unordered sets of choice indexes; numeric
// answers compare within the variant's tolerance; embedded answers compare
// each blank case-insensitively.
func (v *ProblemVariant) IsCorrect(tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}

	switch v.Kind {
	case ProblemSingleChoice:
		return len(tokens) == 1 && len(v.Solution) == 1 && tokens[0] == v.Solution[0]

	case ProblemMultiChoice:
		if len(tokens) != len(v.Solution) {
			return false
		}
		want := make(map[string]bool, len(v.Solution))
		for _, s := range v.Solution {
			want[s] = true
		}
		for _, t := range tokens {
			if !want[t] {
				return false
			}
		}
		return true

	case ProblemNumeric:
		if len(tokens) != 1 || len(v.Solution) != 1 {
			return false
		}
		got, err1 := strconv.ParseFloat(strings.TrimSpace(tokens[0]), 64)
		want, err2 := strconv.ParseFloat(v.Solution[0], 64)
		if err1 != nil || err2 != nil {
			return false
		}
		return math.Abs(got-want) <= v.Tolerance

	case ProblemEmbedded:
		if len(tokens) != len(v.Solution) {
			return false
		}
		for i, t := range tokens {
			if !strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(v.Solution[i])) {
				return false
			}
		}
		return true
	}

	return false
}

// Subtest is a named scoring group spanning a subset of problems.
type Subtest struct {
	Name     string           `json:"name"`
	Problems []SubtestProblem `json:"problems"`
}

// SubtestProblem binds a problem to a subtest with a scoring weight.
type SubtestProblem struct {
	ProblemID int     `json:"problem_id"`
	Weight    float64 `json:"weight"`
}

// GradingRule is a named pass/fail rule with ordered conditions. The first
// condition that evaluates true marks the rule passed.
type GradingRule struct {
	Name       string   `json:"name"`
	Conditions []string `json:"conditions"`
}

// Outcome awards placement, credit, or licensure when its condition holds
// and its prerequisites and validations succeed.
type Outcome struct {
	Condition   string              `json:"condition"`
	Prereqs     []string            `json:"prereqs,omitempty"`
	Validations []OutcomeValidation `json:"validations,omitempty"`
	Actions     []OutcomeAction     `json:"actions"`
	LogDenial   bool                `json:"log_denial"`
}

// OutcomeValidation pairs a validation formula with the one-character code
// recorded when that formula confirms the outcome.
type OutcomeValidation struct {
	Formula      string `json:"formula"`
	HowValidated string `json:"how_validated"`
}

// ActionType enumerates outcome action kinds.
type ActionType string

const (
	ActionPlacement ActionType = "PLACEMENT"
	ActionCredit    ActionType = "CREDIT"
	ActionLicensed  ActionType = "LICENSED"
)

// OutcomeAction is a single award performed by a satisfied outcome.
type OutcomeAction struct {
	Type   ActionType `json:"type"`
	Course string     `json:"course,omitempty"`
}
