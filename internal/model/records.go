package model

import "time"

// Denial reason codes recorded on credit/placement denial rows.
const (
	DeniedByPrereq     = "P"
	DeniedByValidation = "V"
	DeniedIllegal      = "I"
)

// Credit/placement category codes.
const (
	CategoryPlacement = "P"
	CategoryCredit    = "C"
)

// AdminHoldIllegalAttempt is the hold placed on a student account when an
// illegal placement attempt is detected.
const AdminHoldIllegalAttempt = "18"

// PlacementAttempt is the attempt-summary row. It is always the last row
// written for an attempt: its presence signals that all dependent rows
// (answers, credit, denials) are already committed.
type PlacementAttempt struct {
	StudentID     string         `json:"student_id"`
	ExamID        string         `json:"exam_id"`
	AcademicYear  string         `json:"academic_year"`
	ExamDate      time.Time      `json:"exam_date"`
	StartMinute   int            `json:"start_minute"`
	FinishMinute  int            `json:"finish_minute"`
	LastName      string         `json:"last_name"`
	FirstName     string         `json:"first_name"`
	MiddleInitial string         `json:"middle_initial,omitempty"`
	SerialNumber  int64          `json:"serial_number"`
	SubtestScores map[string]int `json:"subtest_scores"`
	// Result is "Y" or "N" for legal attempts, or the ordinal attempt
	// number (e.g. "2") for illegal ones.
	Result       string `json:"result"`
	HowValidated string `json:"how_validated,omitempty"`
}

// AttemptAnswer is one per-question answer row for a completed attempt.
type AttemptAnswer struct {
	StudentID    string    `json:"student_id"`
	ExamID       string    `json:"exam_id"`
	ExamDate     time.Time `json:"exam_date"`
	FinishMinute int       `json:"finish_minute"`
	ProblemID    int       `json:"problem_id"`
	Answer       string    `json:"answer"`
	Correct      bool      `json:"correct"`
	Subtest      string    `json:"subtest"`
	VariantRef   string    `json:"variant_ref"`
}

// SurveyAnswer is one pre-exam survey response, keyed by question number.
type SurveyAnswer struct {
	StudentID   string    `json:"student_id"`
	ExamID      string    `json:"exam_id"`
	SurveyDate  time.Time `json:"survey_date"`
	QuestionNbr int       `json:"question_nbr"`
	Answer      string    `json:"answer"`
	AnswerMin   int       `json:"answer_min"`
}

// Credit is an earned placement or credit row. Category is "P" or "C".
type Credit struct {
	StudentID    string    `json:"student_id"`
	Course       string    `json:"course"`
	Category     string    `json:"category"`
	AwardDate    time.Time `json:"award_date"`
	SerialNumber int64     `json:"serial_number"`
	ExamID       string    `json:"exam_id"`
	Source       string    `json:"source,omitempty"`
}

// Denial is a denied placement or credit row, retained for audit.
type Denial struct {
	StudentID    string    `json:"student_id"`
	Course       string    `json:"course"`
	Category     string    `json:"category"`
	DenyDate     time.Time `json:"deny_date"`
	Reason       string    `json:"reason"`
	SerialNumber int64     `json:"serial_number"`
	ExamID       string    `json:"exam_id"`
	Source       string    `json:"source,omitempty"`
}

// PendingExam is the recovery row written at realization and deleted at
// completion or forced abort. An orphaned row indicates a lost attempt.
type PendingExam struct {
	SerialNumber    int64     `json:"serial_number"`
	ExamID          string    `json:"exam_id"`
	StudentID       string    `json:"student_id"`
	RealizedDate    time.Time `json:"realized_date"`
	StartMinute     int       `json:"start_minute"`
	Course          string    `json:"course"`
	Unit            int       `json:"unit"`
	ExamType        string    `json:"exam_type"`
	TimeLimitFactor *float64  `json:"time_limit_factor,omitempty"`
	Source          string    `json:"source"`
}

// AdminHold is an administrative hold on a student account.
type AdminHold struct {
	StudentID string    `json:"student_id"`
	HoldID    string    `json:"hold_id"`
	Severity  string    `json:"severity"`
	Times     int       `json:"times"`
	HoldDate  time.Time `json:"hold_date"`
}

// PlacementLog is the activity log row recording when a placement attempt
// was begun and, later, when it finished.
type PlacementLog struct {
	StudentID    string     `json:"student_id"`
	AcademicYear string     `json:"academic_year"`
	Course       string     `json:"course"`
	ExamID       string     `json:"exam_id"`
	StartDate    time.Time  `json:"start_date"`
	StartMinute  int        `json:"start_minute"`
	SerialNumber int64      `json:"serial_number"`
	FinishDate   *time.Time `json:"finish_date,omitempty"`
	RecoverDate  *time.Time `json:"recover_date,omitempty"`
}

// SISUpload is the payload queued for upload of earned placements to the
// campus student information system.
type SISUpload struct {
	StudentID string    `json:"student_id"`
	SISID     int       `json:"sis_id"`
	Courses   []string  `json:"courses"`
	FinishAt  time.Time `json:"finish_at"`
}
