package model

import "time"

// Student represents a student record as read and updated by the engine.
type Student struct {
	ID              string   `json:"id"`
	FirstName       string   `json:"first_name"`
	LastName        string   `json:"last_name"`
	MiddleInitial   string   `json:"middle_initial,omitempty"`
	ACTMathScore    *int     `json:"act_math_score,omitempty"`
	SATMathScore    *int     `json:"sat_math_score,omitempty"`
	PasswordHash    string   `json:"-"`
	TimeLimitFactor *float64 `json:"time_limit_factor,omitempty"`
	Licensed        bool     `json:"licensed"`
	HoldSeverity    string   `json:"hold_severity,omitempty"`
	SISID           *int     `json:"sis_id,omitempty"`
}

// Admin represents an administrative (proctor/staff) account.
type Admin struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsTestAccount reports whether the student is a guest or test login whose
// attempts must never be recorded.
func (s *Student) IsTestAccount() bool {
	switch s.ID {
	case "GUEST", "AACTUTOR", "ETEXT":
		return true
	}
	return len(s.ID) >= 2 && s.ID[:2] == "99"
}
