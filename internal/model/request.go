package model

// StudentLoginRequest is the student login payload.
type StudentLoginRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	Password  string `json:"password" binding:"required"`
}

// AdminLoginRequest is the admin login payload.
type AdminLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// ExamStartRequest opens (or resumes) an exam session.
type ExamStartRequest struct {
	ExamRef       string `json:"exam_ref" binding:"required"`
	Proctored     bool   `json:"proctored"`
	RedirectOnEnd string `json:"redirect_on_end"`
}

// ExamActionRequest applies one student action to the exam session. Sect
// and Item echo the position the answers were collected for; they are
// pointers so an absent echo is distinguishable from item zero.
type ExamActionRequest struct {
	Action  string            `json:"action" binding:"required"`
	Sect    *int              `json:"sect"`
	Item    *int              `json:"item"`
	Answers []string          `json:"answers"`
	Survey  map[string]string `json:"survey"`
}
