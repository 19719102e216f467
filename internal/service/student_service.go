package service

import (
	"context"
	"errors"

	"github.com/unimath/placement-backend/internal/model"
	"github.com/unimath/placement-backend/internal/repository"
)

// StudentService handles student login and profile access.
type StudentService struct {
	students *repository.StudentRepository
	auth     *AuthService
}

// NewStudentService creates a new StudentService.
func NewStudentService(students *repository.StudentRepository, auth *AuthService) *StudentService {
	return &StudentService{students: students, auth: auth}
}

// Login authenticates a student by campus ID and password and issues a
// token. Missing students map to invalid credentials so the response does
// not leak which IDs exist.
func (s *StudentService) Login(ctx context.Context, studentID, password string) (string, *model.Student, error) {
	student, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if err := s.auth.CheckPassword(student.PasswordHash, password); err != nil {
		return "", nil, err
	}

	token, err := s.auth.GenerateStudentToken(ctx, student.ID)
	if err != nil {
		return "", nil, err
	}

	return token, student, nil
}

// Logout drops the student's login session.
func (s *StudentService) Logout(ctx context.Context, studentID string) error {
	return s.auth.ResetStudentSession(ctx, studentID)
}

// Get returns the student's record.
func (s *StudentService) Get(ctx context.Context, studentID string) (*model.Student, error) {
	return s.students.GetByID(ctx, studentID)
}
