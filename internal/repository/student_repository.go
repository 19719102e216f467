package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unimath/placement-backend/internal/model"
)

var ErrStudentNotFound = errors.New("student not found")

var ErrDuplicateStudent = errors.New("student with this ID already exists")

// StudentRepository handles student data access.
type StudentRepository struct {
	pool *pgxpool.Pool
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

// GetByID retrieves a student by their campus ID.
func (r *StudentRepository) GetByID(ctx context.Context, id string) (*model.Student, error) {
	s := &model.Student{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, first_name, last_name, middle_initial, password_hash, act_math_score,
		        sat_math_score, time_limit_factor, licensed, hold_severity, sis_id
		 FROM students WHERE id = $1`, id,
	).Scan(&s.ID, &s.FirstName, &s.LastName, &s.MiddleInitial, &s.PasswordHash, &s.ACTMathScore,
		&s.SATMathScore, &s.TimeLimitFactor, &s.Licensed, &s.HoldSeverity, &s.SISID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return s, nil
}

// Create inserts a new student.
func (r *StudentRepository) Create(ctx context.Context, s *model.Student) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO students (id, first_name, last_name, middle_initial, password_hash,
		        act_math_score, sat_math_score, time_limit_factor, licensed, hold_severity, sis_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.FirstName, s.LastName, s.MiddleInitial, s.PasswordHash,
		s.ACTMathScore, s.SATMathScore, s.TimeLimitFactor, s.Licensed, s.HoldSeverity, s.SISID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateStudent
		}
		return err
	}
	return nil
}

// SetLicensed updates the student's calculator-license flag.
func (r *StudentRepository) SetLicensed(ctx context.Context, id string, licensed bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE students SET licensed = $1 WHERE id = $2`, licensed, id)
	return err
}

// SetHoldSeverity updates the student's most severe hold marker.
func (r *StudentRepository) SetHoldSeverity(ctx context.Context, id, severity string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE students SET hold_severity = $1 WHERE id = $2`, severity, id)
	return err
}
