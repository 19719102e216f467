package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unimath/placement-backend/internal/model"
)

// PendingExamRepository handles the in-progress exam recovery rows.
type PendingExamRepository struct {
	pool *pgxpool.Pool
}

// NewPendingExamRepository creates a new PendingExamRepository.
func NewPendingExamRepository(pool *pgxpool.Pool) *PendingExamRepository {
	return &PendingExamRepository{pool: pool}
}

// Insert writes the pending-exam row at realization.
func (r *PendingExamRepository) Insert(ctx context.Context, pe model.PendingExam) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO pending_exams
		        (serial_number, exam_id, student_id, realized_date, start_minute,
		         course, unit, exam_type, time_limit_factor, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		pe.SerialNumber, pe.ExamID, pe.StudentID, pe.RealizedDate, pe.StartMinute,
		pe.Course, pe.Unit, pe.ExamType, pe.TimeLimitFactor, nullable(pe.Source),
	)
	return err
}

// Delete removes the pending-exam row once the attempt completes or is
// abandoned.
func (r *PendingExamRepository) Delete(ctx context.Context, serial int64, studentID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM pending_exams WHERE serial_number = $1 AND student_id = $2`,
		serial, studentID,
	)
	return err
}
