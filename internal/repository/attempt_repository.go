package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unimath/placement-backend/internal/grading"
	"github.com/unimath/placement-backend/internal/model"
)

// AttemptRepository handles placement attempt summary and answer rows.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Insert writes the attempt-summary row. Callers must write every dependent
// row first; this row's presence marks the attempt as fully recorded.
func (r *AttemptRepository) Insert(ctx context.Context, att *model.PlacementAttempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO placement_attempts
		        (student_id, exam_id, academic_year, exam_date, start_minute, finish_minute,
		         last_name, first_name, middle_initial, serial_number, subtest_scores,
		         result, how_validated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		att.StudentID, att.ExamID, att.AcademicYear, att.ExamDate, att.StartMinute,
		att.FinishMinute, att.LastName, att.FirstName, att.MiddleInitial,
		att.SerialNumber, att.SubtestScores, att.Result, att.HowValidated,
	)
	return err
}

// InsertAnswers writes the per-question answer rows for an attempt.
func (r *AttemptRepository) InsertAnswers(ctx context.Context, answers []model.AttemptAnswer) error {
	for _, a := range answers {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO attempt_answers
			        (student_id, exam_id, exam_date, finish_minute, problem_id,
			         answer, correct, subtest, variant_ref)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			a.StudentID, a.ExamID, a.ExamDate, a.FinishMinute, a.ProblemID,
			a.Answer, a.Correct, a.Subtest, a.VariantRef,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// LegalStamps returns the serial number, finish date, and start minute of
// every legal attempt the student has recorded for the exam. A legal
// attempt is one whose result is "Y" or "N"; illegal attempts carry an
// ordinal instead.
func (r *AttemptRepository) LegalStamps(ctx context.Context, studentID, examID string) ([]grading.AttemptStamp, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT serial_number, exam_date, start_minute
		 FROM placement_attempts
		 WHERE student_id = $1 AND exam_id = $2 AND result IN ('Y', 'N')`,
		studentID, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stamps []grading.AttemptStamp
	for rows.Next() {
		var stamp grading.AttemptStamp
		if err := rows.Scan(&stamp.SerialNumber, &stamp.ExamDate, &stamp.StartMinute); err != nil {
			return nil, err
		}
		stamps = append(stamps, stamp)
	}
	return stamps, rows.Err()
}

// CountLegal returns the student's legal attempt counts for the exam,
// split into unproctored and proctored. Proctored attempts are the ones
// validated with "P".
func (r *AttemptRepository) CountLegal(ctx context.Context, studentID, examID string) (unproctored, proctored int, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE how_validated IS DISTINCT FROM 'P'),
		        COUNT(*) FILTER (WHERE how_validated = 'P')
		 FROM placement_attempts
		 WHERE student_id = $1 AND exam_id = $2 AND result IN ('Y', 'N')`,
		studentID, examID,
	).Scan(&unproctored, &proctored)
	return unproctored, proctored, err
}
