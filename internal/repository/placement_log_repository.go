package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unimath/placement-backend/internal/model"
)

// PlacementLogRepository handles the placement activity log.
type PlacementLogRepository struct {
	pool *pgxpool.Pool
}

// NewPlacementLogRepository creates a new PlacementLogRepository.
func NewPlacementLogRepository(pool *pgxpool.Pool) *PlacementLogRepository {
	return &PlacementLogRepository{pool: pool}
}

// Insert writes a log row when an attempt begins.
func (r *PlacementLogRepository) Insert(ctx context.Context, entry model.PlacementLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO placement_log
		        (student_id, academic_year, course, exam_id, start_date, start_minute, serial_number)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.StudentID, entry.AcademicYear, entry.Course, entry.ExamID,
		entry.StartDate, entry.StartMinute, entry.SerialNumber,
	)
	return err
}

// MarkFinished stamps the log row matching the attempt's start with its
// finish date, and the recovery date when the attempt was reconstructed.
func (r *PlacementLogRepository) MarkFinished(ctx context.Context, studentID string, startDate time.Time, startMinute int, finishDate time.Time, recovered *time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE placement_log
		 SET finish_date = $1, recover_date = $2
		 WHERE student_id = $3 AND start_date::date = $4::date AND start_minute = $5`,
		finishDate, recovered, studentID, startDate, startMinute,
	)
	return err
}
