package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unimath/placement-backend/internal/model"
)

// HoldRepository handles administrative hold rows.
type HoldRepository struct {
	pool *pgxpool.Pool
}

// NewHoldRepository creates a new HoldRepository.
func NewHoldRepository(pool *pgxpool.Pool) *HoldRepository {
	return &HoldRepository{pool: pool}
}

// Upsert creates the hold or, if the student already carries it, refreshes
// its date and increments the occurrence count.
func (r *HoldRepository) Upsert(ctx context.Context, h model.AdminHold) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO admin_holds (student_id, hold_id, severity, times, hold_date)
		 VALUES ($1, $2, $3, 1, $4)
		 ON CONFLICT (student_id, hold_id) DO UPDATE
		 SET severity = EXCLUDED.severity,
		     times = admin_holds.times + 1,
		     hold_date = EXCLUDED.hold_date`,
		h.StudentID, h.HoldID, h.Severity, h.HoldDate,
	)
	return err
}
