package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unimath/placement-backend/internal/model"
)

// CreditRepository handles earned credit/placement rows and their denials.
type CreditRepository struct {
	pool *pgxpool.Pool
}

// NewCreditRepository creates a new CreditRepository.
func NewCreditRepository(pool *pgxpool.Pool) *CreditRepository {
	return &CreditRepository{pool: pool}
}

// Apply upserts an earned credit or placement row. Re-earning the same
// course upgrades placement ("P") to credit ("C") but never downgrades.
func (r *CreditRepository) Apply(ctx context.Context, c model.Credit) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO placement_credit
		        (student_id, course, category, award_date, serial_number, exam_id, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (student_id, course) DO UPDATE
		 SET category = EXCLUDED.category,
		     award_date = EXCLUDED.award_date,
		     serial_number = EXCLUDED.serial_number,
		     exam_id = EXCLUDED.exam_id,
		     source = EXCLUDED.source
		 WHERE placement_credit.category = 'P'`,
		c.StudentID, c.Course, c.Category, c.AwardDate, c.SerialNumber, c.ExamID, nullable(c.Source),
	)
	return err
}

// InsertDenial writes a denied credit/placement row for audit.
func (r *CreditRepository) InsertDenial(ctx context.Context, d model.Denial) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO credit_denials
		        (student_id, course, category, deny_date, reason, serial_number, exam_id, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.StudentID, d.Course, d.Category, d.DenyDate, d.Reason, d.SerialNumber, d.ExamID, nullable(d.Source),
	)
	return err
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
