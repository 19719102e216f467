package worker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/unimath/placement-backend/internal/model"
	"github.com/unimath/placement-backend/internal/repository"
)

const sisPollTimeout = time.Second

// SISUploadWorker consumes the SIS upload queue and records earned
// placements in the outbound upload table read by the campus batch job.
type SISUploadWorker struct {
	pool  *pgxpool.Pool
	queue *repository.SISQueue
	log   zerolog.Logger
}

// NewSISUploadWorker creates a new SISUploadWorker.
func NewSISUploadWorker(pool *pgxpool.Pool, queue *repository.SISQueue, log zerolog.Logger) *SISUploadWorker {
	return &SISUploadWorker{
		pool:  pool,
		queue: queue,
		log:   log.With().Str("component", "sis_upload_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *SISUploadWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *SISUploadWorker) processNext(ctx context.Context) {
	upload, err := w.queue.Pop(ctx, sisPollTimeout)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Queue pop error")
		}
		return
	}
	if upload == nil {
		return
	}

	if err := w.record(ctx, upload); err != nil {
		w.log.Error().Err(err).
			Str("student_id", upload.StudentID).
			Msg("Record error, retrying in 5s")
		if err := w.queue.Requeue(ctx, *upload); err != nil {
			w.log.Error().Err(err).Msg("Requeue error, payload dropped")
		}
		time.Sleep(5 * time.Second)
	}
}

// record writes one row per earned course. The unique index on
// (sis_id, course) makes redelivery after a requeue harmless.
func (w *SISUploadWorker) record(ctx context.Context, upload *model.SISUpload) error {
	for _, course := range upload.Courses {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO sis_uploads (student_id, sis_id, course, finish_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (sis_id, course) DO UPDATE
			 SET finish_at = EXCLUDED.finish_at`,
			upload.StudentID, upload.SISID, course, upload.FinishAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
