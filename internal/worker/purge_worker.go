package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/unimath/placement-backend/internal/session"
)

// SnapshotInterval is how often the active session set is written to disk so
// a crash between purge ticks loses at most one interval of progress.
const SnapshotInterval = time.Minute

// PurgeWorker sweeps the session store on a fixed interval, force-grading or
// aborting sessions whose purge deadline has passed, and periodically
// snapshots the survivors to disk.
type PurgeWorker struct {
	store    *session.Store
	dir      string
	interval time.Duration
	log      zerolog.Logger
}

// NewPurgeWorker creates a PurgeWorker sweeping every interval and writing
// snapshots under dir.
func NewPurgeWorker(store *session.Store, dir string, interval time.Duration, log zerolog.Logger) *PurgeWorker {
	return &PurgeWorker{
		store:    store,
		dir:      dir,
		interval: interval,
		log:      log.With().Str("component", "purge_worker").Logger(),
	}
}

// Start begins the sweep loop. Call in a goroutine; returns when ctx is
// cancelled, after a final snapshot.
func (w *PurgeWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	purgeTicker := time.NewTicker(w.interval)
	defer purgeTicker.Stop()

	snapshotTicker := time.NewTicker(SnapshotInterval)
	defer snapshotTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			if err := w.store.Persist(w.dir); err != nil {
				w.log.Error().Err(err).Msg("Final snapshot failed")
			}
			w.log.Info().Msg("Worker stopped")
			return

		case <-purgeTicker.C:
			purged := w.store.PurgeExpired(ctx)
			if purged > 0 {
				w.log.Info().Int("count", purged).Msg("Purged expired sessions")
			}

		case <-snapshotTicker.C:
			if err := w.store.Persist(w.dir); err != nil {
				w.log.Error().Err(err).Msg("Snapshot failed")
			}
		}
	}
}
