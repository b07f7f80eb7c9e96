package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"PerpAmm/internal/engine"
	"PerpAmm/internal/observability"
)

// Worker drains the engine's persist channel and batch-writes to Postgres.
// The engine sends on this channel with a blocking send, so when the worker
// falls behind the engine stalls instead of losing events.
type Worker struct {
	writer       *EventLogWriter
	input        <-chan engine.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	input <-chan engine.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches incoming outputs and flushes when the batch fills or the
// flush timeout expires. Blocks until ctx is cancelled or the input channel
// closes; either way the pending batch is flushed first.
func (w *Worker) Run(ctx context.Context) error {
	eventBatch := make([]EventRow, 0, w.batchSize)
	journalBatch := make([]JournalRow, 0, w.batchSize*4)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	flushAll := func(flushCtx context.Context) {
		if len(eventBatch) == 0 && len(journalBatch) == 0 {
			return
		}
		if err := w.flushWithRetry(flushCtx, eventBatch, journalBatch); err != nil {
			w.log.Error().Err(err).Int("events", len(eventBatch)).Msg("flush failed")
		}
		eventBatch = eventBatch[:0]
		journalBatch = journalBatch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flushAll(context.Background())
			return ctx.Err()

		case out, ok := <-w.input:
			if !ok {
				flushAll(context.Background())
				return nil
			}
			events, journals := RowsFromOutput(out)
			eventBatch = append(eventBatch, events...)
			journalBatch = append(journalBatch, journals...)

			if len(eventBatch) >= w.batchSize {
				flushAll(ctx)
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			flushAll(ctx)
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops a
// batch: it retries until the write succeeds or the context is cancelled,
// and on cancellation attempts one last flush with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, events []EventRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("events", len(events)).Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return w.flush(context.Background(), events, journals)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, events, journals); err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
	}
}

// flush writes events and journals in one transaction.
func (w *Worker) flush(ctx context.Context, events []EventRow, journals []JournalRow) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, events); err != nil {
		w.countError("write_events")
		return err
	}
	if err := w.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		w.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDuration.Observe(time.Since(start).Seconds())
		w.metrics.PersistEventsWritten.Add(float64(len(events)))
		w.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		if len(events) > 0 {
			w.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
		}
	}
	return nil
}

func (w *Worker) countError(op string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(op).Inc()
	}
}

// Writer exposes the underlying writer for replay and chain-tip queries.
func (w *Worker) Writer() *EventLogWriter { return w.writer }
