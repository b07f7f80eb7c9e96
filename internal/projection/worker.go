package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"PerpAmm/internal/engine"
	"PerpAmm/internal/event"
	"PerpAmm/internal/fixed"
)

// Worker updates projections from the engine's projection channel. The
// channel is non-blocking with drop, so projections are eventually
// consistent; anything missed is rebuilt from the event log.
type Worker struct {
	db      *sql.DB
	input   <-chan engine.Output
	history *FundingHistory
	lastSeq int64
	log     zerolog.Logger
}

func NewWorker(db *sql.DB, input <-chan engine.Output, history *FundingHistory, log zerolog.Logger) *Worker {
	return &Worker{db: db, input: input, history: history, log: log}
}

// Run consumes outputs until the context is cancelled or the channel
// closes. Projection failures are logged and skipped.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-w.input:
			if !ok {
				return nil
			}
			for _, env := range out.Envelopes {
				if err := w.processEnvelope(ctx, env); err != nil {
					w.log.Warn().Err(err).Int64("sequence", env.Sequence).
						Str("type", env.Type.String()).Msg("projection update failed")
				}
				w.lastSeq = env.Sequence
			}
		}
	}
}

func (w *Worker) processEnvelope(ctx context.Context, env event.Envelope) error {
	if env.Type != event.TypeFundingRateUpdated {
		return nil
	}

	var payload event.FundingRateUpdated
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("decode funding payload: %w", err)
	}

	entry := FundingEntry{
		Sequence:        env.Sequence,
		Market:          env.Market,
		FundingRate:     payload.Rate,
		UnderlyingPrice: payload.UnderlyingPrice,
		BlockNumber:     env.BlockNumber,
		SettledAt:       env.Timestamp,
	}
	if w.history != nil {
		w.history.Add(entry)
	}
	if w.db == nil {
		return nil
	}

	_, err := w.db.ExecContext(ctx, `
		INSERT INTO projections.funding_history
			(sequence, market, funding_rate, underlying_price, block_number, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO NOTHING
	`, entry.Sequence, entry.Market, entry.FundingRate.String(),
		entry.UnderlyingPrice.String(), entry.BlockNumber, entry.SettledAt)
	return err
}

// Rebuild reloads the in-memory funding history from the durable
// projection, newest last.
func (w *Worker) Rebuild(ctx context.Context, market string, limit int) error {
	if w.db == nil || w.history == nil {
		return nil
	}
	if limit <= 0 {
		limit = defaultFundingKeep
	}
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, market, funding_rate, underlying_price, block_number, settled_at
		FROM (
			SELECT * FROM projections.funding_history
			WHERE market = $1
			ORDER BY sequence DESC
			LIMIT $2
		) recent
		ORDER BY sequence ASC
	`, market, limit)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var entry FundingEntry
		var rate, price string
		if err := rows.Scan(&entry.Sequence, &entry.Market, &rate, &price,
			&entry.BlockNumber, &entry.SettledAt); err != nil {
			return err
		}
		if entry.FundingRate, err = fixed.FromStr(rate); err != nil {
			return err
		}
		if entry.UnderlyingPrice, err = fixed.FromStr(price); err != nil {
			return err
		}
		w.history.Add(entry)
	}
	return rows.Err()
}
