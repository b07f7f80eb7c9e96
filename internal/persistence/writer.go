package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PerpAmm/internal/engine"
)

// EventLogWriter batch-writes event envelopes and journal entries to
// Postgres using multi-row INSERT. Switch to pgx CopyFrom if insert
// throughput ever becomes the bottleneck.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is one row in event_log.events.
type EventRow struct {
	Sequence    int64
	EventID     string
	EventType   string
	Market      string
	BlockNumber int64
	Payload     []byte
	StateHash   []byte
	PrevHash    []byte
	Timestamp   time.Time
}

// JournalRow is one row in event_log.journal. Amounts are stored as decimal
// strings to keep full 18-decimal precision.
type JournalRow struct {
	JournalID     string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Amount        string
	Reason        string
	Timestamp     time.Time
}

// RowsFromOutput flattens one engine output into insertable rows. Journal
// entries carry the sequence of the first envelope of the command so they
// can be correlated back to the event log; commands that move balances
// without emitting events get sequence -1.
func RowsFromOutput(out engine.Output) ([]EventRow, []JournalRow) {
	events := make([]EventRow, 0, len(out.Envelopes))
	for _, env := range out.Envelopes {
		events = append(events, EventRow{
			Sequence:    env.Sequence,
			EventID:     env.EventID.String(),
			EventType:   env.Type.String(),
			Market:      env.Market,
			BlockNumber: env.BlockNumber,
			Payload:     env.Payload,
			StateHash:   env.StateHash[:],
			PrevHash:    env.PrevHash[:],
			Timestamp:   env.Timestamp,
		})
	}

	var commandSeq int64 = -1
	if len(out.Envelopes) > 0 {
		commandSeq = out.Envelopes[0].Sequence
	}
	journals := make([]JournalRow, 0, len(out.Journal))
	for _, t := range out.Journal {
		journals = append(journals, JournalRow{
			JournalID:     t.ID.String(),
			Sequence:      commandSeq,
			DebitAccount:  t.From,
			CreditAccount: t.To,
			Amount:        t.Amount.String(),
			Reason:        t.Reason,
			Timestamp:     t.At,
		})
	}
	return events, journals
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch inserts a batch of envelopes. Conflicting sequences are
// skipped so a replay after a partial flush stays idempotent.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_id, event_type, market, block_number, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)
	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventID, e.EventType, e.Market, e.BlockNumber,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch inserts a batch of journal entries.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, sequence, debit_account, credit_account, amount, reason, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*7)
	for i, j := range journals {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			j.JournalID, j.Sequence, j.DebitAccount, j.CreditAccount,
			j.Amount, j.Reason, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LoadEventsFrom reads envelopes from the log in sequence order, for replay
// and projection rebuilds.
func (w *EventLogWriter) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, market, block_number, payload, state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventID, &e.EventType, &e.Market, &e.BlockNumber,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ChainTip returns the highest sequence and its state hash, or (-1, nil) on
// an empty log.
func (w *EventLogWriter) ChainTip(ctx context.Context) (int64, []byte, error) {
	var seq int64
	var hash []byte
	err := w.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash FROM event_log.events
		ORDER BY sequence DESC LIMIT 1
	`).Scan(&seq, &hash)
	if err == sql.ErrNoRows {
		return -1, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return seq, hash, nil
}
