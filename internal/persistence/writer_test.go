package persistence_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"PerpAmm/internal/engine"
	"PerpAmm/internal/event"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/ledger"
	"PerpAmm/internal/persistence"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRowsFromOutput(t *testing.T) {
	stateHash := [32]byte{1}
	prevHash := [32]byte{2}
	envID := uuid.New()
	journalID := uuid.New()

	out := engine.Output{
		Envelopes: []event.Envelope{{
			Sequence:    42,
			EventID:     envID,
			Type:        event.TypePositionChanged,
			Market:      "BTC-USD",
			BlockNumber: 7,
			Timestamp:   t0,
			Payload:     []byte(`{"x":1}`),
			StateHash:   stateHash,
			PrevHash:    prevHash,
		}},
		Journal: []ledger.Transfer{{
			ID:     journalID,
			From:   "trader:alice",
			To:     "vault:BTC-USD",
			Amount: fixed.MustFromStr("60.5"),
			Reason: ledger.ReasonMarginDeposit,
			At:     t0,
		}},
	}

	events, journals := persistence.RowsFromOutput(out)

	if len(events) != 1 {
		t.Fatalf("event rows = %d, want 1", len(events))
	}
	e := events[0]
	if e.Sequence != 42 || e.EventID != envID.String() || e.Market != "BTC-USD" || e.BlockNumber != 7 {
		t.Errorf("event row = %+v", e)
	}
	if e.EventType != event.TypePositionChanged.String() {
		t.Errorf("event type = %s", e.EventType)
	}
	if string(e.StateHash) != string(stateHash[:]) || string(e.PrevHash) != string(prevHash[:]) {
		t.Error("hashes not copied")
	}

	if len(journals) != 1 {
		t.Fatalf("journal rows = %d, want 1", len(journals))
	}
	j := journals[0]
	if j.JournalID != journalID.String() {
		t.Errorf("journal id = %s", j.JournalID)
	}
	if j.Sequence != 42 {
		t.Errorf("journal sequence = %d, want envelope sequence 42", j.Sequence)
	}
	if j.DebitAccount != "trader:alice" || j.CreditAccount != "vault:BTC-USD" {
		t.Errorf("accounts = %s -> %s", j.DebitAccount, j.CreditAccount)
	}
	if j.Amount != fixed.MustFromStr("60.5").String() {
		t.Errorf("amount = %s", j.Amount)
	}
}

func TestRowsFromOutputJournalOnly(t *testing.T) {
	out := engine.Output{
		Journal: []ledger.Transfer{{
			ID:     uuid.New(),
			From:   "external",
			To:     "trader:alice",
			Amount: fixed.New(500),
			Reason: ledger.ReasonExternalDeposit,
			At:     t0,
		}},
	}

	events, journals := persistence.RowsFromOutput(out)
	if len(events) != 0 {
		t.Fatalf("event rows = %d, want 0", len(events))
	}
	if len(journals) != 1 {
		t.Fatalf("journal rows = %d, want 1", len(journals))
	}
	if journals[0].Sequence != -1 {
		t.Errorf("journal sequence = %d, want -1 for event-less command", journals[0].Sequence)
	}
}
