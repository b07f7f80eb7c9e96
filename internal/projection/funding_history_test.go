package projection_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpAmm/internal/engine"
	"PerpAmm/internal/event"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/projection"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const marketID = "BTC-USD"

func entry(seq int64, rate string) projection.FundingEntry {
	return projection.FundingEntry{
		Sequence:        seq,
		Market:          marketID,
		FundingRate:     fixed.MustFromStr(rate),
		UnderlyingPrice: fixed.New(10),
		BlockNumber:     seq,
		SettledAt:       t0.Add(time.Duration(seq) * time.Hour),
	}
}

// ==== in-memory ring ====

func TestFundingHistoryLatest(t *testing.T) {
	h := projection.NewFundingHistory(4)

	if _, ok := h.Latest(marketID); ok {
		t.Fatal("empty history reported an entry")
	}

	h.Add(entry(1, "0.001"))
	h.Add(entry(2, "0.002"))

	latest, ok := h.Latest(marketID)
	if !ok {
		t.Fatal("no latest entry")
	}
	if latest.Sequence != 2 || !latest.FundingRate.Equal(fixed.MustFromStr("0.002")) {
		t.Fatalf("latest = %+v", latest)
	}
}

func TestFundingHistoryRecentNewestFirst(t *testing.T) {
	h := projection.NewFundingHistory(8)
	for seq := int64(1); seq <= 5; seq++ {
		h.Add(entry(seq, "0.001"))
	}

	recent := h.Recent(marketID, 3)
	if len(recent) != 3 {
		t.Fatalf("recent = %d entries, want 3", len(recent))
	}
	if recent[0].Sequence != 5 || recent[1].Sequence != 4 || recent[2].Sequence != 3 {
		t.Fatalf("order = %d,%d,%d", recent[0].Sequence, recent[1].Sequence, recent[2].Sequence)
	}
}

func TestFundingHistoryBounded(t *testing.T) {
	h := projection.NewFundingHistory(3)
	for seq := int64(1); seq <= 10; seq++ {
		h.Add(entry(seq, "0.001"))
	}

	recent := h.Recent(marketID, 100)
	if len(recent) != 3 {
		t.Fatalf("kept %d entries, want 3", len(recent))
	}
	if recent[len(recent)-1].Sequence != 8 {
		t.Fatalf("oldest kept = %d, want 8", recent[len(recent)-1].Sequence)
	}
}

func TestFundingHistoryPerMarket(t *testing.T) {
	h := projection.NewFundingHistory(4)
	h.Add(entry(1, "0.001"))

	if len(h.Recent("ETH-USD", 10)) != 0 {
		t.Error("entries leaked across markets")
	}
}

// ==== worker ====

func TestWorkerProjectsFundingEvents(t *testing.T) {
	history := projection.NewFundingHistory(8)
	input := make(chan engine.Output, 4)
	w := projection.NewWorker(nil, input, history, zerolog.Nop())

	payload, err := json.Marshal(event.FundingRateUpdated{
		Rate:            fixed.MustFromStr("0.0125"),
		UnderlyingPrice: fixed.New(10),
	})
	if err != nil {
		t.Fatal(err)
	}

	input <- engine.Output{Envelopes: []event.Envelope{
		{
			Sequence:    3,
			EventID:     uuid.New(),
			Type:        event.TypeSwapInput,
			Market:      marketID,
			BlockNumber: 2,
			Timestamp:   t0,
			Payload:     []byte(`{}`),
		},
		{
			Sequence:    4,
			EventID:     uuid.New(),
			Type:        event.TypeFundingRateUpdated,
			Market:      marketID,
			BlockNumber: 2,
			Timestamp:   t0,
			Payload:     payload,
		},
	}}
	close(input)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	latest, ok := history.Latest(marketID)
	if !ok {
		t.Fatal("funding event not projected")
	}
	if latest.Sequence != 4 || latest.BlockNumber != 2 {
		t.Fatalf("entry = %+v", latest)
	}
	if !latest.FundingRate.Equal(fixed.MustFromStr("0.0125")) {
		t.Fatalf("rate = %s", latest.FundingRate)
	}
	if len(history.Recent(marketID, 10)) != 1 {
		t.Error("non-funding envelope was projected")
	}
}
