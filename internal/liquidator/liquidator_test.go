package liquidator_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"PerpAmm/internal/amm"
	"PerpAmm/internal/clearinghouse"
	"PerpAmm/internal/event"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/insurance"
	"PerpAmm/internal/ledger"
	"PerpAmm/internal/liquidator"
	"PerpAmm/internal/oracle"
	"PerpAmm/internal/position"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const marketID = "BTC-USD"

func tick(block int64, offset time.Duration) amm.Tick {
	return amm.Tick{Block: block, Now: t0.Add(offset)}
}

func newHarness(t *testing.T) (*liquidator.Liquidator, *clearinghouse.ClearingHouse, *event.List) {
	t.Helper()
	rec := &event.List{}
	feed := oracle.NewStaticFeed(fixed.New(10), t0)
	a, err := amm.New(amm.Config{
		Market:                 marketID,
		Owner:                  "owner",
		Counterparty:           "clearinghouse",
		QuoteAssetReserve:      fixed.New(1000),
		BaseAssetReserve:       fixed.New(100),
		TradeLimitRatio:        fixed.MustFromStr("0.9"),
		FluctuationLimitRatio:  fixed.Zero(),
		TollRatio:              fixed.Zero(),
		SpreadRatio:            fixed.Zero(),
		FundingPeriod:          time.Hour,
		SpotPriceTwapInterval:  time.Hour,
		FundingCostCoverRate:   fixed.MustFromStr("0.5"),
		FundingRevenueTakeRate: fixed.MustFromStr("0.5"),
		PriceFeed:              feed,
	}, rec, tick(0, 0))
	if err != nil {
		t.Fatalf("new amm: %v", err)
	}
	if err := a.SetOpen("owner", true, tick(1, 0)); err != nil {
		t.Fatalf("set open: %v", err)
	}

	book := ledger.NewBook()
	fund := insurance.New("owner", book)
	if err := fund.AddAmm("owner", marketID); err != nil {
		t.Fatal(err)
	}
	if err := fund.SetBeneficiary("owner", "clearinghouse"); err != nil {
		t.Fatal(err)
	}
	if err := book.Deposit(ledger.InsuranceAccount(marketID), fixed.New(1000), t0); err != nil {
		t.Fatal(err)
	}
	for _, trader := range []string{"alice", "bob"} {
		if err := book.Deposit(ledger.TraderAccount(trader), fixed.New(10000), t0); err != nil {
			t.Fatal(err)
		}
	}

	store := position.NewStore()
	ch := clearinghouse.New("clearinghouse", "owner", store, book, fund, rec, zerolog.Nop())
	if err := ch.AddMarket("owner", a, clearinghouse.MarketConfig{
		InitMarginRatio:         fixed.MustFromStr("0.1"),
		MaintenanceMarginRatio:  fixed.MustFromStr("0.065"),
		LiquidationFeeRatio:     fixed.MustFromStr("0.05"),
		PartialLiquidationRatio: fixed.Zero(),
		MaxHoldingBaseAsset:     fixed.Zero(),
		OpenInterestNotionalCap: fixed.Zero(),
	}); err != nil {
		t.Fatal(err)
	}
	return liquidator.New(ch, store, rec, zerolog.Nop()), ch, rec
}

func TestScan_FindsUnderwaterPositions(t *testing.T) {
	l, ch, _ := newHarness(t)
	if _, err := ch.OpenPosition("alice", marketID, clearinghouse.Buy,
		fixed.New(60), fixed.New(10), fixed.Zero(), false, tick(1, 0)); err != nil {
		t.Fatalf("alice open: %v", err)
	}
	if _, err := ch.OpenPosition("bob", marketID, clearinghouse.Sell,
		fixed.MustFromStr("3.75"), fixed.New(10), fixed.Zero(), false, tick(1, 0)); err != nil {
		t.Fatalf("bob open: %v", err)
	}

	hits := l.Scan(marketID, tick(2, 20*time.Minute))
	if len(hits) != 1 || hits[0] != "alice" {
		t.Fatalf("scan = %v, want [alice]", hits)
	}
}

func TestIsLiquidatable_OneAnswerPerTrader(t *testing.T) {
	l, ch, _ := newHarness(t)
	if _, err := ch.OpenPosition("alice", marketID, clearinghouse.Buy,
		fixed.New(60), fixed.New(10), fixed.Zero(), false, tick(1, 0)); err != nil {
		t.Fatalf("alice open: %v", err)
	}
	if _, err := ch.OpenPosition("bob", marketID, clearinghouse.Sell,
		fixed.MustFromStr("3.75"), fixed.New(10), fixed.Zero(), false, tick(1, 0)); err != nil {
		t.Fatalf("bob open: %v", err)
	}

	// carol holds no position and reports false rather than being dropped
	flags := l.IsLiquidatable(marketID, []string{"bob", "alice", "carol"}, tick(2, 20*time.Minute))
	want := []bool{false, true, false}
	if len(flags) != len(want) {
		t.Fatalf("flags = %v, want %v", flags, want)
	}
	for i := range want {
		if flags[i] != want[i] {
			t.Fatalf("flags = %v, want %v", flags, want)
		}
	}
}

func TestLiquidate_BatchIsolatesFailures(t *testing.T) {
	l, ch, rec := newHarness(t)
	if _, err := ch.OpenPosition("alice", marketID, clearinghouse.Buy,
		fixed.New(60), fixed.New(10), fixed.Zero(), false, tick(1, 0)); err != nil {
		t.Fatalf("alice open: %v", err)
	}
	if _, err := ch.OpenPosition("bob", marketID, clearinghouse.Sell,
		fixed.MustFromStr("3.75"), fixed.New(10), fixed.Zero(), false, tick(1, 0)); err != nil {
		t.Fatalf("bob open: %v", err)
	}

	// bob is healthy and alice is not; the batch reports both outcomes
	outcomes := l.Liquidate("keeper", marketID, []string{"bob", "alice"}, tick(2, 20*time.Minute))
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	if outcomes[0].OK || outcomes[0].Trader != "bob" {
		t.Fatalf("bob outcome = %+v, want failure", outcomes[0])
	}
	if !outcomes[1].OK || outcomes[1].Trader != "alice" {
		t.Fatalf("alice outcome = %+v, want success", outcomes[1])
	}
	if !ch.Position(marketID, "alice").Empty() {
		t.Fatal("alice should be liquidated")
	}

	var batch *event.LiquidationBatch
	for _, e := range rec.Events {
		if b, ok := e.(*event.LiquidationBatch); ok {
			batch = b
		}
	}
	if batch == nil {
		t.Fatal("no LiquidationBatch event")
	}
	if len(batch.Outcomes) != 2 {
		t.Fatalf("batch outcomes = %d, want 2", len(batch.Outcomes))
	}
}
