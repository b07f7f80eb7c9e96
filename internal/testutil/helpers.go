package testutil

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"PerpAmm/internal/amm"
	"PerpAmm/internal/clearinghouse"
	"PerpAmm/internal/engine"
	"PerpAmm/internal/event"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/insurance"
	"PerpAmm/internal/ledger"
	"PerpAmm/internal/oracle"
	"PerpAmm/internal/position"
)

// T0 is the fixed start time shared by deterministic tests.
var T0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	MarketID        = "BTC-USD"
	Owner           = "owner"
	ClearingHouseID = "clearinghouse"
)

// Fixture wires one open market with reserves 1000/100 (spot price 10), an
// insurance fund holding 1000 and traders alice and bob holding 10000 each.
// Setup events and journal entries are cleared so tests observe only their
// own commands.
type Fixture struct {
	Amm           *amm.Amm
	Feed          *oracle.StaticFeed
	Book          *ledger.Book
	Fund          *insurance.Fund
	Store         *position.Store
	ClearingHouse *clearinghouse.ClearingHouse
	Recorder      *event.List
	Domain        *engine.Domain
}

func NewFixture(t *testing.T) *Fixture {
	t.Helper()

	rec := &event.List{}
	feed := oracle.NewStaticFeed(fixed.New(10), T0)
	a, err := amm.New(amm.Config{
		Market:                 MarketID,
		Owner:                  Owner,
		Counterparty:           ClearingHouseID,
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
	}, rec, amm.Tick{Block: 0, Now: T0})
	if err != nil {
		t.Fatalf("new amm: %v", err)
	}
	if err := a.SetOpen(Owner, true, amm.Tick{Block: 1, Now: T0}); err != nil {
		t.Fatalf("set open: %v", err)
	}

	book := ledger.NewBook()
	fund := insurance.New(Owner, book)
	if err := fund.AddAmm(Owner, MarketID); err != nil {
		t.Fatalf("register market: %v", err)
	}
	if err := fund.SetBeneficiary(Owner, ClearingHouseID); err != nil {
		t.Fatalf("set beneficiary: %v", err)
	}
	if err := book.Deposit(ledger.InsuranceAccount(MarketID), fixed.New(1000), T0); err != nil {
		t.Fatalf("fund insurance: %v", err)
	}
	for _, trader := range []string{"alice", "bob"} {
		if err := book.Deposit(ledger.TraderAccount(trader), fixed.New(10000), T0); err != nil {
			t.Fatalf("fund %s: %v", trader, err)
		}
	}

	store := position.NewStore()
	ch := clearinghouse.New(ClearingHouseID, Owner, store, book, fund, rec, zerolog.Nop())
	if err := ch.AddMarket(Owner, a, clearinghouse.MarketConfig{
		InitMarginRatio:         fixed.MustFromStr("0.1"),
		MaintenanceMarginRatio:  fixed.MustFromStr("0.0625"),
		LiquidationFeeRatio:     fixed.MustFromStr("0.05"),
		PartialLiquidationRatio: fixed.Zero(),
		MaxHoldingBaseAsset:     fixed.Zero(),
		OpenInterestNotionalCap: fixed.Zero(),
	}); err != nil {
		t.Fatalf("add market: %v", err)
	}

	// setup emits its own events and journal entries; the log starts after
	rec.Events = rec.Events[:0]
	book.DrainJournal()

	return &Fixture{
		Amm:           a,
		Feed:          feed,
		Book:          book,
		Fund:          fund,
		Store:         store,
		ClearingHouse: ch,
		Recorder:      rec,
		Domain: &engine.Domain{
			ClearingHouse: ch,
			Book:          book,
			Fund:          fund,
			Amms:          map[string]*amm.Amm{MarketID: a},
		},
	}
}

// NewEngine attaches an engine to the fixture's domain with fresh output
// channels.
func (f *Fixture) NewEngine(startSequence int64, persistCap, projectCap int) (*engine.Engine, chan engine.Output, chan engine.Output) {
	persist := make(chan engine.Output, persistCap)
	project := make(chan engine.Output, projectCap)
	eng := engine.New(startSequence, f.Domain, f.Recorder, persist, project, nil, zerolog.Nop())
	return eng, persist, project
}

// OpenLong is a canonical long for alice: 60 quote at 10x leverage.
func OpenLong(at time.Time) engine.OpenPosition {
	return engine.OpenPosition{
		Trader:               "alice",
		Market:               MarketID,
		Side:                 clearinghouse.Buy,
		QuoteAssetAmount:     fixed.New(60),
		Leverage:             fixed.New(10),
		BaseAssetAmountLimit: fixed.Zero(),
		At:                   at,
	}
}
