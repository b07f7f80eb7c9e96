// Package liquidator is the keeper bot surface. It scans for positions below
// maintenance margin and closes them in batches with per-trader fault
// isolation.
package liquidator

import (
	"github.com/rs/zerolog"

	"PerpAmm/internal/amm"
	"PerpAmm/internal/clearinghouse"
	"PerpAmm/internal/event"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/position"
)

type Liquidator struct {
	ch        *clearinghouse.ClearingHouse
	positions *position.Store
	rec       event.Recorder
	log       zerolog.Logger
}

func New(ch *clearinghouse.ClearingHouse, positions *position.Store, rec event.Recorder, log zerolog.Logger) *Liquidator {
	return &Liquidator{ch: ch, positions: positions, rec: rec, log: log}
}

// IsLiquidatable reports, per input trader, whether the position is below
// maintenance margin. Read-only; traders with no position report false.
func (l *Liquidator) IsLiquidatable(marketID string, traders []string, tick amm.Tick) []bool {
	out := make([]bool, len(traders))
	for i, trader := range traders {
		ok, err := l.ch.IsLiquidatable(marketID, trader, tick)
		out[i] = err == nil && ok
	}
	return out
}

// Scan returns every liquidatable trader in the market.
func (l *Liquidator) Scan(marketID string, tick amm.Tick) []string {
	traders := l.positions.Traders(marketID)
	flags := l.IsLiquidatable(marketID, traders, tick)
	var out []string
	for i, ok := range flags {
		if ok {
			out = append(out, traders[i])
		}
	}
	return out
}

// Liquidate attempts each trader in order. One trader's failure does not
// stop the batch; outcomes are collected into a single LiquidationBatch
// event. Note the clearing house's restriction mode: after the first
// successful liquidation the rest of the batch fails until the next block.
func (l *Liquidator) Liquidate(liquidator, marketID string, traders []string, tick amm.Tick) []event.BatchOutcome {
	outcomes := make([]event.BatchOutcome, 0, len(traders))
	for _, trader := range traders {
		_, err := l.ch.Liquidate(liquidator, trader, marketID, tick)
		outcome := event.BatchOutcome{Trader: trader, OK: err == nil}
		if err != nil {
			outcome.Error = err.Error()
			l.log.Debug().Err(err).Str("trader", trader).Str("market", marketID).Msg("liquidation failed")
		} else {
			l.log.Info().Str("trader", trader).Str("market", marketID).Msg("liquidated")
		}
		outcomes = append(outcomes, outcome)
	}
	l.rec.Record(&event.LiquidationBatch{Market: marketID, Liquidator: liquidator, Outcomes: outcomes})
	return outcomes
}

// SingleLiquidate liquidates one trader with a slippage bound.
func (l *Liquidator) SingleLiquidate(liquidator, trader, marketID string, quoteAssetAmountLimit fixed.Dec, tick amm.Tick) (*event.PositionLiquidated, error) {
	return l.ch.LiquidateWithSlippage(liquidator, trader, marketID, quoteAssetAmountLimit, tick)
}
