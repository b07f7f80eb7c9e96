package amm

import (
	"time"

	"PerpAmm/internal/fixed"
)

// GetTwapPrice time-weights the mark price over snapshots in
// [tick.Now-interval, tick.Now]. Interval zero returns the spot price.
func (a *Amm) GetTwapPrice(interval time.Duration, tick Tick) fixed.Dec {
	price, _ := a.calcTwap(interval, tick, func(s ReserveSnapshot) (fixed.Dec, error) {
		return fixed.DivD(s.QuoteAssetReserve, s.BaseAssetReserve), nil
	})
	return price
}

// GetInputTwap time-weights the simulated base amount of a quote-denominated
// swap across each historical reserve pair.
func (a *Amm) GetInputTwap(dir Direction, quoteAssetAmount fixed.Dec, tick Tick) (fixed.Dec, error) {
	return a.calcTwap(swapTwapInterval, tick, func(s ReserveSnapshot) (fixed.Dec, error) {
		return getInputPriceWithReserves(dir, quoteAssetAmount, s.QuoteAssetReserve, s.BaseAssetReserve)
	})
}

// GetOutputTwap time-weights the simulated quote amount of a base-denominated
// swap across each historical reserve pair.
func (a *Amm) GetOutputTwap(dir Direction, baseAssetAmount fixed.Dec, tick Tick) (fixed.Dec, error) {
	return a.calcTwap(swapTwapInterval, tick, func(s ReserveSnapshot) (fixed.Dec, error) {
		return getOutputPriceWithReserves(dir, baseAssetAmount, s.QuoteAssetReserve, s.BaseAssetReserve)
	})
}

// The walk starts at the newest snapshot and moves backward. Each snapshot's
// value is weighted by the time until the next newer snapshot, so a snapshot
// taken exactly at tick.Now carries zero weight. When the history is shorter
// than the interval, the average covers only the elapsed history.
func (a *Amm) calcTwap(interval time.Duration, tick Tick, value func(ReserveSnapshot) (fixed.Dec, error)) (fixed.Dec, error) {
	latest := a.reserveSnapshots[len(a.reserveSnapshots)-1]
	latestValue, err := value(latest)
	if err != nil {
		return fixed.Dec{}, err
	}
	if interval == 0 {
		return latestValue, nil
	}
	baseTimestamp := tick.Now.Add(-interval)
	if len(a.reserveSnapshots) == 1 || !latest.Timestamp.After(baseTimestamp) {
		return latestValue, nil
	}

	previousTs := tick.Now
	weighted := fixed.Zero()
	denominator := secondsDec(interval)
	for i := len(a.reserveSnapshots) - 1; ; i-- {
		snap := a.reserveSnapshots[i]
		v, err := value(snap)
		if err != nil {
			return fixed.Dec{}, err
		}
		if !snap.Timestamp.After(baseTimestamp) {
			weighted = weighted.Add(fixed.MulD(v, secondsDec(previousTs.Sub(baseTimestamp))))
			break
		}
		weighted = weighted.Add(fixed.MulD(v, secondsDec(previousTs.Sub(snap.Timestamp))))
		if i == 0 {
			denominator = secondsDec(tick.Now.Sub(snap.Timestamp))
			break
		}
		previousTs = snap.Timestamp
	}
	return fixed.DivD(weighted, denominator), nil
}

func secondsDec(d time.Duration) fixed.Dec {
	return fixed.New(int64(d / time.Second))
}
