package oracle

import (
	"sync"
	"time"

	"PerpAmm/internal/fixed"
)

// PriceFeed supplies the underlying index price for one market. Implementations
// must be safe for concurrent reads; the funding path reads all three methods
// at one logical instant so a feed should update them together.
type PriceFeed interface {
	CurrentPrice() fixed.Dec
	TwapPrice(interval time.Duration) fixed.Dec
	LatestTimestamp() time.Time
}

// sample is one observed index price.
type sample struct {
	price fixed.Dec
	ts    time.Time
}

// Feed is a PriceFeed fed by an external source (the NATS price subscriber in
// production). It keeps a bounded window of samples for TWAP queries.
type Feed struct {
	mu      sync.RWMutex
	samples []sample
	maxAge  time.Duration
}

// NewFeed returns a Feed retaining samples for at least maxAge.
func NewFeed(maxAge time.Duration) *Feed {
	return &Feed{maxAge: maxAge}
}

// Update records a new index price observation. Out-of-order updates are
// dropped.
func (f *Feed) Update(price fixed.Dec, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := len(f.samples); n > 0 && !ts.After(f.samples[n-1].ts) {
		return
	}
	f.samples = append(f.samples, sample{price: price, ts: ts})
	cutoff := ts.Add(-f.maxAge)
	trim := 0
	for trim < len(f.samples)-1 && f.samples[trim+1].ts.Before(cutoff) {
		trim++
	}
	f.samples = f.samples[trim:]
}

func (f *Feed) CurrentPrice() fixed.Dec {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.samples) == 0 {
		return fixed.Zero()
	}
	return f.samples[len(f.samples)-1].price
}

func (f *Feed) LatestTimestamp() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.samples) == 0 {
		return time.Time{}
	}
	return f.samples[len(f.samples)-1].ts
}

// TwapPrice time-weights samples over [latest-interval, latest]. A feed with a
// single sample returns that sample's price.
func (f *Feed) TwapPrice(interval time.Duration) fixed.Dec {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := len(f.samples)
	if n == 0 {
		return fixed.Zero()
	}
	latest := f.samples[n-1]
	if interval == 0 || n == 1 {
		return latest.price
	}
	now := latest.ts
	base := now.Add(-interval)
	weighted := fixed.Zero()
	prevTs := now
	for i := n - 1; ; i-- {
		s := f.samples[i]
		if !s.ts.After(base) || i == 0 {
			w := fixed.New(int64(prevTs.Sub(base) / time.Second))
			weighted = weighted.Add(fixed.MulD(s.price, w))
			break
		}
		w := fixed.New(int64(prevTs.Sub(s.ts) / time.Second))
		weighted = weighted.Add(fixed.MulD(s.price, w))
		prevTs = s.ts
	}
	return fixed.DivD(weighted, fixed.New(int64(interval/time.Second)))
}

// StaticFeed is a deterministic PriceFeed for tests and simulations.
type StaticFeed struct {
	mu   sync.RWMutex
	spot fixed.Dec
	twap fixed.Dec
	ts   time.Time
}

// NewStaticFeed returns a feed reporting price for both spot and TWAP.
func NewStaticFeed(price fixed.Dec, ts time.Time) *StaticFeed {
	return &StaticFeed{spot: price, twap: price, ts: ts}
}

// Set replaces spot and TWAP together.
func (s *StaticFeed) Set(price fixed.Dec, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spot = price
	s.twap = price
	s.ts = ts
}

// SetTwap overrides only the reported TWAP.
func (s *StaticFeed) SetTwap(price fixed.Dec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.twap = price
}

func (s *StaticFeed) CurrentPrice() fixed.Dec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spot
}

func (s *StaticFeed) TwapPrice(time.Duration) fixed.Dec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.twap
}

func (s *StaticFeed) LatestTimestamp() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ts
}
