package projection

import (
	"sync"
	"time"

	"PerpAmm/internal/fixed"
)

// FundingEntry is one settled funding period for a market.
type FundingEntry struct {
	Sequence        int64     `json:"sequence"`
	Market          string    `json:"market"`
	FundingRate     fixed.Dec `json:"fundingRate"`
	UnderlyingPrice fixed.Dec `json:"underlyingPrice"`
	BlockNumber     int64     `json:"blockNumber"`
	SettledAt       time.Time `json:"settledAt"`
}

// FundingHistory keeps recent funding settlements in memory for the query
// API. The durable copy lives in projections.funding_history; this buffer
// answers latest-rate queries without a DB round trip.
type FundingHistory struct {
	mu      sync.RWMutex
	entries map[string][]FundingEntry
	keep    int
}

const defaultFundingKeep = 256

func NewFundingHistory(keep int) *FundingHistory {
	if keep <= 0 {
		keep = defaultFundingKeep
	}
	return &FundingHistory{entries: make(map[string][]FundingEntry), keep: keep}
}

func (h *FundingHistory) Add(entry FundingEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.entries[entry.Market], entry)
	if len(list) > h.keep {
		list = list[len(list)-h.keep:]
	}
	h.entries[entry.Market] = list
}

// Latest returns the most recent settlement for the market, if any.
func (h *FundingHistory) Latest(market string) (FundingEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := h.entries[market]
	if len(list) == 0 {
		return FundingEntry{}, false
	}
	return list[len(list)-1], true
}

// Recent returns up to limit settlements for the market, newest first.
func (h *FundingHistory) Recent(market string, limit int) []FundingEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := h.entries[market]
	out := make([]FundingEntry, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out
}
