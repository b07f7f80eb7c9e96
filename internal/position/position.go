package position

import (
	"PerpAmm/internal/fixed"
)

// Position is one trader's exposure in one market. Size is signed base,
// positive for longs. OpenNotional is the quote value recorded at open, the
// PnL reference point.
type Position struct {
	Size                                 fixed.Dec
	Margin                               fixed.Dec
	OpenNotional                         fixed.Dec
	LastUpdatedCumulativePremiumFraction fixed.Dec

	// BlockNumber of the last mutation
	BlockNumber int64
}

// Empty is the sentinel for a closed position: size zero forces margin and
// openNotional to zero.
func (p Position) Empty() bool { return p.Size.IsZero() }

func emptyPosition() Position {
	return Position{
		Size:                                 fixed.Zero(),
		Margin:                               fixed.Zero(),
		OpenNotional:                         fixed.Zero(),
		LastUpdatedCumulativePremiumFraction: fixed.Zero(),
	}
}

// Store holds all positions, keyed by market then trader. Single-writer,
// owned by the clearing house.
type Store struct {
	positions map[string]map[string]Position
}

func NewStore() *Store {
	return &Store{positions: make(map[string]map[string]Position)}
}

// Get returns the trader's position, or a zeroed sentinel if none exists.
func (s *Store) Get(market, trader string) Position {
	if m, ok := s.positions[market]; ok {
		if p, ok := m[trader]; ok {
			return p
		}
	}
	return emptyPosition()
}

// Set stores the position. An empty position is removed instead, keeping the
// sentinel invariant.
func (s *Store) Set(market, trader string, p Position) {
	if p.Empty() {
		s.Clear(market, trader)
		return
	}
	m, ok := s.positions[market]
	if !ok {
		m = make(map[string]Position)
		s.positions[market] = m
	}
	m[trader] = p
}

// Clear zeroes the trader's position.
func (s *Store) Clear(market, trader string) {
	if m, ok := s.positions[market]; ok {
		delete(m, trader)
	}
}

// Count returns the number of open positions in the market.
func (s *Store) Count(market string) int {
	return len(s.positions[market])
}

// Traders returns the traders with an open position in the market, in no
// particular order.
func (s *Store) Traders(market string) []string {
	m := s.positions[market]
	out := make([]string, 0, len(m))
	for trader := range m {
		out = append(out, trader)
	}
	return out
}
