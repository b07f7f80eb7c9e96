package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PerpAmm/internal/amm"
	"PerpAmm/internal/clearinghouse"
	"PerpAmm/internal/engine"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/position"
)

// SnapshotManager stores and loads full-state snapshots for warm restart.
// Commands are the only write path, so recovery is snapshot restore: reseat
// the domain from the latest snapshot and continue the chain from its tip.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized in-memory state at one point in the chain.
// All decimals are stored as strings to keep 18-decimal precision intact.
type SnapshotData struct {
	Sequence  int64     `json:"sequence"`
	Block     int64     `json:"block"`
	StateHash []byte    `json:"state_hash"`
	CreatedAt time.Time `json:"created_at"`

	Balances  map[string]string  `json:"balances"`
	Positions []PositionSnapshot `json:"positions"`
	Markets   []MarketSnapshot   `json:"markets"`
}

// PositionSnapshot is one trader's position in one market.
type PositionSnapshot struct {
	Market                               string `json:"market"`
	Trader                               string `json:"trader"`
	Size                                 string `json:"size"`
	Margin                               string `json:"margin"`
	OpenNotional                         string `json:"open_notional"`
	LastUpdatedCumulativePremiumFraction string `json:"last_updated_cumulative_premium_fraction"`
	BlockNumber                          int64  `json:"block_number"`
}

// MarketSnapshot is one market's pool and funding state.
type MarketSnapshot struct {
	Market                          string    `json:"market"`
	QuoteAssetReserve               string    `json:"quote_asset_reserve"`
	BaseAssetReserve                string    `json:"base_asset_reserve"`
	TotalPositionSize               string    `json:"total_position_size"`
	NextFundingTime                 time.Time `json:"next_funding_time"`
	OpenInterestNotional            string    `json:"open_interest_notional"`
	LastRestrictionBlock            int64     `json:"last_restriction_block"`
	LongCumulativePremiumFractions  []string  `json:"long_cumulative_premium_fractions"`
	ShortCumulativePremiumFractions []string  `json:"short_cumulative_premium_fractions"`
}

// BuildSnapshot captures the domain and chain state. Call from the engine
// goroutine, or with the engine idle.
func BuildSnapshot(eng *engine.Engine, d *engine.Domain, store *position.Store, now time.Time) *SnapshotData {
	tip := eng.StateHash()
	snap := &SnapshotData{
		Sequence:  eng.Sequence(),
		Block:     eng.Block(),
		StateHash: tip[:],
		CreatedAt: now,
		Balances:  make(map[string]string),
	}

	for account, bal := range d.Book.Balances() {
		snap.Balances[account] = bal.String()
	}

	for marketID := range d.Amms {
		for _, trader := range store.Traders(marketID) {
			p := store.Get(marketID, trader)
			snap.Positions = append(snap.Positions, PositionSnapshot{
				Market:                               marketID,
				Trader:                               trader,
				Size:                                 p.Size.String(),
				Margin:                               p.Margin.String(),
				OpenNotional:                         p.OpenNotional.String(),
				LastUpdatedCumulativePremiumFraction: p.LastUpdatedCumulativePremiumFraction.String(),
				BlockNumber:                          p.BlockNumber,
			})
		}
	}

	for _, ms := range d.ClearingHouse.SnapshotMarkets() {
		a := d.Amms[ms.Market]
		m := MarketSnapshot{
			Market:               ms.Market,
			OpenInterestNotional: ms.OpenInterestNotional.String(),
			LastRestrictionBlock: ms.LastRestrictionBlock,
		}
		if a != nil {
			m.QuoteAssetReserve = a.QuoteAssetReserve().String()
			m.BaseAssetReserve = a.BaseAssetReserve().String()
			m.TotalPositionSize = a.TotalPositionSize().String()
			m.NextFundingTime = a.NextFundingTime()
		}
		for _, f := range ms.LongCumulativePremiumFractions {
			m.LongCumulativePremiumFractions = append(m.LongCumulativePremiumFractions, f.String())
		}
		for _, f := range ms.ShortCumulativePremiumFractions {
			m.ShortCumulativePremiumFractions = append(m.ShortCumulativePremiumFractions, f.String())
		}
		snap.Markets = append(snap.Markets, m)
	}
	return snap
}

// ApplySnapshot reseats the domain and chain from a snapshot. owner must be
// the amm/clearing-house owner; call before the engine starts.
func ApplySnapshot(snap *SnapshotData, eng *engine.Engine, d *engine.Domain, store *position.Store, owner string) error {
	balances := make(map[string]fixed.Dec, len(snap.Balances))
	for account, s := range snap.Balances {
		bal, err := fixed.FromStr(s)
		if err != nil {
			return fmt.Errorf("balance %s: %w", account, err)
		}
		balances[account] = bal
	}
	d.Book.SetBalances(balances)

	for _, ps := range snap.Positions {
		p, err := decodePosition(ps)
		if err != nil {
			return fmt.Errorf("position %s/%s: %w", ps.Market, ps.Trader, err)
		}
		store.Set(ps.Market, ps.Trader, p)
	}

	tick := amm.Tick{Block: snap.Block, Now: snap.CreatedAt}
	for _, ms := range snap.Markets {
		a, ok := d.Amms[ms.Market]
		if !ok {
			return fmt.Errorf("market %s: no amm configured", ms.Market)
		}
		quote, err := fixed.FromStr(ms.QuoteAssetReserve)
		if err != nil {
			return fmt.Errorf("market %s quote reserve: %w", ms.Market, err)
		}
		base, err := fixed.FromStr(ms.BaseAssetReserve)
		if err != nil {
			return fmt.Errorf("market %s base reserve: %w", ms.Market, err)
		}
		size, err := fixed.FromStr(ms.TotalPositionSize)
		if err != nil {
			return fmt.Errorf("market %s position size: %w", ms.Market, err)
		}
		if err := a.RestoreReserves(owner, quote, base, size, ms.NextFundingTime, tick); err != nil {
			return fmt.Errorf("market %s reserves: %w", ms.Market, err)
		}

		chSnap, err := decodeMarketState(ms)
		if err != nil {
			return fmt.Errorf("market %s: %w", ms.Market, err)
		}
		if err := d.ClearingHouse.RestoreMarket(owner, chSnap); err != nil {
			return fmt.Errorf("market %s state: %w", ms.Market, err)
		}
	}

	var tip [32]byte
	copy(tip[:], snap.StateHash)
	eng.RestoreChain(snap.Sequence, snap.Block, tip)
	return nil
}

func decodePosition(ps PositionSnapshot) (position.Position, error) {
	var p position.Position
	var err error
	if p.Size, err = fixed.FromStr(ps.Size); err != nil {
		return p, err
	}
	if p.Margin, err = fixed.FromStr(ps.Margin); err != nil {
		return p, err
	}
	if p.OpenNotional, err = fixed.FromStr(ps.OpenNotional); err != nil {
		return p, err
	}
	if p.LastUpdatedCumulativePremiumFraction, err = fixed.FromStr(ps.LastUpdatedCumulativePremiumFraction); err != nil {
		return p, err
	}
	p.BlockNumber = ps.BlockNumber
	return p, nil
}

func decodeMarketState(ms MarketSnapshot) (clearinghouse.MarketSnapshot, error) {
	oi, err := fixed.FromStr(ms.OpenInterestNotional)
	if err != nil {
		return clearinghouse.MarketSnapshot{}, err
	}
	out := clearinghouse.MarketSnapshot{
		Market:               ms.Market,
		OpenInterestNotional: oi,
		LastRestrictionBlock: ms.LastRestrictionBlock,
	}
	for _, s := range ms.LongCumulativePremiumFractions {
		f, err := fixed.FromStr(s)
		if err != nil {
			return out, err
		}
		out.LongCumulativePremiumFractions = append(out.LongCumulativePremiumFractions, f)
	}
	for _, s := range ms.ShortCumulativePremiumFractions {
		f, err := fixed.FromStr(s)
		if err != nil {
			return out, err
		}
		out.ShortCumulativePremiumFractions = append(out.ShortCumulativePremiumFractions, f)
	}
	return out, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists one snapshot, keyed by sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $5
	`, uuid.New(), snap.Sequence, data, snap.StateHash, len(data), snap.CreatedAt)
	return err
}

// LoadLatestSnapshot loads the most recent snapshot, or nil on cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
