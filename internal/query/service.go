package query

import (
	"context"
	"time"

	"PerpAmm/internal/amm"
	"PerpAmm/internal/clearinghouse"
	"PerpAmm/internal/engine"
	"PerpAmm/internal/ledger"
	"PerpAmm/internal/projection"
)

// Service is the read side. Queries run through the engine as read-only
// commands so they see a consistent domain state, serialized with writes.
type Service struct {
	eng     *engine.Engine
	history *projection.FundingHistory
}

func NewService(eng *engine.Engine, history *projection.FundingHistory) *Service {
	return &Service{eng: eng, history: history}
}

func (s *Service) stamp() (int64, int64) {
	return s.eng.Sequence(), s.eng.Block()
}

// MarketState returns the public view of one market.
func (s *Service) MarketState(ctx context.Context, market string) (*MarketStateResponse, error) {
	value, err := s.eng.Submit(ctx, marketStateQuery{market: market, at: time.Now()})
	if err != nil {
		return nil, err
	}
	resp := value.(*MarketStateResponse)
	resp.AsOfSequence, resp.AsOfBlock = s.stamp()
	return resp, nil
}

// Position returns a trader's position with derived notional, pnl and
// margin ratio.
func (s *Service) Position(ctx context.Context, market, trader string) (*PositionResponse, error) {
	value, err := s.eng.Submit(ctx, positionQuery{market: market, trader: trader, at: time.Now()})
	if err != nil {
		return nil, err
	}
	resp := value.(*PositionResponse)
	resp.AsOfSequence, resp.AsOfBlock = s.stamp()
	return resp, nil
}

// Balance returns one ledger account balance.
func (s *Service) Balance(ctx context.Context, account string) (*BalanceResponse, error) {
	value, err := s.eng.Submit(ctx, balanceQuery{account: account})
	if err != nil {
		return nil, err
	}
	resp := value.(*BalanceResponse)
	resp.AsOfSequence, resp.AsOfBlock = s.stamp()
	return resp, nil
}

// TraderBalance returns the trader's free collateral account balance.
func (s *Service) TraderBalance(ctx context.Context, trader string) (*BalanceResponse, error) {
	return s.Balance(ctx, ledger.TraderAccount(trader))
}

// FundingRecent returns the latest funding settlements, newest first, from
// the in-memory projection.
func (s *Service) FundingRecent(market string, limit int) []FundingResponse {
	if s.history == nil {
		return nil
	}
	entries := s.history.Recent(market, limit)
	out := make([]FundingResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, FundingResponse{
			Market:          e.Market,
			FundingRate:     e.FundingRate.String(),
			UnderlyingPrice: e.UnderlyingPrice.String(),
			BlockNumber:     e.BlockNumber,
			SettledAt:       e.SettledAt,
			Sequence:        e.Sequence,
		})
	}
	return out
}

// ==== read-only commands ====

type marketStateQuery struct {
	market string
	at     time.Time
}

func (q marketStateQuery) Name() string    { return "query_market_state" }
func (q marketStateQuery) Time() time.Time { return q.at }

func (q marketStateQuery) Execute(d *engine.Domain, tick amm.Tick) (any, error) {
	a, ok := d.Amms[q.market]
	if !ok {
		return nil, clearinghouse.ErrUnknownMarket
	}
	return &MarketStateResponse{
		Market:               a.Market(),
		Open:                 a.Open(),
		QuoteAssetReserve:    a.QuoteAssetReserve().String(),
		BaseAssetReserve:     a.BaseAssetReserve().String(),
		SpotPrice:            a.SpotPrice().String(),
		UnderlyingPrice:      a.UnderlyingPrice().String(),
		OpenInterestNotional: d.ClearingHouse.OpenInterestNotional(q.market).String(),
		TotalPositionSize:    a.TotalPositionSize().String(),
		LongPositionSize:     a.LongPositionSize().String(),
		ShortPositionSize:    a.ShortPositionSize().String(),
		NextFundingTime:      a.NextFundingTime(),
	}, nil
}

type positionQuery struct {
	market string
	trader string
	at     time.Time
}

func (q positionQuery) Name() string    { return "query_position" }
func (q positionQuery) Time() time.Time { return q.at }

func (q positionQuery) Execute(d *engine.Domain, tick amm.Tick) (any, error) {
	pos := d.ClearingHouse.Position(q.market, q.trader)
	if pos.Empty() {
		return nil, clearinghouse.ErrEmptyPosition
	}
	notional, pnl, err := d.ClearingHouse.PositionNotionalAndUnrealizedPnl(q.market, q.trader, clearinghouse.PnlSpot, tick)
	if err != nil {
		return nil, err
	}
	ratio, err := d.ClearingHouse.GetMarginRatio(q.market, q.trader, tick)
	if err != nil {
		return nil, err
	}
	return &PositionResponse{
		Trader:                               q.trader,
		Market:                               q.market,
		Size:                                 pos.Size.String(),
		Margin:                               pos.Margin.String(),
		OpenNotional:                         pos.OpenNotional.String(),
		PositionNotional:                     notional.String(),
		UnrealizedPnl:                        pnl.String(),
		MarginRatio:                          ratio.String(),
		LastUpdatedCumulativePremiumFraction: pos.LastUpdatedCumulativePremiumFraction.String(),
		BlockNumber:                          pos.BlockNumber,
	}, nil
}

type balanceQuery struct {
	account string
}

func (q balanceQuery) Name() string    { return "query_balance" }
func (q balanceQuery) Time() time.Time { return time.Time{} }

func (q balanceQuery) Execute(d *engine.Domain, tick amm.Tick) (any, error) {
	return &BalanceResponse{
		Account: q.account,
		Balance: d.Book.Balance(q.account).String(),
	}, nil
}
