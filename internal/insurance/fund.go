package insurance

import (
	"time"

	"cosmossdk.io/errors"

	"PerpAmm/internal/fixed"
	"PerpAmm/internal/ledger"
)

var (
	ErrUnauthorized       = errors.Register("insurance", 1, "unauthorized")
	ErrUnknownMarket      = errors.Register("insurance", 2, "market not registered")
	ErrInsufficientBudget = errors.Register("insurance", 3, "insufficient insurance budget")
)

// StakingPool contributes extra budget on top of the fund's own balance.
// Rewards are consumed before the fund's principal.
type StakingPool interface {
	AvailableRewards(market string) fixed.Dec

	// ConsumeRewards moves up to amount of rewards into the fund's account
	// and returns the amount actually consumed.
	ConsumeRewards(market string, amount fixed.Dec, at time.Time) (fixed.Dec, error)
}

// Fund absorbs bad debt and pays adjustment costs, one budget per market.
// Balances live in the shared ledger book under the market's insurance
// account.
type Fund struct {
	owner       string
	beneficiary string
	book        *ledger.Book
	markets     map[string]bool
	staking     StakingPool
}

func New(owner string, book *ledger.Book) *Fund {
	return &Fund{owner: owner, book: book, markets: make(map[string]bool)}
}

// AddAmm registers a market. Owner only.
func (f *Fund) AddAmm(caller, market string) error {
	if caller != f.owner {
		return ErrUnauthorized
	}
	f.markets[market] = true
	return nil
}

// SetBeneficiary names the single account allowed to draw funds, the clearing
// house in production. Owner only.
func (f *Fund) SetBeneficiary(caller, beneficiary string) error {
	if caller != f.owner {
		return ErrUnauthorized
	}
	f.beneficiary = beneficiary
	return nil
}

// SetStakingPool connects an optional staking pool. Owner only.
func (f *Fund) SetStakingPool(caller string, pool StakingPool) error {
	if caller != f.owner {
		return ErrUnauthorized
	}
	f.staking = pool
	return nil
}

func (f *Fund) HasMarket(market string) bool { return f.markets[market] }

// Budget is the total amount available for one market: the fund's balance
// plus any staking rewards.
func (f *Fund) Budget(market string) fixed.Dec {
	if !f.markets[market] {
		return fixed.Zero()
	}
	budget := f.book.Balance(ledger.InsuranceAccount(market))
	if f.staking != nil {
		budget = budget.Add(f.staking.AvailableRewards(market))
	}
	return budget
}

// Withdraw pays amount from the market's budget to the given account,
// consuming staking rewards before principal. Beneficiary only.
func (f *Fund) Withdraw(caller, market, to string, amount fixed.Dec, reason string, at time.Time) error {
	if caller != f.beneficiary {
		return ErrUnauthorized
	}
	if !f.markets[market] {
		return ErrUnknownMarket
	}
	if amount.GT(f.Budget(market)) {
		return errors.Wrapf(ErrInsufficientBudget, "%s budget %s, needs %s", market, f.Budget(market), amount)
	}
	account := ledger.InsuranceAccount(market)
	if f.staking != nil {
		rewards := f.staking.AvailableRewards(market)
		if rewards.IsPositive() {
			if _, err := f.staking.ConsumeRewards(market, fixed.Min(rewards, amount), at); err != nil {
				return err
			}
		}
	}
	return f.book.Transfer(account, to, amount, reason, at)
}

// RewardsPool is a minimal StakingPool: rewards accrue externally and are
// deposited into the insurance account when consumed.
type RewardsPool struct {
	book    *ledger.Book
	rewards map[string]fixed.Dec
}

func NewRewardsPool(book *ledger.Book) *RewardsPool {
	return &RewardsPool{book: book, rewards: make(map[string]fixed.Dec)}
}

// AddRewards accrues staking rewards for a market.
func (p *RewardsPool) AddRewards(market string, amount fixed.Dec) {
	cur, ok := p.rewards[market]
	if !ok {
		cur = fixed.Zero()
	}
	p.rewards[market] = cur.Add(amount)
}

func (p *RewardsPool) AvailableRewards(market string) fixed.Dec {
	if r, ok := p.rewards[market]; ok {
		return r
	}
	return fixed.Zero()
}

func (p *RewardsPool) ConsumeRewards(market string, amount fixed.Dec, at time.Time) (fixed.Dec, error) {
	avail := p.AvailableRewards(market)
	consumed := fixed.Min(avail, amount)
	if !consumed.IsPositive() {
		return fixed.Zero(), nil
	}
	p.rewards[market] = avail.Sub(consumed)
	if err := p.book.Deposit(ledger.InsuranceAccount(market), consumed, at); err != nil {
		return fixed.Zero(), err
	}
	return consumed, nil
}
