package ledger

import (
	"fmt"
	"time"

	"cosmossdk.io/errors"
	"github.com/google/uuid"

	"PerpAmm/internal/fixed"
)

var (
	ErrInsufficientBalance = errors.Register("ledger", 1, "insufficient balance")
	ErrInvalidAmount       = errors.Register("ledger", 2, "transfer amount must not be negative")
)

// Transfer reasons, recorded with every journal entry.
const (
	ReasonMarginDeposit    = "margin_deposit"
	ReasonMarginWithdraw   = "margin_withdraw"
	ReasonToll             = "toll_fee"
	ReasonSpread           = "spread_fee"
	ReasonPnl              = "realized_pnl"
	ReasonFunding          = "funding"
	ReasonBadDebt          = "bad_debt"
	ReasonLiquidationFee   = "liquidation_fee"
	ReasonAdjustmentCost   = "adjustment_cost"
	ReasonExternalDeposit  = "external_deposit"
	ReasonExternalWithdraw = "external_withdraw"
)

// Account path helpers. Balances are keyed by these flat paths, mirroring the
// account structure the persistence layer stores.
func TraderAccount(trader string) string { return "trader:" + trader }

func VaultAccount(market string) string { return "vault:" + market }

func InsuranceAccount(market string) string { return "insurance:" + market }

func FeePoolAccount(market string) string { return "feepool:" + market }

// Transfer is one journal entry. Every balance mutation produces exactly one.
type Transfer struct {
	ID     uuid.UUID
	From   string
	To     string
	Amount fixed.Dec
	Reason string
	At     time.Time
}

// Book tracks quote-asset balances for traders and system accounts and keeps
// an append-only journal of every move. The external world enters through
// Deposit and leaves through Withdraw; everything in between conserves the
// total.
type Book struct {
	balances map[string]fixed.Dec
	journal  []Transfer
}

func NewBook() *Book {
	return &Book{balances: make(map[string]fixed.Dec)}
}

func (b *Book) Balance(account string) fixed.Dec {
	if bal, ok := b.balances[account]; ok {
		return bal
	}
	return fixed.Zero()
}

// Deposit credits an account from outside the book.
func (b *Book) Deposit(account string, amount fixed.Dec, at time.Time) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	b.balances[account] = b.Balance(account).Add(amount)
	b.journal = append(b.journal, Transfer{
		ID:     uuid.New(),
		From:   "external",
		To:     account,
		Amount: amount,
		Reason: ReasonExternalDeposit,
		At:     at,
	})
	return nil
}

// Withdraw debits an account to outside the book.
func (b *Book) Withdraw(account string, amount fixed.Dec, at time.Time) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	bal := b.Balance(account)
	if bal.LT(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "%s has %s, needs %s", account, bal, amount)
	}
	b.balances[account] = bal.Sub(amount)
	b.journal = append(b.journal, Transfer{
		ID:     uuid.New(),
		From:   account,
		To:     "external",
		Amount: amount,
		Reason: ReasonExternalWithdraw,
		At:     at,
	})
	return nil
}

// Transfer moves amount between two accounts. Zero-amount transfers are
// dropped silently so callers need not special-case them.
func (b *Book) Transfer(from, to string, amount fixed.Dec, reason string, at time.Time) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}
	bal := b.Balance(from)
	if bal.LT(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "%s has %s, needs %s for %s", from, bal, amount, reason)
	}
	b.balances[from] = bal.Sub(amount)
	b.balances[to] = b.Balance(to).Add(amount)
	b.journal = append(b.journal, Transfer{
		ID:     uuid.New(),
		From:   from,
		To:     to,
		Amount: amount,
		Reason: reason,
		At:     at,
	})
	return nil
}

// Checkpoint captures balances and journal length so a failed multi-transfer
// operation can be rolled back.
type Checkpoint struct {
	balances map[string]fixed.Dec
	journal  int
}

func (b *Book) CaptureCheckpoint() Checkpoint {
	cp := Checkpoint{balances: make(map[string]fixed.Dec, len(b.balances)), journal: len(b.journal)}
	for k, v := range b.balances {
		cp.balances[k] = v
	}
	return cp
}

func (b *Book) Restore(cp Checkpoint) {
	b.balances = cp.balances
	b.journal = b.journal[:cp.journal]
}

// DrainJournal returns the accumulated entries and resets the journal. The
// persistence writer calls this once per applied command.
func (b *Book) DrainJournal() []Transfer {
	j := b.journal
	b.journal = nil
	return j
}

// Balances returns a copy of every account balance, for snapshots and read
// APIs.
func (b *Book) Balances() map[string]fixed.Dec {
	out := make(map[string]fixed.Dec, len(b.balances))
	for k, v := range b.balances {
		out[k] = v
	}
	return out
}

// SetBalances replaces the book's balances wholesale. Warm restart only,
// before any command runs; no journal entries are produced.
func (b *Book) SetBalances(balances map[string]fixed.Dec) {
	b.balances = make(map[string]fixed.Dec, len(balances))
	for k, v := range balances {
		b.balances[k] = v
	}
}

// TotalSupply sums all balances, for invariant checks in tests.
func (b *Book) TotalSupply() fixed.Dec {
	total := fixed.Zero()
	for _, bal := range b.balances {
		total = total.Add(bal)
	}
	return total
}

func (b *Book) String() string {
	return fmt.Sprintf("ledger.Book{accounts: %d, journal: %d}", len(b.balances), len(b.journal))
}
