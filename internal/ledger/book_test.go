package ledger_test

import (
	"testing"
	"time"

	"PerpAmm/internal/fixed"
	"PerpAmm/internal/ledger"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ==== deposits and withdrawals ====

func TestDepositWithdraw(t *testing.T) {
	book := ledger.NewBook()
	alice := ledger.TraderAccount("alice")

	if err := book.Deposit(alice, fixed.New(100), t0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := book.Balance(alice); !got.Equal(fixed.New(100)) {
		t.Fatalf("balance = %s, want 100", got)
	}

	if err := book.Withdraw(alice, fixed.New(30), t0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := book.Balance(alice); !got.Equal(fixed.New(70)) {
		t.Fatalf("balance = %s, want 70", got)
	}

	journal := book.DrainJournal()
	if len(journal) != 2 {
		t.Fatalf("journal entries = %d, want 2", len(journal))
	}
	if journal[0].Reason != ledger.ReasonExternalDeposit || journal[0].From != "external" {
		t.Errorf("deposit entry = %+v", journal[0])
	}
	if journal[1].Reason != ledger.ReasonExternalWithdraw || journal[1].To != "external" {
		t.Errorf("withdraw entry = %+v", journal[1])
	}
	if len(book.DrainJournal()) != 0 {
		t.Error("journal not reset after drain")
	}
}

func TestWithdrawInsufficient(t *testing.T) {
	book := ledger.NewBook()
	alice := ledger.TraderAccount("alice")
	if err := book.Deposit(alice, fixed.New(10), t0); err != nil {
		t.Fatal(err)
	}
	if err := book.Withdraw(alice, fixed.New(11), t0); err == nil {
		t.Fatal("expected insufficient balance error")
	}
	if got := book.Balance(alice); !got.Equal(fixed.New(10)) {
		t.Fatalf("balance changed on failed withdraw: %s", got)
	}
}

func TestNegativeAmountsRejected(t *testing.T) {
	book := ledger.NewBook()
	neg := fixed.New(-1)
	if err := book.Deposit("a", neg, t0); err == nil {
		t.Error("deposit accepted negative amount")
	}
	if err := book.Withdraw("a", neg, t0); err == nil {
		t.Error("withdraw accepted negative amount")
	}
	if err := book.Transfer("a", "b", neg, ledger.ReasonPnl, t0); err == nil {
		t.Error("transfer accepted negative amount")
	}
}

// ==== transfers ====

func TestTransferConservesSupply(t *testing.T) {
	book := ledger.NewBook()
	alice := ledger.TraderAccount("alice")
	vault := ledger.VaultAccount("BTC-USD")
	if err := book.Deposit(alice, fixed.New(100), t0); err != nil {
		t.Fatal(err)
	}

	if err := book.Transfer(alice, vault, fixed.New(40), ledger.ReasonMarginDeposit, t0); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := book.Balance(vault); !got.Equal(fixed.New(40)) {
		t.Fatalf("vault = %s, want 40", got)
	}
	if got := book.TotalSupply(); !got.Equal(fixed.New(100)) {
		t.Fatalf("total supply = %s, want 100", got)
	}
}

func TestTransferZeroIsDropped(t *testing.T) {
	book := ledger.NewBook()
	if err := book.Transfer("a", "b", fixed.Zero(), ledger.ReasonPnl, t0); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
	if len(book.DrainJournal()) != 0 {
		t.Error("zero transfer produced a journal entry")
	}
}

func TestTransferInsufficientLeavesBalances(t *testing.T) {
	book := ledger.NewBook()
	if err := book.Deposit("a", fixed.New(5), t0); err != nil {
		t.Fatal(err)
	}
	if err := book.Transfer("a", "b", fixed.New(6), ledger.ReasonPnl, t0); err == nil {
		t.Fatal("expected insufficient balance error")
	}
	if got := book.Balance("b"); !got.IsZero() {
		t.Fatalf("b credited on failed transfer: %s", got)
	}
}

// ==== checkpoints ====

func TestCheckpointRestore(t *testing.T) {
	book := ledger.NewBook()
	if err := book.Deposit("a", fixed.New(100), t0); err != nil {
		t.Fatal(err)
	}
	book.DrainJournal()

	cp := book.CaptureCheckpoint()
	if err := book.Transfer("a", "b", fixed.New(60), ledger.ReasonPnl, t0); err != nil {
		t.Fatal(err)
	}
	if err := book.Transfer("b", "c", fixed.New(10), ledger.ReasonToll, t0); err != nil {
		t.Fatal(err)
	}

	book.Restore(cp)
	if got := book.Balance("a"); !got.Equal(fixed.New(100)) {
		t.Fatalf("a = %s after restore, want 100", got)
	}
	if got := book.Balance("b"); !got.IsZero() {
		t.Fatalf("b = %s after restore, want 0", got)
	}
	if len(book.DrainJournal()) != 0 {
		t.Error("journal entries survived restore")
	}
}

// ==== bulk balance access ====

func TestBalancesCopyAndSet(t *testing.T) {
	book := ledger.NewBook()
	if err := book.Deposit("a", fixed.New(7), t0); err != nil {
		t.Fatal(err)
	}

	snap := book.Balances()
	snap["a"] = fixed.New(999)
	if got := book.Balance("a"); !got.Equal(fixed.New(7)) {
		t.Fatal("Balances returned a live reference")
	}

	restored := ledger.NewBook()
	restored.SetBalances(map[string]fixed.Dec{"a": fixed.New(7), "b": fixed.New(3)})
	if got := restored.TotalSupply(); !got.Equal(fixed.New(10)) {
		t.Fatalf("total supply = %s, want 10", got)
	}
	if len(restored.DrainJournal()) != 0 {
		t.Error("SetBalances produced journal entries")
	}
}
