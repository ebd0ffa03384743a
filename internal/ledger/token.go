// Package ledger provides the in-process fungible token and non-fungible
// asset ledgers that back the marketplace when it runs against its embedded
// simulation chain. They implement the marketplace's gateway interfaces and
// double as collaborator doubles in tests.
package ledger

import (
	"fmt"
	"sync"

	"bazaar/internal/market"
)

// TokenTransferHook observes every applied token transfer. It runs outside
// the ledger lock, so it may re-enter the marketplace; returning an error
// rejects the transfer.
type TokenTransferHook func(from, to market.Address, amount uint64) error

// TokenLedger is an allowance-based fungible token ledger.
type TokenLedger struct {
	mu         sync.Mutex
	balances   map[market.Address]uint64
	allowances map[market.Address]map[market.Address]uint64 // owner -> spender -> amount
	hook       TokenTransferHook
}

func NewTokenLedger() *TokenLedger {
	return &TokenLedger{
		balances:   make(map[market.Address]uint64),
		allowances: make(map[market.Address]map[market.Address]uint64),
	}
}

// SetTransferHook installs fn as the transfer observer.
func (l *TokenLedger) SetTransferHook(fn TokenTransferHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = fn
}

// Mint credits amount to addr out of thin air.
func (l *TokenLedger) Mint(addr market.Address, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] += amount
}

func (l *TokenLedger) BalanceOf(addr market.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr]
}

// Approve lets spender draw up to amount from owner's balance.
func (l *TokenLedger) Approve(owner, spender market.Address, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row := l.allowances[owner]
	if row == nil {
		row = make(map[market.Address]uint64)
		l.allowances[owner] = row
	}
	row[spender] = amount
}

func (l *TokenLedger) Allowance(owner, spender market.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[owner][spender]
}

// Spender binds the ledger to one spender identity, yielding a
// market.PaymentGateway whose TransferFrom draws on that spender's
// allowance.
func (l *TokenLedger) Spender(spender market.Address) *TokenSpender {
	return &TokenSpender{ledger: l, spender: spender}
}

type TokenSpender struct {
	ledger  *TokenLedger
	spender market.Address
}

// TransferFrom moves amount from from to to on the bound spender's
// allowance. The mutation is journaled only after the transfer hook
// accepts it; a rejected transfer leaves the ledger untouched.
func (s *TokenSpender) TransferFrom(j *market.Journal, from, to market.Address, amount uint64) error {
	if to.IsZero() {
		return fmt.Errorf("%w: transfer to zero identity", market.ErrExternalTransferFailed)
	}

	l := s.ledger
	l.mu.Lock()
	allowance := l.allowances[from][s.spender]
	if allowance < amount {
		l.mu.Unlock()
		return fmt.Errorf("%w: allowance %d below %d", market.ErrExternalTransferFailed, allowance, amount)
	}
	if l.balances[from] < amount {
		l.mu.Unlock()
		return fmt.Errorf("%w: balance %d below %d", market.ErrExternalTransferFailed, l.balances[from], amount)
	}
	l.allowances[from][s.spender] = allowance - amount
	l.balances[from] -= amount
	l.balances[to] += amount
	hook := l.hook
	l.mu.Unlock()

	undo := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.allowances[from][s.spender] += amount
		l.balances[from] += amount
		l.balances[to] -= amount
	}

	if hook != nil {
		if err := hook(from, to, amount); err != nil {
			undo()
			return fmt.Errorf("%w: %v", market.ErrExternalTransferFailed, err)
		}
	}
	j.Record(undo)
	return nil
}
