// Package wallet holds user credit balances.
package wallet

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrNoUser            = errors.New("user id required")
)

// Service debits and credits user balances. New users start with the
// configured initial credits.
type Service interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
}

func validate(userID string, amount decimal.Decimal) error {
	if userID == "" {
		return ErrNoUser
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

type MemWallet struct {
	mu       sync.Mutex
	initial  decimal.Decimal
	balances map[string]decimal.Decimal
}

func NewMemWallet(initial decimal.Decimal) *MemWallet {
	return &MemWallet{initial: initial, balances: make(map[string]decimal.Decimal)}
}

// balance returns the seeded balance. Callers hold w.mu.
func (w *MemWallet) balance(userID string) decimal.Decimal {
	b, ok := w.balances[userID]
	if !ok {
		b = w.initial
		w.balances[userID] = b
	}
	return b
}

func (w *MemWallet) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if userID == "" {
		return decimal.Zero, ErrNoUser
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance(userID), nil
}

func (w *MemWallet) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validate(userID, amount); err != nil {
		return decimal.Zero, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	b := w.balance(userID)
	if b.LessThan(amount) {
		return b, ErrInsufficientFunds
	}
	b = b.Sub(amount)
	w.balances[userID] = b
	return b, nil
}

func (w *MemWallet) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validate(userID, amount); err != nil {
		return decimal.Zero, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	b := w.balance(userID).Add(amount)
	w.balances[userID] = b
	return b, nil
}
