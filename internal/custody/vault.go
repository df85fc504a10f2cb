package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
)

var ErrInsufficientFunds = errors.New("insufficient pool funds")

// PayoutFunc moves released value to its recipient outside the process.
type PayoutFunc func(ctx context.Context, to string, amount uint64) error

// Vault tracks the value physically held by the pool. It accepts every
// inbound transfer and releases value only while holdings cover it.
type Vault struct {
	mu       sync.Mutex
	holdings uint64
	received uint64
	released uint64
	payout   PayoutFunc
	log      *slog.Logger
}

// NewVault creates an empty vault. payout may be nil.
func NewVault(payout PayoutFunc, log *slog.Logger) *Vault {
	if log == nil {
		log = slog.Default()
	}
	return &Vault{payout: payout, log: log}
}

func (v *Vault) Receive(_ context.Context, from string, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	holdings, c1 := bits.Add64(v.holdings, amount, 0)
	received, c2 := bits.Add64(v.received, amount, 0)
	if c1|c2 != 0 {
		return fmt.Errorf("vault overflow receiving %d from %s", amount, from)
	}
	v.holdings = holdings
	v.received = received
	v.log.Debug("vault received", "from", from, "amount", amount, "holdings", holdings)
	return nil
}

// Release debits holdings and then calls the payout hook. A failed payout is
// credited back.
func (v *Vault) Release(ctx context.Context, to string, amount uint64) error {
	v.mu.Lock()
	if v.holdings < amount {
		v.mu.Unlock()
		return fmt.Errorf("%w: holdings %d, requested %d", ErrInsufficientFunds, v.holdings, amount)
	}
	v.holdings -= amount
	v.released += amount
	v.mu.Unlock()

	if v.payout != nil {
		if err := v.payout(ctx, to, amount); err != nil {
			v.mu.Lock()
			v.holdings += amount
			v.released -= amount
			v.mu.Unlock()
			return fmt.Errorf("payout to %s: %w", to, err)
		}
	}
	v.log.Debug("vault released", "to", to, "amount", amount)
	return nil
}

// Holdings returns the value currently held.
func (v *Vault) Holdings() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.holdings
}

// Flows returns lifetime inbound and outbound totals.
func (v *Vault) Flows() (received, released uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.received, v.released
}
