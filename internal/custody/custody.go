// Package custody moves token balances for settled pool operations.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInsufficientBalance is returned when a transfer exceeds the sender's balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Transfer moves Amount of Token from From to To.
type Transfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

func (t Transfer) String() string {
	return fmt.Sprintf("%s %s -> %s (%s)", t.Amount.Dec(), t.From.Hex(), t.To.Hex(), t.Token.Hex())
}

// Custodian settles transfers all-or-nothing.
type Custodian interface {
	Settle(ctx context.Context, transfers []Transfer) error
}

type balanceKey struct {
	account common.Address
	token   common.Address
}

// Vault keeps balances in memory.
type Vault struct {
	mu       sync.Mutex
	balances map[balanceKey]*uint256.Int
}

func NewVault() *Vault {
	return &Vault{balances: make(map[balanceKey]*uint256.Int)}
}

// Credit mints amount of token to account.
func (v *Vault) Credit(account, token common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := balanceKey{account: account, token: token}
	current := v.balanceLocked(key)
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return fmt.Errorf("credit %s to %s: balance overflow", amount.Dec(), account.Hex())
	}
	v.balances[key] = next
	return nil
}

// Balance returns the balance of token held by account.
func (v *Vault) Balance(account, token common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balanceLocked(balanceKey{account: account, token: token}).Clone()
}

func (v *Vault) balanceLocked(key balanceKey) *uint256.Int {
	if b, ok := v.balances[key]; ok {
		return b
	}
	return new(uint256.Int)
}

// Settle applies every transfer or none. Transfers are applied in order, so a later
// transfer may spend what an earlier one delivered.
func (v *Vault) Settle(ctx context.Context, transfers []Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	staged := make(map[balanceKey]*uint256.Int)
	get := func(key balanceKey) *uint256.Int {
		if b, ok := staged[key]; ok {
			return b
		}
		return v.balanceLocked(key).Clone()
	}

	for _, tr := range transfers {
		if tr.Amount == nil || tr.Amount.IsZero() {
			continue
		}
		fromKey := balanceKey{account: tr.From, token: tr.Token}
		toKey := balanceKey{account: tr.To, token: tr.Token}

		from := get(fromKey)
		if from.Lt(tr.Amount) {
			return fmt.Errorf("%w: %s holds %s", ErrInsufficientBalance, tr, from.Dec())
		}
		staged[fromKey] = new(uint256.Int).Sub(from, tr.Amount)

		to := get(toKey)
		sum, overflow := new(uint256.Int).AddOverflow(to, tr.Amount)
		if overflow {
			return fmt.Errorf("settle %s: balance overflow", tr)
		}
		staged[toKey] = sum
	}

	for key, b := range staged {
		v.balances[key] = b
	}
	return nil
}

// Noop accepts every transfer without tracking balances.
type Noop struct{}

func (Noop) Settle(ctx context.Context, _ []Transfer) error {
	return ctx.Err()
}
