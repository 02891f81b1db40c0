package position

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ag-wnl/sol-amm-v3/internal/liquidity"
)

// Key identifies a position. Pool is part of the key so owners in different pools never collide.
type Key struct {
	Pool  common.Hash
	Owner common.Address
	Lower int32
	Upper int32
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s[%d,%d]", k.Pool.Hex(), k.Owner.Hex(), k.Lower, k.Upper)
}

type Info struct {
	Liquidity *uint256.Int
}

// Ledger holds positions with non-zero liquidity.
type Ledger struct {
	positions map[Key]*uint256.Int
}

func NewLedger() *Ledger {
	return &Ledger{positions: make(map[Key]*uint256.Int)}
}

// Get returns the position; liquidity is zero when it does not exist.
func (l *Ledger) Get(key Key) (Info, bool) {
	liq, ok := l.positions[key]
	if !ok {
		return Info{Liquidity: new(uint256.Int)}, false
	}
	return Info{Liquidity: liq.Clone()}, true
}

// Preview returns the position after applying delta without storing it.
func (l *Ledger) Preview(key Key, delta *big.Int) (Info, error) {
	current, _ := l.Get(key)
	next, err := liquidity.AddDelta(current.Liquidity, delta)
	if err != nil {
		return Info{}, fmt.Errorf("position %s: %w", key, err)
	}
	return Info{Liquidity: next}, nil
}

// Set stores info, removing the position once its liquidity is zero.
func (l *Ledger) Set(key Key, info Info) {
	if info.Liquidity == nil || info.Liquidity.IsZero() {
		delete(l.positions, key)
		return
	}
	l.positions[key] = info.Liquidity.Clone()
}

func (l *Ledger) Update(key Key, delta *big.Int) (Info, error) {
	info, err := l.Preview(key, delta)
	if err != nil {
		return Info{}, err
	}
	l.Set(key, info)
	return info, nil
}

// Entry pairs a key with its position.
type Entry struct {
	Key  Key
	Info Info
}

// All returns every position ordered by pool, owner, lower, upper.
func (l *Ledger) All() []Entry {
	out := make([]Entry, 0, len(l.positions))
	for key, liq := range l.positions {
		out = append(out, Entry{Key: key, Info: Info{Liquidity: liq.Clone()}})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if c := bytes.Compare(a.Pool[:], b.Pool[:]); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		if a.Lower != b.Lower {
			return a.Lower < b.Lower
		}
		return a.Upper < b.Upper
	})
	return out
}

func (l *Ledger) Len() int {
	return len(l.positions)
}

func (l *Ledger) Clone() *Ledger {
	out := &Ledger{positions: make(map[Key]*uint256.Int, len(l.positions))}
	for key, liq := range l.positions {
		out.positions[key] = liq.Clone()
	}
	return out
}
