// Package venue defines the liquidity venues swappers adapt over and ships
// fixed-rate in-memory implementations of each, used for simulation and
// tests. Venue errors are plain errors; swappers classify them.
package venue

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/relay/internal/ledger"
)

// Router is a Uniswap-v2 style router (QuickSwap).
type Router interface {
	Address() common.Address
	SwapExactTokensForTokens(ctx context.Context, tx *ledger.Tx, caller common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address) ([]*big.Int, error)
}

// LendingPool is an Aave-style pool that redeems interest-bearing tokens
// for their underlying asset.
type LendingPool interface {
	Address() common.Address
	UnderlyingOf(aToken common.Address) (common.Address, bool)
	Withdraw(ctx context.Context, tx *ledger.Tx, caller, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error)
}

// StablePool is a Curve/Mobius style pool addressed by coin index.
type StablePool interface {
	Address() common.Address
	Coins() []common.Address
	Exchange(ctx context.Context, tx *ledger.Tx, caller common.Address, i, j int, dx, minDy *big.Int, to common.Address) (*big.Int, error)
}

// Rate prices one unit of In in units of Out, base units on both sides.
type Rate struct {
	In    common.Address
	Out   common.Address
	Price *big.Rat
}

// ErrHalted is wrapped by every venue call made while the venue is halted.
var ErrHalted = fmt.Errorf("venue halted")

type book struct {
	mu     sync.RWMutex
	rates  map[[2]common.Address]*big.Rat
	halted error
}

func newBook(rates []Rate) *book {
	b := &book{rates: map[[2]common.Address]*big.Rat{}}
	for _, r := range rates {
		if r.Price == nil || r.Price.Sign() <= 0 {
			continue
		}
		b.rates[[2]common.Address{r.In, r.Out}] = new(big.Rat).Set(r.Price)
	}
	return b
}

// Halt makes every subsequent call fail until Resume.
func (b *book) Halt(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = fmt.Errorf("%w: %s", ErrHalted, reason)
}

func (b *book) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = nil
}

func (b *book) check() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.halted
}

func (b *book) quote(in, out common.Address, amount *big.Int) (*big.Int, error) {
	b.mu.RLock()
	price, ok := b.rates[[2]common.Address{in, out}]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no liquidity for %s -> %s", in.Hex(), out.Hex())
	}
	v := new(big.Rat).Mul(new(big.Rat).SetInt(amount), price)
	return new(big.Int).Quo(v.Num(), v.Denom()), nil
}

func checkPositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

func checkMinimum(got, min *big.Int) error {
	if min != nil && got.Cmp(min) < 0 {
		return fmt.Errorf("insufficient output amount: got %s, minimum %s", got, min)
	}
	return nil
}
