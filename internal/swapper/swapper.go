// Package swapper holds the swap strategies an Inbox dispatches to. Each
// strategy adapts one liquidity venue (or a table of sub-strategies), accepts
// only the token pairs it was built for and never keeps custody of tokens
// beyond a single Swap call.
package swapper

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/relay/internal/errors"
	"github.com/ggonzalez94/relay/internal/id"
	"github.com/ggonzalez94/relay/internal/ledger"
)

type Kind string

const (
	KindRouter     Kind = "router"
	KindCurveAave  Kind = "curve_aave"
	KindStablePool Kind = "stable_pool"
	KindComposite  Kind = "composite"
)

// Strategy is the uniform swap capability. Swap pulls amountIn of tokenIn
// from caller and pays the returned amount of tokenOut back to caller.
type Strategy interface {
	Address() common.Address
	Kind() Kind
	Pairs() []id.TokenPair
	Swap(ctx context.Context, tx *ledger.Tx, caller, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
}

// minimumOut is the floor every venue call is held to; a zero-output swap
// is treated as a venue failure.
var minimumOut = big.NewInt(1)

type pairSet map[id.TokenPair]struct{}

func newPairSet(pairs []id.TokenPair) (pairSet, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one token pair is required")
	}
	set := make(pairSet, len(pairs))
	for _, p := range pairs {
		if p.In == p.Out {
			return nil, fmt.Errorf("pair %s swaps a token for itself", p)
		}
		set[p] = struct{}{}
	}
	return set, nil
}

func (s pairSet) require(addr common.Address, in, out common.Address) error {
	if _, ok := s[id.NewTokenPair(in, out)]; !ok {
		return clierr.New(clierr.CodeUnsupportedPair, fmt.Sprintf("swapper %s does not support %s", addr.Hex(), id.NewTokenPair(in, out)))
	}
	return nil
}

func (s pairSet) list() []id.TokenPair {
	out := make([]id.TokenPair, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sortPairs(out)
	return out
}

func sortPairs(pairs []id.TokenPair) {
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].String() < pairs[j].String()
	})
}

func checkAmountIn(amountIn *big.Int) error {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return clierr.New(clierr.CodeUsage, "swap amount must be positive")
	}
	return nil
}

// custodyGuard records a swapper's balances of the swapped tokens so the
// call can prove it left nothing behind.
type custodyGuard struct {
	holder common.Address
	before map[common.Address]*big.Int
}

func guardCustody(tx *ledger.Tx, holder common.Address, tokens ...common.Address) *custodyGuard {
	g := &custodyGuard{holder: holder, before: make(map[common.Address]*big.Int, len(tokens))}
	for _, token := range tokens {
		g.before[token] = tx.BalanceOf(token, holder)
	}
	return g
}

func (g *custodyGuard) verify(tx *ledger.Tx) error {
	for token, before := range g.before {
		if after := tx.BalanceOf(token, g.holder); after.Cmp(before) != 0 {
			return clierr.New(clierr.CodeVenueFailure, fmt.Sprintf("swapper %s retained custody of %s (before %s, after %s)", g.holder.Hex(), token.Hex(), before, after))
		}
	}
	return nil
}

func venueFailure(addr common.Address, step string, err error) error {
	if cErr, ok := clierr.As(err); ok && cErr.Code != clierr.CodeInternal {
		return err
	}
	return clierr.Wrap(clierr.CodeVenueFailure, fmt.Sprintf("swapper %s: %s", addr.Hex(), step), err)
}

// Directory maps deployed strategy addresses to their implementations; it
// plays the role of the chain's contract address space.
type Directory struct {
	mu         sync.RWMutex
	strategies map[common.Address]Strategy
}

func NewDirectory() *Directory {
	return &Directory{strategies: map[common.Address]Strategy{}}
}

func (d *Directory) Register(s Strategy) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.strategies[s.Address()]; exists {
		return fmt.Errorf("swapper already deployed at %s", s.Address().Hex())
	}
	d.strategies[s.Address()] = s
	return nil
}

func (d *Directory) Lookup(addr common.Address) (Strategy, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.strategies[addr]
	return s, ok
}

// All returns every deployed strategy ordered by address.
func (d *Directory) All() []Strategy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Strategy, 0, len(d.strategies))
	for _, s := range d.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address().Hex() < out[j].Address().Hex()
	})
	return out
}
