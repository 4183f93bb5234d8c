package swapper

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/relay/internal/id"
	"github.com/ggonzalez94/relay/internal/ledger"
)

// Route binds one token pair to the strategy that serves it.
type Route struct {
	Pair     id.TokenPair
	Strategy Strategy
}

// Composite dispatches each pair to a fixed sub-strategy, e.g. USDCet->USDC
// through a router swapper and the other stables through a pool swapper.
type Composite struct {
	addr   common.Address
	routes map[id.TokenPair]Strategy
}

func NewComposite(addr common.Address, routes ...Route) (*Composite, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("composite swapper: at least one route is required")
	}
	table := make(map[id.TokenPair]Strategy, len(routes))
	for _, r := range routes {
		if r.Strategy == nil {
			return nil, fmt.Errorf("composite swapper: route %s has no strategy", r.Pair)
		}
		if r.Strategy.Address() == addr {
			return nil, fmt.Errorf("composite swapper: route %s points back at itself", r.Pair)
		}
		if _, dup := table[r.Pair]; dup {
			return nil, fmt.Errorf("composite swapper: duplicate route for %s", r.Pair)
		}
		if err := servesPair(r.Strategy, r.Pair); err != nil {
			return nil, fmt.Errorf("composite swapper: %w", err)
		}
		table[r.Pair] = r.Strategy
	}
	return &Composite{addr: addr, routes: table}, nil
}

func servesPair(s Strategy, pair id.TokenPair) error {
	for _, p := range s.Pairs() {
		if p == pair {
			return nil
		}
	}
	return fmt.Errorf("strategy %s does not serve %s", s.Address().Hex(), pair)
}

func (s *Composite) Address() common.Address { return s.addr }
func (s *Composite) Kind() Kind              { return KindComposite }

func (s *Composite) Pairs() []id.TokenPair {
	out := make([]id.TokenPair, 0, len(s.routes))
	for p := range s.routes {
		out = append(out, p)
	}
	sortPairs(out)
	return out
}

// RouteFor reports which sub-strategy serves pair.
func (s *Composite) RouteFor(pair id.TokenPair) (Strategy, bool) {
	sub, ok := s.routes[pair]
	return sub, ok
}

func (s *Composite) Swap(ctx context.Context, tx *ledger.Tx, caller, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	pair := id.NewTokenPair(tokenIn, tokenOut)
	sub, ok := s.routes[pair]
	if !ok {
		return nil, pairSet{}.require(s.addr, tokenIn, tokenOut)
	}
	if err := checkAmountIn(amountIn); err != nil {
		return nil, err
	}
	guard := guardCustody(tx, s.addr, tokenIn, tokenOut)

	if err := tx.Transfer(tokenIn, caller, s.addr, amountIn); err != nil {
		return nil, venueFailure(s.addr, "pull input", err)
	}
	out, err := sub.Swap(ctx, tx, s.addr, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, venueFailure(s.addr, "sub-swap", err)
	}
	if err := tx.Transfer(tokenOut, s.addr, caller, out); err != nil {
		return nil, venueFailure(s.addr, "pay output", err)
	}
	if err := guard.verify(tx); err != nil {
		return nil, err
	}
	return out, nil
}
