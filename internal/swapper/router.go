package swapper

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/relay/internal/id"
	"github.com/ggonzalez94/relay/internal/ledger"
	"github.com/ggonzalez94/relay/internal/venue"
)

// Router swaps directly through a single DEX router (QuickSwap).
type Router struct {
	addr   common.Address
	router venue.Router
	pairs  pairSet
}

func NewRouter(addr common.Address, router venue.Router, pairs ...id.TokenPair) (*Router, error) {
	if router == nil {
		return nil, fmt.Errorf("router swapper: missing router venue")
	}
	set, err := newPairSet(pairs)
	if err != nil {
		return nil, fmt.Errorf("router swapper: %w", err)
	}
	return &Router{addr: addr, router: router, pairs: set}, nil
}

func (s *Router) Address() common.Address { return s.addr }
func (s *Router) Kind() Kind              { return KindRouter }
func (s *Router) Pairs() []id.TokenPair   { return s.pairs.list() }

func (s *Router) Swap(ctx context.Context, tx *ledger.Tx, caller, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if err := s.pairs.require(s.addr, tokenIn, tokenOut); err != nil {
		return nil, err
	}
	if err := checkAmountIn(amountIn); err != nil {
		return nil, err
	}
	guard := guardCustody(tx, s.addr, tokenIn, tokenOut)

	if err := tx.Transfer(tokenIn, caller, s.addr, amountIn); err != nil {
		return nil, venueFailure(s.addr, "pull input", err)
	}
	amounts, err := s.router.SwapExactTokensForTokens(ctx, tx, s.addr, amountIn, minimumOut, []common.Address{tokenIn, tokenOut}, caller)
	if err != nil {
		return nil, venueFailure(s.addr, "router swap", err)
	}
	if len(amounts) != 2 {
		return nil, venueFailure(s.addr, "router swap", fmt.Errorf("router returned %d amounts for a direct path", len(amounts)))
	}
	if err := guard.verify(tx); err != nil {
		return nil, err
	}
	return amounts[1], nil
}
