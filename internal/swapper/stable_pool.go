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

// StablePool exchanges stable-to-stable on a single Mobius/Curve pool.
type StablePool struct {
	addr  common.Address
	pool  venue.StablePool
	pairs pairSet
}

func NewStablePool(addr common.Address, pool venue.StablePool, pairs ...id.TokenPair) (*StablePool, error) {
	if pool == nil {
		return nil, fmt.Errorf("stable pool swapper: missing pool venue")
	}
	set, err := newPairSet(pairs)
	if err != nil {
		return nil, fmt.Errorf("stable pool swapper: %w", err)
	}
	for p := range set {
		if venue.CoinIndex(pool, p.In) < 0 || venue.CoinIndex(pool, p.Out) < 0 {
			return nil, fmt.Errorf("stable pool swapper: pool %s does not hold both tokens of %s", pool.Address().Hex(), p)
		}
	}
	return &StablePool{addr: addr, pool: pool, pairs: set}, nil
}

func (s *StablePool) Address() common.Address { return s.addr }
func (s *StablePool) Kind() Kind              { return KindStablePool }
func (s *StablePool) Pairs() []id.TokenPair   { return s.pairs.list() }

func (s *StablePool) Swap(ctx context.Context, tx *ledger.Tx, caller, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
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
	i, j := venue.CoinIndex(s.pool, tokenIn), venue.CoinIndex(s.pool, tokenOut)
	out, err := s.pool.Exchange(ctx, tx, s.addr, i, j, amountIn, minimumOut, caller)
	if err != nil {
		return nil, venueFailure(s.addr, "stable exchange", err)
	}
	if err := guard.verify(tx); err != nil {
		return nil, err
	}
	return out, nil
}
