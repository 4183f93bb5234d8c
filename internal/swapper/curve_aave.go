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

// CurveAave redeems an Aave interest-bearing token for its underlying and
// then exchanges the underlying on a Curve stable pool. When the underlying
// already is the requested output the exchange hop is skipped.
type CurveAave struct {
	addr       common.Address
	lending    venue.LendingPool
	stable     venue.StablePool
	pair       id.TokenPair
	underlying common.Address
	i, j       int
}

func NewCurveAave(addr common.Address, lending venue.LendingPool, stable venue.StablePool, tokenIn, tokenOut common.Address) (*CurveAave, error) {
	if lending == nil || stable == nil {
		return nil, fmt.Errorf("curve-aave swapper: lending pool and stable pool are required")
	}
	if tokenIn == tokenOut {
		return nil, fmt.Errorf("curve-aave swapper: token in and token out must differ")
	}
	underlying, ok := lending.UnderlyingOf(tokenIn)
	if !ok {
		return nil, fmt.Errorf("curve-aave swapper: %s is not a lending pool position token", tokenIn.Hex())
	}
	s := &CurveAave{
		addr:       addr,
		lending:    lending,
		stable:     stable,
		pair:       id.NewTokenPair(tokenIn, tokenOut),
		underlying: underlying,
		i:          -1,
		j:          -1,
	}
	if underlying != tokenOut {
		s.i = venue.CoinIndex(stable, underlying)
		s.j = venue.CoinIndex(stable, tokenOut)
		if s.i < 0 || s.j < 0 {
			return nil, fmt.Errorf("curve-aave swapper: stable pool %s does not trade %s -> %s", stable.Address().Hex(), underlying.Hex(), tokenOut.Hex())
		}
	}
	return s, nil
}

func (s *CurveAave) Address() common.Address { return s.addr }
func (s *CurveAave) Kind() Kind              { return KindCurveAave }
func (s *CurveAave) Pairs() []id.TokenPair   { return []id.TokenPair{s.pair} }

func (s *CurveAave) Swap(ctx context.Context, tx *ledger.Tx, caller, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if err := pairSet(map[id.TokenPair]struct{}{s.pair: {}}).require(s.addr, tokenIn, tokenOut); err != nil {
		return nil, err
	}
	if err := checkAmountIn(amountIn); err != nil {
		return nil, err
	}
	guard := guardCustody(tx, s.addr, tokenIn, s.underlying, tokenOut)

	if err := tx.Transfer(tokenIn, caller, s.addr, amountIn); err != nil {
		return nil, venueFailure(s.addr, "pull input", err)
	}
	redeemed, err := s.lending.Withdraw(ctx, tx, s.addr, s.underlying, amountIn, s.addr)
	if err != nil {
		return nil, venueFailure(s.addr, "lending withdraw", err)
	}
	if redeemed.Sign() <= 0 {
		return nil, venueFailure(s.addr, "lending withdraw", fmt.Errorf("withdraw returned %s", redeemed))
	}

	var out *big.Int
	if s.underlying == tokenOut {
		if err := tx.Transfer(tokenOut, s.addr, caller, redeemed); err != nil {
			return nil, venueFailure(s.addr, "pay output", err)
		}
		out = redeemed
	} else {
		out, err = s.stable.Exchange(ctx, tx, s.addr, s.i, s.j, redeemed, minimumOut, caller)
		if err != nil {
			return nil, venueFailure(s.addr, "stable exchange", err)
		}
	}
	if err := guard.verify(tx); err != nil {
		return nil, err
	}
	return out, nil
}
