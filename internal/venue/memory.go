package venue

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/relay/internal/ledger"
)

// MemoryRouter pays out of reserves it holds on the ledger at its own
// address, hop by hop along the path.
type MemoryRouter struct {
	*book
	addr common.Address
}

func NewRouter(addr common.Address, rates ...Rate) *MemoryRouter {
	return &MemoryRouter{book: newBook(rates), addr: addr}
}

func (r *MemoryRouter) Address() common.Address { return r.addr }

func (r *MemoryRouter) SwapExactTokensForTokens(_ context.Context, tx *ledger.Tx, caller common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address) ([]*big.Int, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	if len(path) < 2 {
		return nil, fmt.Errorf("router: invalid path length %d", len(path))
	}
	if err := checkPositive(amountIn); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i+1 < len(path); i++ {
		out, err := r.quote(path[i], path[i+1], amounts[i])
		if err != nil {
			return nil, fmt.Errorf("router: %w", err)
		}
		amounts[i+1] = out
	}
	last := amounts[len(amounts)-1]
	if err := checkMinimum(last, amountOutMin); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	if err := tx.Transfer(path[0], caller, r.addr, amountIn); err != nil {
		return nil, fmt.Errorf("router: pull input: %w", err)
	}
	if err := tx.Transfer(path[len(path)-1], r.addr, to, last); err != nil {
		return nil, fmt.Errorf("router: pay output: %w", err)
	}
	return amounts, nil
}

// MemoryLendingPool redeems aTokens one-for-one out of underlying reserves
// held at the pool address.
type MemoryLendingPool struct {
	*book
	addr       common.Address
	underlying map[common.Address]common.Address
	aTokens    map[common.Address]common.Address
}

type Reserve struct {
	Underlying common.Address
	AToken     common.Address
}

func NewLendingPool(addr common.Address, reserves ...Reserve) *MemoryLendingPool {
	p := &MemoryLendingPool{
		book:       newBook(nil),
		addr:       addr,
		underlying: map[common.Address]common.Address{},
		aTokens:    map[common.Address]common.Address{},
	}
	for _, r := range reserves {
		p.underlying[r.AToken] = r.Underlying
		p.aTokens[r.Underlying] = r.AToken
	}
	return p
}

func (p *MemoryLendingPool) Address() common.Address { return p.addr }

func (p *MemoryLendingPool) UnderlyingOf(aToken common.Address) (common.Address, bool) {
	u, ok := p.underlying[aToken]
	return u, ok
}

// Withdraw burns the caller's aTokens for asset and sends the underlying to
// to. An amount equal to maxUint256 (all ones) withdraws the caller's whole position.
func (p *MemoryLendingPool) Withdraw(_ context.Context, tx *ledger.Tx, caller, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	aToken, ok := p.aTokens[asset]
	if !ok {
		return nil, fmt.Errorf("lending pool: no reserve for %s", asset.Hex())
	}
	if err := checkPositive(amount); err != nil {
		return nil, fmt.Errorf("lending pool: %w", err)
	}
	if amount.Cmp(maxUint256) == 0 {
		amount = tx.BalanceOf(aToken, caller)
		if amount.Sign() == 0 {
			return nil, fmt.Errorf("lending pool: nothing to withdraw")
		}
	}
	if err := tx.Burn(aToken, caller, amount); err != nil {
		return nil, fmt.Errorf("lending pool: burn position: %w", err)
	}
	if err := tx.Transfer(asset, p.addr, to, amount); err != nil {
		return nil, fmt.Errorf("lending pool: pay underlying: %w", err)
	}
	return new(big.Int).Set(amount), nil
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// MemoryStablePool exchanges between its coins at configured rates.
type MemoryStablePool struct {
	*book
	addr  common.Address
	coins []common.Address
}

func NewStablePool(addr common.Address, coins []common.Address, rates ...Rate) *MemoryStablePool {
	return &MemoryStablePool{book: newBook(rates), addr: addr, coins: append([]common.Address(nil), coins...)}
}

func (p *MemoryStablePool) Address() common.Address { return p.addr }

func (p *MemoryStablePool) Coins() []common.Address {
	return append([]common.Address(nil), p.coins...)
}

func (p *MemoryStablePool) Exchange(_ context.Context, tx *ledger.Tx, caller common.Address, i, j int, dx, minDy *big.Int, to common.Address) (*big.Int, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if i < 0 || j < 0 || i >= len(p.coins) || j >= len(p.coins) || i == j {
		return nil, fmt.Errorf("stable pool: invalid coin indices %d -> %d", i, j)
	}
	if err := checkPositive(dx); err != nil {
		return nil, fmt.Errorf("stable pool: %w", err)
	}
	dy, err := p.quote(p.coins[i], p.coins[j], dx)
	if err != nil {
		return nil, fmt.Errorf("stable pool: %w", err)
	}
	if err := checkMinimum(dy, minDy); err != nil {
		return nil, fmt.Errorf("stable pool: %w", err)
	}
	if err := tx.Transfer(p.coins[i], caller, p.addr, dx); err != nil {
		return nil, fmt.Errorf("stable pool: pull input: %w", err)
	}
	if err := tx.Transfer(p.coins[j], p.addr, to, dy); err != nil {
		return nil, fmt.Errorf("stable pool: pay output: %w", err)
	}
	return dy, nil
}

// CoinIndex returns the pool index of coin, or -1.
func CoinIndex(pool StablePool, coin common.Address) int {
	for i, c := range pool.Coins() {
		if c == coin {
			return i
		}
	}
	return -1
}
