// Package ledger holds per-chain token balances and runs every relay entry
// point as one serialized, all-or-nothing unit of work.
package ledger

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/relay/internal/id"
)

type key struct {
	token  common.Address
	holder common.Address
}

type Ledger struct {
	mu       sync.Mutex
	chain    id.ChainID
	balances map[key]*big.Int
}

func New(chain id.ChainID) *Ledger {
	return &Ledger{chain: chain, balances: map[key]*big.Int{}}
}

func (l *Ledger) Chain() id.ChainID { return l.chain }

// Atomic runs fn with exclusive access to the ledger. If fn returns an error
// (or panics) every balance write made through the Tx is reverted.
func (l *Ledger) Atomic(fn func(tx *Tx) error) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{l: l}
	defer func() {
		if r := recover(); r != nil {
			tx.revert()
			panic(r)
		}
		if err != nil {
			tx.revert()
		}
		tx.l = nil
	}()
	return fn(tx)
}

// BalanceOf reads a committed balance.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(token, holder)
}

// Holdings lists every non-zero balance held by holder, sorted by token.
func (l *Ledger) Holdings(holder common.Address) []Holding {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []Holding{}
	for k, v := range l.balances {
		if k.holder == holder && v.Sign() != 0 {
			out = append(out, Holding{Token: k.token, Amount: new(big.Int).Set(v)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Token.Hex() < out[j].Token.Hex()
	})
	return out
}

type Holding struct {
	Token  common.Address
	Amount *big.Int
}

func (l *Ledger) balance(token, holder common.Address) *big.Int {
	if v, ok := l.balances[key{token, holder}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

type journalEntry struct {
	k       key
	prev    *big.Int
	existed bool
}

// Tx is a handle on the ledger valid only inside Atomic.
type Tx struct {
	l       *Ledger
	journal []journalEntry
}

func (t *Tx) Chain() id.ChainID { return t.ledger().chain }

func (t *Tx) BalanceOf(token, holder common.Address) *big.Int {
	return t.ledger().balance(token, holder)
}

// Transfer moves amount of token from one holder to another.
func (t *Tx) Transfer(token, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if from == to {
		if t.BalanceOf(token, from).Cmp(amount) < 0 {
			return insufficient(token, from, amount)
		}
		return nil
	}
	if err := t.Burn(token, from, amount); err != nil {
		return err
	}
	return t.Mint(token, to, amount)
}

// Mint credits amount of token to holder out of thin air; bridges use it to
// materialize wrapped tokens on the destination chain.
func (t *Tx) Mint(token, holder common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	bal := t.BalanceOf(token, holder)
	t.set(key{token, holder}, bal.Add(bal, amount))
	return nil
}

func (t *Tx) Burn(token, holder common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	bal := t.BalanceOf(token, holder)
	if bal.Cmp(amount) < 0 {
		return insufficient(token, holder, amount)
	}
	t.set(key{token, holder}, bal.Sub(bal, amount))
	return nil
}

func (t *Tx) set(k key, v *big.Int) {
	l := t.ledger()
	prev, existed := l.balances[k]
	t.journal = append(t.journal, journalEntry{k: k, prev: prev, existed: existed})
	l.balances[k] = v
}

func (t *Tx) revert() {
	l := t.l
	for i := len(t.journal) - 1; i >= 0; i-- {
		entry := t.journal[i]
		if entry.existed {
			l.balances[entry.k] = entry.prev
		} else {
			delete(l.balances, entry.k)
		}
	}
	t.journal = nil
}

func (t *Tx) ledger() *Ledger {
	if t.l == nil {
		panic("ledger: Tx used outside of Atomic")
	}
	return t.l
}

// ErrInsufficientBalance is returned (wrapped) when a holder cannot cover a
// transfer or burn.
var ErrInsufficientBalance = fmt.Errorf("insufficient balance")

func insufficient(token, holder common.Address, amount *big.Int) error {
	return fmt.Errorf("%w: %s holds less than %s of %s", ErrInsufficientBalance, holder.Hex(), amount, token.Hex())
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("amount must be non-negative")
	}
	return nil
}
