// Package inbox implements the destination side of the relay: bridged tokens
// arrive through the transport, are swapped into the canonical asset by the
// registered swapper and paid out to the recipient. A receive that cannot
// complete leaves the bridged tokens custodied at the inbox.
package inbox

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/relay/internal/errors"
	"github.com/ggonzalez94/relay/internal/events"
	"github.com/ggonzalez94/relay/internal/id"
	"github.com/ggonzalez94/relay/internal/ledger"
	"github.com/ggonzalez94/relay/internal/registry"
	"github.com/ggonzalez94/relay/internal/swapper"
)

// SwapperSeed is one configured (tokenIn, tokenOut) -> swapper entry.
type SwapperSeed struct {
	TokenIn  common.Address
	TokenOut common.Address
	Swapper  common.Address
}

type Options struct {
	Chain     id.ChainID
	Address   common.Address
	Owner     common.Address
	Bridge    common.Address
	Canonical common.Address
	Ledger    *ledger.Ledger
	Directory *swapper.Directory
	Sink      events.Sink
	Seeds     []SwapperSeed
	Now       func() time.Time
}

type Inbox struct {
	chain     id.ChainID
	addr      common.Address
	bridge    common.Address
	canonical common.Address
	ledger    *ledger.Ledger
	directory *swapper.Directory
	swappers  *registry.Registry[id.TokenPair]
	sink      events.Sink
	now       func() time.Time
}

// Delivery describes a completed receive.
type Delivery struct {
	Chain     id.ChainID     `json:"chain_id"`
	Inbox     common.Address `json:"inbox"`
	TokenIn   common.Address `json:"token_in"`
	TokenOut  common.Address `json:"token_out"`
	AmountIn  *big.Int       `json:"amount_in"`
	AmountOut *big.Int       `json:"amount_out"`
	Swapper   common.Address `json:"swapper"`
	Recipient common.Address `json:"recipient"`
}

func New(opts Options) (*Inbox, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("inbox: ledger is required")
	}
	if opts.Directory == nil {
		return nil, fmt.Errorf("inbox: swapper directory is required")
	}
	if opts.Ledger.Chain() != opts.Chain {
		return nil, fmt.Errorf("inbox: ledger is for chain %s, inbox for chain %s", opts.Ledger.Chain(), opts.Chain)
	}
	zero := common.Address{}
	if opts.Address == zero || opts.Owner == zero || opts.Bridge == zero || opts.Canonical == zero {
		return nil, fmt.Errorf("inbox: address, owner, bridge and canonical token are required")
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	in := &Inbox{
		chain:     opts.Chain,
		addr:      opts.Address,
		bridge:    opts.Bridge,
		canonical: opts.Canonical,
		ledger:    opts.Ledger,
		directory: opts.Directory,
		sink:      opts.Sink,
		now:       opts.Now,
	}
	in.swappers = registry.New("swapper registry", opts.Owner, func(p id.TokenPair) error {
		return clierr.New(clierr.CodeNoSwapperRegistered, fmt.Sprintf("no swapper registered for %s on chain %s", p, in.chain))
	})
	for _, seed := range opts.Seeds {
		if err := in.setSwapper(opts.Owner, seed.TokenIn, seed.TokenOut, seed.Swapper); err != nil {
			return nil, fmt.Errorf("inbox: seed %s: %w", id.NewTokenPair(seed.TokenIn, seed.TokenOut), err)
		}
	}
	return in, nil
}

func (i *Inbox) Chain() id.ChainID             { return i.chain }
func (i *Inbox) Address() common.Address       { return i.addr }
func (i *Inbox) Owner() common.Address         { return i.swappers.Owner() }
func (i *Inbox) Bridge() common.Address        { return i.bridge }
func (i *Inbox) Canonical() common.Address     { return i.canonical }
func (i *Inbox) Directory() *swapper.Directory { return i.directory }
func (i *Inbox) Holdings() []ledger.Holding    { return i.ledger.Holdings(i.addr) }
func (i *Inbox) Ledger() *ledger.Ledger        { return i.ledger }

// AddSwapper registers or overwrites the swapper for (tokenIn, tokenOut).
func (i *Inbox) AddSwapper(caller, tokenIn, tokenOut, swapperAddr common.Address) error {
	return i.setSwapper(caller, tokenIn, tokenOut, swapperAddr)
}

func (i *Inbox) setSwapper(caller, tokenIn, tokenOut, swapperAddr common.Address) error {
	if err := i.swappers.Authorize(caller); err != nil {
		return err
	}
	if tokenIn == tokenOut {
		return clierr.New(clierr.CodeUsage, "swapper pair must name two different tokens")
	}
	pair := id.NewTokenPair(tokenIn, tokenOut)
	prev, err := i.swappers.Set(caller, pair, swapperAddr)
	if err != nil {
		return err
	}
	e := events.Event{
		Kind:     events.KindRegistryWrite,
		Chain:    i.chain,
		Contract: i.addr.Hex(),
		Registry: "swappers",
		Key:      pair.String(),
		Swapper:  swapperAddr.Hex(),
	}
	if prev != (common.Address{}) {
		e.Previous = prev.Hex()
	}
	i.emit(e)
	return nil
}

func (i *Inbox) Resolve(tokenIn, tokenOut common.Address) (common.Address, error) {
	return i.swappers.Resolve(id.NewTokenPair(tokenIn, tokenOut))
}

// SwapperEntry is one row of the swapper registry.
type SwapperEntry struct {
	Pair    id.TokenPair
	Swapper common.Address
}

// Swappers lists the registry ordered by pair.
func (i *Inbox) Swappers() []SwapperEntry {
	entries := i.swappers.Entries()
	out := make([]SwapperEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, SwapperEntry{Pair: e.Key, Swapper: e.Address})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Pair.String() < out[b].Pair.String() })
	return out
}

// Receive is called by the bridge transport once amount of tokenIn has been
// credited to the inbox. It swaps into the canonical asset and pays
// recipient, as one unit: on any failure every balance change is rolled back
// and the bridged tokens stay with the inbox.
func (i *Inbox) Receive(ctx context.Context, caller, tokenIn common.Address, amount *big.Int, recipient common.Address) (Delivery, error) {
	if caller != i.bridge {
		return Delivery{}, clierr.New(clierr.CodeUnauthorized, fmt.Sprintf("inbox: caller %s is not the bridge transport", caller.Hex()))
	}
	if amount == nil || amount.Sign() <= 0 {
		return Delivery{}, clierr.New(clierr.CodeUsage, "inbox: receive amount must be positive")
	}
	if recipient == (common.Address{}) {
		return Delivery{}, clierr.New(clierr.CodeUsage, "inbox: recipient is required")
	}

	d := Delivery{
		Chain:     i.chain,
		Inbox:     i.addr,
		TokenIn:   tokenIn,
		TokenOut:  i.canonical,
		AmountIn:  new(big.Int).Set(amount),
		Recipient: recipient,
	}
	credited := true
	err := i.ledger.Atomic(func(tx *ledger.Tx) error {
		held := tx.BalanceOf(tokenIn, i.addr)
		if held.Cmp(amount) < 0 {
			credited = false
			return clierr.New(clierr.CodeUsage, fmt.Sprintf("inbox: holds %s of %s, cannot receive %s", held, tokenIn.Hex(), amount))
		}
		swapperAddr, err := i.swappers.Resolve(id.NewTokenPair(tokenIn, i.canonical))
		if err != nil {
			return err
		}
		d.Swapper = swapperAddr
		strategy, ok := i.directory.Lookup(swapperAddr)
		if !ok {
			return clierr.New(clierr.CodeVenueFailure, fmt.Sprintf("inbox: no swapper deployed at %s", swapperAddr.Hex()))
		}

		inBefore := tx.BalanceOf(tokenIn, i.addr)
		outBefore := tx.BalanceOf(i.canonical, i.addr)
		out, err := strategy.Swap(ctx, tx, i.addr, tokenIn, i.canonical, amount)
		if err != nil {
			return err
		}
		if out == nil || out.Sign() <= 0 {
			return clierr.New(clierr.CodeVenueFailure, fmt.Sprintf("inbox: swapper %s returned no output", swapperAddr.Hex()))
		}
		spent := new(big.Int).Sub(inBefore, tx.BalanceOf(tokenIn, i.addr))
		gained := new(big.Int).Sub(tx.BalanceOf(i.canonical, i.addr), outBefore)
		if spent.Cmp(amount) != 0 || gained.Cmp(out) != 0 {
			return clierr.New(clierr.CodeVenueFailure, fmt.Sprintf("inbox: swapper %s reported %s out but inbox spent %s and gained %s", swapperAddr.Hex(), out, spent, gained))
		}
		if err := tx.Transfer(i.canonical, i.addr, recipient, out); err != nil {
			return clierr.Wrap(clierr.CodeInternal, "inbox: pay recipient", err)
		}
		d.AmountOut = new(big.Int).Set(out)
		return nil
	})
	if err != nil && !credited {
		return Delivery{}, err
	}
	if err != nil {
		reason := clierr.TypeName(clierr.CodeInternal)
		if cErr, ok := clierr.As(err); ok {
			reason = clierr.TypeName(cErr.Code)
		}
		i.emit(events.Event{
			Kind:      events.KindCustodied,
			Chain:     i.chain,
			Contract:  i.addr.Hex(),
			Token:     tokenIn.Hex(),
			TokenOut:  i.canonical.Hex(),
			Amount:    amount.String(),
			Recipient: recipient.Hex(),
			Swapper:   hexOrEmpty(d.Swapper),
			Reason:    reason,
			Detail:    err.Error(),
		})
		return Delivery{}, err
	}
	i.emit(events.Event{
		Kind:      events.KindDelivered,
		Chain:     i.chain,
		Contract:  i.addr.Hex(),
		Token:     tokenIn.Hex(),
		TokenOut:  i.canonical.Hex(),
		Amount:    amount.String(),
		AmountOut: d.AmountOut.String(),
		Recipient: recipient.Hex(),
		Swapper:   d.Swapper.Hex(),
	})
	return d, nil
}

// Release pays custodied tokens out of the inbox. Owner only; it is the
// manual remediation path for transfers that could not be swapped.
func (i *Inbox) Release(ctx context.Context, caller, token common.Address, amount *big.Int, to common.Address) error {
	if err := i.swappers.Authorize(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return clierr.New(clierr.CodeUsage, "inbox: release amount must be positive")
	}
	if to == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, "inbox: release destination is required")
	}
	if err := i.ledger.Atomic(func(tx *ledger.Tx) error {
		return tx.Transfer(token, i.addr, to, amount)
	}); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "inbox: release custodied funds", err)
	}
	i.emit(events.Event{
		Kind:      events.KindReleased,
		Chain:     i.chain,
		Contract:  i.addr.Hex(),
		Token:     token.Hex(),
		Amount:    amount.String(),
		Recipient: to.Hex(),
	})
	return nil
}

func (i *Inbox) emit(e events.Event) {
	i.sink.Emit(context.Background(), events.Stamp(e, i.now))
}

func hexOrEmpty(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}
