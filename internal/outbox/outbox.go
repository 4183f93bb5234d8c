// Package outbox implements the source side of the relay: it resolves the
// destination chain to its registered Inbox and hands the transfer to the
// bridge transport.
package outbox

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/relay/internal/bridge"
	clierr "github.com/ggonzalez94/relay/internal/errors"
	"github.com/ggonzalez94/relay/internal/events"
	"github.com/ggonzalez94/relay/internal/id"
	"github.com/ggonzalez94/relay/internal/registry"
)

// InboxSeed is one configured chain -> inbox entry.
type InboxSeed struct {
	Chain id.ChainID
	Inbox common.Address
}

type Options struct {
	Chain     id.ChainID
	Address   common.Address
	Owner     common.Address
	Transport bridge.Transport
	Sink      events.Sink
	Seeds     []InboxSeed
	Now       func() time.Time
}

type Outbox struct {
	chain     id.ChainID
	addr      common.Address
	transport bridge.Transport
	inboxes   *registry.Registry[id.ChainID]
	sink      events.Sink
	now       func() time.Time
	nonce     atomic.Uint32
}

// Routed is the result of a successful Send.
type Routed struct {
	SourceChain id.ChainID     `json:"source_chain_id"`
	DestChain   id.ChainID     `json:"dest_chain_id"`
	Inbox       common.Address `json:"inbox"`
	Token       common.Address `json:"token"`
	Amount      *big.Int       `json:"amount"`
	Recipient   common.Address `json:"recipient"`
	Nonce       uint32         `json:"nonce"`
	Receipt     bridge.Receipt `json:"receipt"`
}

func New(opts Options) (*Outbox, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("outbox: transport is required")
	}
	if opts.Address == (common.Address{}) || opts.Owner == (common.Address{}) {
		return nil, fmt.Errorf("outbox: address and owner are required")
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	o := &Outbox{
		chain:     opts.Chain,
		addr:      opts.Address,
		transport: opts.Transport,
		sink:      opts.Sink,
		now:       opts.Now,
	}
	o.inboxes = registry.New("inbox registry", opts.Owner, func(c id.ChainID) error {
		return clierr.New(clierr.CodeUnknownDestination, fmt.Sprintf("no inbox registered for chain %s", c))
	})
	for _, seed := range opts.Seeds {
		if err := o.AddInbox(opts.Owner, seed.Chain, seed.Inbox); err != nil {
			return nil, fmt.Errorf("outbox: seed chain %s: %w", seed.Chain, err)
		}
	}
	return o, nil
}

func (o *Outbox) Chain() id.ChainID       { return o.chain }
func (o *Outbox) Address() common.Address { return o.addr }
func (o *Outbox) Owner() common.Address   { return o.inboxes.Owner() }

// AddInbox registers or overwrites the inbox for chain.
func (o *Outbox) AddInbox(caller common.Address, chain id.ChainID, inbox common.Address) error {
	if err := o.inboxes.Authorize(caller); err != nil {
		return err
	}
	if chain == 0 {
		return clierr.New(clierr.CodeUsage, "outbox: chain id 0 is reserved")
	}
	prev, err := o.inboxes.Set(caller, chain, inbox)
	if err != nil {
		return err
	}
	e := events.Event{
		Kind:      events.KindRegistryWrite,
		Chain:     o.chain,
		Contract:  o.addr.Hex(),
		Registry:  "inboxes",
		Key:       chain.String(),
		DestChain: chain,
		Inbox:     inbox.Hex(),
	}
	if prev != (common.Address{}) {
		e.Previous = prev.Hex()
	}
	o.emit(e)
	return nil
}

func (o *Outbox) Resolve(chain id.ChainID) (common.Address, error) {
	return o.inboxes.Resolve(chain)
}

// InboxEntry is one row of the inbox registry.
type InboxEntry struct {
	Chain id.ChainID
	Inbox common.Address
}

// Inboxes lists the registry ordered by chain id.
func (o *Outbox) Inboxes() []InboxEntry {
	entries := o.inboxes.Entries()
	out := make([]InboxEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, InboxEntry{Chain: e.Key, Inbox: e.Address})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out
}

// Send routes amount of token from caller to recipient on chain through the
// registered inbox. Failures after the transport accepted the transfer are
// the transport's to handle; Send never retries.
func (o *Outbox) Send(ctx context.Context, caller common.Address, chain id.ChainID, token common.Address, amount *big.Int, recipient common.Address) (Routed, error) {
	inbox, err := o.inboxes.Resolve(chain)
	if err != nil {
		return Routed{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return Routed{}, clierr.New(clierr.CodeUsage, "outbox: amount must be positive")
	}
	if recipient == (common.Address{}) {
		return Routed{}, clierr.New(clierr.CodeUsage, "outbox: recipient is required")
	}
	if token == (common.Address{}) {
		return Routed{}, clierr.New(clierr.CodeUsage, "outbox: token is required")
	}

	t := bridge.Transfer{
		SourceChain: o.chain,
		DestChain:   chain,
		Token:       token,
		Amount:      new(big.Int).Set(amount),
		Sender:      caller,
		Inbox:       inbox,
		Recipient:   recipient,
		Nonce:       o.nonce.Add(1),
	}
	receipt, err := o.transport.Transfer(ctx, t)
	if err != nil {
		return Routed{}, err
	}
	o.emit(events.Event{
		Kind:      events.KindRouted,
		Chain:     o.chain,
		Contract:  o.addr.Hex(),
		DestChain: chain,
		Inbox:     inbox.Hex(),
		Token:     token.Hex(),
		Amount:    amount.String(),
		Recipient: recipient.Hex(),
		Transfer:  receipt.ID,
	})
	return Routed{
		SourceChain: o.chain,
		DestChain:   chain,
		Inbox:       inbox,
		Token:       token,
		Amount:      t.Amount,
		Recipient:   recipient,
		Nonce:       t.Nonce,
		Receipt:     receipt,
	}, nil
}

func (o *Outbox) emit(e events.Event) {
	o.sink.Emit(context.Background(), events.Stamp(e, o.now))
}
