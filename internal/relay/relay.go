// Package relay assembles a complete in-process relay (ledgers, venues,
// swappers, inboxes, outboxes and the loopback transport) from a deployment
// manifest.
package relay

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/relay/internal/bridge"
	"github.com/ggonzalez94/relay/internal/config"
	clierr "github.com/ggonzalez94/relay/internal/errors"
	"github.com/ggonzalez94/relay/internal/events"
	"github.com/ggonzalez94/relay/internal/id"
	"github.com/ggonzalez94/relay/internal/inbox"
	"github.com/ggonzalez94/relay/internal/ledger"
	"github.com/ggonzalez94/relay/internal/outbox"
	"github.com/ggonzalez94/relay/internal/registry"
	"github.com/ggonzalez94/relay/internal/swapper"
	"github.com/rs/zerolog"
)

type Options struct {
	Sink           events.Sink
	Log            zerolog.Logger
	ManualDelivery bool
	// Transport replaces the loopback for every outbox when set. The
	// loopback is still built so inboxes stay reachable in simulation.
	Transport bridge.Transport
}

type Relay struct {
	ledgers      map[id.ChainID]*ledger.Ledger
	directories  map[id.ChainID]*swapper.Directory
	outboxes     map[id.ChainID]*outbox.Outbox
	inboxes      map[id.ChainID]*inbox.Inbox
	venues       map[string]*builtVenue
	swapperNames map[string]common.Address
	transport    *bridge.Loopback
	log          zerolog.Logger
}

// Build wires every contract named in d. Any invalid reference is a usage
// error naming the offending entry.
func Build(d config.Deployment, opts Options) (*Relay, error) {
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}
	transportOpts := []bridge.LoopbackOption{bridge.WithLogger(opts.Log)}
	if opts.ManualDelivery {
		transportOpts = append(transportOpts, bridge.WithManualDelivery())
	}
	r := &Relay{
		ledgers:     map[id.ChainID]*ledger.Ledger{},
		directories: map[id.ChainID]*swapper.Directory{},
		outboxes:    map[id.ChainID]*outbox.Outbox{},
		inboxes:     map[id.ChainID]*inbox.Inbox{},
		venues:      map[string]*builtVenue{},
		transport:   bridge.NewLoopback(transportOpts...),
		log:         opts.Log,
	}

	for i, v := range d.Venues {
		if err := r.buildVenue(v); err != nil {
			return nil, wrapEntry(fmt.Sprintf("venues[%d]", i), err)
		}
	}
	if err := r.buildSwappers(d.Swappers); err != nil {
		return nil, err
	}
	bridges := map[id.ChainID]common.Address{}
	for i, cfg := range d.Inboxes {
		in, err := r.buildInbox(cfg, opts.Sink)
		if err != nil {
			return nil, wrapEntry(fmt.Sprintf("inboxes[%d]", i), err)
		}
		bridges[in.Chain()] = in.Bridge()
	}
	for i, b := range d.Balances {
		if err := r.fund(b); err != nil {
			return nil, wrapEntry(fmt.Sprintf("balances[%d]", i), err)
		}
	}
	for i, o := range d.Outboxes {
		chain, err := id.ParseChain(o.Chain)
		if err != nil {
			return nil, wrapEntry(fmt.Sprintf("outboxes[%d]", i), err)
		}
		r.ledger(chain.ID)
	}

	for chain, lg := range r.ledgers {
		addr, ok := bridges[chain]
		if !ok {
			raw, known := registry.WormholeTokenBridge(chain)
			if !known {
				r.log.Debug().Str("chain_id", chain.String()).Msg("no token bridge known; chain left off the transport")
				continue
			}
			addr = common.HexToAddress(raw)
		}
		r.transport.AttachChain(lg, addr)
	}
	for chain, in := range r.inboxes {
		target := in
		if err := r.transport.AttachInbox(chain, in.Address(), func(ctx context.Context, caller, token common.Address, amount *big.Int, recipient common.Address) error {
			_, err := target.Receive(ctx, caller, token, amount, recipient)
			return err
		}); err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "attach inbox to transport", err)
		}
	}
	for i, a := range d.Assets {
		if err := r.registerAsset(a); err != nil {
			return nil, wrapEntry(fmt.Sprintf("assets[%d]", i), err)
		}
	}
	var transport bridge.Transport = r.transport
	if opts.Transport != nil {
		transport = opts.Transport
	}
	for i, o := range d.Outboxes {
		if err := r.buildOutbox(o, transport, opts.Sink); err != nil {
			return nil, wrapEntry(fmt.Sprintf("outboxes[%d]", i), err)
		}
	}
	return r, nil
}

func wrapEntry(entry string, err error) error {
	if cErr, ok := clierr.As(err); ok {
		return clierr.Wrap(cErr.Code, "deployment "+entry, err)
	}
	return clierr.Wrap(clierr.CodeUsage, "deployment "+entry, err)
}

func (r *Relay) ledger(chain id.ChainID) *ledger.Ledger {
	lg, ok := r.ledgers[chain]
	if !ok {
		lg = ledger.New(chain)
		r.ledgers[chain] = lg
		r.directories[chain] = swapper.NewDirectory()
	}
	return lg
}

func (r *Relay) buildInbox(cfg config.InboxConfig, sink events.Sink) (*inbox.Inbox, error) {
	chain, err := id.ParseChain(cfg.Chain)
	if err != nil {
		return nil, err
	}
	if _, exists := r.inboxes[chain.ID]; exists {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("more than one inbox on chain %s", chain.Slug))
	}
	addr, err := id.ParseAddress(cfg.Address, "inbox address")
	if err != nil {
		return nil, err
	}
	owner, err := id.ParseAddress(cfg.Owner, "inbox owner")
	if err != nil {
		return nil, err
	}
	var bridgeAddr common.Address
	if strings.TrimSpace(cfg.Bridge) != "" {
		if bridgeAddr, err = id.ParseAddress(cfg.Bridge, "inbox bridge"); err != nil {
			return nil, err
		}
	} else {
		raw, ok := registry.WormholeTokenBridge(chain.ID)
		if !ok {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("no token bridge known for chain %s; set bridge explicitly", chain.Slug))
		}
		bridgeAddr = common.HexToAddress(raw)
	}
	canonical, err := id.ParseToken(cfg.Canonical, chain)
	if err != nil {
		return nil, err
	}
	seeds := make([]inbox.SwapperSeed, 0, len(cfg.Swappers))
	for _, s := range cfg.Swappers {
		in, err := id.ParseToken(s.TokenIn, chain)
		if err != nil {
			return nil, err
		}
		out, err := id.ParseToken(s.TokenOut, chain)
		if err != nil {
			return nil, err
		}
		swapperAddr, err := r.resolveSwapper(s.Swapper)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, inbox.SwapperSeed{TokenIn: in.Address, TokenOut: out.Address, Swapper: swapperAddr})
	}
	lg := r.ledger(chain.ID)
	in, err := inbox.New(inbox.Options{
		Chain:     chain.ID,
		Address:   addr,
		Owner:     owner,
		Bridge:    bridgeAddr,
		Canonical: canonical.Address,
		Ledger:    lg,
		Directory: r.directories[chain.ID],
		Sink:      sink,
		Seeds:     seeds,
	})
	if err != nil {
		return nil, err
	}
	r.inboxes[chain.ID] = in
	return in, nil
}

func (r *Relay) buildOutbox(cfg config.OutboxConfig, transport bridge.Transport, sink events.Sink) error {
	chain, err := id.ParseChain(cfg.Chain)
	if err != nil {
		return err
	}
	if _, exists := r.outboxes[chain.ID]; exists {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("more than one outbox on chain %s", chain.Slug))
	}
	addr, err := id.ParseAddress(cfg.Address, "outbox address")
	if err != nil {
		return err
	}
	owner, err := id.ParseAddress(cfg.Owner, "outbox owner")
	if err != nil {
		return err
	}
	seeds := make([]outbox.InboxSeed, 0, len(cfg.Inboxes))
	for _, s := range cfg.Inboxes {
		dest, err := id.ParseChain(s.Chain)
		if err != nil {
			return err
		}
		inboxAddr, err := id.ParseAddress(s.Inbox, "inbox address")
		if err != nil {
			return err
		}
		seeds = append(seeds, outbox.InboxSeed{Chain: dest.ID, Inbox: inboxAddr})
	}
	o, err := outbox.New(outbox.Options{
		Chain:     chain.ID,
		Address:   addr,
		Owner:     owner,
		Transport: transport,
		Sink:      sink,
		Seeds:     seeds,
	})
	if err != nil {
		return err
	}
	r.outboxes[chain.ID] = o
	return nil
}

func (r *Relay) registerAsset(cfg config.AssetConfig) error {
	src, err := id.ParseChain(cfg.SourceChain)
	if err != nil {
		return err
	}
	dst, err := id.ParseChain(cfg.DestChain)
	if err != nil {
		return err
	}
	token, err := id.ParseToken(cfg.Token, src)
	if err != nil {
		return err
	}
	wrapped, err := id.ParseToken(cfg.Wrapped, dst)
	if err != nil {
		return err
	}
	r.transport.RegisterAsset(src.ID, token.Address, dst.ID, wrapped.Address)
	return nil
}

func (r *Relay) fund(cfg config.BalanceConfig) error {
	chain, err := id.ParseChain(cfg.Chain)
	if err != nil {
		return err
	}
	holder, err := r.resolveHolder(chain.ID, cfg.Holder)
	if err != nil {
		return err
	}
	token, err := id.ParseToken(cfg.Token, chain)
	if err != nil {
		return err
	}
	amount, err := id.ParseAmount(cfg.Amount, "", token.Decimals)
	if err != nil {
		return err
	}
	return r.ledger(chain.ID).Atomic(func(tx *ledger.Tx) error {
		return tx.Mint(token.Address, holder, amount)
	})
}

// resolveHolder accepts a hex address or the name of a venue on chain, so
// manifests can fund venue reserves by name.
func (r *Relay) resolveHolder(chain id.ChainID, ref string) (common.Address, error) {
	if v, ok := r.venues[strings.ToLower(strings.TrimSpace(ref))]; ok {
		if v.chain != chain {
			return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("venue %s is on chain %s, not %s", ref, v.chain, chain))
		}
		return v.address, nil
	}
	return id.ParseAddress(ref, "holder")
}

func (r *Relay) Transport() *bridge.Loopback { return r.transport }

func (r *Relay) Outbox(chain id.ChainID) (*outbox.Outbox, error) {
	o, ok := r.outboxes[chain]
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("no outbox deployed on chain %s", chain))
	}
	return o, nil
}

func (r *Relay) Inbox(chain id.ChainID) (*inbox.Inbox, error) {
	in, ok := r.inboxes[chain]
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("no inbox deployed on chain %s", chain))
	}
	return in, nil
}

func (r *Relay) Ledger(chain id.ChainID) (*ledger.Ledger, bool) {
	lg, ok := r.ledgers[chain]
	return lg, ok
}

func (r *Relay) Directory(chain id.ChainID) (*swapper.Directory, bool) {
	d, ok := r.directories[chain]
	return d, ok
}

func (r *Relay) Outboxes() []*outbox.Outbox {
	out := make([]*outbox.Outbox, 0, len(r.outboxes))
	for _, o := range r.outboxes {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain() < out[j].Chain() })
	return out
}

func (r *Relay) Inboxes() []*inbox.Inbox {
	out := make([]*inbox.Inbox, 0, len(r.inboxes))
	for _, in := range r.inboxes {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain() < out[j].Chain() })
	return out
}

// Chains lists every chain with a ledger, ascending.
func (r *Relay) Chains() []id.ChainID {
	out := make([]id.ChainID, 0, len(r.ledgers))
	for c := range r.ledgers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Send routes a transfer through the outbox on from. The sender must hold
// amount of token on the source ledger.
func (r *Relay) Send(ctx context.Context, from id.ChainID, sender common.Address, to id.ChainID, token common.Address, amount *big.Int, recipient common.Address) (outbox.Routed, error) {
	o, err := r.Outbox(from)
	if err != nil {
		return outbox.Routed{}, err
	}
	return o.Send(ctx, sender, to, token, amount, recipient)
}

// Release pays the wrapped tokens of a pending transfer out of the
// destination inbox to `to` and settles the transfer in the transport so it
// is not retried. caller must own the inbox.
func (r *Relay) Release(ctx context.Context, caller common.Address, transferID string, to common.Address) (bridge.Message, error) {
	m, ok := r.transport.Message(transferID)
	if !ok {
		return bridge.Message{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown transfer %s", transferID))
	}
	if m.Receipt.Status != bridge.StatusPending || !m.Credited {
		return bridge.Message{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("transfer %s holds no custodied tokens", transferID))
	}
	in, err := r.Inbox(m.Transfer.DestChain)
	if err != nil {
		return bridge.Message{}, err
	}
	if err := in.Release(ctx, caller, m.Wrapped, m.Transfer.Amount, to); err != nil {
		return bridge.Message{}, err
	}
	return r.transport.MarkReleased(transferID)
}

// BalanceOf reads a committed balance; unknown chains read as zero.
func (r *Relay) BalanceOf(chain id.ChainID, token, holder common.Address) *big.Int {
	lg, ok := r.ledgers[chain]
	if !ok {
		return new(big.Int)
	}
	return lg.BalanceOf(token, holder)
}
