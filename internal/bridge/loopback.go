package bridge

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
	"github.com/rs/zerolog"
)

// ReceiveFunc is the destination Inbox entry point. caller is the transport
// address on the destination chain.
type ReceiveFunc func(ctx context.Context, caller, tokenIn common.Address, amount *big.Int, recipient common.Address) error

// Loopback moves value between in-process ledgers. Transfer escrows the
// source token at the source chain's bridge address; delivery credits the wrapped token
// to the destination Inbox exactly once and then calls its Receive. A failed
// Receive leaves the message pending, and Deliver retries it.
type Loopback struct {
	mu        sync.Mutex
	endpoints map[id.ChainID]*endpoint
	assets    map[assetKey]common.Address
	messages  []*message
	seq       uint64
	manual    bool
	log       zerolog.Logger
}

type endpoint struct {
	addr      common.Address
	ledger    *ledger.Ledger
	receivers map[common.Address]ReceiveFunc
}

type assetKey struct {
	source id.ChainID
	token  common.Address
	dest   id.ChainID
}

type message struct {
	receipt  Receipt
	transfer Transfer
	wrapped  common.Address
	payload  []byte
	credited bool
	inflight bool
	attempts int
	lastErr  error
}

// Message is a snapshot of one transfer the loopback has accepted.
type Message struct {
	Receipt   Receipt        `json:"receipt"`
	Transfer  Transfer       `json:"-"`
	Wrapped   common.Address `json:"wrapped_token"`
	Credited  bool           `json:"credited"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
	Err       error          `json:"-"`
}

type LoopbackOption func(*Loopback)

// WithManualDelivery stops Transfer from attempting delivery inline; only
// Deliver moves messages.
func WithManualDelivery() LoopbackOption {
	return func(l *Loopback) { l.manual = true }
}

func WithLogger(log zerolog.Logger) LoopbackOption {
	return func(l *Loopback) { l.log = log }
}

func NewLoopback(opts ...LoopbackOption) *Loopback {
	l := &Loopback{
		endpoints: map[id.ChainID]*endpoint{},
		assets:    map[assetKey]common.Address{},
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AttachChain registers the ledger backing a chain and the bridge contract
// address the transport acts as on it.
func (l *Loopback) AttachChain(lg *ledger.Ledger, addr common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ep, ok := l.endpoints[lg.Chain()]; ok {
		ep.ledger = lg
		ep.addr = addr
		return
	}
	l.endpoints[lg.Chain()] = &endpoint{addr: addr, ledger: lg, receivers: map[common.Address]ReceiveFunc{}}
}

// Address returns the bridge address on chain.
func (l *Loopback) Address(chain id.ChainID) (common.Address, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ep, ok := l.endpoints[chain]
	if !ok {
		return common.Address{}, false
	}
	return ep.addr, true
}

// AttachInbox wires the Receive entry point of the inbox deployed at addr
// on chain. The chain must have been attached.
func (l *Loopback) AttachInbox(chain id.ChainID, addr common.Address, fn ReceiveFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ep, ok := l.endpoints[chain]
	if !ok {
		return fmt.Errorf("loopback: chain %s is not attached", chain)
	}
	ep.receivers[addr] = fn
	return nil
}

// RegisterAsset declares the token that represents source token on dest.
func (l *Loopback) RegisterAsset(source id.ChainID, token common.Address, dest id.ChainID, wrapped common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assets[assetKey{source: source, token: token, dest: dest}] = wrapped
}

func (l *Loopback) Transfer(ctx context.Context, t Transfer) (Receipt, error) {
	if t.Amount == nil || t.Amount.Sign() <= 0 {
		return Receipt{}, clierr.New(clierr.CodeUsage, "transfer amount must be positive")
	}
	payload, err := EncodePayload(t.Recipient)
	if err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeInternal, "encode transfer payload", err)
	}

	l.mu.Lock()
	src, ok := l.endpoints[t.SourceChain]
	if !ok {
		l.mu.Unlock()
		return Receipt{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("loopback: source chain %s is not attached", t.SourceChain))
	}
	if _, ok := l.endpoints[t.DestChain]; !ok {
		l.mu.Unlock()
		return Receipt{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("loopback: destination chain %s is not attached", t.DestChain))
	}
	wrapped, ok := l.assets[assetKey{source: t.SourceChain, token: t.Token, dest: t.DestChain}]
	if !ok {
		l.mu.Unlock()
		return Receipt{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("loopback: no wrapped asset for %s from chain %s to chain %s", t.Token.Hex(), t.SourceChain, t.DestChain))
	}
	srcLedger, escrow := src.ledger, src.addr
	l.mu.Unlock()

	amount := new(big.Int).Set(t.Amount)
	if err := srcLedger.Atomic(func(tx *ledger.Tx) error {
		return tx.Transfer(t.Token, t.Sender, escrow, amount)
	}); err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeUsage, "escrow transfer on source chain", err)
	}

	l.mu.Lock()
	l.seq++
	msg := &message{
		receipt: Receipt{
			Transport: "loopback",
			ID:        fmt.Sprintf("%s/%s/%d", t.SourceChain, escrow.Hex(), l.seq),
			Sequence:  l.seq,
			Status:    StatusPending,
		},
		transfer: t,
		wrapped:  wrapped,
		payload:  payload,
	}
	msg.transfer.Amount = amount
	l.messages = append(l.messages, msg)
	manual := l.manual
	l.mu.Unlock()

	l.log.Debug().Str("id", msg.receipt.ID).Stringer("dest_chain_id", t.DestChain).Msg("loopback transfer accepted")
	if manual {
		return msg.receipt, nil
	}
	_ = l.deliver(ctx, msg)
	return l.receiptOf(msg), nil
}

// DeliveryReport summarizes one Deliver pass.
type DeliveryReport struct {
	Delivered []Receipt         `json:"delivered"`
	Pending   []Receipt         `json:"pending"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Deliver retries every pending message in sequence order.
func (l *Loopback) Deliver(ctx context.Context) DeliveryReport {
	l.mu.Lock()
	pending := make([]*message, 0, len(l.messages))
	for _, m := range l.messages {
		if m.receipt.Status == StatusPending {
			pending = append(pending, m)
		}
	}
	l.mu.Unlock()

	report := DeliveryReport{Delivered: []Receipt{}, Pending: []Receipt{}, Errors: map[string]string{}}
	for _, m := range pending {
		if err := l.deliver(ctx, m); err != nil {
			report.Pending = append(report.Pending, l.receiptOf(m))
			report.Errors[m.receipt.ID] = err.Error()
			continue
		}
		report.Delivered = append(report.Delivered, l.receiptOf(m))
	}
	return report
}

func (l *Loopback) deliver(ctx context.Context, m *message) error {
	l.mu.Lock()
	if m.receipt.Status == StatusDelivered {
		l.mu.Unlock()
		return nil
	}
	if m.inflight {
		l.mu.Unlock()
		return clierr.New(clierr.CodeUnavailable, fmt.Sprintf("loopback: delivery of %s already in progress", m.receipt.ID))
	}
	m.inflight = true
	m.attempts++
	attempt := m.attempts
	dst := l.endpoints[m.transfer.DestChain]
	receive, ok := dst.receivers[m.transfer.Inbox]
	caller, dstLedger := dst.addr, dst.ledger
	credited := m.credited
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		m.inflight = false
		l.mu.Unlock()
	}()

	fail := func(err error) error {
		l.mu.Lock()
		m.lastErr = err
		l.mu.Unlock()
		l.log.Warn().Err(err).Str("id", m.receipt.ID).Int("attempt", attempt).Msg("loopback delivery failed")
		return err
	}
	if !ok {
		return fail(clierr.New(clierr.CodeUnavailable, fmt.Sprintf("loopback: no inbox deployed at %s on chain %s", m.transfer.Inbox.Hex(), m.transfer.DestChain)))
	}
	recipient, err := DecodePayload(m.payload)
	if err != nil {
		return fail(clierr.Wrap(clierr.CodeInternal, "loopback delivery", err))
	}
	if !credited {
		if err := dstLedger.Atomic(func(tx *ledger.Tx) error {
			return tx.Mint(m.wrapped, m.transfer.Inbox, m.transfer.Amount)
		}); err != nil {
			return fail(clierr.Wrap(clierr.CodeInternal, "credit wrapped token", err))
		}
		l.mu.Lock()
		m.credited = true
		l.mu.Unlock()
	}
	if err := receive(ctx, caller, m.wrapped, new(big.Int).Set(m.transfer.Amount), recipient); err != nil {
		return fail(err)
	}

	l.mu.Lock()
	m.receipt.Status = StatusDelivered
	m.lastErr = nil
	l.mu.Unlock()
	return nil
}

// MarkReleased settles a credited, pending message out of band after the
// inbox owner released its tokens, so Deliver stops retrying it.
func (l *Loopback) MarkReleased(transferID string) (Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m.receipt.ID != transferID {
			continue
		}
		switch {
		case m.receipt.Status != StatusPending:
			return Message{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("loopback: transfer %s is %s, not pending", transferID, m.receipt.Status))
		case !m.credited:
			return Message{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("loopback: transfer %s was never credited to the inbox", transferID))
		case m.inflight:
			return Message{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("loopback: delivery of %s in progress", transferID))
		}
		m.receipt.Status = StatusReleased
		m.lastErr = nil
		return snapshot(m), nil
	}
	return Message{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("loopback: unknown transfer %s", transferID))
}

// Message returns the snapshot of one accepted transfer.
func (l *Loopback) Message(transferID string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m.receipt.ID == transferID {
			return snapshot(m), true
		}
	}
	return Message{}, false
}

func (l *Loopback) receiptOf(m *message) Receipt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return m.receipt
}

// Messages returns every accepted message, oldest first.
func (l *Loopback) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, 0, len(l.messages))
	for _, m := range l.messages {
		out = append(out, snapshot(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Receipt.Sequence < out[j].Receipt.Sequence })
	return out
}

func snapshot(m *message) Message {
	snap := Message{
		Receipt:  m.receipt,
		Transfer: m.transfer,
		Wrapped:  m.wrapped,
		Credited: m.credited,
		Attempts: m.attempts,
	}
	if m.lastErr != nil {
		snap.LastError = m.lastErr.Error()
		snap.Err = m.lastErr
	}
	return snap
}
