package bridge

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/relay/internal/errors"
	"github.com/ggonzalez94/relay/internal/id"
	"github.com/ggonzalez94/relay/internal/ledger"
)

var (
	srcBridge  = common.HexToAddress("0x0000000000000000000000000000000000000b05")
	bridgeAddr = common.HexToAddress("0x0000000000000000000000000000000000000b0e")
	sender     = common.HexToAddress("0x00000000000000000000000000000000000005e0")
	recipient  = common.HexToAddress("0x0000000000000000000000000000000000000e0e")
	inboxAddr  = common.HexToAddress("0x0000000000000000000000000000000000001b0c")
	srcUSDC    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	wrapped    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

func TestPayloadRoundTrip(t *testing.T) {
	payload, err := EncodePayload(recipient)
	if err != nil {
		t.Fatalf("EncodePayload failed: %v", err)
	}
	if len(payload) != 32 {
		t.Fatalf("expected one abi word, got %d bytes", len(payload))
	}
	got, err := DecodePayload(payload)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if got != recipient {
		t.Fatalf("expected %s, got %s", recipient.Hex(), got.Hex())
	}
	if _, err := DecodePayload([]byte{0x01}); err == nil {
		t.Fatal("expected short payload to fail")
	}
}

func TestAddressToBytes32(t *testing.T) {
	word := AddressToBytes32(recipient)
	for i := 0; i < 12; i++ {
		if word[i] != 0 {
			t.Fatalf("expected left padding, got %x", word)
		}
	}
	if common.BytesToAddress(word[12:]) != recipient {
		t.Fatalf("unexpected address bytes %x", word)
	}
}

type receiveCall struct {
	caller, token, recipient common.Address
	amount                   *big.Int
}

func setup(t *testing.T, opts ...LoopbackOption) (*Loopback, *ledger.Ledger, *ledger.Ledger) {
	t.Helper()
	src, dst := ledger.New(5), ledger.New(14)
	if err := src.Atomic(func(tx *ledger.Tx) error {
		return tx.Mint(srcUSDC, sender, big.NewInt(1_000))
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	lb := NewLoopback(opts...)
	lb.AttachChain(src, srcBridge)
	lb.AttachChain(dst, bridgeAddr)
	lb.RegisterAsset(5, srcUSDC, 14, wrapped)
	return lb, src, dst
}

func transfer(amount int64) Transfer {
	return Transfer{
		SourceChain: 5,
		DestChain:   14,
		Token:       srcUSDC,
		Amount:      big.NewInt(amount),
		Sender:      sender,
		Inbox:       inboxAddr,
		Recipient:   recipient,
	}
}

func TestLoopbackDeliversInline(t *testing.T) {
	lb, src, dst := setup(t)
	var calls []receiveCall
	if err := lb.AttachInbox(14, inboxAddr, func(_ context.Context, caller, token common.Address, amount *big.Int, to common.Address) error {
		calls = append(calls, receiveCall{caller: caller, token: token, recipient: to, amount: amount})
		return nil
	}); err != nil {
		t.Fatalf("AttachInbox failed: %v", err)
	}

	receipt, err := lb.Transfer(context.Background(), transfer(100))
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if receipt.Status != StatusDelivered || receipt.Sequence != 1 || receipt.Transport != "loopback" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if len(calls) != 1 {
		t.Fatalf("expected one receive call, got %d", len(calls))
	}
	c := calls[0]
	if c.caller != bridgeAddr || c.token != wrapped || c.recipient != recipient || c.amount.Int64() != 100 {
		t.Fatalf("unexpected receive call: %+v", c)
	}
	if got := src.BalanceOf(srcUSDC, srcBridge); got.Int64() != 100 {
		t.Fatalf("expected 100 escrowed, got %s", got)
	}
	if got := src.BalanceOf(srcUSDC, sender); got.Int64() != 900 {
		t.Fatalf("expected sender debited, got %s", got)
	}
	if got := dst.BalanceOf(wrapped, inboxAddr); got.Int64() != 100 {
		t.Fatalf("expected inbox credited, got %s", got)
	}
}

func TestLoopbackRetriesWithoutDoubleCredit(t *testing.T) {
	lb, _, dst := setup(t)
	failing := true
	attempts := 0
	if err := lb.AttachInbox(14, inboxAddr, func(context.Context, common.Address, common.Address, *big.Int, common.Address) error {
		attempts++
		if failing {
			return clierr.New(clierr.CodeVenueFailure, "pool halted")
		}
		return nil
	}); err != nil {
		t.Fatalf("AttachInbox failed: %v", err)
	}

	receipt, err := lb.Transfer(context.Background(), transfer(40))
	if err != nil {
		t.Fatalf("Transfer should accept even when delivery fails: %v", err)
	}
	if receipt.Status != StatusPending {
		t.Fatalf("expected pending receipt, got %+v", receipt)
	}

	report := lb.Deliver(context.Background())
	if len(report.Pending) != 1 || len(report.Delivered) != 0 {
		t.Fatalf("expected message still pending: %+v", report)
	}
	if report.Errors[receipt.ID] == "" {
		t.Fatalf("expected error recorded for %s: %+v", receipt.ID, report.Errors)
	}

	failing = false
	report = lb.Deliver(context.Background())
	if len(report.Delivered) != 1 || len(report.Pending) != 0 {
		t.Fatalf("expected message delivered: %+v", report)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 receive attempts, got %d", attempts)
	}
	if got := dst.BalanceOf(wrapped, inboxAddr); got.Int64() != 40 {
		t.Fatalf("expected exactly one credit, got %s", got)
	}

	msgs := lb.Messages()
	if len(msgs) != 1 || msgs[0].Attempts != 3 || !msgs[0].Credited || msgs[0].LastError != "" {
		t.Fatalf("unexpected message snapshot: %+v", msgs)
	}
	if again := lb.Deliver(context.Background()); len(again.Delivered)+len(again.Pending) != 0 {
		t.Fatalf("expected nothing left to deliver: %+v", again)
	}
}

func TestLoopbackMarkReleasedStopsRetries(t *testing.T) {
	lb, _, _ := setup(t, WithManualDelivery())
	attempts := 0
	if err := lb.AttachInbox(14, inboxAddr, func(context.Context, common.Address, common.Address, *big.Int, common.Address) error {
		attempts++
		return clierr.New(clierr.CodeNoSwapperRegistered, "no swapper")
	}); err != nil {
		t.Fatalf("AttachInbox failed: %v", err)
	}
	receipt, err := lb.Transfer(context.Background(), transfer(25))
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if _, err := lb.MarkReleased(receipt.ID); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error before the inbox was credited, got %v", err)
	}

	lb.Deliver(context.Background())
	msg, err := lb.MarkReleased(receipt.ID)
	if err != nil {
		t.Fatalf("MarkReleased failed: %v", err)
	}
	if msg.Receipt.Status != StatusReleased || msg.LastError != "" {
		t.Fatalf("unexpected released snapshot: %+v", msg)
	}
	if report := lb.Deliver(context.Background()); len(report.Pending)+len(report.Delivered) != 0 {
		t.Fatalf("released transfer must not be retried: %+v", report)
	}
	if attempts != 1 {
		t.Fatalf("expected a single receive attempt, got %d", attempts)
	}
	if _, err := lb.MarkReleased(receipt.ID); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error releasing twice, got %v", err)
	}
	if _, err := lb.MarkReleased("loopback/unknown"); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for unknown transfer, got %v", err)
	}
	if got, ok := lb.Message(receipt.ID); !ok || got.Receipt.Status != StatusReleased {
		t.Fatalf("unexpected message lookup: %+v %v", got, ok)
	}
}

func TestLoopbackManualDelivery(t *testing.T) {
	lb, _, dst := setup(t, WithManualDelivery())
	called := 0
	_ = lb.AttachInbox(14, inboxAddr, func(context.Context, common.Address, common.Address, *big.Int, common.Address) error {
		called++
		return nil
	})
	receipt, err := lb.Transfer(context.Background(), transfer(10))
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if receipt.Status != StatusPending || called != 0 {
		t.Fatalf("expected no inline delivery, receipt %+v calls %d", receipt, called)
	}
	if got := dst.BalanceOf(wrapped, inboxAddr); got.Sign() != 0 {
		t.Fatalf("expected nothing credited before delivery, got %s", got)
	}
	if report := lb.Deliver(context.Background()); len(report.Delivered) != 1 {
		t.Fatalf("expected delivery: %+v", report)
	}
}

func TestLoopbackMissingInboxStaysPending(t *testing.T) {
	lb, _, dst := setup(t)
	receipt, err := lb.Transfer(context.Background(), transfer(10))
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if receipt.Status != StatusPending {
		t.Fatalf("expected pending, got %+v", receipt)
	}
	if got := dst.BalanceOf(wrapped, inboxAddr); got.Sign() != 0 {
		t.Fatalf("expected no credit without an inbox, got %s", got)
	}
}

func TestLoopbackRejectsUnroutableTransfers(t *testing.T) {
	lb, src, _ := setup(t)

	tr := transfer(10)
	tr.DestChain = 2
	if _, err := lb.Transfer(context.Background(), tr); !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable for unattached chain, got %v", err)
	}

	tr = transfer(10)
	tr.Token = wrapped
	if _, err := lb.Transfer(context.Background(), tr); !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable for unknown asset, got %v", err)
	}

	if _, err := lb.Transfer(context.Background(), transfer(5_000)); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for insufficient sender balance, got %v", err)
	} else if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected wrapped insufficient balance, got %v", err)
	}
	if got := src.BalanceOf(srcUSDC, sender); got.Int64() != 1_000 {
		t.Fatalf("expected sender untouched, got %s", got)
	}

	if _, err := lb.Transfer(context.Background(), transfer(0)); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for zero amount, got %v", err)
	}
	if len(lb.Messages()) != 0 {
		t.Fatalf("rejected transfers must not be queued: %+v", lb.Messages())
	}
}

func TestAttachInboxRequiresChain(t *testing.T) {
	lb := NewLoopback()
	if _, ok := lb.Address(14); ok {
		t.Fatal("expected no address for unattached chain")
	}
	if err := lb.AttachInbox(id.ChainID(14), inboxAddr, nil); err == nil {
		t.Fatal("expected error for unattached chain")
	}
}
