package relay

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/relay/internal/bridge"
	"github.com/ggonzalez94/relay/internal/config"
	clierr "github.com/ggonzalez94/relay/internal/errors"
	"github.com/ggonzalez94/relay/internal/events"
	"github.com/ggonzalez94/relay/internal/id"
	"github.com/ggonzalez94/relay/internal/ledger"
	"github.com/ggonzalez94/relay/internal/registry"
	"github.com/rs/zerolog"
)

var (
	sender    = common.HexToAddress("0x0000000000000000000000000000000000005e4d")
	recipient = common.HexToAddress("0x000000000000000000000000000000000000beef")
	owner     = common.HexToAddress("0x00000000000000000000000000000000000a0e01")

	polygonUSDC   = knownToken(5, "USDC")
	polygonUSDCet = knownToken(5, "USDCET")
	celoUSDCet    = knownToken(14, "USDCET")
	celoCUSD      = knownToken(14, "CUSD")

	polygonInbox = common.HexToAddress("0x82852E474556965B5e76bCdAe158EB9fb17c5c6e")
	celoInbox    = common.HexToAddress("0xD39a370B582f3B0163Ffe9a7Acc319856D2f5089")
)

func knownToken(chain id.ChainID, symbol string) common.Address {
	token, ok := id.KnownToken(chain, symbol)
	if !ok {
		panic("unknown token " + symbol)
	}
	return token.Address
}

func loadSample(t *testing.T) config.Deployment {
	t.Helper()
	d, err := config.LoadDeployment(filepath.Join("..", "..", "deployments", "polygon-celo.yaml"))
	if err != nil {
		t.Fatalf("load sample deployment: %v", err)
	}
	return d
}

func buildSample(t *testing.T, opts Options) (*Relay, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	opts.Sink = rec
	opts.Log = zerolog.Nop()
	r, err := Build(loadSample(t), opts)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return r, rec
}

func TestSampleDeploymentDeliversPolygonToCelo(t *testing.T) {
	r, rec := buildSample(t, Options{})

	amount := big.NewInt(100_000_000)
	routed, err := r.Send(context.Background(), 5, sender, 14, polygonUSDC, amount, recipient)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if routed.Inbox != celoInbox || routed.DestChain != 14 || routed.Recipient != recipient {
		t.Fatalf("unexpected routed transfer: %+v", routed)
	}
	if routed.Amount.Cmp(amount) != 0 || routed.Token != polygonUSDC {
		t.Fatalf("transport must see the caller's token and amount, got %+v", routed)
	}
	if routed.Receipt.Status != bridge.StatusDelivered {
		t.Fatalf("expected inline delivery, got %s", routed.Receipt.Status)
	}

	want, _ := new(big.Int).SetString("99800000000000000000", 10)
	if got := r.BalanceOf(14, celoCUSD, recipient); got.Cmp(want) != 0 {
		t.Fatalf("recipient cUSD = %s, want %s", got, want)
	}
	if got := r.BalanceOf(14, celoUSDCet, celoInbox); got.Sign() != 0 {
		t.Fatalf("inbox kept %s USDCet after a successful swap", got)
	}
	escrow := common.HexToAddress(mustBridge(t, 5))
	if got := r.BalanceOf(5, polygonUSDC, escrow); got.Cmp(amount) != 0 {
		t.Fatalf("escrow holds %s, want %s", got, amount)
	}
	if got := r.BalanceOf(5, polygonUSDC, sender); got.Cmp(big.NewInt(400_000_000)) != 0 {
		t.Fatalf("sender balance = %s", got)
	}

	if n := len(rec.OfKind(events.KindRouted)); n != 1 {
		t.Fatalf("expected one routed event, got %d", n)
	}
	delivered := rec.OfKind(events.KindDelivered)
	if len(delivered) != 1 || delivered[0].Recipient != recipient.Hex() {
		t.Fatalf("unexpected delivered events: %+v", delivered)
	}
}

func TestSampleDeploymentDeliversCeloToPolygonThroughComposite(t *testing.T) {
	r, _ := buildSample(t, Options{})

	if _, err := r.Send(context.Background(), 14, sender, 5, celoUSDCet, big.NewInt(10_000_000), recipient); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := r.BalanceOf(5, polygonUSDC, recipient); got.Cmp(big.NewInt(9_980_000)) != 0 {
		t.Fatalf("recipient USDC = %s, want 9980000", got)
	}
	if got := r.BalanceOf(5, polygonUSDCet, polygonInbox); got.Sign() != 0 {
		t.Fatalf("inbox kept %s USDCet", got)
	}
}

func TestHaltedVenueLeavesTransferPendingUntilRetry(t *testing.T) {
	r, rec := buildSample(t, Options{})
	v, ok := r.Venue("mobius-usdcet")
	if !ok {
		t.Fatal("expected venue mobius-usdcet")
	}
	v.Halt("maintenance")

	routed, err := r.Send(context.Background(), 5, sender, 14, polygonUSDC, big.NewInt(1_000_000), recipient)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if routed.Receipt.Status != bridge.StatusPending {
		t.Fatalf("expected pending receipt, got %s", routed.Receipt.Status)
	}
	if got := r.BalanceOf(14, celoUSDCet, celoInbox); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("inbox should custody the wrapped tokens, holds %s", got)
	}
	custodied := rec.OfKind(events.KindCustodied)
	if len(custodied) != 1 || custodied[0].Reason != clierr.TypeName(clierr.CodeVenueFailure) {
		t.Fatalf("unexpected custodied events: %+v", custodied)
	}

	v.Resume()
	report := r.Transport().Deliver(context.Background())
	if len(report.Delivered) != 1 || len(report.Pending) != 0 {
		t.Fatalf("unexpected retry report: %+v", report)
	}
	if got := r.BalanceOf(14, celoUSDCet, celoInbox); got.Sign() != 0 {
		t.Fatalf("inbox still holds %s after retry", got)
	}
	if got := r.BalanceOf(14, celoCUSD, recipient); got.Sign() <= 0 {
		t.Fatal("recipient was not paid after retry")
	}
}

func TestReleaseSettlesCustodiedTransfer(t *testing.T) {
	r, rec := buildSample(t, Options{})
	v, _ := r.Venue("mobius-usdcet")
	v.Halt("maintenance")

	amount := big.NewInt(2_000_000)
	routed, err := r.Send(context.Background(), 5, sender, 14, polygonUSDC, amount, recipient)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := r.Release(context.Background(), sender, routed.Receipt.ID, recipient); !clierr.Is(err, clierr.CodeUnauthorized) {
		t.Fatalf("expected unauthorized release, got %v", err)
	}
	msg, err := r.Release(context.Background(), owner, routed.Receipt.ID, recipient)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if msg.Receipt.Status != bridge.StatusReleased {
		t.Fatalf("expected released transfer, got %s", msg.Receipt.Status)
	}
	if got := r.BalanceOf(14, celoUSDCet, recipient); got.Cmp(amount) != 0 {
		t.Fatalf("recipient USDCet = %s, want %s", got, amount)
	}

	v.Resume()
	if report := r.Transport().Deliver(context.Background()); len(report.Pending)+len(report.Delivered) != 0 {
		t.Fatalf("released transfer was retried: %+v", report)
	}
	if n := len(rec.OfKind(events.KindCustodied)); n != 1 {
		t.Fatalf("expected the single original custody event, got %d", n)
	}
	if n := len(rec.OfKind(events.KindReleased)); n != 1 {
		t.Fatalf("expected one released event, got %d", n)
	}
	if _, err := r.Release(context.Background(), owner, routed.Receipt.ID, recipient); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error on second release, got %v", err)
	}
}

func TestManualDeliveryDefersInbox(t *testing.T) {
	r, _ := buildSample(t, Options{ManualDelivery: true})
	routed, err := r.Send(context.Background(), 5, sender, 14, polygonUSDC, big.NewInt(1_000_000), recipient)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if routed.Receipt.Status != bridge.StatusPending {
		t.Fatalf("expected pending, got %s", routed.Receipt.Status)
	}
	if got := r.BalanceOf(14, celoCUSD, recipient); got.Sign() != 0 {
		t.Fatalf("recipient paid before delivery: %s", got)
	}
	r.Transport().Deliver(context.Background())
	if got := r.BalanceOf(14, celoCUSD, recipient); got.Sign() <= 0 {
		t.Fatal("recipient not paid after delivery")
	}
}

func TestSendToUnknownDestination(t *testing.T) {
	r, _ := buildSample(t, Options{})
	_, err := r.Send(context.Background(), 5, sender, 30, polygonUSDC, big.NewInt(1), recipient)
	if !clierr.Is(err, clierr.CodeUnknownDestination) {
		t.Fatalf("expected unknown destination, got %v", err)
	}
	if _, err := r.Send(context.Background(), 2, sender, 14, polygonUSDC, big.NewInt(1), recipient); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for missing outbox, got %v", err)
	}
}

func TestBuildExposesRegistries(t *testing.T) {
	r, _ := buildSample(t, Options{})
	if chains := r.Chains(); len(chains) != 2 || chains[0] != 5 || chains[1] != 14 {
		t.Fatalf("unexpected chains: %v", chains)
	}
	in, err := r.Inbox(5)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if in.Bridge() != common.HexToAddress(mustBridge(t, 5)) {
		t.Fatalf("inbox bridge should default to the wormhole token bridge, got %s", in.Bridge().Hex())
	}
	stablecoin := common.HexToAddress("0x83C1Aa141F2186867e3700be09205692EC7FdbCA")
	got, err := in.Resolve(polygonUSDCet, polygonUSDC)
	if err != nil || got != stablecoin {
		t.Fatalf("resolve USDCet->USDC = %s, %v", got.Hex(), err)
	}
	dir, ok := r.Directory(5)
	if !ok || len(dir.All()) != 3 {
		t.Fatalf("expected 3 polygon swappers deployed")
	}
	if len(r.Outboxes()) != 2 || len(r.Inboxes()) != 2 {
		t.Fatalf("expected two outboxes and two inboxes")
	}
}

func TestSampleSwapperSeedsEndInCanonical(t *testing.T) {
	r, _ := buildSample(t, Options{})
	for _, in := range r.Inboxes() {
		for _, entry := range in.Swappers() {
			if entry.Pair.Out != in.Canonical() {
				t.Fatalf("inbox on chain %s registers %s, which Receive can never reach", in.Chain(), entry.Pair)
			}
		}
	}
}

func TestPolygonInboxRedeemsAaveDAIThroughCurve(t *testing.T) {
	r, rec := buildSample(t, Options{})
	in, err := r.Inbox(5)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	amdai := knownToken(5, "AMDAI")
	lg, ok := r.Ledger(5)
	if !ok {
		t.Fatal("expected polygon ledger")
	}
	amount, _ := new(big.Int).SetString("1000000000000000000", 10)
	if err := lg.Atomic(func(tx *ledger.Tx) error {
		return tx.Mint(amdai, polygonInbox, amount)
	}); err != nil {
		t.Fatalf("credit inbox: %v", err)
	}

	d, err := in.Receive(context.Background(), in.Bridge(), amdai, amount, recipient)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if d.AmountOut.Cmp(big.NewInt(999_000)) != 0 {
		t.Fatalf("expected 999000 USDC out, got %s", d.AmountOut)
	}
	if got := r.BalanceOf(5, polygonUSDC, recipient); got.Cmp(big.NewInt(999_000)) != 0 {
		t.Fatalf("recipient USDC = %s", got)
	}
	for _, token := range []common.Address{amdai, knownToken(5, "DAI"), polygonUSDC} {
		if got := r.BalanceOf(5, token, polygonInbox); got.Sign() != 0 {
			t.Fatalf("inbox kept %s of %s", got, token.Hex())
		}
	}
	if n := len(rec.OfKind(events.KindDelivered)); n != 1 {
		t.Fatalf("expected one delivered event, got %d", n)
	}
}

func TestBuildRejectsBrokenManifests(t *testing.T) {
	cases := map[string]func(d *config.Deployment){
		"unknown venue": func(d *config.Deployment) {
			d.Swappers[0].Venue = "nope"
		},
		"wrong venue kind": func(d *config.Deployment) {
			d.Swappers[0].Venue = "aave-polygon"
		},
		"route to unknown swapper": func(d *config.Deployment) {
			d.Swappers[2].Routes[0].Swapper = "missing"
		},
		"bad rate": func(d *config.Deployment) {
			d.Venues[0].Rates[0].Price = "-1"
		},
		"second inbox on chain": func(d *config.Deployment) {
			d.Inboxes = append(d.Inboxes, d.Inboxes[0])
		},
		"unknown token": func(d *config.Deployment) {
			d.Inboxes[0].Canonical = "WETH"
		},
		"self pair seed": func(d *config.Deployment) {
			d.Inboxes[0].Swappers[0].TokenIn = "USDC"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := loadSample(t)
			mutate(&d)
			if _, err := Build(d, Options{Log: zerolog.Nop()}); !clierr.Is(err, clierr.CodeUsage) {
				t.Fatalf("expected usage error, got %v", err)
			}
		})
	}
}

func TestBuildFromInlineManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployment.yaml")
	manifest := `deployment:
  outboxes:
    - chain: polygon
      address: "0x0000000000000000000000000000000000000a01"
      owner: "0x0000000000000000000000000000000000000a02"
      inboxes:
        - {chain: celo, inbox: "0x0000000000000000000000000000000000000b01"}
  inboxes:
    - chain: celo
      address: "0x0000000000000000000000000000000000000b01"
      owner: "0x0000000000000000000000000000000000000a02"
      bridge: "0x0000000000000000000000000000000000000b0e"
      canonical: CUSD
  assets:
    - {source_chain: polygon, token: USDC, dest_chain: celo, wrapped: USDCET}
  balances:
    - {chain: polygon, holder: "0x0000000000000000000000000000000000005e4d", token: USDC, amount: "10"}
`
	if err := os.WriteFile(path, []byte(manifest), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	d, err := config.LoadDeployment(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rec := &events.Recorder{}
	r, err := Build(d, Options{Sink: rec, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	in, _ := r.Inbox(14)
	if in.Bridge() != common.HexToAddress("0x0000000000000000000000000000000000000b0e") {
		t.Fatalf("bridge override ignored: %s", in.Bridge().Hex())
	}

	// No swapper is registered, so the wrapped tokens stay with the inbox.
	routed, err := r.Send(context.Background(), 5, sender, 14, polygonUSDC, big.NewInt(10), recipient)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if routed.Receipt.Status != bridge.StatusPending {
		t.Fatalf("expected pending receipt, got %s", routed.Receipt.Status)
	}
	if got := r.BalanceOf(14, celoUSDCet, in.Address()); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("inbox holds %s, want 10", got)
	}
	custodied := rec.OfKind(events.KindCustodied)
	if len(custodied) != 1 || custodied[0].Reason != clierr.TypeName(clierr.CodeNoSwapperRegistered) {
		t.Fatalf("unexpected custodied events: %+v", custodied)
	}
}

func mustBridge(t *testing.T, chain id.ChainID) string {
	t.Helper()
	addr, ok := registry.WormholeTokenBridge(chain)
	if !ok {
		t.Fatalf("no token bridge for chain %s", chain)
	}
	return addr
}
