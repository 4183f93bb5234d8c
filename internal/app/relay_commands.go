package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/relay/internal/bridge"
	"github.com/ggonzalez94/relay/internal/config"
	clierr "github.com/ggonzalez94/relay/internal/errors"
	"github.com/ggonzalez94/relay/internal/events"
	"github.com/ggonzalez94/relay/internal/id"
	"github.com/ggonzalez94/relay/internal/model"
	"github.com/ggonzalez94/relay/internal/relay"
	"github.com/ggonzalez94/relay/internal/swapper"
	"github.com/spf13/cobra"
)

func (s *runtimeState) requireDeployment() (config.Deployment, error) {
	d := s.settings.Deployment
	if d.Empty() {
		return config.Deployment{}, clierr.New(clierr.CodeUsage, "no deployment configured (use --deployment or RELAY_DEPLOYMENT)")
	}
	return d, nil
}

// buildRelay assembles the deployment without an event sink; read-only
// commands use it.
func (s *runtimeState) buildRelay() (*relay.Relay, error) {
	d, err := s.requireDeployment()
	if err != nil {
		return nil, err
	}
	return relay.Build(d, relay.Options{Log: s.log})
}

func (s *runtimeState) newRoutesCommand() *cobra.Command {
	root := &cobra.Command{Use: "routes", Aliases: []string{"route"}, Short: "Outbox inbox registries"}

	var fromArg string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List destination inboxes registered on each outbox",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := s.buildRelay()
			if err != nil {
				return err
			}
			var only id.ChainID
			if strings.TrimSpace(fromArg) != "" {
				chain, err := id.ParseChain(fromArg)
				if err != nil {
					return err
				}
				only = chain.ID
			}
			routes := []model.Route{}
			for _, o := range r.Outboxes() {
				if only != 0 && o.Chain() != only {
					continue
				}
				for _, entry := range o.Inboxes() {
					routes = append(routes, newRoute(o.Chain(), o.Address(), entry.Chain, entry.Inbox))
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), routes, nil, false)
		},
	}
	listCmd.Flags().StringVar(&fromArg, "from", "", "Only list routes of the outbox on this chain")

	var resolveFrom, resolveTo string
	resolveCmd := &cobra.Command{
		Use:     "resolve",
		Short:   "Resolve the inbox an outbox routes a destination chain to",
		Example: "relay routes resolve --from polygon --to celo",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := id.ParseChain(resolveFrom)
			if err != nil {
				return err
			}
			to, err := id.ParseChain(resolveTo)
			if err != nil {
				return err
			}
			r, err := s.buildRelay()
			if err != nil {
				return err
			}
			o, err := r.Outbox(from.ID)
			if err != nil {
				return err
			}
			inbox, err := o.Resolve(to.ID)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), newRoute(from.ID, o.Address(), to.ID, inbox), nil, false)
		},
	}
	resolveCmd.Flags().StringVar(&resolveFrom, "from", "", "Source chain")
	resolveCmd.Flags().StringVar(&resolveTo, "to", "", "Destination chain")
	_ = resolveCmd.MarkFlagRequired("from")
	_ = resolveCmd.MarkFlagRequired("to")

	root.AddCommand(listCmd)
	root.AddCommand(resolveCmd)
	return root
}

func newRoute(source id.ChainID, outboxAddr common.Address, dest id.ChainID, inbox common.Address) model.Route {
	return model.Route{
		SourceChain:   chainSlug(source),
		SourceChainID: uint16(source),
		Outbox:        outboxAddr.Hex(),
		DestChain:     chainSlug(dest),
		DestChainID:   uint16(dest),
		Inbox:         inbox.Hex(),
	}
}

func chainSlug(c id.ChainID) string {
	chain, err := id.ParseChain(c.String())
	if err != nil {
		return c.String()
	}
	return chain.Slug
}

func (s *runtimeState) newSwappersCommand() *cobra.Command {
	root := &cobra.Command{Use: "swappers", Aliases: []string{"swapper"}, Short: "Inbox swapper registries"}

	var chainArg string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List token pairs and the swapper each inbox uses for them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := s.buildRelay()
			if err != nil {
				return err
			}
			var only id.ChainID
			if strings.TrimSpace(chainArg) != "" {
				chain, err := id.ParseChain(chainArg)
				if err != nil {
					return err
				}
				only = chain.ID
			}
			items := []model.SwapperRoute{}
			for _, in := range r.Inboxes() {
				if only != 0 && in.Chain() != only {
					continue
				}
				for _, entry := range in.Swappers() {
					items = append(items, describeSwapper(r, in.Chain(), in.Address(), entry.Pair, entry.Swapper))
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil, false)
		},
	}
	listCmd.Flags().StringVar(&chainArg, "chain", "", "Only list the inbox on this chain")

	var resolveChain, resolveIn, resolveOut string
	resolveCmd := &cobra.Command{
		Use:     "resolve",
		Short:   "Resolve the swapper an inbox uses for a token pair",
		Example: "relay swappers resolve --chain celo --token-in USDCET --token-out CUSD",
		RunE: func(cmd *cobra.Command, _ []string) error {
			chain, err := id.ParseChain(resolveChain)
			if err != nil {
				return err
			}
			tokenIn, err := id.ParseToken(resolveIn, chain)
			if err != nil {
				return err
			}
			r, err := s.buildRelay()
			if err != nil {
				return err
			}
			in, err := r.Inbox(chain.ID)
			if err != nil {
				return err
			}
			tokenOut := in.Canonical()
			if strings.TrimSpace(resolveOut) != "" {
				out, err := id.ParseToken(resolveOut, chain)
				if err != nil {
					return err
				}
				tokenOut = out.Address
			}
			addr, err := in.Resolve(tokenIn.Address, tokenOut)
			if err != nil {
				return err
			}
			pair := id.NewTokenPair(tokenIn.Address, tokenOut)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), describeSwapper(r, chain.ID, in.Address(), pair, addr), nil, false)
		},
	}
	resolveCmd.Flags().StringVar(&resolveChain, "chain", "", "Inbox chain")
	resolveCmd.Flags().StringVar(&resolveIn, "token-in", "", "Bridged token (symbol or address)")
	resolveCmd.Flags().StringVar(&resolveOut, "token-out", "", "Output token (defaults to the inbox canonical asset)")
	_ = resolveCmd.MarkFlagRequired("chain")
	_ = resolveCmd.MarkFlagRequired("token-in")

	root.AddCommand(listCmd)
	root.AddCommand(resolveCmd)
	return root
}

func describeSwapper(r *relay.Relay, chain id.ChainID, inbox common.Address, pair id.TokenPair, addr common.Address) model.SwapperRoute {
	item := model.SwapperRoute{
		Chain:          chainSlug(chain),
		ChainID:        uint16(chain),
		Inbox:          inbox.Hex(),
		TokenIn:        pair.In.Hex(),
		TokenInSymbol:  symbolOf(chain, pair.In),
		TokenOut:       pair.Out.Hex(),
		TokenOutSymbol: symbolOf(chain, pair.Out),
		Swapper:        addr.Hex(),
	}
	if name, ok := r.SwapperName(addr); ok {
		item.Name = name
	}
	dir, ok := r.Directory(chain)
	if !ok {
		return item
	}
	strategy, ok := dir.Lookup(addr)
	if !ok {
		return item
	}
	item.Kind = string(strategy.Kind())
	if composite, ok := strategy.(*swapper.Composite); ok {
		if sub, ok := composite.RouteFor(pair); ok {
			via := sub.Address().Hex()
			if name, ok := r.SwapperName(sub.Address()); ok {
				via = name
			}
			item.Via = []string{via}
		}
	}
	return item
}

func symbolOf(chain id.ChainID, addr common.Address) string {
	if token, ok := id.LookupByAddress(chain, addr); ok {
		return token.Symbol
	}
	return ""
}

type transferArgs struct {
	fromArg, toArg, tokenArg  string
	amountBase, amountDecimal string
	senderArg, recipientArg   string
}

type transferRequest struct {
	from, to  id.Chain
	token     id.Token
	amount    *big.Int
	sender    common.Address
	recipient common.Address
}

func (a transferArgs) parse() (transferRequest, error) {
	from, err := id.ParseChain(a.fromArg)
	if err != nil {
		return transferRequest{}, err
	}
	to, err := id.ParseChain(a.toArg)
	if err != nil {
		return transferRequest{}, err
	}
	token, err := id.ParseToken(a.tokenArg, from)
	if err != nil {
		return transferRequest{}, err
	}
	decimals := token.Decimals
	if decimals <= 0 {
		decimals = 18
	}
	amount, err := id.ParseAmount(a.amountBase, a.amountDecimal, decimals)
	if err != nil {
		return transferRequest{}, err
	}
	sender, err := id.ParseAddress(a.senderArg, "--from-address")
	if err != nil {
		return transferRequest{}, err
	}
	recipient := sender
	if strings.TrimSpace(a.recipientArg) != "" {
		if recipient, err = id.ParseAddress(a.recipientArg, "--recipient"); err != nil {
			return transferRequest{}, err
		}
	}
	return transferRequest{from: from, to: to, token: token, amount: amount, sender: sender, recipient: recipient}, nil
}

func (a *transferArgs) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.fromArg, "from", "", "Source chain")
	cmd.Flags().StringVar(&a.toArg, "to", "", "Destination chain")
	cmd.Flags().StringVar(&a.tokenArg, "token", "", "Token on the source chain (symbol or address)")
	cmd.Flags().StringVar(&a.amountBase, "amount", "", "Amount in base units")
	cmd.Flags().StringVar(&a.amountDecimal, "amount-decimal", "", "Amount in decimal units")
	cmd.Flags().StringVar(&a.senderArg, "from-address", "", "Sender address on the source chain")
	cmd.Flags().StringVar(&a.recipientArg, "recipient", "", "Recipient on the destination chain (defaults to --from-address)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("from-address")
}

func (s *runtimeState) newSimulateCommand() *cobra.Command {
	var args transferArgs
	var haltArg string
	var manual, deliver, release bool
	cmd := &cobra.Command{
		Use:     "simulate",
		Short:   "Run a transfer end to end against the in-process deployment",
		Example: "relay simulate --from polygon --to celo --token USDC --amount-decimal 100 --from-address 0x0000000000000000000000000000000000005e4d",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := args.parse()
			if err != nil {
				return err
			}
			d, err := s.requireDeployment()
			if err != nil {
				return err
			}
			recorder := &events.Recorder{}
			sink, err := s.eventSink(recorder)
			if err != nil {
				return err
			}
			r, err := relay.Build(d, relay.Options{Sink: sink, Log: s.log, ManualDelivery: manual})
			if err != nil {
				return err
			}
			halted := splitCSV(haltArg)
			for _, name := range halted {
				v, ok := r.Venue(name)
				if !ok {
					return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown venue %q", name))
				}
				v.Halt("halted by --halt")
			}

			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			routed, err := r.Send(ctx, req.from.ID, req.sender, req.to.ID, req.token.Address, req.amount, req.recipient)
			if err != nil {
				return err
			}
			if deliver {
				for _, name := range halted {
					v, _ := r.Venue(name)
					v.Resume()
				}
				r.Transport().Deliver(ctx)
			}
			if release {
				if err := releaseUndelivered(ctx, r, req, routed.Receipt.ID); err != nil {
					return err
				}
			}

			result := s.simulation(r, req, routed.Receipt.ID, recorder)
			var warnings []string
			partial := result.Status != string(bridge.StatusDelivered)
			if partial {
				warnings = append(warnings, fmt.Sprintf("transfer %s is %s", result.Transfer.TransferID, result.Status))
				if s.settings.Strict {
					s.captureCommandDiagnostics(warnings, true)
					return pendingError(r, routed.Receipt.ID)
				}
			}
			result.Transfer.Sender = req.sender.Hex()
			result.Transfer.Symbol = req.token.Symbol
			s.captureCommandDiagnostics(warnings, partial)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), result, warnings, partial)
		},
	}
	args.bind(cmd)
	cmd.Flags().StringVar(&haltArg, "halt", "", "Venues to halt before sending (comma-separated names)")
	cmd.Flags().BoolVar(&manual, "manual-delivery", false, "Queue the transfer instead of delivering it immediately")
	cmd.Flags().BoolVar(&deliver, "deliver", false, "Resume halted venues and run a delivery pass after sending")
	cmd.Flags().BoolVar(&release, "release", false, "Release the tokens of an undelivered transfer to the recipient as the inbox owner")
	return cmd
}

func (s *runtimeState) simulation(r *relay.Relay, req transferRequest, transferID string, recorder *events.Recorder) model.Simulation {
	result := model.Simulation{Status: string(bridge.StatusPending), Balances: []model.Balance{}, Events: recorder.Events()}
	var msg bridge.Message
	for _, m := range r.Transport().Messages() {
		if m.Receipt.ID == transferID {
			msg = m
			break
		}
	}
	t := msg.Transfer
	result.Status = string(msg.Receipt.Status)
	result.Transfer = model.Transfer{
		SourceChainID: uint16(t.SourceChain),
		DestChainID:   uint16(t.DestChain),
		Inbox:         t.Inbox.Hex(),
		Token:         t.Token.Hex(),
		Amount:        amountInfo(t.Amount, req.token.Decimals),
		Recipient:     t.Recipient.Hex(),
		Nonce:         t.Nonce,
		Transport:     msg.Receipt.Transport,
		TransferID:    msg.Receipt.ID,
		Status:        result.Status,
	}
	if msg.LastError != "" {
		result.Errors = map[string]string{msg.Receipt.ID: msg.LastError}
	}

	add := func(chain id.ChainID, role string, holder, token common.Address) {
		decimals := 18
		if known, ok := id.LookupByAddress(chain, token); ok {
			decimals = known.Decimals
		}
		result.Balances = append(result.Balances, model.Balance{
			ChainID: uint16(chain),
			Role:    role,
			Holder:  holder.Hex(),
			Token:   token.Hex(),
			Symbol:  symbolOf(chain, token),
			Amount:  amountInfo(r.BalanceOf(chain, token, holder), decimals),
		})
	}
	add(req.from.ID, "sender", req.sender, req.token.Address)
	if escrow, ok := r.Transport().Address(req.from.ID); ok {
		add(req.from.ID, "bridge_escrow", escrow, req.token.Address)
	}
	if in, err := r.Inbox(req.to.ID); err == nil {
		if msg.Wrapped != (common.Address{}) {
			add(req.to.ID, "inbox", in.Address(), msg.Wrapped)
		}
		add(req.to.ID, "recipient", req.recipient, in.Canonical())
	}
	return result
}

// releaseUndelivered pays a custodied transfer out to the recipient on the
// inbox owner's behalf. Delivered transfers are left alone.
func releaseUndelivered(ctx context.Context, r *relay.Relay, req transferRequest, transferID string) error {
	m, ok := r.Transport().Message(transferID)
	if !ok || m.Receipt.Status != bridge.StatusPending {
		return nil
	}
	in, err := r.Inbox(req.to.ID)
	if err != nil {
		return err
	}
	_, err = r.Release(ctx, in.Owner(), transferID, req.recipient)
	return err
}

// pendingError reports why transferID was not delivered, keeping the
// relay error code of the last failed attempt.
func pendingError(r *relay.Relay, transferID string) error {
	for _, m := range r.Transport().Messages() {
		if m.Receipt.ID != transferID || m.Err == nil {
			continue
		}
		return clierr.Wrap(clierr.CodePartialStrict, fmt.Sprintf("transfer %s was not delivered", transferID), m.Err)
	}
	return clierr.New(clierr.CodePartialStrict, fmt.Sprintf("transfer %s was not delivered", transferID))
}

func amountInfo(amount *big.Int, decimals int) model.AmountInfo {
	if amount == nil {
		amount = new(big.Int)
	}
	if decimals <= 0 {
		decimals = 18
	}
	return model.AmountInfo{
		AmountBaseUnits: amount.String(),
		AmountDecimal:   id.FormatDecimal(amount, decimals),
		Decimals:        decimals,
	}
}

func (s *runtimeState) newEventsCommand() *cobra.Command {
	root := &cobra.Command{Use: "events", Short: "Relay event journal"}
	var kindArg string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled relay events, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if s.journal == nil {
				return clierr.New(clierr.CodeUsage, "event journal is disabled")
			}
			kind := strings.ToLower(strings.TrimSpace(kindArg))
			switch events.Kind(kind) {
			case "", events.KindRouted, events.KindDelivered, events.KindCustodied, events.KindReleased, events.KindRegistryWrite:
			default:
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown event kind %q", kindArg))
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			items, err := s.journal.List(ctx, kind, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list events", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil, false)
		},
	}
	listCmd.Flags().StringVar(&kindArg, "kind", "", "Filter by kind (routed|delivered|custodied|released|registry_write)")
	listCmd.Flags().IntVar(&limit, "limit", 50, "Maximum events to return")

	var olderThan string
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journaled events older than a duration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if s.journal == nil {
				return clierr.New(clierr.CodeUsage, "event journal is disabled")
			}
			maxAge, err := parseDurationFlag("older-than", olderThan)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			removed, err := s.journal.Prune(ctx, maxAge)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "prune events", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]any{"removed": removed, "older_than": maxAge.String()}, nil, false)
		},
	}
	pruneCmd.Flags().StringVar(&olderThan, "older-than", "720h", "Age beyond which events are deleted")

	root.AddCommand(listCmd)
	root.AddCommand(pruneCmd)
	return root
}
