package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ggonzalez94/relay/internal/bridge/wormhole"
	clierr "github.com/ggonzalez94/relay/internal/errors"
	"github.com/ggonzalez94/relay/internal/execution"
	execsigner "github.com/ggonzalez94/relay/internal/execution/signer"
	"github.com/ggonzalez94/relay/internal/id"
	"github.com/ggonzalez94/relay/internal/relay"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newSendCommand() *cobra.Command {
	root := &cobra.Command{Use: "send", Short: "Send through an outbox over the Wormhole token bridge"}

	var args transferArgs
	var simulate bool
	var rpcURL string
	planCmd := &cobra.Command{
		Use:     "plan",
		Short:   "Route a transfer through the outbox and persist the bridge action for signing",
		Example: "relay send plan --from polygon --to celo --token USDC --amount-decimal 25 --from-address 0x...",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := args.parse()
			if err != nil {
				return err
			}
			d, err := s.requireDeployment()
			if err != nil {
				return err
			}
			if err := s.ensureActionStore(); err != nil {
				return err
			}
			planner := wormhole.NewPlanner(wormhole.PlannerOptions{
				Store:    s.actionStore,
				RPCURLs:  map[id.ChainID]string{req.from.ID: strings.TrimSpace(rpcURL)},
				Simulate: simulate,
				Log:      s.log,
			})
			sink, err := s.eventSink()
			if err != nil {
				return err
			}
			r, err := relay.Build(d, relay.Options{Sink: sink, Log: s.log, Transport: planner})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			routed, err := r.Send(ctx, req.from.ID, req.sender, req.to.ID, req.token.Address, req.amount, req.recipient)
			if err != nil {
				return err
			}
			action, err := s.actionStore.Get(ctx, routed.Receipt.ID)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "load planned action", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, false)
		},
	}
	args.bind(planCmd)
	planCmd.Flags().BoolVar(&simulate, "simulate", true, "Include simulation checks during execution")
	planCmd.Flags().StringVar(&rpcURL, "rpc-url", "", "RPC URL override for the source chain")

	root.AddCommand(planCmd)
	return root
}

type executeFlags struct {
	simulate           bool
	yes                bool
	signer             string
	keySource          string
	privateKey         string
	fromAddress        string
	pollInterval       string
	stepTimeout        string
	gasMultiplier      float64
	maxFeeGwei         string
	maxPriorityFeeGwei string
	allowMaxApproval   bool
	unsafeBridgeTarget bool
	waitSettlement     bool
	settlementTimeout  string
}

func (f *executeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.simulate, "simulate", true, "Run preflight simulation before submission")
	cmd.Flags().BoolVar(&f.yes, "yes", false, "Confirm execution")
	cmd.Flags().StringVar(&f.signer, "signer", "local", "Signer backend (local)")
	cmd.Flags().StringVar(&f.keySource, "key-source", execsigner.KeySourceAuto, "Key source (auto|env|file|keystore)")
	cmd.Flags().StringVar(&f.privateKey, "private-key", "", "Private key hex override for local signer (less safe)")
	cmd.Flags().StringVar(&f.fromAddress, "from-address", "", "Expected sender EOA address")
	cmd.Flags().StringVar(&f.pollInterval, "poll-interval", "2s", "Receipt polling interval")
	cmd.Flags().StringVar(&f.stepTimeout, "step-timeout", "2m", "Per-step receipt timeout")
	cmd.Flags().Float64Var(&f.gasMultiplier, "gas-multiplier", 1.2, "Gas estimate safety multiplier")
	cmd.Flags().StringVar(&f.maxFeeGwei, "max-fee-gwei", "", "Optional EIP-1559 max fee (gwei)")
	cmd.Flags().StringVar(&f.maxPriorityFeeGwei, "max-priority-fee-gwei", "", "Optional EIP-1559 max priority fee (gwei)")
	cmd.Flags().BoolVar(&f.allowMaxApproval, "allow-max-approval", false, "Allow approval amounts greater than the planned input amount")
	cmd.Flags().BoolVar(&f.unsafeBridgeTarget, "unsafe-bridge-target", false, "Allow approvals to spenders other than the canonical token bridge")
	cmd.Flags().BoolVar(&f.waitSettlement, "wait-settlement", false, "Wait until Wormholescan reports the transfer redeemed on the destination chain")
	cmd.Flags().StringVar(&f.settlementTimeout, "settlement-timeout", "20m", "Maximum wait for destination redemption")
}

func (s *runtimeState) newActionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "actions", Short: "Planned bridge actions"}

	var listStatus string
	var listLimit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted actions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.ensureActionStore(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			items, err := s.actionStore.List(ctx, strings.TrimSpace(listStatus), listLimit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list actions", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil, false)
		},
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (planned|running|completed|failed)")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum actions to return")

	var showActionID string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show one persisted action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			action, err := s.loadAction(showActionID)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, false)
		},
	}
	showCmd.Flags().StringVar(&showActionID, "action-id", "", "Action identifier")

	var execActionID string
	var exec executeFlags
	executeCmd := &cobra.Command{
		Use:   "execute",
		Short: "Sign and broadcast a planned relay send",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !exec.yes {
				return clierr.New(clierr.CodeUsage, "actions execute requires --yes")
			}
			action, err := s.loadAction(execActionID)
			if err != nil {
				return err
			}
			if action.IntentType != execution.IntentRelaySend {
				return clierr.New(clierr.CodeUsage, "action is not a relay send intent")
			}
			if action.Status == execution.ActionStatusCompleted {
				warnings := []string{"action already completed"}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, warnings, false)
			}
			txSigner, err := newExecutionSigner(exec.signer, exec.keySource, exec.privateKey)
			if err != nil {
				return err
			}
			if strings.TrimSpace(exec.fromAddress) != "" && !strings.EqualFold(strings.TrimSpace(exec.fromAddress), txSigner.Address().Hex()) {
				return clierr.New(clierr.CodeSigner, "signer address does not match --from-address")
			}
			execOpts, err := parseExecuteOptions(exec)
			if err != nil {
				return err
			}
			if exec.waitSettlement {
				tracker, err := s.newSettlementTracker(exec.settlementTimeout)
				if err != nil {
					return err
				}
				execOpts.Settlement = tracker
			}
			if err := s.executeActionWithTimeout(&action, txSigner, execOpts); err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, false)
		},
	}
	executeCmd.Flags().StringVar(&execActionID, "action-id", "", "Action identifier")
	exec.bind(executeCmd)

	var statusActionID string
	var refresh bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show an action and, with --refresh, its Wormhole settlement stage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			action, err := s.loadAction(statusActionID)
			if err != nil {
				return err
			}
			if !refresh {
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, false)
			}
			warnings, err := s.refreshSettlement(&action)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, warnings, len(warnings) > 0)
		},
	}
	statusCmd.Flags().StringVar(&statusActionID, "action-id", "", "Action identifier")
	statusCmd.Flags().BoolVar(&refresh, "refresh", false, "Query Wormholescan for the bridge step and persist what it reports")

	root.AddCommand(listCmd)
	root.AddCommand(showCmd)
	root.AddCommand(executeCmd)
	root.AddCommand(statusCmd)
	return root
}

func (s *runtimeState) loadAction(actionID string) (execution.Action, error) {
	actionID, err := resolveActionID(actionID)
	if err != nil {
		return execution.Action{}, err
	}
	if err := s.ensureActionStore(); err != nil {
		return execution.Action{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()
	return s.actionStore.Get(ctx, actionID)
}

// refreshSettlement records the current Wormholescan view of every
// submitted bridge step. Steps without a transaction are reported as
// warnings.
func (s *runtimeState) refreshSettlement(action *execution.Action) ([]string, error) {
	client, err := s.newWormholescanClient()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()

	var warnings []string
	for i := range action.Steps {
		step := &action.Steps[i]
		if step.Type != execution.StepTypeBridge {
			continue
		}
		if strings.TrimSpace(step.TxHash) == "" {
			warnings = append(warnings, fmt.Sprintf("step %s has not been broadcast", step.StepID))
			continue
		}
		op, found, err := client.OperationByTx(ctx, step.TxHash)
		if err != nil {
			return nil, err
		}
		if step.ExpectedOutputs == nil {
			step.ExpectedOutputs = map[string]string{}
		}
		if !found {
			step.ExpectedOutputs["settlement_status"] = wormhole.StageNotIndexed
			continue
		}
		wormhole.Record(step, op)
		step.ExpectedOutputs["settlement_status"] = op.Stage()
	}
	action.Touch()
	if err := s.actionStore.Save(ctx, *action); err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "persist action", err)
	}
	return warnings, nil
}

func resolveActionID(actionID string) (string, error) {
	actionID = strings.TrimSpace(actionID)
	if actionID == "" {
		return "", clierr.New(clierr.CodeUsage, "--action-id is required")
	}
	if !execution.IsActionID(actionID) {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid action id %q", actionID))
	}
	return actionID, nil
}

func parseDurationFlag(name, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		return 0, clierr.New(clierr.CodeUsage, fmt.Sprintf("--%s must be a positive duration", name))
	}
	return d, nil
}
