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
	"github.com/ggonzalez94/relay/internal/httpx"
)

// executeActionWithTimeout bounds execution by the command timeout, or by
// the per-step and settlement budgets when those are larger.
func (s *runtimeState) executeActionWithTimeout(action *execution.Action, txSigner execsigner.Signer, opts execution.ExecuteOptions) error {
	budget := s.settings.Timeout
	if steps := opts.StepTimeout * time.Duration(len(action.Steps)); steps > budget {
		budget = steps
	}
	if t, ok := opts.Settlement.(*wormhole.Tracker); ok && t != nil {
		budget += t.Timeout()
	}
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	return execution.ExecuteAction(ctx, s.actionStore, action, txSigner, opts)
}

func newExecutionSigner(backend, keySource, privateKey string) (execsigner.Signer, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "local":
	default:
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported signer backend %q (expected local)", backend))
	}
	txSigner, err := execsigner.NewLocalSignerFromInputs(keySource, privateKey)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "initialize local signer", err)
	}
	return txSigner, nil
}

func parseExecuteOptions(f executeFlags) (execution.ExecuteOptions, error) {
	opts := execution.DefaultExecuteOptions()
	opts.Simulate = f.simulate
	opts.AllowMaxApproval = f.allowMaxApproval
	opts.UnsafeBridgeTarget = f.unsafeBridgeTarget
	var err error
	if opts.PollInterval, err = parseDurationFlag("poll-interval", f.pollInterval); err != nil {
		return execution.ExecuteOptions{}, err
	}
	if opts.StepTimeout, err = parseDurationFlag("step-timeout", f.stepTimeout); err != nil {
		return execution.ExecuteOptions{}, err
	}
	if f.gasMultiplier <= 1 {
		return execution.ExecuteOptions{}, clierr.New(clierr.CodeUsage, "--gas-multiplier must be > 1")
	}
	opts.GasMultiplier = f.gasMultiplier
	opts.MaxFeeGwei = strings.TrimSpace(f.maxFeeGwei)
	opts.MaxPriorityFeeGwei = strings.TrimSpace(f.maxPriorityFeeGwei)
	return opts, nil
}

func (s *runtimeState) newWormholescanClient() (*wormhole.Client, error) {
	return wormhole.NewClient(httpx.New(s.settings.Timeout, s.settings.Retries), s.settings.WormholescanURL)
}

func (s *runtimeState) newSettlementTracker(timeout string) (*wormhole.Tracker, error) {
	d, err := parseDurationFlag("settlement-timeout", timeout)
	if err != nil {
		return nil, err
	}
	client, err := s.newWormholescanClient()
	if err != nil {
		return nil, err
	}
	return wormhole.NewTracker(client, 0, d), nil
}
