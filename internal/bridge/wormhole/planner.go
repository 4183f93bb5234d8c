// Package wormhole carries relay transfers over the Wormhole token bridge:
// the Planner turns an outbox transfer into a signable execution action and
// the Tracker follows the resulting VAA through Wormholescan.
package wormhole

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/relay/internal/bridge"
	clierr "github.com/ggonzalez94/relay/internal/errors"
	"github.com/ggonzalez94/relay/internal/execution"
	"github.com/ggonzalez94/relay/internal/id"
	"github.com/ggonzalez94/relay/internal/registry"
	"github.com/rs/zerolog"
)

const TransportName = "wormhole"

var (
	erc20ABI       = mustABI(registry.ERC20MinimalABI)
	tokenBridgeABI = mustABI(registry.WormholeTokenBridgeABI)
)

type PlannerOptions struct {
	// Store receives every planned action; nil plans without persisting.
	Store *execution.Store
	// RPCURLs overrides the default RPC endpoint per Wormhole chain.
	RPCURLs  map[id.ChainID]string
	Simulate bool
	Log      zerolog.Logger
}

// Planner is a bridge.Transport that does not move funds itself. Each
// transfer becomes a planned action (ERC-20 approve + transferTokensWithPayload)
// to be signed and broadcast later with `actions execute`.
type Planner struct {
	opts PlannerOptions
}

func NewPlanner(opts PlannerOptions) *Planner {
	return &Planner{opts: opts}
}

func (p *Planner) Transfer(ctx context.Context, t bridge.Transfer) (bridge.Receipt, error) {
	action, err := p.BuildAction(t)
	if err != nil {
		return bridge.Receipt{}, err
	}
	if p.opts.Store != nil {
		if err := p.opts.Store.Save(ctx, action); err != nil {
			return bridge.Receipt{}, clierr.Wrap(clierr.CodeInternal, "persist planned action", err)
		}
	}
	p.opts.Log.Info().
		Str("action_id", action.ActionID).
		Str("chain_id", t.SourceChain.String()).
		Str("dest_chain_id", t.DestChain.String()).
		Str("inbox", t.Inbox.Hex()).
		Msg("planned wormhole transfer")
	return bridge.Receipt{Transport: TransportName, ID: action.ActionID, Status: bridge.StatusPlanned}, nil
}

// BuildAction plans the source-chain transactions for t without persisting
// them.
func (p *Planner) BuildAction(t bridge.Transfer) (execution.Action, error) {
	if t.Amount == nil || t.Amount.Sign() <= 0 {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "transfer amount must be positive")
	}
	if t.Sender == (common.Address{}) {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "wormhole transfers need a sender address (--from)")
	}
	src, err := id.ParseChain(t.SourceChain.String())
	if err != nil {
		return execution.Action{}, err
	}
	if src.EVMChainID == 0 {
		return execution.Action{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("chain %s has no EVM chain id", src.Slug))
	}
	bridgeRaw, ok := registry.WormholeTokenBridge(src.ID)
	if !ok {
		return execution.Action{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("no wormhole token bridge on chain %s", src.Slug))
	}
	tokenBridge := common.HexToAddress(bridgeRaw)
	rpcURL, err := registry.ResolveRPCURL(p.opts.RPCURLs[src.ID], src.EVMChainID)
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}

	payload, err := bridge.EncodePayload(t.Recipient)
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeInternal, "encode transfer payload", err)
	}
	approveData, err := erc20ABI.Pack("approve", tokenBridge, t.Amount)
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeInternal, "pack approval calldata", err)
	}
	transferData, err := tokenBridgeABI.Pack("transferTokensWithPayload",
		t.Token, t.Amount, uint16(t.DestChain), bridge.AddressToBytes32(t.Inbox), t.Nonce, payload)
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeInternal, "pack transfer calldata", err)
	}

	caip2 := src.CAIP2()
	label := id.Label(src.ID, t.Token)
	action := execution.NewAction(execution.NewActionID(), execution.IntentRelaySend, caip2, execution.Constraints{Simulate: p.opts.Simulate})
	action.Transport = TransportName
	action.DestChain = uint16(t.DestChain)
	action.FromAddress = t.Sender.Hex()
	action.Token = t.Token.Hex()
	action.Inbox = t.Inbox.Hex()
	action.Recipient = t.Recipient.Hex()
	action.InputAmount = t.Amount.String()
	action.Nonce = t.Nonce
	action.Metadata = map[string]any{
		"token_bridge": tokenBridge.Hex(),
		"token_symbol": label,
	}
	action.Steps = append(action.Steps,
		execution.ActionStep{
			StepID:      "approve-token-bridge",
			Type:        execution.StepTypeApproval,
			Status:      execution.StepStatusPending,
			ChainID:     caip2,
			RPCURL:      rpcURL,
			Description: fmt.Sprintf("Approve %s for the Wormhole token bridge", label),
			Target:      t.Token.Hex(),
			Data:        "0x" + common.Bytes2Hex(approveData),
			Value:       "0",
		},
		execution.ActionStep{
			StepID:      "transfer-with-payload",
			Type:        execution.StepTypeBridge,
			Status:      execution.StepStatusPending,
			ChainID:     caip2,
			RPCURL:      rpcURL,
			Description: fmt.Sprintf("Send %s %s to inbox %s on chain %s", t.Amount, label, t.Inbox.Hex(), t.DestChain),
			Target:      tokenBridge.Hex(),
			Data:        "0x" + common.Bytes2Hex(transferData),
			Value:       "0",
			ExpectedOutputs: map[string]string{
				"emitter_chain": t.SourceChain.String(),
				"target_chain":  t.DestChain.String(),
			},
		},
	)
	return action, nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
