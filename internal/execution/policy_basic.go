package execution

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/relay/internal/bridge"
	clierr "github.com/ggonzalez94/relay/internal/errors"
	"github.com/ggonzalez94/relay/internal/id"
	"github.com/ggonzalez94/relay/internal/registry"
)

var (
	policyERC20ABI       = mustPolicyABI(registry.ERC20MinimalABI)
	policyTokenBridgeABI = mustPolicyABI(registry.WormholeTokenBridgeABI)

	policyApproveSelector  = policyERC20ABI.Methods["approve"].ID
	policyTransferSelector = policyTokenBridgeABI.Methods["transferTokensWithPayload"].ID
)

// validateStepPolicy checks a step's calldata against the action it belongs
// to before anything is signed: approvals go to the canonical token bridge
// and are bounded by the transfer amount, and the bridge call carries
// exactly the planned token, amount, destination inbox and recipient.
func validateStepPolicy(action *Action, step *ActionStep, chainID int64, data []byte, opts ExecuteOptions) error {
	if step == nil {
		return clierr.New(clierr.CodeInternal, "missing action step")
	}
	if !common.IsHexAddress(step.Target) {
		return clierr.New(clierr.CodeUsage, "invalid step target address")
	}

	switch step.Type {
	case StepTypeApproval:
		return validateApprovalPolicy(action, step, chainID, data, opts)
	case StepTypeBridge:
		return validateBridgePolicy(action, step, chainID, data, opts)
	default:
		return clierr.New(clierr.CodeActionPlan, fmt.Sprintf("unsupported step type %q", step.Type))
	}
}

func validateApprovalPolicy(action *Action, step *ActionStep, chainID int64, data []byte, opts ExecuteOptions) error {
	if len(data) < 4 || !bytes.Equal(data[:4], policyApproveSelector) {
		return clierr.New(clierr.CodeActionPlan, "approval step must use ERC20 approve(spender,amount)")
	}
	args, err := policyERC20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return clierr.New(clierr.CodeActionPlan, "approval step calldata is invalid")
	}
	spender, ok := toAddress(args[0])
	if !ok || spender == (common.Address{}) {
		return clierr.New(clierr.CodeActionPlan, "approval step has invalid spender")
	}
	amount, ok := toBigInt(args[1])
	if !ok || amount.Sign() <= 0 {
		return clierr.New(clierr.CodeActionPlan, "approval step has invalid approval amount")
	}
	if !opts.UnsafeBridgeTarget {
		canonical, err := canonicalTokenBridge(chainID)
		if err != nil {
			return err
		}
		if spender != canonical {
			return clierr.New(clierr.CodeActionPlan, "approval spender is not the canonical token bridge; use --unsafe-bridge-target to override")
		}
	}
	if action != nil && strings.TrimSpace(action.Token) != "" && !strings.EqualFold(common.HexToAddress(step.Target).Hex(), common.HexToAddress(action.Token).Hex()) {
		return clierr.New(clierr.CodeActionPlan, "approval step targets a different token than the action sends")
	}
	if opts.AllowMaxApproval {
		return nil
	}
	if action == nil {
		return clierr.New(clierr.CodeActionPlan, "cannot validate approval bounds without action context")
	}
	requested, ok := parsePositiveBaseUnits(action.InputAmount)
	if !ok {
		return clierr.New(clierr.CodeActionPlan, "cannot validate approval bounds for non-numeric input amount; use --allow-max-approval to override")
	}
	if amount.Cmp(requested) > 0 {
		return clierr.New(
			clierr.CodeActionPlan,
			fmt.Sprintf("approval amount %s exceeds requested input amount %s; use --allow-max-approval to override", amount.String(), requested.String()),
		)
	}
	return nil
}

func validateBridgePolicy(action *Action, step *ActionStep, chainID int64, data []byte, opts ExecuteOptions) error {
	if !opts.UnsafeBridgeTarget {
		canonical, err := canonicalTokenBridge(chainID)
		if err != nil {
			return err
		}
		if common.HexToAddress(step.Target) != canonical {
			return clierr.New(clierr.CodeActionPlan, "bridge step target is not the canonical token bridge; use --unsafe-bridge-target to override")
		}
	}
	if len(data) < 4 || !bytes.Equal(data[:4], policyTransferSelector) {
		return clierr.New(clierr.CodeActionPlan, "bridge step must call transferTokensWithPayload")
	}
	args, err := policyTokenBridgeABI.Methods["transferTokensWithPayload"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 6 {
		return clierr.New(clierr.CodeActionPlan, "bridge step calldata is invalid")
	}
	if action == nil {
		return clierr.New(clierr.CodeActionPlan, "cannot validate bridge step without action context")
	}

	token, _ := toAddress(args[0])
	if !strings.EqualFold(token.Hex(), common.HexToAddress(action.Token).Hex()) {
		return clierr.New(clierr.CodeActionPlan, "bridge step sends a different token than planned")
	}
	amount, ok := toBigInt(args[1])
	requested, okRequested := parsePositiveBaseUnits(action.InputAmount)
	if !ok || !okRequested || amount.Cmp(requested) != 0 {
		return clierr.New(clierr.CodeActionPlan, "bridge step amount does not match the planned amount")
	}
	if chain, ok := args[2].(uint16); !ok || chain != action.DestChain {
		return clierr.New(clierr.CodeActionPlan, "bridge step targets a different destination chain than planned")
	}
	recipient, ok := args[3].([32]byte)
	if !ok || recipient != bridge.AddressToBytes32(common.HexToAddress(action.Inbox)) {
		return clierr.New(clierr.CodeActionPlan, "bridge step is not addressed to the planned inbox")
	}
	payload, ok := args[5].([]byte)
	if !ok {
		return clierr.New(clierr.CodeActionPlan, "bridge step payload is invalid")
	}
	decoded, err := bridge.DecodePayload(payload)
	if err != nil || !strings.EqualFold(decoded.Hex(), common.HexToAddress(action.Recipient).Hex()) {
		return clierr.New(clierr.CodeActionPlan, "bridge step payload does not carry the planned recipient")
	}
	return nil
}

func canonicalTokenBridge(evmChainID int64) (common.Address, error) {
	chain, err := id.ParseChain(fmt.Sprintf("eip155:%d", evmChainID))
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeActionPlan, "resolve token bridge", err)
	}
	addr, ok := registry.WormholeTokenBridge(chain.ID)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeActionPlan, fmt.Sprintf("no canonical token bridge for chain %s", chain.Slug))
	}
	return common.HexToAddress(addr), nil
}

func parsePositiveBaseUnits(value string) (*big.Int, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, false
	}
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok || parsed.Sign() <= 0 {
		return nil, false
	}
	return parsed, true
}

func toAddress(v any) (common.Address, bool) {
	switch value := v.(type) {
	case common.Address:
		return value, true
	case *common.Address:
		if value == nil {
			return common.Address{}, false
		}
		return *value, true
	default:
		return common.Address{}, false
	}
}

func toBigInt(v any) (*big.Int, bool) {
	switch value := v.(type) {
	case *big.Int:
		if value == nil {
			return nil, false
		}
		return value, true
	case big.Int:
		cpy := value
		return &cpy, true
	default:
		return nil, false
	}
}

func mustPolicyABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
