package wormhole

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/relay/internal/errors"
	"github.com/ggonzalez94/relay/internal/execution"
	"github.com/ggonzalez94/relay/internal/httpx"
	"github.com/ggonzalez94/relay/internal/registry"
)

// Settlement stages of a token bridge transfer as seen by Wormholescan.
const (
	StageNotIndexed     = "not_indexed"
	StageAwaitingVAA    = "awaiting_vaa"
	StageAwaitingRedeem = "awaiting_redeem"
	StageRedeemed       = "redeemed"
)

type Operation struct {
	ID             string      `json:"id"`
	EmitterChain   uint16      `json:"emitterChain"`
	EmitterAddress emitterInfo `json:"emitterAddress"`
	Sequence       string      `json:"sequence"`
	VAA            *vaaInfo    `json:"vaa"`
	SourceChain    *chainLeg   `json:"sourceChain"`
	TargetChain    *chainLeg   `json:"targetChain"`
}

type vaaInfo struct {
	Raw              string `json:"raw"`
	GuardianSetIndex int    `json:"guardianSetIndex"`
}

type chainLeg struct {
	ChainID     uint16 `json:"chainId"`
	Status      string `json:"status"`
	Transaction struct {
		TxHash string `json:"txHash"`
	} `json:"transaction"`
}

type emitterInfo struct {
	Hex string `json:"hex"`
}

// Stage classifies how far the operation has progressed.
func (o Operation) Stage() string {
	switch {
	case o.VAA == nil || strings.TrimSpace(o.VAA.Raw) == "":
		return StageAwaitingVAA
	case o.TargetChain != nil && strings.EqualFold(o.TargetChain.Status, "completed"):
		return StageRedeemed
	default:
		return StageAwaitingRedeem
	}
}

// Client reads transfer status from the Wormholescan operations API.
type Client struct {
	http    *httpx.Client
	baseURL string
}

func NewClient(hc *httpx.Client, baseURL string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = registry.WormholescanBaseURL
	}
	if !registry.IsAllowedStatusURL(baseURL) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("wormholescan url %s is not allowed", baseURL))
	}
	return &Client{http: hc, baseURL: baseURL}, nil
}

// OperationByTx returns the operation emitted by the source transaction. ok
// is false while Wormholescan has not indexed it yet.
func (c *Client) OperationByTx(ctx context.Context, txHash string) (Operation, bool, error) {
	endpoint := c.baseURL + "/operations?txHash=" + url.QueryEscape(strings.TrimSpace(txHash))
	var body struct {
		Operations []Operation `json:"operations"`
	}
	headers := map[string]string{"Accept": "application/json"}
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodGet, endpoint, nil, headers, &body); err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return Operation{}, false, nil
		}
		return Operation{}, false, err
	}
	if len(body.Operations) == 0 {
		return Operation{}, false, nil
	}
	return body.Operations[0], true, nil
}

// Tracker polls Wormholescan until a bridge step's transfer is redeemed on
// the destination chain. It satisfies execution.SettlementTracker.
type Tracker struct {
	client       *Client
	pollInterval time.Duration
	timeout      time.Duration
}

func NewTracker(client *Client, pollInterval, timeout time.Duration) *Tracker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	return &Tracker{client: client, pollInterval: pollInterval, timeout: timeout}
}

func (t *Tracker) Timeout() time.Duration { return t.timeout }

func (t *Tracker) Track(ctx context.Context, step *execution.ActionStep, txHash string) error {
	if step.ExpectedOutputs == nil {
		step.ExpectedOutputs = map[string]string{}
	}
	waitCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		op, found, err := t.client.OperationByTx(waitCtx, txHash)
		stage := StageNotIndexed
		if err == nil && found {
			stage = op.Stage()
			Record(step, op)
		}
		step.ExpectedOutputs["settlement_status"] = stage
		if stage == StageRedeemed {
			return nil
		}
		// Rate limits and outages are retried until the timeout; only the
		// last error is reported.
		select {
		case <-waitCtx.Done():
			msg := fmt.Sprintf("wormhole transfer not redeemed (stage %s)", stage)
			if err != nil {
				msg = fmt.Sprintf("%s, last error: %v", msg, err)
			}
			return clierr.Wrap(clierr.CodeActionTimeout, msg, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// Record copies what Wormholescan knows about op into step's outputs.
func Record(step *execution.ActionStep, op Operation) {
	if step.ExpectedOutputs == nil {
		step.ExpectedOutputs = map[string]string{}
	}
	if op.ID != "" {
		step.ExpectedOutputs["wormhole_id"] = op.ID
	}
	if op.Sequence != "" {
		step.ExpectedOutputs["sequence"] = op.Sequence
	}
	if op.TargetChain != nil && op.TargetChain.Transaction.TxHash != "" {
		step.ExpectedOutputs["destination_tx_hash"] = op.TargetChain.Transaction.TxHash
	}
}
