package execution

import "time"

type ActionStatus string

type StepStatus string

type StepType string

const (
	ActionStatusPlanned   ActionStatus = "planned"
	ActionStatusRunning   ActionStatus = "running"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
)

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusSimulated StepStatus = "simulated"
	StepStatusSubmitted StepStatus = "submitted"
	StepStatusConfirmed StepStatus = "confirmed"
	StepStatusFailed    StepStatus = "failed"
)

const (
	StepTypeApproval StepType = "approval"
	StepTypeBridge   StepType = "bridge_send"
)

// IntentRelaySend is the only intent the relay plans: an outbox send carried
// over the Wormhole token bridge.
const IntentRelaySend = "relay_send"

type Constraints struct {
	Simulate bool `json:"simulate"`
}

type ActionStep struct {
	StepID          string            `json:"step_id"`
	Type            StepType          `json:"type"`
	Status          StepStatus        `json:"status"`
	ChainID         string            `json:"chain_id"`
	RPCURL          string            `json:"rpc_url,omitempty"`
	Description     string            `json:"description,omitempty"`
	Target          string            `json:"target"`
	Data            string            `json:"data"`
	Value           string            `json:"value"`
	ExpectedOutputs map[string]string `json:"expected_outputs,omitempty"`
	TxHash          string            `json:"tx_hash,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Action is a planned relay transfer: the source-chain transactions that
// hand Amount of Token to the token bridge addressed to Inbox on DestChain,
// with Recipient carried in the payload.
type Action struct {
	ActionID    string         `json:"action_id"`
	IntentType  string         `json:"intent_type"`
	Transport   string         `json:"transport,omitempty"`
	Status      ActionStatus   `json:"status"`
	ChainID     string         `json:"chain_id"`
	DestChain   uint16         `json:"dest_chain_id"`
	FromAddress string         `json:"from_address,omitempty"`
	Token       string         `json:"token,omitempty"`
	Inbox       string         `json:"inbox,omitempty"`
	Recipient   string         `json:"recipient,omitempty"`
	InputAmount string         `json:"input_amount,omitempty"`
	Nonce       uint32         `json:"nonce"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	Constraints Constraints    `json:"constraints"`
	Steps       []ActionStep   `json:"steps"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewAction(actionID, intentType, chainID string, constraints Constraints) Action {
	now := time.Now().UTC().Format(time.RFC3339)
	return Action{
		ActionID:    actionID,
		IntentType:  intentType,
		Status:      ActionStatusPlanned,
		ChainID:     chainID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Constraints: constraints,
		Steps:       []ActionStep{},
	}
}

func (a *Action) Touch() {
	a.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// Settled reports whether every step confirmed on chain.
func (a Action) Settled() bool {
	if len(a.Steps) == 0 {
		return false
	}
	for _, s := range a.Steps {
		if s.Status != StepStatusConfirmed {
			return false
		}
	}
	return true
}
