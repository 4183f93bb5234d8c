package model

import (
	"time"

	"github.com/ggonzalez94/relay/internal/events"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID  string    `json:"request_id"`
	Timestamp  time.Time `json:"timestamp"`
	Command    string    `json:"command"`
	Deployment string    `json:"deployment,omitempty"`
	Transport  string    `json:"transport,omitempty"`
	Partial    bool      `json:"partial"`
}

// Route is one outbox -> inbox registry entry.
type Route struct {
	SourceChain   string `json:"source_chain"`
	SourceChainID uint16 `json:"source_chain_id"`
	Outbox        string `json:"outbox"`
	DestChain     string `json:"dest_chain"`
	DestChainID   uint16 `json:"dest_chain_id"`
	Inbox         string `json:"inbox"`
}

// SwapperRoute is one inbox swapper registry entry.
type SwapperRoute struct {
	Chain          string   `json:"chain"`
	ChainID        uint16   `json:"chain_id"`
	Inbox          string   `json:"inbox"`
	TokenIn        string   `json:"token_in"`
	TokenInSymbol  string   `json:"token_in_symbol,omitempty"`
	TokenOut       string   `json:"token_out"`
	TokenOutSymbol string   `json:"token_out_symbol,omitempty"`
	Swapper        string   `json:"swapper"`
	Kind           string   `json:"kind,omitempty"`
	Name           string   `json:"name,omitempty"`
	Via            []string `json:"via,omitempty"`
}

type AmountInfo struct {
	AmountBaseUnits string `json:"amount_base_units"`
	AmountDecimal   string `json:"amount_decimal"`
	Decimals        int    `json:"decimals"`
}

type Balance struct {
	ChainID uint16     `json:"chain_id"`
	Role    string     `json:"role"`
	Holder  string     `json:"holder"`
	Token   string     `json:"token"`
	Symbol  string     `json:"symbol,omitempty"`
	Amount  AmountInfo `json:"amount"`
}

// Transfer describes a routed transfer as accepted by the transport.
type Transfer struct {
	SourceChainID uint16     `json:"source_chain_id"`
	DestChainID   uint16     `json:"dest_chain_id"`
	Inbox         string     `json:"inbox"`
	Token         string     `json:"token"`
	Symbol        string     `json:"symbol,omitempty"`
	Amount        AmountInfo `json:"amount"`
	Sender        string     `json:"sender"`
	Recipient     string     `json:"recipient"`
	Nonce         uint32     `json:"nonce"`
	Transport     string     `json:"transport"`
	TransferID    string     `json:"transfer_id"`
	Status        string     `json:"status"`
}

// Simulation is the outcome of one in-process relay run.
type Simulation struct {
	Transfer Transfer          `json:"transfer"`
	Status   string            `json:"status"`
	Errors   map[string]string `json:"errors,omitempty"`
	Balances []Balance         `json:"balances"`
	Events   []events.Event    `json:"events"`
}
