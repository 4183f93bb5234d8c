// Package bridge defines the token bridge transport contract the Outbox
// forwards to, the payload format shared by every transport, and an
// in-process loopback transport.
package bridge

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/relay/internal/id"
)

// Transfer is one outbound bridged transfer. Token and Sender live on the
// source chain; Inbox and Recipient live on the destination chain.
type Transfer struct {
	SourceChain id.ChainID
	DestChain   id.ChainID
	Token       common.Address
	Amount      *big.Int
	Sender      common.Address
	Inbox       common.Address
	Recipient   common.Address
	Nonce       uint32
}

type Status string

const (
	StatusPlanned   Status = "planned"
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	// StatusReleased marks a transfer whose custodied tokens the inbox owner
	// paid out by hand; it is never retried.
	StatusReleased Status = "released"
)

// Receipt identifies a transfer inside the transport that accepted it.
type Receipt struct {
	Transport string `json:"transport"`
	ID        string `json:"id"`
	Sequence  uint64 `json:"sequence"`
	Status    Status `json:"status"`
}

// Transport accepts a transfer and takes over responsibility for delivering
// it to the destination Inbox. Delivery failures after acceptance are the
// transport's concern.
type Transport interface {
	Transfer(ctx context.Context, t Transfer) (Receipt, error)
}

var payloadArgs = func() abi.Arguments {
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Name: "recipient", Type: addressType}}
}()

// EncodePayload packs the final recipient into the transfer payload the
// destination Inbox decodes.
func EncodePayload(recipient common.Address) ([]byte, error) {
	return payloadArgs.Pack(recipient)
}

func DecodePayload(payload []byte) (common.Address, error) {
	values, err := payloadArgs.Unpack(payload)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode transfer payload: %w", err)
	}
	if len(values) != 1 {
		return common.Address{}, fmt.Errorf("decode transfer payload: expected 1 value, got %d", len(values))
	}
	recipient, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("decode transfer payload: unexpected recipient type %T", values[0])
	}
	return recipient, nil
}

// AddressToBytes32 left-pads an EVM address into Wormhole's universal
// address format.
func AddressToBytes32(addr common.Address) [32]byte {
	var out [32]byte
	copy(out[12:], addr.Bytes())
	return out
}
