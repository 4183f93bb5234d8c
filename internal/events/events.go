// Package events carries the relay's observability trail: every routed
// transfer, delivery, custody and registry write becomes an Event that is
// fanned out to the configured sinks after its unit of work commits.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/ggonzalez94/relay/internal/id"
)

type Kind string

const (
	KindRouted        Kind = "routed"
	KindDelivered     Kind = "delivered"
	KindCustodied     Kind = "custodied"
	KindReleased      Kind = "released"
	KindRegistryWrite Kind = "registry_write"
)

// Event is a flat record; fields that do not apply to a kind stay empty.
// Addresses are checksummed hex and amounts are base-unit decimal strings.
type Event struct {
	Kind      Kind       `json:"kind"`
	Chain     id.ChainID `json:"chain_id"`
	Contract  string     `json:"contract"`
	DestChain id.ChainID `json:"dest_chain_id,omitempty"`
	Inbox     string     `json:"inbox,omitempty"`
	Token     string     `json:"token,omitempty"`
	TokenOut  string     `json:"token_out,omitempty"`
	Amount    string     `json:"amount,omitempty"`
	AmountOut string     `json:"amount_out,omitempty"`
	Recipient string     `json:"recipient,omitempty"`
	Swapper   string     `json:"swapper,omitempty"`
	Registry  string     `json:"registry,omitempty"`
	Key       string     `json:"key,omitempty"`
	Previous  string     `json:"previous,omitempty"`
	Transfer  string     `json:"transfer_id,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	At        time.Time  `json:"at"`
}

// Sink receives committed events. Emit must not block the caller for long
// and never fails the unit of work that produced the event.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(context.Context, Event) {}

// Multi fans out to every sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		s.Emit(ctx, event)
	}
}

// Recorder keeps events in memory; simulations and tests read them back.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns the recorded events of kind in emission order.
func (r *Recorder) OfKind(kind Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Event{}
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Stamp fills At when the producer left it empty.
func Stamp(event Event, now func() time.Time) Event {
	if event.At.IsZero() {
		event.At = now().UTC()
	}
	return event
}
