package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes each event as one structured log line. Custody is logged at
// warn level since it needs operator attention.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "events").Logger()}
}

func (s *LogSink) Emit(_ context.Context, e Event) {
	entry := s.log.Info()
	if e.Kind == KindCustodied {
		entry = s.log.Warn()
	}
	entry = entry.Str("kind", string(e.Kind)).
		Stringer("chain_id", e.Chain).
		Str("contract", e.Contract)
	for _, f := range []struct{ k, v string }{
		{"inbox", e.Inbox},
		{"token", e.Token},
		{"token_out", e.TokenOut},
		{"amount", e.Amount},
		{"amount_out", e.AmountOut},
		{"recipient", e.Recipient},
		{"swapper", e.Swapper},
		{"registry", e.Registry},
		{"key", e.Key},
		{"previous", e.Previous},
		{"transfer_id", e.Transfer},
		{"reason", e.Reason},
		{"detail", e.Detail},
	} {
		if f.v != "" {
			entry = entry.Str(f.k, f.v)
		}
	}
	if e.DestChain != 0 {
		entry = entry.Stringer("dest_chain_id", e.DestChain)
	}
	entry.Msg("relay event")
}
