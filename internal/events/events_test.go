package events

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestJournalAppendAndList(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(filepath.Join(dir, "events.db"), filepath.Join(dir, "events.lock"), zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	j.Emit(ctx, Event{Kind: KindRouted, Chain: 5, DestChain: 14, Amount: "100"})
	j.Emit(ctx, Event{Kind: KindCustodied, Chain: 14, Reason: "no_swapper_registered"})
	if _, err := j.Append(ctx, Event{Kind: KindDelivered, Chain: 14, AmountOut: "99"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	all, err := j.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].Event.Kind != KindDelivered || all[2].Event.Kind != KindRouted {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if all[0].Seq <= all[1].Seq {
		t.Fatalf("expected descending sequence numbers, got %d then %d", all[0].Seq, all[1].Seq)
	}
	if all[2].Event.At.IsZero() {
		t.Fatal("expected journal to stamp event time")
	}

	custodied, err := j.List(ctx, string(KindCustodied), 10)
	if err != nil {
		t.Fatalf("List by kind failed: %v", err)
	}
	if len(custodied) != 1 || custodied[0].Event.Reason != "no_swapper_registered" {
		t.Fatalf("unexpected custodied events: %+v", custodied)
	}

	limited, err := j.List(ctx, "", 1)
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestJournalPrune(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(filepath.Join(dir, "events.db"), filepath.Join(dir, "events.lock"), zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	old := Event{Kind: KindRouted, Chain: 5, At: time.Now().Add(-48 * time.Hour)}
	if _, err := j.Append(ctx, old); err != nil {
		t.Fatalf("Append old: %v", err)
	}
	if _, err := j.Append(ctx, Event{Kind: KindRouted, Chain: 5}); err != nil {
		t.Fatalf("Append new: %v", err)
	}
	removed, err := j.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one pruned event, got %d", removed)
	}
}

func TestJournalReopenKeepsEvents(t *testing.T) {
	dir := t.TempDir()
	path, lock := filepath.Join(dir, "events.db"), filepath.Join(dir, "events.lock")
	j, err := OpenJournal(path, lock, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}
	j.Emit(context.Background(), Event{Kind: KindReleased, Chain: 14})
	_ = j.Close()

	j, err = OpenJournal(path, lock, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer j.Close()
	entries, err := j.List(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Event.Kind != KindReleased {
		t.Fatalf("unexpected entries after reopen: %+v", entries)
	}
}

func TestMetricsCountsByKindAndReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	ctx := context.Background()
	m.Emit(ctx, Event{Kind: KindRouted, Chain: 5})
	m.Emit(ctx, Event{Kind: KindRouted, Chain: 5})
	m.Emit(ctx, Event{Kind: KindCustodied, Chain: 14, Reason: "venue_execution_failure"})

	if got := testutil.ToFloat64(m.events.WithLabelValues("routed", "5")); got != 2 {
		t.Fatalf("expected 2 routed events, got %v", got)
	}
	if got := testutil.ToFloat64(m.custodied.WithLabelValues("14", "venue_execution_failure")); got != 1 {
		t.Fatalf("expected 1 custodied event, got %v", got)
	}
	if _, err := NewMetrics(reg); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestLogSinkWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))
	sink.Emit(context.Background(), Event{Kind: KindCustodied, Chain: 14, Contract: "0xabc", Reason: "no_swapper_registered"})

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["level"] != "warn" || line["kind"] != "custodied" || line["chain_id"] != "14" {
		t.Fatalf("unexpected log line: %+v", line)
	}
	if _, ok := line["amount"]; ok {
		t.Fatalf("empty fields should be omitted: %+v", line)
	}
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	sink := Multi(a, nil, b)
	sink.Emit(context.Background(), Event{Kind: KindRouted})
	sink.Emit(context.Background(), Event{Kind: KindDelivered})
	if len(a.Events()) != 2 || len(b.Events()) != 2 {
		t.Fatalf("expected both recorders to see both events")
	}
	if got := a.OfKind(KindDelivered); len(got) != 1 {
		t.Fatalf("unexpected OfKind result: %+v", got)
	}
	Discard.Emit(context.Background(), Event{})
}

func TestStampKeepsExistingTime(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got := Stamp(Event{At: at}, time.Now)
	if !got.At.Equal(at) {
		t.Fatalf("expected existing time kept, got %v", got.At)
	}
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.FixedZone("x", 3600))
	got = Stamp(Event{}, func() time.Time { return fixed })
	if !strings.HasSuffix(got.At.Location().String(), "UTC") {
		t.Fatalf("expected UTC stamp, got %v", got.At)
	}
}
