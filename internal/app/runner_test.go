package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testSender = "0x0000000000000000000000000000000000005e4d"

// isolate points every state path at a temp dir and selects the sample
// deployment manifest.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	manifest, err := filepath.Abs(filepath.Join("..", "..", "deployments", "polygon-celo.yaml"))
	if err != nil {
		t.Fatalf("abs manifest path: %v", err)
	}
	t.Setenv("RELAY_DEPLOYMENT", manifest)
	return dir
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := NewRunnerWithWriters(&stdout, &stderr).Run(args)
	return code, stdout.String(), stderr.String()
}

func decode[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decode output: %v output=%s", err, raw)
	}
	return v
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("relay routes resolve"); got != "routes resolve" {
		t.Fatalf("unexpected trim result: %s", got)
	}
	if got := trimRootPath("relay"); got != "relay" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestSplitCSV(t *testing.T) {
	items := splitCSV("Mobius-USDCet, quickswap-router ,")
	if len(items) != 2 || items[0] != "mobius-usdcet" || items[1] != "quickswap-router" {
		t.Fatalf("unexpected split: %#v", items)
	}
}

func TestRunnerRoutesList(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, "routes", "list", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	routes := decode[[]map[string]any](t, stdout)
	if len(routes) != 2 {
		t.Fatalf("expected two routes, got %s", stdout)
	}
	first := routes[0]
	if first["source_chain"] != "polygon" || first["dest_chain"] != "celo" || first["inbox"] != "0xD39a370B582f3B0163Ffe9a7Acc319856D2f5089" {
		t.Fatalf("unexpected first route: %v", first)
	}
}

func TestRunnerRoutesResolveUnknownDestination(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t, "routes", "resolve", "--from", "polygon", "--to", "30")
	if code != 11 {
		t.Fatalf("expected unknown destination exit 11, got %d stderr=%s", code, stderr)
	}
	env := decode[map[string]any](t, stderr)
	errBody, _ := env["error"].(map[string]any)
	if errBody["type"] != "unknown_destination" {
		t.Fatalf("unexpected error body: %v", env["error"])
	}
}

func TestRunnerSwappersResolveShowsCompositeRoute(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, "swappers", "resolve", "--chain", "polygon", "--token-in", "USDCET", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	item := decode[map[string]any](t, stdout)
	if item["name"] != "stablecoin" || item["kind"] != "composite" || item["token_out_symbol"] != "USDC" {
		t.Fatalf("unexpected swapper: %s", stdout)
	}
	via, _ := item["via"].([]any)
	if len(via) != 1 || via[0] != "quickswap" {
		t.Fatalf("expected composite to route through quickswap, got %v", item["via"])
	}
}

func TestRunnerSwappersList(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, "swappers", "list", "--chain", "celo", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	items := decode[[]map[string]any](t, stdout)
	if len(items) != 1 || items[0]["name"] != "mobius" || items[0]["kind"] != "stable_pool" {
		t.Fatalf("unexpected celo swappers: %s", stdout)
	}
}

func TestRunnerSimulateDelivers(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t,
		"simulate",
		"--from", "polygon", "--to", "celo",
		"--token", "USDC", "--amount", "100000000",
		"--from-address", testSender,
		"--recipient", "0x000000000000000000000000000000000000beef",
		"--results-only",
	)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	result := decode[struct {
		Status   string `json:"status"`
		Balances []struct {
			Role   string `json:"role"`
			Amount struct {
				Base string `json:"amount_base_units"`
			} `json:"amount"`
		} `json:"balances"`
		Events []map[string]any `json:"events"`
	}](t, stdout)
	if result.Status != "delivered" {
		t.Fatalf("expected delivered, got %s", stdout)
	}
	balances := map[string]string{}
	for _, b := range result.Balances {
		balances[b.Role] = b.Amount.Base
	}
	if balances["recipient"] != "99800000000000000000" || balances["sender"] != "400000000" || balances["bridge_escrow"] != "100000000" {
		t.Fatalf("unexpected balances: %v", balances)
	}
	if len(result.Events) < 2 {
		t.Fatalf("expected routed and delivered events, got %v", result.Events)
	}
}

func TestRunnerSimulateHaltedVenue(t *testing.T) {
	isolate(t)
	args := []string{
		"simulate",
		"--from", "polygon", "--to", "celo",
		"--token", "USDC", "--amount-decimal", "10",
		"--from-address", testSender,
		"--halt", "mobius-usdcet",
	}

	code, stdout, stderr := run(t, args...)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	env := decode[map[string]any](t, stdout)
	data, _ := env["data"].(map[string]any)
	if data["status"] != "pending" {
		t.Fatalf("expected pending transfer, got %v", data["status"])
	}
	meta, _ := env["meta"].(map[string]any)
	if meta["partial"] != true {
		t.Fatalf("expected partial meta, got %v", meta)
	}

	code, _, stderr = run(t, append(args, "--strict")...)
	if code != 27 {
		t.Fatalf("expected partial exit 27 under --strict, got %d stderr=%s", code, stderr)
	}

	code, stdout, stderr = run(t, append(args, "--release", "--select", "status", "--results-only")...)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	if got := decode[map[string]any](t, stdout); got["status"] != "released" {
		t.Fatalf("expected released transfer, got %s", stdout)
	}

	code, stdout, stderr = run(t, append(args, "--deliver", "--select", "status", "--results-only")...)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	if got := decode[map[string]any](t, stdout); got["status"] != "delivered" {
		t.Fatalf("expected delivery after resume, got %s", stdout)
	}
}

func TestRunnerSimulateUnknownVenue(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t,
		"simulate", "--from", "polygon", "--to", "celo", "--token", "USDC", "--amount", "1",
		"--from-address", testSender, "--halt", "sushiswap",
	)
	if code != 2 {
		t.Fatalf("expected usage exit 2, got %d stderr=%s", code, stderr)
	}
}

func TestRunnerEventsListReadsJournal(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t,
		"simulate", "--from", "polygon", "--to", "celo", "--token", "USDC", "--amount", "1000000",
		"--from-address", testSender,
	)
	if code != 0 {
		t.Fatalf("simulate: exit %d stderr=%s", code, stderr)
	}
	code, stdout, stderr := run(t, "events", "list", "--kind", "delivered", "--results-only")
	if code != 0 {
		t.Fatalf("events list: exit %d stderr=%s", code, stderr)
	}
	entries := decode[[]map[string]any](t, stdout)
	if len(entries) != 1 {
		t.Fatalf("expected one delivered event, got %s", stdout)
	}

	code, stdout, stderr = run(t, "events", "prune", "--older-than", "1h", "--results-only")
	if code != 0 {
		t.Fatalf("events prune: exit %d stderr=%s", code, stderr)
	}
	if got := decode[map[string]any](t, stdout); got["removed"] != float64(0) {
		t.Fatalf("expected fresh events to survive prune, got %s", stdout)
	}

	code, _, _ = run(t, "events", "list", "--kind", "bogus")
	if code != 2 {
		t.Fatalf("expected usage exit for unknown kind, got %d", code)
	}
	code, _, _ = run(t, "events", "list", "--no-journal")
	if code != 2 {
		t.Fatalf("expected usage exit with journal disabled, got %d", code)
	}
}

func TestRunnerMetricsTextfile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "relay.prom")
	code, _, stderr := run(t,
		"simulate", "--from", "polygon", "--to", "celo", "--token", "USDC", "--amount", "1000000",
		"--from-address", testSender, "--metrics-textfile", path,
	)
	if code != 0 {
		t.Fatalf("simulate: exit %d stderr=%s", code, stderr)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read metrics textfile: %v", err)
	}
	if !strings.Contains(string(buf), `relay_events_total{chain_id="14",kind="delivered"} 1`) {
		t.Fatalf("unexpected metrics:\n%s", buf)
	}
}

func TestRunnerMissingDeployment(t *testing.T) {
	isolate(t)
	t.Setenv("RELAY_DEPLOYMENT", "")
	code, _, stderr := run(t, "routes", "list")
	if code != 2 {
		t.Fatalf("expected usage exit 2, got %d stderr=%s", code, stderr)
	}
	if !strings.Contains(stderr, "no deployment configured") {
		t.Fatalf("unexpected error: %s", stderr)
	}
}

func TestRunnerErrorEnvelopeIgnoresResultsOnly(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t, "routes", "list", "--enable-commands", "actions", "--results-only")
	if code != 25 {
		t.Fatalf("expected exit 25, got %d stderr=%s", code, stderr)
	}
	env := decode[map[string]any](t, stderr)
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
}

func TestRunnerVersion(t *testing.T) {
	isolate(t)
	code, stdout, _ := run(t, "version")
	if code != 0 || strings.TrimSpace(stdout) == "" {
		t.Fatalf("unexpected version output: %d %q", code, stdout)
	}
}
