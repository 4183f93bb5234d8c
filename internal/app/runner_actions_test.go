package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ggonzalez94/relay/internal/execution"
)

func TestResolveActionID(t *testing.T) {
	got, err := resolveActionID(" act_123 ")
	if err != nil {
		t.Fatalf("resolveActionID failed: %v", err)
	}
	if got != "act_123" {
		t.Fatalf("unexpected action id: %s", got)
	}
	if _, err := resolveActionID(""); err == nil {
		t.Fatal("expected error for missing action id")
	}
	if _, err := resolveActionID("plan_1"); err == nil {
		t.Fatal("expected error for malformed action id")
	}
}

func TestShouldOpenActionStore(t *testing.T) {
	for _, path := range []string{"send plan", "actions list", "actions execute", "relay actions status"} {
		if !shouldOpenActionStore(path) {
			t.Fatalf("expected %s to require action store", path)
		}
	}
	for _, path := range []string{"simulate", "routes list", "events list", "send"} {
		if shouldOpenActionStore(path) {
			t.Fatalf("did not expect %s to require action store", path)
		}
	}
}

func TestShouldOpenJournal(t *testing.T) {
	if !shouldOpenJournal("simulate") || !shouldOpenJournal("events list") || !shouldOpenJournal("send plan") {
		t.Fatal("expected relay commands to open the journal")
	}
	if shouldOpenJournal("actions execute") || shouldOpenJournal("swappers list") {
		t.Fatal("did not expect read-only commands to open the journal")
	}
}

func TestRunnerRelayCommandsInSchema(t *testing.T) {
	isolate(t)
	for _, path := range []string{"send plan", "actions execute", "actions status", "routes resolve", "simulate"} {
		t.Run(path, func(t *testing.T) {
			code, stdout, stderr := run(t, "schema", path, "--results-only")
			if code != 0 {
				t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
			}
			doc := decode[map[string]any](t, stdout)
			if doc["path"] != "relay "+path {
				t.Fatalf("unexpected schema path: %v", doc["path"])
			}
		})
	}
}

func planSend(t *testing.T) execution.Action {
	t.Helper()
	code, stdout, stderr := run(t,
		"send", "plan",
		"--from", "polygon", "--to", "celo",
		"--token", "USDC", "--amount-decimal", "25",
		"--from-address", testSender,
		"--rpc-url", "http://127.0.0.1:8545",
		"--results-only",
	)
	if code != 0 {
		t.Fatalf("send plan: exit %d stderr=%s", code, stderr)
	}
	return decode[execution.Action](t, stdout)
}

func TestRunnerSendPlanPersistsAction(t *testing.T) {
	isolate(t)
	action := planSend(t)
	if action.IntentType != execution.IntentRelaySend || len(action.Steps) != 2 {
		t.Fatalf("unexpected action: %+v", action)
	}
	if action.Inbox != "0xD39a370B582f3B0163Ffe9a7Acc319856D2f5089" || action.InputAmount != "25000000" || action.DestChain != 14 {
		t.Fatalf("unexpected routing in action: %+v", action)
	}

	code, stdout, stderr := run(t, "actions", "list", "--results-only")
	if code != 0 {
		t.Fatalf("actions list: exit %d stderr=%s", code, stderr)
	}
	items := decode[[]execution.Action](t, stdout)
	if len(items) != 1 || items[0].ActionID != action.ActionID {
		t.Fatalf("expected the planned action in list, got %s", stdout)
	}

	code, stdout, stderr = run(t, "actions", "show", "--action-id", action.ActionID, "--results-only")
	if code != 0 {
		t.Fatalf("actions show: exit %d stderr=%s", code, stderr)
	}
	if got := decode[execution.Action](t, stdout); got.Status != execution.ActionStatusPlanned {
		t.Fatalf("expected planned status, got %s", got.Status)
	}
}

func TestRunnerActionsExecuteRequiresYes(t *testing.T) {
	isolate(t)
	action := planSend(t)
	code, _, stderr := run(t, "actions", "execute", "--action-id", action.ActionID)
	if code != 2 {
		t.Fatalf("expected usage exit 2, got %d stderr=%s", code, stderr)
	}
}

func TestRunnerActionsStatusMissing(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t, "actions", "status", "--action-id", "act_missing")
	if code != 2 {
		t.Fatalf("expected usage exit 2 for missing action, got %d stderr=%s", code, stderr)
	}
}

func TestRunnerActionsStatusRefresh(t *testing.T) {
	dir := isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("txHash") != "0xsource" {
			t.Errorf("unexpected tx hash %q", r.URL.Query().Get("txHash"))
		}
		_, _ = fmt.Fprint(w, `{"operations":[{"id":"5/00/7","sequence":"7","vaa":{"raw":"AQ=="},"targetChain":{"chainId":14,"status":"completed","transaction":{"txHash":"0xdest"}}}]}`)
	}))
	defer srv.Close()
	t.Setenv("RELAY_WORMHOLESCAN_URL", srv.URL)

	storePath := filepath.Join(dir, "actions.db")
	t.Setenv("RELAY_ACTIONS_PATH", storePath)
	t.Setenv("RELAY_ACTIONS_LOCK_PATH", filepath.Join(dir, "actions.lock"))
	store, err := execution.OpenStore(storePath, filepath.Join(dir, "actions.lock"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	action := execution.NewAction("act_refresh", execution.IntentRelaySend, "eip155:137", execution.Constraints{})
	action.Steps = []execution.ActionStep{
		{StepID: "approve-token-bridge", Type: execution.StepTypeApproval, Status: execution.StepStatusConfirmed, TxHash: "0xapprove"},
		{StepID: "transfer-with-payload", Type: execution.StepTypeBridge, Status: execution.StepStatusConfirmed, TxHash: "0xsource"},
	}
	if err := store.Save(context.Background(), action); err != nil {
		t.Fatalf("save action: %v", err)
	}
	_ = store.Close()

	code, stdout, stderr := run(t, "actions", "status", "--action-id", "act_refresh", "--refresh", "--results-only")
	if code != 0 {
		t.Fatalf("actions status: exit %d stderr=%s", code, stderr)
	}
	got := decode[execution.Action](t, stdout)
	out := got.Steps[1].ExpectedOutputs
	if out["settlement_status"] != "redeemed" || out["destination_tx_hash"] != "0xdest" || out["sequence"] != "7" {
		t.Fatalf("unexpected settlement outputs: %v", out)
	}
	if _, ok := got.Steps[0].ExpectedOutputs["settlement_status"]; ok {
		t.Fatal("did not expect approval step to be refreshed")
	}
}
