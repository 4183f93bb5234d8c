package execution

import (
	"context"
	"path/filepath"
	"testing"

	clierr "github.com/ggonzalez94/relay/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "actions.db"), filepath.Join(dir, "actions.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSaveGetList(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	action := NewAction(NewActionID(), IntentRelaySend, "eip155:137", Constraints{Simulate: true})
	action.DestChain = 14
	action.Inbox = "0xD39a370B582f3B0163Ffe9a7Acc319856D2f5089"
	action.Steps = append(action.Steps, ActionStep{
		StepID:  "bridge-1",
		Type:    StepTypeBridge,
		Status:  StepStatusPending,
		ChainID: "eip155:137",
		Target:  "0x5a58505a96D1dbf8dF91cB21B54419FC36e93fdE",
		Data:    "0x",
		Value:   "0",
	})
	if err := store.Save(ctx, action); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, action.ActionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ActionID != action.ActionID || got.IntentType != IntentRelaySend {
		t.Fatalf("unexpected action: %+v", got)
	}
	if got.DestChain != 14 || got.Inbox != action.Inbox {
		t.Fatalf("relay fields not persisted: %+v", got)
	}

	got.Status = ActionStatusCompleted
	if err := store.Save(ctx, got); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	completed, err := store.List(ctx, string(ActionStatusCompleted), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(completed) != 1 {
		t.Fatalf("expected one completed action, got %d", len(completed))
	}
	planned, err := store.List(ctx, string(ActionStatusPlanned), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(planned) != 0 {
		t.Fatalf("expected upsert to replace the planned row, got %d planned", len(planned))
	}
}

func TestStoreGetMissingAction(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for missing action, got %v", err)
	}
}

func TestActionSettled(t *testing.T) {
	action := NewAction("act_1", IntentRelaySend, "eip155:137", Constraints{})
	if action.Settled() {
		t.Fatal("action without steps cannot be settled")
	}
	action.Steps = []ActionStep{{Status: StepStatusConfirmed}, {Status: StepStatusSubmitted}}
	if action.Settled() {
		t.Fatal("expected unsettled action")
	}
	action.Steps[1].Status = StepStatusConfirmed
	if !action.Settled() {
		t.Fatal("expected settled action")
	}
}

func TestNewActionIDShape(t *testing.T) {
	a, b := NewActionID(), NewActionID()
	if !IsActionID(a) || a == b {
		t.Fatalf("unexpected action ids %q %q", a, b)
	}
	if IsActionID("act_") || IsActionID("plan_123") {
		t.Fatal("expected malformed ids to be rejected")
	}
}
