package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCodeFollowsWrappedCode(t *testing.T) {
	base := New(CodeNoSwapperRegistered, "no swapper registered")
	wrapped := fmt.Errorf("receive: %w", base)
	if got := ExitCode(wrapped); got != int(CodeNoSwapperRegistered) {
		t.Fatalf("unexpected exit code: %d", got)
	}
	if got := ExitCode(errors.New("plain")); got != int(CodeInternal) {
		t.Fatalf("expected internal exit code for untyped error, got %d", got)
	}
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("expected success exit code, got %d", got)
	}
}

func TestIsMatchesOutermostTypedError(t *testing.T) {
	inner := New(CodeVenueFailure, "venue halted")
	outer := Wrap(CodeUnavailable, "deliver", inner)
	if !Is(outer, CodeUnavailable) {
		t.Fatal("expected outer code to match")
	}
	if Is(outer, CodeVenueFailure) {
		t.Fatal("did not expect inner code to match the outermost check")
	}
	if outer.Error() != "deliver: venue halted" {
		t.Fatalf("unexpected message: %s", outer.Error())
	}
}

func TestTypeName(t *testing.T) {
	cases := map[Code]string{
		CodeUnauthorized:        "unauthorized",
		CodeUnknownDestination:  "unknown_destination",
		CodeNoSwapperRegistered: "no_swapper_registered",
		CodeUnsupportedPair:     "unsupported_pair",
		CodeVenueFailure:        "venue_execution_failure",
		CodeRateLimited:         "rate_limited",
		CodePartialStrict:       "partial_results",
		Code(99):                "internal_error",
	}
	for code, want := range cases {
		if got := TypeName(code); got != want {
			t.Fatalf("TypeName(%d) = %s, want %s", code, got, want)
		}
	}
}
