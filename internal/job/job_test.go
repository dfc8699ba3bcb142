package job

import "testing"

func TestCanTransitionPendingToRunning(t *testing.T) {
	if !CanTransition(StatusPending, StatusRunning) {
		t.Fatal("pending -> running must be legal")
	}
	if CanTransition(StatusPending, StatusCompleted) {
		t.Fatal("pending -> completed must not skip running")
	}
}

func TestCanTransitionRunningToTerminal(t *testing.T) {
	terminals := []Status{StatusCompleted, StatusCompileError, StatusRuntimeError, StatusTimeout, StatusInternalErr}
	for _, to := range terminals {
		if !CanTransition(StatusRunning, to) {
			t.Fatalf("running -> %s must be legal", to)
		}
	}
	if CanTransition(StatusRunning, StatusPending) {
		t.Fatal("running -> pending must not be legal")
	}
	if CanTransition(StatusRunning, StatusRunning) {
		t.Fatal("running -> running must not be legal")
	}
}

func TestCanTransitionRejectsFromTerminal(t *testing.T) {
	terminals := []Status{StatusCompleted, StatusCompileError, StatusRuntimeError, StatusTimeout, StatusInternalErr}
	for _, from := range terminals {
		if CanTransition(from, StatusRunning) {
			t.Fatalf("%s -> running must not be legal, terminal states are final", from)
		}
		if CanTransition(from, StatusPending) {
			t.Fatalf("%s -> pending must not be legal", from)
		}
	}
}
