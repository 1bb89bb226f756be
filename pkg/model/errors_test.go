package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestC2ErrorClassification(t *testing.T) {
	base := errors.New("disk full")
	wrapped := fmt.Errorf("save agent: %w", NewInternal("provider failure", base))

	if !errors.Is(wrapped, ErrInternal) {
		t.Error("expected wrapped error to match ErrInternal")
	}
	if errors.Is(wrapped, ErrNotFound) {
		t.Error("internal error must not match ErrNotFound")
	}
	if !errors.Is(wrapped, base) {
		t.Error("expected underlying error to remain reachable")
	}
	if ClassOf(wrapped) != ErrorClassInternal {
		t.Errorf("expected class %s, got %s", ErrorClassInternal, ClassOf(wrapped))
	}

	nf := NewNotFound("agent", "agent-1")
	if !IsNotFound(nf) || IsInvalidArgument(nf) {
		t.Error("not found error misclassified")
	}
	if nf.Error() != "[not_found] resource not found (agent=agent-1)" {
		t.Errorf("unexpected message: %s", nf.Error())
	}

	if ClassOf(base) != "" {
		t.Error("plain error should have no class")
	}
}

func TestAgentClassAddManifest(t *testing.T) {
	c := &AgentClass{Name: "edge"}

	if !c.AddManifest("m1") {
		t.Error("expected first add to change the set")
	}
	if c.AddManifest("m1") {
		t.Error("expected duplicate add to be a no-op")
	}
	if c.AddManifest("") {
		t.Error("expected empty id to be ignored")
	}
	c.AddManifest("m2")

	if len(c.ManifestIDs) != 2 {
		t.Fatalf("expected 2 manifests, got %v", c.ManifestIDs)
	}
	if !c.HasManifest("m2") {
		t.Error("expected m2 in set")
	}
}

func TestOperationStateValid(t *testing.T) {
	for _, s := range []OperationState{OperationStateNew, OperationStateQueued, OperationStateDeployed, OperationStateDone} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if OperationState("FAILED").Valid() {
		t.Error("FAILED is not a modeled state")
	}
}
