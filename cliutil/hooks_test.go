package cliutil

import (
	"context"
	"testing"
)

func TestRunHookMissingIsNoop(t *testing.T) {
	if err := RunHook(context.Background(), "prerestore", ".", map[string]string{}, nil); err != nil {
		t.Fatalf("expected missing hook to be a no-op, got %v", err)
	}
}

func TestRunHookSuccess(t *testing.T) {
	commands := map[string]string{"prerestore": "true"}
	if err := RunHook(context.Background(), "prerestore", ".", commands, nil); err != nil {
		t.Fatalf("expected hook to succeed, got %v", err)
	}
}

func TestRunHookFailure(t *testing.T) {
	commands := map[string]string{"prerestore": "false"}
	if err := RunHook(context.Background(), "prerestore", ".", commands, nil); err == nil {
		t.Fatal("expected non-zero hook exit to produce an error")
	}
}
