package commands

import (
	"strings"
	"testing"
)

func TestAgentsCommand_AddAndList(t *testing.T) {
	setupHome(t)

	out, err := executeCommand(t, "agents", "add", "Ops Bot", "--model", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("add error: %v (%s)", err, out)
	}
	if !strings.Contains(out, "Agent ops-bot registered.") {
		t.Fatalf("unexpected add output %q", out)
	}

	out, err = executeCommand(t, "agents", "list")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	for _, want := range []string{"primary", "ops-bot", "gpt-4o-mini"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in list output %q", want, out)
		}
	}
	if strings.Index(out, "primary") > strings.Index(out, "ops-bot") {
		t.Fatalf("expected primary agent listed first, got %q", out)
	}
}
