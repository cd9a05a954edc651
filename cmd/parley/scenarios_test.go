package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	parleyErrors "github.com/harunnryd/parley/internal/errors"

	"github.com/spf13/cobra"
)

func newScenariosTestCommand(t *testing.T, out *bytes.Buffer) *cobra.Command {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg = nil

	cmd := &cobra.Command{}
	cmd.SetOut(out)
	return cmd
}

func TestScenariosCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newScenariosTestCommand(t, &out)

	if err := scenariosCmd.RunE(cmd, nil); err != nil {
		t.Fatalf("scenarios failed: %v", err)
	}
	for _, id := range []string{"cold-call", "discovery", "demo", "negotiation", "renewal"} {
		if !strings.Contains(out.String(), id) {
			t.Errorf("scenario %s missing from output", id)
		}
	}
}

func TestScenariosCmdLoadsFile(t *testing.T) {
	var out bytes.Buffer
	cmd := newScenariosTestCommand(t, &out)

	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	data := `scenarios:
  - id: upsell
    name: Upsell call
    kind: discovery
    persona: Sam, an operations lead
    voice: echo
    description: Sam's team has outgrown the starter plan.
    objective: Move Sam to the team plan.
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write scenarios: %v", err)
	}
	t.Setenv("PARLEY_SCENARIOS__PATH", path)

	if err := scenariosCmd.RunE(cmd, nil); err != nil {
		t.Fatalf("scenarios failed: %v", err)
	}
	if !strings.Contains(out.String(), "upsell") {
		t.Errorf("custom scenario missing: %q", out.String())
	}
}

func TestScenariosShowCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newScenariosTestCommand(t, &out)

	if err := scenariosShowCmd.RunE(cmd, []string{"negotiation"}); err != nil {
		t.Fatalf("scenarios show failed: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Elena") {
		t.Errorf("persona missing from instructions: %q", got)
	}
	if !strings.Contains(got, "hidden state") {
		t.Errorf("adversarial scenario should render a hidden state: %q", got)
	}

	err := scenariosShowCmd.RunE(cmd, []string{"nope"})
	if !errors.Is(err, parleyErrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
