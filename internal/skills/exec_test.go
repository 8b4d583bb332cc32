package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPlanExecutionPrefersRunScript(t *testing.T) {
	root := t.TempDir()
	base := writeSkill(t, root, "echo", "echo", "Echoes input")
	if err := os.MkdirAll(filepath.Join(base, "scripts"), 0o755); err != nil {
		t.Fatalf("mkdir scripts: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "scripts", "run.sh"), []byte("#!/bin/sh\ncat\n"), 0o755); err != nil {
		t.Fatalf("write run.sh: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "scripts", "run.py"), []byte("print('x')\n"), 0o644); err != nil {
		t.Fatalf("write run.py: %v", err)
	}

	s := Skill{BaseDir: base}
	plan := PlanExecution(s, "python3", "")
	if plan.Inline {
		t.Fatalf("expected script plan, got inline")
	}
	if plan.Command != "bash scripts/run.sh" || plan.Dir != base {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestPlanExecutionPythonFallback(t *testing.T) {
	root := t.TempDir()
	base := writeSkill(t, root, "pyonly", "pyonly", "Python skill")
	if err := os.MkdirAll(filepath.Join(base, "scripts"), 0o755); err != nil {
		t.Fatalf("mkdir scripts: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "scripts", "run.py"), []byte("print('x')\n"), 0o644); err != nil {
		t.Fatalf("write run.py: %v", err)
	}

	plan := PlanExecution(Skill{BaseDir: base}, "python3.12", "")
	if plan.Command != "'python3.12' 'scripts/run.py'" {
		t.Fatalf("unexpected command: %q", plan.Command)
	}
}

func TestPlanExecutionInlineInstructions(t *testing.T) {
	root := t.TempDir()
	base := writeSkill(t, root, "docs", "docs", "Instructions only")

	plan := PlanExecution(Skill{BaseDir: base}, "python3", "the body")
	if !plan.Inline || plan.Content != "the body" {
		t.Fatalf("expected inline instructions, got %+v", plan)
	}
}
