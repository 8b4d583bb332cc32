package skills

import (
	"os"
	"path/filepath"
	"strings"
)

// ExecPlan is the resolved child invocation for one skill.
//
// Inline plans short-circuit execution: no child is spawned and Content
// becomes the reply body. This is the terminal fallback for skills that
// ship instructions but no runnable script.
type ExecPlan struct {
	Command string
	Dir     string
	Inline  bool
	Content string
}

// PlanExecution resolves how a skill runs: scripts/run.sh first, then
// scripts/run.py under the configured python, then the instruction body
// served as-is.
func PlanExecution(s Skill, python, instructions string) ExecPlan {
	if _, err := os.Stat(filepath.Join(s.BaseDir, "scripts", "run.sh")); err == nil {
		return ExecPlan{Command: "bash scripts/run.sh", Dir: s.BaseDir}
	}
	if _, err := os.Stat(filepath.Join(s.BaseDir, "scripts", "run.py")); err == nil {
		if python == "" {
			python = "python3"
		}
		return ExecPlan{Command: joinCommand(python, []string{"scripts/run.py"}), Dir: s.BaseDir}
	}
	return ExecPlan{Inline: true, Content: instructions}
}

func joinCommand(cmd string, args []string) string {
	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}
	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
