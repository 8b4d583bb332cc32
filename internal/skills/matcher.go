package skills

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skillscale/skillscale/internal/executil"
)

var ErrUnknownMatcher = errors.New("skills: unknown matcher mode")

// Matcher picks a skill for an intent. Implementations return the skill
// name, or empty when they cannot decide; the caller applies the
// single-skill fallback.
type Matcher interface {
	Match(ctx context.Context, intent, hint string) (string, error)
}

// MatcherConfig selects and parameterizes a matcher implementation.
//
// Mode "keyword" scores the intent against skill names and descriptions.
// Modes "llm" (the historical default) and "command" are handled alike:
// both shell out to an external matcher program, run as Command when set,
// or else as Python given the prompt file. With neither Command nor a
// prompt file configured they degrade to keyword matching. Mode "noop"
// always abstains, which with a single loaded skill gives single-skill
// dispatch.
type MatcherConfig struct {
	Mode       string
	Command    string
	PromptFile string
	Python     string
	Timeout    time.Duration
	Runner     executil.Runner
}

func NewMatcher(reg *Registry, cfg MatcherConfig) (Matcher, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "", "keyword":
		return &KeywordMatcher{Registry: reg}, nil
	case "noop":
		return NoopMatcher{}, nil
	case "llm", "command":
		command := strings.TrimSpace(cfg.Command)
		if command == "" && cfg.PromptFile != "" {
			command = joinCommand(cfg.Python, []string{cfg.PromptFile})
		}
		if command == "" {
			log.Warn().Str("mode", mode).Msg("matcher has no command configured, degrading to keyword matching")
			return &KeywordMatcher{Registry: reg}, nil
		}
		runner := cfg.Runner
		if runner == nil {
			runner = executil.Local{}
		}
		return &CommandMatcher{Registry: reg, Command: command, Timeout: cfg.Timeout, Runner: runner}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMatcher, cfg.Mode)
	}
}

// NoopMatcher always abstains.
type NoopMatcher struct{}

func (NoopMatcher) Match(context.Context, string, string) (string, error) {
	return "", nil
}

// KeywordMatcher scores intent tokens against skill name and description
// tokens and returns the best positive match. An explicit hint naming a
// registered skill short-circuits scoring.
type KeywordMatcher struct {
	Registry *Registry
}

func (m *KeywordMatcher) Match(_ context.Context, intent, hint string) (string, error) {
	if hint != "" {
		if s, ok := m.Registry.Find(hint); ok {
			return s.Name, nil
		}
	}

	intentTokens := tokenize(intent)
	best := ""
	bestScore := 0
	for _, s := range m.Registry.List() {
		score := keywordScore(intentTokens, tokenize(s.Name+" "+s.Description))
		if score > bestScore {
			best = s.Name
			bestScore = score
		}
	}
	return best, nil
}

// CommandMatcher delegates the decision to an external program. The
// intent arrives on the program's standard input (and SKILLSCALE_INTENT);
// the hint and the registered skill names are passed in the environment.
// The program prints the chosen skill name, or nothing to abstain.
type CommandMatcher struct {
	Registry *Registry
	Command  string
	Timeout  time.Duration
	Runner   executil.Runner
}

func (m *CommandMatcher) Match(ctx context.Context, intent, hint string) (string, error) {
	names := make([]string, 0)
	for _, s := range m.Registry.List() {
		names = append(names, s.Name)
	}

	res := m.Runner.Run(ctx, executil.Spec{
		Command:  m.Command,
		Stdin:    intent,
		Deadline: m.Timeout,
		Env: map[string]string{
			"SKILLSCALE_MATCH_HINT":   hint,
			"SKILLSCALE_MATCH_SKILLS": strings.Join(names, ","),
		},
	})
	if !res.Success {
		return "", fmt.Errorf("skills: matcher command failed (exit=%d): %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	choice := strings.TrimSpace(res.Stdout)
	if i := strings.IndexByte(choice, '\n'); i >= 0 {
		choice = strings.TrimSpace(choice[:i])
	}
	if choice == "" || strings.EqualFold(choice, "none") {
		return "", nil
	}
	if s, ok := m.Registry.Find(choice); ok {
		return s.Name, nil
	}
	return "", nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

func keywordScore(textTokens, keywordTokens []string) int {
	keywords := make(map[string]struct{}, len(keywordTokens))
	for _, k := range keywordTokens {
		keywords[k] = struct{}{}
	}
	score := 0
	for _, tok := range textTokens {
		if _, ok := keywords[tok]; ok {
			score++
		}
	}
	return score
}
