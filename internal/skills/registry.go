package skills

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	ErrSkillNotFound   = errors.New("skills: skill not found")
	ErrInvalidMetadata = errors.New("skills: invalid skill metadata")
)

const metadataFile = "SKILL.md"

// Registry stores skills by name. Detail loading is serialized so the
// instruction body of each skill is read at most once, no matter how many
// executors race on first use.
type Registry struct {
	mu    sync.Mutex
	items map[string]*Skill
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Skill)}
}

// LoadDir walks root for SKILL.md files and registers each skill found.
// Only the frontmatter is read here; instruction bodies stay on disk
// until EnsureDetails. Returns the number of skills registered. A missing
// root is reported as an error but callers treat it as a warning, not a
// startup failure.
func (r *Registry) LoadDir(root string) (int, error) {
	if _, err := os.Stat(root); err != nil {
		return 0, fmt.Errorf("skills: skills directory %s: %w", root, err)
	}

	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != metadataFile {
			return nil
		}

		skill, err := parseMetadata(path)
		if err != nil {
			// One bad skill file must not block the rest of the tree.
			return nil
		}

		r.mu.Lock()
		if _, exists := r.items[strings.ToLower(skill.Name)]; !exists {
			r.items[strings.ToLower(skill.Name)] = skill
			count++
		}
		r.mu.Unlock()
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("skills: scan %s: %w", root, err)
	}
	return count, nil
}

// Find returns a copy of the named skill. Lookup is case-insensitive.
func (r *Registry) Find(name string) (Skill, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Skill{}, false
	}
	return *s, true
}

// EnsureDetails loads the instruction body for a skill on first use and
// returns it. Subsequent calls are no-ops returning the cached body.
func (r *Registry) EnsureDetails(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.items[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}
	if s.DetailsLoaded {
		return s.Instructions, nil
	}

	raw, err := os.ReadFile(s.FilePath)
	if err != nil {
		return "", fmt.Errorf("skills: load details for %s: %w", s.Name, err)
	}
	_, body := splitFrontmatter(string(raw))
	s.Instructions = body
	s.DetailsLoaded = true
	return s.Instructions, nil
}

// Len reports the number of registered skills.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Single returns the sole registered skill, used as the fallback target
// when the matcher abstains and exactly one skill is loaded.
func (r *Registry) Single() (Skill, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) != 1 {
		return Skill{}, false
	}
	for _, s := range r.items {
		return *s, true
	}
	return Skill{}, false
}

// List returns all skills ordered by name.
func (r *Registry) List() []Skill {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Skill, 0, len(r.items))
	for _, s := range r.items {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

func parseMetadata(path string) (*Skill, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	front, _ := splitFrontmatter(string(raw))
	skill := &Skill{
		Name:          frontmatterValue(front, "name"),
		Description:   frontmatterValue(front, "description"),
		License:       frontmatterValue(front, "license"),
		Compatibility: frontmatterValue(front, "compatibility"),
		FilePath:      path,
		BaseDir:       filepath.Dir(path),
	}
	if skill.Name == "" {
		return nil, fmt.Errorf("%w: %s has no name", ErrInvalidMetadata, path)
	}
	return skill, nil
}

// splitFrontmatter separates a leading --- delimited block from the
// markdown body. Files without frontmatter yield an empty block and the
// whole content as body.
func splitFrontmatter(content string) (front, body string) {
	rest, ok := strings.CutPrefix(content, "---\n")
	if !ok {
		return "", content
	}
	front, body, ok = strings.Cut(rest, "\n---")
	if !ok {
		return "", content
	}
	body = strings.TrimPrefix(body, "\n")
	return front, body
}

// frontmatterValue extracts "key: value" from a frontmatter block. The
// format on disk is deliberately parsed line-by-line, matching what skill
// authors actually write, instead of full YAML.
func frontmatterValue(front, key string) string {
	for _, line := range strings.Split(front, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) != key {
			continue
		}
		return strings.Trim(strings.TrimSpace(v), `"'`)
	}
	return ""
}
