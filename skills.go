package ralph

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is a filesystem-based prompt appendix: a directory containing a
// SKILL.md file with YAML frontmatter plus Markdown instructions, indexed
// into PromptBuilder's final section.
type Skill struct {
	Name        string
	Description string
	Path        string
}

// skillMetadata is the parsed YAML frontmatter of a SKILL.md file.
type skillMetadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SkillIndex discovers Skills under a single root directory (one
// subdirectory per skill) and renders a compact index for prompt assembly.
type SkillIndex struct {
	root string
}

// NewSkillIndex creates an index rooted at dir. An empty dir disables
// discovery; Load then returns an empty slice rather than an error.
func NewSkillIndex(dir string) *SkillIndex {
	return &SkillIndex{root: dir}
}

// Load scans the root directory for skill subdirectories, skipping any
// that fail to parse or validate.
func (idx *SkillIndex) Load() ([]Skill, error) {
	if idx.root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(idx.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading skills dir %s: %w", idx.root, err)
	}

	skills := make([]Skill, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skill, err := loadSkill(filepath.Join(idx.root, entry.Name()))
		if err != nil {
			continue // invalid skills are skipped, not fatal
		}
		skills = append(skills, *skill)
	}
	return skills, nil
}

// Render produces the "Skills index" prompt appendix: one line per skill,
// name and description only, so the agent can decide what to consult.
func Render(skills []Skill) string {
	if len(skills) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Skills index\n")
	for _, s := range skills {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}
	return b.String()
}

func loadSkill(dir string) (*Skill, error) {
	path := filepath.Join(dir, "SKILL.md")
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta, err := parseSkillFrontmatter(content)
	if err != nil {
		return nil, err
	}
	if err := validateSkillMetadata(meta); err != nil {
		return nil, err
	}
	return &Skill{Name: meta.Name, Description: meta.Description, Path: path}, nil
}

// parseSkillFrontmatter splits a SKILL.md file on "---" delimiters and
// unmarshals the YAML frontmatter block.
func parseSkillFrontmatter(content []byte) (skillMetadata, error) {
	parts := bytes.SplitN(content, []byte("---"), 3)
	if len(parts) < 3 {
		return skillMetadata{}, fmt.Errorf("missing frontmatter delimiters")
	}
	var meta skillMetadata
	if err := yaml.Unmarshal(parts[1], &meta); err != nil {
		return skillMetadata{}, fmt.Errorf("parsing frontmatter: %w", err)
	}
	return meta, nil
}

func validateSkillMetadata(meta skillMetadata) error {
	if strings.TrimSpace(meta.Name) == "" {
		return &ErrSkillInvalid{Field: "name", Reason: "name is required"}
	}
	if strings.TrimSpace(meta.Description) == "" {
		return &ErrSkillInvalid{Field: "description", Reason: "description is required"}
	}
	return nil
}
