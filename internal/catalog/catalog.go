// Package catalog supplies prompt content for known skills during
// auto-registration. Two sources exist: a library of per-skill SKILL.md files
// with YAML frontmatter, and a static skills.toml with built-in definitions.
// Both are loaded once at startup and serve lookups from memory.
package catalog

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/skillpulse/skillpulse/internal/registry"
)

// manifest is the YAML frontmatter of a SKILL.md library file.
type manifest struct {
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	Type               string `yaml:"type"`
	SystemInstruction  string `yaml:"systemInstruction"`
	UserPromptTemplate string `yaml:"userPromptTemplate"`
}

// Library serves skill content from a directory of SKILL.md files, one
// subdirectory per skill.
type Library struct {
	skills map[string]registry.Content
	logger *slog.Logger
}

// LoadLibrary scans dir for skill subdirectories. A missing directory is not
// an error: the library is simply empty.
func LoadLibrary(dir string, logger *slog.Logger) (*Library, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lib := &Library{
		skills: make(map[string]registry.Content),
		logger: logger.With("component", "catalog"),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			lib.logger.Info("skill library directory does not exist, skipping", "dir", dir)
			return lib, nil
		}
		return nil, fmt.Errorf("catalog: read library dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), "SKILL.md")
		m, err := parseManifest(path)
		if err != nil {
			lib.logger.Warn("failed to load library skill", "path", path, "error", err)
			continue
		}
		id := m.ID
		if id == "" {
			id = entry.Name()
		}
		lib.skills[id] = registry.Content{
			ID:                 id,
			Name:               m.Name,
			Type:               registry.TypeLibrary,
			SystemInstruction:  m.SystemInstruction,
			UserPromptTemplate: m.UserPromptTemplate,
		}
		lib.logger.Info("loaded library skill", "skill", id, "name", m.Name)
	}
	return lib, nil
}

// Resolve implements grading.ContentProvider.
func (l *Library) Resolve(skillID string) (*registry.Content, bool) {
	c, ok := l.skills[skillID]
	if !ok {
		return nil, false
	}
	return &c, true
}

// Count returns the number of loaded library skills.
func (l *Library) Count() int {
	return len(l.skills)
}

// All returns every loaded library skill, for startup seeding.
func (l *Library) All() []registry.Content {
	out := make([]registry.Content, 0, len(l.skills))
	for _, c := range l.skills {
		out = append(out, c)
	}
	return out
}

// parseManifest extracts YAML frontmatter from a SKILL.md file.
func parseManifest(path string) (*manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	var inFrontmatter bool
	var yamlLines []string

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			if inFrontmatter {
				break // end of frontmatter
			}
			inFrontmatter = true
			continue
		}
		if inFrontmatter {
			yamlLines = append(yamlLines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(yamlLines) == 0 {
		return nil, fmt.Errorf("no YAML frontmatter found in %s", path)
	}

	var m manifest
	if err := yaml.Unmarshal([]byte(strings.Join(yamlLines, "\n")), &m); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("manifest %s has no name", path)
	}
	return &m, nil
}

// staticFile is the shape of skills.toml.
type staticFile struct {
	Skills map[string]staticSkill `toml:"skills"`
}

type staticSkill struct {
	Name               string `toml:"name"`
	Type               string `toml:"type"`
	SystemInstruction  string `toml:"system_instruction"`
	UserPromptTemplate string `toml:"user_prompt_template"`
}

// Static serves built-in and dynamic skill definitions from skills.toml.
type Static struct {
	skills map[string]registry.Content
}

// LoadStatic reads a skills.toml file. A missing file yields an empty source.
func LoadStatic(path string, logger *slog.Logger) (*Static, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st := &Static{skills: make(map[string]registry.Content)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("static skills file does not exist, skipping", "path", path)
			return st, nil
		}
		return nil, fmt.Errorf("catalog: read static skills: %w", err)
	}

	var file staticFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("catalog: parse static skills: %w", err)
	}

	for id, def := range file.Skills {
		skType := registry.SkillType(def.Type)
		switch skType {
		case registry.TypeBuiltIn, registry.TypeDynamic:
		default:
			skType = registry.TypeBuiltIn
		}
		st.skills[id] = registry.Content{
			ID:                 id,
			Name:               def.Name,
			Type:               skType,
			SystemInstruction:  def.SystemInstruction,
			UserPromptTemplate: def.UserPromptTemplate,
		}
	}
	return st, nil
}

// Resolve implements grading.ContentProvider.
func (s *Static) Resolve(skillID string) (*registry.Content, bool) {
	c, ok := s.skills[skillID]
	if !ok {
		return nil, false
	}
	return &c, true
}

// Count returns the number of loaded static skills.
func (s *Static) Count() int {
	return len(s.skills)
}

// All returns every loaded static skill, for startup seeding.
func (s *Static) All() []registry.Content {
	out := make([]registry.Content, 0, len(s.skills))
	for _, c := range s.skills {
		out = append(out, c)
	}
	return out
}
