package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/skillpulse/skillpulse/internal/registry"
)

func writeSkillMD(t *testing.T, dir, skillDir, content string) {
	t.Helper()
	path := filepath.Join(dir, skillDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadLibrary(t *testing.T) {
	dir := t.TempDir()
	writeSkillMD(t, dir, "resume-customizer", `---
id: resume-customizer
name: Resume Customizer
type: library
systemInstruction: You tailor resumes.
userPromptTemplate: "Tailor this resume: {{resume}}"
---

# Resume Customizer

Body text is ignored by the loader.
`)
	writeSkillMD(t, dir, "broken-skill", "no frontmatter here\n")

	lib, err := LoadLibrary(dir, nil)
	if err != nil {
		t.Fatalf("LoadLibrary: %v", err)
	}
	if lib.Count() != 1 {
		t.Fatalf("Count = %d, want 1 (broken skill skipped)", lib.Count())
	}

	c, ok := lib.Resolve("resume-customizer")
	if !ok {
		t.Fatal("Resolve returned ok=false")
	}
	if c.Name != "Resume Customizer" || c.Type != registry.TypeLibrary {
		t.Errorf("content = %+v", c)
	}
	if c.UserPromptTemplate != "Tailor this resume: {{resume}}" {
		t.Errorf("template = %q", c.UserPromptTemplate)
	}

	if _, ok := lib.Resolve("unknown"); ok {
		t.Error("Resolve(unknown) = ok")
	}
}

func TestLoadLibraryMissingDir(t *testing.T) {
	lib, err := LoadLibrary(filepath.Join(t.TempDir(), "nope"), nil)
	if err != nil {
		t.Fatalf("LoadLibrary on missing dir: %v", err)
	}
	if lib.Count() != 0 {
		t.Errorf("Count = %d, want 0", lib.Count())
	}
}

func TestLoadLibraryFallsBackToDirName(t *testing.T) {
	dir := t.TempDir()
	writeSkillMD(t, dir, "email-writer", `---
name: Email Writer
systemInstruction: You write emails.
userPromptTemplate: "{{brief}}"
---
`)

	lib, err := LoadLibrary(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := lib.Resolve("email-writer"); !ok {
		t.Error("skill without explicit id not resolvable by directory name")
	}
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.toml")
	err := os.WriteFile(path, []byte(`
[skills.cover-letter]
name = "Cover Letter Writer"
type = "built-in"
system_instruction = "You write cover letters."
user_prompt_template = "Write a cover letter for {{role}}."

[skills.meeting-notes]
name = "Meeting Notes"
type = "dynamic"
system_instruction = "You summarize meetings."
user_prompt_template = "{{transcript}}"

[skills.weird-type]
name = "Weird"
type = "alien"
system_instruction = "x"
user_prompt_template = "y"
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	st, err := LoadStatic(path, nil)
	if err != nil {
		t.Fatalf("LoadStatic: %v", err)
	}
	if st.Count() != 3 {
		t.Fatalf("Count = %d, want 3", st.Count())
	}

	c, ok := st.Resolve("cover-letter")
	if !ok || c.Type != registry.TypeBuiltIn {
		t.Errorf("cover-letter = %+v ok=%v", c, ok)
	}
	c, _ = st.Resolve("meeting-notes")
	if c.Type != registry.TypeDynamic {
		t.Errorf("meeting-notes type = %s, want dynamic", c.Type)
	}
	// Unknown types degrade to built-in rather than failing the load.
	c, _ = st.Resolve("weird-type")
	if c.Type != registry.TypeBuiltIn {
		t.Errorf("weird-type type = %s, want built-in", c.Type)
	}
}

func TestLoadStaticMissingFile(t *testing.T) {
	st, err := LoadStatic(filepath.Join(t.TempDir(), "skills.toml"), nil)
	if err != nil {
		t.Fatalf("LoadStatic on missing file: %v", err)
	}
	if st.Count() != 0 {
		t.Errorf("Count = %d, want 0", st.Count())
	}
}
