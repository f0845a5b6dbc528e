package grading

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/skillpulse/skillpulse/internal/registry"
)

func newTestIngestor(t *testing.T, providers ...ContentProvider) (*Ingestor, *registry.Store) {
	t.Helper()
	store, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewIngestor(store, providers, nil, nil), store
}

func validSubmission(skillID string, score float64) Submission {
	return Submission{
		SkillID:       skillID,
		SkillVersion:  1,
		OverallScore:  score,
		WasOutputUsed: true,
	}
}

func TestSubmitGradeValidation(t *testing.T) {
	ing, _ := newTestIngestor(t)
	ctx := context.Background()

	tests := []struct {
		name string
		sub  Submission
	}{
		{"missing skill id", Submission{OverallScore: 3}},
		{"score too low", validSubmission("s", 0)},
		{"score too high", validSubmission("s", 6)},
		{
			"dimension out of range",
			Submission{
				SkillID:         "s",
				OverallScore:    3,
				DimensionScores: map[registry.Dimension]float64{registry.DimClarity: 0.5},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ing.SubmitGrade(ctx, tt.sub)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestSubmitGradeAutoRegistersPlaceholder(t *testing.T) {
	ing, store := newTestIngestor(t)
	ctx := context.Background()

	if err := ing.SubmitGrade(ctx, validSubmission("brand-new", 4)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	e, err := store.Entry(ctx, "brand-new")
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if e.Name != "brand-new" || e.Type != registry.TypeCommunity {
		t.Errorf("placeholder entry = %+v", e)
	}
	if e.SystemInstruction != placeholderMarker {
		t.Errorf("placeholder instruction = %q", e.SystemInstruction)
	}
	if e.TotalGrades != 1 {
		t.Errorf("TotalGrades = %d, want 1", e.TotalGrades)
	}
}

func TestSubmitGradeUsesProviderChainInOrder(t *testing.T) {
	library := ContentProviderFunc(func(id string) (*registry.Content, bool) {
		if id != "lib-skill" {
			return nil, false
		}
		return &registry.Content{
			ID: id, Name: "Library Skill", Type: registry.TypeLibrary,
			SystemInstruction: "from library", UserPromptTemplate: "t",
		}, true
	})
	static := ContentProviderFunc(func(id string) (*registry.Content, bool) {
		return &registry.Content{
			ID: id, Name: "Static Skill", Type: registry.TypeBuiltIn,
			SystemInstruction: "from static", UserPromptTemplate: "t",
		}, true
	})

	ing, store := newTestIngestor(t, library, static)
	ctx := context.Background()

	if err := ing.SubmitGrade(ctx, validSubmission("lib-skill", 5)); err != nil {
		t.Fatal(err)
	}
	if err := ing.SubmitGrade(ctx, validSubmission("other-skill", 5)); err != nil {
		t.Fatal(err)
	}

	lib, _ := store.Entry(ctx, "lib-skill")
	if lib.Type != registry.TypeLibrary || lib.SystemInstruction != "from library" {
		t.Errorf("lib-skill resolved as %+v, want library provider content", lib)
	}
	other, _ := store.Entry(ctx, "other-skill")
	if other.Type != registry.TypeBuiltIn || other.SystemInstruction != "from static" {
		t.Errorf("other-skill resolved as %+v, want static provider content", other)
	}
}

func TestConcurrentFirstGradesCreateOneRow(t *testing.T) {
	ing, store := newTestIngestor(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := ing.SubmitGrade(ctx, validSubmission("hot-skill", float64(i%5+1))); err != nil {
				t.Errorf("submit: %v", err)
			}
		}(i)
	}
	wg.Wait()

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("registry rows = %d, want 1", len(entries))
	}
	if entries[0].TotalGrades != n {
		t.Errorf("TotalGrades = %d, want %d", entries[0].TotalGrades, n)
	}
}

func TestSubmitGradeDefaultsVersion(t *testing.T) {
	ing, store := newTestIngestor(t)
	ctx := context.Background()

	sub := validSubmission("v-skill", 3)
	sub.SkillVersion = 0
	if err := ing.SubmitGrade(ctx, sub); err != nil {
		t.Fatal(err)
	}

	e, _ := store.Entry(ctx, "v-skill")
	if e.TotalGrades != 1 {
		t.Errorf("TotalGrades = %d, want 1", e.TotalGrades)
	}
}
