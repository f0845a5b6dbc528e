// Package grading ingests anonymized quality grades for skill outputs.
// Every grade is validated, the target skill is auto-registered when unknown,
// and the registry's aggregate counters are updated atomically at the store.
package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/skillpulse/skillpulse/internal/events"
	"github.com/skillpulse/skillpulse/internal/registry"
)

// ErrValidation is returned for malformed submissions (out-of-range score,
// missing skill ID). Nothing is persisted.
var ErrValidation = errors.New("grading: invalid grade submission")

// ErrPersistence is returned when the registry store is unreachable. The
// caller owns retry policy; the ingestor never retries internally.
var ErrPersistence = errors.New("grading: persist grade")

// Submission is one incoming grade. No user identity field exists on purpose:
// anonymity is a hard requirement of the pipeline.
type Submission struct {
	SkillID               string                         `json:"skillId"`
	SkillVersion          int                            `json:"skillVersion"`
	OverallScore          float64                        `json:"overallScore"`
	DimensionScores       map[registry.Dimension]float64 `json:"dimensionScores,omitempty"`
	Feedback              string                         `json:"feedback,omitempty"`
	ImprovementSuggestion string                         `json:"improvementSuggestion,omitempty"`
	WasOutputUsed         bool                           `json:"wasOutputUsed"`
	InputsHash            string                         `json:"inputsHash,omitempty"`
}

// Ingestor validates and persists grade submissions.
type Ingestor struct {
	store     *registry.Store
	providers []ContentProvider
	pub       events.Publisher
	logger    *slog.Logger
}

// NewIngestor creates an ingestor backed by the given store. Providers are
// tried in order during auto-registration of unknown skills; pub may be nil
// to disable events.
func NewIngestor(store *registry.Store, providers []ContentProvider, pub events.Publisher, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Ingestor{
		store:     store,
		providers: providers,
		pub:       pub,
		logger:    logger.With("component", "grading"),
	}
}

// SubmitGrade validates the submission, ensures the skill is registered, and
// records the grade. Registration failure is logged but never drops the
// grade: a skill with grades and no clean registry row beats losing signal.
func (in *Ingestor) SubmitGrade(ctx context.Context, sub Submission) error {
	if err := validate(sub); err != nil {
		return err
	}

	if err := in.ensureRegistered(ctx, sub.SkillID); err != nil {
		in.logger.Warn("auto-registration failed, recording grade anyway",
			"skill", sub.SkillID, "error", err)
	}

	version := sub.SkillVersion
	if version < 1 {
		version = 1
	}
	grade := registry.Grade{
		ID:                    uuid.New().String(),
		SkillID:               sub.SkillID,
		SkillVersion:          version,
		OverallScore:          sub.OverallScore,
		DimensionScores:       sub.DimensionScores,
		Feedback:              sub.Feedback,
		ImprovementSuggestion: sub.ImprovementSuggestion,
		WasOutputUsed:         sub.WasOutputUsed,
		InputsHash:            sub.InputsHash,
		GradedAt:              time.Now(),
	}
	if err := in.store.RecordGrade(ctx, grade); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// ensureRegistered resolves skill content through the provider chain and
// upserts a registry row. A no-op when the row already exists.
func (in *Ingestor) ensureRegistered(ctx context.Context, skillID string) error {
	content := in.resolveContent(skillID)
	created, err := in.store.Register(ctx, content)
	if err != nil {
		return err
	}
	if created {
		in.logger.Info("auto-registered skill",
			"skill", skillID, "type", content.Type, "name", content.Name)
		in.pub.Publish(events.Event{
			Type:    events.TypeSkillRegistered,
			SkillID: skillID,
			Payload: map[string]any{"skillType": string(content.Type)},
		})
	}
	return nil
}

// resolveContent walks the provider chain in priority order, falling back to
// a minimal placeholder so grading never blocks on missing definitions.
func (in *Ingestor) resolveContent(skillID string) registry.Content {
	for _, p := range in.providers {
		if c, ok := p.Resolve(skillID); ok {
			return *c
		}
	}
	return placeholderContent(skillID)
}

func validate(sub Submission) error {
	if sub.SkillID == "" {
		return fmt.Errorf("%w: missing skill ID", ErrValidation)
	}
	if sub.OverallScore < 1 || sub.OverallScore > 5 {
		return fmt.Errorf("%w: overall score %.1f out of range [1,5]", ErrValidation, sub.OverallScore)
	}
	for dim, score := range sub.DimensionScores {
		if score < 1 || score > 5 {
			return fmt.Errorf("%w: %s score %.1f out of range [1,5]", ErrValidation, dim, score)
		}
	}
	return nil
}
