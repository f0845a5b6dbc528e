// Package resolver serves the effective prompt for a skill at request time.
// The registry is consulted for improved content; any failure falls back to
// the caller-supplied default so skill execution is never blocked by the
// improvement pipeline.
package resolver

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/skillpulse/skillpulse/internal/registry"
)

// Prompt sources for an effective prompt.
const (
	SourceRegistry = "registry"
	SourceFallback = "fallback"
)

// PromptSource is the registry read the resolver depends on.
type PromptSource interface {
	Prompt(ctx context.Context, skillID string) (registry.Prompt, error)
}

// Fallback is the caller's built-in prompt content, used whenever the
// registry cannot serve the skill.
type Fallback struct {
	SystemInstruction  string
	UserPromptTemplate string
}

// Effective is a resolved prompt ready for execution. UserPrompt has the
// template variables already interpolated.
type Effective struct {
	SystemInstruction string `json:"systemInstruction"`
	UserPrompt        string `json:"userPrompt"`
	Version           int    `json:"version"`
	Source            string `json:"source"`
}

// Resolver resolves effective prompts against a prompt source.
type Resolver struct {
	source PromptSource
	logger *slog.Logger
}

// New creates a resolver over the given source.
func New(source PromptSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source: source,
		logger: logger.With("component", "resolver"),
	}
}

// Resolve returns the effective prompt for a skill. It never fails: any
// registry error or missing skill yields the fallback content at version 1.
func (r *Resolver) Resolve(ctx context.Context, skillID string, fb Fallback, vars map[string]string) Effective {
	p, err := r.source.Prompt(ctx, skillID)
	if err != nil {
		r.logger.Debug("prompt lookup failed, using fallback", "skill", skillID, "error", err)
		return Effective{
			SystemInstruction: fb.SystemInstruction,
			UserPrompt:        Interpolate(fb.UserPromptTemplate, vars),
			Version:           1,
			Source:            SourceFallback,
		}
	}
	return Effective{
		SystemInstruction: p.SystemInstruction,
		UserPrompt:        Interpolate(p.UserPromptTemplate, vars),
		Version:           p.Version,
		Source:            SourceRegistry,
	}
}

// HasImprovedPrompt reports whether the skill runs on a prompt newer than its
// original version. Lookup failures report false.
func (r *Resolver) HasImprovedPrompt(ctx context.Context, skillID string) bool {
	return r.Version(ctx, skillID) > 1
}

// Version returns the skill's current prompt version, or 1 when the skill is
// unknown or the lookup fails.
func (r *Resolver) Version(ctx context.Context, skillID string) int {
	p, err := r.source.Prompt(ctx, skillID)
	if err != nil {
		return 1
	}
	return p.Version
}

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Interpolate substitutes {{key}} placeholders from vars. Placeholders with
// no matching key are left intact so downstream consumers can spot them.
func Interpolate(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		key := match[2 : len(match)-2]
		if v, ok := vars[key]; ok {
			return v
		}
		return match
	})
}
