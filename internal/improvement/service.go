// Package improvement drives the prompt improvement lifecycle: a scheduled
// detector opens requests for underperforming skills, a generator proposes a
// rewritten prompt, and operators approve, reject, apply, or roll back.
package improvement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skillpulse/skillpulse/internal/events"
	"github.com/skillpulse/skillpulse/internal/registry"
)

// ErrNoGenerator is returned when proposal generation is requested but no
// generator was configured.
var ErrNoGenerator = errors.New("improvement: no generator configured")

// ErrReasonRequired is returned when a rollback is requested without a
// reason. Rollbacks are audited, so the reason is mandatory.
var ErrReasonRequired = errors.New("improvement: rollback reason is required")

// Generator produces a rewritten prompt for a triggered improvement request.
type Generator interface {
	GenerateProposal(ctx context.Context, entry *registry.Entry, req *registry.Request) (registry.Proposal, error)
}

// SkillStatus is the operator view of one skill's improvement pipeline.
type SkillStatus struct {
	SkillID          string                   `json:"skillId"`
	Scores           registry.SkillScores     `json:"scores"`
	NeedsImprovement bool                     `json:"needsImprovement"`
	ActiveRequest    *registry.Request        `json:"activeRequest,omitempty"`
	RecentVersions   []registry.VersionRecord `json:"recentVersions"`
}

// Service executes improvement lifecycle actions against the registry.
type Service struct {
	store  *registry.Store
	gen    Generator
	pub    events.Publisher
	logger *slog.Logger
}

// NewService wires the lifecycle service. gen may be nil, in which case
// Generate fails with ErrNoGenerator; pub may be nil to disable events.
func NewService(store *registry.Store, gen Generator, pub events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		store:  store,
		gen:    gen,
		pub:    pub,
		logger: logger.With("component", "improvement"),
	}
}

// Generate produces a proposal for a pending request and stores it. On
// generator failure the request stays pending so the call can be retried.
func (s *Service) Generate(ctx context.Context, requestID string) (*registry.Request, error) {
	if s.gen == nil {
		return nil, ErrNoGenerator
	}
	req, err := s.store.Request(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != registry.StatusPending {
		return nil, &registry.StateError{RequestID: requestID, Status: req.Status}
	}
	entry, err := s.store.Entry(ctx, req.SkillID)
	if err != nil {
		return nil, err
	}

	proposal, err := s.gen.GenerateProposal(ctx, entry, req)
	if err != nil {
		return nil, fmt.Errorf("improvement: generate proposal: %w", err)
	}
	if err := s.store.MarkGenerated(ctx, requestID, proposal); err != nil {
		return nil, err
	}

	s.logger.Info("proposal generated", "request", requestID, "skill", req.SkillID)
	s.pub.Publish(events.Event{
		Type:      events.TypeImprovementGenerated,
		SkillID:   req.SkillID,
		RequestID: requestID,
	})
	return s.store.Request(ctx, requestID)
}

// Approve marks a generated proposal as approved by the given reviewer.
func (s *Service) Approve(ctx context.Context, requestID, reviewerID string) error {
	req, err := s.store.Request(ctx, requestID)
	if err != nil {
		return err
	}
	if err := s.store.MarkApproved(ctx, requestID, reviewerID, time.Now().UTC()); err != nil {
		return err
	}
	s.logger.Info("proposal approved", "request", requestID, "skill", req.SkillID, "reviewer", reviewerID)
	s.pub.Publish(events.Event{
		Type:      events.TypeImprovementApproved,
		SkillID:   req.SkillID,
		RequestID: requestID,
	})
	return nil
}

// Reject marks a generated proposal as rejected. The skill keeps its current
// prompt and becomes eligible for detection again.
func (s *Service) Reject(ctx context.Context, requestID, reviewerID, notes string) error {
	req, err := s.store.Request(ctx, requestID)
	if err != nil {
		return err
	}
	if err := s.store.MarkRejected(ctx, requestID, reviewerID, notes, time.Now().UTC()); err != nil {
		return err
	}
	s.logger.Info("proposal rejected", "request", requestID, "skill", req.SkillID, "reviewer", reviewerID)
	s.pub.Publish(events.Event{
		Type:      events.TypeImprovementRejected,
		SkillID:   req.SkillID,
		RequestID: requestID,
		Payload:   map[string]any{"notes": notes},
	})
	return nil
}

// Apply installs an approved proposal as the skill's new prompt version and
// returns that version number.
func (s *Service) Apply(ctx context.Context, requestID string) (int, error) {
	req, err := s.store.Request(ctx, requestID)
	if err != nil {
		return 0, err
	}
	newVersion, err := s.store.ApplyImprovement(ctx, requestID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	s.logger.Info("improvement applied",
		"request", requestID, "skill", req.SkillID, "version", newVersion)
	s.pub.Publish(events.Event{
		Type:      events.TypeImprovementApplied,
		SkillID:   req.SkillID,
		RequestID: requestID,
		Payload:   map[string]any{"newVersion": newVersion},
	})
	return newVersion, nil
}

// Rollback restores the skill's previous prompt content as a new version and
// returns that version number. The reason is mandatory for the audit trail.
func (s *Service) Rollback(ctx context.Context, skillID, reason string) (int, error) {
	if strings.TrimSpace(reason) == "" {
		return 0, ErrReasonRequired
	}
	restored, err := s.store.RollbackSkill(ctx, skillID, reason, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	s.logger.Info("skill rolled back", "skill", skillID, "version", restored, "reason", reason)
	s.pub.Publish(events.Event{
		Type:    events.TypeSkillRolledBack,
		SkillID: skillID,
		Payload: map[string]any{"restoredVersion": restored, "reason": reason},
	})
	return restored, nil
}

// Status reports a skill's scores, active request, and recent versions.
func (s *Service) Status(ctx context.Context, skillID string) (*SkillStatus, error) {
	entry, err := s.store.Entry(ctx, skillID)
	if err != nil {
		return nil, err
	}
	scores := registry.ComputeScores(entry)

	history, err := s.store.RequestHistory(ctx, skillID)
	if err != nil {
		return nil, err
	}
	var active *registry.Request
	for _, r := range history {
		if r.Status.Unresolved() {
			active = r
			break
		}
	}

	versions, err := s.store.VersionHistory(ctx, skillID, 10)
	if err != nil {
		return nil, err
	}

	return &SkillStatus{
		SkillID:          skillID,
		Scores:           scores,
		NeedsImprovement: registry.NeedsImprovement(scores),
		ActiveRequest:    active,
		RecentVersions:   versions,
	}, nil
}

// Pending lists all unresolved improvement requests, newest first.
func (s *Service) Pending(ctx context.Context) ([]*registry.Request, error) {
	return s.store.PendingRequests(ctx)
}
