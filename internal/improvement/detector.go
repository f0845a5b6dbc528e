package improvement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/skillpulse/skillpulse/internal/events"
	"github.com/skillpulse/skillpulse/internal/registry"
)

// defaultSampleLimit caps the anonymized feedback comments frozen into a
// request when it is triggered.
const defaultSampleLimit = 5

// Detector sweeps the registry for skills whose scores warrant improvement
// and opens pending requests for them.
type Detector struct {
	store       *registry.Store
	pub         events.Publisher
	logger      *slog.Logger
	sampleLimit int
}

// NewDetector creates a detector. pub may be nil to disable events;
// sampleLimit <= 0 uses the default.
func NewDetector(store *registry.Store, pub events.Publisher, logger *slog.Logger, sampleLimit int) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if sampleLimit <= 0 {
		sampleLimit = defaultSampleLimit
	}
	return &Detector{
		store:       store,
		pub:         pub,
		logger:      logger.With("component", "detector"),
		sampleLimit: sampleLimit,
	}
}

// Sweep examines every registered skill once and returns the number of new
// requests created. Skills with an unresolved request are skipped so at most
// one request per skill is in flight.
func (d *Detector) Sweep(ctx context.Context) (int, error) {
	entries, err := d.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("improvement: list skills: %w", err)
	}

	created := 0
	for _, entry := range entries {
		scores := registry.ComputeScores(entry)
		if !registry.NeedsImprovement(scores) {
			continue
		}
		unresolved, err := d.store.HasUnresolvedRequest(ctx, entry.ID)
		if err != nil {
			d.logger.Error("failed to check unresolved requests", "skill", entry.ID, "error", err)
			continue
		}
		if unresolved {
			d.logger.Debug("skill already has an unresolved request", "skill", entry.ID)
			continue
		}
		if err := d.trigger(ctx, entry, scores); err != nil {
			d.logger.Error("failed to trigger improvement", "skill", entry.ID, "error", err)
			continue
		}
		created++
	}
	if created > 0 {
		d.logger.Info("detection sweep complete", "skills", len(entries), "triggered", created)
	}
	return created, nil
}

// trigger freezes the skill's current scores and recent feedback into a new
// pending request.
func (d *Detector) trigger(ctx context.Context, entry *registry.Entry, scores registry.SkillScores) error {
	feedback, err := d.store.RecentFeedback(ctx, entry.ID, d.sampleLimit)
	if err != nil {
		return fmt.Errorf("sample feedback: %w", err)
	}

	req := &registry.Request{
		ID:             uuid.NewString(),
		SkillID:        entry.ID,
		FromVersion:    entry.CurrentVersion,
		TriggerReason:  triggerReason(entry, scores),
		ScoreSnapshot:  registry.SnapshotScores(scores),
		SampleFeedback: feedback,
		Status:         registry.StatusPending,
		TriggeredAt:    time.Now().UTC(),
	}
	if err := d.store.CreateRequest(ctx, req); err != nil {
		return err
	}

	d.logger.Info("improvement triggered",
		"skill", entry.ID, "request", req.ID, "reason", req.TriggerReason)
	d.pub.Publish(events.Event{
		Type:      events.TypeImprovementTriggered,
		SkillID:   entry.ID,
		RequestID: req.ID,
		Payload:   map[string]any{"reason": req.TriggerReason},
	})
	return nil
}

// triggerReason distinguishes an overall score below the threshold from a
// single dimension dragging an otherwise acceptable skill down. The low-score
// label requires the grade-count gate; before that, eligibility can only have
// come from the dimension hard floor.
func triggerReason(entry *registry.Entry, scores registry.SkillScores) string {
	if scores.TotalGrades >= int64(entry.MinGradesForImprovement) &&
		scores.AverageOverall != nil && *scores.AverageOverall < entry.ImprovementThreshold {
		return registry.TriggerLowScore
	}
	return registry.TriggerDimensionWeakness
}

// Run executes Sweep on the given cron schedule until ctx is cancelled.
func (d *Detector) Run(ctx context.Context, schedule string) error {
	spec, err := cron.ParseStandard(schedule)
	if err != nil {
		return fmt.Errorf("improvement: parse schedule %q: %w", schedule, err)
	}
	d.logger.Info("detector started", "schedule", schedule, "next_run", spec.Next(time.Now()).Format(time.RFC3339))

	for {
		next := spec.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			d.logger.Info("detector stopped")
			return nil
		case <-timer.C:
			if _, err := d.Sweep(ctx); err != nil {
				d.logger.Error("detection sweep failed", "error", err)
			}
		}
	}
}
