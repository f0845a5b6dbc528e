// Package registry is the authoritative store for skill prompts and their
// quality track record. One row per skill holds the live prompt content, the
// current version number, and drift-free aggregate grade counters; companion
// tables hold individual grades, the full version history, and improvement
// requests.
//
// Architecture:
//   - Store: sqlite-backed persistence with atomic counter updates
//   - Entry/SkillScores: the registry row and its pure score projection
//   - Request: an improvement proposal with a fixed lifecycle status
package registry

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a skill is not present in the registry.
var ErrNotFound = errors.New("registry: skill not found")

// ErrRequestNotFound is returned when an improvement request does not exist.
var ErrRequestNotFound = errors.New("registry: improvement request not found")

// ErrVersionNotFound is returned when a version history row is missing.
var ErrVersionNotFound = errors.New("registry: version not found")

// ErrNoPreviousVersion is returned when rollback is attempted at version 1.
var ErrNoPreviousVersion = errors.New("registry: no previous version to roll back to")

// SkillType categorizes where a skill's definition came from.
type SkillType string

const (
	TypeBuiltIn   SkillType = "built-in"
	TypeDynamic   SkillType = "dynamic"
	TypeCommunity SkillType = "community"
	TypeLibrary   SkillType = "library"
)

// Dimension is one axis of output quality on the 1-5 scale.
type Dimension string

const (
	DimRelevance       Dimension = "relevance"
	DimAccuracy        Dimension = "accuracy"
	DimCompleteness    Dimension = "completeness"
	DimClarity         Dimension = "clarity"
	DimActionability   Dimension = "actionability"
	DimProfessionalism Dimension = "professionalism"
)

// Dimensions lists all quality dimensions in canonical order.
var Dimensions = []Dimension{
	DimRelevance,
	DimAccuracy,
	DimCompleteness,
	DimClarity,
	DimActionability,
	DimProfessionalism,
}

// Content is the prompt definition used to register a skill.
type Content struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Type               SkillType `json:"skillType"`
	SystemInstruction  string    `json:"systemInstruction"`
	UserPromptTemplate string    `json:"userPromptTemplate"`
}

// Tally is a running sum and count for one dimension.
type Tally struct {
	Sum   float64
	Count int64
}

// Entry is a full skill registry row. Counters are stored as sums and counts
// rather than running averages so repeated updates cannot drift.
type Entry struct {
	ID                 string
	Name               string
	Type               SkillType
	SystemInstruction  string
	UserPromptTemplate string
	CurrentVersion     int

	TotalGrades int64
	OverallSum  float64
	Dimension   map[Dimension]Tally

	ImprovementThreshold    float64
	MinGradesForImprovement int
	ImprovementPending      bool
	LastImprovedAt          *time.Time
}

// SkillScores is the read-side projection of an Entry's counters.
// Averages are nil until at least one grade supplied the value.
type SkillScores struct {
	TotalGrades             int64                  `json:"totalGrades"`
	AverageOverall          *float64               `json:"averageOverall"`
	Dimensions              map[Dimension]*float64 `json:"dimensions"`
	CurrentVersion          int                    `json:"currentVersion"`
	ImprovementPending      bool                   `json:"improvementPending"`
	ImprovementThreshold    float64                `json:"improvementThreshold"`
	MinGradesForImprovement int                    `json:"minGradesForImprovement"`
	GradesUntilEligible     int64                  `json:"gradesUntilEligible"`
}

// Grade is one anonymized quality rating. No user identity is ever stored.
type Grade struct {
	ID                    string
	SkillID               string
	SkillVersion          int
	OverallScore          float64
	DimensionScores       map[Dimension]float64
	Feedback              string
	ImprovementSuggestion string
	WasOutputUsed         bool
	InputsHash            string
	GradedAt              time.Time
}

// Prompt is the live prompt content for a skill at its current version.
type Prompt struct {
	SystemInstruction  string `json:"systemInstruction"`
	UserPromptTemplate string `json:"userPromptTemplate"`
	Version            int    `json:"version"`
}

// VersionRecord is one row of a skill's version history. Rollback restores an
// older record's content as a new, higher version.
type VersionRecord struct {
	SkillID            string    `json:"skillId"`
	Version            int       `json:"version"`
	SystemInstruction  string    `json:"systemInstruction"`
	UserPromptTemplate string    `json:"userPromptTemplate"`
	CreatedBy          string    `json:"createdBy"` // "system", "ai-improvement", "rollback"
	ChangeReason       string    `json:"changeReason,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Status is the lifecycle state of an improvement request.
type Status string

const (
	StatusPending     Status = "pending"
	StatusGenerated   Status = "generated"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusImplemented Status = "implemented"
	StatusRolledBack  Status = "rolled-back"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusRolledBack
}

// Unresolved reports whether the request still blocks new detection for its
// skill (pending, generated, or approved but not yet applied).
func (s Status) Unresolved() bool {
	return s == StatusPending || s == StatusGenerated || s == StatusApproved
}

// StateError reports an improvement-request transition attempted from the
// wrong status. The observed status is carried for the caller.
type StateError struct {
	RequestID string
	Status    Status
}

func (e *StateError) Error() string {
	return "registry: request " + e.RequestID + " has status " + string(e.Status)
}

// Snapshot is the frozen copy of a skill's scores taken when an improvement
// request is triggered. Later grades never alter it.
type Snapshot struct {
	TotalGrades int64                  `json:"totalGrades"`
	Overall     *float64               `json:"overall"`
	Dimensions  map[Dimension]*float64 `json:"dimensions"`
	Threshold   float64                `json:"threshold"`
}

// Proposal is generated prompt content awaiting review.
type Proposal struct {
	SystemInstruction  string `json:"systemInstruction"`
	UserPromptTemplate string `json:"userPromptTemplate"`
	Rationale          string `json:"rationale"`
}

// Request is an improvement proposal for one skill.
type Request struct {
	ID             string     `json:"id"`
	SkillID        string     `json:"skillId"`
	FromVersion    int        `json:"fromVersion"`
	TriggerReason  string     `json:"triggerReason"`
	ScoreSnapshot  Snapshot   `json:"scoreSnapshot"`
	SampleFeedback []string   `json:"sampleFeedback"`
	Proposed       *Proposal  `json:"proposed,omitempty"`
	Status         Status     `json:"status"`
	ReviewedBy     string     `json:"reviewedBy,omitempty"`
	ReviewNotes    string     `json:"reviewNotes,omitempty"`
	TriggeredAt    time.Time  `json:"triggeredAt"`
	ReviewedAt     *time.Time `json:"reviewedAt,omitempty"`
	ImplementedAt  *time.Time `json:"implementedAt,omitempty"`
}

// Trigger reasons recorded on improvement requests.
const (
	TriggerLowScore          = "low-score-threshold"
	TriggerDimensionWeakness = "dimension-weakness"
)
