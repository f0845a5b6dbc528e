package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed registry. All counter mutations happen as single
// arithmetic UPDATE statements so concurrent grades for the same skill cannot
// lose updates, and registration is an upsert so concurrent first-time grading
// cannot create duplicate rows.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the registry database at the given path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Pragmas go in the DSN so every pooled connection gets them; an Exec
	// only configures the single connection it happens to run on.
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("registry: open db: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: wal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: busy timeout: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "registry")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates tables on first run.
func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS skill_registry (
			id                           TEXT PRIMARY KEY,
			name                         TEXT NOT NULL,
			skill_type                   TEXT NOT NULL,
			current_system_instruction   TEXT NOT NULL,
			current_user_prompt_template TEXT NOT NULL,
			current_version              INTEGER NOT NULL DEFAULT 1,
			total_grades                 INTEGER NOT NULL DEFAULT 0,
			overall_sum                  REAL NOT NULL DEFAULT 0,
			relevance_sum                REAL NOT NULL DEFAULT 0,
			relevance_count              INTEGER NOT NULL DEFAULT 0,
			accuracy_sum                 REAL NOT NULL DEFAULT 0,
			accuracy_count               INTEGER NOT NULL DEFAULT 0,
			completeness_sum             REAL NOT NULL DEFAULT 0,
			completeness_count           INTEGER NOT NULL DEFAULT 0,
			clarity_sum                  REAL NOT NULL DEFAULT 0,
			clarity_count                INTEGER NOT NULL DEFAULT 0,
			actionability_sum            REAL NOT NULL DEFAULT 0,
			actionability_count          INTEGER NOT NULL DEFAULT 0,
			professionalism_sum          REAL NOT NULL DEFAULT 0,
			professionalism_count        INTEGER NOT NULL DEFAULT 0,
			improvement_threshold        REAL NOT NULL DEFAULT 3.5,
			min_grades_for_improvement   INTEGER NOT NULL DEFAULT 50,
			improvement_pending          INTEGER NOT NULL DEFAULT 0,
			last_improved_at             INTEGER,
			created_at                   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS skill_grades (
			id                     TEXT PRIMARY KEY,
			skill_id               TEXT NOT NULL,
			skill_version          INTEGER NOT NULL,
			overall_score          REAL NOT NULL,
			relevance_score        REAL,
			accuracy_score         REAL,
			completeness_score     REAL,
			clarity_score          REAL,
			actionability_score    REAL,
			professionalism_score  REAL,
			feedback               TEXT,
			improvement_suggestion TEXT,
			was_output_used        INTEGER NOT NULL DEFAULT 0,
			inputs_hash            TEXT,
			graded_at              INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_grades_skill ON skill_grades(skill_id, graded_at)`,
		`CREATE TABLE IF NOT EXISTS skill_versions (
			skill_id             TEXT NOT NULL,
			version              INTEGER NOT NULL,
			system_instruction   TEXT NOT NULL,
			user_prompt_template TEXT NOT NULL,
			created_by           TEXT NOT NULL,
			change_reason        TEXT,
			created_at           INTEGER NOT NULL,
			PRIMARY KEY (skill_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS improvement_requests (
			id                            TEXT PRIMARY KEY,
			skill_id                      TEXT NOT NULL,
			from_version                  INTEGER NOT NULL,
			trigger_reason                TEXT NOT NULL,
			score_snapshot                TEXT NOT NULL,
			sample_feedback               TEXT NOT NULL,
			proposed_system_instruction   TEXT,
			proposed_user_prompt_template TEXT,
			improvement_rationale         TEXT,
			status                        TEXT NOT NULL DEFAULT 'pending',
			reviewed_by                   TEXT,
			review_notes                  TEXT,
			triggered_at                  INTEGER NOT NULL,
			reviewed_at                   INTEGER,
			implemented_at                INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_skill ON improvement_requests(skill_id, triggered_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Register inserts a registry row for the skill if none exists. The upsert is
// a no-op when the row is already present: content and counters are never
// overwritten. Returns true when a new row was created.
func (s *Store) Register(ctx context.Context, c Content) (bool, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("registry: register %s: %w", c.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO skill_registry
			(id, name, skill_type, current_system_instruction, current_user_prompt_template, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		c.ID, c.Name, string(c.Type), c.SystemInstruction, c.UserPromptTemplate, fmtTime(now))
	if err != nil {
		return false, fmt.Errorf("registry: register %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("registry: register %s: %w", c.ID, err)
	}
	if n == 0 {
		return false, nil
	}

	// Seed the version-1 history row so rollback can always find content.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO skill_versions
			(skill_id, version, system_instruction, user_prompt_template, created_by, created_at)
		 VALUES (?, 1, ?, ?, 'system', ?)`,
		c.ID, c.SystemInstruction, c.UserPromptTemplate, fmtTime(now)); err != nil {
		return false, fmt.Errorf("registry: seed version for %s: %w", c.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("registry: register %s: %w", c.ID, err)
	}
	return true, nil
}

// RecordGrade appends the grade row and folds its scores into the registry
// counters within one transaction. The counter mutation is a single arithmetic
// UPDATE, never a read-modify-write in the caller.
func (s *Store) RecordGrade(ctx context.Context, g Grade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: record grade: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	dims := make(map[Dimension]sql.NullFloat64, len(Dimensions))
	for _, dim := range Dimensions {
		if v, ok := g.DimensionScores[dim]; ok {
			dims[dim] = sql.NullFloat64{Float64: v, Valid: true}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO skill_grades
			(id, skill_id, skill_version, overall_score,
			 relevance_score, accuracy_score, completeness_score,
			 clarity_score, actionability_score, professionalism_score,
			 feedback, improvement_suggestion, was_output_used, inputs_hash, graded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.SkillID, g.SkillVersion, g.OverallScore,
		dims[DimRelevance], dims[DimAccuracy], dims[DimCompleteness],
		dims[DimClarity], dims[DimActionability], dims[DimProfessionalism],
		nullStr(g.Feedback), nullStr(g.ImprovementSuggestion),
		g.WasOutputUsed, nullStr(g.InputsHash), fmtTime(g.GradedAt)); err != nil {
		return fmt.Errorf("registry: insert grade: %w", err)
	}

	update := `UPDATE skill_registry SET
		total_grades = total_grades + 1,
		overall_sum = overall_sum + ?`
	args := []any{g.OverallScore}
	for _, dim := range Dimensions {
		update += fmt.Sprintf(`,
		%[1]s_sum = %[1]s_sum + COALESCE(?, 0),
		%[1]s_count = %[1]s_count + CASE WHEN ? IS NULL THEN 0 ELSE 1 END`, dim)
		args = append(args, dims[dim], dims[dim])
	}
	update += ` WHERE id = ?`
	args = append(args, g.SkillID)

	res, err := tx.ExecContext(ctx, update, args...)
	if err != nil {
		return fmt.Errorf("registry: update counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Skill has no registry row (registration failed earlier). Keep the
		// grade anyway; the quality signal matters more than a clean row.
		s.logger.Warn("grade recorded for unregistered skill", "skill", g.SkillID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: record grade: %w", err)
	}
	return nil
}

const entryColumns = `id, name, skill_type,
	current_system_instruction, current_user_prompt_template, current_version,
	total_grades, overall_sum,
	relevance_sum, relevance_count, accuracy_sum, accuracy_count,
	completeness_sum, completeness_count, clarity_sum, clarity_count,
	actionability_sum, actionability_count, professionalism_sum, professionalism_count,
	improvement_threshold, min_grades_for_improvement, improvement_pending, last_improved_at`

func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	var (
		e        Entry
		tallies  [6]Tally
		lastImpr sql.NullInt64
		skType   string
	)
	if err := row.Scan(
		&e.ID, &e.Name, &skType,
		&e.SystemInstruction, &e.UserPromptTemplate, &e.CurrentVersion,
		&e.TotalGrades, &e.OverallSum,
		&tallies[0].Sum, &tallies[0].Count, &tallies[1].Sum, &tallies[1].Count,
		&tallies[2].Sum, &tallies[2].Count, &tallies[3].Sum, &tallies[3].Count,
		&tallies[4].Sum, &tallies[4].Count, &tallies[5].Sum, &tallies[5].Count,
		&e.ImprovementThreshold, &e.MinGradesForImprovement, &e.ImprovementPending, &lastImpr,
	); err != nil {
		return nil, err
	}
	e.Type = SkillType(skType)
	e.Dimension = make(map[Dimension]Tally, len(Dimensions))
	for i, dim := range Dimensions {
		e.Dimension[dim] = tallies[i]
	}
	if lastImpr.Valid {
		t := parseTime(lastImpr.Int64)
		e.LastImprovedAt = &t
	}
	return &e, nil
}

// Entry returns the full registry row for a skill.
func (s *Store) Entry(ctx context.Context, skillID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM skill_registry WHERE id = ?`, skillID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: entry %s: %w", skillID, err)
	}
	return e, nil
}

// List returns all registry rows ordered by name.
func (s *Store) List(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM skill_registry ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: list: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prompt returns the live prompt content for a skill.
func (s *Store) Prompt(ctx context.Context, skillID string) (Prompt, error) {
	var p Prompt
	err := s.db.QueryRowContext(ctx,
		`SELECT current_system_instruction, current_user_prompt_template, current_version
		 FROM skill_registry WHERE id = ?`, skillID).
		Scan(&p.SystemInstruction, &p.UserPromptTemplate, &p.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Prompt{}, ErrNotFound
	}
	if err != nil {
		return Prompt{}, fmt.Errorf("registry: prompt %s: %w", skillID, err)
	}
	return p, nil
}

// RecentFeedback returns up to limit most recent non-empty feedback comments
// for a skill, newest first.
func (s *Store) RecentFeedback(ctx context.Context, skillID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feedback FROM skill_grades
		 WHERE skill_id = ? AND feedback IS NOT NULL AND feedback != ''
		 ORDER BY graded_at DESC LIMIT ?`, skillID, limit)
	if err != nil {
		return nil, fmt.Errorf("registry: recent feedback %s: %w", skillID, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var fb string
		if err := rows.Scan(&fb); err != nil {
			return nil, fmt.Errorf("registry: recent feedback %s: %w", skillID, err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

// VersionHistory returns up to limit newest version records for a skill.
func (s *Store) VersionHistory(ctx context.Context, skillID string, limit int) ([]VersionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT skill_id, version, system_instruction, user_prompt_template,
			created_by, change_reason, created_at
		 FROM skill_versions WHERE skill_id = ?
		 ORDER BY version DESC LIMIT ?`, skillID, limit)
	if err != nil {
		return nil, fmt.Errorf("registry: version history %s: %w", skillID, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []VersionRecord
	for rows.Next() {
		var (
			v      VersionRecord
			reason sql.NullString
			at     int64
		)
		if err := rows.Scan(&v.SkillID, &v.Version, &v.SystemInstruction,
			&v.UserPromptTemplate, &v.CreatedBy, &reason, &at); err != nil {
			return nil, fmt.Errorf("registry: version history %s: %w", skillID, err)
		}
		v.ChangeReason = reason.String
		v.CreatedAt = parseTime(at)
		out = append(out, v)
	}
	return out, rows.Err()
}

// Timestamps are stored as UTC Unix nanoseconds. ORDER BY on these columns
// compares numerically; formatted text sorts lexically and misorders
// sub-second ties when trailing fractional zeros are trimmed.
func fmtTime(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func parseTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
