package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateRequest persists a new pending improvement request and sets the
// skill's improvement_pending flag in the same transaction.
func (s *Store) CreateRequest(ctx context.Context, r *Request) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: create request: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO improvement_requests
			(id, skill_id, from_version, trigger_reason, score_snapshot,
			 sample_feedback, status, triggered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SkillID, r.FromVersion, r.TriggerReason,
		mustJSON(r.ScoreSnapshot), mustJSON(r.SampleFeedback),
		string(StatusPending), fmtTime(r.TriggeredAt)); err != nil {
		return fmt.Errorf("registry: create request: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE skill_registry SET improvement_pending = 1 WHERE id = ?`,
		r.SkillID); err != nil {
		return fmt.Errorf("registry: create request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: create request: %w", err)
	}
	return nil
}

const requestColumns = `id, skill_id, from_version, trigger_reason, score_snapshot,
	sample_feedback, proposed_system_instruction, proposed_user_prompt_template,
	improvement_rationale, status, reviewed_by, review_notes,
	triggered_at, reviewed_at, implemented_at`

func scanRequest(row interface{ Scan(...any) error }) (*Request, error) {
	var (
		r                  Request
		snapshot, feedback string
		propSys, propTpl   sql.NullString
		rationale          sql.NullString
		reviewedBy, notes  sql.NullString
		triggeredAt        int64
		reviewedAt, implAt sql.NullInt64
		status             string
	)
	if err := row.Scan(&r.ID, &r.SkillID, &r.FromVersion, &r.TriggerReason,
		&snapshot, &feedback, &propSys, &propTpl, &rationale, &status,
		&reviewedBy, &notes, &triggeredAt, &reviewedAt, &implAt); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.ReviewedBy = reviewedBy.String
	r.ReviewNotes = notes.String
	_ = json.Unmarshal([]byte(snapshot), &r.ScoreSnapshot)
	_ = json.Unmarshal([]byte(feedback), &r.SampleFeedback)
	if propSys.Valid || propTpl.Valid || rationale.Valid {
		r.Proposed = &Proposal{
			SystemInstruction:  propSys.String,
			UserPromptTemplate: propTpl.String,
			Rationale:          rationale.String,
		}
	}
	r.TriggeredAt = parseTime(triggeredAt)
	if reviewedAt.Valid {
		t := parseTime(reviewedAt.Int64)
		r.ReviewedAt = &t
	}
	if implAt.Valid {
		t := parseTime(implAt.Int64)
		r.ImplementedAt = &t
	}
	return &r, nil
}

// Request returns one improvement request by ID.
func (s *Store) Request(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM improvement_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: request %s: %w", id, err)
	}
	return r, nil
}

func (s *Store) queryRequests(ctx context.Context, where string, args ...any) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM improvement_requests `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("registry: query requests: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: query requests: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PendingRequests returns all unresolved requests, newest first.
func (s *Store) PendingRequests(ctx context.Context) ([]*Request, error) {
	return s.queryRequests(ctx,
		`WHERE status IN ('pending', 'generated', 'approved') ORDER BY triggered_at DESC`)
}

// RequestHistory returns all requests ever triggered for a skill, newest first.
func (s *Store) RequestHistory(ctx context.Context, skillID string) ([]*Request, error) {
	return s.queryRequests(ctx,
		`WHERE skill_id = ? ORDER BY triggered_at DESC`, skillID)
}

// HasUnresolvedRequest reports whether a pending, generated, or approved
// request already exists for the skill.
func (s *Store) HasUnresolvedRequest(ctx context.Context, skillID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM improvement_requests
		 WHERE skill_id = ? AND status IN ('pending', 'generated', 'approved')`,
		skillID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("registry: unresolved check %s: %w", skillID, err)
	}
	return n > 0, nil
}

// transition performs a guarded status update inside tx. When the request is
// not in the expected status, no row changes and a StateError carrying the
// observed status is returned.
func transition(ctx context.Context, tx *sql.Tx, id string, from Status, set string, args ...any) error {
	args = append(args, id, string(from))
	res, err := tx.ExecContext(ctx,
		`UPDATE improvement_requests SET `+set+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return fmt.Errorf("registry: transition %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM improvement_requests WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRequestNotFound
	}
	if err != nil {
		return fmt.Errorf("registry: transition %s: %w", id, err)
	}
	return &StateError{RequestID: id, Status: Status(status)}
}

// MarkGenerated stores a generated proposal and moves pending -> generated.
// On any failure the request stays pending with no partial writes.
func (s *Store) MarkGenerated(ctx context.Context, id string, p Proposal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: mark generated: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := transition(ctx, tx, id, StatusPending,
		`proposed_system_instruction = ?, proposed_user_prompt_template = ?,
		 improvement_rationale = ?, status = 'generated'`,
		p.SystemInstruction, p.UserPromptTemplate, p.Rationale); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkApproved moves generated -> approved and records the reviewer.
func (s *Store) MarkApproved(ctx context.Context, id, reviewerID string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: mark approved: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := transition(ctx, tx, id, StatusGenerated,
		`status = 'approved', reviewed_by = ?, reviewed_at = ?`,
		nullStr(reviewerID), fmtTime(now)); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkRejected moves generated -> rejected and clears the skill's pending
// flag. The live prompt is untouched.
func (s *Store) MarkRejected(ctx context.Context, id, reviewerID, reason string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: mark rejected: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := transition(ctx, tx, id, StatusGenerated,
		`status = 'rejected', reviewed_by = ?, review_notes = ?, reviewed_at = ?`,
		nullStr(reviewerID), nullStr(reason), fmtTime(now)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE skill_registry SET improvement_pending = 0
		 WHERE id = (SELECT skill_id FROM improvement_requests WHERE id = ?)`, id); err != nil {
		return fmt.Errorf("registry: mark rejected: %w", err)
	}
	return tx.Commit()
}

// ApplyImprovement promotes an approved request to implemented and mutates
// the skill row in the same transaction: new prompt content, version +1,
// last_improved_at set, pending flag cleared. The version can never be
// observed out of step with the content. Returns the new version number.
func (s *Store) ApplyImprovement(ctx context.Context, requestID string, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("registry: apply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		skillID          string
		status           string
		propSys, propTpl sql.NullString
		rationale        sql.NullString
	)
	err = tx.QueryRowContext(ctx,
		`SELECT skill_id, status, proposed_system_instruction,
			proposed_user_prompt_template, improvement_rationale
		 FROM improvement_requests WHERE id = ?`, requestID).
		Scan(&skillID, &status, &propSys, &propTpl, &rationale)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrRequestNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("registry: apply: %w", err)
	}
	if Status(status) != StatusApproved {
		return 0, &StateError{RequestID: requestID, Status: Status(status)}
	}
	if !propSys.Valid || !propTpl.Valid {
		return 0, fmt.Errorf("registry: apply %s: approved request has no proposal", requestID)
	}

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT current_version FROM skill_registry WHERE id = ?`, skillID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("registry: apply: %w", err)
	}
	newVersion := version + 1

	if _, err := tx.ExecContext(ctx,
		`UPDATE skill_registry SET
			current_system_instruction = ?, current_user_prompt_template = ?,
			current_version = ?, last_improved_at = ?, improvement_pending = 0
		 WHERE id = ?`,
		propSys.String, propTpl.String, newVersion, fmtTime(now), skillID); err != nil {
		return 0, fmt.Errorf("registry: apply: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO skill_versions
			(skill_id, version, system_instruction, user_prompt_template, created_by, change_reason, created_at)
		 VALUES (?, ?, ?, ?, 'ai-improvement', ?, ?)`,
		skillID, newVersion, propSys.String, propTpl.String,
		nullStr(rationale.String), fmtTime(now)); err != nil {
		return 0, fmt.Errorf("registry: apply: %w", err)
	}

	if err := transition(ctx, tx, requestID, StatusApproved,
		`status = 'implemented', implemented_at = ?`, fmtTime(now)); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("registry: apply: %w", err)
	}
	return newVersion, nil
}

// RollbackSkill restores the immediately preceding version's content as a new
// version (never a decrement) and marks the newest implemented request for the
// skill as rolled-back. Returns the new version number.
func (s *Store) RollbackSkill(ctx context.Context, skillID, reason string, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("registry: rollback: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT current_version FROM skill_registry WHERE id = ?`, skillID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("registry: rollback: %w", err)
	}
	if version <= 1 {
		return 0, ErrNoPreviousVersion
	}

	var sys, tpl string
	err = tx.QueryRowContext(ctx,
		`SELECT system_instruction, user_prompt_template
		 FROM skill_versions WHERE skill_id = ? AND version = ?`,
		skillID, version-1).Scan(&sys, &tpl)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrVersionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("registry: rollback: %w", err)
	}

	newVersion := version + 1
	if _, err := tx.ExecContext(ctx,
		`UPDATE skill_registry SET
			current_system_instruction = ?, current_user_prompt_template = ?,
			current_version = ?, improvement_pending = 0
		 WHERE id = ?`,
		sys, tpl, newVersion, skillID); err != nil {
		return 0, fmt.Errorf("registry: rollback: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO skill_versions
			(skill_id, version, system_instruction, user_prompt_template, created_by, change_reason, created_at)
		 VALUES (?, ?, ?, ?, 'rollback', ?, ?)`,
		skillID, newVersion, sys, tpl, reason, fmtTime(now)); err != nil {
		return 0, fmt.Errorf("registry: rollback: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE improvement_requests SET status = 'rolled-back'
		 WHERE id = (SELECT id FROM improvement_requests
			WHERE skill_id = ? AND status = 'implemented'
			ORDER BY implemented_at DESC LIMIT 1)`, skillID); err != nil {
		return 0, fmt.Errorf("registry: rollback: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("registry: rollback: %w", err)
	}
	return newVersion, nil
}
