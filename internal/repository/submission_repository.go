package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aotms/exam-engine/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of *pgxpool.Pool the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SubmissionRepository handles finalized submission data access.
type SubmissionRepository struct {
	db DBTX
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(db DBTX) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Insert always creates a new row; repeated calls for the same attempt
// produce repeated rows.
func (r *SubmissionRepository) Insert(ctx context.Context, s *model.FinalizedSubmission) error {
	return insertSubmission(ctx, r.db, s)
}

// InsertOnce inserts unless the attempt already has a row, in which case
// s.ID and s.CreatedAt are taken from the oldest existing row and created is
// false. Concurrent callers are
// serialized by a transaction-scoped advisory lock on the attempt.
func (r *SubmissionRepository) InsertOnce(ctx context.Context, s *model.FinalizedSubmission) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}

	created, err := insertSubmissionOnce(ctx, tx, s)
	if err != nil {
		_ = tx.Rollback(ctx)
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// FindByIdempotencyKey returns the submission created with the given key, or
// pgx.ErrNoRows.
func (r *SubmissionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.FinalizedSubmission, error) {
	s := &model.FinalizedSubmission{}
	var finalState []byte
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, exam_id, final_state, idempotency_key, created_at
		 FROM exam_submissions
		 WHERE idempotency_key = $1`, key,
	).Scan(&s.ID, &s.UserID, &s.ExamID, &finalState, &s.IdempotencyKey, &s.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(finalState, &s.Answers); err != nil {
		return nil, fmt.Errorf("decode final_state: %w", err)
	}
	return s, nil
}

func insertSubmission(ctx context.Context, q rowQuerier, s *model.FinalizedSubmission) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	finalState, err := json.Marshal(s.Answers)
	if err != nil {
		return fmt.Errorf("encode final_state: %w", err)
	}

	return q.QueryRow(ctx,
		`INSERT INTO exam_submissions (id, user_id, exam_id, final_state, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		s.ID, s.UserID, s.ExamID, finalState, s.IdempotencyKey,
	).Scan(&s.CreatedAt)
}

func insertSubmissionOnce(ctx context.Context, tx pgx.Tx, s *model.FinalizedSubmission) (bool, error) {
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		s.UserID+":"+s.ExamID,
	); err != nil {
		return false, fmt.Errorf("advisory lock: %w", err)
	}

	err := tx.QueryRow(ctx,
		`SELECT id, created_at
		 FROM exam_submissions
		 WHERE user_id = $1 AND exam_id = $2
		 ORDER BY created_at ASC
		 LIMIT 1`, s.UserID, s.ExamID,
	).Scan(&s.ID, &s.CreatedAt)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("find existing submission: %w", err)
	}

	if err := insertSubmission(ctx, tx, s); err != nil {
		return false, err
	}
	return true, nil
}
