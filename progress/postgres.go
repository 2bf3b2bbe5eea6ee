package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"codelab-server/apperr"
	"codelab-server/models"
)

// casAttempts bounds the optimistic-concurrency retry loop before a write
// surfaces as a transient failure.
const casAttempts = 3

// PostgresStore persists progress records with a versioned
// compare-and-swap: each field merge re-reads the row, applies the change,
// and writes back only if the version still matches what was read. A lost
// race retries; the row is never overwritten blind.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, userID, pageID string) (*models.ProgressRecord, error) {
	rec, err := s.fetch(ctx, userID, pageID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *PostgresStore) SaveMCQAnswer(ctx context.Context, userID, pageID, sectionID string, answer models.MCQAnswer) error {
	return s.mergeField(ctx, userID, pageID, "mcq_answers", sectionID, answer)
}

func (s *PostgresStore) SaveCodeSubmission(ctx context.Context, userID, pageID, sectionID string, submission models.CodeSubmission) error {
	return s.mergeField(ctx, userID, pageID, "code_submissions", sectionID, submission)
}

func (s *PostgresStore) MarkComplete(ctx context.Context, userID, pageID string) error {
	// Single upsert statement: atomic per row, no version bump needed
	// because the field maps are untouched.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_progress (id, user_id, page_id, completed_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id, page_id) DO UPDATE SET completed_at = CURRENT_TIMESTAMP
	`, uuid.NewString(), userID, pageID)
	if err != nil {
		return fmt.Errorf("failed to mark page complete: %w", err)
	}
	return nil
}

// mergeField sets field[sectionID] = value preserving every other key,
// under a bounded CAS loop keyed on the row version.
func (s *PostgresStore) mergeField(ctx context.Context, userID, pageID, field, sectionID string, value any) error {
	// Create the row if it doesn't exist yet; a concurrent creator winning
	// the insert is fine, the CAS below operates on whichever row landed.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_progress (id, user_id, page_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, page_id) DO NOTHING
	`, uuid.NewString(), userID, pageID)
	if err != nil {
		return fmt.Errorf("failed to ensure progress row: %w", err)
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s value: %w", field, err)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		var id string
		var version int
		var current []byte
		err := s.pool.QueryRow(ctx,
			fmt.Sprintf(`SELECT id, version, %s FROM user_progress WHERE user_id = $1 AND page_id = $2`, field),
			userID, pageID,
		).Scan(&id, &version, &current)
		if err != nil {
			return fmt.Errorf("failed to read progress row: %w", err)
		}

		merged := map[string]json.RawMessage{}
		if len(current) > 0 {
			if err := json.Unmarshal(current, &merged); err != nil {
				return fmt.Errorf("failed to decode stored %s: %w", field, err)
			}
		}
		merged[sectionID] = encoded

		next, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("failed to encode merged %s: %w", field, err)
		}

		tag, err := s.pool.Exec(ctx,
			fmt.Sprintf(`UPDATE user_progress SET %s = $1, version = version + 1 WHERE id = $2 AND version = $3`, field),
			next, id, version,
		)
		if err != nil {
			return fmt.Errorf("failed to write progress row: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		// Version moved underneath us; re-read and retry.
	}
	return apperr.New(apperr.CodeConcurrency, "Progress write conflicted, please retry")
}

func (s *PostgresStore) fetch(ctx context.Context, userID, pageID string) (*models.ProgressRecord, error) {
	var rec models.ProgressRecord
	var mcqJSON, codeJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, page_id, completed_at, mcq_answers, code_submissions, version
		FROM user_progress WHERE user_id = $1 AND page_id = $2
	`, userID, pageID).Scan(&rec.ID, &rec.UserID, &rec.PageID, &rec.CompletedAt, &mcqJSON, &codeJSON, &rec.Version)
	if err != nil {
		return nil, err
	}

	rec.MCQAnswers = make(map[string]models.MCQAnswer)
	if len(mcqJSON) > 0 {
		if err := json.Unmarshal(mcqJSON, &rec.MCQAnswers); err != nil {
			return nil, fmt.Errorf("failed to decode mcq_answers: %w", err)
		}
	}
	rec.CodeSubmissions = make(map[string]models.CodeSubmission)
	if len(codeJSON) > 0 {
		if err := json.Unmarshal(codeJSON, &rec.CodeSubmissions); err != nil {
			return nil, fmt.Errorf("failed to decode code_submissions: %w", err)
		}
	}
	return &rec, nil
}
