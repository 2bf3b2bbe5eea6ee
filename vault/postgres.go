package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"codelab-server/models"
)

// PostgresVault stores token hashes in course_access_tokens. Redemption is
// one transaction around a single conditional UPDATE: the lookup and the
// used_at transition are the same statement, so two concurrent redeemers
// of the same raw token can never both win.
type PostgresVault struct {
	pool *pgxpool.Pool
}

func NewPostgresVault(pool *pgxpool.Pool) *PostgresVault {
	return &PostgresVault{pool: pool}
}

func (v *PostgresVault) Issue(ctx context.Context, courseID string, expiresAt *time.Time) (*models.IssuedToken, error) {
	raw, err := generateToken()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	_, err = v.pool.Exec(ctx, `
		INSERT INTO course_access_tokens (id, course_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, id, courseID, hashToken(raw), expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}
	return &models.IssuedToken{ID: id, Token: raw, ExpiresAt: expiresAt}, nil
}

func (v *PostgresVault) Redeem(ctx context.Context, courseID, rawToken, userID string) error {
	hash := hashToken(rawToken)

	tx, err := v.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin redemption transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var tokenID string
	err = tx.QueryRow(ctx, `
		UPDATE course_access_tokens
		SET used_at = CURRENT_TIMESTAMP
		WHERE course_id = $1
		  AND token_hash = $2
		  AND used_at IS NULL
		  AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
		RETURNING id
	`, courseID, hash).Scan(&tokenID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish expired from invalid. Expiry does not consume the
		// token, so the row (if any) stays unused.
		var expired bool
		checkErr := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM course_access_tokens
				WHERE course_id = $1 AND token_hash = $2
				  AND used_at IS NULL AND expires_at <= CURRENT_TIMESTAMP
			)
		`, courseID, hash).Scan(&expired)
		if checkErr != nil {
			return fmt.Errorf("failed to check token expiry: %w", checkErr)
		}
		if expired {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("failed to redeem token: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO course_enrollments (id, user_id, course_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, course_id) DO NOTHING
	`, uuid.NewString(), userID, courseID)
	if err != nil {
		return fmt.Errorf("failed to enroll during redemption: %w", err)
	}

	// Mark-used and enrollment commit together or not at all.
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit redemption: %w", err)
	}
	return nil
}
