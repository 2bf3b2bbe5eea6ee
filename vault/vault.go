// Package vault issues and redeems single-use course access tokens. Raw
// tokens are returned exactly once at issuance; only their SHA-256 hash is
// ever stored. Redemption is linearizable per token: among concurrent
// redeemers of the same raw token exactly one wins, and marking the token
// used and enrolling the user happen together or not at all.
package vault

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"codelab-server/models"
)

var (
	// ErrTokenInvalid means no unused token matched the presented value.
	ErrTokenInvalid = errors.New("invalid access token")
	// ErrTokenExpired means the token matched but its expiry has passed.
	// An expired token is not consumed; it also never becomes valid again.
	ErrTokenExpired = errors.New("access token expired")
)

// Vault issues and redeems course access tokens.
type Vault interface {
	// Issue mints a token for the course and returns the raw value once.
	Issue(ctx context.Context, courseID string, expiresAt *time.Time) (*models.IssuedToken, error)
	// Redeem consumes an unused, unexpired token scoped to the course and
	// enrolls the user, atomically. Returns ErrTokenInvalid or
	// ErrTokenExpired on failure.
	Redeem(ctx context.Context, courseID, rawToken, userID string) error
}

// Enroller is the enrollment side-effect Redeem performs. Enrollment must
// be idempotent: redeeming while already enrolled is not an error here.
type Enroller interface {
	Enroll(ctx context.Context, userID, courseID string) error
}

// generateToken returns a 256-bit random token in hex.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// hashToken is the one-way mapping under which tokens are stored.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// tokenRecord is one issued token as the memory vault stores it.
type tokenRecord struct {
	id        string
	courseID  string
	tokenHash string
	expiresAt *time.Time
	usedAt    *time.Time
}

// MemoryVault keeps tokens in memory behind a single mutex, which also
// covers the enroll step so redemption stays atomic.
type MemoryVault struct {
	mu       sync.Mutex
	tokens   map[string]*tokenRecord // keyed by token id
	enroller Enroller
	now      func() time.Time
}

func NewMemoryVault(enroller Enroller) *MemoryVault {
	return &MemoryVault{
		tokens:   make(map[string]*tokenRecord),
		enroller: enroller,
		now:      time.Now,
	}
}

func (v *MemoryVault) Issue(_ context.Context, courseID string, expiresAt *time.Time) (*models.IssuedToken, error) {
	raw, err := generateToken()
	if err != nil {
		return nil, err
	}
	rec := &tokenRecord{
		id:        uuid.NewString(),
		courseID:  courseID,
		tokenHash: hashToken(raw),
		expiresAt: expiresAt,
	}
	v.mu.Lock()
	v.tokens[rec.id] = rec
	v.mu.Unlock()
	return &models.IssuedToken{ID: rec.id, Token: raw, ExpiresAt: expiresAt}, nil
}

func (v *MemoryVault) Redeem(ctx context.Context, courseID, rawToken, userID string) error {
	hash := hashToken(rawToken)

	v.mu.Lock()
	defer v.mu.Unlock()

	var match *tokenRecord
	for _, rec := range v.tokens {
		if rec.courseID == courseID && rec.tokenHash == hash && rec.usedAt == nil {
			match = rec
			break
		}
	}
	if match == nil {
		return ErrTokenInvalid
	}
	now := v.now()
	if match.expiresAt != nil && !match.expiresAt.After(now) {
		return ErrTokenExpired
	}

	if err := v.enroller.Enroll(ctx, userID, courseID); err != nil {
		return fmt.Errorf("failed to enroll during redemption: %w", err)
	}
	match.usedAt = &now
	return nil
}
