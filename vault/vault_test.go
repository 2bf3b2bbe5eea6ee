package vault

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codelab-server/catalog"
)

func TestMemoryVault_IssueAndRedeem(t *testing.T) {
	store := catalog.NewMemoryStore()
	v := NewMemoryVault(store)
	ctx := context.Background()

	issued, err := v.Issue(ctx, "course-1", nil)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)

	require.NoError(t, v.Redeem(ctx, "course-1", issued.Token, "u1"))

	enrolled, err := store.IsEnrolled(ctx, "u1", "course-1")
	require.NoError(t, err)
	assert.True(t, enrolled)
}

func TestMemoryVault_TokenIsSingleUse(t *testing.T) {
	store := catalog.NewMemoryStore()
	v := NewMemoryVault(store)
	ctx := context.Background()

	issued, err := v.Issue(ctx, "course-1", nil)
	require.NoError(t, err)

	require.NoError(t, v.Redeem(ctx, "course-1", issued.Token, "u1"))
	err = v.Redeem(ctx, "course-1", issued.Token, "u2")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	enrolled, err := store.IsEnrolled(ctx, "u2", "course-1")
	require.NoError(t, err)
	assert.False(t, enrolled)
}

func TestMemoryVault_ConcurrentRedemptionHasOneWinner(t *testing.T) {
	store := catalog.NewMemoryStore()
	v := NewMemoryVault(store)
	ctx := context.Background()

	issued, err := v.Issue(ctx, "course-1", nil)
	require.NoError(t, err)

	const racers = 20
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = v.Redeem(ctx, "course-1", issued.Token, "user-"+string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrTokenInvalid)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, store.EnrollmentCount("course-1"))
}

func TestMemoryVault_ExpiredTokenNotConsumed(t *testing.T) {
	store := catalog.NewMemoryStore()
	v := NewMemoryVault(store)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour)
	issued, err := v.Issue(ctx, "course-1", &expiry)
	require.NoError(t, err)

	// Move the clock past expiry.
	v.now = func() time.Time { return expiry.Add(time.Minute) }

	err = v.Redeem(ctx, "course-1", issued.Token, "u1")
	assert.ErrorIs(t, err, ErrTokenExpired)

	enrolled, err := store.IsEnrolled(ctx, "u1", "course-1")
	require.NoError(t, err)
	assert.False(t, enrolled)

	// An expired token stays unusable forever, even if retried.
	err = v.Redeem(ctx, "course-1", issued.Token, "u1")
	assert.ErrorIs(t, err, ErrTokenExpired)

	rec := v.tokens[issued.ID]
	require.NotNil(t, rec)
	assert.Nil(t, rec.usedAt, "expired token is rejected, not consumed")
}

func TestMemoryVault_ExpiryBoundaryIsExclusive(t *testing.T) {
	store := catalog.NewMemoryStore()
	v := NewMemoryVault(store)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour)
	issued, err := v.Issue(ctx, "course-1", &expiry)
	require.NoError(t, err)

	// Exactly at expiry the token is already expired.
	v.now = func() time.Time { return expiry }
	err = v.Redeem(ctx, "course-1", issued.Token, "u1")
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestMemoryVault_TokenScopedToCourse(t *testing.T) {
	store := catalog.NewMemoryStore()
	v := NewMemoryVault(store)
	ctx := context.Background()

	issued, err := v.Issue(ctx, "course-1", nil)
	require.NoError(t, err)

	err = v.Redeem(ctx, "course-2", issued.Token, "u1")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	// Still redeemable against the right course.
	require.NoError(t, v.Redeem(ctx, "course-1", issued.Token, "u1"))
}

func TestMemoryVault_UnknownTokenInvalid(t *testing.T) {
	v := NewMemoryVault(catalog.NewMemoryStore())
	err := v.Redeem(context.Background(), "course-1", "never-issued", "u1")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestMemoryVault_StoresOnlyHash(t *testing.T) {
	v := NewMemoryVault(catalog.NewMemoryStore())
	issued, err := v.Issue(context.Background(), "course-1", nil)
	require.NoError(t, err)

	rec := v.tokens[issued.ID]
	require.NotNil(t, rec)
	assert.NotEqual(t, issued.Token, rec.tokenHash)
	assert.Equal(t, hashToken(issued.Token), rec.tokenHash)
	assert.Len(t, rec.tokenHash, 64)
}

func TestGenerateToken_Unique(t *testing.T) {
	a, err := generateToken()
	require.NoError(t, err)
	b, err := generateToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}
