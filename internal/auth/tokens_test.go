package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
	"github.com/qzwhatnext/qzwhatnext/internal/store"
	"github.com/qzwhatnext/qzwhatnext/internal/testutil"
)

func newTokens(t *testing.T) (*Tokens, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateUser(context.Background(), model.User{
		ID: "u-1", CreatedAt: now, UpdatedAt: now,
	}))

	tokens := NewTokens(st, "test-pepper",
		WithIDGenerator(testutil.NewFixedIDGenerator("tok")),
		WithNow(testutil.NewFixedNow(now).Now))
	return tokens, st
}

func TestIssueAndVerify(t *testing.T) {
	tokens, _ := newTokens(t)
	ctx := context.Background()

	raw, record, err := tokens.Issue(ctx, "u-1", "shortcuts")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, raw[:8], record.Prefix)
	assert.NotContains(t, record.TokenHash, raw, "hash must not embed the raw token")

	userID, err := tokens.Verify(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "u-1", userID)
}

func TestVerify_UnknownToken(t *testing.T) {
	tokens, _ := newTokens(t)
	_, err := tokens.Verify(context.Background(), "not-a-token")
	assert.True(t, store.IsNotFound(err))
}

func TestVerify_RevokedToken(t *testing.T) {
	tokens, _ := newTokens(t)
	ctx := context.Background()

	raw, record, err := tokens.Issue(ctx, "u-1", "shortcuts")
	require.NoError(t, err)
	require.NoError(t, tokens.Revoke(ctx, "u-1", record.ID))

	_, err = tokens.Verify(ctx, raw)
	assert.True(t, store.IsNotFound(err), "revoked token fails like an unknown one")
}

func TestHash_PepperMatters(t *testing.T) {
	a := NewTokens(nil, "pepper-a")
	b := NewTokens(nil, "pepper-b")
	assert.NotEqual(t, a.Hash("same-token"), b.Hash("same-token"))
	assert.Equal(t, a.Hash("same-token"), a.Hash("same-token"))
}

func TestGenerate_Unique(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, len(a), 40)
}
