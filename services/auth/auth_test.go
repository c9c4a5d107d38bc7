package auth

import (
	"context"
	"testing"
	"time"

	"eventhub/data/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	tokens := NewTokens("0123456789abcdef0123", time.Hour)
	u := models.User{ID: 42, Role: models.RoleAdmin, Password: "$2a$10$hash"}

	token, err := tokens.Issue(u, PurposeAccess)
	require.NoError(t, err)

	claims, err := tokens.Verify(token, PurposeAccess)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	_, err = tokens.Verify(token, PurposeReset)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejects(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	tokens := NewTokens("0123456789abcdef0123", time.Hour)
	tokens.now = func() time.Time { return now }

	reset, err := tokens.Issue(models.User{ID: 1, Password: "h1"}, PurposeReset)
	require.NoError(t, err)

	other := NewTokens("another-secret-of-16+", time.Hour)
	other.now = tokens.now
	_, err = other.Verify(reset, PurposeReset)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong key")

	tokens.now = func() time.Time { return now.Add(11 * time.Minute) }
	_, err = tokens.Verify(reset, PurposeReset)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Purpose: PurposeAccess})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Verify(unsigned, PurposeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")

	_, err = tokens.Issue(models.User{ID: 1}, Purpose("bogus"))
	assert.Error(t, err)
}

func TestResetFingerprint(t *testing.T) {
	tokens := NewTokens("0123456789abcdef0123", time.Hour)
	token, err := tokens.Issue(models.User{ID: 7, Password: "old-hash"}, PurposeReset)
	require.NoError(t, err)

	claims, err := tokens.Verify(token, PurposeReset)
	require.NoError(t, err)
	assert.Equal(t, Fingerprint("old-hash"), claims.Fingerprint)
	assert.NotEqual(t, Fingerprint("new-hash"), claims.Fingerprint)
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NoError(t, CheckPassword(hash, "correct horse"))
	assert.ErrorIs(t, CheckPassword(hash, "battery staple"), ErrInvalidCredentials)
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFrom(context.Background())
	assert.False(t, ok)

	ctx := WithActor(context.Background(), Actor{UserID: 3, Role: models.RoleUser})
	a, ok := ActorFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(3), a.UserID)
	assert.False(t, a.IsAdmin())
}
