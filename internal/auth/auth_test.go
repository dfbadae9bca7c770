package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIssueAndParse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss, err := NewIssuer("s3cret", WithTTL(30*time.Minute), WithNow(fixedClock(now)))
	require.NoError(t, err)

	token, exp, err := iss.Issue(" user-42 ")
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Minute), exp)

	claims, err := iss.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestParseRejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss, err := NewIssuer("s3cret", WithTTL(time.Minute), WithNow(fixedClock(now)))
	require.NoError(t, err)
	token, _, err := iss.Issue("user-1")
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later, err := NewIssuer("s3cret", WithNow(fixedClock(now.Add(2*time.Minute))))
		require.NoError(t, err)
		_, err = later.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewIssuer("other", WithNow(fixedClock(now)))
		require.NoError(t, err)
		_, err = other.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
	t.Run("wrong issuer", func(t *testing.T) {
		other, err := NewIssuer("s3cret", WithIssuerName("elsewhere"), WithNow(fixedClock(now)))
		require.NoError(t, err)
		_, err = other.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
	t.Run("empty", func(t *testing.T) {
		_, err := iss.Parse("  ")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
	t.Run("none algorithm", func(t *testing.T) {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		}}
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = iss.Parse(unsigned)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
	t.Run("issued in the future", func(t *testing.T) {
		ahead, err := NewIssuer("s3cret", WithNow(fixedClock(now.Add(time.Hour))))
		require.NoError(t, err)
		future, _, err := ahead.Issue("user-1")
		require.NoError(t, err)
		_, err = iss.Parse(future)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	iss, err := NewIssuer("k")
	require.NoError(t, err)
	_, _, err = iss.Issue("")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithUser(context.Background(), " user-7 ")
	id, ok := UserIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "user-7", id)

	_, ok = UserIDFromContext(context.Background())
	assert.False(t, ok)

	ctx = ContextWithToken(ctx, "tok")
	tok, ok := TokenFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "tok", tok)
	assert.Equal(t, ctx, ContextWithToken(ctx, ""))
}
