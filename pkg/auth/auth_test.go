package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)

	token, expiresAt, err := issuer.GenerateToken(AdminSession{Email: "ops@example.com"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := issuer.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Admin.Email)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, _, err := NewTokenIssuer("secret", time.Hour).GenerateToken(AdminSession{Email: "a@example.com"})
	require.NoError(t, err)

	_, err = NewTokenIssuer("other", time.Hour).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := issuer.GenerateToken(AdminSession{Email: "a@example.com"})
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.ValidateToken(token)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("Correct-Horse-9"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, VerifyPassword("Correct-Horse-9", string(hash)))
	assert.False(t, VerifyPassword("correct-horse-9", string(hash)))
	assert.True(t, IsBcryptHash(string(hash)))
	assert.False(t, IsBcryptHash("plaintext"))
}

func TestValidatePasswordStrength(t *testing.T) {
	assert.NoError(t, ValidatePasswordStrength("Correct-Horse-9"))
	assert.Error(t, ValidatePasswordStrength("Short-1a"))
	assert.Error(t, ValidatePasswordStrength("alllowercase-123"))
	assert.Error(t, ValidatePasswordStrength("NoDigitsHere-abc"))
	assert.Error(t, ValidatePasswordStrength("NoSpecial123abc"))
}
