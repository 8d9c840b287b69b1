package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "test-secret-key-for-testing-purposes"
	testAudience = "lingochat-api"
)

func TestNewJWTManager(t *testing.T) {
	manager := NewJWTManager(testSecret, testAudience, 15*time.Minute)

	assert.NotNil(t, manager)
	assert.Equal(t, testSecret, manager.secretKey)
	assert.Equal(t, testAudience, manager.audience)
	assert.Equal(t, 15*time.Minute, manager.accessTokenDuration)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewJWTManager(testSecret, testAudience, 15*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "testuser", "user")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)

	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "testuser", claims.Username)
	assert.Equal(t, "user", claims.Role)
	assert.False(t, claims.IsGuest())
	assert.NotEmpty(t, claims.ID)
}

func TestValidateToken_GuestToken(t *testing.T) {
	manager := NewJWTManager(testSecret, testAudience, 15*time.Minute)
	conversationID := uuid.New()

	token, err := manager.GenerateGuestToken("visitor-7", conversationID)
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)

	require.NoError(t, err)
	assert.True(t, claims.IsGuest())
	assert.Equal(t, "visitor-7", claims.AnonymousID)
	assert.Equal(t, conversationID, claims.ConversationID)
	assert.Equal(t, RoleGuest, claims.Role)
	assert.Equal(t, "anon:visitor-7", claims.Subject)
}

func TestGenerateGuestToken_RequiresScope(t *testing.T) {
	manager := NewJWTManager(testSecret, testAudience, 15*time.Minute)

	_, err := manager.GenerateGuestToken("visitor", uuid.Nil)
	assert.Error(t, err)

	_, err = manager.GenerateGuestToken("", uuid.New())
	assert.Error(t, err)
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	manager := NewJWTManager(testSecret, testAudience, time.Nanosecond)

	token, err := manager.GenerateAccessToken(uuid.New(), "testuser", "user")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	claims, err := manager.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := NewJWTManager("secret-one", testAudience, time.Minute).GenerateAccessToken(uuid.New(), "u", "user")
	require.NoError(t, err)

	_, err = NewJWTManager("secret-two", testAudience, time.Minute).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_WrongAudience(t *testing.T) {
	token, err := NewJWTManager(testSecret, "other-api", time.Minute).GenerateAccessToken(uuid.New(), "u", "user")
	require.NoError(t, err)

	_, err = NewJWTManager(testSecret, testAudience, time.Minute).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_Garbage(t *testing.T) {
	manager := NewJWTManager(testSecret, testAudience, time.Minute)

	_, err := manager.ValidateToken("not.a.token")
	assert.Error(t, err)
}

func TestExtractTokenID(t *testing.T) {
	manager := NewJWTManager(testSecret, testAudience, time.Minute)
	token, err := manager.GenerateAccessToken(uuid.New(), "u", "user")
	require.NoError(t, err)
	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)

	id, err := ExtractTokenID(token)

	require.NoError(t, err)
	assert.Equal(t, claims.ID, id)
}
