package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Guest tokens carry this role
const RoleGuest = "guest"

// Claims represents JWT claims structure. A registered user token sets
// UserID; a guest token sets AnonymousID and the ConversationID the guest
// was invited to.
type Claims struct {
	UserID         uuid.UUID `json:"user_id,omitempty"`
	Username       string    `json:"username,omitempty"`
	Role           string    `json:"role"` // user, admin, guest
	AnonymousID    string    `json:"anonymous_id,omitempty"`
	ConversationID uuid.UUID `json:"conversation_id,omitempty"`
	jwt.RegisteredClaims
}

// IsGuest reports whether the token belongs to an anonymous guest
func (c *Claims) IsGuest() bool {
	return c.AnonymousID != ""
}

// JWTManager handles JWT token operations
type JWTManager struct {
	secretKey           string
	audience            string
	accessTokenDuration time.Duration
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secretKey, audience string, accessTokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:           secretKey,
		audience:            audience,
		accessTokenDuration: accessTokenDuration,
	}
}

// GenerateAccessToken creates a token for a registered user
func (m *JWTManager) GenerateAccessToken(userID uuid.UUID, username, role string) (string, error) {
	return m.sign(&Claims{
		UserID:           userID,
		Username:         username,
		Role:             role,
		RegisteredClaims: m.registered(userID.String()),
	})
}

// GenerateGuestToken creates a token for an anonymous guest scoped to one conversation
func (m *JWTManager) GenerateGuestToken(anonymousID string, conversationID uuid.UUID) (string, error) {
	if anonymousID == "" || conversationID == uuid.Nil {
		return "", fmt.Errorf("guest token needs an anonymous id and a conversation")
	}
	return m.sign(&Claims{
		Role:             RoleGuest,
		AnonymousID:      anonymousID,
		ConversationID:   conversationID,
		RegisteredClaims: m.registered("anon:" + anonymousID),
	})
}

func (m *JWTManager) registered(subject string) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTokenDuration)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    "lingochat-auth",
		Audience:  jwt.ClaimStrings{m.audience},
		Subject:   subject,
		ID:        uuid.New().String(),
	}
}

func (m *JWTManager) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(m.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken validates and parses JWT token, including its audience
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.secretKey), nil
	}, jwt.WithAudience(m.audience))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.IsGuest() {
		if claims.ConversationID == uuid.Nil {
			return nil, fmt.Errorf("guest token without conversation")
		}
	} else if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("token without subject")
	}

	return claims, nil
}

// ExtractTokenID reads the jti without verifying the signature (for revocation lookups)
func ExtractTokenID(tokenString string) (string, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}

	return claims.ID, nil
}
