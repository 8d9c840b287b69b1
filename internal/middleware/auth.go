package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lingochat-backend/internal/domain"
	apperrors "lingochat-backend/pkg/errors"
	"lingochat-backend/pkg/jwt"
	"lingochat-backend/pkg/logger"
	"lingochat-backend/pkg/response"
)

// AuthContextKey is the gin context key holding the caller's *domain.AuthContext
const AuthContextKey = "auth"

// RevocationChecker defines interface for checking if a token is revoked (blacklisted)
type RevocationChecker interface {
	// IsTokenRevoked checks if a JWT token has been revoked/blacklisted
	IsTokenRevoked(ctx context.Context, tokenString string) (bool, error)
}

// Authenticator turns a bearer token into an AuthContext. It serves both
// the HTTP middleware and the WebSocket handshake.
type Authenticator struct {
	jwtManager *jwt.JWTManager
	revocation RevocationChecker
}

// NewAuthenticator creates an authenticator. revocation may be nil.
func NewAuthenticator(jwtManager *jwt.JWTManager, revocation RevocationChecker) *Authenticator {
	return &Authenticator{jwtManager: jwtManager, revocation: revocation}
}

// TokenFromRequest reads the token from the Authorization header or, for
// browsers that cannot set headers on a WebSocket handshake, the token
// query parameter
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Authenticate validates the token and checks revocation
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (*domain.AuthContext, error) {
	if tokenString == "" {
		return nil, apperrors.NotAuthenticatedError()
	}

	claims, err := a.jwtManager.ValidateToken(tokenString)
	if err != nil {
		logger.FromContext(ctx).Debug("Rejected token", zap.Error(err))
		return nil, apperrors.NotAuthenticatedError()
	}

	if a.revocation != nil {
		revoked, err := a.revocation.IsTokenRevoked(ctx, tokenString)
		if err != nil {
			// Fail-open: signature and expiry already passed
			logger.FromContext(ctx).Warn("Token revocation check unavailable", zap.Error(err))
		} else if revoked {
			return nil, apperrors.NotAuthenticatedError()
		}
	}

	return AuthContextFromClaims(claims), nil
}

// AuthContextFromClaims builds the per-connection identity from token claims
func AuthContextFromClaims(claims *jwt.Claims) *domain.AuthContext {
	if claims.IsGuest() {
		return &domain.AuthContext{
			Identity:            domain.AnonymousIdentity(claims.AnonymousID),
			Role:                jwt.RoleGuest,
			GuestConversationID: claims.ConversationID,
		}
	}
	return &domain.AuthContext{
		Identity: domain.UserIdentity(claims.UserID),
		Username: claims.Username,
		Role:     claims.Role,
	}
}

// AuthMiddleware creates a Gin middleware that validates JWT tokens and
// stores the AuthContext under AuthContextKey
func AuthMiddleware(authenticator *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth, err := authenticator.Authenticate(c.Request.Context(), TokenFromRequest(c.Request))
		if err != nil {
			response.FromError(c, err)
			c.Abort()
			return
		}

		c.Set(AuthContextKey, auth)
		c.Next()
	}
}

// GetAuthContext returns the AuthContext set by AuthMiddleware, or nil
func GetAuthContext(c *gin.Context) *domain.AuthContext {
	val, exists := c.Get(AuthContextKey)
	if !exists {
		return nil
	}
	auth, _ := val.(*domain.AuthContext)
	return auth
}

// RequireAdmin rejects callers without the admin role
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := GetAuthContext(c)
		if auth == nil || !auth.IsAdmin() {
			response.FromError(c, apperrors.PermissionDeniedError("Admin role required"))
			c.Abort()
			return
		}
		c.Next()
	}
}
