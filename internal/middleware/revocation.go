package middleware

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"lingochat-backend/pkg/jwt"
)

// RedisRevocationChecker implements RevocationChecker using the Redis
// blacklist written by the auth service on logout
type RedisRevocationChecker struct {
	client *redis.Client
}

// NewRedisRevocationChecker creates a new RedisRevocationChecker
func NewRedisRevocationChecker(client *redis.Client) *RedisRevocationChecker {
	return &RedisRevocationChecker{client: client}
}

// IsTokenRevoked checks if a token is in the Redis blacklist
func (c *RedisRevocationChecker) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	id, err := jwt.ExtractTokenID(tokenString)
	if err != nil {
		return false, err
	}
	if id == "" {
		return false, nil
	}

	exists, err := c.client.Exists(ctx, BlacklistKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist in redis: %w", err)
	}

	return exists > 0, nil
}

// BlacklistKey is the Redis key marking a token id as revoked
func BlacklistKey(tokenID string) string {
	return "blacklist:" + tokenID
}
