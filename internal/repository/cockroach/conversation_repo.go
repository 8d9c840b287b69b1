package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lingochat-backend/internal/domain"
	"lingochat-backend/internal/repository"
)

// ConversationRepository reads conversation metadata and membership owned
// by the chat service
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

var _ repository.ConversationDirectory = (*ConversationRepository)(nil)

// GetConversation retrieves a conversation by ID
func (r *ConversationRepository) GetConversation(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT c.conversation_id, c.type, COALESCE(s.video_calls_enabled, true)
		FROM conversations c
		LEFT JOIN conversation_settings s ON s.conversation_id = c.conversation_id
		WHERE c.conversation_id = $1
	`

	conversation := &domain.Conversation{}
	var kind string
	err := r.pool.QueryRow(ctx, query, conversationID).Scan(
		&conversation.ConversationID,
		&kind,
		&conversation.VideoCallsEnabled,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	conversation.Type = domain.ConversationKind(kind)

	return conversation, nil
}

// IsActiveMember checks if a user currently belongs to a conversation
func (r *ConversationRepository) IsActiveMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}

	return exists, nil
}
