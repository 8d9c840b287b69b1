package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"lingochat-backend/internal/domain"
	"lingochat-backend/internal/repository"
)

// Directory is an in-memory repository.ConversationDirectory
type Directory struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]domain.Conversation
	members       map[uuid.UUID]map[uuid.UUID]bool
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		conversations: make(map[uuid.UUID]domain.Conversation),
		members:       make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

var _ repository.ConversationDirectory = (*Directory)(nil)

// AddConversation registers a conversation with its active members
func (d *Directory) AddConversation(conversation domain.Conversation, members ...uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.conversations[conversation.ConversationID] = conversation
	if d.members[conversation.ConversationID] == nil {
		d.members[conversation.ConversationID] = make(map[uuid.UUID]bool)
	}
	for _, m := range members {
		d.members[conversation.ConversationID][m] = true
	}
}

// RemoveMember marks a user as no longer belonging to the conversation
func (d *Directory) RemoveMember(conversationID, userID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.members[conversationID], userID)
}

func (d *Directory) GetConversation(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.conversations[conversationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (d *Directory) IsActiveMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.members[conversationID][userID], nil
}

type seedConversation struct {
	ID                uuid.UUID               `json:"id"`
	Type              domain.ConversationKind `json:"type"`
	VideoCallsEnabled *bool                   `json:"videoCallsEnabled"`
	Members           []uuid.UUID             `json:"members"`
}

// LoadSeedFile registers the conversations listed in a JSON file, used
// to give a memory-backed development instance something to call in
func (d *Directory) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read directory seed: %w", err)
	}

	var seed []seedConversation
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse directory seed: %w", err)
	}

	for _, c := range seed {
		video := true
		if c.VideoCallsEnabled != nil {
			video = *c.VideoCallsEnabled
		}
		d.AddConversation(domain.Conversation{
			ConversationID:    c.ID,
			Type:              c.Type,
			VideoCallsEnabled: video,
		}, c.Members...)
	}
	return nil
}
