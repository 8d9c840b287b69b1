package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const anonymousPrefix = "anon:"

// Identity names who is acting: a registered user or an anonymous guest.
// Exactly one of the two fields is set.
type Identity struct {
	UserID      uuid.UUID
	AnonymousID string
}

// UserIdentity builds the identity of a registered user
func UserIdentity(id uuid.UUID) Identity {
	return Identity{UserID: id}
}

// AnonymousIdentity builds the identity of a guest
func AnonymousIdentity(id string) Identity {
	return Identity{AnonymousID: id}
}

// IsAnonymous reports whether the identity is a guest
func (i Identity) IsAnonymous() bool {
	return i.AnonymousID != ""
}

// IsZero reports whether neither field is set
func (i Identity) IsZero() bool {
	return i.UserID == uuid.Nil && i.AnonymousID == ""
}

// String is the wire form used for signal routing, relay credentials and
// rate-limit keys: the bare UUID for users, "anon:<id>" for guests
func (i Identity) String() string {
	if i.IsAnonymous() {
		return anonymousPrefix + i.AnonymousID
	}
	if i.UserID == uuid.Nil {
		return ""
	}
	return i.UserID.String()
}

// ParseIdentity parses the wire form produced by Identity.String
func ParseIdentity(s string) (Identity, error) {
	if rest, ok := strings.CutPrefix(s, anonymousPrefix); ok {
		if rest == "" {
			return Identity{}, fmt.Errorf("empty anonymous id")
		}
		return AnonymousIdentity(rest), nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid identity %q: %w", s, err)
	}
	return UserIdentity(id), nil
}

// AuthContext is built once when a connection or request is authenticated
// and passed explicitly into every call operation.
type AuthContext struct {
	Identity Identity
	Username string
	Role     string // user, admin, guest
	// GuestConversationID scopes an anonymous guest to the one conversation
	// its invite was issued for.
	GuestConversationID uuid.UUID
}

// IsAdmin reports whether the caller may use operator endpoints
func (a *AuthContext) IsAdmin() bool {
	return a.Role == "admin"
}
