// Package session persists conversation sessions and their messages in
// PostgreSQL.
package session

import (
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// Role constants stored in the messages table.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Session represents a conversation session.
type Session struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	ModelName string    `json:"model_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one conversation turn. Content holds Genkit's part slice,
// serialized as JSONB in the database.
type Message struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Role           string
	Content        []*ai.Part
	SequenceNumber int64
	CreatedAt      time.Time
}

// roleToDB maps a Genkit role to its storage value.
func roleToDB(role ai.Role) string {
	switch role {
	case ai.RoleUser:
		return RoleUser
	case ai.RoleModel:
		return RoleAssistant
	case ai.RoleSystem:
		return RoleSystem
	case ai.RoleTool:
		return RoleTool
	default:
		return string(role)
	}
}

// roleFromDB maps a storage role back to Genkit's role.
func roleFromDB(role string) ai.Role {
	switch role {
	case RoleUser:
		return ai.RoleUser
	case RoleAssistant:
		return ai.RoleModel
	case RoleSystem:
		return ai.RoleSystem
	case RoleTool:
		return ai.RoleTool
	default:
		return ai.Role(role)
	}
}
