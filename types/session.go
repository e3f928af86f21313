package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies which end of the channel a process is.
type Role string

// Role constants. Exactly one process plays each role on a channel.
const (
	RoleExecutor Role = "executor"
	RoleClient   Role = "client"
)

// SessionMeta is session identity carried into logs, journal records and
// adapter events. A session is one executor-loop lifetime on one channel.
type SessionMeta struct {
	// SessionID is the unique session identifier.
	SessionID string
	// Role is the endpoint role of the owning process.
	Role Role
	// StartedAt is the session start time (UTC).
	StartedAt time.Time
}

// NewSessionMeta creates session metadata with a fresh ID.
func NewSessionMeta(role Role) *SessionMeta {
	return &SessionMeta{
		SessionID: uuid.NewString(),
		Role:      role,
		StartedAt: time.Now().UTC(),
	}
}

// Validate checks session metadata.
func (m *SessionMeta) Validate() error {
	if m == nil {
		return fmt.Errorf("session metadata is nil")
	}
	if m.SessionID == "" {
		return fmt.Errorf("session_id must not be empty")
	}
	if m.Role != RoleExecutor && m.Role != RoleClient {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	return nil
}
