package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditActorSystem marks entries written by the indexer and worker.
const AuditActorSystem = "system"

// AuditLog is one row of the append-only audit trail. Deposit transitions
// are recorded as action "deposit_<STATUS>" against the deal.
type AuditLog struct {
	ID          uuid.UUID  `json:"id"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty"`
	ActorType   string     `json:"actor_type"`
	Action      string     `json:"action"`
	EntityType  string     `json:"entity_type"`
	EntityID    *uuid.UUID `json:"entity_id,omitempty"`
	Meta        any        `json:"meta,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
