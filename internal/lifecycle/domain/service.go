package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrUnknownState      = errors.New("unknown_state")
)

// Entity is the capability every lifecycled entity implements explicitly.
// No field-name reflection: Remittance and CollectionOrder opt in by
// implementing this interface.
type Entity interface {
	LifecycleEntityType() string
	LifecycleEntityID() snowflake.ID
	StateCode() string
	SetStateCode(code string)
}

// TransitionRequest carries optional audit context for a transition.
type TransitionRequest struct {
	NewStateCode string
	ActorID      *string
	Reason       *string
}

type Service interface {
	// WithTx binds the service to an open transaction so the state write and
	// the ledger append commit or roll back with the caller's changes.
	WithTx(tx *gorm.DB) Service

	// Transition validates and applies a state change, appending a
	// TransitionRecord. It fails with ErrInvalidTransition when the current
	// state is terminal, when the target equals the current state, or when a
	// concurrent writer got there first.
	Transition(ctx context.Context, entity Entity, req TransitionRequest) (TransitionRecord, error)

	// IsValidTransition is the non-mutating variant of the Transition rule.
	IsValidTransition(ctx context.Context, entity Entity, newStateCode string) (bool, error)

	// AvailableStates lists active catalog states for an entity type ordered
	// by display order, optionally restricted to initial states.
	AvailableStates(ctx context.Context, entityType string, initialOnly bool) ([]State, error)

	// History returns the append-only transition trail for one entity,
	// oldest first.
	History(ctx context.Context, entityType string, entityID snowflake.ID) ([]TransitionRecord, error)
}
