// Package domain contains the catalog-driven lifecycle state machine contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// State is one catalog row. States are data, not code: adding a state for any
// entity type is a seed row, never a new constant in a switch.
type State struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	EntityType   string       `gorm:"type:text;not null;uniqueIndex:ux_lifecycle_states_code,priority:1"`
	Code         string       `gorm:"type:text;not null;uniqueIndex:ux_lifecycle_states_code,priority:2"`
	DisplayName  string       `gorm:"type:text;not null"`
	Description  string       `gorm:"type:text;not null;default:''"`
	DisplayOrder int          `gorm:"not null;default:0"`
	IsInitial    bool         `gorm:"not null;default:false"`
	IsTerminal   bool         `gorm:"not null;default:false"`
	Active       bool         `gorm:"not null;default:true;index"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (State) TableName() string { return "lifecycle_states" }

// TransitionRecord is one append-only audit row. Records are never mutated or
// deleted.
type TransitionRecord struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	EntityType        string       `gorm:"type:text;not null;index:ix_state_transitions_entity,priority:1"`
	EntityID          snowflake.ID `gorm:"not null;index:ix_state_transitions_entity,priority:2"`
	PreviousStateCode *string      `gorm:"type:text"`
	NewStateCode      string       `gorm:"type:text;not null"`
	Reason            *string      `gorm:"type:text"`
	ActorID           *string      `gorm:"type:text"`
	ChangedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TransitionRecord) TableName() string { return "state_transitions" }
