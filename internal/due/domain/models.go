// Package domain exposes the fee obligations originated by the billing
// subsystem. The remittance engine only reads these rows, never writes them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// EntityTypeDue names the due row family in the lifecycle state catalog.
const EntityTypeDue = "due"

const (
	// DueStatePending marks dues not yet collected; only these are eligible
	// for a collection order.
	DueStatePending   = "PENDIENTE"
	DueStateCollected = "COBRADA"
	DueStateUnpaid    = "IMPAGADA"
	DueStateVoided    = "ANULADA"
	DueStateExempt    = "EXENTA"
)

// Due is one membership fee obligation for one member and year.
type Due struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	MemberID snowflake.ID `gorm:"not null;index"`
	Year     int          `gorm:"not null;index"`

	Amount decimal.Decimal `gorm:"type:decimal(10,2);not null"`

	// DebtorAccountIdentifier is the member's IBAN sealed by the vault; it is
	// decrypted only transiently while building the SEPA transaction block.
	DebtorAccountIdentifier string `gorm:"type:text;not null"`
	DebtorName              string `gorm:"type:text;not null"`

	MandateID            string    `gorm:"type:text"`
	MandateSignatureDate time.Time `gorm:"type:date"`

	State string `gorm:"column:state_code;type:text;not null"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Due) TableName() string { return "dues" }
