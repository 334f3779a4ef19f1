// Package domain contains the SEPA remittance batch and collection order models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Lifecycle entity type names, matching the state catalog rows.
const (
	EntityTypeRemittance      = "remittance"
	EntityTypeCollectionOrder = "collection_order"
)

// Remittance states. DRAFT accumulates orders, GENERATED has a frozen XML
// artifact, SENT is at the bank, and the three settlement outcomes are
// terminal.
const (
	RemittanceStateDraft     = "DRAFT"
	RemittanceStateGenerated = "GENERATED"
	RemittanceStateSent      = "SENT"
	RemittanceStateProcessed = "PROCESSED"
	RemittanceStateRejected  = "REJECTED"
	RemittanceStatePartial   = "PARTIAL"
)

// Collection order states. PENDING is the only non-terminal one.
const (
	OrderStatePending   = "PENDING"
	OrderStateProcessed = "PROCESSED"
	OrderStateFailed    = "FAILED"
	OrderStateVoided    = "VOIDED"
)

// Remittance is a batch of collection orders scheduled for a single
// bank-collection date. TotalAmount and OrderCount are derived fields owned by
// RecomputeTotals; nothing else may write them.
type Remittance struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Reference string       `gorm:"type:text;not null;uniqueIndex"`

	CreatedOn      time.Time  `gorm:"type:date;not null"`
	SentOn         *time.Time `gorm:"type:date"`
	CollectionDate time.Time  `gorm:"type:date;not null"`

	TotalAmount decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Fees        decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	OrderCount  int             `gorm:"not null;default:0"`

	State string `gorm:"column:state_code;type:text;not null;index"`

	// FileReference identifies the generated XML artifact; MessageID is the
	// SEPA message id embedded in it, allocated once and stable thereafter.
	FileReference *string `gorm:"type:text"`
	MessageID     *string `gorm:"type:text"`

	Notes *string `gorm:"type:text"`

	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// TableName sets the database table name.
func (Remittance) TableName() string { return "remittances" }

func (r *Remittance) LifecycleEntityType() string     { return EntityTypeRemittance }
func (r *Remittance) LifecycleEntityID() snowflake.ID { return r.ID }
func (r *Remittance) StateCode() string               { return r.State }
func (r *Remittance) SetStateCode(code string)        { r.State = code }

// NetAmount is the gross batch total minus bank fees.
func (r *Remittance) NetAmount() decimal.Decimal {
	return r.TotalAmount.Sub(r.Fees)
}

// CanBeSent reports whether the remittance is ready for bank transmission:
// at least one order, a generated artifact, and a pre-send state.
func (r *Remittance) CanBeSent() bool {
	if r.OrderCount <= 0 {
		return false
	}
	if r.FileReference == nil || *r.FileReference == "" {
		return false
	}
	return r.State == RemittanceStateDraft || r.State == RemittanceStateGenerated
}

// CollectionOrder is one instruction to debit one member's account for one
// due fee. An order lives inside exactly one remittance for its whole life.
type CollectionOrder struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	RemittanceID snowflake.ID `gorm:"not null;index"`
	DueID        snowflake.ID `gorm:"not null;uniqueIndex"`

	Amount decimal.Decimal `gorm:"type:decimal(10,2);not null"`

	// MandateReference identifies the standing SEPA mandate; required before
	// the owning remittance can be generated.
	MandateReference *string `gorm:"type:text"`

	// AccountIdentifier is the debtor IBAN sealed by the vault.
	AccountIdentifier string `gorm:"type:text;not null"`

	State string `gorm:"column:state_code;type:text;not null;index"`

	ProcessedAt     *time.Time `gorm:"type:date"`
	RejectionCode   *string    `gorm:"type:text"`
	RejectionReason *string    `gorm:"type:text"`

	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// TableName sets the database table name.
func (CollectionOrder) TableName() string { return "collection_orders" }

func (o *CollectionOrder) LifecycleEntityType() string     { return EntityTypeCollectionOrder }
func (o *CollectionOrder) LifecycleEntityID() snowflake.ID { return o.ID }
func (o *CollectionOrder) StateCode() string               { return o.State }
func (o *CollectionOrder) SetStateCode(code string)        { o.State = code }

// Terminal reports whether the order has reached a settlement outcome.
func (o *CollectionOrder) Terminal() bool {
	return o.State != OrderStatePending
}
