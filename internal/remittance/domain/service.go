package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrRemittanceNotFound = errors.New("remittance_not_found")
	ErrOrderNotFound      = errors.New("order_not_found")
	ErrDueNotFound        = errors.New("due_not_found")

	// ErrInvalidState guards content mutations: orders can only be attached
	// while the remittance is still DRAFT.
	ErrInvalidState       = errors.New("invalid_remittance_state")
	ErrNotSendable        = errors.New("remittance_not_sendable")
	ErrDueNotPending      = errors.New("due_not_pending")
	ErrDueAlreadyOrdered  = errors.New("due_already_ordered")
	ErrInvalidAmount      = errors.New("invalid_order_amount")
	ErrDuplicateReference = errors.New("duplicate_remittance_reference")
)

type CreateRemittanceRequest struct {
	Reference string
	// CollectionDate defaults to the configured business-day lead time when zero.
	CollectionDate time.Time
	Fees           decimal.Decimal
	Notes          *string
}

type GenerateResult struct {
	Remittance Remittance
	// Document is the pain.008.001.02 XML handed to the external transport.
	Document string
}

type MarkOrderFailedRequest struct {
	OrderID         string
	RejectionCode   string
	RejectionReason string
	ProcessedOn     time.Time
	ActorID         *string
}

type Service interface {
	CreateRemittance(ctx context.Context, req CreateRemittanceRequest) (Remittance, error)
	GetRemittance(ctx context.Context, id string) (Remittance, error)
	ListOrders(ctx context.Context, remittanceID string) ([]CollectionOrder, error)

	// AddOrderForDue attaches a new collection order for one pending due and
	// recomputes the batch totals, all in one transaction.
	AddOrderForDue(ctx context.Context, remittanceID, dueID string) (CollectionOrder, error)

	// RecomputeTotals re-derives total_amount and order_count from the
	// current (non-voided) membership. It is the only writer of those fields.
	RecomputeTotals(ctx context.Context, remittanceID string) (Remittance, error)

	// Generate runs the SEPA codec, persists the artifact reference and the
	// message id (stable across re-generations), and moves DRAFT → GENERATED.
	Generate(ctx context.Context, remittanceID string, actorID *string) (GenerateResult, error)

	// MarkSent requires CanBeSent and moves DRAFT/GENERATED → SENT.
	MarkSent(ctx context.Context, remittanceID string, sentOn time.Time, actorID *string) (Remittance, error)

	// ApplySettlement derives the batch outcome from its orders' states:
	// PROCESSED when all settled orders succeeded, REJECTED when none did,
	// PARTIAL otherwise.
	ApplySettlement(ctx context.Context, remittanceID string, actorID *string) (Remittance, error)

	// MarkOrderProcessed records a successful debit. Re-delivery of the same
	// outcome is a warning no-op, never an error.
	MarkOrderProcessed(ctx context.Context, orderID string, processedOn time.Time, actorID *string) (CollectionOrder, error)
	MarkOrderFailed(ctx context.Context, req MarkOrderFailedRequest) (CollectionOrder, error)

	// VoidOrder retires a PENDING order (e.g. the due was cancelled before
	// the bank ran the batch) and recomputes totals without it.
	VoidOrder(ctx context.Context, orderID string, reason string, actorID *string) (CollectionOrder, error)
}
