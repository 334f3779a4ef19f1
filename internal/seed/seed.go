package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	duedomain "github.com/socioscloud/remesa/internal/due/domain"
	lifecycledomain "github.com/socioscloud/remesa/internal/lifecycle/domain"
	remittancedomain "github.com/socioscloud/remesa/internal/remittance/domain"
	"gorm.io/gorm"
)

type stateRow struct {
	Code        string
	DisplayName string
	Description string
	IsInitial   bool
	IsTerminal  bool
}

var remittanceStates = []stateRow{
	{remittancedomain.RemittanceStateDraft, "Draft", "Accepting collection orders", true, false},
	{remittancedomain.RemittanceStateGenerated, "Generated", "XML artifact produced, still editable", false, false},
	{remittancedomain.RemittanceStateSent, "Sent", "Delivered to the bank, awaiting settlement", false, false},
	{remittancedomain.RemittanceStateProcessed, "Processed", "Every order collected", false, true},
	{remittancedomain.RemittanceStateRejected, "Rejected", "No order collected", false, true},
	{remittancedomain.RemittanceStatePartial, "Partially processed", "Mixed settlement outcome", false, true},
}

var orderStates = []stateRow{
	{remittancedomain.OrderStatePending, "Pending", "Waiting for the bank to run the batch", true, false},
	{remittancedomain.OrderStateProcessed, "Processed", "Debit collected", false, true},
	{remittancedomain.OrderStateFailed, "Failed", "Debit returned by the debtor bank", false, true},
	{remittancedomain.OrderStateVoided, "Voided", "Withdrawn before collection", false, true},
}

var dueStates = []stateRow{
	{duedomain.DueStatePending, "Pendiente", "Awaiting collection", true, false},
	{duedomain.DueStateCollected, "Cobrada", "Fee collected", false, true},
	{duedomain.DueStateUnpaid, "Impagada", "Collection attempted and returned", false, false},
	{duedomain.DueStateVoided, "Anulada", "Cancelled by the association", false, true},
	{duedomain.DueStateExempt, "Exenta", "Member exempt for the year", false, true},
}

// EnsureStateCatalog seeds the lifecycle state catalog for every lifecycled
// entity type. It is idempotent and safe to run on each startup.
func EnsureStateCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureStatesTx(ctx, tx, node, remittancedomain.EntityTypeRemittance, remittanceStates); err != nil {
			return err
		}
		if err := ensureStatesTx(ctx, tx, node, remittancedomain.EntityTypeCollectionOrder, orderStates); err != nil {
			return err
		}
		return ensureStatesTx(ctx, tx, node, duedomain.EntityTypeDue, dueStates)
	})
}

func ensureStatesTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, entityType string, rows []stateRow) error {
	for i, row := range rows {
		var existing lifecycledomain.State
		err := tx.WithContext(ctx).
			Where("entity_type = ? AND code = ?", entityType, row.Code).
			First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		state := lifecycledomain.State{
			ID:           node.Generate(),
			EntityType:   entityType,
			Code:         row.Code,
			DisplayName:  row.DisplayName,
			Description:  row.Description,
			DisplayOrder: i + 1,
			IsInitial:    row.IsInitial,
			IsTerminal:   row.IsTerminal,
			Active:       true,
		}
		if err := tx.WithContext(ctx).Create(&state).Error; err != nil {
			return err
		}
	}
	return nil
}
