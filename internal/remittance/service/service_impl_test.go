package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	auditdomain "github.com/socioscloud/remesa/internal/audit/domain"
	"github.com/socioscloud/remesa/internal/clock"
	"github.com/socioscloud/remesa/internal/config"
	duedomain "github.com/socioscloud/remesa/internal/due/domain"
	lifecycledomain "github.com/socioscloud/remesa/internal/lifecycle/domain"
	lifecycleservice "github.com/socioscloud/remesa/internal/lifecycle/service"
	"github.com/socioscloud/remesa/internal/remittance/domain"
	"github.com/socioscloud/remesa/internal/seed"
	"github.com/socioscloud/remesa/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	svc   domain.Service
	node  *snowflake.Node
	vault *vault.Vault
	clock *clock.FakeClock
}

func testConfig() config.Config {
	return config.Config{
		AppName:        "remesa",
		Environment:    config.EnvDevelopment,
		VaultKeySecret: "test-vault-secret",
		Creditor: config.CreditorConfig{
			Name:     "Asociacion Vecinal El Parque",
			IBAN:     "ES9121000418450200051332",
			BIC:      "CAIXESBBXXX",
			SchemeID: "ES50ZZZ12345678",
		},
		CollectionLeadDays: 5,
	}
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&lifecycledomain.State{},
		&lifecycledomain.TransitionRecord{},
		&duedomain.Due{},
		&domain.Remittance{},
		&domain.CollectionOrder{},
		&auditdomain.AuditLog{},
	))
	require.NoError(t, seed.EnsureStateCatalog(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := testConfig()
	log := zap.NewNop()
	// Friday. Five business days of lead time land on the next Friday.
	fake := clock.NewFakeClock(time.Date(2025, 1, 3, 10, 0, 0, 0, time.UTC))

	v, err := vault.New(vault.Params{Cfg: cfg, Log: log})
	require.NoError(t, err)

	lifecycle := lifecycleservice.NewService(lifecycleservice.Params{
		DB:    db,
		Log:   log,
		Clock: fake,
		GenID: node,
	})

	svc := NewService(Params{
		DB:        db,
		Log:       log,
		Clock:     fake,
		GenID:     node,
		Cfg:       cfg,
		Lifecycle: lifecycle,
		Vault:     v,
	})

	return &fixture{db: db, svc: svc, node: node, vault: v, clock: fake}
}

func (f *fixture) newDue(t *testing.T, amount, iban, name string) duedomain.Due {
	t.Helper()

	sealed, err := f.vault.EncryptIBAN(iban)
	require.NoError(t, err)

	due := duedomain.Due{
		ID:                      f.node.Generate(),
		MemberID:                f.node.Generate(),
		Year:                    2025,
		Amount:                  decimal.RequireFromString(amount),
		DebtorAccountIdentifier: sealed,
		DebtorName:              name,
		MandateID:               "MNDT-" + f.node.Generate().String(),
		MandateSignatureDate:    time.Date(2021, 6, 15, 0, 0, 0, 0, time.UTC),
		State:                   duedomain.DueStatePending,
	}
	require.NoError(t, f.db.Create(&due).Error)
	return due
}

func (f *fixture) newRemittance(t *testing.T, reference string) domain.Remittance {
	t.Helper()

	rem, err := f.svc.CreateRemittance(context.Background(), domain.CreateRemittanceRequest{
		Reference: reference,
	})
	require.NoError(t, err)
	return rem
}

func TestCreateRemittance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("defaults collection date to the business-day lead time", func(t *testing.T) {
		rem, err := f.svc.CreateRemittance(ctx, domain.CreateRemittanceRequest{Reference: "REM-2025-01"})
		require.NoError(t, err)

		assert.Equal(t, domain.RemittanceStateDraft, rem.State)
		assert.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), rem.CollectionDate)
		assert.True(t, rem.TotalAmount.IsZero())
		assert.Zero(t, rem.OrderCount)
	})

	t.Run("rejects a collection date inside the lead time", func(t *testing.T) {
		_, err := f.svc.CreateRemittance(ctx, domain.CreateRemittanceRequest{
			Reference:      "REM-2025-02",
			CollectionDate: time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("rejects a duplicate reference", func(t *testing.T) {
		_, err := f.svc.CreateRemittance(ctx, domain.CreateRemittanceRequest{Reference: "REM-2025-01"})
		assert.ErrorIs(t, err, domain.ErrDuplicateReference)
	})
}

func TestAddOrderForDue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rem := f.newRemittance(t, "REM-2025-03")
	dueA := f.newDue(t, "50.00", "ES7921000813610123456789", "Garcia Lopez Maria")
	dueB := f.newDue(t, "75.50", "ES6000491500051234567892", "Fernandez Ruiz Juan")

	order, err := f.svc.AddOrderForDue(ctx, rem.ID.String(), dueA.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatePending, order.State)
	assert.True(t, order.Amount.Equal(dueA.Amount))
	require.NotNil(t, order.MandateReference)
	assert.Equal(t, dueA.MandateID, *order.MandateReference)
	assert.Equal(t, dueA.DebtorAccountIdentifier, order.AccountIdentifier)

	_, err = f.svc.AddOrderForDue(ctx, rem.ID.String(), dueB.ID.String())
	require.NoError(t, err)

	updated, err := f.svc.GetRemittance(ctx, rem.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, updated.OrderCount)
	assert.True(t, updated.TotalAmount.Equal(decimal.RequireFromString("125.50")),
		"got total %s", updated.TotalAmount)

	t.Run("same due cannot be ordered twice", func(t *testing.T) {
		_, err := f.svc.AddOrderForDue(ctx, rem.ID.String(), dueA.ID.String())
		assert.ErrorIs(t, err, domain.ErrDueAlreadyOrdered)
	})

	t.Run("non-pending due is rejected", func(t *testing.T) {
		collected := f.newDue(t, "30.00", "ES1000492352082414205416", "Santos Vega Ana")
		require.NoError(t, f.db.Model(&duedomain.Due{}).
			Where("id = ?", collected.ID).
			Update("state_code", duedomain.DueStateCollected).Error)

		_, err := f.svc.AddOrderForDue(ctx, rem.ID.String(), collected.ID.String())
		assert.ErrorIs(t, err, domain.ErrDueNotPending)
	})

	t.Run("missing due is reported as such", func(t *testing.T) {
		_, err := f.svc.AddOrderForDue(ctx, rem.ID.String(), f.node.Generate().String())
		assert.ErrorIs(t, err, domain.ErrDueNotFound)
	})
}

func TestGenerate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rem := f.newRemittance(t, "REM-2025-04")
	dueA := f.newDue(t, "50.00", "ES7921000813610123456789", "Garcia Lopez Maria")
	dueB := f.newDue(t, "75.50", "ES6000491500051234567892", "Fernandez Ruiz Juan")

	_, err := f.svc.AddOrderForDue(ctx, rem.ID.String(), dueA.ID.String())
	require.NoError(t, err)
	_, err = f.svc.AddOrderForDue(ctx, rem.ID.String(), dueB.ID.String())
	require.NoError(t, err)

	result, err := f.svc.Generate(ctx, rem.ID.String(), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.RemittanceStateGenerated, result.Remittance.State)
	require.NotNil(t, result.Remittance.FileReference)
	assert.Equal(t, "REM-2025-04.xml", *result.Remittance.FileReference)
	require.NotNil(t, result.Remittance.MessageID)

	doc := result.Document
	assert.Contains(t, doc, "<CtrlSum>125.50</CtrlSum>")
	assert.Contains(t, doc, "<NbOfTxs>2</NbOfTxs>")
	assert.Contains(t, doc, "<ReqdColltnDt>2025-01-10</ReqdColltnDt>")
	// The sealed IBANs come out in clear inside the transaction blocks.
	assert.Contains(t, doc, "ES7921000813610123456789")
	assert.Contains(t, doc, "ES6000491500051234567892")
	assert.Contains(t, doc, "<Ustrd>Cuota 2025</Ustrd>")

	t.Run("message id is stable across re-generations", func(t *testing.T) {
		again, err := f.svc.Generate(ctx, rem.ID.String(), nil)
		require.NoError(t, err)
		assert.Equal(t, *result.Remittance.MessageID, *again.Remittance.MessageID)
		assert.Equal(t, result.Document, again.Document)
	})

	t.Run("empty remittance cannot be generated", func(t *testing.T) {
		empty := f.newRemittance(t, "REM-2025-05")
		_, err := f.svc.Generate(ctx, empty.ID.String(), nil)
		assert.Error(t, err)
	})
}

func TestMarkSent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rem := f.newRemittance(t, "REM-2025-06")
	due := f.newDue(t, "50.00", "ES7921000813610123456789", "Garcia Lopez Maria")
	_, err := f.svc.AddOrderForDue(ctx, rem.ID.String(), due.ID.String())
	require.NoError(t, err)

	t.Run("requires a generated artifact", func(t *testing.T) {
		_, err := f.svc.MarkSent(ctx, rem.ID.String(), f.clock.Now(), nil)
		assert.ErrorIs(t, err, domain.ErrNotSendable)
	})

	_, err = f.svc.Generate(ctx, rem.ID.String(), nil)
	require.NoError(t, err)

	sent, err := f.svc.MarkSent(ctx, rem.ID.String(), time.Date(2025, 1, 7, 15, 30, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RemittanceStateSent, sent.State)
	require.NotNil(t, sent.SentOn)
	assert.Equal(t, time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC), *sent.SentOn)

	t.Run("cannot be sent twice", func(t *testing.T) {
		_, err := f.svc.MarkSent(ctx, rem.ID.String(), f.clock.Now(), nil)
		assert.ErrorIs(t, err, domain.ErrNotSendable)
	})
}

func sendRemittance(t *testing.T, f *fixture, reference string, amounts ...string) (domain.Remittance, []domain.CollectionOrder) {
	t.Helper()
	ctx := context.Background()

	rem := f.newRemittance(t, reference)
	ibans := []string{
		"ES7921000813610123456789",
		"ES6000491500051234567892",
		"ES1000492352082414205416",
	}
	for i, amount := range amounts {
		due := f.newDue(t, amount, ibans[i%len(ibans)], "Member "+reference)
		_, err := f.svc.AddOrderForDue(ctx, rem.ID.String(), due.ID.String())
		require.NoError(t, err)
	}

	_, err := f.svc.Generate(ctx, rem.ID.String(), nil)
	require.NoError(t, err)
	sent, err := f.svc.MarkSent(ctx, rem.ID.String(), f.clock.Now(), nil)
	require.NoError(t, err)

	orders, err := f.svc.ListOrders(ctx, rem.ID.String())
	require.NoError(t, err)
	return sent, orders
}

func TestSettlement(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	processedOn := time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC)

	t.Run("all orders processed settles the batch as processed", func(t *testing.T) {
		rem, orders := sendRemittance(t, f, "REM-2025-10", "50.00", "75.50")
		for _, order := range orders {
			_, err := f.svc.MarkOrderProcessed(ctx, order.ID.String(), processedOn, nil)
			require.NoError(t, err)
		}

		settled, err := f.svc.ApplySettlement(ctx, rem.ID.String(), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.RemittanceStateProcessed, settled.State)
	})

	t.Run("mixed outcomes settle as partial", func(t *testing.T) {
		rem, orders := sendRemittance(t, f, "REM-2025-11", "50.00", "75.50", "30.00")
		require.Len(t, orders, 3)

		_, err := f.svc.MarkOrderProcessed(ctx, orders[0].ID.String(), processedOn, nil)
		require.NoError(t, err)
		failed, err := f.svc.MarkOrderFailed(ctx, domain.MarkOrderFailedRequest{
			OrderID:         orders[1].ID.String(),
			RejectionCode:   "AM04",
			RejectionReason: "insufficient funds",
			ProcessedOn:     processedOn,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStateFailed, failed.State)
		require.NotNil(t, failed.RejectionCode)
		assert.Equal(t, "AM04", *failed.RejectionCode)
		_, err = f.svc.MarkOrderProcessed(ctx, orders[2].ID.String(), processedOn, nil)
		require.NoError(t, err)

		settled, err := f.svc.ApplySettlement(ctx, rem.ID.String(), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.RemittanceStatePartial, settled.State)
	})

	t.Run("no order processed settles as rejected", func(t *testing.T) {
		rem, orders := sendRemittance(t, f, "REM-2025-12", "50.00")
		_, err := f.svc.MarkOrderFailed(ctx, domain.MarkOrderFailedRequest{
			OrderID:         orders[0].ID.String(),
			RejectionCode:   "MD01",
			RejectionReason: "no mandate",
			ProcessedOn:     processedOn,
		})
		require.NoError(t, err)

		settled, err := f.svc.ApplySettlement(ctx, rem.ID.String(), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.RemittanceStateRejected, settled.State)
	})

	t.Run("settlement requires a sent batch", func(t *testing.T) {
		rem := f.newRemittance(t, "REM-2025-14")
		_, err := f.svc.ApplySettlement(ctx, rem.ID.String(), nil)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("duplicate settlement notification is a no-op", func(t *testing.T) {
		_, orders := sendRemittance(t, f, "REM-2025-13", "50.00")
		first, err := f.svc.MarkOrderProcessed(ctx, orders[0].ID.String(), processedOn, nil)
		require.NoError(t, err)

		second, err := f.svc.MarkOrderProcessed(ctx, orders[0].ID.String(), processedOn.AddDate(0, 0, 3), nil)
		require.NoError(t, err)
		assert.Equal(t, first.State, second.State)
		require.NotNil(t, second.ProcessedAt)
		assert.Equal(t, first.ProcessedAt.Format("2006-01-02"), second.ProcessedAt.Format("2006-01-02"))
	})
}

func TestVoidOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rem := f.newRemittance(t, "REM-2025-20")
	dueA := f.newDue(t, "50.00", "ES7921000813610123456789", "Garcia Lopez Maria")
	dueB := f.newDue(t, "75.50", "ES6000491500051234567892", "Fernandez Ruiz Juan")

	orderA, err := f.svc.AddOrderForDue(ctx, rem.ID.String(), dueA.ID.String())
	require.NoError(t, err)
	_, err = f.svc.AddOrderForDue(ctx, rem.ID.String(), dueB.ID.String())
	require.NoError(t, err)

	voided, err := f.svc.VoidOrder(ctx, orderA.ID.String(), "member left the association", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateVoided, voided.State)

	updated, err := f.svc.GetRemittance(ctx, rem.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, updated.OrderCount)
	assert.True(t, updated.TotalAmount.Equal(decimal.RequireFromString("75.50")),
		"got total %s", updated.TotalAmount)

	t.Run("voided order is excluded from the generated document", func(t *testing.T) {
		result, err := f.svc.Generate(ctx, rem.ID.String(), nil)
		require.NoError(t, err)
		assert.Contains(t, result.Document, "<NbOfTxs>1</NbOfTxs>")
		assert.Contains(t, result.Document, "<CtrlSum>75.50</CtrlSum>")
		assert.Equal(t, 1, strings.Count(result.Document, "<DrctDbtTxInf>"))
	})
}
