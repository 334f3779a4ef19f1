package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/socioscloud/remesa/internal/audit/domain"
	"github.com/socioscloud/remesa/internal/clock"
	"github.com/socioscloud/remesa/internal/config"
	duedomain "github.com/socioscloud/remesa/internal/due/domain"
	lifecycledomain "github.com/socioscloud/remesa/internal/lifecycle/domain"
	"github.com/socioscloud/remesa/internal/remittance/domain"
	"github.com/socioscloud/remesa/internal/sepa"
	"github.com/socioscloud/remesa/internal/vault"
	"github.com/socioscloud/remesa/pkg/db"
	"github.com/socioscloud/remesa/pkg/db/option"
	"github.com/socioscloud/remesa/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	GenID     *snowflake.Node
	Cfg       config.Config
	Lifecycle lifecycledomain.Service
	Vault     *vault.Vault
	AuditSvc  auditdomain.Service `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	genID     *snowflake.Node
	cfg       config.Config
	lifecycle lifecycledomain.Service
	vault     *vault.Vault
	auditSvc  auditdomain.Service

	remrepo   repository.Repository[domain.Remittance]
	orderrepo repository.Repository[domain.CollectionOrder]
	duerepo   repository.Repository[duedomain.Due]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("remittance.service"),
		clock:     p.Clock,
		genID:     p.GenID,
		cfg:       p.Cfg,
		lifecycle: p.Lifecycle,
		vault:     p.Vault,
		auditSvc:  p.AuditSvc,

		remrepo:   repository.ProvideStore[domain.Remittance](p.DB),
		orderrepo: repository.ProvideStore[domain.CollectionOrder](p.DB),
		duerepo:   repository.ProvideStore[duedomain.Due](p.DB),
	}
}

func (s *Service) CreateRemittance(ctx context.Context, req domain.CreateRemittanceRequest) (domain.Remittance, error) {
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return domain.Remittance{}, errors.New("reference is required")
	}

	today := dateOnly(s.clock.Now())
	minimum := sepa.NextBusinessDay(today, s.cfg.CollectionLeadDays)

	collectionDate := dateOnly(req.CollectionDate)
	if req.CollectionDate.IsZero() {
		collectionDate = minimum
	} else if collectionDate.Before(minimum) {
		return domain.Remittance{}, fmt.Errorf("collection date %s is before minimum %s: %w",
			collectionDate.Format("2006-01-02"), minimum.Format("2006-01-02"), domain.ErrInvalidState)
	}

	remittance := domain.Remittance{
		ID:             s.genID.Generate(),
		Reference:      reference,
		CreatedOn:      today,
		CollectionDate: collectionDate,
		TotalAmount:    decimal.Zero,
		Fees:           req.Fees,
		State:          domain.RemittanceStateDraft,
		Notes:          req.Notes,
	}
	if remittance.Fees.IsNegative() {
		return domain.Remittance{}, fmt.Errorf("negative fees: %w", domain.ErrInvalidAmount)
	}

	if err := s.remrepo.Create(ctx, &remittance); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Remittance{}, fmt.Errorf("reference %q: %w", reference, domain.ErrDuplicateReference)
		}
		return domain.Remittance{}, err
	}

	s.emitAudit(ctx, "remittance.created", &remittance, nil)
	return remittance, nil
}

func (s *Service) GetRemittance(ctx context.Context, id string) (domain.Remittance, error) {
	remittanceID, err := parseID(id)
	if err != nil {
		return domain.Remittance{}, fmt.Errorf("%q: %w", id, domain.ErrRemittanceNotFound)
	}

	remittance, err := s.remrepo.FindOne(ctx, &domain.Remittance{ID: remittanceID})
	if err != nil {
		return domain.Remittance{}, err
	}
	if remittance == nil {
		return domain.Remittance{}, fmt.Errorf("%s: %w", id, domain.ErrRemittanceNotFound)
	}
	return *remittance, nil
}

func (s *Service) ListOrders(ctx context.Context, remittanceID string) ([]domain.CollectionOrder, error) {
	id, err := parseID(remittanceID)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", remittanceID, domain.ErrRemittanceNotFound)
	}

	items, err := s.orderrepo.Find(ctx, &domain.CollectionOrder{RemittanceID: id},
		option.WithSortBy(option.QuerySortBy{Field: "id", Allow: map[string]bool{"id": true}}),
	)
	if err != nil {
		return nil, err
	}

	orders := make([]domain.CollectionOrder, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		orders = append(orders, *item)
	}
	return orders, nil
}

func (s *Service) AddOrderForDue(ctx context.Context, remittanceID, dueID string) (domain.CollectionOrder, error) {
	remID, err := parseID(remittanceID)
	if err != nil {
		return domain.CollectionOrder{}, fmt.Errorf("%q: %w", remittanceID, domain.ErrRemittanceNotFound)
	}
	dID, err := parseID(dueID)
	if err != nil {
		return domain.CollectionOrder{}, fmt.Errorf("%q: %w", dueID, domain.ErrDueNotFound)
	}

	var created domain.CollectionOrder
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		remittance, err := s.loadRemittance(ctx, tx, remID)
		if err != nil {
			return err
		}
		if remittance.State != domain.RemittanceStateDraft {
			return fmt.Errorf("remittance %s in state %s: %w", remittance.ID, remittance.State, domain.ErrInvalidState)
		}

		due, err := s.duerepo.WithTrx(tx).FindOne(ctx, &duedomain.Due{ID: dID})
		if err != nil {
			return err
		}
		if due == nil {
			return fmt.Errorf("%s: %w", dueID, domain.ErrDueNotFound)
		}
		if due.State != duedomain.DueStatePending {
			return fmt.Errorf("due %s in state %s: %w", due.ID, due.State, domain.ErrDueNotPending)
		}
		if !due.Amount.IsPositive() {
			return fmt.Errorf("due %s amount %s: %w", due.ID, due.Amount, domain.ErrInvalidAmount)
		}

		order := domain.CollectionOrder{
			ID:                s.genID.Generate(),
			RemittanceID:      remittance.ID,
			DueID:             due.ID,
			Amount:            due.Amount,
			AccountIdentifier: due.DebtorAccountIdentifier,
			State:             domain.OrderStatePending,
		}
		if due.MandateID != "" {
			mandate := due.MandateID
			order.MandateReference = &mandate
		}

		if err := s.orderrepo.WithTrx(tx).Create(ctx, &order); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return fmt.Errorf("due %s: %w", due.ID, domain.ErrDueAlreadyOrdered)
			}
			return err
		}

		if err := s.recomputeTotalsTx(ctx, tx, remittance); err != nil {
			return err
		}

		created = order
		return nil
	})
	if err != nil {
		return domain.CollectionOrder{}, err
	}

	s.log.Info("order attached",
		zap.String("remittance_id", remittanceID),
		zap.String("order_id", created.ID.String()),
	)
	return created, nil
}

func (s *Service) RecomputeTotals(ctx context.Context, remittanceID string) (domain.Remittance, error) {
	remID, err := parseID(remittanceID)
	if err != nil {
		return domain.Remittance{}, fmt.Errorf("%q: %w", remittanceID, domain.ErrRemittanceNotFound)
	}

	var updated domain.Remittance
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		remittance, err := s.loadRemittance(ctx, tx, remID)
		if err != nil {
			return err
		}
		if err := s.recomputeTotalsTx(ctx, tx, remittance); err != nil {
			return err
		}
		updated = *remittance
		return nil
	})
	if err != nil {
		return domain.Remittance{}, err
	}
	return updated, nil
}

func (s *Service) Generate(ctx context.Context, remittanceID string, actorID *string) (domain.GenerateResult, error) {
	remID, err := parseID(remittanceID)
	if err != nil {
		return domain.GenerateResult{}, fmt.Errorf("%q: %w", remittanceID, domain.ErrRemittanceNotFound)
	}

	var result domain.GenerateResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		remittance, err := s.loadRemittance(ctx, tx, remID)
		if err != nil {
			return err
		}
		if remittance.State != domain.RemittanceStateDraft && remittance.State != domain.RemittanceStateGenerated {
			return fmt.Errorf("remittance %s in state %s: %w", remittance.ID, remittance.State, domain.ErrInvalidState)
		}

		// Totals are re-derived from the same snapshot the codec will see.
		if err := s.recomputeTotalsTx(ctx, tx, remittance); err != nil {
			return err
		}

		orders, err := s.collectableOrdersTx(ctx, tx, remittance.ID)
		if err != nil {
			return err
		}

		input, err := s.buildCodecInput(ctx, tx, remittance, orders)
		if err != nil {
			return err
		}

		document, err := sepa.Encode(input, s.vault)
		if err != nil {
			return err
		}

		fileReference := remittance.Reference + ".xml"
		updates := map[string]any{
			"message_id":     input.MessageID,
			"file_reference": fileReference,
		}
		if err := tx.WithContext(ctx).Model(&domain.Remittance{}).
			Where("id = ?", remittance.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		remittance.MessageID = &input.MessageID
		remittance.FileReference = &fileReference

		if remittance.State == domain.RemittanceStateDraft {
			if _, err := s.lifecycle.WithTx(tx).Transition(ctx, remittance, lifecycledomain.TransitionRequest{
				NewStateCode: domain.RemittanceStateGenerated,
				ActorID:      actorID,
			}); err != nil {
				return err
			}
		}

		result = domain.GenerateResult{Remittance: *remittance, Document: document}
		return nil
	})
	if err != nil {
		return domain.GenerateResult{}, err
	}

	s.emitAudit(ctx, "remittance.generated", &result.Remittance, map[string]any{
		"order_count":  result.Remittance.OrderCount,
		"total_amount": result.Remittance.TotalAmount.StringFixed(2),
	})
	return result, nil
}

func (s *Service) MarkSent(ctx context.Context, remittanceID string, sentOn time.Time, actorID *string) (domain.Remittance, error) {
	remID, err := parseID(remittanceID)
	if err != nil {
		return domain.Remittance{}, fmt.Errorf("%q: %w", remittanceID, domain.ErrRemittanceNotFound)
	}

	var updated domain.Remittance
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		remittance, err := s.loadRemittance(ctx, tx, remID)
		if err != nil {
			return err
		}
		if !remittance.CanBeSent() {
			return fmt.Errorf("remittance %s (state %s, %d orders): %w",
				remittance.ID, remittance.State, remittance.OrderCount, domain.ErrNotSendable)
		}

		if _, err := s.lifecycle.WithTx(tx).Transition(ctx, remittance, lifecycledomain.TransitionRequest{
			NewStateCode: domain.RemittanceStateSent,
			ActorID:      actorID,
		}); err != nil {
			return err
		}

		sent := dateOnly(sentOn)
		if err := tx.WithContext(ctx).Model(&domain.Remittance{}).
			Where("id = ?", remittance.ID).
			Update("sent_on", sent).Error; err != nil {
			return err
		}
		remittance.SentOn = &sent

		updated = *remittance
		return nil
	})
	if err != nil {
		return domain.Remittance{}, err
	}

	s.emitAudit(ctx, "remittance.sent", &updated, map[string]any{
		"sent_on": updated.SentOn.Format("2006-01-02"),
	})
	return updated, nil
}

func (s *Service) ApplySettlement(ctx context.Context, remittanceID string, actorID *string) (domain.Remittance, error) {
	remID, err := parseID(remittanceID)
	if err != nil {
		return domain.Remittance{}, fmt.Errorf("%q: %w", remittanceID, domain.ErrRemittanceNotFound)
	}

	var updated domain.Remittance
	var outcome string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		remittance, err := s.loadRemittance(ctx, tx, remID)
		if err != nil {
			return err
		}
		if remittance.State != domain.RemittanceStateSent {
			return fmt.Errorf("remittance %s in state %s: %w", remittance.ID, remittance.State, domain.ErrInvalidState)
		}

		var counts struct {
			Total     int
			Processed int
		}
		err = tx.WithContext(ctx).Raw(
			`SELECT COUNT(*) AS total,
			        COUNT(CASE WHEN state_code = ? THEN 1 END) AS processed
			 FROM collection_orders
			 WHERE remittance_id = ? AND state_code <> ? AND deleted_at IS NULL`,
			domain.OrderStateProcessed,
			remittance.ID,
			domain.OrderStateVoided,
		).Scan(&counts).Error
		if err != nil {
			return err
		}

		switch {
		case counts.Total > 0 && counts.Processed == counts.Total:
			outcome = domain.RemittanceStateProcessed
		case counts.Processed == 0:
			outcome = domain.RemittanceStateRejected
		default:
			outcome = domain.RemittanceStatePartial
		}

		if _, err := s.lifecycle.WithTx(tx).Transition(ctx, remittance, lifecycledomain.TransitionRequest{
			NewStateCode: outcome,
			ActorID:      actorID,
		}); err != nil {
			return err
		}

		updated = *remittance
		return nil
	})
	if err != nil {
		return domain.Remittance{}, err
	}

	s.emitAudit(ctx, "remittance.settled", &updated, map[string]any{
		"outcome": outcome,
	})
	return updated, nil
}

func (s *Service) MarkOrderProcessed(ctx context.Context, orderID string, processedOn time.Time, actorID *string) (domain.CollectionOrder, error) {
	oID, err := parseID(orderID)
	if err != nil {
		return domain.CollectionOrder{}, fmt.Errorf("%q: %w", orderID, domain.ErrOrderNotFound)
	}

	var updated domain.CollectionOrder
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.loadOrder(ctx, tx, oID)
		if err != nil {
			return err
		}

		// Banks may redeliver settlement notifications; a duplicate success
		// is tolerated instead of double-counted.
		if order.State == domain.OrderStateProcessed {
			s.log.Warn("order already processed, ignoring duplicate settlement",
				zap.String("order_id", order.ID.String()))
			updated = *order
			return nil
		}

		if _, err := s.lifecycle.WithTx(tx).Transition(ctx, order, lifecycledomain.TransitionRequest{
			NewStateCode: domain.OrderStateProcessed,
			ActorID:      actorID,
		}); err != nil {
			return err
		}

		processed := dateOnly(processedOn)
		if err := tx.WithContext(ctx).Model(&domain.CollectionOrder{}).
			Where("id = ?", order.ID).
			Update("processed_at", processed).Error; err != nil {
			return err
		}
		order.ProcessedAt = &processed

		updated = *order
		return nil
	})
	if err != nil {
		return domain.CollectionOrder{}, err
	}
	return updated, nil
}

func (s *Service) MarkOrderFailed(ctx context.Context, req domain.MarkOrderFailedRequest) (domain.CollectionOrder, error) {
	oID, err := parseID(req.OrderID)
	if err != nil {
		return domain.CollectionOrder{}, fmt.Errorf("%q: %w", req.OrderID, domain.ErrOrderNotFound)
	}

	var updated domain.CollectionOrder
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.loadOrder(ctx, tx, oID)
		if err != nil {
			return err
		}

		if order.State == domain.OrderStateFailed {
			s.log.Warn("order already failed, ignoring duplicate settlement",
				zap.String("order_id", order.ID.String()))
			updated = *order
			return nil
		}

		reason := req.RejectionReason
		if _, err := s.lifecycle.WithTx(tx).Transition(ctx, order, lifecycledomain.TransitionRequest{
			NewStateCode: domain.OrderStateFailed,
			ActorID:      req.ActorID,
			Reason:       &reason,
		}); err != nil {
			return err
		}

		processed := dateOnly(req.ProcessedOn)
		updates := map[string]any{
			"processed_at":     processed,
			"rejection_code":   req.RejectionCode,
			"rejection_reason": req.RejectionReason,
		}
		if err := tx.WithContext(ctx).Model(&domain.CollectionOrder{}).
			Where("id = ?", order.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		order.ProcessedAt = &processed
		order.RejectionCode = &req.RejectionCode
		order.RejectionReason = &req.RejectionReason

		updated = *order
		return nil
	})
	if err != nil {
		return domain.CollectionOrder{}, err
	}
	return updated, nil
}

func (s *Service) VoidOrder(ctx context.Context, orderID string, reason string, actorID *string) (domain.CollectionOrder, error) {
	oID, err := parseID(orderID)
	if err != nil {
		return domain.CollectionOrder{}, fmt.Errorf("%q: %w", orderID, domain.ErrOrderNotFound)
	}

	var updated domain.CollectionOrder
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.loadOrder(ctx, tx, oID)
		if err != nil {
			return err
		}

		if _, err := s.lifecycle.WithTx(tx).Transition(ctx, order, lifecycledomain.TransitionRequest{
			NewStateCode: domain.OrderStateVoided,
			ActorID:      actorID,
			Reason:       &reason,
		}); err != nil {
			return err
		}

		// Voided orders no longer count towards the batch totals.
		remittance, err := s.loadRemittance(ctx, tx, order.RemittanceID)
		if err != nil {
			return err
		}
		if err := s.recomputeTotalsTx(ctx, tx, remittance); err != nil {
			return err
		}

		updated = *order
		return nil
	})
	if err != nil {
		return domain.CollectionOrder{}, err
	}
	return updated, nil
}

// recomputeTotalsTx is the single sanctioned writer of total_amount and
// order_count. Voided orders are excluded from both.
func (s *Service) recomputeTotalsTx(ctx context.Context, tx *gorm.DB, remittance *domain.Remittance) error {
	var totals struct {
		Total decimal.Decimal
		Count int
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count
		 FROM collection_orders
		 WHERE remittance_id = ? AND state_code <> ? AND deleted_at IS NULL`,
		remittance.ID,
		domain.OrderStateVoided,
	).Scan(&totals).Error
	if err != nil {
		return err
	}

	if err := tx.WithContext(ctx).Model(&domain.Remittance{}).
		Where("id = ?", remittance.ID).
		Updates(map[string]any{
			"total_amount": totals.Total,
			"order_count":  totals.Count,
		}).Error; err != nil {
		return err
	}

	remittance.TotalAmount = totals.Total
	remittance.OrderCount = totals.Count
	return nil
}

// collectableOrdersTx returns the orders that go into the XML: everything the
// totals count, ordered stably for deterministic output.
func (s *Service) collectableOrdersTx(ctx context.Context, tx *gorm.DB, remittanceID snowflake.ID) ([]*domain.CollectionOrder, error) {
	return s.orderrepo.WithTrx(tx).Find(ctx, &domain.CollectionOrder{RemittanceID: remittanceID},
		option.ApplyOperator(option.Condition{Field: "state_code", Operator: option.EQ, Value: domain.OrderStatePending}),
		option.WithSortBy(option.QuerySortBy{Field: "id", Allow: map[string]bool{"id": true}}),
	)
}

func (s *Service) buildCodecInput(ctx context.Context, tx *gorm.DB, remittance *domain.Remittance, orders []*domain.CollectionOrder) (sepa.Input, error) {
	messageID := remittance.MessageID
	if messageID == nil || *messageID == "" {
		// Allocated exactly once; re-generations reuse the stored id.
		id := fmt.Sprintf("REMESA-%s-%s", remittance.ID, s.clock.Now().Format("20060102150405"))
		messageID = &id
	}

	codecOrders := make([]sepa.Order, 0, len(orders))
	for _, order := range orders {
		if order == nil {
			continue
		}

		due, err := s.duerepo.WithTrx(tx).FindOne(ctx, &duedomain.Due{ID: order.DueID})
		if err != nil {
			return sepa.Input{}, err
		}
		if due == nil {
			return sepa.Input{}, fmt.Errorf("order %s references missing due %s: %w",
				order.ID, order.DueID, domain.ErrDueNotFound)
		}

		mandate := ""
		if order.MandateReference != nil {
			mandate = *order.MandateReference
		}
		codecOrders = append(codecOrders, sepa.Order{
			OrderID:              order.ID.String(),
			DueID:                due.ID.String(),
			DueYear:              due.Year,
			Amount:               order.Amount,
			MandateReference:     mandate,
			AccountIdentifier:    order.AccountIdentifier,
			DebtorName:           due.DebtorName,
			MandateSignatureDate: due.MandateSignatureDate,
		})
	}

	return sepa.Input{
		MessageID:      *messageID,
		PaymentInfoID:  fmt.Sprintf("PMT-%s", remittance.ID),
		CreatedAt:      s.clock.Now(),
		CollectionDate: remittance.CollectionDate,
		TotalAmount:    remittance.TotalAmount,
		Creditor: sepa.Creditor{
			Name:     s.cfg.Creditor.Name,
			IBAN:     s.cfg.Creditor.IBAN,
			BIC:      s.cfg.Creditor.BIC,
			SchemeID: s.cfg.Creditor.SchemeID,
		},
		Orders: codecOrders,
	}, nil
}

func (s *Service) loadRemittance(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Remittance, error) {
	remittance, err := s.remrepo.WithTrx(tx).FindOne(ctx, &domain.Remittance{ID: id})
	if err != nil {
		return nil, err
	}
	if remittance == nil {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrRemittanceNotFound)
	}
	return remittance, nil
}

func (s *Service) loadOrder(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.CollectionOrder, error) {
	order, err := s.orderrepo.WithTrx(tx).FindOne(ctx, &domain.CollectionOrder{ID: id})
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrOrderNotFound)
	}
	return order, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, remittance *domain.Remittance, extra map[string]any) {
	if s.auditSvc == nil || remittance == nil {
		return
	}
	metadata := map[string]any{
		"reference":   remittance.Reference,
		"state":       remittance.State,
		"order_count": remittance.OrderCount,
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := remittance.ID.String()
	_ = s.auditSvc.AuditLog(ctx, "system", nil, action, "remittance", &targetID, metadata)
}

func parseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
