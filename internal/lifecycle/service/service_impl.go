package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/socioscloud/remesa/internal/clock"
	"github.com/socioscloud/remesa/internal/lifecycle/domain"
	"github.com/socioscloud/remesa/pkg/db/option"
	"github.com/socioscloud/remesa/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	genID *snowflake.Node

	staterepo  repository.Repository[domain.State]
	recordrepo repository.Repository[domain.TransitionRecord]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("lifecycle.service"),
		clock: p.Clock,
		genID: p.GenID,

		staterepo:  repository.ProvideStore[domain.State](p.DB),
		recordrepo: repository.ProvideStore[domain.TransitionRecord](p.DB),
	}
}

func (s *Service) WithTx(tx *gorm.DB) domain.Service {
	return &Service{
		db:    tx,
		log:   s.log,
		clock: s.clock,
		genID: s.genID,

		staterepo:  s.staterepo.WithTrx(tx),
		recordrepo: s.recordrepo.WithTrx(tx),
	}
}

func (s *Service) Transition(ctx context.Context, entity domain.Entity, req domain.TransitionRequest) (domain.TransitionRecord, error) {
	currentCode := entity.StateCode()
	if err := s.validate(ctx, entity, req.NewStateCode); err != nil {
		return domain.TransitionRecord{}, err
	}

	// Conditional update: a concurrent writer that already moved the entity
	// away from currentCode leaves zero rows affected, and the transition is
	// rejected instead of silently overwritten.
	result := s.db.WithContext(ctx).
		Model(entity).
		Where("id = ? AND state_code = ?", entity.LifecycleEntityID(), currentCode).
		Update("state_code", req.NewStateCode)
	if result.Error != nil {
		entity.SetStateCode(currentCode)
		return domain.TransitionRecord{}, result.Error
	}
	if result.RowsAffected == 0 {
		// gorm assigns the target value into the model struct even when the
		// guard matched nothing; hand the caller back its unchanged snapshot.
		entity.SetStateCode(currentCode)
		return domain.TransitionRecord{}, fmt.Errorf("%s %s moved concurrently from %s: %w",
			entity.LifecycleEntityType(), entity.LifecycleEntityID(), currentCode, domain.ErrInvalidTransition)
	}

	var previous *string
	if currentCode != "" {
		code := currentCode
		previous = &code
	}
	record := domain.TransitionRecord{
		ID:                s.genID.Generate(),
		EntityType:        entity.LifecycleEntityType(),
		EntityID:          entity.LifecycleEntityID(),
		PreviousStateCode: previous,
		NewStateCode:      req.NewStateCode,
		Reason:            req.Reason,
		ActorID:           req.ActorID,
		ChangedAt:         s.clock.Now(),
	}
	if err := s.recordrepo.Create(ctx, &record); err != nil {
		return domain.TransitionRecord{}, err
	}

	entity.SetStateCode(req.NewStateCode)
	s.log.Info("state transition",
		zap.String("entity_type", record.EntityType),
		zap.String("entity_id", record.EntityID.String()),
		zap.String("from", currentCode),
		zap.String("to", record.NewStateCode),
	)
	return record, nil
}

func (s *Service) IsValidTransition(ctx context.Context, entity domain.Entity, newStateCode string) (bool, error) {
	err := s.validate(ctx, entity, newStateCode)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrUnknownState) {
		return false, nil
	}
	return false, err
}

func (s *Service) AvailableStates(ctx context.Context, entityType string, initialOnly bool) ([]domain.State, error) {
	filter := &domain.State{EntityType: entityType, Active: true}
	if initialOnly {
		filter.IsInitial = true
	}

	states, err := s.staterepo.Find(ctx, filter,
		option.WithSortBy(option.QuerySortBy{Field: "display_order", Allow: map[string]bool{"display_order": true}}),
	)
	if err != nil {
		return nil, err
	}

	out := make([]domain.State, 0, len(states))
	for _, state := range states {
		if state == nil {
			continue
		}
		out = append(out, *state)
	}
	return out, nil
}

func (s *Service) History(ctx context.Context, entityType string, entityID snowflake.ID) ([]domain.TransitionRecord, error) {
	// Snowflake ids are time-ordered, which keeps the trail stable even when
	// two transitions share a timestamp.
	records, err := s.recordrepo.Find(ctx, &domain.TransitionRecord{EntityType: entityType, EntityID: entityID},
		option.WithSortBy(option.QuerySortBy{Field: "id", Allow: map[string]bool{"id": true}}),
	)
	if err != nil {
		return nil, err
	}

	out := make([]domain.TransitionRecord, 0, len(records))
	for _, record := range records {
		if record == nil {
			continue
		}
		out = append(out, *record)
	}
	return out, nil
}

// validate applies the shared transition rule: the target must exist in the
// catalog, the source must not be terminal, and the target must differ from
// the source.
func (s *Service) validate(ctx context.Context, entity domain.Entity, newStateCode string) error {
	entityType := entity.LifecycleEntityType()
	entityID := entity.LifecycleEntityID()

	target, err := s.staterepo.FindOne(ctx, &domain.State{EntityType: entityType, Code: newStateCode, Active: true})
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("state %q for %s: %w", newStateCode, entityType, domain.ErrUnknownState)
	}

	currentCode := entity.StateCode()
	if currentCode == "" {
		// Fresh entity: only designated initial states may be entered.
		if !target.IsInitial {
			return fmt.Errorf("%s %s has no state and %q is not initial: %w",
				entityType, entityID, newStateCode, domain.ErrInvalidTransition)
		}
		return nil
	}

	if currentCode == newStateCode {
		return fmt.Errorf("%s %s already in state %s: %w",
			entityType, entityID, currentCode, domain.ErrInvalidTransition)
	}

	current, err := s.staterepo.FindOne(ctx, &domain.State{EntityType: entityType, Code: currentCode})
	if err != nil {
		return err
	}
	if current != nil && current.IsTerminal {
		return fmt.Errorf("%s %s is in terminal state %s: %w",
			entityType, entityID, currentCode, domain.ErrInvalidTransition)
	}

	return nil
}
