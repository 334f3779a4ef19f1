package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/socioscloud/remesa/internal/audit/domain"
	"github.com/socioscloud/remesa/internal/clock"
	"github.com/socioscloud/remesa/pkg/db/option"
	"github.com/socioscloud/remesa/pkg/db/pagination"
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
	log   *zap.Logger
	clock clock.Clock
	genID *snowflake.Node

	repo repository.Repository[domain.AuditLog]
}

func NewService(p Params) domain.Service {
	return &Service{
		log:   p.Log.Named("audit.service"),
		clock: p.Clock,
		genID: p.GenID,

		repo: repository.ProvideStore[domain.AuditLog](p.DB),
	}
}

func (s *Service) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return domain.ErrInvalidAction
	}

	entry := domain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.Create(ctx, &entry); err != nil {
		s.log.Error("audit log write failed", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req domain.ListAuditLogRequest) (domain.ListAuditLogResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		return domain.ListAuditLogResponse{}, domain.ErrInvalidTimeRange
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	filter := &domain.AuditLog{
		Action:     req.Action,
		TargetType: req.TargetType,
	}
	if req.TargetID != "" {
		filter.TargetID = &req.TargetID
	}

	options := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Field: "id", Allow: map[string]bool{"id": true}}),
		option.WithLimit(pageSize + 1),
	}
	if req.StartAt != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.GTE,
			Value:    *req.StartAt,
		}))
	}
	if req.EndAt != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.LTE,
			Value:    *req.EndAt,
		}))
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListAuditLogResponse{}, fmt.Errorf("%s: %w", req.PageToken, domain.ErrInvalidPageToken)
		}
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "id",
			Operator: option.GT,
			Value:    cursor.ID,
		}))
	}

	items, err := s.repo.Find(ctx, filter, options...)
	if err != nil {
		return domain.ListAuditLogResponse{}, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, pageSize, func(entry *domain.AuditLog) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: entry.ID.String()})
		return token
	})

	logs := make([]domain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}

	return domain.ListAuditLogResponse{PageInfo: *pageInfo, AuditLogs: logs}, nil
}
