package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/karma/internal/rating/domain"
	"github.com/smallbiznis/karma/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("rating.service"),
		repo: p.Repo,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	principal := strings.TrimSpace(req.Principal)
	if principal == "" {
		return domain.ListResponse{}, domain.ErrInvalidPrincipal
	}

	filter := domain.Filter{Limit: pagination.Limit(req.PageSize)}
	switch req.Role {
	case "", domain.RoleReceived:
		filter.Rated = principal
	case domain.RoleGiven:
		filter.Rater = principal
	default:
		return domain.ListResponse{}, domain.ErrInvalidRole
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListResponse{}, domain.ErrInvalidPageToken
	}
	if cursor != nil {
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		filter.BeforeID = id
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo, err := pagination.Trim(items, filter.Limit, func(r domain.Rating) pagination.Cursor {
		return pagination.Cursor{ID: r.ID.String()}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	return domain.ListResponse{PageInfo: pageInfo, Ratings: items}, nil
}
