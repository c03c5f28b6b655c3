package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/karma/internal/apperror"
	"github.com/smallbiznis/karma/pkg/db/pagination"
	"gorm.io/gorm"
)

type Role string

const (
	RoleReceived Role = "received"
	RoleGiven    Role = "given"
)

// Filter selects a page of ratings. Exactly one of Rated or Rater is set.
type Filter struct {
	Rated    string
	Rater    string
	BeforeID snowflake.ID
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rating *Rating) error
	Exists(ctx context.Context, db *gorm.DB, interactionRef, rater string) (bool, error)
	NextSequence(ctx context.Context, db *gorm.DB) (int64, error)
	// ListReceived returns every rating of rated in sequence order.
	ListReceived(ctx context.Context, db *gorm.DB, rated string) ([]Rating, error)
	ListGivenSince(ctx context.Context, db *gorm.DB, rater string, since int64) ([]Rating, error)
	ListReceivedSince(ctx context.Context, db *gorm.DB, rated string, since int64) ([]Rating, error)
	List(ctx context.Context, db *gorm.DB, filter Filter) ([]Rating, error)
	ActiveRatersSince(ctx context.Context, db *gorm.DB, since int64, limit int) ([]string, error)
}

type ListRequest struct {
	pagination.Pagination
	Principal string
	Role      Role
}

type ListResponse struct {
	pagination.PageInfo
	Ratings []Rating `json:"ratings"`
}

type Service interface {
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrDuplicateRating  = apperror.StateConflict("duplicate_rating")
	ErrInvalidRole      = apperror.Validation("invalid_role")
	ErrInvalidPrincipal = apperror.Validation("invalid_principal")
	ErrInvalidPageToken = apperror.Validation("invalid_page_token")
)
