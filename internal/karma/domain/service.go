// Package domain declares the karma operations exposed to transports and jobs.
package domain

import (
	"context"

	"github.com/smallbiznis/karma/internal/apperror"
	identitydomain "github.com/smallbiznis/karma/internal/identity/domain"
	interactiondomain "github.com/smallbiznis/karma/internal/interaction/domain"
	ledgerdomain "github.com/smallbiznis/karma/internal/ledger/domain"
	oracledomain "github.com/smallbiznis/karma/internal/oracle/domain"
	"github.com/smallbiznis/karma/internal/ratelimit"
	ratingdomain "github.com/smallbiznis/karma/internal/rating/domain"
	scoredomain "github.com/smallbiznis/karma/internal/score/domain"
)

type SubmitRatingRequest struct {
	Rater          string  `json:"rater"`
	Rated          string  `json:"rated"`
	Score          int     `json:"score"`
	Feedback       *string `json:"feedback,omitempty"`
	InteractionRef string  `json:"interaction_ref"`
}

type Registration struct {
	Agent identitydomain.Agent    `json:"agent"`
	Score scoredomain.ScoreRecord `json:"score"`
}

type Service interface {
	RegisterPrincipal(ctx context.Context, principal string, now int64) (Registration, error)
	SubmitRating(ctx context.Context, req SubmitRatingRequest, now int64) (ratingdomain.Rating, error)
	RecalculateScore(ctx context.Context, principal string, now int64) (scoredomain.ScoreRecord, error)
	// ProcessOracleData stores verified summaries and recalculates. A single
	// unverified entry rejects the whole submission.
	ProcessOracleData(ctx context.Context, principal string, entries []oracledomain.Entry, now int64) (scoredomain.ScoreRecord, error)

	GetScore(ctx context.Context, principal string) (scoredomain.ScoreRecord, error)
	GetScoreHistory(ctx context.Context, req scoredomain.HistoryRequest) (scoredomain.HistoryResponse, error)
	GetRatings(ctx context.Context, req ratingdomain.ListRequest) (ratingdomain.ListResponse, error)
	GetLeaderboard(ctx context.Context, limit int) ([]scoredomain.LeaderboardEntry, error)
	GetVotingPower(ctx context.Context, principal string) (int64, error)
	GetRateLimitStatus(ctx context.Context, principal string, action string, now int64) (ratelimit.Decision, error)
	GetBalance(ctx context.Context, principal string) (ledgerdomain.Balance, error)
}

const (
	MinScore          = 1
	MaxScore          = 10
	MaxFeedbackLength = 512
)

var (
	ErrInvalidScore        = apperror.Validation("invalid_score")
	ErrInvalidPrincipal    = apperror.Validation("invalid_principal")
	ErrInvalidRef          = interactiondomain.ErrInvalidRef
	ErrFeedbackTooLong     = apperror.Validation("feedback_too_long")
	ErrRatingWindowExpired = apperror.Validation("rating_window_expired")
	ErrSelfRating          = apperror.Authorization("self_rating")
	ErrPrincipalNotFound   = apperror.NotFound("agent_not_found")
	ErrInteractionNotFound = interactiondomain.ErrInteractionNotFound
	ErrInsufficientKarma   = apperror.Resource("insufficient_karma")
	ErrEmptyOracleData     = apperror.Validation("empty_oracle_data")
)
