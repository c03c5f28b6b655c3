package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	karmadomain "github.com/smallbiznis/karma/internal/karma/domain"
	ratingdomain "github.com/smallbiznis/karma/internal/rating/domain"
	"github.com/smallbiznis/karma/pkg/db/pagination"
)

type submitRatingRequest struct {
	Rated          string  `json:"rated"`
	Score          int     `json:"score"`
	Feedback       *string `json:"feedback"`
	InteractionRef string  `json:"interaction_ref"`
}

// SubmitRating records a rating from the calling principal.
func (s *Server) SubmitRating(c *gin.Context) {
	var req submitRatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rater, _ := principalFromContext(c)
	rating, err := s.karmaSvc.SubmitRating(c.Request.Context(), karmadomain.SubmitRatingRequest{
		Rater:          rater,
		Rated:          strings.TrimSpace(req.Rated),
		Score:          req.Score,
		Feedback:       req.Feedback,
		InteractionRef: strings.TrimSpace(req.InteractionRef),
	}, s.now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": rating})
}

type listRatingsQuery struct {
	pagination.Pagination
	Role string `form:"role"`
}

func (s *Server) ListRatings(c *gin.Context) {
	var query listRatingsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	role := ratingdomain.Role(strings.ToLower(strings.TrimSpace(query.Role)))
	if role == "" {
		role = ratingdomain.RoleReceived
	}

	resp, err := s.karmaSvc.GetRatings(c.Request.Context(), ratingdomain.ListRequest{
		Pagination: query.Pagination,
		Principal:  c.Param("id"),
		Role:       role,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Ratings, "page_info": resp.PageInfo})
}
