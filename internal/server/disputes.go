package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	disputedomain "github.com/smallbiznis/karma/internal/dispute/domain"
	"github.com/smallbiznis/karma/pkg/db/pagination"
)

type createDisputeRequest struct {
	ViolationID string `json:"violation_id"`
	Stake       int64  `json:"stake"`
	Evidence    string `json:"evidence"`
}

// CreateDispute opens a dispute staked by the calling principal.
func (s *Server) CreateDispute(c *gin.Context) {
	var req createDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	challenger, _ := principalFromContext(c)
	dispute, err := s.disputeSvc.Create(c.Request.Context(), disputedomain.CreateRequest{
		Challenger:  challenger,
		ViolationID: strings.TrimSpace(req.ViolationID),
		Stake:       req.Stake,
		Evidence:    req.Evidence,
	}, s.now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": dispute})
}

type listDisputesQuery struct {
	pagination.Pagination
	Status     string `form:"status"`
	Challenger string `form:"challenger"`
}

func (s *Server) ListDisputes(c *gin.Context) {
	var query listDisputesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.disputeSvc.List(c.Request.Context(), disputedomain.ListRequest{
		Pagination: query.Pagination,
		Status:     strings.TrimSpace(query.Status),
		Challenger: strings.TrimSpace(query.Challenger),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Disputes, "page_info": resp.PageInfo})
}

func (s *Server) GetDispute(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	dispute, err := s.disputeSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": dispute})
}

type resolveDisputeRequest struct {
	Resolution string `json:"resolution"`
}

func (s *Server) ResolveDispute(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resolver, _ := principalFromContext(c)
	dispute, err := s.disputeSvc.Resolve(c.Request.Context(), id, req.Resolution, resolver, s.now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": dispute})
}

func (s *Server) RejectDispute(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resolver, _ := principalFromContext(c)
	dispute, err := s.disputeSvc.Reject(c.Request.Context(), id, resolver, s.now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": dispute})
}
