package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	abusedomain "github.com/smallbiznis/karma/internal/abuse/domain"
	ledgerdomain "github.com/smallbiznis/karma/internal/ledger/domain"
	"github.com/smallbiznis/karma/internal/ratelimit"
	scoredomain "github.com/smallbiznis/karma/internal/score/domain"
	"github.com/smallbiznis/karma/pkg/db/pagination"
)

func (s *Server) GetPrincipal(c *gin.Context) {
	agent, err := s.identitySvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": agent})
}

func (s *Server) GetScore(c *gin.Context) {
	record, err := s.karmaSvc.GetScore(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) GetScoreHistory(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.karmaSvc.GetScoreHistory(c.Request.Context(), scoredomain.HistoryRequest{
		Pagination: query,
		Principal:  c.Param("id"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.History, "page_info": resp.PageInfo})
}

func (s *Server) GetBalance(c *gin.Context) {
	balance, err := s.karmaSvc.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balance})
}

func (s *Server) ListLedgerEntries(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.ListEntries(c.Request.Context(), ledgerdomain.ListEntriesRequest{
		Pagination: query,
		Principal:  c.Param("id"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

func (s *Server) GetVotingPower(c *gin.Context) {
	principal := c.Param("id")
	power, err := s.karmaSvc.GetVotingPower(c.Request.Context(), principal)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"principal": principal, "voting_power": power}})
}

func (s *Server) ListViolations(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.abuseSvc.List(c.Request.Context(), abusedomain.ListRequest{
		Pagination: query,
		Principal:  c.Param("id"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Violations, "page_info": resp.PageInfo})
}

func (s *Server) GetViolation(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	violation, err := s.abuseSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": violation})
}

func (s *Server) GetRateLimitStatus(c *gin.Context) {
	action := strings.ToLower(strings.TrimSpace(c.Query("action")))
	if action == "" {
		action = string(ratelimit.ActionRating)
	}

	decision, err := s.karmaSvc.GetRateLimitStatus(c.Request.Context(), c.Param("id"), action, s.now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func (s *Server) RecalculateScore(c *gin.Context) {
	record, err := s.karmaSvc.RecalculateScore(c.Request.Context(), c.Param("id"), s.now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) GetLeaderboard(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"), pagination.DefaultPageSize)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit"))
		return
	}

	entries, err := s.karmaSvc.GetLeaderboard(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}
