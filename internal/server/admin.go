package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	abusedomain "github.com/smallbiznis/karma/internal/abuse/domain"
	oracledomain "github.com/smallbiznis/karma/internal/oracle/domain"
)

type registerPrincipalRequest struct {
	Principal string `json:"principal"`
}

func (s *Server) RegisterPrincipal(c *gin.Context) {
	var req registerPrincipalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	registration, err := s.karmaSvc.RegisterPrincipal(c.Request.Context(), strings.TrimSpace(req.Principal), s.now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": registration})
}

func (s *Server) DeactivatePrincipal(c *gin.Context) {
	agent, err := s.identitySvc.Deactivate(c.Request.Context(), c.Param("id"), s.now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": agent})
}

type oracleDataRequest struct {
	Entries []oracledomain.Entry `json:"entries"`
}

func (s *Server) SubmitOracleData(c *gin.Context) {
	var req oracleDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.karmaSvc.ProcessOracleData(c.Request.Context(), c.Param("id"), req.Entries, s.now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) RunAbuseDetection(c *gin.Context) {
	violations, err := s.abuseSvc.RunDetection(c.Request.Context(), c.Param("id"), s.now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": violations})
}

func (s *Server) ApplyPenalty(c *gin.Context) {
	var req abusedomain.ApplyPenaltyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	violation, err := s.abuseSvc.ApplyPenalty(c.Request.Context(), req, s.now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": violation})
}
