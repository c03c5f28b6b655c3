package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	interactiondomain "github.com/smallbiznis/karma/internal/interaction/domain"
)

type recordInteractionRequest struct {
	Ref          string `json:"ref"`
	Counterparty string `json:"counterparty"`
}

// RecordInteraction logs an interaction initiated by the calling principal.
func (s *Server) RecordInteraction(c *gin.Context) {
	var req recordInteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	initiator, _ := principalFromContext(c)
	ix, err := s.interactionSvc.Record(c.Request.Context(), interactiondomain.RecordRequest{
		Ref:          strings.TrimSpace(req.Ref),
		Initiator:    initiator,
		Counterparty: strings.TrimSpace(req.Counterparty),
	}, s.now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": ix})
}

func (s *Server) GetInteraction(c *gin.Context) {
	ix, err := s.interactionSvc.Get(c.Request.Context(), c.Param("ref"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ix})
}
