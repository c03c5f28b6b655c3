package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/karma/internal/observability/context"
	obsmiddleware "github.com/smallbiznis/karma/internal/observability/logger"
)

const contextPrincipalKey = "principal"

// PrincipalRequired rejects requests without the gateway principal header.
func (s *Server) PrincipalRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := strings.TrimSpace(c.GetHeader(obsmiddleware.PrincipalHeader))
		if principal == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextPrincipalKey, principal)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "principal", principal))
		c.Next()
	}
}

func principalFromContext(c *gin.Context) (string, bool) {
	if c == nil {
		return "", false
	}
	principal := strings.TrimSpace(c.GetString(contextPrincipalKey))
	return principal, principal != ""
}
