package server

import (
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/karma/internal/observability/context"
)

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), principal, object, action); err != nil {
			AbortWithError(c, err)
			return
		}

		if s.authzSvc.IsAdmin(principal) {
			c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "admin", principal))
		}
		c.Next()
	}
}
