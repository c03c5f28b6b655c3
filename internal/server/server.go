package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	abusedomain "github.com/smallbiznis/karma/internal/abuse/domain"
	auditdomain "github.com/smallbiznis/karma/internal/audit/domain"
	"github.com/smallbiznis/karma/internal/authorization"
	"github.com/smallbiznis/karma/internal/clock"
	"github.com/smallbiznis/karma/internal/config"
	disputedomain "github.com/smallbiznis/karma/internal/dispute/domain"
	identitydomain "github.com/smallbiznis/karma/internal/identity/domain"
	interactiondomain "github.com/smallbiznis/karma/internal/interaction/domain"
	karmadomain "github.com/smallbiznis/karma/internal/karma/domain"
	ledgerdomain "github.com/smallbiznis/karma/internal/ledger/domain"
	"github.com/smallbiznis/karma/internal/observability"
	obsmiddleware "github.com/smallbiznis/karma/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/karma/internal/observability/metrics"
	obstracing "github.com/smallbiznis/karma/internal/observability/tracing"
	"github.com/smallbiznis/karma/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterAPIRoutes()
		s.RegisterAdminRoutes()
	}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	clock          clock.Clock
	karmaSvc       karmadomain.Service
	identitySvc    identitydomain.Service
	interactionSvc interactiondomain.Service
	abuseSvc       abusedomain.Service
	disputeSvc     disputedomain.Service
	ledgerSvc      ledgerdomain.Service
	authzSvc       authorization.Service
	auditSvc       auditdomain.Service
	throttle       *ratelimit.APIThrottle
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Clock          clock.Clock
	KarmaSvc       karmadomain.Service
	IdentitySvc    identitydomain.Service
	InteractionSvc interactiondomain.Service
	AbuseSvc       abusedomain.Service
	DisputeSvc     disputedomain.Service
	LedgerSvc      ledgerdomain.Service
	AuthzSvc       authorization.Service
	AuditSvc       auditdomain.Service
	Throttle       *ratelimit.APIThrottle `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics    `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		clock:          p.Clock,
		karmaSvc:       p.KarmaSvc,
		identitySvc:    p.IdentitySvc,
		interactionSvc: p.InteractionSvc,
		abuseSvc:       p.AbuseSvc,
		disputeSvc:     p.DisputeSvc,
		ledgerSvc:      p.LedgerSvc,
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
		throttle:       p.Throttle,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// now is the request time in unix seconds.
func (s *Server) now() int64 {
	return s.clock.Now().Unix()
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api", s.PrincipalRequired(), s.APIThrottle())

	// -------- Ratings --------
	api.POST("/ratings", s.authorize(authorization.ObjectRating, authorization.ActionRatingSubmit), s.SubmitRating)

	// -------- Interactions --------
	api.POST("/interactions", s.authorize(authorization.ObjectInteraction, authorization.ActionInteractionRecord), s.RecordInteraction)
	api.GET("/interactions/:ref", s.GetInteraction)

	// -------- Principals --------
	principals := api.Group("/principals/:id")
	{
		principals.GET("", s.GetPrincipal)
		principals.GET("/score", s.GetScore)
		principals.GET("/history", s.GetScoreHistory)
		principals.GET("/ratings", s.ListRatings)
		principals.GET("/balance", s.GetBalance)
		principals.GET("/ledger", s.ListLedgerEntries)
		principals.GET("/voting-power", s.GetVotingPower)
		principals.GET("/violations", s.ListViolations)
		principals.GET("/rate-limit", s.GetRateLimitStatus)
		principals.POST("/recalculate", s.authorize(authorization.ObjectScore, authorization.ActionScoreRecalculate), s.RecalculateScore)
	}

	api.GET("/leaderboard", s.GetLeaderboard)
	api.GET("/violations/:id", s.GetViolation)

	// -------- Disputes --------
	api.POST("/disputes", s.authorize(authorization.ObjectDispute, authorization.ActionDisputeCreate), s.CreateDispute)
	api.GET("/disputes", s.ListDisputes)
	api.GET("/disputes/:id", s.GetDispute)
}

func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/admin", s.PrincipalRequired())

	admin.POST("/principals", s.authorize(authorization.ObjectPrincipal, authorization.ActionPrincipalRegister), s.RegisterPrincipal)
	admin.POST("/principals/:id/deactivate", s.authorize(authorization.ObjectPrincipal, authorization.ActionPrincipalDeactivate), s.DeactivatePrincipal)
	admin.POST("/principals/:id/oracle", s.authorize(authorization.ObjectOracle, authorization.ActionOracleSubmit), s.SubmitOracleData)
	admin.POST("/principals/:id/abuse-detection", s.authorize(authorization.ObjectViolation, authorization.ActionViolationDetect), s.RunAbuseDetection)

	admin.POST("/violations", s.authorize(authorization.ObjectViolation, authorization.ActionViolationApply), s.ApplyPenalty)

	admin.POST("/disputes/:id/resolve", s.authorize(authorization.ObjectDispute, authorization.ActionDisputeResolve), s.ResolveDispute)
	admin.POST("/disputes/:id/reject", s.authorize(authorization.ObjectDispute, authorization.ActionDisputeResolve), s.RejectDispute)

	admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
