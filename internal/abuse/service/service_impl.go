package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/karma/internal/abuse/detector"
	abusedomain "github.com/smallbiznis/karma/internal/abuse/domain"
	auditdomain "github.com/smallbiznis/karma/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/karma/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/karma/internal/observability/metrics"
	"github.com/smallbiznis/karma/internal/ratelimit"
	ratingdomain "github.com/smallbiznis/karma/internal/rating/domain"
	scoredomain "github.com/smallbiznis/karma/internal/score/domain"
	"github.com/smallbiznis/karma/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       abusedomain.Repository
	RatingRepo ratingdomain.Repository
	ScoreRepo  scoredomain.Repository
	Limiter    ratelimit.Limiter
	Ledger     ledgerdomain.Service
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       abusedomain.Repository
	ratingRepo ratingdomain.Repository
	scoreRepo  scoredomain.Repository
	limiter    ratelimit.Limiter
	ledger     ledgerdomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) abusedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("abuse.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		ratingRepo: p.RatingRepo,
		scoreRepo:  p.ScoreRepo,
		limiter:    p.Limiter,
		ledger:     p.Ledger,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) RunDetection(ctx context.Context, principal string, now int64) ([]abusedomain.ViolationRecord, error) {
	var out []abusedomain.ViolationRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.RunDetectionTx(ctx, tx, principal, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) RunDetectionTx(ctx context.Context, tx *gorm.DB, principal string, now int64) ([]abusedomain.ViolationRecord, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return nil, abusedomain.ErrInvalidPrincipal
	}

	givenHour, err := s.ratingRepo.ListGivenSince(ctx, tx, principal, now-detector.SpamWindowSeconds)
	if err != nil {
		return nil, err
	}
	givenDay, err := s.ratingRepo.ListGivenSince(ctx, tx, principal, now-detector.ManipulationWindowSeconds)
	if err != nil {
		return nil, err
	}
	receivedDay, err := s.ratingRepo.ListReceivedSince(ctx, tx, principal, now-detector.ManipulationWindowSeconds)
	if err != nil {
		return nil, err
	}
	activity, err := s.limiter.Activity(ctx, tx, principal, now)
	if err != nil {
		return nil, err
	}

	findings := []detector.Finding{
		detector.DetectSpam(toDetector(givenHour)),
		detector.DetectBot(detector.Activity{Count: activity.Count, WindowStart: activity.WindowStart}, now),
		detector.DetectManipulation(toDetector(givenDay), toDetector(receivedDay)),
	}

	out := make([]abusedomain.ViolationRecord, 0, len(findings))
	for _, f := range findings {
		if !f.Suspicious {
			continue
		}
		last, found, err := s.repo.LatestDetection(ctx, tx, principal, f.Kind)
		if err != nil {
			return nil, err
		}
		if found && now-last < detector.Cooldown(f.Kind) {
			continue
		}
		record := abusedomain.ViolationRecord{
			ID:             s.genID.Generate(),
			Principal:      principal,
			Kind:           f.Kind,
			Severity:       f.Severity(),
			Timestamp:      now,
			Evidence:       strings.Join(f.Evidence, "; "),
			ConfidencePct:  f.ConfidencePct,
			PenaltyApplied: f.Penalty,
			Source:         abusedomain.SourceDetector,
		}
		if err := s.record(ctx, tx, &record); err != nil {
			return nil, err
		}
		out = append(out, record)
	}

	if len(out) > 0 {
		s.log.Info("abuse detected",
			zap.String("principal", principal),
			zap.Int("violations", len(out)),
		)
	}
	return out, nil
}

func (s *Service) ApplyPenalty(ctx context.Context, req abusedomain.ApplyPenaltyRequest, now int64) (abusedomain.ViolationRecord, error) {
	principal := strings.TrimSpace(req.Principal)
	if principal == "" {
		return abusedomain.ViolationRecord{}, abusedomain.ErrInvalidPrincipal
	}
	if req.Severity < 1 || req.Severity > 10 {
		return abusedomain.ViolationRecord{}, abusedomain.ErrInvalidSeverity
	}
	if len(req.Evidence) > abusedomain.MaxEvidenceLength {
		return abusedomain.ViolationRecord{}, abusedomain.ErrEvidenceTooLong
	}

	record := abusedomain.ViolationRecord{
		ID:             s.genID.Generate(),
		Principal:      principal,
		Kind:           detector.ParseKind(req.Kind),
		Severity:       req.Severity,
		Timestamp:      now,
		Evidence:       req.Evidence,
		PenaltyApplied: abusedomain.ManualPenalty(req.Severity),
		Source:         abusedomain.SourceManual,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.scoreRepo.Get(ctx, tx, principal)
		if err != nil {
			return err
		}
		if existing == nil {
			return abusedomain.ErrPrincipalNotFound
		}
		return s.record(ctx, tx, &record)
	})
	if err != nil {
		return abusedomain.ViolationRecord{}, err
	}
	return record, nil
}

// record persists a violation and deducts its penalty on tx.
func (s *Service) record(ctx context.Context, tx *gorm.DB, v *abusedomain.ViolationRecord) error {
	if err := s.repo.Insert(ctx, tx, v); err != nil {
		return err
	}

	if v.PenaltyApplied > 0 {
		if _, err := s.ledger.Penalize(ctx, tx, ledgerdomain.Mutation{
			Principal:  v.Principal,
			Amount:     v.PenaltyApplied,
			SourceType: ledgerdomain.SourceTypeAbusePenalty,
			SourceID:   v.ID.String(),
			At:         v.Timestamp,
		}); err != nil {
			return err
		}
	}

	if s.auditSvc != nil {
		if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			Action:     "violation.recorded",
			TargetType: "violation",
			TargetID:   v.ID.String(),
			At:         v.Timestamp,
			Metadata: map[string]any{
				"principal":  v.Principal,
				"kind":       string(v.Kind),
				"severity":   v.Severity,
				"penalty":    v.PenaltyApplied,
				"source":     string(v.Source),
				"confidence": v.ConfidencePct,
			},
		}); err != nil {
			return err
		}
	}

	s.obsMetrics.RecordViolation(ctx, string(v.Kind), string(v.Source))
	return nil
}

func (s *Service) List(ctx context.Context, req abusedomain.ListRequest) (abusedomain.ListResponse, error) {
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return abusedomain.ListResponse{}, abusedomain.ErrInvalidPageToken
	}
	var beforeID snowflake.ID
	if cursor != nil {
		if beforeID, err = snowflake.ParseString(cursor.ID); err != nil {
			return abusedomain.ListResponse{}, abusedomain.ErrInvalidPageToken
		}
	}

	limit := pagination.Limit(req.PageSize)
	items, err := s.repo.List(ctx, s.db, strings.TrimSpace(req.Principal), beforeID, limit)
	if err != nil {
		return abusedomain.ListResponse{}, err
	}
	items, pageInfo, err := pagination.Trim(items, limit, func(v abusedomain.ViolationRecord) pagination.Cursor {
		return pagination.Cursor{ID: v.ID.String()}
	})
	if err != nil {
		return abusedomain.ListResponse{}, err
	}
	return abusedomain.ListResponse{PageInfo: pageInfo, Violations: items}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (abusedomain.ViolationRecord, error) {
	v, err := s.repo.Get(ctx, s.db, id)
	if err != nil {
		return abusedomain.ViolationRecord{}, err
	}
	if v == nil {
		return abusedomain.ViolationRecord{}, abusedomain.ErrViolationNotFound
	}
	return *v, nil
}

func toDetector(items []ratingdomain.Rating) []detector.Rating {
	out := make([]detector.Rating, 0, len(items))
	for _, r := range items {
		out = append(out, detector.Rating{
			Rater:     r.Rater,
			Rated:     r.Rated,
			Score:     r.Score,
			Timestamp: r.Timestamp,
		})
	}
	return out
}
