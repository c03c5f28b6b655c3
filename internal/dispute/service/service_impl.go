package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	abusedomain "github.com/smallbiznis/karma/internal/abuse/domain"
	auditdomain "github.com/smallbiznis/karma/internal/audit/domain"
	disputedomain "github.com/smallbiznis/karma/internal/dispute/domain"
	ledgerdomain "github.com/smallbiznis/karma/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/karma/internal/observability/metrics"
	"github.com/smallbiznis/karma/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Repo          disputedomain.Repository
	ViolationRepo abusedomain.Repository
	LedgerSvc     ledgerdomain.Service
	AuditSvc      auditdomain.Service `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	repo          disputedomain.Repository
	violationRepo abusedomain.Repository
	ledgerSvc     ledgerdomain.Service
	auditSvc      auditdomain.Service
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) disputedomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("dispute.service"),
		genID:         p.GenID,
		repo:          p.Repo,
		violationRepo: p.ViolationRepo,
		ledgerSvc:     p.LedgerSvc,
		auditSvc:      p.AuditSvc,
		obsMetrics:    p.ObsMetrics,
	}
}

func (s *Service) Create(ctx context.Context, req disputedomain.CreateRequest, now int64) (disputedomain.DisputeCase, error) {
	challenger := strings.TrimSpace(req.Challenger)
	if challenger == "" {
		return disputedomain.DisputeCase{}, disputedomain.ErrInvalidChallenger
	}
	violationID, err := snowflake.ParseString(strings.TrimSpace(req.ViolationID))
	if err != nil || violationID == 0 {
		return disputedomain.DisputeCase{}, disputedomain.ErrInvalidViolation
	}
	if req.Stake <= 0 {
		return disputedomain.DisputeCase{}, disputedomain.ErrInvalidStake
	}
	if len(req.Evidence) > disputedomain.MaxEvidenceLength {
		return disputedomain.DisputeCase{}, disputedomain.ErrEvidenceTooLong
	}

	record := disputedomain.DisputeCase{
		ID:          s.genID.Generate(),
		ViolationID: violationID,
		Challenger:  challenger,
		StakeAmount: req.Stake,
		Evidence:    req.Evidence,
		Status:      disputedomain.StatusPending,
		CreatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		violation, err := s.violationRepo.GetForUpdate(ctx, tx, violationID)
		if err != nil {
			return err
		}
		if violation == nil {
			return disputedomain.ErrViolationNotFound
		}

		pending, err := s.repo.HasPending(ctx, tx, violationID)
		if err != nil {
			return err
		}
		if pending {
			return disputedomain.ErrDisputePending
		}

		if _, err := s.ledgerSvc.Debit(ctx, tx, ledgerdomain.Mutation{
			Principal:  challenger,
			Amount:     req.Stake,
			SourceType: ledgerdomain.SourceTypeDisputeStake,
			SourceID:   record.ID.String(),
			At:         now,
		}); err != nil {
			if errors.Is(err, ledgerdomain.ErrInsufficientBalance) {
				return disputedomain.ErrInsufficientStake
			}
			return err
		}

		if err := s.repo.Insert(ctx, tx, &record); err != nil {
			return err
		}
		if err := s.violationRepo.MarkDisputed(ctx, tx, violationID); err != nil {
			return err
		}

		return s.writeAuditLog(ctx, tx, "dispute.created", &record, &challenger, map[string]any{
			"violation_id": violationID.String(),
			"stake":        req.Stake,
		})
	})
	if err != nil {
		return disputedomain.DisputeCase{}, err
	}

	s.obsMetrics.RecordDisputeEvent(ctx, "created")
	s.log.Info("dispute created",
		zap.String("dispute_id", record.ID.String()),
		zap.String("violation_id", violationID.String()),
		zap.String("challenger", challenger),
		zap.Int64("stake", req.Stake),
	)
	return record, nil
}

func (s *Service) Resolve(ctx context.Context, caseID snowflake.ID, resolution string, resolver string, now int64) (disputedomain.DisputeCase, error) {
	parsed, ok := disputedomain.ParseResolution(resolution)
	if !ok {
		return disputedomain.DisputeCase{}, disputedomain.ErrInvalidResolution
	}
	return s.close(ctx, caseID, disputedomain.StatusResolved, &parsed, resolver, now)
}

// Reject closes a case without a ruling. The stake stays forfeited.
func (s *Service) Reject(ctx context.Context, caseID snowflake.ID, resolver string, now int64) (disputedomain.DisputeCase, error) {
	return s.close(ctx, caseID, disputedomain.StatusRejected, nil, resolver, now)
}

func (s *Service) close(
	ctx context.Context,
	caseID snowflake.ID,
	status disputedomain.Status,
	resolution *disputedomain.Resolution,
	resolver string,
	now int64,
) (disputedomain.DisputeCase, error) {
	if caseID == 0 {
		return disputedomain.DisputeCase{}, disputedomain.ErrDisputeNotFound
	}
	resolver = strings.TrimSpace(resolver)

	var out disputedomain.DisputeCase
	var refund int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.repo.GetForUpdate(ctx, tx, caseID)
		if err != nil {
			return err
		}
		if record == nil {
			return disputedomain.ErrDisputeNotFound
		}
		if record.Status != disputedomain.StatusPending {
			return disputedomain.ErrDisputeAlreadyResolved
		}

		record.Status = status
		record.ResolvedAt = &now
		record.Resolution = resolution
		if resolver != "" {
			record.ResolvedBy = &resolver
		}
		if err := s.repo.Close(ctx, tx, record); err != nil {
			return err
		}

		if resolution != nil {
			refund = resolution.Refund(record.StakeAmount)
		}
		if refund > 0 {
			if _, err := s.ledgerSvc.Credit(ctx, tx, ledgerdomain.Mutation{
				Principal:  record.Challenger,
				Amount:     refund,
				SourceType: ledgerdomain.SourceTypeDisputeRefund,
				SourceID:   record.ID.String(),
				At:         now,
			}); err != nil {
				return err
			}
		}

		action := "dispute.rejected"
		if status == disputedomain.StatusResolved {
			action = "dispute.resolved"
		}
		metadata := map[string]any{
			"violation_id": record.ViolationID.String(),
			"refund":       refund,
		}
		if resolution != nil {
			metadata["resolution"] = string(*resolution)
		}
		if err := s.writeAuditLog(ctx, tx, action, record, record.ResolvedBy, metadata); err != nil {
			return err
		}

		out = *record
		return nil
	})
	if err != nil {
		return disputedomain.DisputeCase{}, err
	}

	event := "rejected"
	if resolution != nil {
		event = disputeEvent(*resolution)
	}
	s.obsMetrics.RecordDisputeEvent(ctx, event)
	s.log.Info("dispute closed",
		zap.String("dispute_id", out.ID.String()),
		zap.String("status", string(out.Status)),
		zap.String("event", event),
		zap.Int64("refund", refund),
	)
	return out, nil
}

func (s *Service) List(ctx context.Context, req disputedomain.ListRequest) (disputedomain.ListResponse, error) {
	status := disputedomain.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	switch status {
	case "", disputedomain.StatusPending, disputedomain.StatusUnderReview,
		disputedomain.StatusResolved, disputedomain.StatusRejected:
	default:
		return disputedomain.ListResponse{}, disputedomain.ErrInvalidStatus
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return disputedomain.ListResponse{}, disputedomain.ErrInvalidPageToken
	}
	var beforeID snowflake.ID
	if cursor != nil {
		if beforeID, err = snowflake.ParseString(cursor.ID); err != nil {
			return disputedomain.ListResponse{}, disputedomain.ErrInvalidPageToken
		}
	}

	limit := pagination.Limit(req.PageSize)
	items, err := s.repo.List(ctx, s.db, disputedomain.ListFilter{
		Status:     status,
		Challenger: strings.TrimSpace(req.Challenger),
		BeforeID:   beforeID,
		Limit:      limit,
	})
	if err != nil {
		return disputedomain.ListResponse{}, err
	}
	items, pageInfo, err := pagination.Trim(items, limit, func(d disputedomain.DisputeCase) pagination.Cursor {
		return pagination.Cursor{ID: d.ID.String()}
	})
	if err != nil {
		return disputedomain.ListResponse{}, err
	}
	return disputedomain.ListResponse{PageInfo: pageInfo, Disputes: items}, nil
}

func (s *Service) Get(ctx context.Context, caseID snowflake.ID) (disputedomain.DisputeCase, error) {
	record, err := s.repo.Get(ctx, s.db, caseID)
	if err != nil {
		return disputedomain.DisputeCase{}, err
	}
	if record == nil {
		return disputedomain.DisputeCase{}, disputedomain.ErrDisputeNotFound
	}
	return *record, nil
}

func (s *Service) writeAuditLog(ctx context.Context, tx *gorm.DB, action string, record *disputedomain.DisputeCase, actorID *string, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	entry := auditdomain.Entry{
		ActorType:  auditdomain.ActorTypePrincipal,
		Action:     action,
		TargetType: "dispute",
		TargetID:   record.ID.String(),
		Metadata:   metadata,
		At:         record.CreatedAt,
	}
	if actorID != nil {
		entry.ActorID = *actorID
	}
	if record.ResolvedAt != nil {
		entry.ActorType = auditdomain.ActorTypeAdmin
		entry.At = *record.ResolvedAt
	}
	return s.auditSvc.Record(ctx, tx, entry)
}

func disputeEvent(r disputedomain.Resolution) string {
	switch r {
	case disputedomain.ResolutionConfirmed:
		return "confirmed"
	case disputedomain.ResolutionOverturned:
		return "overturned"
	default:
		return "partial"
	}
}
