package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/karma/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/karma/internal/observability/metrics"
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
	Repo       ledgerdomain.Repository
	ScoreRepo  scoredomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       ledgerdomain.Repository
	scoreRepo  scoredomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		scoreRepo:  p.ScoreRepo,
		obsMetrics: p.ObsMetrics,
	}
}

// Spend charges a fee. The remaining balance must stay at or above the
// minimum balance.
func (s *Service) Spend(ctx context.Context, tx *gorm.DB, m ledgerdomain.Mutation) (int64, error) {
	current, err := s.load(ctx, tx, &m)
	if err != nil {
		return 0, err
	}
	if current < m.Amount {
		return 0, ledgerdomain.ErrInsufficientBalance
	}
	if current-m.Amount < ledgerdomain.MinimumBalance {
		return 0, ledgerdomain.ErrBelowMinimumBalance
	}
	return s.post(ctx, tx, m, ledgerdomain.DirectionDebit, current, current-m.Amount, 0, m.Amount)
}

// Award credits an earning, capped per call and at the maximum balance.
func (s *Service) Award(ctx context.Context, tx *gorm.DB, m ledgerdomain.Mutation) (int64, error) {
	current, err := s.load(ctx, tx, &m)
	if err != nil {
		return 0, err
	}
	if m.Amount > ledgerdomain.MaxAward {
		m.Amount = ledgerdomain.MaxAward
	}
	next := min(current+m.Amount, ledgerdomain.MaxBalance)
	return s.post(ctx, tx, m, ledgerdomain.DirectionCredit, current, next, m.Amount, 0)
}

// Penalize deducts without a floor, saturating at zero.
func (s *Service) Penalize(ctx context.Context, tx *gorm.DB, m ledgerdomain.Mutation) (int64, error) {
	current, err := s.load(ctx, tx, &m)
	if err != nil {
		return 0, err
	}
	next := max(current-m.Amount, 0)
	return s.post(ctx, tx, m, ledgerdomain.DirectionDebit, current, next, 0, 0)
}

// Debit locks up a stake. Unlike Spend no minimum balance applies.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, m ledgerdomain.Mutation) (int64, error) {
	current, err := s.load(ctx, tx, &m)
	if err != nil {
		return 0, err
	}
	if current < m.Amount {
		return 0, ledgerdomain.ErrInsufficientBalance
	}
	return s.post(ctx, tx, m, ledgerdomain.DirectionDebit, current, current-m.Amount, 0, m.Amount)
}

// Credit returns karma (stake refunds) capped at the maximum balance.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, m ledgerdomain.Mutation) (int64, error) {
	current, err := s.load(ctx, tx, &m)
	if err != nil {
		return 0, err
	}
	next := min(current+m.Amount, ledgerdomain.MaxBalance)
	return s.post(ctx, tx, m, ledgerdomain.DirectionCredit, current, next, 0, 0)
}

func (s *Service) Grant(ctx context.Context, tx *gorm.DB, m ledgerdomain.Mutation) (int64, error) {
	m.SourceType = ledgerdomain.SourceTypeGrant
	return s.Credit(ctx, tx, m)
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, m *ledgerdomain.Mutation) (int64, error) {
	m.Principal = strings.TrimSpace(m.Principal)
	if m.Principal == "" {
		return 0, ledgerdomain.ErrInvalidPrincipal
	}
	if m.Amount <= 0 {
		return 0, ledgerdomain.ErrInvalidAmount
	}

	record, err := s.scoreRepo.GetForUpdate(ctx, tx, m.Principal)
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, nil
	}
	return record.CurrentScore, nil
}

func (s *Service) post(
	ctx context.Context,
	tx *gorm.DB,
	m ledgerdomain.Mutation,
	direction ledgerdomain.Direction,
	before, after int64,
	earned, spent int64,
) (int64, error) {
	if err := s.scoreRepo.UpdateBalance(ctx, tx, m.Principal, after, m.At); err != nil {
		return 0, err
	}
	if earned != 0 || spent != 0 {
		if err := s.repo.AddTotals(ctx, tx, m.Principal, earned, spent, m.At); err != nil {
			return 0, err
		}
	}

	amount := after - before
	if amount < 0 {
		amount = -amount
	}
	entry := ledgerdomain.LedgerEntry{
		ID:           s.genID.Generate(),
		Principal:    m.Principal,
		SourceType:   m.SourceType,
		Direction:    direction,
		Amount:       amount,
		BalanceAfter: after,
		OccurredAt:   m.At,
	}
	if m.SourceID != "" {
		sourceID := m.SourceID
		entry.SourceID = &sourceID
	}
	if err := s.repo.InsertEntry(ctx, tx, &entry); err != nil {
		return 0, err
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(m.SourceType))
	s.log.Debug("balance updated",
		zap.String("principal", m.Principal),
		zap.String("source_type", string(m.SourceType)),
		zap.Int64("before", before),
		zap.Int64("after", after),
	)
	return after, nil
}

func (s *Service) GetBalance(ctx context.Context, principal string) (ledgerdomain.Balance, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidPrincipal
	}

	record, err := s.scoreRepo.Get(ctx, s.db, principal)
	if err != nil {
		return ledgerdomain.Balance{}, err
	}
	if record == nil {
		return ledgerdomain.Balance{}, ledgerdomain.ErrBalanceNotFound
	}
	totals, err := s.repo.GetTotals(ctx, s.db, principal)
	if err != nil {
		return ledgerdomain.Balance{}, err
	}

	out := ledgerdomain.Balance{Principal: principal, Balance: record.CurrentScore}
	if totals != nil {
		out.EarnedTotal = totals.EarnedTotal
		out.SpentTotal = totals.SpentTotal
	}
	return out, nil
}

func (s *Service) ListEntries(ctx context.Context, req ledgerdomain.ListEntriesRequest) (ledgerdomain.ListEntriesResponse, error) {
	principal := strings.TrimSpace(req.Principal)
	if principal == "" {
		return ledgerdomain.ListEntriesResponse{}, ledgerdomain.ErrInvalidPrincipal
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return ledgerdomain.ListEntriesResponse{}, ledgerdomain.ErrInvalidPageToken
	}
	var beforeID snowflake.ID
	if cursor != nil {
		if beforeID, err = snowflake.ParseString(cursor.ID); err != nil {
			return ledgerdomain.ListEntriesResponse{}, ledgerdomain.ErrInvalidPageToken
		}
	}

	limit := pagination.Limit(req.PageSize)
	items, err := s.repo.ListEntries(ctx, s.db, principal, beforeID, limit)
	if err != nil {
		return ledgerdomain.ListEntriesResponse{}, err
	}
	items, pageInfo, err := pagination.Trim(items, limit, func(e ledgerdomain.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{ID: e.ID.String()}
	})
	if err != nil {
		return ledgerdomain.ListEntriesResponse{}, err
	}
	return ledgerdomain.ListEntriesResponse{PageInfo: pageInfo, Entries: items}, nil
}
