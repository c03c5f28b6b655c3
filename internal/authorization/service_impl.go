package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/karma/internal/audit/domain"
	"github.com/smallbiznis/karma/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectPrincipal   = "principal"
	ObjectRating      = "rating"
	ObjectScore       = "score"
	ObjectInteraction = "interaction"
	ObjectOracle      = "oracle"
	ObjectViolation   = "violation"
	ObjectDispute     = "dispute"
	ObjectAuditLog    = "audit_log"
)

const (
	ActionPrincipalRegister   = "principal.register"
	ActionPrincipalDeactivate = "principal.deactivate"

	ActionRatingSubmit      = "rating.submit"
	ActionScoreRecalculate  = "score.recalculate"
	ActionInteractionRecord = "interaction.record"

	ActionOracleSubmit = "oracle.submit"

	ActionViolationApply  = "violation.apply"
	ActionViolationDetect = "violation.detect"

	ActionDisputeCreate  = "dispute.create"
	ActionDisputeResolve = "dispute.resolve"

	ActionAuditLogView = "audit_log.view"
)

const (
	rolePrincipal = "role:principal"
	roleAdmin     = "role:admin"
)

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	cfg      config.Config
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		cfg:      p.Cfg,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) IsAdmin(principal string) bool {
	return s.cfg.IsAdmin(principal)
}

func (s *ServiceImpl) Authorize(ctx context.Context, principal string, object string, action string) error {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := "principal:" + principal
	roleName := rolePrincipal
	actorType := string(auditdomain.ActorTypePrincipal)
	if s.cfg.IsAdmin(principal) {
		roleName = roleAdmin
		actorType = string(auditdomain.ActorTypeAdmin)
	}
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.audit(ctx, "authorization.denied", actorType, principal, object, action)
		return ErrForbidden
	}

	if roleName == roleAdmin {
		s.audit(ctx, "authorization.granted", actorType, principal, object, action)
	}
	return nil
}

// ensureGrouping keeps exactly one role link for subject.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) audit(ctx context.Context, event string, actorType string, principal string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, nil, auditdomain.Entry{
		ActorType:  auditdomain.ActorType(actorType),
		ActorID:    principal,
		Action:     event,
		TargetType: "authorization",
		TargetID:   object,
		Metadata:   map[string]any{"object": object, "action": action},
	}); err != nil {
		s.log.Warn("failed to write authorization audit log", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{rolePrincipal, ObjectRating, ActionRatingSubmit},
		{rolePrincipal, ObjectScore, ActionScoreRecalculate},
		{rolePrincipal, ObjectInteraction, ActionInteractionRecord},
		{rolePrincipal, ObjectDispute, ActionDisputeCreate},

		{roleAdmin, ObjectRating, ActionRatingSubmit},
		{roleAdmin, ObjectScore, ActionScoreRecalculate},
		{roleAdmin, ObjectInteraction, ActionInteractionRecord},
		{roleAdmin, ObjectDispute, ActionDisputeCreate},
		{roleAdmin, ObjectDispute, ActionDisputeResolve},
		{roleAdmin, ObjectPrincipal, ActionPrincipalRegister},
		{roleAdmin, ObjectPrincipal, ActionPrincipalDeactivate},
		{roleAdmin, ObjectOracle, ActionOracleSubmit},
		{roleAdmin, ObjectViolation, ActionViolationApply},
		{roleAdmin, ObjectViolation, ActionViolationDetect},
		{roleAdmin, ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
