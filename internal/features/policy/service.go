package policy

import (
	"context"
	"maps"
	"slices"
	"time"

	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/config"
	"go-ptw/internal/features/audit"

	"go.uber.org/zap"
)

type PolicyService interface {
	// GetPolicy returns the tenant's policy, or the default one when the tenant has none stored.
	GetPolicy(ctx context.Context, companyID, module string) (*ModulePolicy, error)
	SavePolicy(ctx context.Context, p *ModulePolicy, actorID string) (*ModulePolicy, error)
}

type PolicyServiceImpl struct {
	Repo          PolicyRepository
	AuditService  audit.AuditService
	Logger        *zap.Logger
	defaultPolicy *ModulePolicy
	expiryHours   int
}

func NewPolicyService(repo PolicyRepository, auditService audit.AuditService, cfg *config.Config, logger *zap.Logger) PolicyService {
	def, err := LoadFile(cfg.PolicyPath)
	if err != nil {
		logger.Warn("Falling back to built-in PTW policy", zap.String("path", cfg.PolicyPath), zap.Error(err))
		def = Default("")
	}
	return &PolicyServiceImpl{
		Repo:          repo,
		AuditService:  auditService,
		Logger:        logger,
		defaultPolicy: def,
		expiryHours:   cfg.DefaultExpiryHours,
	}
}

func (s *PolicyServiceImpl) GetPolicy(ctx context.Context, companyID, module string) (*ModulePolicy, error) {
	p, err := s.Repo.Get(ctx, companyID, module)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = s.defaultPolicy.clone()
		p.CompanyID = companyID
	} else if err := p.Validate(); err != nil {
		// A stored policy that no longer validates must not drive transitions.
		return nil, err
	}
	if p.DefaultExpiryHours == 0 {
		p.DefaultExpiryHours = s.expiryHours
	}
	return p, nil
}

func (s *PolicyServiceImpl) SavePolicy(ctx context.Context, p *ModulePolicy, actorID string) (*ModulePolicy, error) {
	if p.Module == "" {
		p.Module = ModulePTW
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	old, err := s.Repo.Get(ctx, p.CompanyID, p.Module)
	if err != nil {
		return nil, err
	}
	p.Version = 1
	if old != nil {
		p.Version = old.Version + 1
	}
	p.UpdatedBy = actorID
	p.UpdatedAt = time.Now().UTC()

	if err := s.Repo.Upsert(ctx, p); err != nil {
		return nil, err
	}

	_ = s.AuditService.LogChange(ctx, common_models.AuditActionPolicy, p.Module, p.CompanyID, map[string]common_models.Change{
		"policy": {Old: old, New: p},
	})
	s.Logger.Info("PTW policy updated",
		zap.String("tenant_id", p.CompanyID),
		zap.Int("version", p.Version),
		zap.String("closure_mode", string(p.Closure.Mode)))

	return p, nil
}

func (p *ModulePolicy) clone() *ModulePolicy {
	c := *p
	c.ApprovalSteps = slices.Clone(p.ApprovalSteps)
	c.HighRiskApprovalSteps = slices.Clone(p.HighRiskApprovalSteps)
	c.Closure.Steps = slices.Clone(p.Closure.Steps)
	c.Closure.Roles = slices.Clone(p.Closure.Roles)
	c.ExtensionAuthorizations = maps.Clone(p.ExtensionAuthorizations)
	c.StopWorkRoles = slices.Clone(p.StopWorkRoles)
	return &c
}
