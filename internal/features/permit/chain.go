package permit

import (
	"context"
	"fmt"
	"slices"

	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/features/directory"
	"go-ptw/internal/features/policy"

	"go.uber.org/zap"
)

// highRiskTypes always route a permit through the high-risk chain.
var highRiskTypes = map[string]struct{}{
	"hotWork":       {},
	"confinedSpace": {},
	"workAtHeight":  {},
	"electrical":    {},
	"excavation":    {},
	"radiography":   {},
}

// IsHighRiskType reports membership in the fixed high-risk work-type set.
func IsHighRiskType(workType string) bool {
	_, ok := highRiskTypes[workType]
	return ok
}

// ComputeHighRisk is the server-side classification. The declared flag can
// only raise the risk level, never lower it.
func ComputeHighRisk(types []string, declared bool) bool {
	if declared {
		return true
	}
	return slices.ContainsFunc(types, IsHighRiskType)
}

// ChainBuilder materializes approval, closure and stop-work lists from the
// tenant policy at creation time. Personnel is snapshotted here and never
// re-resolved afterwards.
type ChainBuilder struct {
	Resolver directory.ApproverResolver
	Logger   *zap.Logger
}

func NewChainBuilder(resolver directory.ApproverResolver, logger *zap.Logger) *ChainBuilder {
	return &ChainBuilder{Resolver: resolver, Logger: logger}
}

// Build fills classification, approvals, closure and stop-work snapshot on p.
// p must carry its scope and types. Unresolved approvers become warnings.
func (b *ChainBuilder) Build(ctx context.Context, pol *policy.ModulePolicy, p *Permit) error {
	rule, err := pol.Closure.Rule()
	if err != nil {
		return fmt.Errorf("closure policy: %w", err)
	}

	scope := common_models.Scope{CompanyID: p.CompanyID, PlantID: p.PlantID, AreaID: p.AreaID}
	p.IsHighRisk = ComputeHighRisk(p.Types, p.DeclaredHighRisk)

	approvals, err := b.buildSteps(ctx, pol.ChainFor(p.IsHighRisk), scope)
	if err != nil {
		return err
	}
	if len(approvals) > 0 {
		approvals[0].Status = StepPending
	}
	p.Approvals = approvals

	switch r := rule.(type) {
	case policy.OrderedClosure:
		flow, err := b.buildSteps(ctx, r.Steps, scope)
		if err != nil {
			return err
		}
		p.ClosureFlow = flow
		p.Closure = Closure{Mode: policy.ClosureModeOrdered}
	case policy.AnyOfClosure:
		p.ClosureFlow = nil
		p.Closure = Closure{Mode: policy.ClosureModeAnyOf, Roles: slices.Clone(r.Roles)}
		for _, role := range r.Roles {
			id, err := b.Resolver.Resolve(ctx, role, scope)
			if err != nil {
				return fmt.Errorf("resolve closure role %s: %w", role, err)
			}
			if id != nil {
				p.Closure.Approvers = append(p.Closure.Approvers, Approver{UserID: id.UserID, Name: id.Name, Role: role})
			}
		}
	}

	p.StopWorkRoles = make([]StopWorkEntry, 0, len(pol.StopWorkRoles))
	for _, role := range pol.StopWorkRoles {
		id, err := b.Resolver.Resolve(ctx, role, scope)
		if err != nil {
			return fmt.Errorf("resolve stop-work role %s: %w", role, err)
		}
		entry := StopWorkEntry{Role: role}
		if id != nil {
			entry.ResolvedUserID = id.UserID
		}
		p.StopWorkRoles = append(p.StopWorkRoles, entry)
	}

	refreshWarnings(p)
	for _, w := range p.Warnings {
		b.Logger.Warn("Permit step has no approver",
			zap.String("area_id", p.AreaID),
			zap.String("plant_id", p.PlantID),
			zap.String("warning", w),
		)
	}
	return nil
}

func (b *ChainBuilder) buildSteps(ctx context.Context, steps []policy.PolicyStep, scope common_models.Scope) ([]ApprovalEntry, error) {
	sorted := slices.Clone(steps)
	slices.SortFunc(sorted, func(a, c policy.PolicyStep) int { return a.Step - c.Step })

	entries := make([]ApprovalEntry, 0, len(sorted))
	for _, s := range sorted {
		id, err := b.Resolver.Resolve(ctx, s.Role, scope)
		if err != nil {
			return nil, fmt.Errorf("resolve step %d (%s): %w", s.Step, s.Role, err)
		}
		entry := ApprovalEntry{Step: s.Step, Role: s.Role, Label: s.Label, Required: s.Required}
		if id != nil {
			entry.Approver = &Approver{UserID: id.UserID, Name: id.Name, Role: s.Role}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// refreshWarnings recomputes the unresolved-approver warnings for the steps
// that can still be reached.
func refreshWarnings(p *Permit) {
	var warnings []string
	if p.Status == StatusDraft || p.Status == StatusSubmitted {
		warnings = appendUnresolved(warnings, "approval", p.Approvals)
	}
	if p.Closure.Mode == policy.ClosureModeOrdered && !p.Status.Terminal() {
		warnings = appendUnresolved(warnings, "closure", p.ClosureFlow)
	}
	p.Warnings = warnings
}

func appendUnresolved(warnings []string, flow string, entries []ApprovalEntry) []string {
	for _, e := range entries {
		if e.Approver == nil && (e.Status == StepNotReached || e.Status == StepPending) {
			warnings = append(warnings, fmt.Sprintf("%s step %d (%s): %v", flow, e.Step, e.Role, ErrUnresolvedApprover))
		}
	}
	return warnings
}
