package policy

import (
	"errors"
	"fmt"
	"slices"

	common_models "go-ptw/internal/common/models"
)

var ErrInvalidPolicy = errors.New("invalid module policy")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPolicy, fmt.Sprintf(format, args...))
}

// Validate checks the policy once at load/save time so transitions can trust it.
func (p *ModulePolicy) Validate() error {
	if p.Module != ModulePTW {
		return invalid("unsupported module %q", p.Module)
	}
	if len(p.ApprovalSteps) == 0 {
		return invalid("approval_steps must not be empty")
	}
	if err := validateChain("approval_steps", p.ApprovalSteps); err != nil {
		return err
	}
	if err := validateChain("high_risk_approval_steps", p.HighRiskApprovalSteps); err != nil {
		return err
	}
	if _, err := p.Closure.Rule(); err != nil {
		return err
	}
	for role, hours := range p.ExtensionAuthorizations {
		if !role.Valid() {
			return invalid("extension_authorizations: unknown role %q", role)
		}
		if hours <= 0 {
			return invalid("extension_authorizations: max hours for %q must be positive", role)
		}
	}
	for _, role := range p.StopWorkRoles {
		if !role.Valid() {
			return invalid("stop_work_roles: unknown role %q", role)
		}
	}
	if p.DefaultExpiryHours < 0 {
		return invalid("default_expiry_hours must not be negative")
	}
	return nil
}

// validateChain requires contiguous step numbers starting at 1, in order.
func validateChain(name string, steps []PolicyStep) error {
	for i, s := range steps {
		if s.Step != i+1 {
			return invalid("%s: expected step %d at position %d, got %d", name, i+1, i, s.Step)
		}
		if !s.Role.Valid() {
			return invalid("%s: step %d has unknown role %q", name, s.Step, s.Role)
		}
	}
	return nil
}

// Rule resolves the stored closure policy into its variant.
func (c ClosurePolicy) Rule() (ClosureRule, error) {
	switch c.Mode {
	case ClosureModeOrdered:
		if len(c.Steps) == 0 {
			return nil, invalid("closure: ordered mode needs steps")
		}
		if err := validateChain("closure.steps", c.Steps); err != nil {
			return nil, err
		}
		return OrderedClosure{Steps: slices.Clone(c.Steps)}, nil
	case ClosureModeAnyOf:
		if len(c.Roles) == 0 {
			return nil, invalid("closure: anyOf mode needs roles")
		}
		for _, r := range c.Roles {
			if !r.Valid() {
				return nil, invalid("closure: unknown role %q", r)
			}
		}
		return AnyOfClosure{Roles: slices.Clone(c.Roles)}, nil
	default:
		return nil, invalid("closure: unknown mode %q", c.Mode)
	}
}

// Default is the built-in policy used when neither the tenant nor the policy file provides one.
func Default(companyID string) *ModulePolicy {
	return &ModulePolicy{
		CompanyID: companyID,
		Module:    ModulePTW,
		ApprovalSteps: []PolicyStep{
			{Step: 1, Role: common_models.RoleHOD, Label: "HOD Approval", Required: true},
			{Step: 2, Role: common_models.RoleSafetyIncharge, Label: "Safety In-charge Approval", Required: true},
		},
		HighRiskApprovalSteps: []PolicyStep{
			{Step: 1, Role: common_models.RolePlantHead, Label: "Plant Head Approval", Required: true},
			{Step: 2, Role: common_models.RoleHOD, Label: "HOD Approval", Required: true},
			{Step: 3, Role: common_models.RoleSafetyIncharge, Label: "Safety In-charge Approval", Required: true},
		},
		Closure: ClosurePolicy{
			Mode:  ClosureModeAnyOf,
			Roles: []common_models.Role{common_models.RoleHOD, common_models.RoleSafetyIncharge},
		},
		ExtensionAuthorizations: map[common_models.Role]int{
			common_models.RoleHOD:            12,
			common_models.RoleSafetyIncharge: 8,
			common_models.RolePlantHead:      24,
		},
		StopWorkRoles: []common_models.Role{
			common_models.RoleSafetyIncharge,
			common_models.RoleHOD,
			common_models.RolePlantHead,
		},
		DefaultExpiryHours: 8,
	}
}
