package policy

import (
	"time"

	common_models "go-ptw/internal/common/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ModulePTW is the only module this engine serves.
const ModulePTW = "ptw"

type ClosureMode string

const (
	ClosureModeOrdered ClosureMode = "ordered"
	ClosureModeAnyOf   ClosureMode = "anyOf"
)

// PolicyStep is one position in an approval or closure chain.
type PolicyStep struct {
	Step     int                `bson:"step" json:"step" yaml:"step"`
	Role     common_models.Role `bson:"role" json:"role" yaml:"role"`
	Label    string             `bson:"label" json:"label" yaml:"label"`
	Required bool               `bson:"required" json:"required" yaml:"required"`
}

// ClosurePolicy is the stored shape; use Rule to get the resolved variant.
type ClosurePolicy struct {
	Mode  ClosureMode          `bson:"mode" json:"mode" yaml:"mode"`
	Steps []PolicyStep         `bson:"steps,omitempty" json:"steps,omitempty" yaml:"steps,omitempty"`
	Roles []common_models.Role `bson:"roles,omitempty" json:"roles,omitempty" yaml:"roles,omitempty"`
}

// ModulePolicy is the per-tenant workflow definition for a module.
type ModulePolicy struct {
	ID                      primitive.ObjectID         `bson:"_id,omitempty" json:"id" yaml:"-"`
	CompanyID               string                     `bson:"company_id" json:"company_id" yaml:"company_id"`
	Module                  string                     `bson:"module" json:"module" yaml:"module"`
	ApprovalSteps           []PolicyStep               `bson:"approval_steps" json:"approval_steps" yaml:"approval_steps"`
	HighRiskApprovalSteps   []PolicyStep               `bson:"high_risk_approval_steps" json:"high_risk_approval_steps" yaml:"high_risk_approval_steps"`
	Closure                 ClosurePolicy              `bson:"closure" json:"closure" yaml:"closure"`
	ExtensionAuthorizations map[common_models.Role]int `bson:"extension_authorizations" json:"extension_authorizations" yaml:"extension_authorizations"`
	StopWorkRoles           []common_models.Role       `bson:"stop_work_roles" json:"stop_work_roles" yaml:"stop_work_roles"`
	DefaultExpiryHours      int                        `bson:"default_expiry_hours" json:"default_expiry_hours" yaml:"default_expiry_hours"`
	Version                 int                        `bson:"version" json:"version" yaml:"-"`
	UpdatedBy               string                     `bson:"updated_by,omitempty" json:"updated_by,omitempty" yaml:"-"`
	UpdatedAt               time.Time                  `bson:"updated_at" json:"updated_at" yaml:"-"`
}

// ChainFor returns the approval chain to materialize for a permit.
func (p *ModulePolicy) ChainFor(highRisk bool) []PolicyStep {
	if highRisk && len(p.HighRiskApprovalSteps) > 0 {
		return p.HighRiskApprovalSteps
	}
	return p.ApprovalSteps
}

// MaxExtensionHours reports the cap for role, and whether the role may extend at all.
func (p *ModulePolicy) MaxExtensionHours(role common_models.Role) (int, bool) {
	hours, ok := p.ExtensionAuthorizations[role]
	return hours, ok
}

// ClosureRule is either OrderedClosure or AnyOfClosure.
type ClosureRule interface {
	Mode() ClosureMode
}

type OrderedClosure struct {
	Steps []PolicyStep
}

func (OrderedClosure) Mode() ClosureMode { return ClosureModeOrdered }

type AnyOfClosure struct {
	Roles []common_models.Role
}

func (AnyOfClosure) Mode() ClosureMode { return ClosureModeAnyOf }
