package permit

import (
	common_models "go-ptw/internal/common/models"

	"go.mongodb.org/mongo-driver/bson"
)

type visibilityScope int

const (
	scopeNone visibilityScope = iota
	scopeCompany
	scopePlant
	scopeInvolved
	scopeOwn
)

// Predicate restricts which permits an identity may list or read. It only
// narrows queries; every transition still checks its own authorization.
type Predicate struct {
	identity common_models.Identity
	scope    visibilityScope
}

func VisibilityFor(identity common_models.Identity) Predicate {
	role := identity.Role
	scope := scopeNone
	switch {
	case role.CompanyScoped() || role.Administrative():
		scope = scopeCompany
	case role.PlantScoped():
		scope = scopePlant
	case role.AreaScoped():
		scope = scopeInvolved
	case role == common_models.RoleRequester || role == common_models.RoleContractor:
		scope = scopeOwn
	}
	return Predicate{identity: identity, scope: scope}
}

// BSON is the filter to AND into a permit query.
func (p Predicate) BSON() bson.M {
	id := p.identity
	filter := bson.M{"company_id": id.CompanyID}

	switch p.scope {
	case scopeCompany:
	case scopePlant:
		filter["plant_id"] = id.PlantID
	case scopeInvolved:
		filter["$or"] = bson.A{
			bson.M{"requested_by": id.UserID},
			bson.M{"approvals.approver.user_id": id.UserID},
			bson.M{"closure_flow.approver.user_id": id.UserID},
			bson.M{"closure.approved_by": id.UserID},
			bson.M{"closure.approvers.user_id": id.UserID},
			bson.M{"stop_work_roles.resolved_user_id": id.UserID},
		}
	case scopeOwn:
		filter["requested_by"] = id.UserID
	default:
		// matches nothing
		filter["_id"] = bson.M{"$exists": false}
	}
	return filter
}

// Matches applies the same rule to a loaded permit.
func (p Predicate) Matches(permit *Permit) bool {
	id := p.identity
	if permit == nil || id.CompanyID == "" || permit.CompanyID != id.CompanyID {
		return false
	}

	switch p.scope {
	case scopeCompany:
		return true
	case scopePlant:
		return id.PlantID != "" && permit.PlantID == id.PlantID
	case scopeInvolved:
		return permit.Involves(id.UserID)
	case scopeOwn:
		return id.UserID != "" && permit.RequestedBy == id.UserID
	default:
		return false
	}
}
