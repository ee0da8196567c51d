package directory

import (
	"context"
	"fmt"
	"slices"

	common_models "go-ptw/internal/common/models"

	"go.uber.org/zap"
)

// ApproverResolver turns an abstract role into the person currently holding it
// within a scope. A nil identity with a nil error means nobody is configured.
type ApproverResolver interface {
	Resolve(ctx context.Context, role common_models.Role, scope common_models.Scope) (*common_models.Identity, error)
}

type ResolverImpl struct {
	Repo   DirectoryRepository
	Logger *zap.Logger
}

func NewApproverResolver(repo DirectoryRepository, logger *zap.Logger) ApproverResolver {
	return &ResolverImpl{
		Repo:   repo,
		Logger: logger,
	}
}

func (r *ResolverImpl) Resolve(ctx context.Context, role common_models.Role, scope common_models.Scope) (*common_models.Identity, error) {
	switch {
	case role.AreaScoped():
		return r.resolveAreaRole(ctx, role, scope)
	case role.PlantScoped():
		if scope.PlantID == "" {
			return nil, nil
		}
		return r.resolveHolder(ctx, role, scope.CompanyID, scope.PlantID)
	case role.CompanyScoped():
		return r.resolveHolder(ctx, role, scope.CompanyID, "")
	default:
		// requester, contractor and admin roles are never chain approvers
		return nil, nil
	}
}

func (r *ResolverImpl) resolveAreaRole(ctx context.Context, role common_models.Role, scope common_models.Scope) (*common_models.Identity, error) {
	if scope.AreaID == "" {
		return nil, nil
	}
	area, err := r.Repo.FindArea(ctx, scope.AreaID)
	if err != nil {
		return nil, fmt.Errorf("load area %s: %w", scope.AreaID, err)
	}
	if area == nil || area.CompanyID != scope.CompanyID {
		return nil, nil
	}

	var designated []AreaAssignment
	for _, a := range area.Personnel {
		if a.Role == role && a.UserID != "" {
			designated = append(designated, a)
		}
	}
	if len(designated) == 0 {
		return nil, nil
	}
	slices.SortStableFunc(designated, func(a, b AreaAssignment) int {
		return a.AssignedAt.Compare(b.AssignedAt)
	})
	if len(designated) > 1 {
		r.Logger.Warn("Area has several holders for role, using earliest assignment",
			zap.String("area_id", scope.AreaID),
			zap.String("role", string(role)),
			zap.Int("holders", len(designated)))
	}

	ids := make([]string, len(designated))
	for i, a := range designated {
		ids[i] = a.UserID
	}
	users, err := r.Repo.FindUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load area personnel: %w", err)
	}
	byID := make(map[string]*User, len(users))
	for i := range users {
		byID[users[i].ID.Hex()] = &users[i]
	}

	for _, a := range designated {
		u, ok := byID[a.UserID]
		if !ok || !u.Active {
			continue
		}
		id := u.Identity()
		id.Role = role
		id.PlantID = area.PlantID
		id.AreaID = scope.AreaID
		return id, nil
	}
	return nil, nil
}

func (r *ResolverImpl) resolveHolder(ctx context.Context, role common_models.Role, companyID, plantID string) (*common_models.Identity, error) {
	holders, err := r.Repo.FindActiveHolders(ctx, role, companyID, plantID)
	if err != nil {
		return nil, fmt.Errorf("find %s holders: %w", role, err)
	}
	if len(holders) == 0 {
		return nil, nil
	}
	if len(holders) > 1 {
		r.Logger.Warn("Role expected to have a single active holder",
			zap.String("role", string(role)),
			zap.String("tenant_id", companyID),
			zap.String("plant_id", plantID),
			zap.Int("holders", len(holders)))
	}
	return holders[0].Identity(), nil
}
