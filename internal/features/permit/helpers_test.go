package permit

import (
	"context"
	"testing"
	"time"

	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/features/policy"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	testCompany = "company-1"
	testPlant   = "plant-1"
	testArea    = "area-1"
)

var testNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func identity(userID string, role common_models.Role) common_models.Identity {
	return common_models.Identity{
		UserID:    userID,
		Name:      userID,
		Role:      role,
		CompanyID: testCompany,
		PlantID:   testPlant,
		AreaID:    testArea,
	}
}

var (
	requester = identity("u-req", common_models.RoleRequester)
	hod       = identity("u-hod", common_models.RoleHOD)
	safety    = identity("u-safe", common_models.RoleSafetyIncharge)
	plantHead = identity("u-ph", common_models.RolePlantHead)
	areaIC    = identity("u-area", common_models.RoleAreaIncharge)
	admin     = identity("u-admin", common_models.RoleAdmin)
	owner     = identity("u-owner", common_models.RoleCompanyOwner)
)

// fakeResolver resolves roles from a fixed table.
type fakeResolver struct {
	holders map[common_models.Role]common_models.Identity
	err     error
}

func newFakeResolver(ids ...common_models.Identity) *fakeResolver {
	r := &fakeResolver{holders: make(map[common_models.Role]common_models.Identity)}
	for _, id := range ids {
		r.holders[id.Role] = id
	}
	return r
}

func (f *fakeResolver) Resolve(ctx context.Context, role common_models.Role, scope common_models.Scope) (*common_models.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	id, ok := f.holders[role]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func allHolders() *fakeResolver {
	return newFakeResolver(hod, safety, plantHead, areaIC, owner)
}

func orderedClosurePolicy() *policy.ModulePolicy {
	pol := policy.Default(testCompany)
	pol.Closure = policy.ClosurePolicy{
		Mode: policy.ClosureModeOrdered,
		Steps: []policy.PolicyStep{
			{Step: 1, Role: common_models.RoleAreaIncharge, Label: "Area sign-off", Required: true},
			{Step: 2, Role: common_models.RoleSafetyIncharge, Label: "Safety sign-off", Required: true},
		},
	}
	return pol
}

// buildPermit returns a draft built against pol with the given resolver.
func buildPermit(t *testing.T, pol *policy.ModulePolicy, resolver *fakeResolver, types ...string) *Permit {
	t.Helper()
	p := &Permit{
		ID:          primitive.NewObjectID(),
		Title:       "Replace valve",
		Types:       types,
		CompanyID:   testCompany,
		PlantID:     testPlant,
		AreaID:      testArea,
		RequestedBy: requester.UserID,
		Status:      StatusDraft,
		Extensions:  []Extension{},
		Version:     1,
	}
	b := NewChainBuilder(resolver, zap.NewNop())
	require.NoError(t, b.Build(context.Background(), pol, p))
	return p
}

// activePermit walks a normal-risk permit through approval and activation.
func activePermit(t *testing.T, pol *policy.ModulePolicy, expiresAt time.Time) *Permit {
	t.Helper()
	p := buildPermit(t, pol, allHolders(), "general")
	_, err := Submit(p, requester, testNow)
	require.NoError(t, err)
	_, err = Decide(p, hod, Decision{Approve: true}, pol.DefaultExpiryHours, testNow)
	require.NoError(t, err)
	_, err = Decide(p, safety, Decision{Approve: true}, pol.DefaultExpiryHours, testNow)
	require.NoError(t, err)
	p.Schedule.EndDate = &expiresAt
	_, err = Activate(p, requester, testNow)
	require.NoError(t, err)
	return p
}

func countPending(entries []ApprovalEntry) int {
	n := 0
	for _, e := range entries {
		if e.Status == StepPending {
			n++
		}
	}
	return n
}
