package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	common_models "go-ptw/internal/common/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type MockDirectoryRepo struct {
	Areas map[string]*Area
	Users []User
	Err   error
}

func (m *MockDirectoryRepo) FindArea(ctx context.Context, areaID string) (*Area, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Areas[areaID], nil
}

func (m *MockDirectoryRepo) FindUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	var out []User
	for _, u := range m.Users {
		for _, id := range ids {
			if u.ID.Hex() == id {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (m *MockDirectoryRepo) FindActiveHolders(ctx context.Context, role common_models.Role, companyID, plantID string) ([]User, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []User
	for _, u := range m.Users {
		if u.Role == role && u.CompanyID == companyID && u.Active && (plantID == "" || u.PlantID == plantID) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *MockDirectoryRepo) FindNames(ctx context.Context, ids []string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (m *MockDirectoryRepo) EnsureIndexes(ctx context.Context) error { return nil }

var (
	hodID    = primitive.NewObjectID()
	hod2ID   = primitive.NewObjectID()
	headID   = primitive.NewObjectID()
	ownerID  = primitive.NewObjectID()
	areaOID  = primitive.NewObjectID()
	assigned = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func fixture() *MockDirectoryRepo {
	return &MockDirectoryRepo{
		Areas: map[string]*Area{
			areaOID.Hex(): {
				ID:        areaOID,
				CompanyID: "c-1",
				PlantID:   "p-1",
				Personnel: []AreaAssignment{
					{Role: common_models.RoleHOD, UserID: hod2ID.Hex(), AssignedAt: assigned.Add(time.Hour)},
					{Role: common_models.RoleHOD, UserID: hodID.Hex(), AssignedAt: assigned},
				},
			},
		},
		Users: []User{
			{ID: hodID, CompanyID: "c-1", PlantID: "p-1", Name: "Hema", Role: common_models.RoleHOD, Active: true},
			{ID: hod2ID, CompanyID: "c-1", PlantID: "p-1", Name: "Hari", Role: common_models.RoleHOD, Active: true},
			{ID: headID, CompanyID: "c-1", PlantID: "p-1", Name: "Priya", Role: common_models.RolePlantHead, Active: true},
			{ID: ownerID, CompanyID: "c-1", Name: "Omar", Role: common_models.RoleCompanyOwner, Active: true},
		},
	}
}

var scope = common_models.Scope{CompanyID: "c-1", PlantID: "p-1", AreaID: areaOID.Hex()}

func TestResolveAreaRoleUsesEarliestAssignment(t *testing.T) {
	r := NewApproverResolver(fixture(), zap.NewNop())

	id, err := r.Resolve(context.Background(), common_models.RoleHOD, scope)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, hodID.Hex(), id.UserID)
	assert.Equal(t, areaOID.Hex(), id.AreaID)
	assert.Equal(t, common_models.RoleHOD, id.Role)
}

func TestResolveAreaRoleSkipsInactivePerson(t *testing.T) {
	repo := fixture()
	repo.Users[0].Active = false
	r := NewApproverResolver(repo, zap.NewNop())

	id, err := r.Resolve(context.Background(), common_models.RoleHOD, scope)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, hod2ID.Hex(), id.UserID)
}

func TestResolveUnconfiguredRoleIsNilNotError(t *testing.T) {
	r := NewApproverResolver(fixture(), zap.NewNop())

	id, err := r.Resolve(context.Background(), common_models.RoleSafetyIncharge, scope)
	assert.NoError(t, err)
	assert.Nil(t, id)

	id, err = r.Resolve(context.Background(), common_models.RoleHOD, common_models.Scope{CompanyID: "c-1"})
	assert.NoError(t, err)
	assert.Nil(t, id)

	id, err = r.Resolve(context.Background(), common_models.RoleHOD, common_models.Scope{CompanyID: "c-2", AreaID: areaOID.Hex()})
	assert.NoError(t, err)
	assert.Nil(t, id, "area belongs to another company")
}

func TestResolvePlantAndCompanyRoles(t *testing.T) {
	r := NewApproverResolver(fixture(), zap.NewNop())

	head, err := r.Resolve(context.Background(), common_models.RolePlantHead, scope)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, headID.Hex(), head.UserID)

	none, err := r.Resolve(context.Background(), common_models.RolePlantHead, common_models.Scope{CompanyID: "c-1", PlantID: "p-2"})
	require.NoError(t, err)
	assert.Nil(t, none)

	owner, err := r.Resolve(context.Background(), common_models.RoleCompanyOwner, scope)
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, ownerID.Hex(), owner.UserID)
}

func TestResolveRequesterRoleNeverResolves(t *testing.T) {
	r := NewApproverResolver(fixture(), zap.NewNop())
	id, err := r.Resolve(context.Background(), common_models.RoleRequester, scope)
	assert.NoError(t, err)
	assert.Nil(t, id)
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	repo := fixture()
	repo.Err = errors.New("connection reset")
	r := NewApproverResolver(repo, zap.NewNop())

	_, err := r.Resolve(context.Background(), common_models.RolePlantHead, scope)
	assert.ErrorContains(t, err, "connection reset")
}
