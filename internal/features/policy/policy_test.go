package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	require.NoError(t, Default("c-1").Validate())
}

func TestValidateRejectsBrokenChains(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *ModulePolicy)
	}{
		{"empty normal chain", func(p *ModulePolicy) { p.ApprovalSteps = nil }},
		{"gap in steps", func(p *ModulePolicy) { p.ApprovalSteps[1].Step = 3 }},
		{"not starting at one", func(p *ModulePolicy) { p.HighRiskApprovalSteps[0].Step = 0 }},
		{"unknown role", func(p *ModulePolicy) { p.ApprovalSteps[0].Role = "janitor" }},
		{"unknown closure mode", func(p *ModulePolicy) { p.Closure.Mode = "majority" }},
		{"anyOf without roles", func(p *ModulePolicy) { p.Closure.Roles = nil }},
		{"zero extension cap", func(p *ModulePolicy) { p.ExtensionAuthorizations[common_models.RoleHOD] = 0 }},
		{"unknown stop role", func(p *ModulePolicy) { p.StopWorkRoles = append(p.StopWorkRoles, "visitor") }},
		{"wrong module", func(p *ModulePolicy) { p.Module = "incident" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default("c-1")
			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPolicy))
		})
	}
}

func TestClosureRuleVariants(t *testing.T) {
	ordered := ClosurePolicy{
		Mode: ClosureModeOrdered,
		Steps: []PolicyStep{
			{Step: 1, Role: common_models.RoleAreaIncharge},
			{Step: 2, Role: common_models.RoleSafetyIncharge},
		},
	}
	rule, err := ordered.Rule()
	require.NoError(t, err)
	oc, ok := rule.(OrderedClosure)
	require.True(t, ok)
	assert.Len(t, oc.Steps, 2)
	assert.Equal(t, ClosureModeOrdered, rule.Mode())

	anyOf := ClosurePolicy{Mode: ClosureModeAnyOf, Roles: []common_models.Role{common_models.RoleHOD}}
	rule, err = anyOf.Rule()
	require.NoError(t, err)
	ac, ok := rule.(AnyOfClosure)
	require.True(t, ok)
	assert.Equal(t, []common_models.Role{common_models.RoleHOD}, ac.Roles)

	_, err = ClosurePolicy{Mode: ClosureModeOrdered}.Rule()
	assert.Error(t, err)
}

func TestChainForFallsBackToNormalChain(t *testing.T) {
	p := Default("c-1")
	assert.Len(t, p.ChainFor(true), 3)
	assert.Len(t, p.ChainFor(false), 2)

	p.HighRiskApprovalSteps = nil
	assert.Len(t, p.ChainFor(true), 2)
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
approval_steps:
  - {step: 1, role: hod, label: HOD, required: true}
closure:
  mode: anyOf
  roles: [hod]
extension_authorizations:
  hod: 12
stop_work_roles: [safety_incharge]
`)
	p, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, ModulePTW, p.Module)
	hours, ok := p.MaxExtensionHours(common_models.RoleHOD)
	assert.True(t, ok)
	assert.Equal(t, 12, hours)
	_, ok = p.MaxExtensionHours(common_models.RoleRequester)
	assert.False(t, ok)
}

func TestParseYAMLRejectsInvalidPolicy(t *testing.T) {
	_, err := Parse([]byte("approval_steps: []\nclosure: {mode: anyOf, roles: [hod]}\n"))
	assert.True(t, errors.Is(err, ErrInvalidPolicy))
}

func TestRepositoryPolicyFileParses(t *testing.T) {
	p, err := LoadFile(filepath.Join("..", "..", "..", "config", "ptw_policy.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ClosureModeOrdered, p.Closure.Mode)
	assert.Len(t, p.HighRiskApprovalSteps, 3)
}

type MockPolicyRepo struct {
	stored *ModulePolicy
	upsert int
}

func (m *MockPolicyRepo) Get(ctx context.Context, companyID, module string) (*ModulePolicy, error) {
	if m.stored == nil || m.stored.CompanyID != companyID {
		return nil, nil
	}
	c := m.stored.clone()
	return c, nil
}

func (m *MockPolicyRepo) Upsert(ctx context.Context, p *ModulePolicy) error {
	m.upsert++
	m.stored = p.clone()
	return nil
}

func (m *MockPolicyRepo) EnsureIndexes(ctx context.Context) error { return nil }

type MockAuditService struct {
	changes int
}

func (m *MockAuditService) LogChange(ctx context.Context, action common_models.AuditAction, module string, recordID string, changes map[string]common_models.Change) error {
	m.changes++
	return nil
}

func (m *MockAuditService) ListLogs(ctx context.Context, filters map[string]interface{}, page, limit int64) ([]common_models.AuditLog, error) {
	return nil, nil
}

func newTestService(t *testing.T, repo *MockPolicyRepo, audit *MockAuditService) PolicyService {
	t.Helper()
	path := filepath.Join(t.TempDir(), "missing.yaml")
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	return NewPolicyService(repo, audit, &config.Config{PolicyPath: path, DefaultExpiryHours: 6}, zap.NewNop())
}

func TestGetPolicyFallsBackToDefault(t *testing.T) {
	svc := newTestService(t, &MockPolicyRepo{}, &MockAuditService{})

	p, err := svc.GetPolicy(context.Background(), "c-9", ModulePTW)
	require.NoError(t, err)
	assert.Equal(t, "c-9", p.CompanyID)
	assert.Equal(t, 8, p.DefaultExpiryHours)

	// Mutating the returned copy must not leak into the shared default.
	p.ApprovalSteps[0].Role = common_models.RolePlantHead
	again, err := svc.GetPolicy(context.Background(), "c-9", ModulePTW)
	require.NoError(t, err)
	assert.Equal(t, common_models.RoleHOD, again.ApprovalSteps[0].Role)
}

func TestSavePolicyBumpsVersionAndAudits(t *testing.T) {
	repo := &MockPolicyRepo{}
	audit := &MockAuditService{}
	svc := newTestService(t, repo, audit)

	p := Default("c-1")
	p.DefaultExpiryHours = 0
	saved, err := svc.SavePolicy(context.Background(), p, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Version)

	saved, err = svc.SavePolicy(context.Background(), Default("c-1"), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)
	assert.Equal(t, 2, repo.upsert)
	assert.Equal(t, 2, audit.changes)

	got, err := svc.GetPolicy(context.Background(), "c-1", ModulePTW)
	require.NoError(t, err)
	assert.Equal(t, 8, got.DefaultExpiryHours)
}

func TestSavePolicyRejectsInvalid(t *testing.T) {
	repo := &MockPolicyRepo{}
	svc := newTestService(t, repo, &MockAuditService{})

	p := Default("c-1")
	p.ApprovalSteps = nil
	_, err := svc.SavePolicy(context.Background(), p, "admin-1")
	assert.True(t, errors.Is(err, ErrInvalidPolicy))
	assert.Zero(t, repo.upsert)
}
