package permit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go-ptw/internal/clock"
	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/features/directory"
	"go-ptw/internal/features/notification"
	"go-ptw/internal/features/policy"
	"go-ptw/internal/features/reminder"
	"go-ptw/internal/features/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// MockPermitRepo stores BSON round-tripped copies so callers never share
// state with the store, like a real database.
type MockPermitRepo struct {
	mu         sync.Mutex
	docs       map[string]*Permit
	counters   map[string]int64
	saves      int
	lastFilter bson.M
	beforeSave func()
}

func NewMockPermitRepo() *MockPermitRepo {
	return &MockPermitRepo{docs: make(map[string]*Permit), counters: make(map[string]int64)}
}

func clonePermit(p *Permit) *Permit {
	raw, err := bson.Marshal(p)
	if err != nil {
		panic(err)
	}
	var out Permit
	if err := bson.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

func (m *MockPermitRepo) Create(ctx context.Context, p *Permit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = primitive.NewObjectID()
	p.Version = 1
	m.docs[p.ID.Hex()] = clonePermit(p)
	return nil
}

func (m *MockPermitRepo) FindByID(ctx context.Context, id string) (*Permit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.docs[id]; ok {
		return clonePermit(p), nil
	}
	return nil, nil
}

func (m *MockPermitRepo) Save(ctx context.Context, p *Permit, expectedVersion int) error {
	m.mu.Lock()
	hook := m.beforeSave
	m.beforeSave = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.docs[p.ID.Hex()]
	if !ok || stored.Version != expectedVersion {
		return newError(ErrVersionConflict, "save", "stale version %d", expectedVersion)
	}
	p.Version = expectedVersion + 1
	m.docs[p.ID.Hex()] = clonePermit(p)
	m.saves++
	return nil
}

func (m *MockPermitRepo) Delete(ctx context.Context, id string, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.docs[id]
	if !ok || stored.Version != expectedVersion || stored.Status != StatusDraft {
		return newError(ErrVersionConflict, "delete", "stale")
	}
	delete(m.docs, id)
	return nil
}

func (m *MockPermitRepo) List(ctx context.Context, filter bson.M, page, limit int64) ([]Permit, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	permits := []Permit{}
	for _, p := range m.docs {
		permits = append(permits, *clonePermit(p))
	}
	return permits, int64(len(permits)), nil
}

func (m *MockPermitRepo) NextNumber(ctx context.Context, companyID string, year int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s:%d", companyID, year)
	m.counters[key]++
	return FormatNumber(year, m.counters[key]), nil
}

func (m *MockPermitRepo) EnsureIndexes(ctx context.Context) error { return nil }

func (m *MockPermitRepo) bumpVersion(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id].Version++
}

func (m *MockPermitRepo) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type MockPolicyService struct {
	Policy *policy.ModulePolicy
}

func (m *MockPolicyService) GetPolicy(ctx context.Context, companyID, module string) (*policy.ModulePolicy, error) {
	if m.Policy != nil {
		return m.Policy, nil
	}
	return policy.Default(companyID), nil
}

func (m *MockPolicyService) SavePolicy(ctx context.Context, p *policy.ModulePolicy, actorID string) (*policy.ModulePolicy, error) {
	m.Policy = p
	return p, nil
}

type MockAuditService struct {
	mu      sync.Mutex
	Entries []common_models.AuditLog
	Err     error
}

func (m *MockAuditService) LogChange(ctx context.Context, action common_models.AuditAction, module string, recordID string, changes map[string]common_models.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, common_models.AuditLog{Action: action, Module: module, RecordID: recordID, Changes: changes})
	return m.Err
}

func (m *MockAuditService) ListLogs(ctx context.Context, filters map[string]interface{}, page, limit int64) ([]common_models.AuditLog, error) {
	return m.Entries, nil
}

type MockReminderClient struct {
	mu        sync.Mutex
	Scheduled map[string]time.Time
	Cancelled []string
	Err       error
}

func NewMockReminderClient() *MockReminderClient {
	return &MockReminderClient{Scheduled: make(map[string]time.Time)}
}

func (m *MockReminderClient) ScheduleExpiry(ctx context.Context, tenantID, permitID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Scheduled[permitID] = expiresAt
	return nil
}

func (m *MockReminderClient) Cancel(ctx context.Context, permitID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = append(m.Cancelled, permitID)
	delete(m.Scheduled, permitID)
	return m.Err
}

func (m *MockReminderClient) RetryPending(ctx context.Context) {}

type sentNotice struct {
	Recipient string
	Kind      notification.EventKind
	Metadata  map[string]interface{}
}

type MockNotifier struct {
	mu   sync.Mutex
	Sent []sentNotice
}

func (m *MockNotifier) Notify(ctx context.Context, recipientID string, kind notification.EventKind, metadata map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, sentNotice{Recipient: recipientID, Kind: kind, Metadata: metadata})
}

func (m *MockNotifier) find(recipient string, kind notification.EventKind) *sentNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Sent {
		if m.Sent[i].Recipient == recipient && m.Sent[i].Kind == kind {
			return &m.Sent[i]
		}
	}
	return nil
}

type MockDirectoryRepo struct {
	Users []directory.User
}

func (m *MockDirectoryRepo) FindArea(ctx context.Context, areaID string) (*directory.Area, error) {
	return nil, nil
}

func (m *MockDirectoryRepo) FindUsersByIDs(ctx context.Context, ids []string) ([]directory.User, error) {
	var out []directory.User
	for _, u := range m.Users {
		for _, id := range ids {
			if u.ID.Hex() == id {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (m *MockDirectoryRepo) FindActiveHolders(ctx context.Context, role common_models.Role, companyID, plantID string) ([]directory.User, error) {
	return nil, nil
}

func (m *MockDirectoryRepo) FindNames(ctx context.Context, ids []string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (m *MockDirectoryRepo) EnsureIndexes(ctx context.Context) error { return nil }

type harness struct {
	svc       *PermitServiceImpl
	repo      *MockPermitRepo
	policies  *MockPolicyService
	audit     *MockAuditService
	reminders *MockReminderClient
	notifier  *MockNotifier
	directory *MockDirectoryRepo
	clock     *clock.Fake
}

func newHarness(resolver *fakeResolver) *harness {
	h := &harness{
		repo:      NewMockPermitRepo(),
		policies:  &MockPolicyService{},
		audit:     &MockAuditService{},
		reminders: NewMockReminderClient(),
		notifier:  &MockNotifier{},
		directory: &MockDirectoryRepo{},
		clock:     clock.NewFake(testNow),
	}
	logger := zap.NewNop()
	h.svc = NewPermitService(
		h.repo,
		NewChainBuilder(resolver, logger),
		h.policies,
		h.directory,
		h.audit,
		h.reminders,
		h.notifier,
		h.clock,
		logger,
	).(*PermitServiceImpl)
	return h
}

func (h *harness) create(t *testing.T, in CreateInput) *Permit {
	t.Helper()
	if in.Title == "" {
		in.Title = "Replace valve"
	}
	if len(in.Types) == 0 {
		in.Types = []string{"general"}
	}
	p, err := h.svc.Create(context.Background(), requester, in)
	require.NoError(t, err)
	return p
}

// approved walks a created permit through the default normal chain.
func (h *harness) approved(t *testing.T, in CreateInput) string {
	t.Helper()
	ctx := context.Background()
	id := h.create(t, in).ID.Hex()
	_, err := h.svc.Submit(ctx, requester, id)
	require.NoError(t, err)
	_, err = h.svc.Decide(ctx, hod, id, Decision{Approve: true})
	require.NoError(t, err)
	_, err = h.svc.Decide(ctx, safety, id, Decision{Approve: true})
	require.NoError(t, err)
	return id
}

func expireJob(id string, expiresAt time.Time) scheduler.Job {
	return scheduler.Job{
		Key:  reminder.ExpireKey(id),
		Kind: reminder.KindExpire,
		Payload: map[string]string{
			"permit_id":  id,
			"expires_at": expiresAt.Format(time.RFC3339Nano),
		},
	}
}

func TestCreateNumbersAndClassifies(t *testing.T) {
	h := newHarness(allHolders())

	first := h.create(t, CreateInput{Types: []string{"general"}})
	second := h.create(t, CreateInput{Types: []string{"painting", "hotWork"}, IsHighRisk: false})

	assert.Equal(t, "PTW-2026-000001", first.PermitNumber)
	assert.Equal(t, "PTW-2026-000002", second.PermitNumber)
	assert.Equal(t, StatusDraft, first.Status)
	assert.False(t, first.IsHighRisk)
	assert.Len(t, first.Approvals, 2)
	assert.True(t, second.IsHighRisk, "client flag cannot downgrade a high-risk type")
	assert.Len(t, second.Approvals, 3)
	assert.Equal(t, testPlant, first.PlantID, "scope defaults to the caller's")

	require.Len(t, h.audit.Entries, 2)
	assert.Equal(t, common_models.AuditActionCreate, h.audit.Entries[0].Action)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(allHolders())
	ctx := context.Background()
	start := testNow.Add(2 * time.Hour)
	end := testNow

	tests := []struct {
		name string
		in   CreateInput
		kind error
	}{
		{"missing title", CreateInput{Types: []string{"general"}}, ErrValidation},
		{"missing types", CreateInput{Title: "x"}, ErrValidation},
		{"end before start", CreateInput{Title: "x", Types: []string{"general"}, Schedule: Schedule{StartDate: &start, EndDate: &end}}, ErrValidation},
		{"other plant", CreateInput{Title: "x", Types: []string{"general"}, PlantID: "plant-2", AreaID: "area-9"}, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Create(ctx, requester, tt.in)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
	assert.Zero(t, len(h.repo.docs))
}

func TestFullLifecycleDrivesTimersAndNotifications(t *testing.T) {
	h := newHarness(allHolders())
	ctx := context.Background()
	end := testNow.Add(6 * time.Hour)
	p := h.create(t, CreateInput{Schedule: Schedule{EndDate: &end}})
	id := p.ID.Hex()

	_, err := h.svc.Submit(ctx, requester, id)
	require.NoError(t, err)
	assert.NotNil(t, h.notifier.find(hod.UserID, notification.EventApprovalRequired))

	_, err = h.svc.Decide(ctx, hod, id, Decision{Approve: true})
	require.NoError(t, err)
	p, err = h.svc.Decide(ctx, safety, id, Decision{Approve: true})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, p.Status)
	assert.Equal(t, testNow.Add(8*time.Hour), h.reminders.Scheduled[id], "provisional expiry is scheduled on approval")

	h.clock.Advance(time.Hour)
	p, err = h.svc.Activate(ctx, requester, id)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, p.Status)
	assert.Equal(t, end, h.reminders.Scheduled[id])

	p, err = h.svc.Extend(ctx, hod, id, ExtendInput{Hours: 2, Reason: "pump delivery late"})
	require.NoError(t, err)
	assert.Equal(t, end.Add(2*time.Hour), h.reminders.Scheduled[id])

	_, err = h.svc.RequestClosure(ctx, requester, id, map[string]interface{}{"area_clean": true})
	require.NoError(t, err)
	p, err = h.svc.DecideClosure(ctx, safety, id, Decision{Approve: true})
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, p.Status)
	assert.Equal(t, []string{id}, h.reminders.Cancelled)
	assert.NotContains(t, h.reminders.Scheduled, id)

	closed := h.notifier.find(requester.UserID, notification.EventPermitClosed)
	require.NotNil(t, closed)
	assert.Equal(t, id, closed.Metadata["permit_id"])
	assert.Equal(t, p.PermitNumber, closed.Metadata["permit_number"])

	stored, _ := h.repo.FindByID(ctx, id)
	assert.Equal(t, StatusClosed, stored.Status)
	assert.Equal(t, p.Version, stored.Version)
}

func TestConcurrentDecisionLoserSeesAlreadyDecided(t *testing.T) {
	h := newHarness(allHolders())
	ctx := context.Background()
	id := h.create(t, CreateInput{}).ID.Hex()
	_, err := h.svc.Submit(ctx, requester, id)
	require.NoError(t, err)

	// The other request commits between our load and our save.
	var winnerErr error
	h.repo.beforeSave = func() {
		_, winnerErr = h.svc.Decide(ctx, hod, id, Decision{Approve: true, Comments: "first"})
	}

	_, err = h.svc.Decide(ctx, hod, id, Decision{Approve: false, Comments: "second"})
	require.NoError(t, winnerErr)
	assert.ErrorIs(t, err, ErrAlreadyDecided)

	stored, _ := h.repo.FindByID(ctx, id)
	assert.Equal(t, StatusSubmitted, stored.Status)
	assert.Equal(t, StepApproved, stored.Approvals[0].Status)
	assert.Equal(t, "first", stored.Approvals[0].Comments)
	assert.Equal(t, 1, countPending(stored.Approvals))
}

func TestConcurrentDecisionDoesNotSpillIntoNextStep(t *testing.T) {
	both := identity("u-both", common_models.RoleHOD)
	h := newHarness(newFakeResolver(
		both,
		identity("u-both", common_models.RoleSafetyIncharge),
		plantHead, areaIC, owner,
	))
	ctx := context.Background()
	id := h.create(t, CreateInput{}).ID.Hex()
	_, err := h.svc.Submit(ctx, requester, id)
	require.NoError(t, err)

	var winnerErr error
	h.repo.beforeSave = func() {
		_, winnerErr = h.svc.Decide(ctx, both, id, Decision{Approve: true, Comments: "first"})
	}

	_, err = h.svc.Decide(ctx, both, id, Decision{Approve: true, Comments: "second"})
	require.NoError(t, winnerErr)
	assert.ErrorIs(t, err, ErrAlreadyDecided)

	stored, _ := h.repo.FindByID(ctx, id)
	assert.Equal(t, StatusSubmitted, stored.Status)
	assert.Equal(t, StepApproved, stored.Approvals[0].Status)
	assert.Equal(t, StepPending, stored.Approvals[1].Status)

	// A deliberate decision on the next step still goes through.
	p, err := h.svc.Decide(ctx, both, id, Decision{Approve: true, Step: 2})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, p.Status)
}

func TestVersionConflictSurfacesWithoutSideEffects(t *testing.T) {
	h := newHarness(allHolders())
	ctx := context.Background()
	id := h.approved(t, CreateInput{})
	delete(h.reminders.Scheduled, id)
	sent := len(h.notifier.Sent)

	h.repo.beforeSave = func() { h.repo.bumpVersion(id) }

	_, err := h.svc.Activate(ctx, requester, id)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NotContains(t, h.reminders.Scheduled, id)
	assert.Len(t, h.notifier.Sent, sent)

	stored, _ := h.repo.FindByID(ctx, id)
	assert.Equal(t, StatusApproved, stored.Status)
}

func TestSideEffectFailuresDoNotFailTransition(t *testing.T) {
	h := newHarness(allHolders())
	ctx := context.Background()
	h.reminders.Err = errors.New("scheduler down")
	h.audit.Err = errors.New("audit down")

	id := h.approved(t, CreateInput{})
	p, err := h.svc.Activate(ctx, requester, id)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, p.Status)

	stored, _ := h.repo.FindByID(ctx, id)
	assert.Equal(t, StatusActive, stored.Status)
}

func TestExpireJob(t *testing.T) {
	h := newHarness(allHolders())
	ctx := context.Background()
	end := testNow.Add(time.Hour)
	id := h.approved(t, CreateInput{Schedule: Schedule{EndDate: &end}})
	_, err := h.svc.Activate(ctx, requester, id)
	require.NoError(t, err)

	err = h.svc.Expire(ctx, expireJob(id, end))
	assert.ErrorIs(t, err, errNotDue, "an early fire is retried by the scheduler")

	h.clock.Advance(2 * time.Hour)
	require.NoError(t, h.svc.Expire(ctx, expireJob(id, end)))
	saves := h.repo.saveCount()
	require.NoError(t, h.svc.Expire(ctx, expireJob(id, end)))
	assert.Equal(t, saves, h.repo.saveCount(), "redelivered job is a no-op")

	stored, _ := h.repo.FindByID(ctx, id)
	assert.Equal(t, StatusExpired, stored.Status)
	assert.NotNil(t, h.notifier.find(requester.UserID, notification.EventPermitExpired))

	p, err := h.svc.Extend(ctx, hod, id, ExtendInput{Hours: 5})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, p.Status)
	assert.Equal(t, h.clock.Now().Add(5*time.Hour), h.reminders.Scheduled[id])
}

func TestExpiryJobsWithSubSecondClock(t *testing.T) {
	h := newHarness(allHolders())
	h.clock.Advance(123 * time.Millisecond)
	ctx := context.Background()
	id := h.approved(t, CreateInput{})
	_, err := h.svc.Activate(ctx, requester, id)
	require.NoError(t, err)

	scheduled, ok := h.reminders.Scheduled[id]
	require.True(t, ok)
	require.Equal(t, 123*time.Millisecond, time.Duration(scheduled.Nanosecond()))

	job := expireJob(id, scheduled)
	job.Kind = reminder.KindExpiryReminder
	require.NoError(t, h.svc.RemindExpiry(ctx, job))
	assert.NotNil(t, h.notifier.find(requester.UserID, notification.EventPermitExpiring))

	h.clock.Advance(9 * time.Hour)
	require.NoError(t, h.svc.Expire(ctx, expireJob(id, scheduled)))

	stored, _ := h.repo.FindByID(ctx, id)
	assert.Equal(t, StatusExpired, stored.Status)
	assert.NotNil(t, h.notifier.find(requester.UserID, notification.EventPermitExpired))
}

func TestExpireJobForDeletedPermitIsDropped(t *testing.T) {
	h := newHarness(allHolders())
	assert.NoError(t, h.svc.Expire(context.Background(), expireJob(primitive.NewObjectID().Hex(), testNow)))
}

func TestRemindExpiryJobSendsOnce(t *testing.T) {
	h := newHarness(allHolders())
	ctx := context.Background()
	end := testNow.Add(3 * time.Hour)
	id := h.approved(t, CreateInput{Schedule: Schedule{EndDate: &end}})
	_, err := h.svc.Activate(ctx, requester, id)
	require.NoError(t, err)

	job := expireJob(id, end)
	job.Kind = reminder.KindExpiryReminder
	require.NoError(t, h.svc.RemindExpiry(ctx, job))
	require.NoError(t, h.svc.RemindExpiry(ctx, job))

	count := 0
	for _, n := range h.notifier.Sent {
		if n.Kind == notification.EventPermitExpiring {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestGetAppliesVisibility(t *testing.T) {
	h := newHarness(allHolders())
	ctx := context.Background()
	id := h.create(t, CreateInput{}).ID.Hex()

	_, err := h.svc.Get(ctx, hod, id)
	assert.NoError(t, err)
	_, err = h.svc.Get(ctx, identity("u-req-2", common_models.RoleRequester), id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.svc.Get(ctx, hod, primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCombinesVisibilityWithFilters(t *testing.T) {
	h := newHarness(allHolders())
	_, _, err := h.svc.List(context.Background(), requester, ListFilter{Status: "active"}, 1, 20)
	require.NoError(t, err)

	assert.Equal(t, bson.M{"$and": bson.A{
		bson.M{"company_id": testCompany, "requested_by": requester.UserID},
		bson.M{"status": "active"},
	}}, h.repo.lastFilter)
}

func TestDeleteOnlyDrafts(t *testing.T) {
	h := newHarness(allHolders())
	ctx := context.Background()

	draft := h.create(t, CreateInput{}).ID.Hex()
	assert.ErrorIs(t, h.svc.Delete(ctx, hod, draft), ErrUnauthorized)
	require.NoError(t, h.svc.Delete(ctx, requester, draft))
	assert.Nil(t, h.repo.docs[draft])

	submitted := h.create(t, CreateInput{}).ID.Hex()
	_, err := h.svc.Submit(ctx, requester, submitted)
	require.NoError(t, err)
	assert.ErrorIs(t, h.svc.Delete(ctx, admin, submitted), ErrInvalidState)
}

func TestReassignFromDirectory(t *testing.T) {
	h := newHarness(newFakeResolver(safety))
	ctx := context.Background()
	deputy := directory.User{ID: primitive.NewObjectID(), CompanyID: testCompany, Name: "Deputy HOD", Role: common_models.RoleHOD, Active: true}
	retired := directory.User{ID: primitive.NewObjectID(), CompanyID: testCompany, Name: "Retired", Role: common_models.RoleHOD}
	h.directory.Users = []directory.User{deputy, retired}

	p := h.create(t, CreateInput{})
	require.NotEmpty(t, p.Warnings)
	id := p.ID.Hex()
	_, err := h.svc.Submit(ctx, requester, id)
	require.NoError(t, err)

	_, err = h.svc.Reassign(ctx, admin, id, ReassignInput{Flow: FlowApproval, Step: 1, UserID: retired.ID.Hex()})
	assert.ErrorIs(t, err, ErrValidation)

	p, err = h.svc.Reassign(ctx, admin, id, ReassignInput{Flow: FlowApproval, Step: 1, UserID: deputy.ID.Hex()})
	require.NoError(t, err)
	assert.Empty(t, p.Warnings)
	assert.NotNil(t, h.notifier.find(deputy.ID.Hex(), notification.EventApprovalRequired))

	_, err = h.svc.Decide(ctx, identity(deputy.ID.Hex(), common_models.RoleHOD), id, Decision{Approve: true})
	assert.NoError(t, err)
}

func TestTransitionsAreTenantScoped(t *testing.T) {
	h := newHarness(allHolders())
	id := h.create(t, CreateInput{}).ID.Hex()

	outsider := requester
	outsider.CompanyID = "company-2"
	_, err := h.svc.Submit(context.Background(), outsider, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
