package audit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	common_models "go-ptw/internal/common/models"
	"go-ptw/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockAuditRepo struct {
	logs        []common_models.AuditLog
	lastFilters map[string]interface{}
	listErr     error
}

func (m *MockAuditRepo) Create(ctx context.Context, log common_models.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func (m *MockAuditRepo) List(ctx context.Context, filters map[string]interface{}, limit, offset int64) ([]common_models.AuditLog, error) {
	m.lastFilters = filters
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]common_models.AuditLog, len(m.logs))
	copy(out, m.logs)
	return out, nil
}

type MockUserFinder struct {
	names map[string]string
	err   error
}

func (m *MockUserFinder) FindNames(ctx context.Context, ids []string) (map[string]string, error) {
	return m.names, m.err
}

func TestLogChangeActor(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"no caller", context.Background(), "system"},
		{"job actor", WithActor(context.Background(), "scheduler"), "scheduler"},
		{
			"request claims win",
			context.WithValue(WithActor(context.Background(), "scheduler"), utils.UserClaimsKey, &utils.UserClaims{UserID: "user-7"}),
			"user-7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockAuditRepo{}
			svc := NewAuditService(repo, nil)

			err := svc.LogChange(tt.ctx, common_models.AuditActionPermit, "ptw", "permit-1", nil)
			require.NoError(t, err)
			require.Len(t, repo.logs, 1)
			assert.Equal(t, tt.want, repo.logs[0].ActorID)
			assert.Equal(t, "permit-1", repo.logs[0].RecordID)
		})
	}
}

func TestListLogsActorNames(t *testing.T) {
	repo := &MockAuditRepo{logs: []common_models.AuditLog{
		{ActorID: "system"},
		{ActorID: "u1"},
		{ActorID: "u2"},
	}}
	svc := NewAuditService(repo, &MockUserFinder{names: map[string]string{"u1": "Asha"}})

	logs, err := svc.ListLogs(context.Background(), nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "System", logs[0].ActorName)
	assert.Equal(t, "Asha", logs[1].ActorName)
	assert.Equal(t, "Unknown User", logs[2].ActorName)
}

func TestListLogsNameLookupFailureIsIgnored(t *testing.T) {
	repo := &MockAuditRepo{logs: []common_models.AuditLog{{ActorID: "u1"}}}
	svc := NewAuditService(repo, &MockUserFinder{err: errors.New("directory down")})

	logs, err := svc.ListLogs(context.Background(), nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "Unknown User", logs[0].ActorName)
}

func TestListLogsHandlerFilters(t *testing.T) {
	repo := &MockAuditRepo{}
	app := fiber.New()
	app.Get("/api/audit-logs", NewAuditController(NewAuditService(repo, nil)).ListLogs)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/audit-logs?record_id=p1&action=permit", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "p1", repo.lastFilters["record_id"])
	assert.Equal(t, common_models.AuditActionPermit, repo.lastFilters["action"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/audit-logs?action=bogus", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	repo.listErr = errors.New("mongo down")
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/audit-logs", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
