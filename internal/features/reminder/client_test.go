package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-ptw/internal/clock"
	"go-ptw/internal/config"
	"go-ptw/internal/features/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type call struct {
	op  string
	key string
	job scheduler.Job
}

type MockTimer struct {
	calls    []call
	jobs     map[string]scheduler.Job
	failNext int
}

func newMockTimer() *MockTimer {
	return &MockTimer{jobs: make(map[string]scheduler.Job)}
}

func (m *MockTimer) fail() error {
	if m.failNext > 0 {
		m.failNext--
		return errors.New("scheduler unavailable")
	}
	return nil
}

func (m *MockTimer) Schedule(ctx context.Context, job scheduler.Job) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.calls = append(m.calls, call{op: "schedule", key: job.Key, job: job})
	m.jobs[job.Key] = job
	return nil
}

func (m *MockTimer) Cancel(ctx context.Context, key string) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.calls = append(m.calls, call{op: "cancel", key: key})
	delete(m.jobs, key)
	return nil
}

func (m *MockTimer) Handle(kind string, handler scheduler.HandlerFunc) {}

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestClient(timer *MockTimer) *ClientImpl {
	cfg := &config.Config{ReminderLeadTime: time.Hour}
	return NewClient(timer, cfg, clock.NewFake(now), zap.NewNop()).(*ClientImpl)
}

func TestScheduleExpiryCancelsThenSubmitsBothJobs(t *testing.T) {
	timer := newMockTimer()
	client := newTestClient(timer)
	expiresAt := now.Add(8 * time.Hour)

	require.NoError(t, client.ScheduleExpiry(context.Background(), "company-1", "p1", expiresAt))

	require.Len(t, timer.calls, 4)
	assert.Equal(t, call{op: "cancel", key: "p1/expiry-reminder"}, timer.calls[0])
	assert.Equal(t, call{op: "cancel", key: "p1/expire"}, timer.calls[1])

	reminderJob := timer.jobs["p1/expiry-reminder"]
	assert.Equal(t, KindExpiryReminder, reminderJob.Kind)
	assert.Equal(t, expiresAt.Add(-time.Hour), reminderJob.FireAt)
	assert.Equal(t, "company-1", reminderJob.TenantID)

	expireJob := timer.jobs["p1/expire"]
	assert.Equal(t, KindExpire, expireJob.Kind)
	assert.Equal(t, expiresAt, expireJob.FireAt)
	got, ok := ExpiresAtFromPayload(expireJob.Payload)
	require.True(t, ok)
	assert.True(t, got.Equal(expiresAt))
}

func TestReminderClampedToNowWhenLeadExceedsRemaining(t *testing.T) {
	timer := newMockTimer()
	client := newTestClient(timer)

	require.NoError(t, client.ScheduleExpiry(context.Background(), "c", "p1", now.Add(20*time.Minute)))
	assert.Equal(t, now, timer.jobs["p1/expiry-reminder"].FireAt)
}

func TestPastExpirySkipsReminder(t *testing.T) {
	timer := newMockTimer()
	client := newTestClient(timer)

	require.NoError(t, client.ScheduleExpiry(context.Background(), "c", "p1", now.Add(-time.Minute)))
	_, hasReminder := timer.jobs["p1/expiry-reminder"]
	assert.False(t, hasReminder)
	assert.Contains(t, timer.jobs, "p1/expire")
}

func TestRescheduleLeavesSingleReminder(t *testing.T) {
	timer := newMockTimer()
	client := newTestClient(timer)
	ctx := context.Background()

	require.NoError(t, client.ScheduleExpiry(ctx, "c", "p1", now.Add(4*time.Hour)))
	require.NoError(t, client.ScheduleExpiry(ctx, "c", "p1", now.Add(10*time.Hour)))

	assert.Len(t, timer.jobs, 2)
	assert.Equal(t, now.Add(9*time.Hour), timer.jobs["p1/expiry-reminder"].FireAt)
}

func TestCancelRemovesBothJobs(t *testing.T) {
	timer := newMockTimer()
	client := newTestClient(timer)
	ctx := context.Background()

	require.NoError(t, client.ScheduleExpiry(ctx, "c", "p1", now.Add(4*time.Hour)))
	require.NoError(t, client.Cancel(ctx, "p1"))
	assert.Empty(t, timer.jobs)
}

func TestFailureIsQueuedAndRetried(t *testing.T) {
	timer := newMockTimer()
	client := newTestClient(timer)
	ctx := context.Background()

	timer.failNext = 1
	err := client.ScheduleExpiry(ctx, "c", "p1", now.Add(4*time.Hour))
	require.Error(t, err)
	assert.Len(t, client.pending, 1)
	assert.Empty(t, timer.jobs)

	client.RetryPending(ctx)
	assert.Empty(t, client.pending)
	assert.Len(t, timer.jobs, 2)
}

func TestLaterSuccessClearsQueuedFailure(t *testing.T) {
	timer := newMockTimer()
	client := newTestClient(timer)
	ctx := context.Background()

	timer.failNext = 1
	require.Error(t, client.ScheduleExpiry(ctx, "c", "p1", now.Add(4*time.Hour)))
	require.NoError(t, client.Cancel(ctx, "p1"))

	assert.Empty(t, client.pending)
	client.RetryPending(ctx)
	assert.Empty(t, timer.jobs)
}

func TestExpiresAtFromPayloadRejectsGarbage(t *testing.T) {
	_, ok := ExpiresAtFromPayload(map[string]string{"expires_at": "tomorrow"})
	assert.False(t, ok)
	_, ok = ExpiresAtFromPayload(nil)
	assert.False(t, ok)
}

func TestPayloadKeepsSubSecondExpiry(t *testing.T) {
	timer := newMockTimer()
	client := newTestClient(timer)
	expiresAt := now.Add(8*time.Hour + 123*time.Millisecond)

	require.NoError(t, client.ScheduleExpiry(context.Background(), "company-1", "p1", expiresAt))

	for _, key := range []string{ReminderKey("p1"), ExpireKey("p1")} {
		got, ok := ExpiresAtFromPayload(timer.jobs[key].Payload)
		require.True(t, ok, key)
		assert.True(t, got.Equal(expiresAt), "%s: payload expiry %s, want %s", key, got, expiresAt)
	}
}
