package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"go-ptw/internal/clock"
	"go-ptw/internal/config"
	"go-ptw/internal/features/scheduler"

	"go.uber.org/zap"
)

// Job kinds handled by the permit engine.
const (
	KindExpiryReminder = "expiry-reminder"
	KindExpire         = "expire"
)

func ReminderKey(permitID string) string { return permitID + "/" + KindExpiryReminder }
func ExpireKey(permitID string) string   { return permitID + "/" + KindExpire }

// Client keeps a permit's reminder and expire jobs in step with its expiry.
type Client interface {
	// ScheduleExpiry replaces both jobs for the permit. A failure is queued for
	// RetryPending and reported, but callers are not expected to act on it.
	ScheduleExpiry(ctx context.Context, tenantID, permitID string, expiresAt time.Time) error
	Cancel(ctx context.Context, permitID string) error
	RetryPending(ctx context.Context)
}

type request struct {
	tenantID  string
	expiresAt time.Time
	cancel    bool
}

type ClientImpl struct {
	timer    scheduler.Timer
	clock    clock.Clock
	leadTime time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]request
}

func NewClient(timer scheduler.Timer, cfg *config.Config, clk clock.Clock, logger *zap.Logger) Client {
	return &ClientImpl{
		timer:    timer,
		clock:    clk,
		leadTime: cfg.ReminderLeadTime,
		logger:   logger,
		pending:  make(map[string]request),
	}
}

func (c *ClientImpl) ScheduleExpiry(ctx context.Context, tenantID, permitID string, expiresAt time.Time) error {
	req := request{tenantID: tenantID, expiresAt: expiresAt.UTC()}
	err := c.apply(ctx, permitID, req)
	c.track(permitID, req, err)
	return err
}

func (c *ClientImpl) Cancel(ctx context.Context, permitID string) error {
	req := request{cancel: true}
	err := c.apply(ctx, permitID, req)
	c.track(permitID, req, err)
	return err
}

// RetryPending replays the latest failed request per permit.
func (c *ClientImpl) RetryPending(ctx context.Context) {
	c.mu.Lock()
	queued := make(map[string]request, len(c.pending))
	for id, req := range c.pending {
		queued[id] = req
	}
	c.mu.Unlock()

	for permitID, req := range queued {
		err := c.apply(ctx, permitID, req)
		c.mu.Lock()
		// A newer request may have replaced this one meanwhile.
		if current, ok := c.pending[permitID]; ok && current == req && err == nil {
			delete(c.pending, permitID)
		}
		c.mu.Unlock()
		if err == nil {
			c.logger.Info("Re-submitted permit expiry jobs", zap.String("permit_id", permitID))
		}
	}
}

func (c *ClientImpl) track(permitID string, req request, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.pending, permitID)
		return
	}
	c.pending[permitID] = req
	c.logger.Warn("Permit expiry scheduling failed, queued for retry",
		zap.String("permit_id", permitID),
		zap.Bool("cancel", req.cancel),
		zap.Error(err),
	)
}

func (c *ClientImpl) apply(ctx context.Context, permitID string, req request) error {
	// Cancel first so an extension never leaves a duplicate reminder behind.
	err := errors.Join(
		c.timer.Cancel(ctx, ReminderKey(permitID)),
		c.timer.Cancel(ctx, ExpireKey(permitID)),
	)
	if err != nil || req.cancel {
		return err
	}

	payload := map[string]string{
		"permit_id":  permitID,
		"expires_at": req.expiresAt.Format(time.RFC3339Nano),
	}

	now := c.clock.Now()
	if req.expiresAt.After(now) {
		fireAt := req.expiresAt.Add(-c.leadTime)
		if fireAt.Before(now) {
			fireAt = now
		}
		if err := c.timer.Schedule(ctx, scheduler.Job{
			Key:      ReminderKey(permitID),
			Kind:     KindExpiryReminder,
			TenantID: req.tenantID,
			FireAt:   fireAt,
			Payload:  payload,
		}); err != nil {
			return err
		}
	}

	return c.timer.Schedule(ctx, scheduler.Job{
		Key:      ExpireKey(permitID),
		Kind:     KindExpire,
		TenantID: req.tenantID,
		FireAt:   req.expiresAt,
		Payload:  payload,
	})
}

// ExpiresAtFromPayload reads back the expiry a job was scheduled for.
func ExpiresAtFromPayload(payload map[string]string) (time.Time, bool) {
	raw, ok := payload["expires_at"]
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
