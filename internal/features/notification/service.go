package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	common_models "go-ptw/internal/common/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Notifier is the outbound sink the permit engine talks to. Delivery is
// best-effort: Notify never blocks on storage and never reports failure.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, kind EventKind, metadata map[string]interface{})
}

type NotificationService interface {
	Notifier
	GetUserNotifications(ctx context.Context, userID string, page, limit int64) ([]Notification, int64, error)
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
	MarkAsRead(ctx context.Context, id string, userID string) error
	MarkAllAsRead(ctx context.Context, userID string) error
}

var ErrInvalidNotificationID = errors.New("invalid notification id")

const (
	queueSize      = 500
	maxAttempts    = 3
	deliverTimeout = 5 * time.Second
)

type NotificationServiceImpl struct {
	repo       NotificationRepository
	logger     *zap.Logger
	queue      chan Notification
	retryDelay time.Duration
	wg         sync.WaitGroup

	// mu guards closed; senders hold the read lock so stop never closes the
	// queue under them.
	mu     sync.RWMutex
	closed bool
}

// NewNotificationService starts the delivery worker with the fx lifecycle and
// drains the queue on shutdown.
func NewNotificationService(lc fx.Lifecycle, repo NotificationRepository, logger *zap.Logger) NotificationService {
	s := newNotificationService(repo, logger, 200*time.Millisecond)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.stop()
			return nil
		},
	})
	return s
}

func newNotificationService(repo NotificationRepository, logger *zap.Logger, retryDelay time.Duration) *NotificationServiceImpl {
	return &NotificationServiceImpl{
		repo:       repo,
		logger:     logger,
		queue:      make(chan Notification, queueSize),
		retryDelay: retryDelay,
	}
}

func (s *NotificationServiceImpl) start() {
	s.wg.Add(1)
	go s.process()
}

func (s *NotificationServiceImpl) stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *NotificationServiceImpl) Notify(ctx context.Context, recipientID string, kind EventKind, metadata map[string]interface{}) {
	if recipientID == "" {
		s.logger.Warn("Skipping notification without recipient", zap.String("kind", string(kind)))
		return
	}

	n := Notification{
		UserID:    recipientID,
		Kind:      kind,
		Title:     kind.Title(),
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if tenantID, ok := ctx.Value(common_models.TenantIDKey).(string); ok {
		n.TenantID = tenantID
	}
	if permitID, ok := metadata["permit_id"].(string); ok && permitID != "" {
		n.Link = "/permits/" + permitID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("Notification service stopped, dropping",
			zap.String("recipient", recipientID),
			zap.String("kind", string(kind)),
		)
		return
	}

	select {
	case s.queue <- n:
	default:
		s.logger.Warn("Notification queue full, dropping",
			zap.String("recipient", recipientID),
			zap.String("kind", string(kind)),
		)
	}
}

func (s *NotificationServiceImpl) process() {
	defer s.wg.Done()
	for n := range s.queue {
		s.deliver(n)
	}
}

func (s *NotificationServiceImpl) deliver(n Notification) {
	delay := s.retryDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		err := s.repo.Create(ctx, &n)
		cancel()
		if err == nil {
			return
		}
		s.logger.Warn("Notification delivery failed",
			zap.String("recipient", n.UserID),
			zap.String("kind", string(n.Kind)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < maxAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	s.logger.Error("Notification dropped after retries",
		zap.String("recipient", n.UserID),
		zap.String("kind", string(n.Kind)),
	)
}

func (s *NotificationServiceImpl) GetUserNotifications(ctx context.Context, userID string, page, limit int64) ([]Notification, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	return s.repo.GetByUserID(ctx, userID, page, limit)
}

func (s *NotificationServiceImpl) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.repo.GetUnreadCount(ctx, userID)
}

func (s *NotificationServiceImpl) MarkAsRead(ctx context.Context, id string, userID string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrInvalidNotificationID
	}
	return s.repo.MarkAsRead(ctx, objID, userID)
}

func (s *NotificationServiceImpl) MarkAllAsRead(ctx context.Context, userID string) error {
	return s.repo.MarkAllAsRead(ctx, userID)
}
