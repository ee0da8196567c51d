package notification

import (
	"go-ptw/internal/common/api"
	"go-ptw/internal/config"
	"go-ptw/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// InboxApi exposes the caller's own permit notifications. Every route is
// scoped to the token's user, so no role gate is needed beyond auth.
type InboxApi struct {
	controller *NotificationController
	auth       fiber.Handler
}

func NewNotificationApi(controller *NotificationController, cfg *config.Config) api.Route {
	return &InboxApi{
		controller: controller,
		auth:       middleware.AuthMiddleware(cfg.SkipAuth),
	}
}

func (h *InboxApi) Setup(app *fiber.App) {
	inbox := app.Group("/api/notifications", h.auth)

	inbox.Get("/", h.controller.List)
	inbox.Get("/unread-count", h.controller.GetUnreadCount)
	inbox.Post("/mark-all-read", h.controller.MarkAllAsRead)
	inbox.Put("/:id/read", h.controller.MarkAsRead)
}
