package audit

import (
	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/config"
	"go-ptw/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type AuditApi struct {
	controller *AuditController
	config     *config.Config
}

func NewAuditApi(controller *AuditController, config *config.Config) *AuditApi {
	return &AuditApi{
		controller: controller,
		config:     config,
	}
}

func (h *AuditApi) Setup(app *fiber.App) {
	audit := app.Group("/api/audit-logs", middleware.AuthMiddleware(h.config.SkipAuth))

	audit.Get("/", middleware.RequireRoles(
		common_models.RoleAdmin,
		common_models.RoleSuperAdmin,
		common_models.RoleCompanyOwner,
		common_models.RolePlantHead,
		common_models.RoleSafetyIncharge,
	), h.controller.ListLogs)
}
