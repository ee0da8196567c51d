package policy

import (
	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/config"
	"go-ptw/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type PolicyApi struct {
	controller *PolicyController
	config     *config.Config
}

func NewPolicyApi(controller *PolicyController, config *config.Config) *PolicyApi {
	return &PolicyApi{
		controller: controller,
		config:     config,
	}
}

func (h *PolicyApi) Setup(app *fiber.App) {
	policies := app.Group("/api/policies", middleware.AuthMiddleware(h.config.SkipAuth))

	policies.Get("/:module", h.controller.GetPolicy)
	policies.Put("/:module", middleware.RequireRoles(
		common_models.RoleAdmin,
		common_models.RoleSuperAdmin,
		common_models.RoleCompanyOwner,
	), h.controller.SavePolicy)
}
