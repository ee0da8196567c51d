package permit

import (
	"go-ptw/internal/common/api"
	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/config"
	"go-ptw/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type PermitApi struct {
	controller *PermitController
	config     *config.Config
}

func NewPermitApi(controller *PermitController, config *config.Config) api.Route {
	return &PermitApi{
		controller: controller,
		config:     config,
	}
}

func (h *PermitApi) Setup(app *fiber.App) {
	permits := app.Group("/api/permits", middleware.AuthMiddleware(h.config.SkipAuth))

	permits.Post("/", h.controller.CreatePermit)
	permits.Get("/", h.controller.ListPermits)
	permits.Get("/:id", h.controller.GetPermit)
	permits.Delete("/:id", h.controller.DeletePermit)

	permits.Post("/:id/submit", h.controller.SubmitPermit)
	permits.Post("/:id/decision", h.controller.DecidePermit)
	permits.Post("/:id/activate", h.controller.ActivatePermit)
	permits.Post("/:id/closure", h.controller.RequestClosure)
	permits.Post("/:id/closure/decision", h.controller.DecideClosure)
	permits.Post("/:id/stop", h.controller.StopPermit)
	permits.Post("/:id/extend", h.controller.ExtendPermit)
	permits.Post("/:id/reassign", middleware.RequireRoles(
		common_models.RoleAdmin,
		common_models.RoleSuperAdmin,
		common_models.RoleCompanyOwner,
	), h.controller.ReassignApprover)
}
