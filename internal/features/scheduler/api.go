package scheduler

import (
	"go-ptw/internal/common/api"
	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/config"
	"go-ptw/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type JobApi struct {
	controller *JobController
	config     *config.Config
}

func NewJobApi(controller *JobController, config *config.Config) api.Route {
	return &JobApi{
		controller: controller,
		config:     config,
	}
}

func (h *JobApi) Setup(app *fiber.App) {
	jobs := app.Group("/api/scheduled-jobs", middleware.AuthMiddleware(h.config.SkipAuth))

	jobs.Get("/", middleware.RequireRoles(
		common_models.RoleAdmin,
		common_models.RoleSuperAdmin,
	), h.controller.ListJobs)
}
