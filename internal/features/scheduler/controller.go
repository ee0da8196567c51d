package scheduler

import (
	"strconv"

	common_models "go-ptw/internal/common/models"

	"github.com/gofiber/fiber/v2"
)

type JobController struct {
	Repo JobRepository
}

func NewJobController(repo JobRepository) *JobController {
	return &JobController{Repo: repo}
}

// ListJobs godoc
// @Summary List scheduled jobs
// @Description List expiry and reminder jobs for the caller's company
// @Tags scheduler
// @Produce json
// @Param permit_id query string false "Permit ID"
// @Param status query string false "pending, done, cancelled or failed"
// @Param limit query int false "Max jobs to return"
// @Success 200 {array} Job
// @Failure 500 {object} map[string]interface{}
// @Router /api/scheduled-jobs [get]
func (ctrl *JobController) ListJobs(c *fiber.Ctx) error {
	filter := make(map[string]interface{})
	if tenantID, ok := c.UserContext().Value(common_models.TenantIDKey).(string); ok {
		filter["tenant_id"] = tenantID
	}
	if permitID := c.Query("permit_id"); permitID != "" {
		filter["payload.permit_id"] = permitID
	}
	if status := c.Query("status"); status != "" {
		filter["status"] = status
	}

	limit, _ := strconv.ParseInt(c.Query("limit", "50"), 10, 64)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	jobs, err := ctrl.Repo.List(c.UserContext(), filter, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(jobs)
}
