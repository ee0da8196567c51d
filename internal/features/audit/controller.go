package audit

import (
	"strconv"
	"strings"

	common_models "go-ptw/internal/common/models"

	"github.com/gofiber/fiber/v2"
)

const maxPageSize = 100

type AuditController struct {
	Service AuditService
}

func NewAuditController(service AuditService) *AuditController {
	return &AuditController{Service: service}
}

// ListLogs godoc
// @Summary List audit logs
// @Description List audit entries for the caller's company, newest first
// @Tags audit
// @Produce json
// @Param module query string false "Module"
// @Param record_id query string false "Record (permit) ID"
// @Param action query string false "Action, e.g. PERMIT or POLICY"
// @Param page query int false "Page"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {array} models.AuditLog
// @Failure 400 {object} map[string]string
// @Router /api/audit-logs [get]
func (ctrl *AuditController) ListLogs(c *fiber.Ctx) error {
	page, _ := strconv.ParseInt(c.Query("page", "1"), 10, 64)
	limit, _ := strconv.ParseInt(c.Query("limit", "20"), 10, 64)
	if limit > maxPageSize {
		limit = maxPageSize
	}

	filters := make(map[string]interface{})
	if module := c.Query("module"); module != "" {
		filters["module"] = module
	}
	if recordID := c.Query("record_id"); recordID != "" {
		filters["record_id"] = recordID
	}
	if action := c.Query("action"); action != "" {
		a := common_models.AuditAction(strings.ToUpper(action))
		if !a.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "unknown audit action " + action,
			})
		}
		filters["action"] = a
	}

	logs, err := ctrl.Service.ListLogs(c.UserContext(), filters, page, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(logs)
}
