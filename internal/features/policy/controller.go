package policy

import (
	"errors"

	"go-ptw/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type PolicyController struct {
	Service PolicyService
}

func NewPolicyController(service PolicyService) *PolicyController {
	return &PolicyController{Service: service}
}

// GetPolicy godoc
// @Summary Get workflow policy
// @Description Get the caller company's workflow policy for a module (defaults when none stored)
// @Tags policies
// @Produce json
// @Param module path string true "Module" default(ptw)
// @Success 200 {object} ModulePolicy
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /api/policies/{module} [get]
func (c *PolicyController) GetPolicy(ctx *fiber.Ctx) error {
	caller, ok := middleware.CurrentIdentity(ctx)
	if !ok {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	p, err := c.Service.GetPolicy(ctx.UserContext(), caller.CompanyID, ctx.Params("module"))
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(p)
}

// SavePolicy godoc
// @Summary Replace workflow policy
// @Description Validate and store the caller company's workflow policy for a module
// @Tags policies
// @Accept json
// @Produce json
// @Param module path string true "Module" default(ptw)
// @Param policy body ModulePolicy true "Policy"
// @Success 200 {object} ModulePolicy
// @Failure 400 {object} map[string]string "Invalid policy"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /api/policies/{module} [put]
func (c *PolicyController) SavePolicy(ctx *fiber.Ctx) error {
	caller, ok := middleware.CurrentIdentity(ctx)
	if !ok {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var input ModulePolicy
	if err := ctx.BodyParser(&input); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	input.CompanyID = caller.CompanyID
	input.Module = ctx.Params("module")

	saved, err := c.Service.SavePolicy(ctx.UserContext(), &input, caller.UserID)
	if err != nil {
		if errors.Is(err, ErrInvalidPolicy) {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(saved)
}
