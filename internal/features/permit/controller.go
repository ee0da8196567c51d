package permit

import (
	"errors"
	"strconv"

	"go-ptw/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type PermitController struct {
	Service PermitService
}

func NewPermitController(service PermitService) *PermitController {
	return &PermitController{Service: service}
}

type decisionRequest struct {
	Action   string `json:"action"`
	Comments string `json:"comments"`
	Step     int    `json:"step"`
}

type closureRequest struct {
	Payload map[string]interface{} `json:"payload"`
}

// respondError maps permit error kinds to HTTP statuses.
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, ErrValidation):
		status = fiber.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		status = fiber.StatusForbidden
	case errors.Is(err, ErrPolicyViolation):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadyDecided), errors.Is(err, ErrVersionConflict):
		status = fiber.StatusConflict
	}

	body := fiber.Map{"error": err.Error()}
	var permitErr *Error
	if errors.As(err, &permitErr) {
		body["kind"] = permitErr.Kind.Error()
	}
	return c.Status(status).JSON(body)
}

func parseDecision(c *fiber.Ctx) (Decision, error) {
	var req decisionRequest
	if err := c.BodyParser(&req); err != nil {
		return Decision{}, newError(ErrValidation, "decide", "invalid request body")
	}
	switch req.Action {
	case "approve":
		return Decision{Approve: true, Comments: req.Comments, Step: req.Step}, nil
	case "reject":
		return Decision{Approve: false, Comments: req.Comments, Step: req.Step}, nil
	default:
		return Decision{}, newError(ErrValidation, "decide", "action must be approve or reject")
	}
}

// CreatePermit godoc
// @Summary Create permit
// @Description Create a draft permit; the approval chain is built from the company policy
// @Tags permits
// @Accept json
// @Produce json
// @Param permit body CreateInput true "Permit"
// @Success 201 {object} Permit
// @Failure 400 {object} map[string]interface{}
// @Router /api/permits [post]
func (ctrl *PermitController) CreatePermit(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var in CreateInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	p, err := ctrl.Service.Create(c.UserContext(), identity, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

// ListPermits godoc
// @Summary List permits
// @Description List permits visible to the caller
// @Tags permits
// @Produce json
// @Param status query string false "Status"
// @Param plant_id query string false "Plant"
// @Param area_id query string false "Area"
// @Param type query string false "Work type"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} map[string]interface{}
// @Router /api/permits [get]
func (ctrl *PermitController) ListPermits(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	page, _ := strconv.ParseInt(c.Query("page", "1"), 10, 64)
	limit, _ := strconv.ParseInt(c.Query("limit", "20"), 10, 64)
	filter := ListFilter{
		Status:  c.Query("status"),
		PlantID: c.Query("plant_id"),
		AreaID:  c.Query("area_id"),
		Type:    c.Query("type"),
	}

	permits, total, err := ctrl.Service.List(c.UserContext(), identity, filter, page, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"data":  permits,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// GetPermit godoc
// @Summary Get permit
// @Tags permits
// @Produce json
// @Param id path string true "Permit ID"
// @Success 200 {object} Permit
// @Failure 404 {object} map[string]interface{}
// @Router /api/permits/{id} [get]
func (ctrl *PermitController) GetPermit(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	p, err := ctrl.Service.Get(c.UserContext(), identity, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

// DeletePermit godoc
// @Summary Delete draft permit
// @Tags permits
// @Param id path string true "Permit ID"
// @Success 204
// @Failure 409 {object} map[string]interface{}
// @Router /api/permits/{id} [delete]
func (ctrl *PermitController) DeletePermit(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	if err := ctrl.Service.Delete(c.UserContext(), identity, c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SubmitPermit godoc
// @Summary Submit permit for approval
// @Tags permits
// @Produce json
// @Param id path string true "Permit ID"
// @Success 200 {object} Permit
// @Failure 409 {object} map[string]interface{}
// @Router /api/permits/{id}/submit [post]
func (ctrl *PermitController) SubmitPermit(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	p, err := ctrl.Service.Submit(c.UserContext(), identity, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

// DecidePermit godoc
// @Summary Approve or reject the pending approval step
// @Tags permits
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param decision body decisionRequest true "action: approve or reject"
// @Success 200 {object} Permit
// @Failure 403 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/permits/{id}/decision [post]
func (ctrl *PermitController) DecidePermit(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	d, err := parseDecision(c)
	if err != nil {
		return respondError(c, err)
	}
	p, err := ctrl.Service.Decide(c.UserContext(), identity, c.Params("id"), d)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

// ActivatePermit godoc
// @Summary Activate an approved permit
// @Tags permits
// @Produce json
// @Param id path string true "Permit ID"
// @Success 200 {object} Permit
// @Router /api/permits/{id}/activate [post]
func (ctrl *PermitController) ActivatePermit(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	p, err := ctrl.Service.Activate(c.UserContext(), identity, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

// RequestClosure godoc
// @Summary Request closure
// @Tags permits
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param closure body closureRequest true "Closure checklist"
// @Success 200 {object} Permit
// @Router /api/permits/{id}/closure [post]
func (ctrl *PermitController) RequestClosure(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var req closureRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	p, err := ctrl.Service.RequestClosure(c.UserContext(), identity, c.Params("id"), req.Payload)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

// DecideClosure godoc
// @Summary Approve or reject closure
// @Tags permits
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param decision body decisionRequest true "action: approve or reject"
// @Success 200 {object} Permit
// @Router /api/permits/{id}/closure/decision [post]
func (ctrl *PermitController) DecideClosure(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	d, err := parseDecision(c)
	if err != nil {
		return respondError(c, err)
	}
	p, err := ctrl.Service.DecideClosure(c.UserContext(), identity, c.Params("id"), d)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

// StopPermit godoc
// @Summary Stop work
// @Description Emergency stop of an active permit
// @Tags permits
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param stop body StopInput true "Reason"
// @Success 200 {object} Permit
// @Router /api/permits/{id}/stop [post]
func (ctrl *PermitController) StopPermit(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var in StopInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	p, err := ctrl.Service.Stop(c.UserContext(), identity, c.Params("id"), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

// ExtendPermit godoc
// @Summary Extend permit
// @Tags permits
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param extension body ExtendInput true "Hours and reason"
// @Success 200 {object} Permit
// @Failure 422 {object} map[string]interface{}
// @Router /api/permits/{id}/extend [post]
func (ctrl *PermitController) ExtendPermit(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var in ExtendInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	p, err := ctrl.Service.Extend(c.UserContext(), identity, c.Params("id"), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

// ReassignApprover godoc
// @Summary Assign an approver to an undecided step
// @Tags permits
// @Accept json
// @Produce json
// @Param id path string true "Permit ID"
// @Param assignment body ReassignInput true "flow (approval|closure), step, user_id"
// @Success 200 {object} Permit
// @Router /api/permits/{id}/reassign [post]
func (ctrl *PermitController) ReassignApprover(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var in ReassignInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	p, err := ctrl.Service.Reassign(c.UserContext(), identity, c.Params("id"), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}
