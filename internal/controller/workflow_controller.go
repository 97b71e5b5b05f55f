package controller

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"stepcount-be/internal/dto"
	"stepcount-be/internal/pkg/serverutils"
	"stepcount-be/pkg/faults"
	"stepcount-be/pkg/workflow"
)

var validate = validator.New()

type IWorkflowController interface {
	RegisterRoutes(r fiber.Router, middleware ...fiber.Handler)
	Start(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	BindPatient(ctx *fiber.Ctx) error
	ConfigureDevice(ctx *fiber.Ctx) error
	Extract(ctx *fiber.Ctx) error
	Submit(ctx *fiber.Ctx) error
	Result(ctx *fiber.Ctx) error
	Cancel(ctx *fiber.Ctx) error
	Reset(ctx *fiber.Ctx) error
}

type workflowController struct {
	orchestrator workflow.IOrchestrator
}

func NewWorkflowController(orchestrator workflow.IOrchestrator) IWorkflowController {
	return &workflowController{orchestrator: orchestrator}
}

func (c *workflowController) RegisterRoutes(r fiber.Router, middleware ...fiber.Handler) {
	h := r.Group("/workflow")
	for _, m := range middleware {
		h.Use(m)
	}
	h.Post("/start", c.Start)
	h.Get("/:id", c.Show)
	h.Post("/:id/bind-patient", c.BindPatient)
	h.Post("/:id/configure-device", c.ConfigureDevice)
	h.Post("/:id/extract", c.Extract)
	h.Post("/:id/submit", c.Submit)
	h.Get("/:id/result", c.Result)
	h.Post("/:id/cancel", c.Cancel)
	h.Post("/:id/reset", c.Reset)
}

func (c *workflowController) Start(ctx *fiber.Ctx) error {
	var req dto.StartWorkflowRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "invalid request body"))
	}
	if err := validate.Struct(req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, err.Error()))
	}
	return ctx.Status(fiber.StatusCreated).JSON(c.orchestrator.Start(req.OperatorID))
}

func (c *workflowController) Show(ctx *fiber.Ctx) error {
	snap, err := c.orchestrator.Get(ctx.Params("id"))
	if err != nil {
		return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse(404, err.Error()))
	}
	return ctx.JSON(snap)
}

func (c *workflowController) BindPatient(ctx *fiber.Ctx) error {
	var req dto.BindPatientRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "invalid request body"))
	}
	if err := validate.Struct(req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, err.Error()))
	}
	snap, err := c.orchestrator.BindPatient(ctx.Context(), ctx.Params("id"), req.PatientID)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(snap)
}

func (c *workflowController) ConfigureDevice(ctx *fiber.Ctx) error {
	var req dto.ConfigureDeviceRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "invalid request body"))
		}
	}
	snap, err := c.orchestrator.ConfigureDevice(ctx.Context(), ctx.Params("id"), req.DeviceID)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(snap)
}

func (c *workflowController) Extract(ctx *fiber.Ctx) error {
	snap, err := c.orchestrator.Extract(ctx.Context(), ctx.Params("id"))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(snap)
}

func (c *workflowController) Submit(ctx *fiber.Ctx) error {
	var req dto.SubmitRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "invalid request body"))
	}
	if err := validate.Struct(req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, err.Error()))
	}
	snap, err := c.orchestrator.Submit(ctx.Context(), ctx.Params("id"), req.ModelType, req.Options)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.Status(fiber.StatusAccepted).JSON(snap)
}

func (c *workflowController) Result(ctx *fiber.Ctx) error {
	view, err := c.orchestrator.Result(ctx.Params("id"))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(view)
}

func (c *workflowController) Cancel(ctx *fiber.Ctx) error {
	snap, err := c.orchestrator.Cancel(ctx.Params("id"))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(snap)
}

func (c *workflowController) Reset(ctx *fiber.Ctx) error {
	snap, err := c.orchestrator.Reset(ctx.Params("id"))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(snap)
}

// respondError maps the typed pipeline errors onto HTTP statuses without
// rewriting the message; the cause travels to the client verbatim.
func respondError(ctx *fiber.Ctx, err error) error {
	code := faults.HTTPStatus(err)
	return ctx.Status(code).JSON(serverutils.ErrorResponse(code, err.Error()))
}
