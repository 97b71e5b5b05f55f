package controller

import (
	"github.com/gofiber/fiber/v2"

	"stepcount-be/internal/dto"
	"stepcount-be/internal/pkg/serverutils"
	"stepcount-be/pkg/processing"
)

type IJobController interface {
	RegisterRoutes(r fiber.Router, middleware ...fiber.Handler)
	Show(ctx *fiber.Ctx) error
	Health(ctx *fiber.Ctx) error
}

type jobController struct {
	client          processing.IClient
	deviceTransport string
}

func NewJobController(client processing.IClient, deviceTransport string) IJobController {
	return &jobController{client: client, deviceTransport: deviceTransport}
}

func (c *jobController) RegisterRoutes(r fiber.Router, middleware ...fiber.Handler) {
	r.Get("/health", c.Health)

	h := r.Group("/jobs")
	for _, m := range middleware {
		h.Use(m)
	}
	h.Get("/:id", c.Show)
}

func (c *jobController) Show(ctx *fiber.Ctx) error {
	job, ok := c.client.Job(ctx.Params("id"))
	if !ok {
		return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse(404, "job not found"))
	}
	return ctx.JSON(job)
}

func (c *jobController) Health(ctx *fiber.Ctx) error {
	res := dto.HealthResponse{
		Status:          "healthy",
		AnalysisService: "unreachable",
		DeviceTransport: c.deviceTransport,
	}
	if c.client.Healthy(ctx.Context()) {
		res.AnalysisService = "healthy"
	}
	return ctx.JSON(res)
}
