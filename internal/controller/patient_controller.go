package controller

import (
	"github.com/gofiber/fiber/v2"

	"stepcount-be/pkg/patientdir"
)

type IPatientController interface {
	RegisterRoutes(r fiber.Router, middleware ...fiber.Handler)
	Show(ctx *fiber.Ctx) error
}

// patientController proxies the external patient directory so the operator
// UI talks to a single origin.
type patientController struct {
	directory patientdir.IClient
}

func NewPatientController(directory patientdir.IClient) IPatientController {
	return &patientController{directory: directory}
}

func (c *patientController) RegisterRoutes(r fiber.Router, middleware ...fiber.Handler) {
	h := r.Group("/patients")
	for _, m := range middleware {
		h.Use(m)
	}
	h.Get("/:id", c.Show)
}

func (c *patientController) Show(ctx *fiber.Ctx) error {
	patient, err := c.directory.GetPatient(ctx.Context(), ctx.Params("id"))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(patient)
}
