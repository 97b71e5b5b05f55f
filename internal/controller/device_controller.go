package controller

import (
	"github.com/gofiber/fiber/v2"

	"stepcount-be/internal/dto"
	"stepcount-be/internal/pkg/serverutils"
	"stepcount-be/pkg/device"
	"stepcount-be/pkg/transport"
)

type IDeviceController interface {
	RegisterRoutes(r fiber.Router, middleware ...fiber.Handler)
	List(ctx *fiber.Ctx) error
	Authorize(ctx *fiber.Ctx) error
}

type deviceController struct {
	manager device.IManager
}

func NewDeviceController(manager device.IManager) IDeviceController {
	return &deviceController{manager: manager}
}

func (c *deviceController) RegisterRoutes(r fiber.Router, middleware ...fiber.Handler) {
	h := r.Group("/devices")
	for _, m := range middleware {
		h.Use(m)
	}
	h.Get("/", c.List)
	h.Post("/authorize", c.Authorize)
}

func (c *deviceController) List(ctx *fiber.Ctx) error {
	devices, err := c.manager.Discover(ctx.Context())
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(devices)
}

func (c *deviceController) Authorize(ctx *fiber.Ctx) error {
	var req dto.AuthorizeDeviceRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "invalid request body"))
		}
	}
	desc, err := c.manager.Authorize(ctx.Context(), transport.Filter{
		VendorID:  req.VendorID,
		ProductID: req.ProductID,
	})
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(desc)
}
