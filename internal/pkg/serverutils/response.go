package serverutils

import "github.com/gofiber/fiber/v2"

// ErrorResponse is the JSON error envelope all controllers return.
func ErrorResponse(code int, message string) fiber.Map {
	return fiber.Map{
		"error":   true,
		"code":    code,
		"message": message,
	}
}
