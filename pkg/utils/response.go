package utils

import (
	"github.com/docshare/linkdrive/internal/apperr"
	"github.com/gofiber/fiber/v2"
)

func Success(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// AppError writes err with the status its kind maps to.
func AppError(c *fiber.Ctx, err error) error {
	return Error(c, apperr.HTTPStatus(err), apperr.Message(err))
}

// List wraps a slice with its length so empty results still serialize as [].
func List[T any](c *fiber.Ctx, items []T) error {
	if items == nil {
		items = []T{}
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"data":    items,
		"count":   len(items),
	})
}
