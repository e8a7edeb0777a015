package handlers

import (
	"strings"

	"github.com/docshare/linkdrive/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const Version = "0.4.0"

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func GetVersion(c *fiber.Ctx) error {
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"version":    Version,
		"apiVersion": "v1",
	})
}

func Health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}

// RegisterRoutes mounts the API under /api. Owner resolution must already be
// installed on app.
func RegisterRoutes(app *fiber.App, files *FilesHandler, content *ContentHandler, reconciliation *ReconciliationHandler) {
	app.Get("/health", Health)

	api := app.Group("/api")
	api.Get("/version", GetVersion)

	fileRoutes := api.Group("/files")
	fileRoutes.Post("/upload", files.Upload)
	fileRoutes.Post("/directory", files.CreateDirectory)
	fileRoutes.Get("/", files.List)
	fileRoutes.Get("/stat", files.Stat)
	fileRoutes.Get("/search", files.SearchFiles)
	fileRoutes.Get("/download", files.Download)
	fileRoutes.Put("/", files.Update)
	fileRoutes.Delete("/", files.Delete)

	api.Get("/content/:hash", content.Resolve)

	reconciliationRoutes := api.Group("/reconciliation")
	reconciliationRoutes.Get("/", reconciliation.List)
	reconciliationRoutes.Put("/:id/resolve", reconciliation.Resolve)
}
