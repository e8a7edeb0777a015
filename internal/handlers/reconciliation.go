package handlers

import (
	"github.com/docshare/linkdrive/internal/middleware"
	"github.com/docshare/linkdrive/internal/mirror"
	"github.com/docshare/linkdrive/pkg/logger"
	"github.com/docshare/linkdrive/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type ReconciliationHandler struct {
	Mirror *mirror.Mirror
}

func NewReconciliationHandler(m *mirror.Mirror) *ReconciliationHandler {
	return &ReconciliationHandler{Mirror: m}
}

func (h *ReconciliationHandler) List(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return utils.Error(c, fiber.StatusUnauthorized, "owner not resolved")
	}

	tasks, err := h.Mirror.OpenTasks(c.UserContext(), ownerID)
	if err != nil {
		return writeError(c, ownerID.String(), "reconciliation_list_failed", err)
	}
	return utils.List(c, tasks)
}

// Resolve marks a task handled once an operator has repaired the divergence.
func (h *ReconciliationHandler) Resolve(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return utils.Error(c, fiber.StatusUnauthorized, "owner not resolved")
	}

	taskID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid task id")
	}
	if err := h.Mirror.ResolveTask(c.UserContext(), ownerID, taskID); err != nil {
		return writeError(c, ownerID.String(), "reconciliation_resolve_failed", err)
	}

	logger.InfoWithOwner(ownerID.String(), "reconciliation_resolved", map[string]interface{}{
		"task_id": taskID.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"id": taskID, "status": "resolved"})
}
