package handlers

import (
	"strconv"

	"github.com/docshare/linkdrive/internal/services"
	"github.com/docshare/linkdrive/pkg/logger"
	"github.com/docshare/linkdrive/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type ContentHandler struct {
	Gateway *services.Gateway
}

func NewContentHandler(gateway *services.Gateway) *ContentHandler {
	return &ContentHandler{Gateway: gateway}
}

// Resolve fetches an object by content hash through the gateway chain.
func (h *ContentHandler) Resolve(c *fiber.Ctx) error {
	hash := c.Params("hash")
	content, err := h.Gateway.Resolve(c.UserContext(), hash)
	if err != nil {
		logger.Warn("content_resolve_failed", map[string]interface{}{
			"hash":  hash,
			"error": err.Error(),
		})
		return utils.AppError(c, err)
	}

	c.Set("Content-Type", content.ContentType)
	c.Set("X-Content-Strategy", content.Strategy)
	c.Set("Cache-Control", "public, max-age=31536000, immutable")
	if content.Size >= 0 {
		c.Set("X-Content-Size", strconv.FormatInt(content.Size, 10))
		return c.SendStream(content.Body, int(content.Size))
	}
	return c.SendStream(content.Body)
}
