package middleware

import (
	"time"

	"github.com/docshare/linkdrive/pkg/logger"
	"github.com/gofiber/fiber/v2"
)

func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := logger.GenerateRequestID()
		c.Locals("requestID", requestID)

		err := c.Next()

		statusCode := c.Response().StatusCode()
		if err != nil {
			if fiberErr, ok := err.(*fiber.Error); ok {
				statusCode = fiberErr.Code
			}
		}
		ownerID := logger.GetOwnerIDFromContext(c)
		details := map[string]interface{}{
			"method":        c.Method(),
			"path":          c.Path(),
			"query":         string(c.Request().URI().QueryString()),
			"status_code":   statusCode,
			"latency_ms":    time.Since(start).Milliseconds(),
			"user_agent":    c.Get("User-Agent"),
			"ip":            c.IP(),
			"request_body":  logger.GetRequestBodySummary(c),
			"response_body": logger.GetResponseSizeSummary(c),
			"request_id":    requestID,
		}

		switch {
		case ownerID != nil && statusCode >= 500:
			logger.ErrorWithOwner(*ownerID, "http_request", err, details)
		case ownerID != nil && statusCode >= 400:
			logger.WarnWithOwner(*ownerID, "http_request", details)
		case ownerID != nil:
			logger.InfoWithOwner(*ownerID, "http_request", details)
		case statusCode >= 500:
			logger.Error("http_request", err, details)
		case statusCode >= 400:
			logger.Warn("http_request", details)
		default:
			logger.Info("http_request", details)
		}

		return err
	}
}

// SecurityLogger flags requests that probe paths outside the namespace or hit
// missing entries.
func SecurityLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		statusCode := c.Response().StatusCode()
		reason := ""
		switch statusCode {
		case fiber.StatusBadRequest:
			reason = "rejected_input"
		case fiber.StatusNotFound:
			reason = "not_found"
		default:
			return err
		}

		details := map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
			"query":  string(c.Request().URI().QueryString()),
			"ip":     c.IP(),
			"reason": reason,
		}
		if ownerID := logger.GetOwnerIDFromContext(c); ownerID != nil {
			logger.WarnWithOwner(*ownerID, reason, details)
		} else {
			logger.Warn(reason+"_anonymous", details)
		}
		return err
	}
}
