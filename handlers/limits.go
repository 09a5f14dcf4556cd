package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sahilchouksey/askable/services/quota"
	"github.com/sahilchouksey/askable/utils/middleware"
	"github.com/sahilchouksey/askable/utils/response"
)

// HandleLimits answers GET /limits with the caller's remaining messages.
func HandleLimits(c *fiber.Ctx, ledger *quota.Ledger) error {
	if ledger == nil {
		return response.InternalServerError(c, "quota ledger is not configured")
	}
	return c.JSON(ledger.Remaining(c.UserContext(), middleware.GetIdentity(c)))
}
