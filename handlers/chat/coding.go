package chat

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sahilchouksey/askable/model"
	"github.com/sahilchouksey/askable/services/execution"
	"github.com/sahilchouksey/askable/utils/response"
)

// CodingRequest is the body of POST /coding. session_id is accepted for
// older clients.
type CodingRequest struct {
	Code            string                `json:"code"`
	ID              string                `json:"id"`
	SessionID       string                `json:"sessionId"`
	LegacySessionID string                `json:"session_id"`
	Files           []execution.NamedFile `json:"files" validate:"omitempty,dive"`
}

// RunCode handles POST /coding
func (h *ChatHandler) RunCode(c *fiber.Ctx) error {
	var req CodingRequest
	if err := h.validator.Decode(c.Body(), &req); err != nil {
		return response.FromError(c, err, h.production)
	}
	if req.SessionID == "" {
		req.SessionID = req.LegacySessionID
	}

	result, err := h.chatService.RunCode(c.UserContext(), req.ID, execution.Job{
		Code:      req.Code,
		Files:     req.Files,
		SessionID: req.SessionID,
	})
	if err != nil {
		return response.FromError(c, err, h.production)
	}

	switch {
	case result.Outcome() == model.OutcomeTimedOut:
		return response.Error(c, fiber.StatusGatewayTimeout, result.ErrorMessage)
	case result.Failed() && result.ErrorKind == model.ErrorKindProvider:
		if h.production {
			return response.Error(c, fiber.StatusBadGateway, "Code execution is unavailable")
		}
		return response.Error(c, fiber.StatusBadGateway, result.ErrorMessage)
	}
	return c.JSON(result)
}
