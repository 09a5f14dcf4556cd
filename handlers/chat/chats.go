package chat

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/sahilchouksey/askable/services/chatstore"
	"github.com/sahilchouksey/askable/utils/response"
	"github.com/sahilchouksey/askable/utils/validation"
)

// CreateChatRequest represents the request to create a chat
type CreateChatRequest struct {
	Question   string              `json:"question" validate:"required,notblank"`
	CSVHeaders []string            `json:"csvHeaders" validate:"required,min=1"`
	CSVRows    []map[string]string `json:"csvRows"`
	CSVFileURL string              `json:"csvFileUrl"`
}

// HistoryRequest lists the chat ids kept by the client.
type HistoryRequest struct {
	IDs []string `json:"ids" validate:"required"`
}

// CreateChat handles POST /chats
func (h *ChatHandler) CreateChat(c *fiber.Ctx) error {
	var req CreateChatRequest
	if err := h.validator.Decode(c.Body(), &req); err != nil {
		return response.FromError(c, err, h.production)
	}

	id := h.store.Create(c.UserContext(), chatstore.CreateParams{
		UserQuestion: req.Question,
		CSVHeaders:   req.CSVHeaders,
		CSVRows:      req.CSVRows,
		CSVFileURL:   req.CSVFileURL,
	})

	title := chatstore.FallbackTitle(req.Question)
	if chat, err := h.store.Load(c.UserContext(), id); err == nil && chat.Title != "" {
		title = chat.Title
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    id,
		"title": title,
	})
}

// GetChat handles GET /chats/:id
func (h *ChatHandler) GetChat(c *fiber.Ctx) error {
	chat, err := h.store.Load(c.UserContext(), c.Params("id"))
	if errors.Is(err, chatstore.ErrChatNotFound) {
		return response.NotFound(c, "Chat not found")
	}
	if err != nil {
		return response.InternalServerError(c, "Failed to load chat")
	}
	return c.JSON(chat)
}

// History handles POST /chat/history
func (h *ChatHandler) History(c *fiber.Ctx) error {
	var req HistoryRequest
	if err := h.validator.Decode(c.Body(), &req); err != nil {
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			return response.BadRequest(c, "ids must be an array")
		}
		return response.BadRequest(c, response.InvalidRequestMessage)
	}
	return c.JSON(h.store.History(c.UserContext(), req.IDs))
}
