package chat

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/sahilchouksey/askable/services"
	"github.com/sahilchouksey/askable/utils/response"
	"github.com/sahilchouksey/askable/utils/validation"
)

const invalidColumnsMessage = `Invalid input: "columns" array is required.`

// QuestionsHandler suggests starter questions for a dataset.
type QuestionsHandler struct {
	validator *validation.Validator
	questions *services.QuestionService
}

func NewQuestionsHandler(questions *services.QuestionService) *QuestionsHandler {
	return &QuestionsHandler{validator: validation.NewValidator(), questions: questions}
}

type GenerateQuestionsRequest struct {
	Columns []string `json:"columns" validate:"required,min=1"`
}

// Generate handles POST /generate-questions
func (h *QuestionsHandler) Generate(c *fiber.Ctx) error {
	var req GenerateQuestionsRequest
	if err := h.validator.Decode(c.Body(), &req); err != nil {
		return response.BadRequest(c, invalidColumnsMessage)
	}

	questions, err := h.questions.GenerateQuestions(c.UserContext(), req.Columns)
	if errors.Is(err, services.ErrNoColumns) {
		return response.BadRequest(c, invalidColumnsMessage)
	}
	if err != nil {
		return response.InternalServerError(c, "")
	}
	return c.JSON(fiber.Map{"questions": questions})
}
