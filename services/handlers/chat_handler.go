package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/aria-access/aria_api/dto"
	"github.com/aria-access/aria_api/shared"
)

type ChatHandler struct {
	admissionSvc AdmissionServiceInterface
	llmSvc       LLMServiceInterface
}

func NewChatHandler(admissionSvc AdmissionServiceInterface, llmSvc LLMServiceInterface) *ChatHandler {
	return &ChatHandler{
		admissionSvc: admissionSvc,
		llmSvc:       llmSvc,
	}
}

// @Summary Send a chat message
// @Description Run the admission pipeline, forward the conversation to the assistant and return its reply
// @Tags chat
// @Accept json
// @Produce json
// @Param chatRequest body dto.ChatRequest true "Message and optional history"
// @Success 200 {object} shared.Response{data=dto.ChatResponse}
// @Router /api/v1/chat [post]
func (h *ChatHandler) Chat(c *fiber.Ctx) error {
	var req dto.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return err
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	identity := identityFromCtx(c)

	err := h.admissionSvc.Admit(c, identity, shared.EndpointChat, dto.AdmissionOptions{CostGuard: true})
	if err != nil {
		return err
	}
	defer h.admissionSvc.RecordOutcome(c, identity, shared.EndpointChat)

	result, err := h.llmSvc.Complete(&req)
	if err != nil {
		return err
	}

	h.admissionSvc.RecordSpend(result.InputTokens, result.OutputTokens, h.llmSvc.Model())

	return shared.ResponseJSON(c, http.StatusOK, "OK", dto.ChatResponse{
		Reply: result.Text,
		Usage: dto.TokenUsage{
			InputTokens:  result.InputTokens,
			OutputTokens: result.OutputTokens,
		},
	})
}
