package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/aria-access/aria_api/dto"
	"github.com/aria-access/aria_api/shared"
)

type RealtimeHandler struct {
	admissionSvc AdmissionServiceInterface
	llmSvc       LLMServiceInterface
}

func NewRealtimeHandler(admissionSvc AdmissionServiceInterface, llmSvc LLMServiceInterface) *RealtimeHandler {
	return &RealtimeHandler{
		admissionSvc: admissionSvc,
		llmSvc:       llmSvc,
	}
}

// @Summary Mint a realtime session token
// @Description Issue a short-lived token the browser uses to open its own realtime voice connection
// @Tags realtime
// @Produce json
// @Success 200 {object} shared.Response{data=dto.RealtimeTokenResponse}
// @Router /api/v1/realtime/token [post]
func (h *RealtimeHandler) MintToken(c *fiber.Ctx) error {
	identity := identityFromCtx(c)

	err := h.admissionSvc.Admit(c, identity, shared.EndpointRealtimeToken, dto.AdmissionOptions{
		TokenThrottle: true,
		CostGuard:     true,
	})
	if err != nil {
		return err
	}
	defer h.admissionSvc.RecordOutcome(c, identity, shared.EndpointRealtimeToken)

	token, err := h.llmSvc.MintRealtimeToken()
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "OK", token)
}
