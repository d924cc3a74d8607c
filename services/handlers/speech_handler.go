package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/aria-access/aria_api/dto"
	"github.com/aria-access/aria_api/shared"
)

type SpeechHandler struct {
	admissionSvc AdmissionServiceInterface
	speechSvc    SpeechServiceInterface
}

func NewSpeechHandler(admissionSvc AdmissionServiceInterface, speechSvc SpeechServiceInterface) *SpeechHandler {
	return &SpeechHandler{
		admissionSvc: admissionSvc,
		speechSvc:    speechSvc,
	}
}

// @Summary Synthesize speech
// @Description Convert text to audio and return a short-lived download URL
// @Tags speech
// @Accept json
// @Produce json
// @Param speechRequest body dto.SpeechRequest true "Text and optional voice"
// @Success 200 {object} shared.Response{data=dto.SpeechResponse}
// @Router /api/v1/speech [post]
func (h *SpeechHandler) Synthesize(c *fiber.Ctx) error {
	var req dto.SpeechRequest
	if err := c.BodyParser(&req); err != nil {
		return err
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	identity := identityFromCtx(c)

	err := h.admissionSvc.Admit(c, identity, shared.EndpointSpeech, dto.AdmissionOptions{CostGuard: true})
	if err != nil {
		return err
	}
	defer h.admissionSvc.RecordOutcome(c, identity, shared.EndpointSpeech)

	resp, err := h.speechSvc.Synthesize(&req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "OK", resp)
}
