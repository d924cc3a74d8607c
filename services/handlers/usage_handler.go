package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/aria-access/aria_api/dto"
	"github.com/aria-access/aria_api/shared"
)

type UsageHandler struct {
	quotaSvc QuotaServiceInterface
}

func NewUsageHandler(quotaSvc QuotaServiceInterface) *UsageHandler {
	return &UsageHandler{quotaSvc: quotaSvc}
}

// @Summary Get usage status
// @Description Report the caller's remaining daily budget without consuming from it
// @Tags usage
// @Produce json
// @Success 200 {object} shared.Response{data=dto.UsageStatusResponse}
// @Router /api/v1/usage [get]
func (h *UsageHandler) Status(c *fiber.Ctx) error {
	identity := identityFromCtx(c)

	quota, err := h.quotaSvc.Status(identity.SessionID, identity.UserID)
	if err != nil {
		return err
	}

	block, err := h.quotaSvc.IsBlocked(identity.SessionID)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "OK", dto.UsageStatusResponse{
		Tier:      quota.Tier,
		Used:      quota.Used,
		Limit:     quota.Limit,
		Remaining: quota.Remaining,
		ResetAt:   quota.ResetAt,
		Blocked:   block.Blocked,
	})
}
