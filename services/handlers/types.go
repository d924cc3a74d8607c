package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/aria-access/aria_api/dto"
	"github.com/aria-access/aria_api/shared"
)

type AdmissionServiceInterface interface {
	Admit(c *fiber.Ctx, identity *dto.Identity, endpoint string, opts dto.AdmissionOptions) error
	RecordOutcome(c *fiber.Ctx, identity *dto.Identity, endpoint string)
	RecordSpend(inputTokens, outputTokens int, modelName string)
}

type LLMServiceInterface interface {
	Complete(req *dto.ChatRequest) (*dto.CompletionResult, error)
	MintRealtimeToken() (*dto.RealtimeTokenResponse, error)
	Model() string
}

type SpeechServiceInterface interface {
	Synthesize(req *dto.SpeechRequest) (*dto.SpeechResponse, error)
}

type QuotaServiceInterface interface {
	Status(sessionID, userID string) (*dto.QuotaInfo, error)
	IsBlocked(sessionID string) (*dto.BlockInfo, error)
	Unblock(sessionID string) error
	BlockedSessions() ([]dto.BlockedSessionInfo, error)
}

type RateLimitAdminInterface interface {
	GetStats() (*dto.RateLimitStatsResponse, error)
	UpdateConfig(endpoint string, req dto.UpdateRateLimitConfigRequest) (*dto.RateLimitConfig, error)
	ResetRateLimit(identifier, endpoint string) error
}

type CostReportInterface interface {
	DailyReport(date string) (*dto.CostReportResponse, error)
	RangeReport(days int) (*dto.CostReportResponse, error)
	DailyLimit() float64
}

// identityFromCtx reads the identity the auth middleware resolved.
func identityFromCtx(c *fiber.Ctx) *dto.Identity {
	sessionID, _ := c.Locals(shared.SessionID).(string)
	userID, _ := c.Locals(shared.UserID).(string)
	ip, _ := c.Locals(shared.ClientIP).(string)
	return &dto.Identity{SessionID: sessionID, UserID: userID, IP: ip}
}
