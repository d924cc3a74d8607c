package dto

import "time"

// Identity is the resolved caller of one request.
type Identity struct {
	SessionID string
	UserID    string
	IP        string
}

// AdmissionOptions selects which optional guards apply to an endpoint.
type AdmissionOptions struct {
	// TokenThrottle adds the minimum-interval gate used by credential minting.
	TokenThrottle bool
	// CostGuard adds the global daily spend ceiling.
	CostGuard bool
}

type RateLimitInfo struct {
	Allowed   bool       `json:"allowed"`
	Remaining int        `json:"remaining"`
	ResetTime *time.Time `json:"reset_time,omitempty"`
}

type ThrottleInfo struct {
	Allowed           bool `json:"allowed"`
	RetryAfterSeconds int  `json:"retry_after_seconds,omitempty"`
}

type QuotaInfo struct {
	Allowed   bool      `json:"allowed"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"` // -1 means unlimited
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Tier      string    `json:"tier"`
}

type CostCheckResult struct {
	Allowed   bool    `json:"allowed"`
	DailyCost float64 `json:"daily_cost"`
	Limit     float64 `json:"limit"`
	Reason    string  `json:"reason,omitempty"`
}

type SuspicionResult struct {
	IsSuspicious bool   `json:"is_suspicious"`
	Score        int    `json:"score"`
	Reason       string `json:"reason,omitempty"`
}

type FingerprintResult struct {
	IsSuspicious bool   `json:"is_suspicious"`
	Reason       string `json:"reason,omitempty"`
	IPCount      int64  `json:"ip_count"`
}

type BlockInfo struct {
	Blocked bool       `json:"blocked"`
	Until   *time.Time `json:"until,omitempty"`
}

type UsageStatusResponse struct {
	Tier      string    `json:"tier"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Blocked   bool      `json:"blocked"`
}

type RateLimitStatsResponse struct {
	Configs        interface{} `json:"configs"`
	TotalRecords   int64       `json:"total_records"`
	BlockedRecords int64       `json:"blocked_records"`
	Timestamp      time.Time   `json:"timestamp"`
}

type RateLimitConfig struct {
	Endpoint    string        `json:"endpoint"`
	MaxRequests int           `json:"max_requests"`
	WindowSize  time.Duration `json:"window_size"`
	Description string        `json:"description"`
	IsActive    bool          `json:"is_active"`
}

type UpdateRateLimitConfigRequest struct {
	MaxRequests int    `json:"max_requests"`
	WindowSize  string `json:"window_size"`
	IsActive    *bool  `json:"is_active"`
}

type CostReportResponse struct {
	From         string  `json:"from"`
	To           string  `json:"to"`
	TotalCost    float64 `json:"total_cost"`
	RequestCount int64   `json:"request_count"`
	TokenCount   int64   `json:"token_count"`
	Days         int     `json:"days"`
}

type BlockedSessionInfo struct {
	SessionKey   string     `json:"session_key"`
	UserID       string     `json:"user_id,omitempty"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	LastUsedAt   time.Time  `json:"last_used_at"`
}
