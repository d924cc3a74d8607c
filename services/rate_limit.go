package services

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/aria-access/aria_api/dto"
	"github.com/aria-access/aria_api/shared"
)

// RateLimitService bounds request frequency per (identifier, endpoint) pair
// inside a fixed window. The window state lives in the shared store so limits
// hold across instances and restarts.
type RateLimitService struct {
	context.DefaultService

	configs map[string]*dto.RateLimitConfig
	mutex   sync.RWMutex

	sqlSvc *PostgresService
}

const RATE_LIMIT_SVC = "rate_limit_svc"

func (svc RateLimitService) Id() string {
	return RATE_LIMIT_SVC
}

func (svc *RateLimitService) Configure(ctx *context.Context) error {
	svc.configs = make(map[string]*dto.RateLimitConfig)
	return svc.DefaultService.Configure(ctx)
}

func (svc *RateLimitService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	svc.initDefaultConfigs()
	return nil
}

func (svc *RateLimitService) initDefaultConfigs() {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	svc.configs = map[string]*dto.RateLimitConfig{
		shared.EndpointChat: {
			Endpoint:    shared.EndpointChat,
			MaxRequests: 30,
			WindowSize:  time.Minute,
			Description: "Chat completion rate limit",
			IsActive:    true,
		},
		shared.EndpointRealtimeToken: {
			Endpoint:    shared.EndpointRealtimeToken,
			MaxRequests: 20,
			WindowSize:  time.Minute,
			Description: "Realtime token issuance rate limit",
			IsActive:    true,
		},
		shared.EndpointSpeech: {
			Endpoint:    shared.EndpointSpeech,
			MaxRequests: 50,
			WindowSize:  time.Minute,
			Description: "Speech synthesis rate limit",
			IsActive:    true,
		},
		"api_general": {
			Endpoint:    "api_general",
			MaxRequests: 1000,
			WindowSize:  time.Hour,
			Description: "General API rate limit per IP",
			IsActive:    true,
		},
	}
}

// ==================== CORE RATE LIMITING LOGIC ====================

// CheckAndConsume runs the fixed-window check for one request. A request
// that lands exactly at the limit is denied, not allowed. Storage errors
// propagate; this guard fails closed.
func (svc *RateLimitService) CheckAndConsume(identifier string, limit int, endpoint string, window time.Duration) (*dto.RateLimitInfo, error) {
	now := time.Now()

	rateWindow, err := svc.sqlSvc.GetRateWindow(identifier, endpoint)
	if err != nil {
		return nil, err
	}

	if rateWindow == nil {
		created, err := svc.sqlSvc.CreateRateWindow(identifier, endpoint, now.Add(window))
		if err == nil {
			return &dto.RateLimitInfo{
				Allowed:   true,
				Remaining: limit - 1,
				ResetTime: &created.ResetAt,
			}, nil
		}
		if !isDuplicateKey(err) {
			return nil, err
		}
		// Another request created the window first; consume theirs.
		rateWindow, err = svc.sqlSvc.GetRateWindow(identifier, endpoint)
		if err != nil {
			return nil, err
		}
		if rateWindow == nil {
			return nil, fmt.Errorf("rate window vanished for %s/%s", identifier, endpoint)
		}
	}

	if !now.Before(rateWindow.ResetAt) {
		resetAt := now.Add(window)
		rolled, err := svc.sqlSvc.RolloverRateWindow(rateWindow.ID, resetAt)
		if err != nil {
			return nil, err
		}
		if rolled {
			return &dto.RateLimitInfo{
				Allowed:   true,
				Remaining: limit - 1,
				ResetTime: &resetAt,
			}, nil
		}
		// Lost the rollover race; re-read and fall through to a plain consume.
		rateWindow, err = svc.sqlSvc.GetRateWindow(identifier, endpoint)
		if err != nil {
			return nil, err
		}
		if rateWindow == nil {
			return nil, fmt.Errorf("rate window vanished for %s/%s", identifier, endpoint)
		}
	}

	consumed, err := svc.sqlSvc.ConsumeRateWindow(rateWindow.ID, limit)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return &dto.RateLimitInfo{
			Allowed:   false,
			Remaining: 0,
			ResetTime: &rateWindow.ResetAt,
		}, nil
	}

	updated, err := svc.sqlSvc.GetRateWindow(identifier, endpoint)
	if err != nil || updated == nil {
		// The consume already happened; report conservatively.
		return &dto.RateLimitInfo{
			Allowed:   true,
			Remaining: 0,
			ResetTime: &rateWindow.ResetAt,
		}, nil
	}

	remaining := limit - updated.RequestCount
	if remaining < 0 {
		remaining = 0
	}
	return &dto.RateLimitInfo{
		Allowed:   true,
		Remaining: remaining,
		ResetTime: &updated.ResetAt,
	}, nil
}

// Allow applies the configured policy for an endpoint. Endpoints without an
// active config are allowed through.
func (svc *RateLimitService) Allow(identifier, endpoint string) (*dto.RateLimitInfo, error) {
	svc.mutex.RLock()
	config, exists := svc.configs[endpoint]
	svc.mutex.RUnlock()

	if !exists || !config.IsActive {
		return &dto.RateLimitInfo{Allowed: true, Remaining: -1}, nil
	}

	return svc.CheckAndConsume(identifier, config.MaxRequests, endpoint, config.WindowSize)
}

// ==================== MIDDLEWARE ====================

// IPRateLimit applies the general per-IP limit in front of every route.
// This guard fails closed: a storage outage must not grant unmetered access
// to the paid upstream APIs.
func (svc *RateLimitService) IPRateLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := GetClientIP(c)

		info, err := svc.Allow(ip, "api_general")
		if err != nil {
			log.WithFields(log.Fields{"ip": ip, "error": err.Error()}).Error("IP rate limit check failed")
			return shared.NewServiceUnavailableError(err, "Service temporarily unavailable. Please try again later.", nil)
		}

		svc.AddRateLimitHeaders(c, info)

		if !info.Allowed {
			return shared.NewTooManyRequestsError(nil, "Too many requests. Please slow down.", fiber.Map{
				"retry_after": retryAfterSeconds(info.ResetTime),
			})
		}

		return c.Next()
	}
}

// ==================== HELPERS ====================

func (svc *RateLimitService) AddRateLimitHeaders(c *fiber.Ctx, info *dto.RateLimitInfo) {
	if info == nil {
		return
	}

	if info.Remaining >= 0 {
		c.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	}

	if info.ResetTime != nil {
		c.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}

	if !info.Allowed {
		if retry := retryAfterSeconds(info.ResetTime); retry > 0 {
			c.Set("Retry-After", strconv.Itoa(retry))
		}
	}
}

func retryAfterSeconds(resetTime *time.Time) int {
	if resetTime == nil {
		return 0
	}
	remaining := time.Until(*resetTime)
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}

// ==================== ADMIN ====================

func (svc *RateLimitService) GetStats() (*dto.RateLimitStatsResponse, error) {
	svc.mutex.RLock()
	configs := make(map[string]*dto.RateLimitConfig, len(svc.configs))
	for k, v := range svc.configs {
		configs[k] = v
	}
	svc.mutex.RUnlock()

	totalRecords, err := svc.sqlSvc.CountRateWindows()
	if err != nil {
		return nil, err
	}

	blocked, err := svc.sqlSvc.GetBlockedSessions(time.Now())
	if err != nil {
		return nil, err
	}

	return &dto.RateLimitStatsResponse{
		Configs:        configs,
		TotalRecords:   totalRecords,
		BlockedRecords: int64(len(blocked)),
		Timestamp:      time.Now(),
	}, nil
}

func (svc *RateLimitService) UpdateConfig(endpoint string, req dto.UpdateRateLimitConfigRequest) (*dto.RateLimitConfig, error) {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	config, exists := svc.configs[endpoint]
	if !exists {
		return nil, shared.NewNotFoundError(fmt.Errorf("unknown endpoint %q", endpoint), "Endpoint not found")
	}

	if req.MaxRequests > 0 {
		config.MaxRequests = req.MaxRequests
	}
	if req.WindowSize != "" {
		if duration, err := time.ParseDuration(req.WindowSize); err == nil {
			config.WindowSize = duration
		}
	}
	if req.IsActive != nil {
		config.IsActive = *req.IsActive
	}

	return config, nil
}

func (svc *RateLimitService) ResetRateLimit(identifier, endpoint string) error {
	return svc.sqlSvc.DeleteRateWindow(identifier, endpoint)
}

// ==================== UTILITY FUNCTIONS ====================

// GetClientIP resolves the originating client address: first entry of the
// forwarded-for chain when present, then the proxy headers, then the socket.
func GetClientIP(c *fiber.Ctx) string {
	forwarded := c.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			ip := strings.TrimSpace(ips[0])
			if ip != "" {
				return ip
			}
		}
	}

	realIP := c.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	cfIP := c.Get("CF-Connecting-IP")
	if cfIP != "" {
		return cfIP
	}

	ip, _, err := net.SplitHostPort(c.Context().RemoteAddr().String())
	if err != nil {
		return c.Context().RemoteAddr().String()
	}

	return ip
}
