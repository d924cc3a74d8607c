package services

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	docs "github.com/aria-access/aria_api/docs"

	"github.com/alphabatem/common/context"
	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberSwagger "github.com/gofiber/swagger"
	log "github.com/sirupsen/logrus"

	"github.com/aria-access/aria_api/services/handlers"
	"github.com/aria-access/aria_api/shared"
)

type HttpService struct {
	context.DefaultService

	authSvc       *AuthService
	rateSvc       *RateLimitService
	monitoringSvc *MonitoringService

	chatHandler     *handlers.ChatHandler
	realtimeHandler *handlers.RealtimeHandler
	speechHandler   *handlers.SpeechHandler
	usageHandler    *handlers.UsageHandler
	adminHandler    *handlers.AdminHandler

	port   int
	server *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *context.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	svc.authSvc = svc.Service(AUTH_SVC).(*AuthService)
	svc.rateSvc = svc.Service(RATE_LIMIT_SVC).(*RateLimitService)
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)

	admissionSvc := svc.Service(ADMISSION_SVC).(*AdmissionService)
	llmSvc := svc.Service(LLM_SVC).(*LLMService)
	speechSvc := svc.Service(SPEECH_SVC).(*SpeechService)
	quotaSvc := svc.Service(QUOTA_SVC).(*QuotaService)
	costSvc := svc.Service(COST_SVC).(*CostService)

	svc.chatHandler = handlers.NewChatHandler(admissionSvc, llmSvc)
	svc.realtimeHandler = handlers.NewRealtimeHandler(admissionSvc, llmSvc)
	svc.speechHandler = handlers.NewSpeechHandler(admissionSvc, speechSvc)
	svc.usageHandler = handlers.NewUsageHandler(quotaSvc)
	svc.adminHandler = handlers.NewAdminHandler(quotaSvc, svc.rateSvc, costSvc)

	docs.SwaggerInfo.BasePath = ""

	app := fiber.New(fiber.Config{
		JSONEncoder:  sonic.Marshal,
		JSONDecoder:  sonic.Unmarshal,
		ErrorHandler: svc.errorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Session-ID",
	}))
	app.Use(MonitoringMiddleware(svc.monitoringSvc))

	app.Get("/ping", svc.ping)
	app.Get("/swagger/*", fiberSwagger.HandlerDefault)

	app.Use(svc.authSvc.ResolveIdentity())
	app.Use(svc.rateSvc.IPRateLimit())

	v1 := app.Group("/api/v1")
	v1.Get("/ping", svc.ping)

	v1.Post("/chat", svc.chatHandler.Chat)
	v1.Post("/realtime/token", svc.realtimeHandler.MintToken)
	v1.Post("/speech", svc.speechHandler.Synthesize)
	v1.Get("/usage", svc.usageHandler.Status)

	admin := v1.Group("/admin", svc.authSvc.RequiredAuth(), svc.authSvc.RequireRole(shared.RoleAdmin))
	admin.Get("/rate-limits", svc.adminHandler.RateLimitStats)
	admin.Put("/rate-limits/:endpoint", svc.adminHandler.UpdateRateLimitConfig)
	admin.Delete("/rate-limits/:endpoint/:identifier", svc.adminHandler.ResetRateLimit)
	admin.Get("/costs/daily", svc.adminHandler.DailyCostReport)
	admin.Get("/costs/range", svc.adminHandler.RangeCostReport)
	admin.Get("/blocked-sessions", svc.adminHandler.BlockedSessions)
	admin.Delete("/blocked-sessions/:sessionKey", svc.adminHandler.Unblock)

	app.Use(func(c *fiber.Ctx) error {
		return shared.NewNotFoundError(errors.New("page not found"), "Not Found")
	})

	svc.server = app

	log.Printf("HTTP service listening on :%v", svc.port)
	return app.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *HttpService) Shutdown() {
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

// @Summary Ping
// @Description This endpoint checks the health of the service
// @Tags health
// @Accept  json
// @Produce json
// @Success 200 {object} shared.Response{data=string}
// @Router /ping [get]
func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set("Cache-Control", "max-age=10")
	return shared.ResponseJSON(c, http.StatusOK, "Success", "pong")
}

// errorHandler renders AppErrors with their status and client-safe message;
// anything else becomes an opaque 500.
func (svc *HttpService) errorHandler(c *fiber.Ctx, err error) error {
	if appErr, ok := shared.GetAppError(err); ok {
		if appErr.StatusCode >= http.StatusInternalServerError {
			log.WithFields(log.Fields{
				"path":   c.Path(),
				"status": appErr.StatusCode,
				"error":  appErr.Error(),
			}).Error("Request failed")
		}
		return shared.ResponseJSON(c, appErr.StatusCode, appErr.Message, appErr.Data)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return shared.ResponseJSON(c, fiberErr.Code, fiberErr.Message, nil)
	}

	log.WithFields(log.Fields{"path": c.Path(), "error": err.Error()}).Error("Unhandled error")
	return shared.ResponseInternalError(c)
}
