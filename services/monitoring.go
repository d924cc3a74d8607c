package services

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	MONITORING_SVC          = "monitoring_svc"
	SERVICE_NAME            = "aria_api"
	DEFAULT_PROMETHEUS_PORT = 2112
)

// HTTP metrics
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method", "status"},
	)
)

// Admission metrics
var (
	admissionDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_denials_total",
			Help: "Requests rejected by an admission guard",
		},
		[]string{"endpoint", "guard"},
	)

	admissionAllowedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_allowed_total",
			Help: "Requests admitted through the full guard pipeline",
		},
		[]string{"endpoint"},
	)

	suspicionScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "suspicion_score",
			Help:    "Post-request suspicion scores",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	sessionsBlockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_blocked_total",
			Help: "Sessions blocked after a suspicious verdict",
		},
	)

	upstreamCostUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "upstream_cost_usd_today",
			Help: "Accumulated upstream spend for the current UTC day",
		},
	)
)

type MonitoringService struct {
	context.DefaultService

	port     int
	register *prometheus.Registry

	server *fiber.App
}

func (svc *MonitoringService) Id() string {
	return MONITORING_SVC
}

func (svc *MonitoringService) Start() error {
	portStr := os.Getenv("PROMETHEUS_PORT")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = DEFAULT_PROMETHEUS_PORT
	}
	svc.port = port

	reg := prometheus.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reg.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		admissionDenialsTotal,
		admissionAllowedTotal,
		suspicionScore,
		sessionsBlockedTotal,
		upstreamCostUSD,
	)

	svc.register = reg

	config := fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
		},
	}

	svc.server = fiber.New(config)
	svc.server.Use(recover.New())

	svc.server.Get("/metrics", svc.metricsHandler)
	svc.server.Get("/health", svc.healthHandler)

	// The metrics listener must not hold up the main HTTP service.
	go func() {
		if err := svc.server.Listen(fmt.Sprintf(":%v", svc.port)); err != nil {
			log.Error().Err(err).Msg("Prometheus metrics server stopped")
		}
	}()

	log.Info().Int("port", svc.port).Msg("Prometheus metrics server started")
	return nil
}

func (svc *MonitoringService) Shutdown() {
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

func (svc *MonitoringService) metricsHandler(c *fiber.Ctx) error {
	handler := promhttp.HandlerFor(svc.register, promhttp.HandlerOpts{})
	return adaptor.HTTPHandler(handler)(c)
}

func (svc *MonitoringService) healthHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":    "healthy",
		"service":   SERVICE_NAME,
		"timestamp": time.Now().Unix(),
	})
}

func (svc *MonitoringService) RecordDenial(endpoint, guard string) {
	admissionDenialsTotal.WithLabelValues(endpoint, guard).Inc()
}

func (svc *MonitoringService) RecordAdmission(endpoint string) {
	admissionAllowedTotal.WithLabelValues(endpoint).Inc()
}

func (svc *MonitoringService) RecordSuspicionScore(score int) {
	suspicionScore.Observe(float64(score))
}

func (svc *MonitoringService) RecordSessionBlocked() {
	sessionsBlockedTotal.Inc()
}

func (svc *MonitoringService) SetDailyCost(cost float64) {
	upstreamCostUSD.Set(cost)
}

// MonitoringMiddleware records request counts and latency per route.
func MonitoringMiddleware(monitoringSvc *MonitoringService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}

		start := time.Now()
		method := c.Method()

		err := c.Next()

		endpoint := c.Route().Path
		duration := time.Since(start)
		status := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(endpoint, method, status).Observe(duration.Seconds())

		return err
	}
}
