package main

import (
	"github.com/aria-access/aria_api/services"

	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// @title ARIA API
// @version 1.0
// @description Admission-controlled backend for the ARIA accessible AI assistant
// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
func main() {
	err := godotenv.Load()
	if err != nil {
		log.Warn().Err(err).Msg("No .env file loaded")
	}

	ctx, err := context.NewCtx(
		&services.JWTService{},
		&services.PostgresService{},
		&services.RedisService{},

		&services.SubscriptionService{},
		&services.RateLimitService{},
		&services.TokenThrottleService{},
		&services.QuotaService{},
		&services.CostService{},
		&services.SuspicionService{},
		&services.FingerprintService{},

		&services.AuthService{},
		&services.LLMService{},
		&services.MinIOService{},
		&services.SpeechService{},
		&services.AdmissionService{},

		&services.MonitoringService{},
		&services.HttpService{},
	)
	if err != nil {
		log.Fatal().Err(err)
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err)
		return
	}
}
