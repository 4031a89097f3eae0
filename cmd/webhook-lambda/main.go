// Package main provides a Lambda entry point for the Telegram webhook.
//
// The Lambda sits behind an API Gateway HTTP API (payload v2) and serves:
//   - GET / : health check
//   - POST /<webhook path>/ : Telegram updates
//
// The bot token is loaded at cold start from TELEGRAM_TOKEN or the SSM
// parameter named by SSM_TOKEN_PARAM. Set GROUP_TABLE so that the photos
// of a media group, which Telegram delivers as separate requests and which
// may land on different containers, are correlated through DynamoDB and S3.
//
// No background goroutine survives between invocations, so stale media
// groups are swept after requests once the sweep interval has passed.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/polybot/internal/config"
	"github.com/fpang/polybot/internal/lambdaboot"
	"github.com/fpang/polybot/internal/logging"
	"github.com/fpang/polybot/internal/webhook"
)

// commitHash is set at build time with -ldflags "-X main.commitHash=...".
var commitHash = "dev"

var (
	app     *lambdaboot.App
	handler http.Handler
)

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load(config.NewViper())
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.GroupTable == "" {
		log.Warn().Msg("GROUP_TABLE not set - media groups split across containers will never complete")
	}

	app, err = lambdaboot.Build(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize bot")
	}

	handler = webhook.NewHandler(app.Dispatcher, cfg.HookPath(app.Token), cfg.WebhookSecret)
	app.StartupLogger("webhook-lambda", initStart).CommitHash(commitHash).Log()
}

func main() {
	mux := http.NewServeMux()
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
		app.SweepIfDue(r.Context())
	}))

	adapter := httpadapter.NewV2(mux)
	lambda.Start(adapter.ProxyWithContext)
}
