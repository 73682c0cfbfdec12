// Package main is the Lambda entry point for the scheduled listing sync.
//
// An EventBridge schedule invokes it daily to run a batch over every
// eligible cinema. Invoking it with {"cinemaId": "..."} syncs one cinema.
//
// Container: Browser (headless Chromium for rendered listing pages)
// Timeout: 15 minutes
package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cinema-sync/internal/app"
	"github.com/fpang/cinema-sync/internal/config"
	"github.com/fpang/cinema-sync/internal/lambdaboot"
	"github.com/fpang/cinema-sync/internal/logging"
)

var (
	coldStart = true
	syncApp   *app.App
)

// boot runs once per cold start, outside init so tests of the handler do
// not reach AWS.
func boot() {
	initStart := time.Now()
	logging.InitJSON()

	ctx := context.Background()
	aws := lambdaboot.InitAWS(ctx)
	lambdaboot.LoadSecrets(ctx, aws.SSM, lambdaboot.GeminiKey, lambdaboot.TMDBKey)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	cinemas := lambdaboot.InitStore(aws.Config, cfg.TableName)

	syncApp, err = app.Build(ctx, cfg, cinemas, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble pipeline")
	}

	lambdaboot.StartupLog("sync-lambda", initStart).
		CommitHash(os.Getenv("COMMIT_HASH")).
		DynamoTable("cinemas", cfg.TableName).
		SSMParam("geminiApiKey", lambdaboot.GeminiKey.ParamName()).
		SSMParam("tmdbApiKey", lambdaboot.TMDBKey.ParamName()).
		Feature("gemini", cfg.GeminiAPIKey != "").
		Feature("tmdb", cfg.TMDBAPIKey != "").
		Config("models", strconv.Itoa(len(cfg.Models))).
		Config("fetchMode", string(cfg.Fetch.Mode)).
		Config("batchDelay", cfg.BatchDelay.String()).
		Log()
}

func main() {
	boot()
	lambda.Start(handler)
}

func handler(ctx context.Context, event SyncEvent) (*SyncResult, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "sync-lambda").Msg("Cold start, first invocation")
	} else {
		syncApp.ResetCaches()
	}
	return handle(ctx, syncApp.Orchestrator, event)
}
