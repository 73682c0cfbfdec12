package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/cinema-sync/internal/cli"
	"github.com/fpang/cinema-sync/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show eligible cinemas, credentials and quota headroom",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		a := newApp(ctx)
		overview, err := a.Orchestrator.Status(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read cinema status")
		}
		printer().Overview(overview)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the Gemini API key against the first configured model",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid configuration")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cli.InitGeminiClient(ctx, cfg.Models[0])
		log.Info().Msg("API key validation complete")
	},
}
