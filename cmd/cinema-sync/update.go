package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/cinema-sync/internal/cli"
	"github.com/fpang/cinema-sync/internal/config"
	"github.com/fpang/cinema-sync/internal/pipeline"
)

var updateCmd = &cobra.Command{
	Use:   "update [cinema-id]",
	Short: "Sync one cinema, or every eligible cinema with --all",
	Args: func(cmd *cobra.Command, args []string) error {
		switch {
		case allFlag && len(args) > 0:
			return errors.New("pass a cinema ID or --all, not both")
		case !allFlag && len(args) != 1:
			return errors.New("a cinema ID is required unless --all is set")
		}
		return nil
	},
	Run: runUpdate,
}

func init() {
	updateCmd.Flags().BoolVar(&allFlag, "all", false, "Sync every eligible cinema within today's quota")
	updateCmd.Flags().BoolVarP(&yesFlag, "yes", "y", false, "Skip the confirmation prompt")
}

func runUpdate(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	a := newApp(ctx)
	p := printer()

	if !allFlag {
		out := a.Orchestrator.UpdateOne(ctx, args[0])
		p.Outcome(out)
		p.Quota(a.Governor.Snapshot())
		if out.Status == pipeline.StatusFailed {
			cancel()
			os.Exit(1)
		}
		return
	}

	overview, err := a.Orchestrator.Status(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read cinema status")
	}
	if !yesFlag {
		question := fmt.Sprintf("Sync up to %d of %d cinemas with a URL?", overview.BatchCap, overview.WithURL)
		if !cli.Confirm(os.Stdin, os.Stdout, question) {
			log.Info().Msg("Update cancelled")
			return
		}
	}

	report, err := a.Orchestrator.UpdateAll(ctx)
	if err != nil {
		if errors.Is(err, config.ErrMissingConfiguration) {
			log.Fatal().Err(err).Msg("Set GEMINI_API_KEY and TMDB_API_KEY, or store them under ~/.cinema-sync")
		}
		log.Fatal().Err(err).Msg("Batch update failed")
	}
	p.Report(report)
}
