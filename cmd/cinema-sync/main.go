// Command cinema-sync refreshes the movie listings stored for each cinema.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/cinema-sync/internal/app"
	"github.com/fpang/cinema-sync/internal/auth"
	"github.com/fpang/cinema-sync/internal/cli"
	"github.com/fpang/cinema-sync/internal/config"
	"github.com/fpang/cinema-sync/internal/logging"
	"github.com/fpang/cinema-sync/internal/metrics"
	"github.com/fpang/cinema-sync/internal/store"
)

// CLI flags
var (
	allFlag     bool
	yesFlag     bool
	noColorFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "cinema-sync",
	Short: "Keep cinema movie listings in sync with their websites",
	Long: `cinema-sync reads each cinema's listing page, asks Gemini which movies are
showing, resolves them against TMDB, and stores the resulting movie IDs.

Gemini and TMDB keys are read from GEMINI_API_KEY and TMDB_API_KEY, or from
gpg-encrypted files under ~/.cinema-sync.

Examples:
  cinema-sync status
  cinema-sync update cine-sol-madrid
  cinema-sync update --all --yes
  cinema-sync check`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
		// EMF lines are for CloudWatch; keep the terminal clean.
		metrics.SetOutput(io.Discard)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "Disable colored output")
	rootCmd.AddCommand(updateCmd, statusCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext is cancelled on Ctrl-C so the browser is released.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadConfig resolves configuration and credentials. Missing credentials are
// left empty; commands that need them fail with a clear error.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = optionalKey(auth.Gemini)
	}
	if cfg.TMDBAPIKey == "" {
		cfg.TMDBAPIKey = optionalKey(auth.TMDB)
	}
	return cfg
}

func optionalKey(c auth.Credential) string {
	key, err := auth.GetAPIKey(c)
	if err != nil {
		log.Debug().Err(err).Str("credential", c.Name).Msg("Credential not available")
		return ""
	}
	return key
}

// newApp loads AWS config, opens the cinema table, and assembles the pipeline.
func newApp(ctx context.Context) *app.App {
	cfg := loadConfig()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	cinemas := store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.TableName)

	a, err := app.Build(ctx, cfg, cinemas, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble pipeline")
	}
	log.Debug().Str("table", cfg.TableName).Str("region", awsCfg.Region).Msg("Cinema store ready")
	return a
}

func printer() *cli.Printer {
	return cli.NewPrinter(os.Stdout, !noColorFlag)
}
