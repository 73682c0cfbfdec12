// Package lambdaboot holds the cold-start bootstrap of the sync Lambda:
// AWS config, the cinema store, secrets from SSM Parameter Store, and the
// startup log event.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cinema-sync/internal/logging"
	"github.com/fpang/cinema-sync/internal/store"
)

// AWSClients holds the AWS SDK clients shared by the binaries.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config. It exits fatally on failure.
func InitAWS(ctx context.Context) AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitStore creates the DynamoDB cinema store for tableName.
func InitStore(cfg aws.Config, tableName string) *store.DynamoStore {
	if tableName == "" {
		log.Fatal().Msg("Cinema table name is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// ParameterGetter reads one SSM parameter. *ssm.Client implements it.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

var _ ParameterGetter = (*ssm.Client)(nil)

// Secret is an environment variable that may be filled from SSM.
type Secret struct {
	EnvVar string
	// ParamEnvVar overrides DefaultParam when set.
	ParamEnvVar  string
	DefaultParam string
}

var (
	GeminiKey = Secret{EnvVar: "GEMINI_API_KEY", ParamEnvVar: "SSM_GEMINI_KEY_PARAM", DefaultParam: "/cinema-sync/prod/gemini-api-key"}
	TMDBKey   = Secret{EnvVar: "TMDB_API_KEY", ParamEnvVar: "SSM_TMDB_KEY_PARAM", DefaultParam: "/cinema-sync/prod/tmdb-api-key"}
)

// ParamName is the SSM path the secret is read from.
func (s Secret) ParamName() string {
	return logging.EnvOrDefault(s.ParamEnvVar, s.DefaultParam)
}

// LoadSecret sets s.EnvVar from SSM unless it is already set.
func LoadSecret(ctx context.Context, client ParameterGetter, s Secret) error {
	if os.Getenv(s.EnvVar) != "" {
		return nil
	}
	paramName := s.ParamName()
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("read %s from SSM %s: %w", s.EnvVar, paramName, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return fmt.Errorf("SSM parameter %s has no value", paramName)
	}
	os.Setenv(s.EnvVar, *result.Parameter.Value)
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	return nil
}

// LoadSecrets loads every secret, logging the ones that could not be read.
// Missing secrets surface later as a missing-configuration error.
func LoadSecrets(ctx context.Context, client ParameterGetter, secrets ...Secret) {
	for _, s := range secrets {
		if err := LoadSecret(ctx, client, s); err != nil {
			log.Warn().Err(err).Str("envVar", s.EnvVar).Msg("Secret not available")
		}
	}
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
