package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/dialogbot/core/bootstrap"
	coreconfig "github.com/m3rciful/dialogbot/core/config"
	"github.com/m3rciful/dialogbot/core/dialog/state"
	"github.com/m3rciful/dialogbot/core/dialog/validator"
	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/paramstore"
)

const component = "app"

// needsAWS reports whether any configured component talks to AWS.
func needsAWS(cfg *coreconfig.Config) bool {
	return cfg.Storage.Backend == coreconfig.BackendDynamo ||
		(cfg.Telegram.Token == "" && cfg.Telegram.TokenParam != "")
}

func loadAWS(ctx context.Context, cfg *coreconfig.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("app: load aws config: %w", err)
	}
	return awsCfg, nil
}

// resolveToken fills cfg.Telegram.Token from SSM when only a parameter name is set.
func resolveToken(ctx context.Context, cfg *coreconfig.Config, awsCfg *aws.Config) error {
	if cfg.Telegram.Token != "" {
		return nil
	}
	var getter paramstore.Getter
	if awsCfg != nil {
		client, err := paramstore.New(ssm.NewFromConfig(*awsCfg))
		if err != nil {
			return err
		}
		getter = client
	}
	token, err := paramstore.Resolve(ctx, getter, cfg.Telegram.Token, cfg.Telegram.TokenParam)
	if err != nil {
		return fmt.Errorf("app: resolve bot token: %w", err)
	}
	cfg.Telegram.Token = token
	return nil
}

// openBackend selects the dialog state store named by storage.backend.
func openBackend(cfg *coreconfig.Config, db *sqlx.DB, awsCfg *aws.Config) (state.Backend, error) {
	var (
		backend state.Backend
		err     error
	)
	switch cfg.Storage.Backend {
	case coreconfig.BackendPostgres, coreconfig.BackendSQLite:
		backend, err = state.NewSQLBackend(db)
	case coreconfig.BackendDynamo:
		if awsCfg == nil {
			return nil, fmt.Errorf("app: dynamodb backend needs aws config")
		}
		backend, err = state.NewDynamoBackend(dynamodb.NewFromConfig(*awsCfg), cfg.Storage.DynamoTable)
	case coreconfig.BackendMemory:
		backend = state.NewMemoryBackend()
	default:
		return nil, fmt.Errorf("app: unsupported storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, err
	}
	logger.Info(logger.Background(), component, "storage.open",
		slog.String("status", "ok"),
		slog.String("backend", cfg.Storage.Backend),
	)
	return backend, nil
}

// newValidator builds the input validator on Redis when available and on
// process-local stores otherwise.
func newValidator(cfg *coreconfig.Config, rdb *redis.Client) *validator.Validator {
	dups, rate := inputStores(cfg, rdb)
	return validator.New(validator.Options{Duplicates: dups, Rate: rate})
}

func inputStores(cfg *coreconfig.Config, rdb *redis.Client) (*validator.DuplicateStore, validator.RateLimiter) {
	window := time.Duration(cfg.Dialog.DuplicateWindowMS) * time.Millisecond
	if rdb == nil {
		return validator.NewDuplicateStore(nil, "", window),
			validator.NewMemoryRateLimiter(cfg.Dialog.RatePerMinute, time.Minute)
	}
	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "dialogbot:"
	}
	return validator.NewDuplicateStore(rdb, prefix, window),
		validator.NewRedisRateLimiter(rdb, prefix, cfg.Dialog.RatePerMinute, time.Minute)
}

// OpenStore connects the configured durable state backend without starting
// the bot. The returned func releases the database connection.
func OpenStore(ctx context.Context, cfg *Config) (state.Backend, func() error, error) {
	if cfg.Storage.Backend == coreconfig.BackendMemory {
		return nil, nil, fmt.Errorf("app: storage backend %q keeps no durable state", cfg.Storage.Backend)
	}
	infra, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:   &cfg.Config,
		Database: cfg.DatabaseConfig(),
	})
	if err != nil {
		return nil, nil, err
	}
	var awsCfg *aws.Config
	if needsAWS(&cfg.Config) {
		loaded, err := loadAWS(ctx, &cfg.Config)
		if err != nil {
			_ = infra.Close()
			return nil, nil, err
		}
		awsCfg = &loaded
	}
	backend, err := openBackend(&cfg.Config, infra.DB, awsCfg)
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}
	return backend, infra.Close, nil
}
