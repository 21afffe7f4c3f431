package main

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/pkg/compiler"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

// infrastructure holds the dependency container and the optional services the compiler
// was wired with
type infrastructure struct {
	containerID string
	startup     *startup.Startup
	logger      ectologger.Logger
}

// newInfrastructure starts tracing, the redis publish lock and the kafka notifier when
// configured, then builds the compiler around them. Dry runs never publish, so they skip
// redis and kafka.
func newInfrastructure(ctx context.Context, cfg *config.Config, logger ectologger.Logger, dryRun bool) (*infrastructure, error) {
	s := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	compilerCfg := compiler.Config{
		DefaultMaxDepth: &cfg.DefaultMaxDepth,
		StagingSuffix:   cfg.StagingSuffix,
	}

	if cfg.TracingEnabled() {
		headers, err := exporters.ParseHeaders(cfg.TracingHeaders)
		if err != nil {
			return nil, fmt.Errorf("invalid TRACING_HEADERS: %w", err)
		}
		s.AddDependency(tracing.NewProvider(cfg.AppName, exporters.OTLPConfig{
			Endpoint: cfg.TracingEndpoint,
			Protocol: cfg.TracingProtocol,
			Insecure: cfg.TracingInsecure,
			Headers:  headers,
			Timeout:  cfg.TracingTimeout,
		}, logger))
	}

	if !dryRun && cfg.RedisEnabled() {
		client := redis.NewClient(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		s.AddDependency(client)
		compilerCfg.Locker = redis.NewLocker(client, redis.LockerConfig{
			TTL:     cfg.PublishLockTTL,
			Timeout: cfg.PublishLockTimeout,
		})
	}

	if !dryRun && cfg.KafkaEnabled() {
		notifier, err := kafka.NewNotifier(kafka.NotifierConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
			WriteTimeout: cfg.KafkaWriteTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka notifier: %w", err)
		}
		s.AddDependency(notifier)
		compilerCfg.Notifier = notifier
	}

	if err := s.Start(ctx); err != nil {
		_ = s.Stop(context.WithoutCancel(ctx))
		return nil, err
	}

	containerID, err := newContainer(cfg, logger, compiler.NewCompiler(logger, compilerCfg))
	if err != nil {
		_ = s.Stop(context.WithoutCancel(ctx))
		return nil, err
	}

	return &infrastructure{
		containerID: containerID,
		startup:     s,
		logger:      logger,
	}, nil
}

// newContainer registers the process singletons in a container of their own. Each
// invocation gets a fresh id because containers live in a process wide store and tests
// run several invocations in one process.
func newContainer(cfg *config.Config, logger ectologger.Logger, c *compiler.Compiler) (string, error) {
	container, err := ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
		ID:                       "clover-" + uuid.NewString(),
		AllowMissingDependencies: false,
		LoggerConfig: &ectocontainer.DIContainerLoggerConfig{
			Prefix:  "ectoinject",
			Enabled: true,
			LogFunc: func(ctx context.Context, level, msg string) {
				logger.WithContext(ctx).Debugf("%s: %s", level, msg)
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create dependency container: %w", err)
	}

	if err := ectoinject.RegisterInstance[*config.Config](container, cfg); err != nil {
		return "", fmt.Errorf("failed to register config: %w", err)
	}
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return "", fmt.Errorf("failed to register logger: %w", err)
	}
	if err := ectoinject.RegisterInstance[*compiler.Compiler](container, c); err != nil {
		return "", fmt.Errorf("failed to register compiler: %w", err)
	}
	return container.GetContainerID(), nil
}

// withContainer makes this invocation's container the active one on ctx
func (i *infrastructure) withContainer(ctx context.Context) (context.Context, error) {
	return ectoinject.SetActiveContainer(ctx, i.containerID)
}

func (i *infrastructure) stop(ctx context.Context) {
	if err := i.startup.Stop(ctx); err != nil {
		i.logger.WithError(err).Warn("Failed to stop infrastructure")
	}
}
