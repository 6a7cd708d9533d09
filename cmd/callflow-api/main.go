package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/callwise/callflow/pkg/cmd"
	"github.com/callwise/callflow/pkg/handlers/classify"
	"github.com/callwise/callflow/pkg/log"
	"github.com/callwise/callflow/pkg/otelhelper"
)

const defaultPort = 9090

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "callflow-api",
		Usage:                 "Author, publish, and execute call flows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus transport (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "telephony-url",
				Usage:   "Base URL of the telephony platform API",
				Value:   "http://localhost:8085",
				Sources: cli.EnvVars("TELEPHONY_URL"),
			},
			&cli.StringFlag{
				Name:    "telephony-api-key",
				Usage:   "API key for the telephony platform",
				Sources: cli.EnvVars("TELEPHONY_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL for agent queues",
				Value:   "redis://localhost:6379/0",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "classifier-url",
				Usage:   "Base URL of the AI classification service",
				Value:   "http://localhost:8086",
				Sources: cli.EnvVars("CLASSIFIER_URL"),
			},
			&cli.StringFlag{
				Name:    "classifier-api-key",
				Usage:   "API key for the AI classification service",
				Sources: cli.EnvVars("CLASSIFIER_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Callflow API")

			tracerProvider, err := otelhelper.NewTracerProvider(ctx, "callflow-api")
			if err != nil {
				logger.WarnContext(ctx, "Tracing disabled", "error", err)
			} else {
				defer func() {
					if err := tracerProvider.Shutdown(ctx); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			registry, err := cmd.NewActionRegistry(logger, cmd.RegistryConfig{
				TelephonyURL:    command.String("telephony-url"),
				TelephonyAPIKey: command.String("telephony-api-key"),
				RedisURL:        command.String("redis-url"),
			})
			if err != nil {
				return err
			}

			eventBus, err := cmd.NewEventBus(
				command.String("event-bus"),
				command.String("kafka-brokers"),
				"callflow-api",
				logger,
			)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			classifier := classify.NewAsyncClassifier(
				command.String("classifier-url"),
				command.String("classifier-api-key"),
				logger,
			)

			api := NewAPI(logger, persistence, registry, classifier, eventBus)

			return api.Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
