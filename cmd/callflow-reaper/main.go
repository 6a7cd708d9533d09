// Package main provides the abandonment reaper: a sweep that finalizes
// executions left suspended past the configured threshold.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/callwise/callflow/pkg/cmd"
	"github.com/callwise/callflow/pkg/interpreter"
	"github.com/callwise/callflow/pkg/log"
	"github.com/callwise/callflow/pkg/reaper"
)

func main() {
	logger := log.WithModule("reaper")

	command := &cli.Command{
		Name:                  "callflow-reaper",
		Usage:                 "Abandon executions suspended past the threshold",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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
			&cli.DurationFlag{
				Name:    "threshold",
				Usage:   "How long an execution may stay suspended before abandonment",
				Value:   30 * time.Minute,
				Sources: cli.EnvVars("ABANDON_THRESHOLD"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron schedule for the sweep",
				Value:   "@every 1m",
				Sources: cli.EnvVars("REAPER_SCHEDULE"),
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

			logger.InfoContext(ctx, "Initializing Callflow reaper")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(
				command.String("event-bus"),
				command.String("kafka-brokers"),
				"callflow-reaper",
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

			// Abandonment never dispatches actions, so the interpreter runs
			// without handlers here.
			engine := interpreter.New(
				persistence.FlowRepository(),
				persistence.ExecutionRepository(),
				nil,
				nil,
				eventBus,
				logger,
			)

			sweeper := reaper.New(
				persistence.ExecutionRepository(),
				engine,
				command.Duration("threshold"),
				command.String("schedule"),
				logger,
			)

			if err := sweeper.Start(ctx); err != nil {
				return err
			}

			defer sweeper.Stop()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			<-ctx.Done()
			logger.Info("Shutting down reaper")

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
