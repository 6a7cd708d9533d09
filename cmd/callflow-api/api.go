// Package main provides the callflow API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/callwise/callflow/pkg/dispatcher"
	"github.com/callwise/callflow/pkg/eventbus"
	"github.com/callwise/callflow/pkg/flow"
	"github.com/callwise/callflow/pkg/interpreter"
	"github.com/callwise/callflow/pkg/persistence"
	"github.com/callwise/callflow/pkg/registry"
	"github.com/callwise/callflow/pkg/services"
	"github.com/callwise/callflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	classifier  dispatcher.Classifier
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	classifier dispatcher.Classifier,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		classifier:  classifier,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	publisher := flow.NewPublishingService(a.persistence.FlowRepository(), a.logger)
	engine := interpreter.New(
		a.persistence.FlowRepository(),
		a.persistence.ExecutionRepository(),
		a.registry,
		a.classifier,
		a.eventBus,
		a.logger,
	)

	flowService := services.NewFlowService(a.persistence, publisher)
	executionService := services.NewExecutionService(a.persistence, engine)

	handlers := web.NewAPIHandlers(flowService, executionService, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Callflow API")
	})

	f := app.Group("/flows")
	f.Get("/", handlers.ListFlows)
	f.Post("/", handlers.CreateFlow)
	f.Get("/:id", handlers.GetFlow)
	f.Patch("/:id", handlers.UpdateFlow)
	f.Delete("/:id", handlers.DeleteFlow)
	f.Post("/:id/validate", handlers.ValidateFlow)
	f.Post("/:id/publish", handlers.PublishFlow)
	f.Post("/groups/:flowId/draft", handlers.CreateDraftFromPublished)
	f.Get("/groups/:flowId/active", handlers.GetActiveVersion)

	e := app.Group("/executions")
	e.Post("/", handlers.StartExecution)
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/resume", handlers.ResumeExecution)
	e.Get("/:id/steps", handlers.GetExecutionSteps)

	app.Post("/simulations", handlers.Simulate)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
