// Package classify requests intent classification from an external AI
// service. Results arrive asynchronously as events, never inline.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/callwise/callflow/pkg/dispatcher"
	"github.com/callwise/callflow/pkg/models"
)

// AsyncClassifier submits the classification request and reports
// ErrAsyncCompletion so the interpreter suspends until the label event
// arrives.
type AsyncClassifier struct {
	http   *resty.Client
	logger *slog.Logger
}

func NewAsyncClassifier(baseURL, apiKey string, logger *slog.Logger) *AsyncClassifier {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(10 * time.Second).
		SetRetryCount(2)

	return &AsyncClassifier{http: httpClient, logger: logger.With("module", "classify")}
}

func (c *AsyncClassifier) Classify(ctx context.Context, node *models.Node, executionContext map[string]any) (string, error) {
	cfg, err := node.ClassifyConfig()
	if err != nil {
		return "", err
	}

	callID, _ := executionContext["call_id"].(string)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"call_id": callID,
			"labels":  cfg.Labels,
			"model":   cfg.Model,
			"context": executionContext,
		}).
		Post("/classifications")
	if err != nil {
		return "", fmt.Errorf("classification request failed: %w", err)
	}

	if resp.IsError() {
		return "", fmt.Errorf("classification request failed: %s", resp.Status())
	}

	c.logger.InfoContext(ctx, "Requested classification", "call_id", callID, "model", cfg.Model)

	return "", dispatcher.ErrAsyncCompletion
}
