// Package registry maps action node subtypes to their handlers and acts as
// the live ActionDispatcher.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/callwise/callflow/pkg/dispatcher"
	"github.com/callwise/callflow/pkg/models"
)

// ActionHandler executes one action subtype against the outside world.
type ActionHandler interface {
	Execute(ctx context.Context, node *models.Node, executionContext map[string]any) (*dispatcher.Result, error)
}

// Registry holds the registered action handlers. Registration happens at
// startup; lookups are read-only afterwards, so no locking is needed.
type Registry struct {
	logger   *slog.Logger
	handlers map[string]ActionHandler
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With("module", "registry"),
		handlers: make(map[string]ActionHandler),
	}
}

// Register binds a handler to an action subtype, replacing any previous one.
func (r *Registry) Register(subtype string, handler ActionHandler) {
	r.handlers[subtype] = handler
	r.logger.Debug("Registered action handler", "subtype", subtype)
}

// Dispatch implements dispatcher.ActionDispatcher by routing the node to its
// subtype handler.
func (r *Registry) Dispatch(ctx context.Context, node *models.Node, executionContext map[string]any) (*dispatcher.Result, error) {
	handler, ok := r.handlers[node.Subtype]
	if !ok {
		return nil, fmt.Errorf("no action handler registered for subtype %q", node.Subtype)
	}

	return handler.Execute(ctx, node, executionContext)
}
