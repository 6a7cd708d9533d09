// Package cmd provides shared wiring helpers for the callflow binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/callwise/callflow/pkg/persistence"
	"github.com/callwise/callflow/pkg/persistence/file"
	"github.com/callwise/callflow/pkg/persistence/postgresql"
)

// NewPersistence selects the persistence backend from the database URL
// scheme: "postgres://" for PostgreSQL, anything else for files.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}
