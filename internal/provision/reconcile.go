package provision

import (
	"context"
	"fmt"

	"github.com/datan8/sitepilot/internal/logging"
)

// Reconcile is the get-or-create primitive every idempotent step is built
// on. find answers (nil, nil) when the resource is absent; create is called
// only then. The created flag tells the caller whether first-creation side
// effects still apply.
func Reconcile[T any](ctx context.Context, what string,
	find func(context.Context) (*T, error),
	create func(context.Context) (*T, error),
) (*T, bool, error) {
	existing, err := find(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up %s: %w", what, err)
	}
	if existing != nil {
		logging.Debug("resource already exists", "resource", what)
		return existing, false, nil
	}

	created, err := create(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create %s: %w", what, err)
	}
	logging.Info("resource created", "resource", what)
	return created, true, nil
}
