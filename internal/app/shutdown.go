package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"talk2data/internal/logging"
)

// cleanupStack holds provider shutdowns. They run in reverse order of acquisition, so
// the logger provider registered first is flushed last and still receives the shutdown
// records of the tracer and meter providers.
type cleanupStack struct {
	items []cleanupItem
}

type cleanupItem struct {
	name string
	fn   func(context.Context) error
}

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	s.items = append(s.items, cleanupItem{name: name, fn: fn})
}

// run calls every cleanup even after a failure and returns the failures joined.
func (s *cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Discard()
	}
	var errs []error
	for i := len(s.items) - 1; i >= 0; i-- {
		item := s.items[i]
		start := time.Now()
		err := item.fn(ctx)
		if err != nil {
			logger.Warn("cleanup error",
				slog.String("component", item.name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", item.name, err))
			continue
		}
		logger.Debug("shut down "+item.name, slog.Duration("duration", time.Since(start)))
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops every provider acquired by Init. Later calls return the
// result of the first.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.stateMu.Unlock()

		a.shutdownErr = cleanup.run(ctx, a.logger)
	})

	return a.shutdownErr
}
