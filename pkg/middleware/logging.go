package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/vango-dev/vango-use/pkg/storage"
)

// Logging creates middleware that logs failed operations at warn level and
// every operation at debug level.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next storage.Store) storage.Store {
		log := logger.With("kind", next.Kind().String(), "area", next.Area())

		return wrap(next, hooks{
			before: func(ctx context.Context, op, key string) (context.Context, func(error, int)) {
				start := time.Now()
				return ctx, func(err error, _ int) {
					if err != nil {
						log.WarnContext(ctx, "storage operation failed",
							"op", op,
							"key", key,
							"result", result(err),
							"error", err,
						)
						return
					}
					log.DebugContext(ctx, "storage operation",
						"op", op,
						"key", key,
						"duration", time.Since(start),
					)
				}
			},
		})
	}
}
