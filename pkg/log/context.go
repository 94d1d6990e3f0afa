package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithLogger attaches a request-scoped logger to the context. Handlers derive
// child loggers carrying request id and actor fields and pass them down so the
// pipeline and room directory log with the same correlation metadata.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx returns the logger attached to the context, or the global logger when
// none is set. Never returns nil, so call sites may chain directly.
func Ctx(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return &l
	}
	return L()
}
