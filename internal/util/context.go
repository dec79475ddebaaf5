package util

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogFromContext returns the request-scoped logger stored in ctx or the global logger if none was attached.
func LogFromContext(ctx context.Context) *zerolog.Logger {
	l := log.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		l = &log.Logger
	}

	return l
}

// WithLogger attaches l to ctx so that LogFromContext picks it up downstream.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// WithLogFields derives a logger from the one in ctx with the given string fields attached.
func WithLogFields(ctx context.Context, fields map[string]string) context.Context {
	lctx := LogFromContext(ctx).With()
	for k, v := range fields {
		lctx = lctx.Str(k, v)
	}

	return WithLogger(ctx, lctx.Logger())
}
