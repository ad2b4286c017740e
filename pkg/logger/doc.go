// Package logger builds *slog.Logger instances for statekit services.
//
// New applies functional options (format, level, output, static attributes,
// context extractors) and wraps the chosen slog handler with a decorator that
// injects request-scoped values pulled from context.Context on every record.
//
// The attribute helpers in attr.go keep key names consistent between the
// transition engine, the storage backends and the host application:
//
//	log := logger.New(logger.WithEnvironment("production", "statekit"))
//	log.InfoContext(ctx, "transition applied",
//		logger.EntityType("document"),
//		logger.Transition("submit"),
//	)
package logger
