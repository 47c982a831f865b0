package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are added to every log record emitted with a context that carries them.
type LogFields struct {
	RequestID *string // X-Request-Id or generated
	Login     *string // caller login, "" for anonymous
	Surface   *string // "http", "mcp" or "cli"
	Component string  // e.g. "isq.search.engine"
}

// WithLogFields enriches ctx with fields. Newer non-nil/non-empty values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	return context.WithValue(ctx, logFieldsKey, mergeFields(GetLogFields(ctx), fields))
}

// GetLogFields returns the fields carried by ctx, or empty fields.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing
	if new.RequestID != nil {
		result.RequestID = new.RequestID
	}
	if new.Login != nil {
		result.Login = new.Login
	}
	if new.Surface != nil {
		result.Surface = new.Surface
	}
	if new.Component != "" {
		result.Component = new.Component
	}
	return result
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
