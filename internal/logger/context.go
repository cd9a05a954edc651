package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const SessionIDKey contextKey = "session_id"
const ScenarioKey contextKey = "scenario"

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}

func WithScenario(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ScenarioKey, id)
}

func GetScenario(ctx context.Context) string {
	if id, ok := ctx.Value(ScenarioKey).(string); ok {
		return id
	}
	return ""
}

// From returns the default logger annotated with the session and scenario carried by ctx.
func From(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := GetSessionID(ctx); id != "" {
		l = l.With("session", id)
	}
	if sc := GetScenario(ctx); sc != "" {
		l = l.With("scenario", sc)
	}
	return l
}
