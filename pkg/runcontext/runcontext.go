// Package runcontext carries per-run values on a context.
package runcontext

import "context"

type ContextKey string

var RunIDKey = ContextKey("X-Run-Id")

func SetRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func GetRunID(ctx context.Context) string {
	value, ok := ctx.Value(RunIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
