package api

import (
	"context"

	"github.com/advisehq/plan-gateway/pkg/logger"
)

// contextKey is an unexported type for context keys to prevent collisions
type contextKey string

const (
	contextKeyRequestID contextKey = "request_id"
	contextKeyLogger    contextKey = "logger"
	contextKeyIdentity  contextKey = "identity"
)

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// GetLogger retrieves the logger from context
func GetLogger(ctx context.Context) *logger.Logger {
	if ctxLogger, ok := ctx.Value(contextKeyLogger).(*logger.Logger); ok {
		return ctxLogger
	}
	return nil
}

// GetIdentity retrieves the authenticated caller identity from context.
// Jobs and plans are owned by this identity.
func GetIdentity(ctx context.Context) string {
	if identity, ok := ctx.Value(contextKeyIdentity).(string); ok {
		return identity
	}
	return ""
}
