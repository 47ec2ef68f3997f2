package es

import "context"

type ctxKey string

const (
	correlationIDKey ctxKey = "correlation_id"
	causationIDKey   ctxKey = "causation_id"
	userIDKey        ctxKey = "user_id"
	metadataKey      ctxKey = "metadata"
)

// WithCorrelationID groups every event raised under ctx into one logical operation.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// WithCausationID marks the command or event that produced events raised under ctx.
func WithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, causationIDKey, id)
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// WithMetadata merges md into the metadata already carried by ctx.
func WithMetadata(ctx context.Context, md Metadata) context.Context {
	merged := MetadataFromContext(ctx).Clone()
	if merged == nil {
		merged = Metadata{}
	}
	for k, v := range md {
		merged[k] = v
	}
	return context.WithValue(ctx, metadataKey, merged)
}

// WithEnvelope derives a context for handling env: the correlation id is kept
// and env becomes the cause of anything raised downstream.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	if env.CorrelationID != "" {
		ctx = WithCorrelationID(ctx, env.CorrelationID)
	}
	return WithCausationID(ctx, env.EventID.String())
}

func CorrelationIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, correlationIDKey)
}

func CausationIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, causationIDKey)
}

func UserIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userIDKey)
}

func MetadataFromContext(ctx context.Context) Metadata {
	if ctx == nil {
		return nil
	}
	if md, ok := ctx.Value(metadataKey).(Metadata); ok {
		return md
	}
	return nil
}

func stringFromContext(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
