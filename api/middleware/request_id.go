package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/angelmondragon/eventcore/pkg/logger"
)

const (
	requestIDHeader     = "X-Request-Id"
	correlationIDHeader = "X-Correlation-Id"
)

// RequestID tags the request with an id and seeds the event correlation id,
// so events raised while serving it share that id. An incoming
// X-Correlation-Id wins over the request id.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			correlationID := r.Header.Get(correlationIDHeader)
			if correlationID == "" {
				correlationID = reqID
			}

			w.Header().Set(requestIDHeader, reqID)
			w.Header().Set(correlationIDHeader, correlationID)

			ctx := es.WithCorrelationID(r.Context(), correlationID)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
				ctx = logg.WithCorrelationID(ctx, correlationID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
