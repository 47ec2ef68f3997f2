package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/eventcore/api/controllers"
	"github.com/angelmondragon/eventcore/api/middleware"
	"github.com/angelmondragon/eventcore/pkg/logger"
)

// OpsParams configure the operational HTTP surface of a worker binary.
type OpsParams struct {
	Env      string
	Logger   *logger.Logger
	Checks   map[string]controllers.Pinger
	Gatherer prometheus.Gatherer
}

// NewOpsRouter serves liveness, readiness and Prometheus metrics.
func NewOpsRouter(params OpsParams) http.Handler {
	logg := params.Logger
	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(params.Env))
		r.Get("/ready", controllers.HealthReady(params.Env, logg, params.Checks))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
