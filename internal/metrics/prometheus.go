package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	AuthorizationCodesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "yith_authorization_codes_issued_total",
		Help: "Total number of authorization codes issued.",
	})
	AccessTokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yith_access_tokens_issued_total",
		Help: "Total number of access tokens issued, by grant.",
	}, []string{"grant"})
	TokenErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yith_token_errors_total",
		Help: "Total number of error responses from the token endpoint.",
	}, []string{"error"})
	BearerRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "yith_bearer_rejections_total",
		Help: "Total number of requests rejected by the bearer token guard.",
	})
	ConsentsStoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "yith_consents_stored_total",
		Help: "Total number of consent decisions stored.",
	})
)

// InitCustomMetrics registers the server metrics with reg.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	collectors := map[string]prometheus.Collector{
		"AuthorizationCodesIssuedTotal": AuthorizationCodesIssuedTotal,
		"AccessTokensIssuedTotal":       AccessTokensIssuedTotal,
		"TokenErrorsTotal":              TokenErrorsTotal,
		"BearerRejectionsTotal":         BearerRejectionsTotal,
		"ConsentsStoredTotal":           ConsentsStoredTotal,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}

	log.Info().Msg("Custom Prometheus metrics registered.")
}

// RegisterTokenCacheEntries exposes the number of cached bearer tokens as
// yith_token_cache_entries. count is called on every scrape.
func RegisterTokenCacheEntries(reg prometheus.Registerer, count func() int) {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "yith_token_cache_entries",
		Help: "Number of bearer tokens currently held in the token cache.",
	}, func() float64 {
		return float64(count())
	})
	if err := reg.Register(g); err != nil {
		log.Warn().Err(err).Str("metric", "TokenCacheEntries").Msg("Failed to register metric")
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
