package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_redemptions_total",
		Help: "Redemption attempts by outcome",
	}, []string{"outcome"})

	PointsAwardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_awarded_total",
		Help: "Total points credited through redemptions",
	})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_rate_limited_total",
		Help: "Requests rejected by the per-key rate limiter",
	})

	BilledUnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_billed_units_total",
		Help: "Billed units recorded in the usage ledger by endpoint",
	}, []string{"endpoint"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loyalty_request_duration_seconds",
		Help:    "Request handling latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveCodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loyalty_active_codes",
		Help: "Current number of active redemption codes",
	})

	OpenRateWindows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loyalty_open_rate_windows",
		Help: "Current number of rate window rows",
	})
)

func IncRedemption(outcome string) {
	label := strings.TrimSpace(outcome)
	if label == "" {
		label = "unknown"
	}
	RedemptionsTotal.WithLabelValues(label).Inc()
}

func AddPointsAwarded(points int) {
	if points <= 0 {
		return
	}
	PointsAwardedTotal.Add(float64(points))
}

func IncRateLimited() {
	RateLimitedTotal.Inc()
}

func AddBilledUnits(endpoint string, units int) {
	if units < 0 {
		return
	}
	label := strings.TrimSpace(endpoint)
	if label == "" {
		label = "unknown"
	}
	BilledUnitsTotal.WithLabelValues(label).Add(float64(units))
}

func ObserveRequestDuration(route, method string, duration time.Duration) {
	if route == "" {
		route = "unknown"
	}
	RequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

func SetActiveCodes(count int64) {
	if count < 0 {
		count = 0
	}
	ActiveCodes.Set(float64(count))
}

func SetOpenRateWindows(count int64) {
	if count < 0 {
		count = 0
	}
	OpenRateWindows.Set(float64(count))
}
