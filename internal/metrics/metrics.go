package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/lox/balancepoint/internal/httputil"
	"github.com/lox/balancepoint/internal/models"
)

const job = "balancepoint"

var (
	StoreQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balancepoint_store_queries_total",
			Help: "Total time-series store queries",
		},
		[]string{"backend", "kind", "status"},
	)

	StoreQueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "balancepoint_store_query_latency_seconds",
			Help:    "Time-series store query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "kind"},
	)

	BalancePoint = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balancepoint_balance_point_fahrenheit",
		Help: "Estimated outdoor temperature below which heating starts",
	})

	FitSlope = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balancepoint_fit_slope",
		Help: "Slope of usage against the regressor",
	})

	FitIntercept = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balancepoint_fit_intercept",
		Help: "Intercept of usage against the regressor",
	})

	FitRSquared = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balancepoint_fit_r_squared",
		Help: "Coefficient of determination of the fit",
	})

	DaysFitted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balancepoint_days_fitted",
		Help: "Days used in the regression",
	})

	DaysJoined = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balancepoint_days_joined",
		Help: "Complete days after joining all series",
	})

	OutlierMax = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "balancepoint_outlier_max",
			Help: "Largest absolute change between consecutive temperature readings",
		},
		[]string{"measure"},
	)
)

// ObserveQuery records the latency and outcome of one store query.
func ObserveQuery(backend, kind string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreQueriesTotal.WithLabelValues(backend, kind, status).Inc()
	StoreQueryLatency.WithLabelValues(backend, kind).Observe(time.Since(start).Seconds())
}

func RecordEstimate(e models.Estimate, joined int) {
	BalancePoint.Set(e.BalancePoint)
	FitSlope.Set(e.Fit.Slope)
	FitIntercept.Set(e.Fit.Intercept)
	FitRSquared.Set(e.Fit.RSquared)
	DaysFitted.Set(float64(e.Fit.N))
	DaysJoined.Set(float64(joined))
}

func RecordOutliers(maxDiff, maxPct float64) {
	OutlierMax.WithLabelValues("diff").Set(maxDiff)
	OutlierMax.WithLabelValues("pct_change").Set(maxPct)
}

// Push sends the run's metrics to a Prometheus Pushgateway.
func Push(ctx context.Context, url, instance string) error {
	p := push.New(url, job).
		Client(httputil.NewClient(0)).
		Collector(StoreQueriesTotal).
		Collector(StoreQueryLatency).
		Collector(BalancePoint).
		Collector(FitSlope).
		Collector(FitIntercept).
		Collector(FitRSquared).
		Collector(DaysFitted).
		Collector(DaysJoined).
		Collector(OutlierMax)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
