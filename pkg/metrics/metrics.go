package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	checkoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "payment",
			Name:      "checkouts_total",
			Help:      "Total number of merchant checkouts by result",
		},
		[]string{"result", "swap"}, // ok/error, true/false
	)

	checkoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "checkout",
			Subsystem: "payment",
			Name:      "checkout_duration_seconds",
			Help:      "Time from assembly to confirmation",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	quotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "quote",
			Name:      "quotes_total",
			Help:      "Total number of swap quotes by order type and status",
		},
		[]string{"order_type", "status"},
	)

	quoteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "checkout",
			Subsystem: "quote",
			Name:      "quote_duration_seconds",
			Help:      "Quote latency including swap data fetch",
			Buckets:   prometheus.DefBuckets,
		},
	)

	swapDataFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "swapdata",
			Name:      "lookups_total",
			Help:      "Swap data cache lookups by outcome",
		},
		[]string{"outcome"}, // hit, miss, update
	)

	socketConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "checkout",
			Subsystem: "socket",
			Name:      "connected",
			Help:      "1 while the backend websocket is connected",
		},
	)
)

// Register registers the checkout collectors plus Go and process collectors.
func Register() {
	registerIfNotExists(collectors.NewGoCollector(), "go_collector")
	registerIfNotExists(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), "process_collector")
	registerIfNotExists(checkoutsTotal, "checkouts_total")
	registerIfNotExists(checkoutDuration, "checkout_duration")
	registerIfNotExists(quotesTotal, "quotes_total")
	registerIfNotExists(quoteDuration, "quote_duration")
	registerIfNotExists(swapDataFetchesTotal, "swapdata_lookups_total")
	registerIfNotExists(socketConnected, "socket_connected")
}

func registerIfNotExists(collector prometheus.Collector, name string) {
	if err := prometheus.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegErr) {
			log.Debug().Msgf("%s already registered", name)
		} else {
			log.Error().Err(err).Msgf("failed to register %s", name)
		}
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordCheckout(result string, swap bool, elapsed time.Duration) {
	s := "false"
	if swap {
		s = "true"
	}
	checkoutsTotal.WithLabelValues(result, s).Inc()
	checkoutDuration.Observe(elapsed.Seconds())
}

func RecordQuote(orderType string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	quotesTotal.WithLabelValues(orderType, status).Inc()
	quoteDuration.Observe(elapsed.Seconds())
}

func RecordSwapDataLookup(outcome string) {
	swapDataFetchesTotal.WithLabelValues(outcome).Inc()
}

func SetSocketConnected(connected bool) {
	if connected {
		socketConnected.Set(1)
		return
	}
	socketConnected.Set(0)
}
