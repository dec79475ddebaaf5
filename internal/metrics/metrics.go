// Package metrics holds the prometheus collectors of the custody controllers.
// A nil *Service is valid and records nothing.
package metrics

import (
	"database/sql"
	"net/http"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "custody"

const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultInvalid = "invalid"
	ResultSkipped = "skipped"
)

type Service struct {
	registry *prometheus.Registry

	transfers          *prometheus.CounterVec
	signalsPublished   *prometheus.CounterVec
	signalsReceived    *prometheus.CounterVec
	withdrawals        *prometheus.CounterVec
	depositsCredited   prometheus.Counter
	gasRefills         *prometheus.CounterVec
	solvencyDelta      prometheus.Gauge
	controllerTickTime *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry. DB pool stats are exported when db is not nil.
func New(db *sql.DB) (*Service, error) {
	s := &Service{
		registry: prometheus.NewRegistry(),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Stablecoin transfers between wallets by route and result.",
		}, []string{"route", "result"}),
		signalsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_published_total",
			Help:      "Signals published on the event bus.",
		}, []string{"channel"}),
		signalsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_received_total",
			Help:      "Signals received from the event bus by handling result.",
		}, []string{"channel", "result"}),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Resolved withdrawal requests by result.",
		}, []string{"result"}),
		depositsCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_credited_total",
			Help:      "Deposit transfer logs credited to the ledger.",
		}),
		gasRefills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gas_refills_total",
			Help:      "Native currency top-ups sent from the gas wallet.",
		}, []string{"wallet_type"}),
		solvencyDelta: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "solvency_delta",
			Help:      "On-chain holdings minus ledger liabilities in stablecoin units at the last reconciliation.",
		}),
		controllerTickTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of scheduled controller tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"task"}),
	}

	collectorsToRegister := []prometheus.Collector{
		s.transfers,
		s.signalsPublished,
		s.signalsReceived,
		s.withdrawals,
		s.depositsCredited,
		s.gasRefills,
		s.solvencyDelta,
		s.controllerTickTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	if db != nil {
		collectorsToRegister = append(collectorsToRegister, sqlstats.NewStatsCollector("ledger", db))
	}

	for _, c := range collectorsToRegister {
		if err := s.registry.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register metrics collector")
		}
	}

	return s, nil
}

// Registry is nil for a nil Service.
func (s *Service) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}

	return s.registry
}

func (s *Service) Handler() http.Handler {
	if s == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Service) TransferObserved(route, result string) {
	if s == nil {
		return
	}
	s.transfers.WithLabelValues(route, result).Inc()
}

func (s *Service) SignalPublished(channel string) {
	if s == nil {
		return
	}
	s.signalsPublished.WithLabelValues(channel).Inc()
}

func (s *Service) SignalReceived(channel, result string) {
	if s == nil {
		return
	}
	s.signalsReceived.WithLabelValues(channel, result).Inc()
}

func (s *Service) WithdrawalObserved(result string) {
	if s == nil {
		return
	}
	s.withdrawals.WithLabelValues(result).Inc()
}

func (s *Service) DepositCredited() {
	if s == nil {
		return
	}
	s.depositsCredited.Inc()
}

func (s *Service) GasRefill(walletType string) {
	if s == nil {
		return
	}
	s.gasRefills.WithLabelValues(walletType).Inc()
}

func (s *Service) SetSolvencyDelta(delta decimal.Decimal) {
	if s == nil {
		return
	}
	s.solvencyDelta.Set(delta.InexactFloat64())
}

func (s *Service) TaskDuration(task string, seconds float64) {
	if s == nil {
		return
	}
	s.controllerTickTime.WithLabelValues(task).Observe(seconds)
}
