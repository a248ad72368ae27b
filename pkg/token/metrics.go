package token

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the store's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	RefreshDispatched prometheus.Counter
	RefreshFailed     prometheus.Counter
	RefreshDiscarded  prometheus.Counter
	DecodeFailed      prometheus.Counter
	TokensInstalled   prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg when reg is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "token_store",
			Name:      "refresh_dispatched_total",
			Help:      "Number of refresh callback invocations.",
		}),
		RefreshFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "token_store",
			Name:      "refresh_failed_total",
			Help:      "Number of refresh callback invocations that returned an error.",
		}),
		RefreshDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "token_store",
			Name:      "refresh_discarded_total",
			Help:      "Number of refresh results dropped because they were superseded or the store was terminated.",
		}),
		DecodeFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "token_store",
			Name:      "decode_failed_total",
			Help:      "Number of tokens that could not be decoded.",
		}),
		TokensInstalled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "token_store",
			Name:      "tokens_installed_total",
			Help:      "Number of tokens installed into the store.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RefreshDispatched,
			m.RefreshFailed,
			m.RefreshDiscarded,
			m.DecodeFailed,
			m.TokensInstalled,
		)
	}
	return m
}

func (m *Metrics) refreshDispatched() {
	if m != nil {
		m.RefreshDispatched.Inc()
	}
}

func (m *Metrics) refreshFailed() {
	if m != nil {
		m.RefreshFailed.Inc()
	}
}

func (m *Metrics) refreshDiscarded() {
	if m != nil {
		m.RefreshDiscarded.Inc()
	}
}

func (m *Metrics) decodeFailed() {
	if m != nil {
		m.DecodeFailed.Inc()
	}
}

func (m *Metrics) tokenInstalled() {
	if m != nil {
		m.TokensInstalled.Inc()
	}
}
