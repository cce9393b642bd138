// Package metrics expõe contadores Prometheus das transações.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ferreirogomes/artmarket/models"
	"github.com/ferreirogomes/artmarket/services"
)

const namespace = "artmarket"

// Collector agrupa as métricas do orquestrador.
type Collector struct {
	Transactions *prometheus.CounterVec
	Pending      prometheus.Gauge
	Discarded    prometheus.Counter
}

// New cria as métricas e as registra em reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transações que chegaram a cada estado, por tipo.",
		}, []string{"kind", "status"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_transactions",
			Help:      "Transações ainda sem estado terminal.",
		}),
		Discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discarded_settlements_total",
			Help:      "Liquidações descartadas porque a sessão ou o ledger mudou.",
		}),
	}
	reg.MustRegister(c.Transactions, c.Pending, c.Discarded)
	return c
}

// Observe é um services.Observer.
func (c *Collector) Observe(prev models.Status, tx models.PendingTransaction) {
	c.Transactions.WithLabelValues(string(tx.Kind), string(tx.Status)).Inc()
	switch {
	case prev == "":
		c.Pending.Inc()
	case tx.Status.Terminal():
		c.Pending.Dec()
		if tx.Reason == services.ReasonSessionChanged {
			c.Discarded.Inc()
		}
	}
}
