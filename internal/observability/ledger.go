package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/inventory"
)

// LedgerMetrics counts ledger and document events. It satisfies both
// inventory.Observer and documents.Observer.
type LedgerMetrics struct {
	movements   *prometheus.CounterVec
	conflicts   prometheus.Counter
	negatives   prometheus.Counter
	transitions *prometheus.CounterVec
	skipped     *prometheus.CounterVec
}

var (
	_ inventory.Observer = (*LedgerMetrics)(nil)
	_ documents.Observer = (*LedgerMetrics)(nil)
)

// NewLedgerMetrics registers the ledger collectors against registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &LedgerMetrics{
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "movements_total",
			Help:      "Stock movements recorded by kind.",
		}, []string{"kind"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrent_modifications_total",
			Help:      "Balance writes rejected because the version changed.",
		}),
		negatives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negative_stock_total",
			Help:      "Issues that drove a balance below zero.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_transitions_total",
			Help:      "Committed document transitions by document type and action.",
		}, []string{"document", "action"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journals_skipped_total",
			Help:      "Posted documents left without a journal for lack of accounts or an open period.",
		}, []string{"document"}),
	}
	registerer.MustRegister(m.movements, m.conflicts, m.negatives, m.transitions, m.skipped)
	return m
}

func (m *LedgerMetrics) MovementRecorded(kind inventory.MovementKind) {
	m.movements.WithLabelValues(string(kind)).Inc()
}

func (m *LedgerMetrics) ConcurrentModification() { m.conflicts.Inc() }

func (m *LedgerMetrics) NegativeStock() { m.negatives.Inc() }

func (m *LedgerMetrics) DocumentTransition(docType documents.Type, action string) {
	m.transitions.WithLabelValues(string(docType), action).Inc()
}

func (m *LedgerMetrics) JournalSkipped(docType documents.Type) {
	m.skipped.WithLabelValues(string(docType)).Inc()
}
