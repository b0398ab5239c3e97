package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics counts wallet ledger operations by kind and outcome.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	integrity  prometheus.Counter
}

// NewLedgerMetrics registers the ledger counters on reg. A nil registerer
// yields a no-op collector.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "herfa_ledger_operations_total",
		Help: "Ledger operations that committed, by operation.",
	}, []string{"op"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "herfa_ledger_failures_total",
		Help: "Ledger operations that were rejected or failed, by operation and error code.",
	}, []string{"op", "code"})
	integrity := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "herfa_ledger_integrity_violations_total",
		Help: "Wallets whose cached balance disagreed with the transaction log.",
	})
	reg.MustRegister(operations, failures, integrity)
	return &LedgerMetrics{operations: operations, failures: failures, integrity: integrity}
}

// IncOperation records a committed ledger operation.
func (m *LedgerMetrics) IncOperation(op string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(op)).Inc()
}

// IncFailure records a rejected ledger operation.
func (m *LedgerMetrics) IncFailure(op, code string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(op), normalizeLabel(code)).Inc()
}

// AddIntegrityViolations adds n mismatched wallets found by reconciliation.
func (m *LedgerMetrics) AddIntegrityViolations(n int) {
	if m == nil || m.integrity == nil || n <= 0 {
		return
	}
	m.integrity.Add(float64(n))
}
