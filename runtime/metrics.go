package runtime

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rony4d/go-subspace/copyguard"
	"github.com/rony4d/go-subspace/governance"
	"github.com/rony4d/go-subspace/inter"
)

type metrics struct {
	block     prometheus.Gauge
	issued    prometheus.Counter
	credited  prometheus.Counter
	epochs    *prometheus.CounterVec
	calls     *prometheus.CounterVec
	proposals *prometheus.CounterVec
	payments  *prometheus.CounterVec
	authority *prometheus.CounterVec
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	m := &metrics{
		block: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "subspace",
			Name:      "block",
			Help:      "Number of the last finalized block.",
		}),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "subspace",
			Name:      "emission_issued_total",
			Help:      "Tokens issued to subnets as pending emission.",
		}),
		credited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "subspace",
			Name:      "emission_credited_total",
			Help:      "Tokens credited to accounts from epoch payouts.",
		}),
		epochs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subspace",
			Name:      "epochs_total",
			Help:      "Epochs handled, partitioned by consensus type and outcome (run, deferred, discarded).",
		}, []string{"consensus", "outcome"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subspace",
			Name:      "extrinsics_total",
			Help:      "Extrinsics applied, partitioned by call and result kind.",
		}, []string{"call", "result"}),
		proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subspace",
			Name:      "proposals_resolved_total",
			Help:      "Proposals resolved, partitioned by status.",
		}, []string{"status"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subspace",
			Name:      "scheduled_payments_total",
			Help:      "Scheduled treasury payments, partitioned by outcome.",
		}, []string{"outcome"}),
		authority: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subspace",
			Name:      "authority_submissions_total",
			Help:      "Accepted decryption authority submissions, partitioned by type.",
		}, []string{"type"}),
	}
	m.block = registerOnce(registerer, m.block).(prometheus.Gauge)
	m.issued = registerOnce(registerer, m.issued).(prometheus.Counter)
	m.credited = registerOnce(registerer, m.credited).(prometheus.Counter)
	m.epochs = registerOnce(registerer, m.epochs).(*prometheus.CounterVec)
	m.calls = registerOnce(registerer, m.calls).(*prometheus.CounterVec)
	m.proposals = registerOnce(registerer, m.proposals).(*prometheus.CounterVec)
	m.payments = registerOnce(registerer, m.payments).(*prometheus.CounterVec)
	m.authority = registerOnce(registerer, m.authority).(*prometheus.CounterVec)
	return m
}

// registerOnce registers the collector, or returns the identical collector
// registered before. Any other registration failure panics.
func registerOnce(registerer prometheus.Registerer, collector prometheus.Collector) prometheus.Collector {
	if err := registerer.Register(collector); err != nil {
		are := prometheus.AlreadyRegisteredError{}
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return collector
}

func (m *metrics) observeCall(name string, err error) {
	result := "ok"
	if err != nil {
		result = inter.KindOf(err).String()
	}
	m.calls.WithLabelValues(name, result).Inc()
}

func (m *metrics) observeBlock(rep BlockReport) {
	m.block.Set(float64(rep.Block))
	m.issued.Add(float64(rep.Step.Issued))
	m.credited.Add(float64(rep.Step.Credited))
	for _, ep := range rep.Step.Epochs {
		outcome := "run"
		switch {
		case ep.Deferred:
			outcome = "deferred"
		case ep.Discarded:
			outcome = "discarded"
		}
		m.epochs.WithLabelValues(ep.Type.String(), outcome).Inc()
	}
	for _, e := range rep.Events {
		switch e.Name {
		case governance.EventProposalAccepted:
			m.proposals.WithLabelValues(governance.StatusAccepted.String()).Inc()
		case governance.EventProposalRefused:
			m.proposals.WithLabelValues(governance.StatusRefused.String()).Inc()
		case governance.EventProposalExpired:
			m.proposals.WithLabelValues(governance.StatusExpired.String()).Inc()
		case governance.EventPaymentExecuted:
			m.payments.WithLabelValues("executed").Inc()
		case governance.EventPaymentFailed:
			m.payments.WithLabelValues("failed").Inc()
		case copyguard.EventAuthorityPinged:
			m.authority.WithLabelValues("ping").Inc()
		case copyguard.EventDecryptedWeightsApplied:
			m.authority.WithLabelValues("decrypted_weights").Inc()
		}
	}
}
