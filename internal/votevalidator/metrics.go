package votevalidator

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/omoindrot/caspersim/internal/vid"
)

// validatorMetrics is this validator's slice of the "Observable metrics"
// surface named in SPEC_FULL.md §6. Each validator registers its own
// counters, labeled with its id, against a shared prometheus.Registerer.
type validatorMetrics struct {
	blocksAccepted prometheus.Counter
	votesAccepted  prometheus.Counter
	votesDropped   prometheus.Counter
	slashes        prometheus.Counter
	justified      prometheus.Counter
	finalized      prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer, id vid.ID) *validatorMetrics {
	labels := prometheus.Labels{"validator": strconv.Itoa(int(id))}
	m := &validatorMetrics{
		blocksAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "casper",
			Subsystem:   "validator",
			Name:        "blocks_accepted_total",
			Help:        "Number of blocks this validator has accepted into processed.",
			ConstLabels: labels,
		}),
		votesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "casper",
			Subsystem:   "validator",
			Name:        "votes_accepted_total",
			Help:        "Number of votes this validator has recorded.",
			ConstLabels: labels,
		}),
		votesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "casper",
			Subsystem:   "validator",
			Name:        "votes_dropped_total",
			Help:        "Number of votes rejected by a non-slashing gate.",
			ConstLabels: labels,
		}),
		slashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "casper",
			Subsystem:   "validator",
			Name:        "slashing_events_total",
			Help:        "Number of double-vote or surround-vote detections.",
			ConstLabels: labels,
		}),
		justified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "casper",
			Subsystem:   "validator",
			Name:        "checkpoints_justified_total",
			Help:        "Number of checkpoints this validator has justified.",
			ConstLabels: labels,
		}),
		finalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "casper",
			Subsystem:   "validator",
			Name:        "checkpoints_finalized_total",
			Help:        "Number of checkpoints this validator has finalized.",
			ConstLabels: labels,
		}),
	}
	registerer.MustRegister(
		m.blocksAccepted,
		m.votesAccepted,
		m.votesDropped,
		m.slashes,
		m.justified,
		m.finalized,
	)
	return m
}
