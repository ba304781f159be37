// Package network implements the synchronous, time-stepped message bus
// described by SPEC_FULL.md's "network" component: a list of attached
// nodes, an integer tick clock, and per-recipient latency.
package network

import (
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Message is the tagged union of objects the network ever carries. Rather
// than a runtime type switch, producers implement isMessage to mark
// themselves as members of the union; consumers still switch on concrete
// type in OnReceive, but the marker keeps arbitrary values from being
// broadcast by mistake. ObjectHash lets the network and dependency-buffer
// machinery key on identity without knowing the concrete variant.
type Message interface {
	isMessage()
	ObjectHash() ids.ID
}

// Node is anything the network can deliver messages to and tick.
type Node interface {
	// OnReceive handles one arriving message.
	OnReceive(msg Message)
	// PeriodicTick is called once per tick, after all of this tick's
	// arrivals have been delivered.
	PeriodicTick(time uint64)
}

// LatencySampler returns a positive delay, in ticks, for one message's
// delivery to one recipient. Per SPEC_FULL.md, a delay of 0 is forbidden:
// it would arrive in the already-consumed current-time slot and be lost.
type LatencySampler func() uint64

type arrival struct {
	nodeIndex int
	msg       Message
}

// Network routes messages between attached nodes with per-delivery
// latency, and drives their periodic ticks.
type Network struct {
	log     log.Logger
	nodes   []Node
	time    uint64
	latency LatencySampler
	// arrivals maps an arrival tick to the ordered list of deliveries
	// scheduled for it; order within a bucket is insertion order, i.e.
	// the order of the originating Broadcast calls.
	arrivals map[uint64][]arrival

	broadcastCount  prometheus.Counter
	deliveredCount  prometheus.Counter
	delayHistogram  prometheus.Histogram
}

// New constructs a Network. registerer may be nil, in which case metrics
// are not collected.
func New(latency LatencySampler, logger log.Logger, registerer prometheus.Registerer) *Network {
	n := &Network{
		log:      logger,
		latency:  latency,
		arrivals: make(map[uint64][]arrival),
	}
	if registerer != nil {
		n.broadcastCount = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "casper",
			Subsystem: "network",
			Name:      "messages_broadcast_total",
			Help:      "Number of per-recipient message deliveries scheduled by Broadcast.",
		})
		n.deliveredCount = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "casper",
			Subsystem: "network",
			Name:      "messages_delivered_total",
			Help:      "Number of messages delivered to a node's OnReceive.",
		})
		n.delayHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "casper",
			Subsystem: "network",
			Name:      "delivery_delay_ticks",
			Help:      "Distribution of sampled per-recipient delivery delays.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		})
		registerer.MustRegister(n.broadcastCount, n.deliveredCount, n.delayHistogram)
	}
	return n
}

// Attach appends node to the node list; its index becomes its routing id.
func (n *Network) Attach(node Node) int {
	n.nodes = append(n.nodes, node)
	return len(n.nodes) - 1
}

// Time returns the current tick.
func (n *Network) Time() uint64 {
	return n.time
}

// Broadcast schedules msg for delivery to every attached node, sampling an
// independent delay for each recipient.
func (n *Network) Broadcast(msg Message) {
	for i := range n.nodes {
		delay := n.latency()
		if delay < 1 {
			panic("network: latency sampler returned a delay < 1, which would lose messages")
		}
		arrivalTime := n.time + delay
		n.arrivals[arrivalTime] = append(n.arrivals[arrivalTime], arrival{nodeIndex: i, msg: msg})
		if n.broadcastCount != nil {
			n.broadcastCount.Inc()
			n.delayHistogram.Observe(float64(delay))
		}
	}
}

// Tick delivers every message scheduled for the current time, then calls
// every node's periodic handler, then advances time by one. All arrivals
// for a tick are processed before any node's periodic handler runs.
func (n *Network) Tick() {
	if bucket, ok := n.arrivals[n.time]; ok {
		for _, a := range bucket {
			n.nodes[a.nodeIndex].OnReceive(a.msg)
			if n.deliveredCount != nil {
				n.deliveredCount.Inc()
			}
		}
		delete(n.arrivals, n.time)
	}
	for _, node := range n.nodes {
		node.PeriodicTick(n.time)
	}
	n.time++
}
