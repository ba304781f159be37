// Command simulate drives a casper finality-gadget simulation from the
// command line: it wires config.Parameters from flags, runs the network for
// a fixed number of ticks, and reports each validator's observable metrics.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omoindrot/caspersim/internal/config"
	"github.com/omoindrot/caspersim/internal/latency"
	"github.com/omoindrot/caspersim/internal/sim"
	"github.com/omoindrot/caspersim/internal/vid"
	"github.com/omoindrot/caspersim/internal/vote"
	"github.com/omoindrot/caspersim/internal/votevalidator"
)

func main() {
	numValidators := flag.Int("validators", 100, "Number of validators in the genesis dynasty")
	blockProposalTime := flag.Uint64("proposal-period", 100, "Ticks between successive proposals; proposers take turns round-robin")
	epochSize := flag.Uint64("epoch-size", 5, "Number of blocks per epoch")
	avgLatency := flag.Float64("latency", 10, "Mean network latency, in ticks")
	ticks := flag.Uint64("ticks", 5000, "Number of ticks to run the simulation for")
	partition := flag.Float64("partition", 0, "Fraction of validators excluded from the network, modeling a partition")
	seed := flag.Int64("seed", 1, "Seed for the latency sampler's random source")
	metrics := flag.Bool("metrics", false, "Serve Prometheus metrics on -metrics-addr instead of exiting after the run")
	metricsAddr := flag.String("metrics-addr", ":2112", "Address to serve Prometheus metrics on, if -metrics is set")
	asJSON := flag.Bool("json", false, "Print each validator's report as JSON instead of text")
	flag.Parse()

	logger := log.NewLogger("simulate")

	cfg := config.Default()
	cfg.NumValidators = *numValidators
	cfg.ValidatorUniverse = vid.Universe(*numValidators * 2)
	cfg.InitialValidators = vid.Initial(*numValidators)
	cfg.BlockProposalTime = *blockProposalTime
	cfg.EpochSize = *epochSize
	cfg.AvgLatency = *avgLatency

	if err := cfg.Valid(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if *partition < 0 || *partition >= 1 {
		logger.Error("partition must be in [0, 1)", "partition", *partition)
		os.Exit(1)
	}
	excluded := int(float64(cfg.NumValidators) * *partition)
	participants := cfg.InitialValidators[excluded:]
	if *partition > 0 {
		logger.Info("simulating a network partition", "excludedValidators", excluded, "remainingValidators", len(participants))
	}

	var registerer prometheus.Registerer
	var metricsDone chan struct{}
	if *metrics {
		registry := prometheus.NewRegistry()
		registerer = registry
		metricsDone = make(chan struct{})
		go func() {
			serveMetrics(registry, *metricsAddr, logger)
			close(metricsDone)
		}()
	}

	rng := rand.New(rand.NewSource(*seed))
	sampler := latency.Exponential(cfg.AvgLatency, rng)

	slashes := 0
	slash := func(sender vid.ID, rule votevalidator.SlashRule, prior, newVote *vote.Vote) {
		slashes++
		logger.Warn("slashable vote observed", "sender", sender, "rule", rule.String())
	}

	s := sim.New(cfg, sampler, logger, registerer, slash, participants)
	logger.Info("starting simulation", "validators", len(participants), "ticks", *ticks, "epochSize", cfg.EpochSize, "proposalPeriod", cfg.BlockProposalTime)
	s.Run(*ticks)

	for _, v := range s.Validators {
		report := sim.Metrics(v, cfg)
		if *asJSON {
			out, err := json.Marshal(report)
			if err != nil {
				logger.Error("failed to marshal report", "validator", v.ID, "error", err)
				continue
			}
			fmt.Println(string(out))
			continue
		}
		fmt.Printf(
			"validator %d: head height %d, %d/%d blocks checkpoints, justified %.2f%% finalized %.2f%%, %d forked-justified, %d known forks\n",
			report.ValidatorID, report.MainChainHeight, report.CheckpointsSeen, report.TotalBlocks,
			report.JustifiedFraction*100, report.FinalizedFraction*100, report.ForkedJustifiedCount, len(report.Forks),
		)
	}
	if slashes > 0 {
		logger.Warn("simulation observed slashable votes", "count", slashes)
	}
	if metricsDone != nil {
		<-metricsDone
	}
}

func serveMetrics(registry *prometheus.Registry, addr string, logger log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server exited", "error", err)
	}
}
