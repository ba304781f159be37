package votevalidator

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/omoindrot/caspersim/internal/block"
	"github.com/omoindrot/caspersim/internal/config"
	"github.com/omoindrot/caspersim/internal/network"
	"github.com/omoindrot/caspersim/internal/vid"
	"github.com/omoindrot/caspersim/internal/vote"
)

func testConfig() config.Parameters {
	cfg := config.Default()
	cfg.NumValidators = 4
	cfg.ValidatorUniverse = vid.Universe(8)
	cfg.InitialValidators = vid.Initial(4)
	cfg.BlockProposalTime = 10
	cfg.EpochSize = 2
	return cfg
}

func noRotation(block.DynastyKey) bool { return false }

func constantLatency(d uint64) network.LatencySampler {
	return func() uint64 { return d }
}

// newHarness builds one validator (id 0) wired to its own network, plus the
// shared genesis block it was seeded from.
func newHarness(t *testing.T) (*Validator, *network.Network, *block.Block, config.Parameters) {
	t.Helper()
	cfg := testConfig()
	genesis := block.Genesis(cfg)
	net := network.New(constantLatency(1), log.NewNoOpLogger(), nil)
	v := New(vid.ID(0), genesis, net, cfg, log.NewNoOpLogger(), nil, nil)
	return v, net, genesis, cfg
}

func deliverChain(v *Validator, blocks ...*block.Block) {
	for _, b := range blocks {
		v.OnReceive(b)
	}
}

func TestAcceptBlockBuffersUntilParentArrives(t *testing.T) {
	v, _, genesis, cfg := newHarness(t)

	h1 := block.New(genesis, noRotation, cfg)
	h2 := block.New(h1, noRotation, cfg) // checkpoint, height 2

	v.OnReceive(h2)
	require.False(t, v.Has(h2.Hash), "checkpoint must not be processed before its parent arrives")

	v.OnReceive(h1)
	require.True(t, v.Has(h1.Hash))
	require.True(t, v.Has(h2.Hash), "buffered checkpoint must flush once its parent is delivered")
}

func TestAcceptBlockExtendsNonCheckpointTail(t *testing.T) {
	v, _, genesis, cfg := newHarness(t)

	h1 := block.New(genesis, noRotation, cfg)
	v.OnReceive(h1)

	require.Equal(t, genesis.Hash, v.TailMembership[h1.Hash])
	require.Same(t, h1, v.Tails[genesis.Hash])
	require.Equal(t, h1, v.Head, "single extending block with an ancestor-justified checkpoint becomes head")
}

func TestMaybeVoteLastCheckpointBroadcastsExactlyOnce(t *testing.T) {
	v, net, genesis, cfg := newHarness(t)

	h1 := block.New(genesis, noRotation, cfg)
	h2 := block.New(h1, noRotation, cfg)
	deliverChain(v, h1, h2)

	net.Tick() // time 0 -> 1; vote was scheduled for arrival at time 1
	net.Tick() // delivers the vote arriving at time 1
	require.True(t, v.Has(lastVoteHash(t, v)))
	require.Equal(t, uint64(1), v.CurrentEpoch)
}

// lastVoteHash finds the one vote this validator has recorded from itself,
// for use as a processed-hash sanity check.
func lastVoteHash(t *testing.T, v *Validator) (hash ids.ID) {
	t.Helper()
	votes := v.votes[v.ID]
	require.Len(t, votes, 1)
	return votes[0].Hash
}

func TestAcceptVoteReachesSupermajorityAndJustifies(t *testing.T) {
	v, net, genesis, cfg := newHarness(t)

	h1 := block.New(genesis, noRotation, cfg)
	h2 := block.New(h1, noRotation, cfg)
	deliverChain(v, h1, h2)
	net.Tick() // time 0 -> 1
	net.Tick() // delivers v's own checkpoint vote (sender 0), scheduled for time 1

	require.False(t, v.IsJustified(h2.Hash))

	v.OnReceive(vote.New(genesis.Hash, h2.Hash, 0, 1, vid.ID(1)))
	require.False(t, v.IsJustified(h2.Hash), "2 of 4 votes must not yet cross the threshold of 2")

	v.OnReceive(vote.New(genesis.Hash, h2.Hash, 0, 1, vid.ID(2)))
	require.True(t, v.IsJustified(h2.Hash), "3 of 4 votes must cross the threshold of 2")
	require.Equal(t, h2, v.HighestJustifiedCheckpoint())
	require.True(t, v.IsFinalized(genesis.Hash), "a direct epoch-0 -> epoch-1 link finalizes the source")
}

func TestAcceptVoteBuffersOnUnprocessedTarget(t *testing.T) {
	v, _, genesis, cfg := newHarness(t)

	h1 := block.New(genesis, noRotation, cfg)
	h2 := block.New(h1, noRotation, cfg)

	vt := vote.New(genesis.Hash, h2.Hash, 0, 1, vid.ID(1))
	v.OnReceive(vt)
	require.False(t, v.Has(vt.Hash), "vote referencing an unprocessed target must buffer, not drop")

	deliverChain(v, h1, h2)
	require.True(t, v.Has(vt.Hash), "delivering the target must flush the buffered vote")
}

func TestAcceptVoteDropsUnjustifiedSourceWithoutBuffering(t *testing.T) {
	v, _, genesis, cfg := newHarness(t)

	h1 := block.New(genesis, noRotation, cfg)
	h2 := block.New(h1, noRotation, cfg)
	h3 := block.New(h2, noRotation, cfg)
	h4 := block.New(h3, noRotation, cfg)
	deliverChain(v, h1, h2, h3, h4)

	// h2 is processed but never justified (no supermajority of votes cast
	// on it); a vote sourced from it must be dropped silently.
	vt := vote.New(h2.Hash, h4.Hash, 1, 2, vid.ID(1))
	v.OnReceive(vt)
	require.False(t, v.Has(vt.Hash))
	require.Empty(t, v.votes[vid.ID(1)])
}

func TestAcceptVoteDoubleVoteSlashes(t *testing.T) {
	v, _, genesis, cfg := newHarness(t)

	h1 := block.New(genesis, noRotation, cfg)
	h2 := block.New(h1, noRotation, cfg)
	h1b := block.New(genesis, noRotation, cfg)
	h2b := block.New(h1b, noRotation, cfg)
	deliverChain(v, h1, h2, h1b, h2b)

	var caught []SlashRule
	v.slash = func(sender vid.ID, rule SlashRule, prior, newVote *vote.Vote) {
		caught = append(caught, rule)
	}

	first := vote.New(genesis.Hash, h2.Hash, 0, 1, vid.ID(1))
	v.OnReceive(first)
	require.True(t, v.Has(first.Hash))

	second := vote.New(genesis.Hash, h2b.Hash, 0, 1, vid.ID(1))
	v.OnReceive(second)

	require.False(t, v.Has(second.Hash), "the slashable second vote must not be recorded")
	require.Equal(t, []SlashRule{SlashDoubleVote}, caught)
}

func TestAcceptVoteSurroundSlashes(t *testing.T) {
	v, _, genesis, cfg := newHarness(t)

	h1 := block.New(genesis, noRotation, cfg)
	h2 := block.New(h1, noRotation, cfg) // epoch 1
	h3 := block.New(h2, noRotation, cfg)
	h4 := block.New(h3, noRotation, cfg) // epoch 2
	h5 := block.New(h4, noRotation, cfg)
	h6 := block.New(h5, noRotation, cfg) // epoch 3
	deliverChain(v, h1, h2, h3, h4, h5, h6)

	var caught []SlashRule
	v.slash = func(sender vid.ID, rule SlashRule, prior, newVote *vote.Vote) {
		caught = append(caught, rule)
	}

	// Justify h2 (3 of 4 votes, crossing the threshold of 2) so that a vote
	// sourced from it passes gate 2.
	v.OnReceive(vote.New(genesis.Hash, h2.Hash, 0, 1, vid.ID(1)))
	v.OnReceive(vote.New(genesis.Hash, h2.Hash, 0, 1, vid.ID(2)))
	v.OnReceive(vote.New(genesis.Hash, h2.Hash, 0, 1, vid.ID(3)))
	require.True(t, v.IsJustified(h2.Hash))

	wide := vote.New(genesis.Hash, h6.Hash, 0, 3, vid.ID(3))
	v.OnReceive(wide)
	require.True(t, v.Has(wide.Hash))

	narrow := vote.New(h2.Hash, h4.Hash, 1, 2, vid.ID(3))
	v.OnReceive(narrow)

	require.False(t, v.Has(narrow.Hash))
	require.Equal(t, []SlashRule{SlashSurround}, caught)
}

func TestOnReceivePanicsOnUnknownMessageType(t *testing.T) {
	v, _, _, _ := newHarness(t)
	require.Panics(t, func() { v.OnReceive(unknownMessage{}) })
}

type unknownMessage struct{}

func (unknownMessage) isMessage() {}
func (unknownMessage) ObjectHash() (h ids.ID) { return h }

func TestPeriodicTickProposesOnOwnSlotAndSelfDelivers(t *testing.T) {
	v, _, genesis, _ := newHarness(t)

	before := v.Head
	v.PeriodicTick(0) // slot 0 belongs to validator 0
	require.NotEqual(t, before, v.Head)
	require.Equal(t, genesis.Hash, v.Head.PrevHash)
}

func TestPeriodicTickSkipsOtherValidatorsSlots(t *testing.T) {
	v, _, genesis, _ := newHarness(t)

	v.PeriodicTick(10) // slot 1 -> validator 1, not validator 0
	require.Equal(t, genesis, v.Head)
}
