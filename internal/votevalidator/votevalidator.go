// Package votevalidator implements the Casper FFG vote protocol: block and
// vote acceptance, slashing detection, fork choice, and checkpoint voting,
// per SPEC_FULL.md's "votevalidator — Vote protocol, slashing, fork-choice"
// component. It embeds validatorbase.Base for the state that logic does not
// need to interpret.
package votevalidator

import (
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/omoindrot/caspersim/internal/block"
	"github.com/omoindrot/caspersim/internal/config"
	"github.com/omoindrot/caspersim/internal/network"
	"github.com/omoindrot/caspersim/internal/set"
	"github.com/omoindrot/caspersim/internal/validatorbase"
	"github.com/omoindrot/caspersim/internal/vid"
	"github.com/omoindrot/caspersim/internal/vote"
)

// SlashRule names which slashing condition a detected violation broke.
type SlashRule int

const (
	// SlashDoubleVote is rule 1: two distinct votes sharing a target epoch.
	SlashDoubleVote SlashRule = iota
	// SlashSurround is rule 2: one vote's (source, target) epoch span
	// strictly surrounds, or is strictly surrounded by, another's.
	SlashSurround
)

func (r SlashRule) String() string {
	switch r {
	case SlashDoubleVote:
		return "double-vote"
	case SlashSurround:
		return "surround"
	default:
		return fmt.Sprintf("SlashRule(%d)", int(r))
	}
}

// SlashSink is notified whenever a validator observes a slashable pair of
// votes from the same sender. prior is the previously-recorded vote; newVote
// is the one that triggered the detection and was not recorded.
type SlashSink func(sender vid.ID, rule SlashRule, prior, newVote *vote.Vote)

// Validator runs the full vote protocol on top of validatorbase.Base's
// bookkeeping.
type Validator struct {
	*validatorbase.Base

	net *network.Network
	cfg config.Parameters
	log log.Logger

	slash SlashSink

	// highestJustifiedCheckpoint is the highest-epoch checkpoint this
	// validator has justified; maybe_vote_last_checkpoint always votes
	// from it.
	highestJustifiedCheckpoint *block.Block

	justified set.Set[ids.ID]
	finalized set.Set[ids.ID]

	// votes is every vote this validator has accepted from a given sender,
	// kept to evaluate future votes against the two slashing conditions.
	votes map[vid.ID][]*vote.Vote

	// voteCount[source][target] counts distinct senders who have cast a
	// recorded vote for that (source, target) link.
	voteCount map[ids.ID]map[ids.ID]int

	metrics *validatorMetrics
}

// New constructs a Validator seeded at genesis and attaches it to net.
// registerer may be nil, in which case no per-validator metrics are
// registered.
func New(
	id vid.ID,
	genesis *block.Block,
	net *network.Network,
	cfg config.Parameters,
	logger log.Logger,
	slash SlashSink,
	registerer prometheus.Registerer,
) *Validator {
	v := &Validator{
		Base:                       validatorbase.New(id, genesis, logger),
		net:                        net,
		cfg:                        cfg,
		log:                        logger,
		slash:                      slash,
		highestJustifiedCheckpoint: genesis,
		justified:                  set.Of(genesis.Hash),
		finalized:                  set.Of(genesis.Hash),
		votes:                      make(map[vid.ID][]*vote.Vote),
		voteCount:                  make(map[ids.ID]map[ids.ID]int),
	}
	if registerer != nil {
		v.metrics = newMetrics(registerer, id)
	}
	net.Attach(v)
	return v
}

// HighestJustifiedCheckpoint exposes the checkpoint maybeVoteLastCheckpoint
// would currently vote from; used by the sim package's reporting.
func (v *Validator) HighestJustifiedCheckpoint() *block.Block {
	return v.highestJustifiedCheckpoint
}

// IsJustified reports whether hash has reached a supermajority link as a
// target.
func (v *Validator) IsJustified(hash ids.ID) bool {
	return v.justified.Contains(hash)
}

// IsFinalized reports whether hash has been finalized via a direct-child
// supermajority link.
func (v *Validator) IsFinalized(hash ids.ID) bool {
	return v.finalized.Contains(hash)
}

// Justified returns every checkpoint hash this validator has justified, in
// unspecified order.
func (v *Validator) Justified() []ids.ID {
	return v.justified.List()
}

// Finalized returns every checkpoint hash this validator has finalized, in
// unspecified order.
func (v *Validator) Finalized() []ids.ID {
	return v.finalized.List()
}

// OnReceive dispatches an arriving message to block or vote acceptance, then
// flushes and re-delivers anything that was waiting on it.
func (v *Validator) OnReceive(msg network.Message) {
	hash := msg.ObjectHash()
	if v.Has(hash) {
		return
	}

	var accepted bool
	switch m := msg.(type) {
	case *block.Block:
		accepted = v.acceptBlock(m)
	case *vote.Vote:
		accepted = v.acceptVote(m)
	default:
		panic("votevalidator: OnReceive received a message of unknown type")
	}
	if !accepted {
		return
	}

	for _, dep := range v.TakeDependents(hash) {
		v.OnReceive(dep)
	}
}

// PeriodicTick mints and broadcasts a block when this validator's round-robin
// slot comes up, self-delivering it with the same treatment as any other
// arrival.
func (v *Validator) PeriodicTick(time uint64) {
	if !v.ShouldPropose(time, v.cfg) {
		return
	}
	newBlock := block.New(v.Head, v.FinalizedDynasties.Contains, v.cfg)
	v.net.Broadcast(newBlock)
	v.OnReceive(newBlock)
}

// acceptBlock implements accept_block: buffer if the parent is unknown,
// otherwise record it, update tail bookkeeping, maybe cast a checkpoint
// vote, and re-run fork choice.
func (v *Validator) acceptBlock(blk *block.Block) bool {
	if !v.Has(blk.PrevHash) {
		v.AddDependency(blk.PrevHash, blk)
		return false
	}

	v.Insert(blk.Hash, blk)
	if v.metrics != nil {
		v.metrics.blocksAccepted.Inc()
	}

	if blk.IsCheckpoint(v.cfg.EpochSize) {
		v.RecordCheckpointTail(blk)
		v.maybeVoteLastCheckpoint(blk)
	} else {
		v.ExtendTail(blk)
	}

	v.checkHead(blk)
	return true
}

// maybeVoteLastCheckpoint implements the checkpoint-voting rule: checkpoint
// is only voted on if it strictly advances both current_epoch and the
// source's epoch, and descends from the source on the checkpoint chain.
func (v *Validator) maybeVoteLastCheckpoint(checkpoint *block.Block) {
	epochSize := v.cfg.EpochSize
	if !checkpoint.IsCheckpoint(epochSize) {
		panic("votevalidator: maybeVoteLastCheckpoint called on a non-checkpoint block")
	}

	target := checkpoint
	source := v.highestJustifiedCheckpoint
	targetEpoch := target.Epoch(epochSize)
	sourceEpoch := source.Epoch(epochSize)

	if targetEpoch <= v.CurrentEpoch {
		return
	}
	if targetEpoch <= sourceEpoch {
		return
	}
	if !v.IsAncestor(source, target, epochSize) {
		return
	}

	v.CurrentEpoch = targetEpoch
	vt := vote.New(source.Hash, target.Hash, sourceEpoch, targetEpoch, v.ID)
	v.net.Broadcast(vt)
}

// checkHead implements fork choice: stay on blk's own tail if it already
// descends from the highest justified checkpoint, otherwise switch to the
// deepest tail whose checkpoint does, falling back to the justified
// checkpoint's own tail if none qualifies.
func (v *Validator) checkHead(blk *block.Block) {
	h := v.highestJustifiedCheckpoint
	epochSize := v.cfg.EpochSize

	ownCheckpointHash := v.TailMembership[blk.Hash]
	if ownCheckpoint, ok := v.GetBlock(ownCheckpointHash); ok && v.IsAncestor(h, ownCheckpoint, epochSize) {
		v.Head = blk
		return
	}

	bestCheckpointHash := h.Hash
	bestHeight := h.Height
	for checkpointHash := range v.Tails {
		checkpoint, ok := v.GetBlock(checkpointHash)
		if !ok {
			continue
		}
		if !v.IsAncestor(h, checkpoint, epochSize) {
			continue
		}
		if checkpoint.Height > bestHeight {
			bestHeight = checkpoint.Height
			bestCheckpointHash = checkpointHash
		}
	}

	v.Head = v.Tails[bestCheckpointHash]
}

// acceptVote implements accept_vote's gate sequence: processed/justified
// source, processed target, ancestor link, dynasty membership, the two
// slashing conditions, then recording and the supermajority check.
func (v *Validator) acceptVote(vt *vote.Vote) bool {
	if !v.Has(vt.Source) {
		v.AddDependency(vt.Source, vt)
		return false
	}
	if !v.justified.Contains(vt.Source) {
		v.dropVote()
		return false
	}
	if !v.Has(vt.Target) {
		v.AddDependency(vt.Target, vt)
		return false
	}

	sourceBlock, ok := v.GetBlock(vt.Source)
	if !ok {
		panic("votevalidator: vote source processed but is not a block")
	}
	targetBlock, ok := v.GetBlock(vt.Target)
	if !ok {
		panic("votevalidator: vote target processed but is not a block")
	}

	if !v.IsAncestor(sourceBlock, targetBlock, v.cfg.EpochSize) {
		v.dropVote()
		return false
	}
	if !targetBlock.CurrDynasty.HasMember(vt.Sender) && !targetBlock.PrevDynasty.HasMember(vt.Sender) {
		v.dropVote()
		return false
	}

	for _, prior := range v.votes[vt.Sender] {
		if prior.EpochTarget == vt.EpochTarget {
			v.reportSlash(vt.Sender, SlashDoubleVote, prior, vt)
			return false
		}
		surrounds := prior.EpochSource < vt.EpochSource && prior.EpochTarget > vt.EpochTarget
		surrounded := prior.EpochSource > vt.EpochSource && prior.EpochTarget < vt.EpochTarget
		if surrounds || surrounded {
			v.reportSlash(vt.Sender, SlashSurround, prior, vt)
			return false
		}
	}

	v.Insert(vt.Hash, vt)
	v.votes[vt.Sender] = append(v.votes[vt.Sender], vt)
	if v.voteCount[vt.Source] == nil {
		v.voteCount[vt.Source] = make(map[ids.ID]int)
	}
	v.voteCount[vt.Source][vt.Target]++
	if v.metrics != nil {
		v.metrics.votesAccepted.Inc()
	}

	if v.voteCount[vt.Source][vt.Target] > v.cfg.SupermajorityThreshold() {
		v.onSupermajority(vt, targetBlock)
	}
	return true
}

// onSupermajority runs for every recorded vote whose (source, target) link
// count is above the threshold; justified/finalized set membership is
// idempotent, but the metrics only fire on the first crossing. When the
// highest justified checkpoint changes, fork choice is re-run from the
// current head.
func (v *Validator) onSupermajority(vt *vote.Vote, targetBlock *block.Block) {
	firstJustification := !v.justified.Contains(vt.Target)
	v.justified.Add(vt.Target)
	if v.metrics != nil && firstJustification {
		v.metrics.justified.Inc()
	}
	if targetBlock.Epoch(v.cfg.EpochSize) > v.highestJustifiedCheckpoint.Epoch(v.cfg.EpochSize) {
		v.highestJustifiedCheckpoint = targetBlock
		v.checkHead(v.Head)
	}
	if vt.EpochSource+1 == vt.EpochTarget {
		firstFinalization := !v.finalized.Contains(vt.Source)
		v.finalized.Add(vt.Source)
		if v.metrics != nil && firstFinalization {
			v.metrics.finalized.Inc()
		}
	}
}

func (v *Validator) dropVote() {
	if v.metrics != nil {
		v.metrics.votesDropped.Inc()
	}
}

func (v *Validator) reportSlash(sender vid.ID, rule SlashRule, prior, newVote *vote.Vote) {
	if v.metrics != nil {
		v.metrics.slashes.Inc()
	}
	if v.log != nil {
		v.log.Warn("slashable vote detected",
			"sender", sender,
			"rule", rule.String(),
			"priorSource", prior.EpochSource,
			"priorTarget", prior.EpochTarget,
			"newSource", newVote.EpochSource,
			"newTarget", newVote.EpochTarget,
		)
	}
	if v.slash != nil {
		v.slash(sender, rule, prior, newVote)
	}
}
