// Package validatorbase implements the dependency-buffering and
// tail/checkpoint bookkeeping shared by every validator, per SPEC_FULL.md's
// "validatorbase — Validator base behaviour" component. It deliberately
// stops short of vote issuance, slashing, and fork-choice: those live in
// package votevalidator, which embeds Base.
package validatorbase

import (
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/omoindrot/caspersim/internal/block"
	"github.com/omoindrot/caspersim/internal/config"
	"github.com/omoindrot/caspersim/internal/network"
	"github.com/omoindrot/caspersim/internal/set"
	"github.com/omoindrot/caspersim/internal/vid"
)

// Base holds the per-validator state of SPEC_FULL.md's data model that
// does not require justification logic to interpret.
type Base struct {
	ID vid.ID

	// Processed maps an object hash to the block or vote it identifies.
	// It only ever grows: once a hash is present, the mapped value never
	// changes.
	Processed map[ids.ID]network.Message

	// Dependencies maps a hash this validator is still waiting on to the
	// messages buffered pending its arrival.
	Dependencies map[ids.ID][]network.Message

	// Tails maps a checkpoint hash to the highest-height block known to
	// descend from it without crossing the next checkpoint.
	Tails map[ids.ID]*block.Block

	// TailMembership maps any processed block hash to the hash of its
	// nearest ancestor checkpoint (reflexive for checkpoints themselves).
	TailMembership map[ids.ID]ids.ID

	// FinalizedDynasties is the set of dynasties this validator has
	// observed to be finalized.
	FinalizedDynasties set.Set[block.DynastyKey]

	// CurrentEpoch is the highest epoch this validator has had the
	// opportunity to vote at; it never decreases.
	CurrentEpoch uint64

	// Head is the block this validator would build upon if it were the
	// next proposer.
	Head *block.Block

	Log log.Logger
}

// New constructs a Base seeded with the shared genesis block: genesis is
// recorded as processed, as its own tail, and as its own checkpoint
// membership.
func New(id vid.ID, genesis *block.Block, logger log.Logger) *Base {
	b := &Base{
		ID:                 id,
		Processed:          make(map[ids.ID]network.Message),
		Dependencies:       make(map[ids.ID][]network.Message),
		Tails:              make(map[ids.ID]*block.Block),
		TailMembership:     make(map[ids.ID]ids.ID),
		FinalizedDynasties: set.Of(genesis.CurrDynasty.Key()),
		CurrentEpoch:       0,
		Head:               genesis,
		Log:                logger,
	}
	b.Processed[genesis.Hash] = genesis
	b.Tails[genesis.Hash] = genesis
	b.TailMembership[genesis.Hash] = genesis.Hash
	return b
}

// Has reports whether hash has already been processed.
func (b *Base) Has(hash ids.ID) bool {
	_, ok := b.Processed[hash]
	return ok
}

// Insert records obj as processed under hash.
func (b *Base) Insert(hash ids.ID, obj network.Message) {
	b.Processed[hash] = obj
}

// GetBlock returns the processed block for hash, if any.
func (b *Base) GetBlock(hash ids.ID) (*block.Block, bool) {
	obj, ok := b.Processed[hash]
	if !ok {
		return nil, false
	}
	blk, ok := obj.(*block.Block)
	return blk, ok
}

// AddDependency buffers obj pending the arrival of hash.
func (b *Base) AddDependency(hash ids.ID, obj network.Message) {
	b.Dependencies[hash] = append(b.Dependencies[hash], obj)
}

// TakeDependents removes and returns everything buffered under hash,
// clearing the bucket before the caller re-delivers them. Clearing first
// guards against a re-entrant flush re-processing the same bucket if
// re-delivery happens to resolve hash again.
func (b *Base) TakeDependents(hash ids.ID) []network.Message {
	deps := b.Dependencies[hash]
	delete(b.Dependencies, hash)
	return deps
}

// ShouldPropose implements the round-robin proposer schedule: validator v
// proposes at tick `time` iff `time` is a multiple of BlockProposalTime and
// the proposal slot `time / BlockProposalTime` belongs to v.
func (b *Base) ShouldPropose(time uint64, cfg config.Parameters) bool {
	if time%cfg.BlockProposalTime != 0 {
		return false
	}
	slot := time / cfg.BlockProposalTime
	return slot%uint64(cfg.NumValidators) == uint64(b.ID)
}

// GetCheckpointParent returns the checkpoint immediately preceding blk's
// checkpoint chain, or nil if blk is genesis.
func (b *Base) GetCheckpointParent(blk *block.Block) *block.Block {
	if blk.Height == 0 {
		return nil
	}
	parentCheckpointHash := b.TailMembership[blk.PrevHash]
	parent, _ := b.GetBlock(parentCheckpointHash)
	return parent
}

// IsAncestor reports whether anc is an ancestor of desc on the checkpoint
// chain. Both must be checkpoints (height % epochSize == 0); violating
// that is a programming error and panics, per SPEC_FULL.md's error
// taxonomy for invariant violations.
func (b *Base) IsAncestor(anc, desc *block.Block, epochSize uint64) bool {
	if !anc.IsCheckpoint(epochSize) || !desc.IsCheckpoint(epochSize) {
		panic("validatorbase: IsAncestor called on a non-checkpoint block")
	}
	for desc != nil {
		if desc.Hash == anc.Hash {
			return true
		}
		desc = b.GetCheckpointParent(desc)
	}
	return false
}

// RecordCheckpointTail starts a new tail for a checkpoint block: it is its
// own nearest ancestor checkpoint, and the tail starts at the checkpoint
// itself.
func (b *Base) RecordCheckpointTail(checkpoint *block.Block) {
	b.TailMembership[checkpoint.Hash] = checkpoint.Hash
	b.Tails[checkpoint.Hash] = checkpoint
}

// ExtendTail records a non-checkpoint block as part of its parent's tail,
// replacing the tail tip if blk has the greatest height seen for it.
func (b *Base) ExtendTail(blk *block.Block) {
	membership := b.TailMembership[blk.PrevHash]
	b.TailMembership[blk.Hash] = membership
	if tail, ok := b.Tails[membership]; !ok || blk.Height > tail.Height {
		b.Tails[membership] = blk
	}
}
