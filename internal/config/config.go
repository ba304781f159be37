// Package config defines the compile-time parameters of the simulation.
package config

import (
	"errors"

	"github.com/omoindrot/caspersim/internal/vid"
)

// Error values returned by Parameters.Valid.
var (
	ErrNumValidators      = errors.New("config: NumValidators must be >= 1")
	ErrValidatorUniverse  = errors.New("config: ValidatorUniverse must be at least NumValidators")
	ErrInitialValidators  = errors.New("config: InitialValidators must have exactly NumValidators members")
	ErrBlockProposalTime  = errors.New("config: BlockProposalTime must be >= 1")
	ErrEpochSize          = errors.New("config: EpochSize must be >= 1")
	ErrAvgLatency         = errors.New("config: AvgLatency must be > 0")
)

// Parameters holds the simulation's compile-time constants, per SPEC_FULL.md
// §6 (External interfaces / Configuration parameters).
type Parameters struct {
	// NumValidators is the size of any one dynasty, and the supermajority
	// denominator.
	NumValidators int
	// ValidatorUniverse is the universe of validator identifiers eligible
	// to be sampled into a dynasty.
	ValidatorUniverse []vid.ID
	// InitialValidators are the members of the genesis dynasty.
	InitialValidators []vid.ID
	// BlockProposalTime is the number of ticks between successive
	// proposals; proposers take turns round-robin, so any one validator
	// proposes every NumValidators*BlockProposalTime ticks.
	BlockProposalTime uint64
	// EpochSize is the number of blocks per epoch; a block is a checkpoint
	// iff its height is a multiple of EpochSize.
	EpochSize uint64
	// AvgLatency is the mean of the latency sampler, in ticks.
	AvgLatency float64
}

// Default returns the reference parameter set from the source simulation:
// 100 validators, a universe twice that size, a 100-tick proposal period,
// a 5-block epoch, and mean latency of 10 ticks.
func Default() Parameters {
	const numValidators = 100
	return Parameters{
		NumValidators:      numValidators,
		ValidatorUniverse:  vid.Universe(numValidators * 2),
		InitialValidators:  vid.Initial(numValidators),
		BlockProposalTime:  100,
		EpochSize:          5,
		AvgLatency:         10,
	}
}

// Valid checks the invariants SPEC_FULL.md's components rely on.
func (p Parameters) Valid() error {
	if p.NumValidators < 1 {
		return ErrNumValidators
	}
	if len(p.ValidatorUniverse) < p.NumValidators {
		return ErrValidatorUniverse
	}
	if len(p.InitialValidators) != p.NumValidators {
		return ErrInitialValidators
	}
	if p.BlockProposalTime < 1 {
		return ErrBlockProposalTime
	}
	if p.EpochSize < 1 {
		return ErrEpochSize
	}
	if p.AvgLatency <= 0 {
		return ErrAvgLatency
	}
	return nil
}

// SupermajorityThreshold returns floor(2*NumValidators/3), the count a
// vote_count entry must strictly exceed to cross the supermajority
// threshold (SPEC_FULL.md §4.6, gate 9).
func (p Parameters) SupermajorityThreshold() int {
	return (2 * p.NumValidators) / 3
}
