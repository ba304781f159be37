// Package vote implements the vote message value object, per
// SPEC_FULL.md's "message — Vote value object" component.
package vote

import (
	"github.com/luxfi/ids"

	"github.com/omoindrot/caspersim/internal/idgen"
	"github.com/omoindrot/caspersim/internal/vid"
)

// Vote is an immutable vote cast by one validator for a (source, target)
// supermajority link.
type Vote struct {
	Hash        ids.ID
	Source      ids.ID
	Target      ids.ID
	EpochSource uint64
	EpochTarget uint64
	Sender      vid.ID
}

// isMessage marks Vote as a member of network.Message's tagged union.
func (v *Vote) isMessage() {}

// ObjectHash satisfies network.Message.
func (v *Vote) ObjectHash() ids.ID { return v.Hash }

// New constructs a Vote, sampling a fresh opaque hash for it.
func New(source, target ids.ID, epochSource, epochTarget uint64, sender vid.ID) *Vote {
	return &Vote{
		Hash:        idgen.New(),
		Source:      source,
		Target:      target,
		EpochSource: epochSource,
		EpochTarget: epochTarget,
		Sender:      sender,
	}
}
