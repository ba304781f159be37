// Package block implements the chain's node type and its accompanying
// dynasty (validator-set) model, per SPEC_FULL.md's "block — Block &
// Dynasty model" component.
package block

import (
	mathrand "math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/luxfi/ids"

	"github.com/omoindrot/caspersim/internal/config"
	"github.com/omoindrot/caspersim/internal/idgen"
	"github.com/omoindrot/caspersim/internal/vid"
)

// Dynasty is a pair (id, ordered members) identifying the set of
// validators authorized to vote on blocks during a contiguous range of
// epochs. Only the id evolves between dynasties; Members is a sample
// drawn from the parameters' validator universe.
type Dynasty struct {
	ID      uint64
	Members []vid.ID
}

// DynastyKey is a comparable identity for a Dynasty, mirroring the source's
// structural hash/equality override (hash(str(id) + str(members))).
type DynastyKey string

// Key returns d's structural identity.
func (d Dynasty) Key() DynastyKey {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(d.ID, 10))
	for _, m := range d.Members {
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(int(m)))
	}
	return DynastyKey(sb.String())
}

// HasMember reports whether v belongs to this dynasty.
func (d Dynasty) HasMember(v vid.ID) bool {
	for _, m := range d.Members {
		if m == v {
			return true
		}
	}
	return false
}

// SampleNextDynasty deterministically derives the dynasty that follows a
// block whose previous dynasty id was prevDynastyID, seeded from the
// minting block's own hash so that every validator reproduces the same
// sample. It uses a private *rand.Rand rather than the package-level
// source, per SPEC_FULL.md's requirement to never re-seed a shared RNG.
func SampleNextDynasty(blockHash ids.ID, universe []vid.ID, size int, prevDynastyID uint64) Dynasty {
	rng := mathrand.New(mathrand.NewSource(seedFromHash(blockHash)))
	members := sampleWithoutReplacement(rng, universe, size)
	return Dynasty{ID: prevDynastyID + 1, Members: members}
}

func seedFromHash(h ids.ID) int64 {
	// Fold the opaque hash down to an int64 seed from its first 8 bytes.
	// idgen samples hashes below 2^248, so the first byte is always zero
	// and the seed carries the 56 random bits of bytes 1 to 7.
	var seed int64
	for i := 0; i < 8 && i < len(h); i++ {
		seed = seed<<8 | int64(h[i])
	}
	return seed
}

func sampleWithoutReplacement(rng *mathrand.Rand, universe []vid.ID, size int) []vid.ID {
	if size > len(universe) {
		size = len(universe)
	}
	pool := make([]vid.ID, len(universe))
	copy(pool, universe)
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	sample := pool[:size]
	sorted := make([]vid.ID, size)
	copy(sorted, sample)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

// Block is an immutable chain node. It carries prev/current/next dynasty
// references so that every validator can derive the authorized voter sets
// for its own epoch and the one that follows.
type Block struct {
	Hash         ids.ID
	Height       uint64
	PrevHash     ids.ID
	PrevDynasty  Dynasty
	CurrDynasty  Dynasty
	NextDynasty  Dynasty
}

// isMessage marks Block as a member of network.Message's tagged union.
func (b *Block) isMessage() {}

// ObjectHash satisfies network.Message.
func (b *Block) ObjectHash() ids.ID { return b.Hash }

// Epoch returns height / epochSize (integer division).
func (b *Block) Epoch(epochSize uint64) uint64 {
	return b.Height / epochSize
}

// IsCheckpoint reports whether b's height is an exact multiple of
// epochSize. Genesis (height 0) is always a checkpoint.
func (b *Block) IsCheckpoint(epochSize uint64) bool {
	return b.Height%epochSize == 0
}

// Genesis constructs the single root block every validator shares,
// resolving SPEC_FULL.md §9's "ROOT as a module singleton" concern: the
// caller constructs one genesis value and passes it explicitly into every
// validator, rather than this package holding a process-wide constant.
func Genesis(cfg config.Parameters) *Block {
	initial := Dynasty{ID: 0, Members: cfg.InitialValidators}
	hash := idgen.New()
	return &Block{
		Hash:        hash,
		Height:      0,
		PrevHash:    ids.Empty,
		PrevDynasty: initial,
		CurrDynasty: initial,
		NextDynasty: SampleNextDynasty(hash, cfg.ValidatorUniverse, cfg.NumValidators, initial.ID),
	}
}

// New mints the child of parent. finalizedDynasties is the minting
// validator's observed set of finalized dynasty keys; it governs whether
// the dynasty rotates (SPEC_FULL.md §3's rotation invariant).
func New(parent *Block, finalizedDynasties func(DynastyKey) bool, cfg config.Parameters) *Block {
	hash := idgen.New()
	b := &Block{
		Hash:     hash,
		Height:   parent.Height + 1,
		PrevHash: parent.Hash,
	}
	b.NextDynasty = SampleNextDynasty(hash, cfg.ValidatorUniverse, cfg.NumValidators, parent.CurrDynasty.ID)

	if finalizedDynasties(parent.CurrDynasty.Key()) {
		b.PrevDynasty = parent.CurrDynasty
		b.CurrDynasty = parent.NextDynasty
	} else {
		b.PrevDynasty = parent.PrevDynasty
		b.CurrDynasty = parent.CurrDynasty
	}
	return b
}
