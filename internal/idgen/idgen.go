// Package idgen samples opaque, globally-unique identifiers for blocks and
// votes. These are not cryptographic hashes of any content — SPEC_FULL.md
// calls them sampled nonces — crypto/rand is used only as a convenient
// source of unbiased, collision-free randomness.
package idgen

import (
	"crypto/rand"
	"math/big"

	"github.com/luxfi/ids"
)

var maxNonce = new(big.Int).Lsh(big.NewInt(1), 248)

// New returns a fresh opaque identifier.
func New() ids.ID {
	n, err := rand.Int(rand.Reader, maxNonce)
	if err != nil {
		panic("idgen: failed to sample id: " + err.Error())
	}
	var id ids.ID
	n.FillBytes(id[:])
	return id
}
