// Package poseidoncrypto wraps the real Poseidon permutation used by every
// tree and commitment in the rollup, grounded on the teacher's own hash
// choice in merkletree/utils.go (HashElems/HashElemsKey call
// poseidon.Hash(bigints) directly).
package poseidoncrypto

import (
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// MaxInputs mirrors the upstream permutation's supported arity; callers
// that need to hash more elements should chain Hash calls (hash-then-hash)
// rather than passing an oversized slice.
const MaxInputs = 16

// Hash runs Poseidon over the given field elements. It returns an error
// only when an element does not fit the scalar field or there are more
// inputs than the permutation supports.
func Hash(elems ...*big.Int) (*big.Int, error) {
	return poseidon.Hash(elems)
}

// MustHash is Hash with the error promoted to a panic, for call sites that
// only ever pass pre-validated, in-field elements (mirrors the teacher's
// documented-unreachable panic in HashElems).
func MustHash(elems ...*big.Int) *big.Int {
	out, err := poseidon.Hash(elems)
	if err != nil {
		panic(err)
	}
	return out
}

// HashBytes hashes raw big-endian byte strings by lifting each to a
// big.Int first.
func HashBytes(chunks ...[]byte) (*big.Int, error) {
	elems := make([]*big.Int, len(chunks))
	for i, c := range chunks {
		elems[i] = new(big.Int).SetBytes(c)
	}
	return Hash(elems...)
}
