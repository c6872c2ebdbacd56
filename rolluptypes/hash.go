// Package rolluptypes holds the shared data model for the rollup control
// plane: identifiers, transactions, private-state leaves, blocks and the
// user-data blob format.
package rolluptypes

import (
	"bytes"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// HashLen is the width of a field-element hash in bytes.
const HashLen = 32

// Hash is a 32-byte Poseidon-field element, used for every commitment and
// tree node in the historical Merkle tree substrate.
type Hash [HashLen]byte

// ZeroHash is the canonical empty-leaf/empty-subtree value.
var ZeroHash = Hash{}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) BigInt() *big.Int {
	return new(big.Int).SetBytes(h[:])
}

func (h Hash) Equals(o Hash) bool {
	return bytes.Equal(h[:], o[:])
}

func (h Hash) String() string {
	return hexEncode(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(hexEncode(h[:])), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	dec, err := hexDecode(string(b))
	if err != nil {
		return err
	}
	if len(dec) > HashLen {
		return ErrHashOverflow
	}
	copy(h[HashLen-len(dec):], dec)
	return nil
}

// HashFromBigInt reduces a big.Int into a fixed-width Hash, big-endian.
func HashFromBigInt(v *big.Int) Hash {
	var h Hash
	b := v.Bytes()
	if len(b) > HashLen {
		b = b[len(b)-HashLen:]
	}
	copy(h[HashLen-len(b):], b)
	return h
}

// PoseidonHash hashes a slice of field elements the way the historical tree
// hashes sibling pairs and leaf contents: reduce to big.Int, call the real
// Poseidon permutation, and fold the result back into a Hash.
func PoseidonHash(elems ...*big.Int) Hash {
	out, err := poseidon.Hash(elems)
	if err != nil {
		// Only returned by poseidon.Hash when an input has more limbs than
		// the permutation supports; every caller here passes well-formed
		// field elements produced by this package, so this is unreachable.
		panic(err)
	}
	return HashFromBigInt(out)
}

// PoseidonHashBytes hashes raw hash values by first lifting them to field
// elements, used for sibling-pair hashing inside the historical tree.
func PoseidonHashBytes(elems ...Hash) Hash {
	ints := make([]*big.Int, len(elems))
	for i, e := range elems {
		ints[i] = e.BigInt()
	}
	return PoseidonHash(ints...)
}
