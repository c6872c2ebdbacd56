package rolluptypes

import "math/big"

// PubKey is a compressed BabyJub-style public key: the x-coordinate plus a
// sign bit packed into the high bit of the last byte, mirroring the
// teacher's babyjub.PublicKeyComp encoding.
type PubKey [32]byte

func (p PubKey) Bytes() []byte { return p[:] }

func (p PubKey) BigInt() *big.Int {
	return new(big.Int).SetBytes(p[:])
}

func (p PubKey) Equals(o PubKey) bool {
	return p == o
}

func (p PubKey) MarshalText() ([]byte, error) {
	return []byte(hexEncode(p[:])), nil
}

func (p *PubKey) UnmarshalText(b []byte) error {
	dec, err := hexDecode(string(b))
	if err != nil {
		return err
	}
	if len(dec) > len(p) {
		return ErrInvalidPubKey
	}
	copy(p[len(p)-len(dec):], dec)
	return nil
}

// KeySet pairs a private scalar with its public key, analogous to the
// teacher's split between a keystore-held scalar and a cached
// babyjub.PublicKeyComp on the Issuer.
type KeySet struct {
	Priv *big.Int
	Pub  PubKey
}

// NumSendersInBlock is the fixed width of a block's sender/tx list (spec
// §3 "Block", e.g. 128): every posted block has exactly this many slots,
// with unused ones filled by DummyPubKey.
const NumSendersInBlock = 128

// DummyPubKey fills a block's unused sender slots once the real senders
// have been sorted in (spec §4.4 construct_block "pads with dummy pubkey
// 1"). Account-tree and signature-aggregation logic must skip it.
var DummyPubKey = PubKey{31: 1}

// Address identifies an intent-holder account in the rollup's account
// tree. It is a type alias of PubKey, so the two are interchangeable; the
// dense index a registered account gets is AccountID.
type Address = PubKey

// AccountID is the dense index assigned to a PubKey once it is inserted
// into the account tree (spec §3 "account tree").
type AccountID uint64

// SaltedPubKey is the poseidon commitment used as an account-tree leaf key,
// binding a public key to a per-account salt so that the tree's indexed
// structure does not leak raw public keys at non-membership boundaries.
type SaltedPubKey struct {
	PubKey PubKey
	Salt   Hash
}

func (s SaltedPubKey) Commitment() Hash {
	return PoseidonHash(s.PubKey.BigInt(), s.Salt.BigInt())
}
