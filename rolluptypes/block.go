package rolluptypes

import "math/big"

// BlockKind distinguishes a registration block (new senders, keyed by raw
// public key) from a non-registration block (keyed by dense AccountID),
// per spec §4.4's block-builder phases.
type BlockKind uint8

const (
	BlockKindRegistration BlockKind = iota
	BlockKindNonRegistration
)

// SignedTxBlock is the payload a block builder assembles and posts: the
// tx tree built from accepted senders' Tx leaves, plus the aggregate BLS
// signature over its root.
type SignedTxBlock struct {
	Kind             BlockKind
	TxTreeRoot       Hash
	SenderPublicKeys []PubKey
	// SignatureFlags marks, in the same order as SenderPublicKeys, which
	// senders actually returned a signature (did_return_sig); a sender who
	// did not sign still occupies its slot in SenderPublicKeys but is
	// excluded from aggregation and from any account-tree update.
	SignatureFlags  []bool
	AggregatePubKey []byte // marshalled (uncompressed) G1 point
	AggregateSig    []byte // marshalled (uncompressed) G2 point
}

// FullBlock is a posted, observed block as reconstructed by the validity
// prover from L1/L2 events (spec §3 "Historical Tree" block-hash tree).
type FullBlock struct {
	BlockNumber      uint32
	Kind             BlockKind
	TxTreeRoot       Hash
	PrevBlockHash    Hash
	DepositTreeRoot  Hash
	AccountTreeRoot  Hash
	Timestamp        uint64
}

func (b FullBlock) Hash() Hash {
	return PoseidonHash(
		big.NewInt(int64(b.BlockNumber)),
		big.NewInt(int64(b.Kind)),
		b.TxTreeRoot.BigInt(),
		b.PrevBlockHash.BigInt(),
		b.DepositTreeRoot.BigInt(),
		b.AccountTreeRoot.BigInt(),
		new(big.Int).SetUint64(b.Timestamp),
	)
}

// ValidityWitness bundles the public inputs the validity circuit commits
// to for one block transition: the block itself (which carries its
// deposit and account tree roots) plus the validity roots before and after
// applying it (spec §4.3 "recursive validity proof chain").
type ValidityWitness struct {
	Block            FullBlock
	PrevValidityRoot Hash
	NewValidityRoot  Hash
}

// PublicInputs exposes this witness's fields as the flat map a zk proof
// system's circuit input binding expects, the same "inputs[...] = ..."
// shape the teacher's GenZkProofIdenStateUpdate builds by hand.
func (w ValidityWitness) PublicInputs() map[string]*big.Int {
	return map[string]*big.Int{
		"blockNumber":      big.NewInt(int64(w.Block.BlockNumber)),
		"txTreeRoot":       w.Block.TxTreeRoot.BigInt(),
		"prevBlockHash":    w.Block.PrevBlockHash.BigInt(),
		"depositTreeRoot":  w.Block.DepositTreeRoot.BigInt(),
		"accountTreeRoot":  w.Block.AccountTreeRoot.BigInt(),
		"prevValidityRoot": w.PrevValidityRoot.BigInt(),
		"newValidityRoot":  w.NewValidityRoot.BigInt(),
	}
}
