package rolluptypes

import "time"

// DataType enumerates the typed append-only streams the store vault keeps
// per user, in addition to the single CAS-protected user_data blob (spec
// §4.6).
type DataType string

const (
	DataTypeDeposit    DataType = "deposit"
	DataTypeTransfer   DataType = "transfer"
	DataTypeTx         DataType = "tx"
	DataTypeWithdrawal DataType = "withdrawal"
	DataTypeUserData   DataType = "user_data"
	DataTypeSenderProofSet DataType = "sender_proof_set"
)

// TypedDataEntry is one entry in an append-only stream: an opaque
// authenticated-encrypted blob plus the metadata needed to list and
// paginate it (spec §3 "Typed Data Entry").
type TypedDataEntry struct {
	UUID        string
	DataType    DataType
	Owner       PubKey
	Ciphertext  []byte
	Timestamp   time.Time
	BlockNumber uint32
	// Settled reports whether this entry's counterpart has a block number
	// in the validity prover yet (spec §4.5 step 2's Settled/Pending/
	// Timeout classification); false until the validity prover observes
	// the block that includes it.
	Settled bool
	// PrevPrivateCommitment is set on Tx entries: the sender's private
	// state commitment the tx witness was generated against, used to
	// match a settled tx as the wallet's exact next send (spec §4.5
	// step 3).
	PrevPrivateCommitment Hash
	// HasWithdrawal marks a Tx entry whose transfer also requested a
	// withdrawal, so sync_withdrawals can find which block must be
	// reached before submitting it.
	HasWithdrawal bool
	// ContentCommitment is the deposit/transfer leaf commitment the
	// ciphertext encrypts, recorded alongside it so a receive step can
	// fold the entry into the asset tree without decrypting it (spec
	// §4.5 step 4).
	ContentCommitment Hash
}

// UserDataBlob is the single CAS-protected per-user aggregate blob (spec
// §3 "User Data Blob"): private state plus bookkeeping cursors, stored
// encrypted and addressed by the keccak256 digest of its ciphertext for
// optimistic concurrency control.
type UserDataBlob struct {
	Owner            PubKey
	Digest           Hash
	Ciphertext       []byte
	LastProcessedBlock uint32
}
