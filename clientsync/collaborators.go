// Package clientsync implements the Client Sync Engine (spec §4.5): the
// library a wallet links against to catch its private state up to the
// chain via determine_sequence/sync, independent of any one server's
// transport so it can be pointed at mocks in tests.
//
// Grounded on the teacher's split between idenpubonchain.IdenPubOnChainer
// and idenpuboffchain.IdenPubOffChainWriter as two narrow collaborator
// interfaces (identity/issuer/issuer.go), generalized here to five small
// interfaces, one per upstream service, rather than one client
// god-interface.
package clientsync

import (
	"context"
	"time"

	"github.com/intmax2/rollup-node/balanceprover"
	"github.com/intmax2/rollup-node/historictree"
	"github.com/intmax2/rollup-node/rolluptypes"
	"github.com/intmax2/rollup-node/validityprover"
)

// BlockBuilderClient is what a wallet needs from a block builder.
type BlockBuilderClient interface {
	SendTxRequest(ctx context.Context, sender rolluptypes.PubKey, tx rolluptypes.Tx) error
	QueryProposal(ctx context.Context) (rolluptypes.Hash, error)
	PostSignature(ctx context.Context, sender rolluptypes.PubKey, sig []byte) error
}

// StoreVaultClient is what a wallet needs from the store vault.
type StoreVaultClient interface {
	GetUserData(ctx context.Context, owner rolluptypes.PubKey) (rolluptypes.UserDataBlob, error)
	SaveUserData(ctx context.Context, owner rolluptypes.PubKey, prevDigest rolluptypes.Hash, ciphertext []byte) (rolluptypes.Hash, error)
	GetDataAllAfter(ctx context.Context, owner rolluptypes.PubKey, dt rolluptypes.DataType, since time.Time) ([]rolluptypes.TypedDataEntry, error)
}

// ValidityProverClient is what a wallet needs from the validity prover.
type ValidityProverClient interface {
	GetAccountInfo(ctx context.Context, pubKey rolluptypes.PubKey) (rolluptypes.AccountID, bool, error)
	GetDepositInfo(ctx context.Context, index uint64) (historictree.MerkleProof, error)
	GetUpdateWitness(ctx context.Context, pubKey rolluptypes.PubKey, blockNumber uint32) (validityprover.UpdateWitness, error)
	// GetBlockNumberByTxTreeRoot resolves a settled tx/transfer's tx tree
	// root to the block number it was posted in, reporting false if the
	// validity prover hasn't observed that root yet (spec §6.1
	// get-block-number-by-tx-tree-root). Classify does not call it: it
	// reads each entry's Settled flag instead.
	GetBlockNumberByTxTreeRoot(ctx context.Context, root rolluptypes.Hash) (uint32, bool, error)
	// IsBlockProcessed reports whether the validity prover's proof chain
	// has already extended through blockNumber, the check
	// sync_withdrawals needs before submitting a withdrawal whose
	// settlement block may not have been reached yet (spec §8 Scenario
	// 4).
	IsBlockProcessed(ctx context.Context, blockNumber uint32) (bool, error)
}

// WithdrawalServerClient is what a wallet needs from the withdrawal
// server.
type WithdrawalServerClient interface {
	RequestWithdrawal(ctx context.Context, withdrawal rolluptypes.Withdrawal, proof []byte) error
	GetWithdrawalInfo(ctx context.Context, nullifier rolluptypes.Hash) (string, error)
}

// Collaborators bundles every upstream dependency the Client needs.
// BalanceProver is balanceprover.Client directly rather than a clientsync-
// local interface, so Sync's proof requests use the repo-wide balance
// prover contract (spec component E).
type Collaborators struct {
	BlockBuilder   BlockBuilderClient
	StoreVault     StoreVaultClient
	ValidityProver ValidityProverClient
	BalanceProver  balanceprover.Client
	WithdrawalServ WithdrawalServerClient
}
