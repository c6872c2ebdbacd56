// Package validityprover implements the Validity Prover (spec §4.3): the
// single writer that reconstructs the account, block-hash and deposit
// trees from observed events and extends a recursive chain of validity
// proofs, one per block.
//
// Grounded on the teacher's PublishState/SyncIdenStatePublic/
// GenZkProofIdenStateUpdate trio in identity/issuer/issuer.go: PublishState
// computes a new local state, proves the transition, and records a
// pending on-chain value; we generalize the single current/pending state
// pair into a per-block chain, and the single proof call into one call per
// observed block.
package validityprover

import (
	"encoding/json"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/intmax2/rollup-node/historictree"
	"github.com/intmax2/rollup-node/intdb"
	"github.com/intmax2/rollup-node/intlog"
	"github.com/intmax2/rollup-node/observer"
	"github.com/intmax2/rollup-node/rolluptypes"
)

var (
	ErrProofRejected        = errors.New("validityprover: generated proof failed self-verification")
	ErrUnknownAccount       = errors.New("validityprover: account not registered")
	ErrUnknownDeposit       = errors.New("validityprover: deposit index out of range")
	ErrUnknownBlock         = errors.New("validityprover: block number not observed")
	ErrOutOfOrderBlock      = errors.New("validityprover: block number does not extend the chain")
	ErrDepositRootMismatch  = errors.New("validityprover: recomputed deposit root does not match the posted block")
	ErrSenderAlreadyRegistered = errors.New("validityprover: registration block sender is already registered")
	ErrSenderNotRegistered     = errors.New("validityprover: non-registration block sender is not registered")
	ErrMalformedBlockEvent     = errors.New("validityprover: sender/signature list length mismatch")
)

// ValidityProofSystem is the opaque collaborator that proves and verifies
// one block's state transition, standing in for the real validity circuit
// (spec §4.3/§4.5's "Balance Prover (external)" sibling component — this
// repo's actual zk backend is iden3/go-circom-prover-verifier, the
// teacher's own dependency, wired in proofsystem.go).
type ValidityProofSystem interface {
	Prove(witness rolluptypes.ValidityWitness) ([]byte, error)
	Verify(proof []byte, witness rolluptypes.ValidityWitness) (bool, error)
}

const (
	accountTreeDepth   = 32
	blockHashTreeDepth = 32
	depositTreeDepth   = 32
)

// BlockWitness is the per-sender evidence the validity prover must be able
// to produce for a posted block (spec §4.3 step (b)): for a registration
// block, a non-membership proof excluding the sender from the
// pre-block account tree; for a non-registration block, a membership
// proof including the sender's existing account leaf.
type BlockWitness struct {
	SenderExclusionProofs  map[rolluptypes.PubKey]historictree.MerkleProof
	SenderInclusionProofs  map[rolluptypes.AccountID]historictree.MerkleProof
}

// Prover is the validity prover's storage-backed state machine. Every
// mutating method takes mu, mirroring the spec's single-writer
// requirement for this component.
type Prover struct {
	mu sync.Mutex

	storage       *intdb.Storage
	accountTree   *historictree.IndexedTree
	blockHashTree *historictree.IncrementalTree
	depositTree   *historictree.IncrementalTree

	proofSystem  ValidityProofSystem
	proofCache   *lru.Cache // blockNumber -> []byte proof
	witnessCache *lru.Cache // blockNumber -> BlockWitness

	lastBlock     rolluptypes.FullBlock
	lastValidity  rolluptypes.Hash
	haveLastBlock bool
}

func New(storage *intdb.Storage, proofSystem ValidityProofSystem) (*Prover, error) {
	accountTree, err := historictree.NewIndexedTree(storage.WithPrefix([]byte("account_tree:")), accountTreeDepth)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New(64)
	if err != nil {
		return nil, err
	}
	witnessCache, err := lru.New(64)
	if err != nil {
		return nil, err
	}
	return &Prover{
		storage:       storage,
		accountTree:   accountTree,
		blockHashTree: historictree.NewIncrementalTree(storage.WithPrefix([]byte("block_hash_tree:")), blockHashTreeDepth),
		depositTree:   historictree.NewIncrementalTree(storage.WithPrefix([]byte("deposit_tree:")), depositTreeDepth),
		proofSystem:   proofSystem,
		proofCache:    cache,
		witnessCache:  witnessCache,
	}, nil
}

func txTreeRootKey(root rolluptypes.Hash) []byte {
	return append([]byte("__tx_tree_root:"), root.Bytes()...)
}

func blockByNumberKey(blockNumber uint32) []byte {
	return append([]byte("__block:"), intdb.Uint64Key(uint64(blockNumber))...)
}

// OnBlockPosted implements observer.Sink: it is the sync() entry point
// that extends the validity proof chain by one block (spec §4.3).
//
// Per step (f), the deposit tree root this prover maintains locally must
// equal the root the rollup contract declares for this block; any
// divergence means this prover's view of deposits has drifted from L1's,
// and it must halt rather than silently adopt the contract's value.
func (p *Prover) OnBlockPosted(ev observer.BlockPostedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := intlog.For("validity-prover")

	if len(ev.SignatureFlags) != 0 && len(ev.SignatureFlags) != len(ev.SenderPublicKeys) {
		return ErrMalformedBlockEvent
	}

	block := rolluptypes.FullBlock{
		BlockNumber: ev.BlockNumber,
		Kind:        ev.Kind,
		TxTreeRoot:  ev.TxTreeRoot,
	}
	if p.haveLastBlock && block.BlockNumber != p.lastBlock.BlockNumber+1 {
		return ErrOutOfOrderBlock
	}
	if p.haveLastBlock {
		block.PrevBlockHash = p.lastBlock.Hash()
	}

	localDepositRoot, err := p.depositTree.CurrentRoot()
	if err != nil {
		return err
	}
	if !localDepositRoot.Equals(ev.DeclaredDepositTreeRoot) {
		log.WithField("block_number", block.BlockNumber).
			WithField("local_root", localDepositRoot.String()).
			WithField("declared_root", ev.DeclaredDepositTreeRoot.String()).
			Error("deposit tree root mismatch, halting sync")
		return ErrDepositRootMismatch
	}
	block.DepositTreeRoot = localDepositRoot

	// The block witness (exclusion proof for a not-yet-registered sender,
	// inclusion proof for an already-registered one) must be taken against
	// the account tree as it stood before this block's own registrations,
	// so it is computed per sender immediately before that sender's
	// account tree mutation (if any) is applied. Only senders who returned
	// a signature (did_return_sig) participate; a sender who did not sign
	// keeps its existing account-tree state (or stays unregistered).
	witness := BlockWitness{
		SenderExclusionProofs: make(map[rolluptypes.PubKey]historictree.MerkleProof),
		SenderInclusionProofs: make(map[rolluptypes.AccountID]historictree.MerkleProof),
	}
	for i, pub := range ev.SenderPublicKeys {
		if pub == rolluptypes.DummyPubKey {
			continue
		}
		if len(ev.SignatureFlags) != 0 && !ev.SignatureFlags[i] {
			continue
		}
		switch ev.Kind {
		case rolluptypes.BlockKindRegistration:
			if already, err := p.accountTree.Contains(pub.BigInt()); err != nil {
				return err
			} else if already {
				return ErrSenderAlreadyRegistered
			}
			_, proof, err := p.accountTree.NonMembershipProof(pub.BigInt())
			if err != nil {
				return err
			}
			witness.SenderExclusionProofs[pub] = proof
			if _, err := p.registerAccountLocked(pub); err != nil {
				return err
			}
		case rolluptypes.BlockKindNonRegistration:
			accountID, found, err := p.accountInfoLocked(pub)
			if err != nil {
				return err
			}
			if !found {
				return ErrSenderNotRegistered
			}
			proof, err := p.accountTree.MembershipProof(uint64(accountID))
			if err != nil {
				return err
			}
			witness.SenderInclusionProofs[accountID] = proof
		}
	}

	accountRoot, err := p.accountTree.CurrentRoot()
	if err != nil {
		return err
	}
	block.AccountTreeRoot = accountRoot

	if _, _, err := p.blockHashTree.Append(block.Hash()); err != nil {
		return err
	}

	blockNumberBytes, err := json.Marshal(block.BlockNumber)
	if err != nil {
		return err
	}
	blockBytes, err := json.Marshal(block)
	if err != nil {
		return err
	}
	tx := p.storage.NewTx()
	if err := tx.Put(txTreeRootKey(block.TxTreeRoot), blockNumberBytes); err != nil {
		tx.Discard()
		return err
	}
	if err := tx.Put(blockByNumberKey(block.BlockNumber), blockBytes); err != nil {
		tx.Discard()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	witnessForProof := rolluptypes.ValidityWitness{
		Block:            block,
		PrevValidityRoot: p.lastValidity,
	}
	witnessForProof.NewValidityRoot = rolluptypes.PoseidonHashBytes(witnessForProof.PrevValidityRoot, block.Hash())

	proof, err := p.proofSystem.Prove(witnessForProof)
	if err != nil {
		return err
	}
	ok, err := p.proofSystem.Verify(proof, witnessForProof)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProofRejected
	}
	p.proofCache.Add(ev.BlockNumber, proof)
	p.witnessCache.Add(ev.BlockNumber, witness)

	p.lastBlock = block
	p.lastValidity = witnessForProof.NewValidityRoot
	p.haveLastBlock = true

	log.WithField("block_number", block.BlockNumber).Info("extended validity proof chain")
	return nil
}

// GetBlockWitness returns the block witness computed while processing
// blockNumber, the per-sender exclusion/inclusion proofs of spec §4.3 step
// (b), if that block is still in cache.
func (p *Prover) GetBlockWitness(blockNumber uint32) (BlockWitness, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.witnessCache.Get(blockNumber)
	if !ok {
		return BlockWitness{}, false
	}
	return v.(BlockWitness), true
}

// OnDepositLeafInserted implements observer.Sink: it appends a deposit
// leaf to the deposit tree ahead of the block that will reference it.
func (p *Prover) OnDepositLeafInserted(ev observer.DepositLeafInsertedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, _, err := p.depositTree.Append(ev.Deposit.Commitment())
	return err
}

// RegisterAccount inserts a new public key into the account tree, the
// action a registration block takes for every first-time sender.
func (p *Prover) RegisterAccount(pubKey rolluptypes.PubKey) (rolluptypes.AccountID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registerAccountLocked(pubKey)
}

func (p *Prover) registerAccountLocked(pubKey rolluptypes.PubKey) (rolluptypes.AccountID, error) {
	idx, _, err := p.accountTree.Insert(pubKey.BigInt(), pubKey)
	if err != nil {
		return 0, err
	}
	return rolluptypes.AccountID(idx), nil
}

// GetAccountInfo reports whether pubKey is registered, and its dense
// account id if so (spec's get_account_info query).
func (p *Prover) GetAccountInfo(pubKey rolluptypes.PubKey) (rolluptypes.AccountID, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accountInfoLocked(pubKey)
}

func (p *Prover) accountInfoLocked(pubKey rolluptypes.PubKey) (rolluptypes.AccountID, bool, error) {
	has, err := p.accountTree.Contains(pubKey.BigInt())
	if err != nil || !has {
		return 0, false, err
	}
	// Linear scan is acceptable here: account registration is rare
	// relative to tx volume, and IndexedTree keeps no key->index
	// secondary index.
	for i := uint64(0); ; i++ {
		leaf, err := p.accountTree.LeafAt(i)
		if err != nil {
			return 0, false, nil
		}
		if leaf.Key.Cmp(pubKey.BigInt()) == 0 {
			return rolluptypes.AccountID(i), true, nil
		}
	}
}

// GetDepositInfo returns the inclusion proof of the deposit leaf at index
// against the deposit tree's latest root; the deposit itself is not
// returned.
func (p *Prover) GetDepositInfo(index uint64) (historictree.MerkleProof, error) {
	return p.depositTree.ProveByIndex(index)
}

// GetBlockNumberByTxTreeRoot resolves a posted block's tx tree root back
// to its block number (spec §6.1 get-block-number-by-tx-tree-root).
func (p *Prover) GetBlockNumberByTxTreeRoot(root rolluptypes.Hash) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var n uint32
	err := p.storage.LoadJSON(txTreeRootKey(root), &n)
	if err == intdb.ErrNotFound {
		return 0, ErrUnknownBlock
	}
	return n, err
}

// UpdateWitness bundles the block-hash tree inclusion proof for
// blockNumber, the full block it proves, and (if pubKey was registered at
// that snapshot) the account tree membership proof at the same point —
// the witness a client needs to catch its private state up to a given
// block (spec §4.5's get_update_witness).
type UpdateWitness struct {
	Block                  rolluptypes.FullBlock
	BlockInclusionProof    historictree.MerkleProof
	AccountID              rolluptypes.AccountID
	Registered             bool
	AccountMembershipProof historictree.MerkleProof
}

func (p *Prover) GetUpdateWitness(pubKey rolluptypes.PubKey, blockNumber uint32) (UpdateWitness, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var block rolluptypes.FullBlock
	if err := p.storage.LoadJSON(blockByNumberKey(blockNumber), &block); err != nil {
		if err == intdb.ErrNotFound {
			return UpdateWitness{}, ErrUnknownBlock
		}
		return UpdateWitness{}, err
	}

	snapshotRoot, err := p.blockHashTree.RootAt(uint64(blockNumber) + 1)
	if err != nil {
		return UpdateWitness{}, err
	}
	blockProof, err := p.blockHashTree.ProveByRoot(snapshotRoot, uint64(blockNumber))
	if err != nil {
		return UpdateWitness{}, err
	}

	out := UpdateWitness{Block: block, BlockInclusionProof: blockProof}

	accountID, found, err := p.accountInfoLocked(pubKey)
	if err != nil {
		return UpdateWitness{}, err
	}
	if found {
		// An index at or past the leaf count of the block's account tree
		// root was assigned after that block.
		leaves, err := p.accountTree.GetLeavesByRoot(block.AccountTreeRoot)
		if err != nil {
			return UpdateWitness{}, err
		}
		found = uint64(accountID) < uint64(len(leaves))
	}
	if found {
		accountProof, err := p.accountTree.ProveByRoot(block.AccountTreeRoot, uint64(accountID))
		if err != nil {
			return UpdateWitness{}, err
		}
		out.AccountID = accountID
		out.Registered = true
		out.AccountMembershipProof = accountProof
	}
	return out, nil
}

// HasProcessedBlock reports whether the validity proof chain has already
// extended through blockNumber, the check a withdrawal sync needs before
// submitting a withdrawal whose settlement block may not have been
// reached yet (spec §8 Scenario 4).
func (p *Prover) HasProcessedBlock(blockNumber uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.haveLastBlock && blockNumber <= p.lastBlock.BlockNumber
}

func (p *Prover) LatestValidityRoot() rolluptypes.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastValidity
}
