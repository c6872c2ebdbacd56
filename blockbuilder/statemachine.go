// Package blockbuilder implements the Block Builder (spec §4.4): a
// four-phase state machine (Pausing -> Accepting -> Proposing -> Pausing)
// that collects sender txs, assembles a tx tree, aggregates signatures,
// and posts the resulting block to L1.
//
// Grounded on the teacher's PublishState publish flow in
// identity/issuer/issuer.go (compute a new state, prove the transition,
// post on-chain, publish off-chain), generalized from a single-state
// update to a block-batch of many senders' txs.
package blockbuilder

import (
	"bytes"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/intmax2/rollup-node/bn254crypto"
	"github.com/intmax2/rollup-node/historictree"
	"github.com/intmax2/rollup-node/intlog"
	"github.com/intmax2/rollup-node/rolluptypes"
	"golang.org/x/crypto/sha3"
)

// Phase is one of the three states the block builder cycles through
// (pausing -> accepting -> proposing -> pausing).
type Phase string

const (
	PhasePausing   Phase = "pausing"
	PhaseAccepting Phase = "accepting"
	PhaseProposing Phase = "proposing"
)

var (
	ErrWrongPhase        = errors.New("blockbuilder: operation not valid in current phase")
	ErrSenderAlreadySent = errors.New("blockbuilder: sender already submitted a tx this block")
	ErrUnknownProposal   = errors.New("blockbuilder: no proposal outstanding for this sender")
	ErrInvalidSignature  = errors.New("blockbuilder: signature failed the aggregate pairing check")
	ErrNoSigners         = errors.New("blockbuilder: no sender signed the proposed block")
	ErrBlockFull         = errors.New("blockbuilder: block already holds NumSendersInBlock requests")
	ErrWrongMode         = errors.New("blockbuilder: request's registration mode does not match this builder's")
	ErrNotSynced         = errors.New("blockbuilder: validity prover has not caught up to the latest on-chain block")
	ErrNotRegistered     = errors.New("blockbuilder: non-registration request from an unregistered sender")
	ErrAlreadyRegistered = errors.New("blockbuilder: registration request from an already-registered sender")
)

// AccountSyncChecker is the narrow slice of the validity prover's query
// surface SendTxRequest needs to enforce its registration-mode and
// sync-state preconditions (spec §4.4 send_tx_request).
type AccountSyncChecker interface {
	GetAccountInfo(pubKey rolluptypes.PubKey) (rolluptypes.AccountID, bool, error)
	HasProcessedBlock(blockNumber uint32) bool
}

// pendingTx is one sender's accepted submission for the block currently
// being assembled.
type pendingTx struct {
	sender rolluptypes.PubKey
	tx     rolluptypes.Tx
}

// L1Poster is the opaque collaborator that posts a finished, signed block
// to the rollup contract (spec §1 treats the L1 contract as external).
type L1Poster interface {
	PostBlock(block rolluptypes.SignedTxBlock) error
}

// BlockProposal is what one sender fetches during Proposing: its slot in
// the frozen, sorted-and-padded tx tree, plus enough of the tree to
// verify that slot and derive the signature's aggregation weight (spec
// §4.4 construct_block/query_proposal).
type BlockProposal struct {
	TxTreeRoot    rolluptypes.Hash
	TxIndex       uint32
	TxMerkleProof historictree.MerkleProof
	PubKeys       []rolluptypes.PubKey
	PubKeysHash   rolluptypes.Hash
}

// Builder drives the phase state machine for one block-builder instance.
type Builder struct {
	mu sync.Mutex

	phase Phase

	acceptingDuration time.Duration
	proposingDuration time.Duration
	registrationOnly  bool

	checker            AccountSyncChecker
	latestOnChainBlock func() uint32

	pending     []pendingTx
	seenSenders map[rolluptypes.PubKey]bool

	proposedRoot rolluptypes.Hash
	sortedSlots  []rolluptypes.PubKey
	proposals    map[rolluptypes.PubKey]BlockProposal
	signatures   map[rolluptypes.PubKey]*bn254crypto.G2Point
	pubKeys      map[rolluptypes.PubKey]*bn254crypto.G1Point

	poster L1Poster
}

func New(acceptingDuration, proposingDuration time.Duration, registrationOnly bool, poster L1Poster) *Builder {
	return &Builder{
		phase:             PhasePausing,
		acceptingDuration: acceptingDuration,
		proposingDuration: proposingDuration,
		registrationOnly:  registrationOnly,
		seenSenders:       make(map[rolluptypes.PubKey]bool),
		signatures:        make(map[rolluptypes.PubKey]*bn254crypto.G2Point),
		pubKeys:           make(map[rolluptypes.PubKey]*bn254crypto.G1Point),
		poster:            poster,
	}
}

// SetAccountSyncChecker wires send_tx_request's registration/sync
// preconditions to a live validity prover. Left unset, a Builder accepts
// requests without these checks (e.g. in tests); callers serving real
// traffic should always wire one.
func (b *Builder) SetAccountSyncChecker(checker AccountSyncChecker, latestOnChainBlock func() uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checker = checker
	b.latestOnChainBlock = latestOnChainBlock
}

func (b *Builder) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// BeginAccepting transitions Pausing -> Accepting, opening the window in
// which senders may call SendTxRequest.
func (b *Builder) BeginAccepting() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase != PhasePausing {
		return ErrWrongPhase
	}
	b.phase = PhaseAccepting
	b.pending = nil
	b.seenSenders = make(map[rolluptypes.PubKey]bool)
	b.proposals = nil
	b.sortedSlots = nil
	b.signatures = make(map[rolluptypes.PubKey]*bn254crypto.G2Point)
	b.pubKeys = make(map[rolluptypes.PubKey]*bn254crypto.G1Point)
	intlog.For("block-builder").Info("phase -> accepting")
	return nil
}

// SendTxRequest records one sender's tx for the block currently being
// assembled (spec §4.4 send_tx_request). Only valid during Accepting, for
// a request whose registration mode matches this builder's, while the
// block still has room and the sender hasn't already submitted one; when
// an AccountSyncChecker is wired, it also enforces the registration-state
// and validity-prover-sync preconditions.
func (b *Builder) SendTxRequest(isRegistration bool, sender rolluptypes.PubKey, tx rolluptypes.Tx) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase != PhaseAccepting {
		return ErrWrongPhase
	}
	if isRegistration != b.registrationOnly {
		return ErrWrongMode
	}
	if len(b.pending) >= rolluptypes.NumSendersInBlock {
		return ErrBlockFull
	}
	if b.seenSenders[sender] {
		return ErrSenderAlreadySent
	}
	if b.checker != nil {
		_, found, err := b.checker.GetAccountInfo(sender)
		if err != nil {
			return err
		}
		if isRegistration && found {
			return ErrAlreadyRegistered
		}
		if !isRegistration && !found {
			return ErrNotRegistered
		}
		if b.latestOnChainBlock != nil && !b.checker.HasProcessedBlock(b.latestOnChainBlock()) {
			return ErrNotSynced
		}
	}
	b.seenSenders[sender] = true
	b.pending = append(b.pending, pendingTx{sender: sender, tx: tx})
	return nil
}

// ConstructBlock transitions Accepting -> Proposing (spec §4.4
// construct_block): it sorts the accepted requests by pubkey descending,
// pads the list with (DummyPubKey, zero Tx) up to NumSendersInBlock,
// builds the fixed-height tx tree over that padded order, and records
// each original sender's BlockProposal against its slot in the sorted
// array.
func (b *Builder) ConstructBlock() (rolluptypes.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase != PhaseAccepting {
		return rolluptypes.Hash{}, ErrWrongPhase
	}

	slots := make([]pendingTx, len(b.pending))
	copy(slots, b.pending)
	sort.Slice(slots, func(i, j int) bool {
		return bytes.Compare(slots[i].sender[:], slots[j].sender[:]) > 0
	})
	for len(slots) < rolluptypes.NumSendersInBlock {
		slots = append(slots, pendingTx{sender: rolluptypes.DummyPubKey})
	}

	pubKeys := make([]rolluptypes.PubKey, len(slots))
	leaves := make([]rolluptypes.Hash, len(slots))
	for i, s := range slots {
		pubKeys[i] = s.sender
		leaves[i] = s.tx.Commitment()
	}
	root, levels := buildFixedTxTree(leaves)
	pubKeysHash := keccakPubKeys(pubKeys)

	proposals := make(map[rolluptypes.PubKey]BlockProposal, len(b.pending))
	for i, s := range slots {
		if s.sender == rolluptypes.DummyPubKey {
			continue
		}
		proposals[s.sender] = BlockProposal{
			TxTreeRoot:    root,
			TxIndex:       uint32(i),
			TxMerkleProof: txTreeProof(levels, uint64(i)),
			PubKeys:       pubKeys,
			PubKeysHash:   pubKeysHash,
		}
	}

	b.proposedRoot = root
	b.sortedSlots = pubKeys
	b.proposals = proposals
	b.phase = PhaseProposing
	intlog.For("block-builder").WithField("num_senders", len(b.pending)).Info("phase -> proposing")
	return root, nil
}

// buildFixedTxTree folds leaves (already padded to NumSendersInBlock)
// bottom-up, returning the root and every intermediate level so
// txTreeProof can derive an inclusion proof for any slot.
func buildFixedTxTree(leaves []rolluptypes.Hash) (rolluptypes.Hash, [][]rolluptypes.Hash) {
	levels := [][]rolluptypes.Hash{leaves}
	level := leaves
	for len(level) > 1 {
		next := make([]rolluptypes.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := rolluptypes.ZeroHash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, rolluptypes.PoseidonHashBytes(level[i], right))
		}
		levels = append(levels, next)
		level = next
	}
	return level[0], levels
}

func txTreeProof(levels [][]rolluptypes.Hash, index uint64) historictree.MerkleProof {
	siblings := make([]rolluptypes.Hash, 0, len(levels)-1)
	idx := index
	for lvl := 0; lvl < len(levels)-1; lvl++ {
		level := levels[lvl]
		sibIdx := idx ^ 1
		sib := rolluptypes.ZeroHash
		if sibIdx < uint64(len(level)) {
			sib = level[sibIdx]
		}
		siblings = append(siblings, sib)
		idx >>= 1
	}
	return historictree.MerkleProof{Index: index, Siblings: siblings}
}

// keccakPubKeys computes keccak(pubkeys_be) over the slot order, the
// pubkeys_hash every BlockProposal binds senders to (spec §4.4
// construct_block).
func keccakPubKeys(pubKeys []rolluptypes.PubKey) rolluptypes.Hash {
	digest := sha3.NewLegacyKeccak256()
	for _, pk := range pubKeys {
		digest.Write(pk.Bytes())
	}
	var out rolluptypes.Hash
	copy(out[:], digest.Sum(nil))
	return out
}

// QueryProposal returns sender's BlockProposal once the block has been
// constructed (spec §4.4 query_proposal); available only during
// Proposing.
func (b *Builder) QueryProposal(sender rolluptypes.PubKey) (BlockProposal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase != PhaseProposing {
		return BlockProposal{}, ErrWrongPhase
	}
	proposal, ok := b.proposals[sender]
	if !ok {
		return BlockProposal{}, ErrUnknownProposal
	}
	return proposal, nil
}

// PostSignature records one sender's signature over the proposed root.
func (b *Builder) PostSignature(sender rolluptypes.PubKey, pubKey *bn254crypto.G1Point, sig *bn254crypto.G2Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase != PhaseProposing {
		return ErrWrongPhase
	}
	if !b.seenSenders[sender] {
		return ErrUnknownProposal
	}
	b.signatures[sender] = sig
	b.pubKeys[sender] = pubKey
	return nil
}

// PostBlock aggregates every collected signature, verifies the pairing
// equality, posts the block to L1, and returns the state machine to
// Pausing (spec's Proposing -> Pausing transition).
func (b *Builder) PostBlock() (rolluptypes.SignedTxBlock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase != PhaseProposing {
		return rolluptypes.SignedTxBlock{}, ErrWrongPhase
	}
	if len(b.signatures) == 0 {
		return rolluptypes.SignedTxBlock{}, ErrNoSigners
	}

	var pubKeys []*bn254crypto.G1Point
	var sigs []*bn254crypto.G2Point
	for sender, sig := range b.signatures {
		pubKeys = append(pubKeys, b.pubKeys[sender])
		sigs = append(sigs, sig)
	}

	message := b.proposedRoot.Bytes()
	aggPub, err := bn254crypto.AggregatePublicKeys(pubKeys, message)
	if err != nil {
		return rolluptypes.SignedTxBlock{}, err
	}
	aggSig, err := bn254crypto.AggregateSignatures(sigs, pubKeys, message)
	if err != nil {
		return rolluptypes.SignedTxBlock{}, err
	}
	if !bn254crypto.VerifyAggregate(aggPub, aggSig, message) {
		return rolluptypes.SignedTxBlock{}, ErrInvalidSignature
	}

	kind := rolluptypes.BlockKindNonRegistration
	if b.registrationOnly {
		kind = rolluptypes.BlockKindRegistration
	}

	// SenderPublicKeys/SignatureFlags cover every slot of the sorted,
	// dummy-padded block (spec's 128-bit sender_flag bitmap), not just the
	// senders who returned a signature: a slot's position is part of the
	// block's committed shape and must survive even when its owner never
	// signed.
	senderList := b.sortedSlots
	if senderList == nil {
		senderList = make([]rolluptypes.PubKey, rolluptypes.NumSendersInBlock)
		for i := range senderList {
			senderList[i] = rolluptypes.DummyPubKey
		}
	}
	flags := make([]bool, len(senderList))
	numSigners := 0
	for i, pk := range senderList {
		if _, signed := b.signatures[pk]; signed && pk != rolluptypes.DummyPubKey {
			flags[i] = true
			numSigners++
		}
	}

	block := rolluptypes.SignedTxBlock{
		Kind:             kind,
		TxTreeRoot:       b.proposedRoot,
		SenderPublicKeys: senderList,
		SignatureFlags:   flags,
		AggregatePubKey:  aggPub.Marshal(),
		AggregateSig:     aggSig.Marshal(),
	}

	if err := b.poster.PostBlock(block); err != nil {
		return rolluptypes.SignedTxBlock{}, err
	}

	b.phase = PhasePausing
	intlog.For("block-builder").WithField("num_signers", numSigners).Info("phase -> pausing (block posted)")
	return block, nil
}
