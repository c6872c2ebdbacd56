package clientsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/intmax2/rollup-node/balanceprover"
	"github.com/intmax2/rollup-node/intlog"
	"github.com/intmax2/rollup-node/rolluptypes"
)

var ErrNothingToSync = errors.New("clientsync: no pending action for this key")

// SettlementStatus classifies one unprocessed entry against the validity
// prover's current view of the chain (spec §4.5 step 2).
type SettlementStatus string

const (
	StatusSettled SettlementStatus = "settled"
	StatusPending SettlementStatus = "pending"
	StatusTimeout SettlementStatus = "timeout"
)

// TimeoutConfig holds the deposit/tx timeouts that separate a merely
// Pending entry from a Timeout one (spec §6.5 DEPOSIT_TIMEOUT/TX_TIMEOUT,
// defaults 3600s/60s).
type TimeoutConfig struct {
	DepositTimeout time.Duration
	TxTimeout      time.Duration
}

var DefaultTimeoutConfig = TimeoutConfig{
	DepositTimeout: 3600 * time.Second,
	TxTimeout:      60 * time.Second,
}

// Classify buckets entry into Settled/Pending/Timeout. A settled entry's
// Settled flag is authoritative; otherwise the entry's age against this
// config's timeout decides Pending vs Timeout.
func Classify(entry rolluptypes.TypedDataEntry, cfg TimeoutConfig, now time.Time) SettlementStatus {
	if entry.Settled {
		return StatusSettled
	}
	timeout := cfg.TxTimeout
	if entry.DataType == rolluptypes.DataTypeDeposit {
		timeout = cfg.DepositTimeout
	}
	if now.Sub(entry.Timestamp) > timeout {
		return StatusTimeout
	}
	return StatusPending
}

// ClassifiedEntry pairs a raw entry with its settlement bucket.
type ClassifiedEntry struct {
	Entry  rolluptypes.TypedDataEntry
	Status SettlementStatus
}

// ActionKind is the result of DetermineSequence: the next action a wallet
// should take (spec §4.5 steps 3-4).
type ActionKind string

const (
	ActionNone         ActionKind = "none"
	ActionTx           ActionKind = "tx"
	ActionPendingTx    ActionKind = "pending_tx"
	ActionUpdateNoSend ActionKind = "update_no_send"
	ActionReceive      ActionKind = "receive"
)

// ReceiveBatch bundles the latest-block-first settled deposits/transfers
// emitted together by step 4, plus the last-processed-timestamp cursors
// to advance once the batch is applied.
type ReceiveBatch struct {
	Deposits        []rolluptypes.TypedDataEntry
	Transfers       []rolluptypes.TypedDataEntry
	NewDepositLPT    time.Time
	NewTransferLPT   time.Time
}

// Action is the single next step DetermineSequence recommends.
type Action struct {
	Kind ActionKind
	// Entry is populated for ActionTx and ActionPendingTx.
	Entry rolluptypes.TypedDataEntry
	// UpdateToBlock is populated for ActionUpdateNoSend: the block number
	// a client must catch its balance proof up to before the paired
	// ActionReceive can be applied.
	UpdateToBlock uint32
	// Receive is populated for ActionReceive.
	Receive ReceiveBatch
}

// PendingSnapshot is the caller-gathered, already-classified set of
// unprocessed items a wallet has queued locally or received from the
// store vault, the input DetermineSequence reasons over.
type PendingSnapshot struct {
	CurrentPrivateCommitment rolluptypes.Hash
	Deposits                 []ClassifiedEntry
	Transfers                []ClassifiedEntry
	Txs                      []ClassifiedEntry
	// receiveUpdateDone is set once the UpdateNoSend step preceding a
	// Receive batch has already been emitted for the current batch, so
	// the next DetermineSequence call emits the Receive itself instead of
	// repeating the update step.
	receiveUpdateDone bool
}

// DetermineSequence picks the next action a wallet should take, preferring
// a settled tx that advances private state in one step over any receive
// batch (spec §4.5 step 3: applying a matching tx is always the most
// direct way to reach the next consistent state; receiving first could
// make a later matching tx unmatchable if the tx was generated against an
// older commitment).
func DetermineSequence(snapshot PendingSnapshot) Action {
	for _, ce := range snapshot.Txs {
		if ce.Status == StatusSettled && ce.Entry.PrevPrivateCommitment.Equals(snapshot.CurrentPrivateCommitment) {
			return Action{Kind: ActionTx, Entry: ce.Entry}
		}
	}
	for _, ce := range snapshot.Txs {
		if ce.Status == StatusPending && ce.Entry.PrevPrivateCommitment.Equals(snapshot.CurrentPrivateCommitment) {
			return Action{Kind: ActionPendingTx, Entry: ce.Entry}
		}
	}

	settledDeposits := settledEntries(snapshot.Deposits)
	settledTransfers := settledEntries(snapshot.Transfers)
	if len(settledDeposits) == 0 && len(settledTransfers) == 0 {
		return Action{Kind: ActionNone}
	}

	maxBlock := latestBlock(settledDeposits, settledTransfers)
	if !snapshot.receiveUpdateDone {
		return Action{Kind: ActionUpdateNoSend, UpdateToBlock: maxBlock}
	}

	sortLatestFirst(settledDeposits)
	sortLatestFirst(settledTransfers)
	return Action{
		Kind: ActionReceive,
		Receive: ReceiveBatch{
			Deposits:       settledDeposits,
			Transfers:      settledTransfers,
			NewDepositLPT:  latestTimestamp(settledDeposits),
			NewTransferLPT: latestTimestamp(settledTransfers),
		},
	}
}

func settledEntries(entries []ClassifiedEntry) []rolluptypes.TypedDataEntry {
	var out []rolluptypes.TypedDataEntry
	for _, ce := range entries {
		if ce.Status == StatusSettled {
			out = append(out, ce.Entry)
		}
	}
	return out
}

func latestBlock(groups ...[]rolluptypes.TypedDataEntry) uint32 {
	var max uint32
	for _, g := range groups {
		for _, e := range g {
			if e.BlockNumber > max {
				max = e.BlockNumber
			}
		}
	}
	return max
}

func sortLatestFirst(entries []rolluptypes.TypedDataEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].BlockNumber > entries[j].BlockNumber })
}

func latestTimestamp(entries []rolluptypes.TypedDataEntry) time.Time {
	var t time.Time
	for _, e := range entries {
		if e.Timestamp.After(t) {
			t = e.Timestamp
		}
	}
	return t
}

// Client drives the sync loop for one wallet key.
type Client struct {
	collab  Collaborators
	timeout TimeoutConfig
	now     func() time.Time
}

func New(collab Collaborators) *Client {
	return &Client{collab: collab, timeout: DefaultTimeoutConfig, now: time.Now}
}

// NewWithTimeouts is New with an explicit timeout configuration, used by
// tests and by deployments that override the spec's default
// DEPOSIT_TIMEOUT/TX_TIMEOUT.
func NewWithTimeouts(collab Collaborators, timeout TimeoutConfig) *Client {
	return &Client{collab: collab, timeout: timeout, now: time.Now}
}

// Sync classifies every unprocessed entry for owner recorded since since
// against the validity prover, then applies one DetermineSequence
// sequence: a single ActionTx or ActionPendingTx, or an
// ActionUpdateNoSend followed by its ActionReceive batch. Every action
// that mutates state asks the balance prover to attest the transition and
// persists the result to the store vault under optimistic-concurrency
// control, chaining each save's returned digest into the next. It returns
// the actions applied, in order; entries left over are picked up by the
// next call.
func (c *Client) Sync(ctx context.Context, owner rolluptypes.PubKey, state rolluptypes.PrivateState, since time.Time) ([]Action, error) {
	log := intlog.For("clientsync")

	blob, err := c.collab.StoreVault.GetUserData(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("clientsync: loading user data: %w", err)
	}
	digest := blob.Digest

	snapshot, err := c.classifySnapshot(ctx, owner, state.Commitment(), since)
	if err != nil {
		return nil, err
	}

	var actions []Action
	for {
		action := DetermineSequence(snapshot)
		if action.Kind == ActionNone {
			break
		}
		actions = append(actions, action)

		next, req, mutates := c.stateTransition(state, action)
		if mutates {
			if _, err := c.collab.BalanceProver.Prove(ctx, req); err != nil {
				return nil, fmt.Errorf("clientsync: balance proof for %s action: %w", action.Kind, err)
			}
			digest, err = c.collab.StoreVault.SaveUserData(ctx, owner, digest, encodePrivateState(next))
			if err != nil {
				return nil, fmt.Errorf("clientsync: saving synced user data: %w", err)
			}
		}
		state = next
		if action.Kind != ActionUpdateNoSend {
			break
		}

		snapshot = c.advance(snapshot, action)
		snapshot.CurrentPrivateCommitment = state.Commitment()
	}
	log.WithField("owner", fmt.Sprintf("%x", owner.Bytes())).WithField("num_actions", len(actions)).Debug("determined sync sequence")
	return actions, nil
}

// stateTransition computes the local private-state update one action
// implies and the request its balance proof must attest, reporting
// mutates=false for actions that only advance a sync cursor
// (ActionPendingTx, ActionNone) without changing asset/nullifier state.
//
// Decoding a receive entry's ciphertext into a fully-typed Deposit/
// Transfer is a wallet-application concern this library doesn't take on
// (spec §1 treats the balance circuit's internals as out of scope); the
// entry's ContentCommitment, recorded by the store vault alongside the
// ciphertext, is enough to fold the leaf into the asset tree here.
func (c *Client) stateTransition(state rolluptypes.PrivateState, action Action) (rolluptypes.PrivateState, balanceprover.UpdateRequest, bool) {
	switch action.Kind {
	case ActionTx:
		next := state.ApplyTx(action.Entry.PrevPrivateCommitment)
		return next, balanceprover.UpdateRequest{Prev: state, Next: next}, true
	case ActionReceive:
		next := state
		for _, d := range action.Receive.Deposits {
			next.AssetTreeRoot = rolluptypes.PoseidonHash(next.AssetTreeRoot.BigInt(), d.ContentCommitment.BigInt())
		}
		for _, t := range action.Receive.Transfers {
			next.AssetTreeRoot = rolluptypes.PoseidonHash(next.AssetTreeRoot.BigInt(), t.ContentCommitment.BigInt())
		}
		return next, balanceprover.UpdateRequest{Prev: state, Next: next}, true
	default:
		return state, balanceprover.UpdateRequest{}, false
	}
}

// encodePrivateState is the plaintext payload Sync hands the store vault
// as the updated user_data ciphertext. Real authenticated encryption
// under the owner's key happens at the wallet-application layer, the
// same boundary storevault's own envelope documents as out of scope here
// (spec §1); this library only needs a stable, opaque encoding to round-
// trip through the CAS-protected blob.
func encodePrivateState(s rolluptypes.PrivateState) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return b
}

func (c *Client) classifySnapshot(ctx context.Context, owner rolluptypes.PubKey, currentCommitment rolluptypes.Hash, since time.Time) (PendingSnapshot, error) {
	deposits, err := c.collab.StoreVault.GetDataAllAfter(ctx, owner, rolluptypes.DataTypeDeposit, since)
	if err != nil {
		return PendingSnapshot{}, err
	}
	transfers, err := c.collab.StoreVault.GetDataAllAfter(ctx, owner, rolluptypes.DataTypeTransfer, since)
	if err != nil {
		return PendingSnapshot{}, err
	}
	txs, err := c.collab.StoreVault.GetDataAllAfter(ctx, owner, rolluptypes.DataTypeTx, since)
	if err != nil {
		return PendingSnapshot{}, err
	}

	now := c.now()
	return PendingSnapshot{
		CurrentPrivateCommitment: currentCommitment,
		Deposits:                 classifyAll(deposits, c.timeout, now),
		Transfers:                classifyAll(transfers, c.timeout, now),
		Txs:                      classifyAll(txs, c.timeout, now),
	}, nil
}

func classifyAll(entries []rolluptypes.TypedDataEntry, cfg TimeoutConfig, now time.Time) []ClassifiedEntry {
	out := make([]ClassifiedEntry, len(entries))
	for i, e := range entries {
		out[i] = ClassifiedEntry{Entry: e, Status: Classify(e, cfg, now)}
	}
	return out
}

// advance removes the entries the just-returned action consumed, mirroring
// what sync(key) would have persisted by this point in the spec's
// sequence (apply a tx / receive a batch / mark the update step done).
func (c *Client) advance(s PendingSnapshot, applied Action) PendingSnapshot {
	switch applied.Kind {
	case ActionTx:
		s.Txs = removeEntry(s.Txs, applied.Entry)
		s.CurrentPrivateCommitment = applied.Entry.PrevPrivateCommitment
	case ActionUpdateNoSend:
		s.receiveUpdateDone = true
	case ActionReceive:
		s.Deposits = removeSettled(s.Deposits)
		s.Transfers = removeSettled(s.Transfers)
		s.receiveUpdateDone = false
	}
	return s
}

func removeEntry(entries []ClassifiedEntry, target rolluptypes.TypedDataEntry) []ClassifiedEntry {
	out := entries[:0:0]
	for _, ce := range entries {
		if ce.Entry.UUID == target.UUID {
			continue
		}
		out = append(out, ce)
	}
	return out
}

func removeSettled(entries []ClassifiedEntry) []ClassifiedEntry {
	out := entries[:0:0]
	for _, ce := range entries {
		if ce.Status == StatusSettled {
			continue
		}
		out = append(out, ce)
	}
	return out
}

// PendingWithdrawal is a settled withdrawal request awaiting relay, paired
// with the block number its settlement requires the validity prover to
// have reached before it can be submitted.
type PendingWithdrawal struct {
	Withdrawal      rolluptypes.Withdrawal
	Proof           []byte
	SettlementBlock uint32
}

// PendingWithdrawalError reports that one or more withdrawals could not be
// submitted because the validity prover has not yet reached their
// settlement block (spec §8 Scenario 4).
type PendingWithdrawalError struct {
	Count int
}

func (e *PendingWithdrawalError) Error() string {
	return fmt.Sprintf("clientsync: %d withdrawal(s) pending validity prover sync", e.Count)
}

// SyncWithdrawals issues every pending withdrawal in order, submitting
// each to the withdrawal server with its proof (spec's sync_withdrawals).
// It fails loudly — submitting none of them — if any withdrawal's
// settlement block hasn't been reached by the validity prover yet.
func (c *Client) SyncWithdrawals(ctx context.Context, withdrawals []PendingWithdrawal) error {
	if len(withdrawals) == 0 {
		return ErrNothingToSync
	}

	pending := 0
	for _, w := range withdrawals {
		reached, err := c.collab.ValidityProver.IsBlockProcessed(ctx, w.SettlementBlock)
		if err != nil {
			return err
		}
		if !reached {
			pending++
		}
	}
	if pending > 0 {
		return &PendingWithdrawalError{Count: pending}
	}

	for _, w := range withdrawals {
		if err := c.collab.WithdrawalServ.RequestWithdrawal(ctx, w.Withdrawal, w.Proof); err != nil {
			return err
		}
	}
	return nil
}
