package clientsync

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/intmax2/rollup-node/balanceprover"
	"github.com/intmax2/rollup-node/historictree"
	"github.com/intmax2/rollup-node/rolluptypes"
	"github.com/intmax2/rollup-node/validityprover"
	"github.com/stretchr/testify/assert"
)

func fixedNow() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestDetermineSequenceMatchesSettledTxOverReceives(t *testing.T) {
	c0 := rolluptypes.HashFromBigInt(big.NewInt(1))
	snapshot := PendingSnapshot{
		CurrentPrivateCommitment: c0,
		Deposits: []ClassifiedEntry{
			{Entry: rolluptypes.TypedDataEntry{UUID: "d10", BlockNumber: 10, Settled: true}, Status: StatusSettled},
			{Entry: rolluptypes.TypedDataEntry{UUID: "d12", BlockNumber: 12, Settled: true}, Status: StatusSettled},
		},
		Txs: []ClassifiedEntry{
			{Entry: rolluptypes.TypedDataEntry{UUID: "tx11", BlockNumber: 11, Settled: true, PrevPrivateCommitment: c0}, Status: StatusSettled},
		},
	}
	action := DetermineSequence(snapshot)
	assert.Equal(t, ActionTx, action.Kind)
	assert.Equal(t, "tx11", action.Entry.UUID)
}

func TestDetermineSequencePendingTxBlocksReceives(t *testing.T) {
	c0 := rolluptypes.HashFromBigInt(big.NewInt(1))
	snapshot := PendingSnapshot{
		CurrentPrivateCommitment: c0,
		Deposits: []ClassifiedEntry{
			{Entry: rolluptypes.TypedDataEntry{UUID: "d1", BlockNumber: 1, Settled: true}, Status: StatusSettled},
		},
		Txs: []ClassifiedEntry{
			{Entry: rolluptypes.TypedDataEntry{UUID: "tx1", PrevPrivateCommitment: c0}, Status: StatusPending},
		},
	}
	action := DetermineSequence(snapshot)
	assert.Equal(t, ActionPendingTx, action.Kind)
	assert.Equal(t, "tx1", action.Entry.UUID)
}

func TestDetermineSequenceEmitsUpdateThenReceive(t *testing.T) {
	snapshot := PendingSnapshot{
		Deposits: []ClassifiedEntry{
			{Entry: rolluptypes.TypedDataEntry{UUID: "d1", BlockNumber: 7, Settled: true}, Status: StatusSettled},
		},
	}
	action := DetermineSequence(snapshot)
	assert.Equal(t, ActionUpdateNoSend, action.Kind)
	assert.Equal(t, uint32(7), action.UpdateToBlock)

	snapshot.receiveUpdateDone = true
	action = DetermineSequence(snapshot)
	assert.Equal(t, ActionReceive, action.Kind)
	assert.Len(t, action.Receive.Deposits, 1)
	assert.Equal(t, "d1", action.Receive.Deposits[0].UUID)
}

func TestDetermineSequenceNoneWhenEmpty(t *testing.T) {
	action := DetermineSequence(PendingSnapshot{})
	assert.Equal(t, ActionNone, action.Kind)
}

func TestClassifyBucketsByTimeoutAndDataType(t *testing.T) {
	cfg := TimeoutConfig{DepositTimeout: time.Hour, TxTimeout: time.Minute}
	now := fixedNow()

	settled := rolluptypes.TypedDataEntry{Settled: true, Timestamp: now.Add(-10 * time.Hour)}
	assert.Equal(t, StatusSettled, Classify(settled, cfg, now))

	freshTx := rolluptypes.TypedDataEntry{DataType: rolluptypes.DataTypeTx, Timestamp: now.Add(-30 * time.Second)}
	assert.Equal(t, StatusPending, Classify(freshTx, cfg, now))

	staleTx := rolluptypes.TypedDataEntry{DataType: rolluptypes.DataTypeTx, Timestamp: now.Add(-2 * time.Minute)}
	assert.Equal(t, StatusTimeout, Classify(staleTx, cfg, now))

	freshDeposit := rolluptypes.TypedDataEntry{DataType: rolluptypes.DataTypeDeposit, Timestamp: now.Add(-30 * time.Minute)}
	assert.Equal(t, StatusPending, Classify(freshDeposit, cfg, now))

	staleDeposit := rolluptypes.TypedDataEntry{DataType: rolluptypes.DataTypeDeposit, Timestamp: now.Add(-2 * time.Hour)}
	assert.Equal(t, StatusTimeout, Classify(staleDeposit, cfg, now))
}

type fakeStoreVault struct {
	byType map[rolluptypes.DataType][]rolluptypes.TypedDataEntry
}

func (f *fakeStoreVault) GetUserData(ctx context.Context, owner rolluptypes.PubKey) (rolluptypes.UserDataBlob, error) {
	return rolluptypes.UserDataBlob{}, nil
}

func (f *fakeStoreVault) SaveUserData(ctx context.Context, owner rolluptypes.PubKey, prevDigest rolluptypes.Hash, ciphertext []byte) (rolluptypes.Hash, error) {
	return rolluptypes.Hash{}, nil
}

func (f *fakeStoreVault) GetDataAllAfter(ctx context.Context, owner rolluptypes.PubKey, dt rolluptypes.DataType, since time.Time) ([]rolluptypes.TypedDataEntry, error) {
	var out []rolluptypes.TypedDataEntry
	for _, e := range f.byType[dt] {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeValidityProver struct {
	processedThrough uint32
}

func (f *fakeValidityProver) GetAccountInfo(ctx context.Context, pubKey rolluptypes.PubKey) (rolluptypes.AccountID, bool, error) {
	return 0, false, nil
}

func (f *fakeValidityProver) GetDepositInfo(ctx context.Context, index uint64) (historictree.MerkleProof, error) {
	return historictree.MerkleProof{}, nil
}

func (f *fakeValidityProver) GetUpdateWitness(ctx context.Context, pubKey rolluptypes.PubKey, blockNumber uint32) (validityprover.UpdateWitness, error) {
	return validityprover.UpdateWitness{}, nil
}

func (f *fakeValidityProver) GetBlockNumberByTxTreeRoot(ctx context.Context, root rolluptypes.Hash) (uint32, bool, error) {
	return 0, false, nil
}

func (f *fakeValidityProver) IsBlockProcessed(ctx context.Context, blockNumber uint32) (bool, error) {
	return blockNumber <= f.processedThrough, nil
}

type fakeWithdrawalServer struct {
	requested []rolluptypes.Withdrawal
}

func (f *fakeWithdrawalServer) RequestWithdrawal(ctx context.Context, w rolluptypes.Withdrawal, proof []byte) error {
	f.requested = append(f.requested, w)
	return nil
}

func (f *fakeWithdrawalServer) GetWithdrawalInfo(ctx context.Context, nullifier rolluptypes.Hash) (string, error) {
	return "relayed", nil
}

type fakeBalanceProver struct {
	proveCalls int
}

func (f *fakeBalanceProver) Prove(ctx context.Context, req balanceprover.UpdateRequest) ([]byte, error) {
	f.proveCalls++
	return []byte("proof"), nil
}

func (f *fakeBalanceProver) Verify(ctx context.Context, req balanceprover.UpdateRequest, proof []byte) (bool, error) {
	return true, nil
}

func TestClientSyncPrefersMatchingTxOverStaleReceive(t *testing.T) {
	owner := rolluptypes.PubKey{1}
	c0 := rolluptypes.HashFromBigInt(big.NewInt(1))
	state := rolluptypes.PrivateState{NullifierTreeRoot: c0, PublicKey: owner}
	vault := &fakeStoreVault{byType: map[rolluptypes.DataType][]rolluptypes.TypedDataEntry{
		rolluptypes.DataTypeDeposit: {
			{UUID: "d10", BlockNumber: 10, Settled: true},
			{UUID: "d12", BlockNumber: 12, Settled: true},
		},
		rolluptypes.DataTypeTx: {
			{UUID: "tx11", BlockNumber: 11, Settled: true, PrevPrivateCommitment: state.Commitment()},
		},
	}}
	prover := &fakeBalanceProver{}
	client := New(Collaborators{StoreVault: vault, ValidityProver: &fakeValidityProver{}, BalanceProver: prover})

	actions, err := client.Sync(context.Background(), owner, state, time.Time{})
	assert.Nil(t, err)
	assert.Len(t, actions, 1)
	assert.Equal(t, ActionTx, actions[0].Kind)
	assert.Equal(t, "tx11", actions[0].Entry.UUID)
	assert.Equal(t, 1, prover.proveCalls)
}

func TestClientSyncReceiveBatchAfterUpdate(t *testing.T) {
	owner := rolluptypes.PubKey{1}
	vault := &fakeStoreVault{byType: map[rolluptypes.DataType][]rolluptypes.TypedDataEntry{
		rolluptypes.DataTypeDeposit:  {{UUID: "d1", BlockNumber: 1, Settled: true}},
		rolluptypes.DataTypeTransfer: {{UUID: "t1", BlockNumber: 2, Settled: true}},
	}}
	prover := &fakeBalanceProver{}
	client := New(Collaborators{StoreVault: vault, ValidityProver: &fakeValidityProver{}, BalanceProver: prover})

	actions, err := client.Sync(context.Background(), owner, rolluptypes.PrivateState{}, time.Time{})
	assert.Nil(t, err)
	assert.Len(t, actions, 2)
	assert.Equal(t, ActionUpdateNoSend, actions[0].Kind)
	assert.Equal(t, uint32(2), actions[0].UpdateToBlock)
	assert.Equal(t, ActionReceive, actions[1].Kind)
	assert.Len(t, actions[1].Receive.Deposits, 1)
	assert.Len(t, actions[1].Receive.Transfers, 1)
	assert.Equal(t, 1, prover.proveCalls)
}

func TestSyncWithdrawalsRejectsEmpty(t *testing.T) {
	client := New(Collaborators{WithdrawalServ: &fakeWithdrawalServer{}, ValidityProver: &fakeValidityProver{}})
	err := client.SyncWithdrawals(context.Background(), nil)
	assert.Equal(t, ErrNothingToSync, err)
}

func TestSyncWithdrawalsBlocksOnUnreachedSettlementBlock(t *testing.T) {
	ws := &fakeWithdrawalServer{}
	client := New(Collaborators{WithdrawalServ: ws, ValidityProver: &fakeValidityProver{processedThrough: 10}})
	withdrawals := []PendingWithdrawal{{Withdrawal: rolluptypes.Withdrawal{TokenIndex: 1}, SettlementBlock: 20}}

	err := client.SyncWithdrawals(context.Background(), withdrawals)
	var pendingErr *PendingWithdrawalError
	assert.ErrorAs(t, err, &pendingErr)
	assert.Equal(t, 1, pendingErr.Count)
	assert.Len(t, ws.requested, 0)
}

func TestSyncWithdrawalsSubmitsReachedOnes(t *testing.T) {
	ws := &fakeWithdrawalServer{}
	client := New(Collaborators{WithdrawalServ: ws, ValidityProver: &fakeValidityProver{processedThrough: 20}})
	withdrawals := []PendingWithdrawal{
		{Withdrawal: rolluptypes.Withdrawal{TokenIndex: 1}, Proof: []byte{1}, SettlementBlock: 10},
		{Withdrawal: rolluptypes.Withdrawal{TokenIndex: 2}, Proof: []byte{2}, SettlementBlock: 20},
	}

	err := client.SyncWithdrawals(context.Background(), withdrawals)
	assert.Nil(t, err)
	assert.Len(t, ws.requested, 2)
}

func TestHistoryMergesAndSortsByBlock(t *testing.T) {
	owner := rolluptypes.PubKey{2}
	vault := &fakeStoreVault{byType: map[rolluptypes.DataType][]rolluptypes.TypedDataEntry{
		rolluptypes.DataTypeDeposit:  {{UUID: "d1", BlockNumber: 5}},
		rolluptypes.DataTypeTransfer: {{UUID: "t1", BlockNumber: 2}},
	}}
	client := New(Collaborators{StoreVault: vault})

	hist, err := client.History(context.Background(), owner, 3)
	assert.Nil(t, err)
	assert.Len(t, hist, 2)
	assert.Equal(t, "t1", hist[0].Entry.UUID)
	assert.True(t, hist[0].Applied)
	assert.Equal(t, "d1", hist[1].Entry.UUID)
	assert.False(t, hist[1].Applied)
}
