package validityprover

import (
	"math/big"
	"testing"

	"github.com/intmax2/rollup-node/intdb"
	"github.com/intmax2/rollup-node/observer"
	"github.com/intmax2/rollup-node/rolluptypes"
	"github.com/stretchr/testify/assert"
)

type fakeProofSystem struct {
	rejectAll bool
}

func (f *fakeProofSystem) Prove(witness rolluptypes.ValidityWitness) ([]byte, error) {
	return witness.NewValidityRoot.Bytes(), nil
}

func (f *fakeProofSystem) Verify(proof []byte, witness rolluptypes.ValidityWitness) (bool, error) {
	if f.rejectAll {
		return false, nil
	}
	var h rolluptypes.Hash
	copy(h[:], proof)
	return h.Equals(witness.NewValidityRoot), nil
}

func newTestProver(t *testing.T, proofSystem ValidityProofSystem) *Prover {
	s, err := intdb.Open("")
	assert.Nil(t, err)
	t.Cleanup(func() { _ = s.Close() })
	p, err := New(s, proofSystem)
	assert.Nil(t, err)
	return p
}

// depositRootFor is the DeclaredDepositTreeRoot every OnBlockPosted test
// call must supply, mirroring what the observer would report from L1
// (step (f)'s consistency check).
func depositRootFor(t *testing.T, p *Prover) rolluptypes.Hash {
	root, err := p.depositTree.CurrentRoot()
	assert.Nil(t, err)
	return root
}

func TestOnBlockPostedExtendsChain(t *testing.T) {
	p := newTestProver(t, &fakeProofSystem{})

	err := p.OnBlockPosted(observer.BlockPostedEvent{
		BlockNumber:             0,
		TxTreeRoot:              rolluptypes.HashFromBigInt(big.NewInt(1)),
		DeclaredDepositTreeRoot: depositRootFor(t, p),
	})
	assert.Nil(t, err)
	root1 := p.LatestValidityRoot()
	assert.False(t, root1.Equals(rolluptypes.ZeroHash))

	err = p.OnBlockPosted(observer.BlockPostedEvent{
		BlockNumber:             1,
		TxTreeRoot:              rolluptypes.HashFromBigInt(big.NewInt(2)),
		DeclaredDepositTreeRoot: depositRootFor(t, p),
	})
	assert.Nil(t, err)
	root2 := p.LatestValidityRoot()
	assert.False(t, root1.Equals(root2))
}

func TestOnBlockPostedRejectsOutOfOrder(t *testing.T) {
	p := newTestProver(t, &fakeProofSystem{})
	assert.Nil(t, p.OnBlockPosted(observer.BlockPostedEvent{
		BlockNumber:             0,
		DeclaredDepositTreeRoot: depositRootFor(t, p),
	}))

	err := p.OnBlockPosted(observer.BlockPostedEvent{
		BlockNumber:             5,
		DeclaredDepositTreeRoot: depositRootFor(t, p),
	})
	assert.Equal(t, ErrOutOfOrderBlock, err)
}

func TestOnBlockPostedPropagatesVerificationFailure(t *testing.T) {
	p := newTestProver(t, &fakeProofSystem{rejectAll: true})
	err := p.OnBlockPosted(observer.BlockPostedEvent{
		BlockNumber:             0,
		DeclaredDepositTreeRoot: depositRootFor(t, p),
	})
	assert.Equal(t, ErrProofRejected, err)
}

func TestOnBlockPostedHaltsOnDepositRootMismatch(t *testing.T) {
	p := newTestProver(t, &fakeProofSystem{})
	err := p.OnBlockPosted(observer.BlockPostedEvent{
		BlockNumber:             0,
		DeclaredDepositTreeRoot: rolluptypes.HashFromBigInt(big.NewInt(999)),
	})
	assert.Equal(t, ErrDepositRootMismatch, err)
	assert.False(t, p.haveLastBlock)
}

func TestOnBlockPostedRegistrationBlockRegistersSendersAndBuildsWitness(t *testing.T) {
	p := newTestProver(t, &fakeProofSystem{})
	pk := rolluptypes.PubKey{1, 2, 3}

	err := p.OnBlockPosted(observer.BlockPostedEvent{
		BlockNumber:             0,
		Kind:                    rolluptypes.BlockKindRegistration,
		TxTreeRoot:              rolluptypes.HashFromBigInt(big.NewInt(1)),
		SenderPublicKeys:        []rolluptypes.PubKey{pk},
		SignatureFlags:          []bool{true},
		DeclaredDepositTreeRoot: depositRootFor(t, p),
	})
	assert.Nil(t, err)

	id, found, err := p.GetAccountInfo(pk)
	assert.Nil(t, err)
	assert.True(t, found)

	witness, ok := p.GetBlockWitness(0)
	assert.True(t, ok)
	assert.Contains(t, witness.SenderExclusionProofs, pk)

	// A later non-registration block referencing the same sender must find
	// it already registered and produce a membership proof instead.
	err = p.OnBlockPosted(observer.BlockPostedEvent{
		BlockNumber:             1,
		Kind:                    rolluptypes.BlockKindNonRegistration,
		TxTreeRoot:              rolluptypes.HashFromBigInt(big.NewInt(2)),
		SenderPublicKeys:        []rolluptypes.PubKey{pk},
		SignatureFlags:          []bool{true},
		DeclaredDepositTreeRoot: depositRootFor(t, p),
	})
	assert.Nil(t, err)
	witness, ok = p.GetBlockWitness(1)
	assert.True(t, ok)
	assert.Contains(t, witness.SenderInclusionProofs, id)
}

func TestOnBlockPostedNonRegistrationRejectsUnknownSender(t *testing.T) {
	p := newTestProver(t, &fakeProofSystem{})
	pk := rolluptypes.PubKey{9, 9, 9}

	err := p.OnBlockPosted(observer.BlockPostedEvent{
		BlockNumber:             0,
		Kind:                    rolluptypes.BlockKindNonRegistration,
		SenderPublicKeys:        []rolluptypes.PubKey{pk},
		SignatureFlags:          []bool{true},
		DeclaredDepositTreeRoot: depositRootFor(t, p),
	})
	assert.Equal(t, ErrSenderNotRegistered, err)
}

func TestOnBlockPostedSkipsSendersWithoutSignature(t *testing.T) {
	p := newTestProver(t, &fakeProofSystem{})
	pk := rolluptypes.PubKey{4, 5, 6}

	err := p.OnBlockPosted(observer.BlockPostedEvent{
		BlockNumber:             0,
		Kind:                    rolluptypes.BlockKindRegistration,
		SenderPublicKeys:        []rolluptypes.PubKey{pk},
		SignatureFlags:          []bool{false},
		DeclaredDepositTreeRoot: depositRootFor(t, p),
	})
	assert.Nil(t, err)

	_, found, err := p.GetAccountInfo(pk)
	assert.Nil(t, err)
	assert.False(t, found)
}

func TestRegisterAccountAndGetAccountInfo(t *testing.T) {
	p := newTestProver(t, &fakeProofSystem{})
	pk := rolluptypes.PubKey{1, 2, 3}

	_, has, err := p.GetAccountInfo(pk)
	assert.Nil(t, err)
	assert.False(t, has)

	id, err := p.RegisterAccount(pk)
	assert.Nil(t, err)

	gotID, has, err := p.GetAccountInfo(pk)
	assert.Nil(t, err)
	assert.True(t, has)
	assert.Equal(t, id, gotID)
}

func TestDepositTreeGrowsOnDepositEvent(t *testing.T) {
	p := newTestProver(t, &fakeProofSystem{})
	err := p.OnDepositLeafInserted(observer.DepositLeafInsertedEvent{
		DepositIndex: 0,
		Deposit:      rolluptypes.Deposit{DepositIndex: 0},
	})
	assert.Nil(t, err)

	_, err = p.GetDepositInfo(0)
	assert.Nil(t, err)
}

func TestGetBlockNumberByTxTreeRootAndUpdateWitness(t *testing.T) {
	p := newTestProver(t, &fakeProofSystem{})
	pk := rolluptypes.PubKey{7, 7, 7}
	txRoot := rolluptypes.HashFromBigInt(big.NewInt(42))

	err := p.OnBlockPosted(observer.BlockPostedEvent{
		BlockNumber:             0,
		Kind:                    rolluptypes.BlockKindRegistration,
		TxTreeRoot:              txRoot,
		SenderPublicKeys:        []rolluptypes.PubKey{pk},
		SignatureFlags:          []bool{true},
		DeclaredDepositTreeRoot: depositRootFor(t, p),
	})
	assert.Nil(t, err)

	n, err := p.GetBlockNumberByTxTreeRoot(txRoot)
	assert.Nil(t, err)
	assert.Equal(t, uint32(0), n)

	_, err = p.GetBlockNumberByTxTreeRoot(rolluptypes.HashFromBigInt(big.NewInt(1234)))
	assert.Equal(t, ErrUnknownBlock, err)

	uw, err := p.GetUpdateWitness(pk, 0)
	assert.Nil(t, err)
	assert.True(t, uw.Registered)
	assert.True(t, uw.BlockInclusionProof.Verify(uw.Block.Hash(), mustBlockHashRoot(t, p, 1)))
}

func mustBlockHashRoot(t *testing.T, p *Prover, count uint64) rolluptypes.Hash {
	root, err := p.blockHashTree.RootAt(count)
	assert.Nil(t, err)
	return root
}
