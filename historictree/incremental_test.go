package historictree

import (
	"math/big"
	"testing"

	"github.com/intmax2/rollup-node/intdb"
	"github.com/intmax2/rollup-node/rolluptypes"
	"github.com/stretchr/testify/assert"
)

func openTree(t *testing.T, depth int) *IncrementalTree {
	s, err := intdb.Open("")
	assert.Nil(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewIncrementalTree(s, depth)
}

func TestAppendChangesRoot(t *testing.T) {
	tree := openTree(t, 8)
	rootBefore, err := tree.CurrentRoot()
	assert.Nil(t, err)

	leaf := rolluptypes.HashFromBigInt(big.NewInt(1))
	rootAfter, idx, err := tree.Append(leaf)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), idx)
	assert.False(t, rootBefore.Equals(rootAfter))
}

func TestProveByIndexVerifiesAgainstCurrentRoot(t *testing.T) {
	tree := openTree(t, 8)
	var root rolluptypes.Hash
	var err error
	leaves := []rolluptypes.Hash{
		rolluptypes.HashFromBigInt(big.NewInt(1)),
		rolluptypes.HashFromBigInt(big.NewInt(2)),
		rolluptypes.HashFromBigInt(big.NewInt(3)),
	}
	for _, l := range leaves {
		root, _, err = tree.Append(l)
		assert.Nil(t, err)
	}

	proof, err := tree.ProveByIndex(0)
	assert.Nil(t, err)
	assert.True(t, proof.Verify(leaves[0], root))

	proof1, err := tree.ProveByIndex(1)
	assert.Nil(t, err)
	assert.True(t, proof1.Verify(leaves[1], root))
}

func TestProveByIndexRejectsWrongLeaf(t *testing.T) {
	tree := openTree(t, 8)
	root, _, err := tree.Append(rolluptypes.HashFromBigInt(big.NewInt(1)))
	assert.Nil(t, err)

	proof, err := tree.ProveByIndex(0)
	assert.Nil(t, err)
	assert.False(t, proof.Verify(rolluptypes.HashFromBigInt(big.NewInt(999)), root))
}

func TestRootAtRecordsSnapshots(t *testing.T) {
	tree := openTree(t, 8)
	root1, _, err := tree.Append(rolluptypes.HashFromBigInt(big.NewInt(1)))
	assert.Nil(t, err)
	snap1, err := tree.RootAt(1)
	assert.Nil(t, err)
	assert.True(t, root1.Equals(snap1))

	_, _, err = tree.Append(rolluptypes.HashFromBigInt(big.NewInt(2)))
	assert.Nil(t, err)
	snap1Again, err := tree.RootAt(1)
	assert.Nil(t, err)
	assert.True(t, root1.Equals(snap1Again))
}

func TestAppendFailsAtCapacity(t *testing.T) {
	tree := openTree(t, 1)
	_, _, err := tree.Append(rolluptypes.HashFromBigInt(big.NewInt(1)))
	assert.Nil(t, err)
	_, _, err = tree.Append(rolluptypes.HashFromBigInt(big.NewInt(2)))
	assert.Nil(t, err)
	_, _, err = tree.Append(rolluptypes.HashFromBigInt(big.NewInt(3)))
	assert.Equal(t, ErrDepthExceeded, err)
}
