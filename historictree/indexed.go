package historictree

import (
	"errors"
	"math/big"
	"sort"

	"github.com/intmax2/rollup-node/intdb"
	"github.com/intmax2/rollup-node/rolluptypes"
)

var (
	ErrAlreadyRegistered = errors.New("historictree: key already registered")
	ErrNotRegistered     = errors.New("historictree: key not registered")
)

// IndexedLeaf is one account-tree leaf: a sorted-by-key linked entry
// pointing at the next-higher registered key, used to prove
// non-membership (spec's account tree "registration" lifecycle).
type IndexedLeaf struct {
	Key        *big.Int
	NextIndex  uint64
	NextKey    *big.Int
	PubKey     rolluptypes.PubKey
}

func (l IndexedLeaf) Commitment() rolluptypes.Hash {
	nextKey := l.NextKey
	if nextKey == nil {
		nextKey = big.NewInt(0)
	}
	return rolluptypes.PoseidonHash(
		l.Key,
		new(big.Int).SetUint64(l.NextIndex),
		nextKey,
		l.PubKey.BigInt(),
	)
}

type indexedLeafJSON struct {
	Key       string
	NextIndex uint64
	NextKey   string
	PubKey    rolluptypes.PubKey
}

func (l IndexedLeaf) toJSON() indexedLeafJSON {
	next := l.NextKey
	if next == nil {
		next = big.NewInt(0)
	}
	return indexedLeafJSON{Key: l.Key.String(), NextIndex: l.NextIndex, NextKey: next.String(), PubKey: l.PubKey}
}

func (j indexedLeafJSON) toLeaf() IndexedLeaf {
	key, _ := new(big.Int).SetString(j.Key, 10)
	next, _ := new(big.Int).SetString(j.NextKey, 10)
	return IndexedLeaf{Key: key, NextIndex: j.NextIndex, NextKey: next, PubKey: j.PubKey}
}

// IndexedTree maintains a sorted-by-key singly linked list embedded in an
// incremental Merkle tree, the structure the account tree needs to prove
// both membership (a key is registered at some index) and non-membership
// (no key strictly between a "low" leaf's key and its recorded next key).
type IndexedTree struct {
	inner   *IncrementalTree
	storage *intdb.Storage
}

var orderKey = []byte("__order")

func NewIndexedTree(storage *intdb.Storage, depth int) (*IndexedTree, error) {
	t := &IndexedTree{inner: NewIncrementalTree(storage, depth), storage: storage}
	count, err := t.inner.leafCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		// Seed leaf 0 as the sentinel with key 0, next pointing at itself
		// until a real key is inserted above it.
		sentinel := IndexedLeaf{Key: big.NewInt(0), NextIndex: 0, NextKey: big.NewInt(0)}
		if err := t.storeLeafMeta(0, sentinel); err != nil {
			return nil, err
		}
		if _, _, err := t.inner.Append(sentinel.Commitment()); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *IndexedTree) storeLeafMeta(idx uint64, leaf IndexedLeaf) error {
	return t.storage.StoreJSON(metaKey(idx), leaf.toJSON())
}

func (t *IndexedTree) loadLeafMeta(idx uint64) (IndexedLeaf, error) {
	var j indexedLeafJSON
	if err := t.storage.LoadJSON(metaKey(idx), &j); err != nil {
		return IndexedLeaf{}, err
	}
	return j.toLeaf(), nil
}

func metaKey(idx uint64) []byte {
	return append([]byte("__meta:"), intdb.Uint64Key(idx)...)
}

// findLow returns the index of the leaf whose key is the greatest key
// strictly less than target, the standard indexed-tree "low nullifier"
// search.
func (t *IndexedTree) findLow(target *big.Int) (uint64, IndexedLeaf, error) {
	count, err := t.inner.leafCount()
	if err != nil {
		return 0, IndexedLeaf{}, err
	}
	var candidates []struct {
		idx  uint64
		leaf IndexedLeaf
	}
	for i := uint64(0); i < count; i++ {
		leaf, err := t.loadLeafMeta(i)
		if err != nil {
			return 0, IndexedLeaf{}, err
		}
		if leaf.Key.Cmp(target) < 0 && (leaf.NextKey.Cmp(target) > 0 || leaf.NextKey.Sign() == 0) {
			candidates = append(candidates, struct {
				idx  uint64
				leaf IndexedLeaf
			}{i, leaf})
		}
	}
	if len(candidates) == 0 {
		return 0, IndexedLeaf{}, ErrNotRegistered
	}
	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].leaf.Key.Cmp(candidates[b].leaf.Key) > 0
	})
	best := candidates[0]
	return best.idx, best.leaf, nil
}

// NonMembershipProof proves that key is not yet registered: it locates
// the low leaf (the greatest registered key strictly below key, whose
// recorded next key is either above key or the sentinel) and returns that
// leaf's current inclusion proof, the standard indexed-tree non-membership
// witness (spec §4.1/§4.3's registration-block exclusion proof).
func (t *IndexedTree) NonMembershipProof(key *big.Int) (uint64, MerkleProof, error) {
	lowIdx, _, err := t.findLow(key)
	if err != nil {
		return 0, MerkleProof{}, err
	}
	root, err := t.CurrentRoot()
	if err != nil {
		return 0, MerkleProof{}, err
	}
	proof, err := t.inner.ProveByRoot(root, lowIdx)
	return lowIdx, proof, err
}

// MembershipProof proves that the leaf at index is currently registered,
// against the tree's current root (spec's non-registration-block
// inclusion proof).
func (t *IndexedTree) MembershipProof(index uint64) (MerkleProof, error) {
	root, err := t.CurrentRoot()
	if err != nil {
		return MerkleProof{}, err
	}
	return t.inner.ProveByRoot(root, index)
}

// Contains reports whether key is already registered.
func (t *IndexedTree) Contains(key *big.Int) (bool, error) {
	count, err := t.inner.leafCount()
	if err != nil {
		return false, err
	}
	for i := uint64(0); i < count; i++ {
		leaf, err := t.loadLeafMeta(i)
		if err != nil {
			return false, err
		}
		if leaf.Key.Cmp(key) == 0 {
			return true, nil
		}
	}
	return false, nil
}

// Insert registers key with pubKey at the next free index, updating the
// low leaf's next-pointer to preserve the sorted linked structure, and
// returns the new leaf's index and tree root.
func (t *IndexedTree) Insert(key *big.Int, pubKey rolluptypes.PubKey) (uint64, rolluptypes.Hash, error) {
	if already, err := t.Contains(key); err != nil {
		return 0, rolluptypes.Hash{}, err
	} else if already {
		return 0, rolluptypes.Hash{}, ErrAlreadyRegistered
	}
	lowIdx, low, err := t.findLow(key)
	if err != nil {
		return 0, rolluptypes.Hash{}, err
	}
	newIdx, err := t.inner.leafCount()
	if err != nil {
		return 0, rolluptypes.Hash{}, err
	}
	newLeaf := IndexedLeaf{Key: key, NextIndex: low.NextIndex, NextKey: low.NextKey, PubKey: pubKey}
	updatedLow := low
	updatedLow.NextIndex = newIdx
	updatedLow.NextKey = key

	if err := t.storeLeafMeta(lowIdx, updatedLow); err != nil {
		return 0, rolluptypes.Hash{}, err
	}
	if err := t.storeLeafMeta(newIdx, newLeaf); err != nil {
		return 0, rolluptypes.Hash{}, err
	}

	if _, _, err := t.inner.Append(newLeaf.Commitment()); err != nil {
		return 0, rolluptypes.Hash{}, err
	}
	// The low leaf's next-pointer just changed, which changes its
	// commitment too; update its tree position in place so the root
	// certifies both the new leaf's membership and the low leaf's updated
	// commitment.
	root, err := t.inner.UpdateLeaf(lowIdx, updatedLow.Commitment())
	if err != nil {
		return 0, rolluptypes.Hash{}, err
	}
	return newIdx, root, nil
}

// ProveByRoot proves index's membership against a historical root this
// tree has produced, delegating to the underlying incremental tree.
func (t *IndexedTree) ProveByRoot(root rolluptypes.Hash, index uint64) (MerkleProof, error) {
	return t.inner.ProveByRoot(root, index)
}

// GetLeavesByRoot reproduces the full leaf-commitment sequence that
// produced root.
func (t *IndexedTree) GetLeavesByRoot(root rolluptypes.Hash) ([]rolluptypes.Hash, error) {
	return t.inner.GetLeavesByRoot(root)
}

// LeafAt returns the registered leaf stored at idx.
func (t *IndexedTree) LeafAt(idx uint64) (IndexedLeaf, error) {
	return t.loadLeafMeta(idx)
}

func (t *IndexedTree) CurrentRoot() (rolluptypes.Hash, error) {
	return t.inner.CurrentRoot()
}
