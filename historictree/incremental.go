// Package historictree implements the historical Merkle tree substrate
// (spec §4.1): append-only incremental trees for the block-hash and
// deposit trees, and an indexed tree for the account tree, both addressed
// by historical root so a past proof can always be reproduced exactly.
//
// Node storage is grounded on the teacher's db.Storage/db.Tx prefixing
// idiom (merkletree/utils.go's Hash/getPath plus identity/issuer/issuer.go's
// storage.WithPrefix convention), generalized from the teacher's fixed
// three-tree layout to an arbitrary tagged tree. Internal nodes are stored
// content-addressed by their own hash (node(parent) -> {left, right}),
// rather than by (level, index), so that any root ever produced — not just
// the current one — can still be walked down to its leaves.
package historictree

import (
	"encoding/json"
	"errors"

	"github.com/intmax2/rollup-node/intdb"
	"github.com/intmax2/rollup-node/rolluptypes"
)

var (
	ErrDepthExceeded = errors.New("historictree: tree is at full capacity")
	ErrNoSuchRoot    = errors.New("historictree: historical root not found")
	ErrBadProof      = errors.New("historictree: proof does not match root")
	ErrIndexNotLive  = errors.New("historictree: index has not been appended yet")
	ErrNodeNotFound  = errors.New("historictree: root does not resolve to a known node")
)

// MerkleProof is a membership/inclusion proof: the leaf's index and the
// sibling hash at every level from leaf to root.
type MerkleProof struct {
	Index    uint64
	Siblings []rolluptypes.Hash
}

// Verify recomputes the root from leaf, the proof's siblings and index,
// and compares it against root.
func (p MerkleProof) Verify(leaf, root rolluptypes.Hash) bool {
	cur := leaf
	idx := p.Index
	for _, sib := range p.Siblings {
		if idx&1 == 0 {
			cur = rolluptypes.PoseidonHashBytes(cur, sib)
		} else {
			cur = rolluptypes.PoseidonHashBytes(sib, cur)
		}
		idx >>= 1
	}
	return cur.Equals(root)
}

// emptySubtreeHashes precomputes the all-zero subtree hash at every level,
// used to fill in siblings that were never appended to, the same role as
// a reference append-only tree's precomputed-empty-hashes cache.
func emptySubtreeHashes(depth int) []rolluptypes.Hash {
	hashes := make([]rolluptypes.Hash, depth+1)
	hashes[0] = rolluptypes.ZeroHash
	for i := 1; i <= depth; i++ {
		hashes[i] = rolluptypes.PoseidonHashBytes(hashes[i-1], hashes[i-1])
	}
	return hashes
}

// nodeRecord is one internal node's two children, stored under the node's
// own hash so the record survives regardless of how many later appends or
// updates happen elsewhere in the tree.
type nodeRecord struct {
	Left  rolluptypes.Hash
	Right rolluptypes.Hash
}

// IncrementalTree is a fixed-depth Merkle tree that supports append and
// in-place leaf update, while keeping every root it has ever produced
// fully traversable: internal nodes are content-addressed, so a node once
// written is never overwritten, only ever superseded by a different
// parent hash above it.
type IncrementalTree struct {
	storage *intdb.Storage
	depth   int
	empty   []rolluptypes.Hash
}

// frontierKey addresses the node currently occupying (level, index) in the
// live tree, used only to find sibling values while appending or updating
// — an ephemeral cache, distinct from the permanent content-addressed
// node store.
func frontierKey(level int, index uint64) []byte {
	k := make([]byte, 1+8)
	k[0] = byte(level)
	copy(k[1:], intdb.Uint64Key(index))
	return k
}

func contentKey(h rolluptypes.Hash) []byte {
	return append([]byte("__node:"), h.Bytes()...)
}

var countKey = []byte("__count")
var currentRootKey = []byte("__current_root")

func NewIncrementalTree(storage *intdb.Storage, depth int) *IncrementalTree {
	return &IncrementalTree{storage: storage, depth: depth, empty: emptySubtreeHashes(depth)}
}

func (t *IncrementalTree) leafCount() (uint64, error) {
	var n uint64
	err := t.storage.LoadJSON(countKey, &n)
	if err == intdb.ErrNotFound {
		return 0, nil
	}
	return n, err
}

func (t *IncrementalTree) frontierAt(tx *intdb.Tx, level int, index uint64) (rolluptypes.Hash, error) {
	raw, err := tx.Get(frontierKey(level, index))
	if err == intdb.ErrNotFound {
		return t.empty[level], nil
	}
	if err != nil {
		return rolluptypes.Hash{}, err
	}
	var h rolluptypes.Hash
	if err := json.Unmarshal(raw, &h); err != nil {
		return rolluptypes.Hash{}, err
	}
	return h, nil
}

func (t *IncrementalTree) putFrontier(tx *intdb.Tx, level int, index uint64, h rolluptypes.Hash) error {
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return tx.Put(frontierKey(level, index), b)
}

func (t *IncrementalTree) putNode(tx *intdb.Tx, h rolluptypes.Hash, rec nodeRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Put(contentKey(h), b)
}

func (t *IncrementalTree) nodeAt(tx *intdb.Tx, h rolluptypes.Hash) (nodeRecord, error) {
	raw, err := tx.Get(contentKey(h))
	if err == intdb.ErrNotFound {
		return nodeRecord{}, ErrNodeNotFound
	}
	if err != nil {
		return nodeRecord{}, err
	}
	var rec nodeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nodeRecord{}, err
	}
	return rec, nil
}

// writePath recomputes the root after placing leaf at idx, reading
// siblings from the live frontier, refreshing the frontier along idx's
// path, and permanently recording every combined node it produces under
// its own hash. Shared by Append (idx is the next free slot) and
// UpdateLeaf (idx is an already-live slot).
func (t *IncrementalTree) writePath(tx *intdb.Tx, idx uint64, leaf rolluptypes.Hash) (rolluptypes.Hash, error) {
	cur := leaf
	i := idx
	for level := 0; level < t.depth; level++ {
		if err := t.putFrontier(tx, level, i, cur); err != nil {
			return rolluptypes.Hash{}, err
		}
		var siblingIdx uint64
		if i&1 == 0 {
			siblingIdx = i + 1
		} else {
			siblingIdx = i - 1
		}
		sibling, err := t.frontierAt(tx, level, siblingIdx)
		if err != nil {
			return rolluptypes.Hash{}, err
		}
		var left, right rolluptypes.Hash
		if i&1 == 0 {
			left, right = cur, sibling
		} else {
			left, right = sibling, cur
		}
		combined := rolluptypes.PoseidonHashBytes(left, right)
		if err := t.putNode(tx, combined, nodeRecord{Left: left, Right: right}); err != nil {
			return rolluptypes.Hash{}, err
		}
		cur = combined
		i >>= 1
	}
	if err := t.putFrontier(tx, t.depth, 0, cur); err != nil {
		return rolluptypes.Hash{}, err
	}
	return cur, nil
}

// Append adds leaf at the next free index and returns the new root and the
// index the leaf was stored at.
func (t *IncrementalTree) Append(leaf rolluptypes.Hash) (rolluptypes.Hash, uint64, error) {
	count, err := t.leafCount()
	if err != nil {
		return rolluptypes.Hash{}, 0, err
	}
	if count >= (uint64(1) << uint(t.depth)) {
		return rolluptypes.Hash{}, 0, ErrDepthExceeded
	}
	tx := t.storage.NewTx()

	root, err := t.writePath(tx, count, leaf)
	if err != nil {
		tx.Discard()
		return rolluptypes.Hash{}, 0, err
	}

	if err := tx.Put(currentRootKey, mustMarshal(root)); err != nil {
		tx.Discard()
		return rolluptypes.Hash{}, 0, err
	}
	if err := tx.Put(countKey, mustMarshal(count+1)); err != nil {
		tx.Discard()
		return rolluptypes.Hash{}, 0, err
	}
	if err := tx.Put(rootHistoryKey(count+1), mustMarshal(root)); err != nil {
		tx.Discard()
		return rolluptypes.Hash{}, 0, err
	}
	if err := tx.Put(rootCountKey(root), mustMarshal(count+1)); err != nil {
		tx.Discard()
		return rolluptypes.Hash{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return rolluptypes.Hash{}, 0, err
	}
	return root, count, nil
}

// UpdateLeaf replaces the leaf currently stored at index with newLeaf and
// returns the resulting root. The leaf count is unchanged; the tree's
// older roots remain exactly as they were, since every node they
// reference is content-addressed and therefore untouched by this call.
func (t *IncrementalTree) UpdateLeaf(index uint64, newLeaf rolluptypes.Hash) (rolluptypes.Hash, error) {
	count, err := t.leafCount()
	if err != nil {
		return rolluptypes.Hash{}, err
	}
	if index >= count {
		return rolluptypes.Hash{}, ErrIndexNotLive
	}
	tx := t.storage.NewTx()

	root, err := t.writePath(tx, index, newLeaf)
	if err != nil {
		tx.Discard()
		return rolluptypes.Hash{}, err
	}
	if err := tx.Put(currentRootKey, mustMarshal(root)); err != nil {
		tx.Discard()
		return rolluptypes.Hash{}, err
	}
	if err := tx.Put(rootCountKey(root), mustMarshal(count)); err != nil {
		tx.Discard()
		return rolluptypes.Hash{}, err
	}
	if err := tx.Commit(); err != nil {
		return rolluptypes.Hash{}, err
	}
	return root, nil
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// CurrentRoot returns the tree's latest root.
func (t *IncrementalTree) CurrentRoot() (rolluptypes.Hash, error) {
	count, err := t.leafCount()
	if err != nil {
		return rolluptypes.Hash{}, err
	}
	if count == 0 {
		return t.empty[t.depth], nil
	}
	var h rolluptypes.Hash
	err = t.storage.LoadJSON(currentRootKey, &h)
	return h, err
}

// RootAt returns the tree's root as of the instant it held exactly count
// leaves (the root Append produced on the count-th insertion).
func (t *IncrementalTree) RootAt(count uint64) (rolluptypes.Hash, error) {
	var h rolluptypes.Hash
	err := t.storage.LoadJSON(rootHistoryKey(count), &h)
	if err == intdb.ErrNotFound {
		return rolluptypes.Hash{}, ErrNoSuchRoot
	}
	return h, err
}

func rootHistoryKey(count uint64) []byte {
	return append([]byte("__root_at:"), intdb.Uint64Key(count)...)
}

func rootCountKey(root rolluptypes.Hash) []byte {
	return append([]byte("__root_count:"), root.Bytes()...)
}

// leafCountAtRoot returns how many leaves were live when root was produced,
// so GetLeavesByRoot knows where real data ends and untouched padding
// begins without having to walk 2^depth positions.
func (t *IncrementalTree) leafCountAtRoot(root rolluptypes.Hash) (uint64, error) {
	var n uint64
	err := t.storage.LoadJSON(rootCountKey(root), &n)
	if err == intdb.ErrNotFound {
		return 0, ErrNoSuchRoot
	}
	return n, err
}

// ProveByRoot reconstructs the inclusion proof for the leaf at index by
// walking down from root through the content-addressed node store, rather
// than from the live frontier — so it works identically for the current
// root and for any root this tree has ever produced (spec §4.1
// prove_by_root).
func (t *IncrementalTree) ProveByRoot(root rolluptypes.Hash, index uint64) (MerkleProof, error) {
	tx := t.storage.NewReadTx()
	defer tx.Discard()

	siblings := make([]rolluptypes.Hash, t.depth)
	cur := root
	for level := t.depth; level >= 1; level-- {
		var left, right rolluptypes.Hash
		if cur.Equals(t.empty[level]) {
			left, right = t.empty[level-1], t.empty[level-1]
		} else {
			rec, err := t.nodeAt(tx, cur)
			if err != nil {
				return MerkleProof{}, err
			}
			left, right = rec.Left, rec.Right
		}
		bit := (index >> uint(level-1)) & 1
		if bit == 0 {
			siblings[level-1] = right
			cur = left
		} else {
			siblings[level-1] = left
			cur = right
		}
	}
	return MerkleProof{Index: index, Siblings: siblings}, nil
}

// ProveByIndex reconstructs the inclusion proof for the leaf currently
// stored at index, against the tree's current root.
func (t *IncrementalTree) ProveByIndex(index uint64) (MerkleProof, error) {
	root, err := t.CurrentRoot()
	if err != nil {
		return MerkleProof{}, err
	}
	return t.ProveByRoot(root, index)
}

// GetLeavesByRoot walks root down to level 0 and returns every live leaf
// in index order, reproducing exactly the leaf sequence that produced
// root (spec §4.1 get_leaves_by_root / §8's round-trip invariant).
func (t *IncrementalTree) GetLeavesByRoot(root rolluptypes.Hash) ([]rolluptypes.Hash, error) {
	count, err := t.leafCountAtRoot(root)
	if err != nil {
		return nil, err
	}
	tx := t.storage.NewReadTx()
	defer tx.Discard()

	out := make([]rolluptypes.Hash, 0, count)
	if err := t.collectLeaves(tx, t.depth, 0, root, count, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *IncrementalTree) collectLeaves(tx *intdb.Tx, level int, indexAtLevel uint64, hash rolluptypes.Hash, count uint64, out *[]rolluptypes.Hash) error {
	subtreeStart := indexAtLevel << uint(level)
	if subtreeStart >= count {
		return nil
	}
	if level == 0 {
		*out = append(*out, hash)
		return nil
	}
	var left, right rolluptypes.Hash
	if hash.Equals(t.empty[level]) {
		left, right = t.empty[level-1], t.empty[level-1]
	} else {
		rec, err := t.nodeAt(tx, hash)
		if err != nil {
			return err
		}
		left, right = rec.Left, rec.Right
	}
	if err := t.collectLeaves(tx, level-1, indexAtLevel*2, left, count, out); err != nil {
		return err
	}
	return t.collectLeaves(tx, level-1, indexAtLevel*2+1, right, count, out)
}

// ProveAndInsert appends leaf and returns its inclusion proof against the
// resulting new root in one call (spec §4.1 prove_and_insert).
func (t *IncrementalTree) ProveAndInsert(leaf rolluptypes.Hash) (MerkleProof, rolluptypes.Hash, uint64, error) {
	root, index, err := t.Append(leaf)
	if err != nil {
		return MerkleProof{}, rolluptypes.Hash{}, 0, err
	}
	proof, err := t.ProveByRoot(root, index)
	if err != nil {
		return MerkleProof{}, rolluptypes.Hash{}, 0, err
	}
	return proof, root, index, nil
}

// ProveAndUpdate replaces the leaf at index and returns its inclusion
// proof against the resulting new root in one call (spec §4.1
// prove_and_update).
func (t *IncrementalTree) ProveAndUpdate(index uint64, newLeaf rolluptypes.Hash) (MerkleProof, rolluptypes.Hash, error) {
	root, err := t.UpdateLeaf(index, newLeaf)
	if err != nil {
		return MerkleProof{}, rolluptypes.Hash{}, err
	}
	proof, err := t.ProveByRoot(root, index)
	if err != nil {
		return MerkleProof{}, rolluptypes.Hash{}, err
	}
	return proof, root, nil
}
