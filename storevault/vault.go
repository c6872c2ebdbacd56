// Package storevault implements the Store Vault (spec §4.6): a per-user
// encrypted blob store with optimistic concurrency control on the single
// user_data aggregate, plus append-only typed streams for deposits,
// transfers, txs and withdrawals.
//
// Grounded on the teacher's identity/issuer/issuer.go single-writer-
// transaction idiom (every mutating method opens a db.Tx, mutates, then
// commits) and its db.StorageList append/get/length calls, generalized
// from one fixed list per Issuer to one list per (owner, DataType) pair.
package storevault

import (
	"errors"
	"sort"
	"time"

	"github.com/intmax2/rollup-node/intdb"
	"github.com/intmax2/rollup-node/rolluptypes"
	"github.com/pborman/uuid"
	"golang.org/x/crypto/sha3"
)

var (
	ErrDigestMismatch        = errors.New("storevault: digest does not match stored user_data, retry with fresh digest")
	ErrNoUserData            = errors.New("storevault: no user_data stored for this key")
	ErrProofSetAlreadyExists = errors.New("storevault: sender proof set already written, it is append-once")
)

// Vault is the store vault's storage engine, one instance per process.
type Vault struct {
	root *intdb.Storage
	now  func() time.Time
}

func New(root *intdb.Storage) *Vault {
	return &Vault{root: root, now: time.Now}
}

// NewWithClock is New with an injectable clock, used by tests that need
// deterministic Typed Data Entry timestamps.
func NewWithClock(root *intdb.Storage, now func() time.Time) *Vault {
	return &Vault{root: root, now: now}
}

func (v *Vault) userDataStorage(owner rolluptypes.PubKey) *intdb.Storage {
	return v.root.WithPrefix(append([]byte("user_data:"), owner.Bytes()...))
}

func (v *Vault) streamStorage(owner rolluptypes.PubKey, dt rolluptypes.DataType) *intdb.Storage {
	return v.root.WithPrefix(append([]byte("stream:"+string(dt)+":"), owner.Bytes()...))
}

var userDataKey = []byte("blob")

// SaveUserData performs a compare-and-swap write: it only accepts the new
// ciphertext if prevDigest matches the digest currently on record (or the
// vault has nothing stored yet and prevDigest is the zero hash), the
// optimistic-concurrency contract spec §4.6 requires so two concurrent
// writers never silently clobber each other.
func (v *Vault) SaveUserData(owner rolluptypes.PubKey, prevDigest rolluptypes.Hash, ciphertext []byte) (rolluptypes.Hash, error) {
	storage := v.userDataStorage(owner)
	var existing rolluptypes.UserDataBlob
	err := storage.LoadJSON(userDataKey, &existing)
	switch {
	case err == intdb.ErrNotFound:
		if !prevDigest.Equals(rolluptypes.ZeroHash) {
			return rolluptypes.Hash{}, ErrDigestMismatch
		}
	case err != nil:
		return rolluptypes.Hash{}, err
	default:
		if !existing.Digest.Equals(prevDigest) {
			return rolluptypes.Hash{}, ErrDigestMismatch
		}
	}

	newDigest := digestOf(ciphertext)
	blob := rolluptypes.UserDataBlob{Owner: owner, Digest: newDigest, Ciphertext: ciphertext}
	if err := storage.StoreJSON(userDataKey, blob); err != nil {
		return rolluptypes.Hash{}, err
	}
	return newDigest, nil
}

// GetUserData returns the currently stored blob for owner, or
// ErrNoUserData if nothing has ever been saved.
func (v *Vault) GetUserData(owner rolluptypes.PubKey) (rolluptypes.UserDataBlob, error) {
	var blob rolluptypes.UserDataBlob
	err := v.userDataStorage(owner).LoadJSON(userDataKey, &blob)
	if err == intdb.ErrNotFound {
		return rolluptypes.UserDataBlob{}, ErrNoUserData
	}
	return blob, err
}

// digestOf is the keccak256 CAS token the spec's user_data envelope binds
// to every stored ciphertext (spec §3 "encrypted_user_data... digest =
// keccak256(encrypted_data)").
func digestOf(b []byte) rolluptypes.Hash {
	digest := sha3.NewLegacyKeccak256()
	digest.Write(b)
	var h rolluptypes.Hash
	copy(h[:], digest.Sum(nil))
	return h
}

// SaveData appends one typed entry to owner's stream of dt, assigning it a
// fresh UUID (spec's "Typed Data Entry"), grounded on pborman/uuid, one of
// the teacher's own indirect dependencies.
func (v *Vault) SaveData(owner rolluptypes.PubKey, dt rolluptypes.DataType, ciphertext []byte, blockNumber uint32) (string, error) {
	list := intdb.NewStorageList(v.streamStorage(owner, dt))
	id := uuid.New()
	entry := rolluptypes.TypedDataEntry{
		UUID:        id,
		DataType:    dt,
		Owner:       owner,
		Ciphertext:  ciphertext,
		Timestamp:   v.now(),
		BlockNumber: blockNumber,
	}
	if _, err := list.Append(entry); err != nil {
		return "", err
	}
	return id, nil
}

// BatchSaveData saves many entries across possibly-different owners and
// data types in one logical call, as spec §4.6's batch_save_data requires
// for client sync efficiency. Returns the UUIDs assigned, in input order.
type BatchEntry struct {
	Owner       rolluptypes.PubKey
	DataType    rolluptypes.DataType
	Ciphertext  []byte
	BlockNumber uint32
}

func (v *Vault) BatchSaveData(entries []BatchEntry) ([]string, error) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		id, err := v.SaveData(e.Owner, e.DataType, e.Ciphertext, e.BlockNumber)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// GetDataAllAfter returns every entry of dt for owner with a timestamp at
// or after since, sorted ascending (spec §4.6 get_data_all_after(data_type,
// pubkey, t): "returns entries with timestamp >= t, sorted ascending").
// Entries can arrive out of append order across concurrent writers, so the
// cursor is the entry's own timestamp rather than its position in the
// underlying list.
func (v *Vault) GetDataAllAfter(owner rolluptypes.PubKey, dt rolluptypes.DataType, since time.Time) ([]rolluptypes.TypedDataEntry, error) {
	storage := v.streamStorage(owner, dt)
	list := intdb.NewStorageList(storage)
	n, err := list.Length()
	if err != nil {
		return nil, err
	}
	var out []rolluptypes.TypedDataEntry
	for i := uint64(0); i < n; i++ {
		var entry rolluptypes.TypedDataEntry
		if err := list.GetByIdx(i, &entry); err != nil {
			return nil, err
		}
		if !entry.Timestamp.Before(since) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// SaveSenderProofSet stores the opaque balance-proof bundle a sender
// publishes alongside a tx, addressed by the sender's public key (spec's
// balance-prover collaboration contract). Write-once: a sender proof set
// is a receipt for one specific tx, so a second write for the same sender
// would silently discard the first instead of producing a new receipt,
// and is rejected rather than overwritten.
func (v *Vault) SaveSenderProofSet(sender rolluptypes.PubKey, ciphertext []byte) error {
	storage := v.root.WithPrefix(append([]byte("sender_proof_set:"), sender.Bytes()...))
	var existing []byte
	err := storage.LoadJSON([]byte("latest"), &existing)
	if err == nil {
		return ErrProofSetAlreadyExists
	}
	if err != intdb.ErrNotFound {
		return err
	}
	return storage.StoreJSON([]byte("latest"), ciphertext)
}

func (v *Vault) GetSenderProofSet(sender rolluptypes.PubKey) ([]byte, error) {
	storage := v.root.WithPrefix(append([]byte("sender_proof_set:"), sender.Bytes()...))
	var ciphertext []byte
	err := storage.LoadJSON([]byte("latest"), &ciphertext)
	if err == intdb.ErrNotFound {
		return nil, ErrNoUserData
	}
	return ciphertext, err
}
