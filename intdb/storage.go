// Package intdb is the storage abstraction every tree, vault and prover in
// this repo builds on: prefix-scoped key-value stores, single-writer
// transactions, append-only typed lists and JSON bookkeeping helpers.
// Grounded on the teacher's db.Storage/db.Tx/db.StorageList/db.StoreJSON/
// db.LoadJSON call sites in identity/issuer/issuer.go, generalized from the
// teacher's dbPrefix*/dbKey* constant scheme to arbitrary named prefixes,
// and backed by the teacher's own storage engine, badger/v2.
package intdb

import (
	"encoding/binary"
	"encoding/json"
	"errors"

	badger "github.com/dgraph-io/badger/v2"
)

var (
	ErrNotFound  = errors.New("intdb: key not found")
	ErrClosed    = errors.New("intdb: storage is closed")
)

// Storage wraps one badger.DB plus a fixed key prefix, the same
// one-engine-per-process shape the teacher uses (a single db.Storage
// handed to the Issuer and sliced into prefixed sub-storages for each
// tree via storage.WithPrefix(dbPrefixClaimsTree)).
type Storage struct {
	db     *badger.DB
	prefix []byte
}

// Open opens (creating if absent) a badger database at path. An empty
// path opens an in-memory database, used by tests.
func Open(path string) (*Storage, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// WithPrefix returns a view over this storage scoped to prefix appended to
// this Storage's own prefix, mirroring the teacher's
// storage.WithPrefix(dbPrefixClaimsTree) idiom used to give each Merkle
// tree (claims/revocations/roots) its own key space within one badger.DB.
func (s *Storage) WithPrefix(prefix []byte) *Storage {
	full := make([]byte, 0, len(s.prefix)+len(prefix))
	full = append(full, s.prefix...)
	full = append(full, prefix...)
	return &Storage{db: s.db, prefix: full}
}

// Tx is a single read-write transaction, mirroring db.Tx's get/put/commit
// shape in the teacher (every mutating Issuer method calls
// storage.NewTx(), mutates, then tx.Commit()).
type Tx struct {
	txn    *badger.Txn
	prefix []byte
	closed bool
}

func (s *Storage) NewTx() *Tx {
	return &Tx{txn: s.db.NewTransaction(true), prefix: s.prefix}
}

func (s *Storage) NewReadTx() *Tx {
	return &Tx{txn: s.db.NewTransaction(false), prefix: s.prefix}
}

func (t *Tx) key(k []byte) []byte {
	out := make([]byte, 0, len(t.prefix)+len(k))
	out = append(out, t.prefix...)
	out = append(out, k...)
	return out
}

func (t *Tx) Get(k []byte) ([]byte, error) {
	item, err := t.txn.Get(t.key(k))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var out []byte
	err = item.Value(func(val []byte) error {
		out = append(out, val...)
		return nil
	})
	return out, err
}

func (t *Tx) Put(k, v []byte) error {
	return t.txn.Set(t.key(k), v)
}

func (t *Tx) Delete(k []byte) error {
	return t.txn.Delete(t.key(k))
}

// Iterate walks every key with this Tx's prefix in order, invoking fn with
// the key's suffix (prefix stripped) and value. Stops early if fn returns
// false.
func (t *Tx) Iterate(fn func(suffix, value []byte) bool) error {
	it := t.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(t.prefix); it.ValidForPrefix(t.prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		var val []byte
		if err := item.Value(func(v []byte) error {
			val = append(val, v...)
			return nil
		}); err != nil {
			return err
		}
		if !fn(key[len(t.prefix):], val) {
			break
		}
	}
	return nil
}

func (t *Tx) Commit() error {
	if t.closed {
		return ErrClosed
	}
	t.closed = true
	return t.txn.Commit()
}

func (t *Tx) Discard() {
	if t.closed {
		return
	}
	t.closed = true
	t.txn.Discard()
}

// StoreJSON marshals v and writes it under k in a fresh transaction,
// mirroring the teacher's db.StoreJSON(storage, key, value) helper.
func (s *Storage) StoreJSON(k []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tx := s.NewTx()
	if err := tx.Put(k, b); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

// LoadJSON reads and unmarshals the value stored at k into v, mirroring
// the teacher's db.LoadJSON(storage, key, &value) helper.
func (s *Storage) LoadJSON(k []byte, v interface{}) error {
	tx := s.NewReadTx()
	defer tx.Discard()
	b, err := tx.Get(k)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Uint64Key encodes a big-endian uint64 suitable for ordered iteration
// over indexed append-only lists.
func Uint64Key(i uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, i)
	return b
}
