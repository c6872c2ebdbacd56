package intdb

import "encoding/json"

// StorageList is an append-only, index-addressed list backed by a
// Storage, mirroring the teacher's db.StorageList (idenStateList :=
// db.NewStorageList(...); .Append/.GetByIdx/.Length) and generalized here
// to back every typed append-only stream the store vault keeps (deposit,
// transfer, tx, withdrawal). Sender proof sets are stored as single JSON
// values, not in a StorageList.
type StorageList struct {
	storage *Storage
}

var lengthKey = []byte("__length")

func NewStorageList(storage *Storage) *StorageList {
	return &StorageList{storage: storage}
}

func (l *StorageList) Length() (uint64, error) {
	var n uint64
	err := l.storage.LoadJSON(lengthKey, &n)
	if err == ErrNotFound {
		return 0, nil
	}
	return n, err
}

// Append writes v at the next free index and returns that index.
func (l *StorageList) Append(v interface{}) (uint64, error) {
	n, err := l.Length()
	if err != nil {
		return 0, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	tx := l.storage.NewTx()
	if err := tx.Put(Uint64Key(n), b); err != nil {
		tx.Discard()
		return 0, err
	}
	lenBytes, err := json.Marshal(n + 1)
	if err != nil {
		tx.Discard()
		return 0, err
	}
	if err := tx.Put(lengthKey, lenBytes); err != nil {
		tx.Discard()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (l *StorageList) GetByIdx(idx uint64, v interface{}) error {
	return l.storage.LoadJSON(Uint64Key(idx), v)
}

// Range invokes fn for every index in [start, end), stopping early if fn
// returns an error.
func (l *StorageList) Range(start, end uint64, fn func(idx uint64, raw []byte) error) error {
	tx := l.storage.NewReadTx()
	defer tx.Discard()
	for i := start; i < end; i++ {
		raw, err := tx.Get(Uint64Key(i))
		if err != nil {
			return err
		}
		if err := fn(i, raw); err != nil {
			return err
		}
	}
	return nil
}
