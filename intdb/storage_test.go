package intdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func openTestStorage(t *testing.T) *Storage {
	s, err := Open("")
	assert.Nil(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetWithPrefix(t *testing.T) {
	root := openTestStorage(t)
	claims := root.WithPrefix([]byte("claims:"))
	roots := root.WithPrefix([]byte("roots:"))

	tx := claims.NewTx()
	assert.Nil(t, tx.Put([]byte("a"), []byte("1")))
	assert.Nil(t, tx.Commit())

	rtx := roots.NewReadTx()
	_, err := rtx.Get([]byte("a"))
	assert.Equal(t, ErrNotFound, err)
	rtx.Discard()

	rtx2 := claims.NewReadTx()
	v, err := rtx2.Get([]byte("a"))
	assert.Nil(t, err)
	assert.Equal(t, []byte("1"), v)
	rtx2.Discard()
}

func TestStoreLoadJSON(t *testing.T) {
	s := openTestStorage(t)
	type payload struct {
		Name string
		N    int
	}
	p := payload{Name: "x", N: 7}
	assert.Nil(t, s.StoreJSON([]byte("k"), p))

	var out payload
	assert.Nil(t, s.LoadJSON([]byte("k"), &out))
	assert.Equal(t, p, out)
}

func TestStorageListAppendAndGet(t *testing.T) {
	s := openTestStorage(t)
	list := NewStorageList(s)

	idx0, err := list.Append("first")
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), idx0)

	idx1, err := list.Append("second")
	assert.Nil(t, err)
	assert.Equal(t, uint64(1), idx1)

	n, err := list.Length()
	assert.Nil(t, err)
	assert.Equal(t, uint64(2), n)

	var got string
	assert.Nil(t, list.GetByIdx(0, &got))
	assert.Equal(t, "first", got)
	assert.Nil(t, list.GetByIdx(1, &got))
	assert.Equal(t, "second", got)
}

func TestIterateRespectsPrefix(t *testing.T) {
	root := openTestStorage(t)
	scoped := root.WithPrefix([]byte("scope:"))
	tx := scoped.NewTx()
	assert.Nil(t, tx.Put([]byte("1"), []byte("a")))
	assert.Nil(t, tx.Put([]byte("2"), []byte("b")))
	assert.Nil(t, tx.Commit())

	seen := map[string]string{}
	rtx := scoped.NewReadTx()
	err := rtx.Iterate(func(suffix, value []byte) bool {
		seen[string(suffix)] = string(value)
		return true
	})
	rtx.Discard()
	assert.Nil(t, err)
	assert.Equal(t, map[string]string{"1": "a", "2": "b"}, seen)
}
