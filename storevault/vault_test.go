package storevault

import (
	"testing"
	"time"

	"github.com/intmax2/rollup-node/intdb"
	"github.com/intmax2/rollup-node/rolluptypes"
	"github.com/stretchr/testify/assert"
)

func newTestVault(t *testing.T) *Vault {
	s, err := intdb.Open("")
	assert.Nil(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s)
}

func TestSaveUserDataFirstWriteRequiresZeroDigest(t *testing.T) {
	v := newTestVault(t)
	owner := rolluptypes.PubKey{1}

	_, err := v.SaveUserData(owner, rolluptypes.Hash{9}, []byte("blob"))
	assert.Equal(t, ErrDigestMismatch, err)

	digest, err := v.SaveUserData(owner, rolluptypes.ZeroHash, []byte("blob"))
	assert.Nil(t, err)
	assert.False(t, digest.Equals(rolluptypes.ZeroHash))
}

func TestSaveUserDataCASRejectsStaleDigest(t *testing.T) {
	v := newTestVault(t)
	owner := rolluptypes.PubKey{2}

	d1, err := v.SaveUserData(owner, rolluptypes.ZeroHash, []byte("v1"))
	assert.Nil(t, err)

	_, err = v.SaveUserData(owner, rolluptypes.ZeroHash, []byte("v2-wrong-base"))
	assert.Equal(t, ErrDigestMismatch, err)

	d2, err := v.SaveUserData(owner, d1, []byte("v2"))
	assert.Nil(t, err)
	assert.False(t, d1.Equals(d2))

	stored, err := v.GetUserData(owner)
	assert.Nil(t, err)
	assert.Equal(t, []byte("v2"), stored.Ciphertext)
}

func TestGetUserDataMissing(t *testing.T) {
	v := newTestVault(t)
	_, err := v.GetUserData(rolluptypes.PubKey{3})
	assert.Equal(t, ErrNoUserData, err)
}

func TestSaveDataAndGetDataAllAfter(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	s, err := intdb.Open("")
	assert.Nil(t, err)
	t.Cleanup(func() { _ = s.Close() })
	v := NewWithClock(s, func() time.Time {
		current := tick
		tick = tick.Add(time.Minute)
		return current
	})
	owner := rolluptypes.PubKey{4}

	_, err = v.SaveData(owner, rolluptypes.DataTypeTransfer, []byte("t1"), 10)
	assert.Nil(t, err)
	_, err = v.SaveData(owner, rolluptypes.DataTypeTransfer, []byte("t2"), 20)
	assert.Nil(t, err)

	entries, err := v.GetDataAllAfter(owner, rolluptypes.DataTypeTransfer, base.Add(30*time.Second))
	assert.Nil(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, uint32(20), entries[0].BlockNumber)

	all, err := v.GetDataAllAfter(owner, rolluptypes.DataTypeTransfer, time.Time{})
	assert.Nil(t, err)
	assert.Len(t, all, 2)
	assert.True(t, all[0].Timestamp.Before(all[1].Timestamp))
}

func TestBatchSaveDataAssignsDistinctUUIDs(t *testing.T) {
	v := newTestVault(t)
	owner := rolluptypes.PubKey{5}

	ids, err := v.BatchSaveData([]BatchEntry{
		{Owner: owner, DataType: rolluptypes.DataTypeTx, Ciphertext: []byte("a"), BlockNumber: 1},
		{Owner: owner, DataType: rolluptypes.DataTypeTx, Ciphertext: []byte("b"), BlockNumber: 2},
	})
	assert.Nil(t, err)
	assert.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestSenderProofSetRoundTrip(t *testing.T) {
	v := newTestVault(t)
	sender := rolluptypes.PubKey{6}

	_, err := v.GetSenderProofSet(sender)
	assert.Equal(t, ErrNoUserData, err)

	assert.Nil(t, v.SaveSenderProofSet(sender, []byte("proof-bytes")))
	got, err := v.GetSenderProofSet(sender)
	assert.Nil(t, err)
	assert.Equal(t, []byte("proof-bytes"), got)

	err = v.SaveSenderProofSet(sender, []byte("replacement-bytes"))
	assert.Equal(t, ErrProofSetAlreadyExists, err)

	got, err = v.GetSenderProofSet(sender)
	assert.Nil(t, err)
	assert.Equal(t, []byte("proof-bytes"), got)
}

func TestSealOpenRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	ciphertext, err := Seal(key, []byte("secret"))
	assert.Nil(t, err)

	plaintext, err := Open(key, ciphertext)
	assert.Nil(t, err)
	assert.Equal(t, []byte("secret"), plaintext)
}

func TestOpenFailsOnTamperedCiphertext(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	ciphertext, err := Seal(key, []byte("secret"))
	assert.Nil(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xff

	_, err = Open(key, ciphertext)
	assert.Equal(t, ErrDecryptFailed, err)
}
