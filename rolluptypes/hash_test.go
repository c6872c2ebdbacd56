package rolluptypes

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashFromBigIntRoundTrip(t *testing.T) {
	v := big.NewInt(123456789)
	h := HashFromBigInt(v)
	assert.Equal(t, v, h.BigInt())
}

func TestHashMarshalText(t *testing.T) {
	h := HashFromBigInt(big.NewInt(42))
	text, err := h.MarshalText()
	assert.Nil(t, err)

	var h2 Hash
	err = h2.UnmarshalText(text)
	assert.Nil(t, err)
	assert.True(t, h.Equals(h2))
}

func TestPoseidonHashDeterministic(t *testing.T) {
	a := PoseidonHash(big.NewInt(1), big.NewInt(2))
	b := PoseidonHash(big.NewInt(1), big.NewInt(2))
	assert.True(t, a.Equals(b))

	c := PoseidonHash(big.NewInt(2), big.NewInt(1))
	assert.False(t, a.Equals(c))
}

func TestTransferCommitmentChangesWithAmount(t *testing.T) {
	tr1 := Transfer{Recipient: PubKey{1}, TokenIndex: 0, Amount: big.NewInt(10), Salt: Hash{2}}
	tr2 := tr1
	tr2.Amount = big.NewInt(11)
	assert.False(t, tr1.Commitment().Equals(tr2.Commitment()))
}

func TestBuildTransferTreeRootPadsToFixedWidth(t *testing.T) {
	root1 := BuildTransferTreeRoot(nil)
	root2 := BuildTransferTreeRoot([]Transfer{})
	assert.True(t, root1.Equals(root2))

	withOne := BuildTransferTreeRoot([]Transfer{{Recipient: PubKey{9}, Amount: big.NewInt(1)}})
	assert.False(t, root1.Equals(withOne))
}

func TestPrivateStateCommitmentBindsAllFields(t *testing.T) {
	s := PrivateState{Nonce: 3, PublicKey: PubKey{7}}
	s2 := s
	s2.Nonce = 4
	assert.False(t, s.Commitment().Equals(s2.Commitment()))
}
