package bn254crypto

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerifySingleSigner(t *testing.T) {
	sk := NewPrivateKey(big.NewInt(12345))
	pk := sk.PublicKey()
	message := []byte("block-tx-tree-root")

	sig := sk.Sign(message)

	aggPub, err := AggregatePublicKeys([]*G1Point{pk}, message)
	assert.Nil(t, err)
	aggSig, err := AggregateSignatures([]*G2Point{sig}, []*G1Point{pk}, message)
	assert.Nil(t, err)

	assert.True(t, VerifyAggregate(aggPub, aggSig, message))
}

func TestVerifyAggregateRejectsWrongMessage(t *testing.T) {
	sk := NewPrivateKey(big.NewInt(9876))
	pk := sk.PublicKey()
	message := []byte("correct-root")
	sig := sk.Sign(message)

	aggPub, _ := AggregatePublicKeys([]*G1Point{pk}, message)
	aggSig, _ := AggregateSignatures([]*G2Point{sig}, []*G1Point{pk}, message)

	assert.False(t, VerifyAggregate(aggPub, aggSig, []byte("wrong-root")))
}

func TestAggregateMultipleSigners(t *testing.T) {
	message := []byte("multisig-root")
	var sks []*PrivateKey
	var pks []*G1Point
	var sigs []*G2Point
	for i := int64(1); i <= 4; i++ {
		sk := NewPrivateKey(big.NewInt(i * 7919))
		sks = append(sks, sk)
		pks = append(pks, sk.PublicKey())
		sigs = append(sigs, sk.Sign(message))
	}

	aggPub, err := AggregatePublicKeys(pks, message)
	assert.Nil(t, err)
	aggSig, err := AggregateSignatures(sigs, pks, message)
	assert.Nil(t, err)

	assert.True(t, VerifyAggregate(aggPub, aggSig, message))
}

func TestAggregateSignaturesRejectsLengthMismatch(t *testing.T) {
	sk := NewPrivateKey(big.NewInt(1))
	pk := sk.PublicKey()
	sig := sk.Sign([]byte("m"))

	_, err := AggregateSignatures([]*G2Point{sig}, []*G1Point{pk, pk}, []byte("m"))
	assert.Equal(t, ErrLengthMismatch, err)
}

func TestG1MarshalRoundTrip(t *testing.T) {
	sk := NewPrivateKey(big.NewInt(42))
	pk := sk.PublicKey()
	b := pk.Marshal()

	recovered, err := G1FromBytes(b)
	assert.Nil(t, err)
	assert.Equal(t, b, recovered.Marshal())
}
