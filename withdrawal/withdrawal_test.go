package withdrawal

import (
	"math/big"
	"testing"

	"github.com/intmax2/rollup-node/intdb"
	"github.com/intmax2/rollup-node/rolluptypes"
	"github.com/stretchr/testify/assert"
)

type fakeVerifier struct {
	ok bool
}

func (f *fakeVerifier) Verify(w rolluptypes.Withdrawal, proof []byte) (bool, error) {
	return f.ok, nil
}

type fakeRelayer struct {
	fail bool
}

func (f *fakeRelayer) RelayWithdrawal(w rolluptypes.Withdrawal) (string, error) {
	if f.fail {
		return "", assert.AnError
	}
	return "0xabc", nil
}

func newTestServer(t *testing.T, verifyOK bool, relayFail bool) *Server {
	s, err := intdb.Open("")
	assert.Nil(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, &fakeVerifier{ok: verifyOK}, &fakeRelayer{fail: relayFail})
}

func testWithdrawal(n int64) rolluptypes.Withdrawal {
	return rolluptypes.Withdrawal{
		Recipient:  rolluptypes.PubKey{1},
		TokenIndex: 0,
		Amount:     big.NewInt(10),
		Nullifier:  rolluptypes.HashFromBigInt(big.NewInt(n)),
	}
}

func TestRequestWithdrawalRejectsInvalidProof(t *testing.T) {
	s := newTestServer(t, false, false)
	err := s.RequestWithdrawal(testWithdrawal(1), []byte("proof"))
	assert.Equal(t, ErrProofInvalid, err)
}

func TestRequestWithdrawalAcceptsValidProof(t *testing.T) {
	s := newTestServer(t, true, false)
	w := testWithdrawal(2)
	assert.Nil(t, s.RequestWithdrawal(w, []byte("proof")))

	state, err := s.GetWithdrawalInfo(w.Nullifier)
	assert.Nil(t, err)
	assert.Equal(t, StateRequested, state)
}

func TestRequestWithdrawalRejectsDuplicateNullifier(t *testing.T) {
	s := newTestServer(t, true, false)
	w := testWithdrawal(3)
	assert.Nil(t, s.RequestWithdrawal(w, []byte("proof")))
	err := s.RequestWithdrawal(w, []byte("proof"))
	assert.Equal(t, ErrAlreadyRequested, err)
}

func TestRelayAdvancesToRelayed(t *testing.T) {
	s := newTestServer(t, true, false)
	w := testWithdrawal(4)
	assert.Nil(t, s.RequestWithdrawal(w, []byte("proof")))
	assert.Nil(t, s.Relay(w.Nullifier))

	state, err := s.GetWithdrawalInfo(w.Nullifier)
	assert.Nil(t, err)
	assert.Equal(t, StateRelayed, state)
}

func TestRelayFailureMarksFailed(t *testing.T) {
	s := newTestServer(t, true, true)
	w := testWithdrawal(5)
	assert.Nil(t, s.RequestWithdrawal(w, []byte("proof")))
	err := s.Relay(w.Nullifier)
	assert.NotNil(t, err)

	state, getErr := s.GetWithdrawalInfo(w.Nullifier)
	assert.Nil(t, getErr)
	assert.Equal(t, StateFailed, state)
}

func TestConfirmSettledTransitionsToSuccessOrNeedClaim(t *testing.T) {
	s := newTestServer(t, true, false)
	w := testWithdrawal(6)
	assert.Nil(t, s.RequestWithdrawal(w, []byte("proof")))
	assert.Nil(t, s.Relay(w.Nullifier))
	assert.Nil(t, s.ConfirmSettled(w.Nullifier, false))

	state, err := s.GetWithdrawalInfo(w.Nullifier)
	assert.Nil(t, err)
	assert.Equal(t, StateSuccess, state)

	claim := testWithdrawal(8)
	assert.Nil(t, s.RequestWithdrawal(claim, []byte("proof")))
	assert.Nil(t, s.Relay(claim.Nullifier))
	assert.Nil(t, s.ConfirmSettled(claim.Nullifier, true))

	state, err = s.GetWithdrawalInfo(claim.Nullifier)
	assert.Nil(t, err)
	assert.Equal(t, StateNeedClaim, state)
}

func TestConfirmSettledRejectsWrongState(t *testing.T) {
	s := newTestServer(t, true, false)
	w := testWithdrawal(7)
	assert.Nil(t, s.RequestWithdrawal(w, []byte("proof")))

	err := s.ConfirmSettled(w.Nullifier, false)
	assert.Equal(t, ErrWrongState, err)
}

func TestGetWithdrawalInfoUnknown(t *testing.T) {
	s := newTestServer(t, true, false)
	_, err := s.GetWithdrawalInfo(rolluptypes.HashFromBigInt(big.NewInt(999)))
	assert.Equal(t, ErrUnknownWithdrawal, err)
}
