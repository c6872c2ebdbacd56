// Package withdrawal implements the Withdrawal Server (spec §4.7):
// verify a single-withdrawal proof, enqueue the withdrawal, and drive it
// through a relay state machine until it settles on L1.
//
// Grounded on the inverse of the teacher's GenZkProofIdenStateUpdate
// trailing verifier.Verify call (identity/issuer/issuer.go): there the
// Issuer generates then verifies its own proof; here the server verifies
// a proof a caller supplies before admitting the withdrawal.
package withdrawal

import (
	"errors"
	"sync"

	"github.com/intmax2/rollup-node/intdb"
	"github.com/intmax2/rollup-node/intlog"
	"github.com/intmax2/rollup-node/rolluptypes"
)

var (
	ErrProofInvalid       = errors.New("withdrawal: single-withdrawal proof failed verification")
	ErrAlreadyRequested   = errors.New("withdrawal: nullifier already has a withdrawal on record")
	ErrUnknownWithdrawal  = errors.New("withdrawal: no withdrawal on record for this nullifier")
	ErrWrongState         = errors.New("withdrawal: transition not valid from the current state")
)

// State is one step of a withdrawal's relay lifecycle (spec §4.7).
type State string

const (
	StateRequested State = "requested"
	StateRelayed   State = "relayed"
	StateSuccess   State = "success"
	StateNeedClaim State = "need_claim"
	StateFailed    State = "failed"
)

// Record is the persisted state of one withdrawal request.
type Record struct {
	Withdrawal rolluptypes.Withdrawal
	State      State
	RelayTxHash string
}

// SingleWithdrawalVerifier checks the opaque zk proof that a withdrawal
// is backed by a real, unspent private-state balance (spec component E's
// sibling circuit for exits, treated as an external collaborator exactly
// like the balance prover).
type SingleWithdrawalVerifier interface {
	Verify(withdrawal rolluptypes.Withdrawal, proof []byte) (bool, error)
}

// L1Relayer posts an admitted withdrawal to the rollup contract's
// withdrawal relay, another opaque L1 collaborator.
type L1Relayer interface {
	RelayWithdrawal(w rolluptypes.Withdrawal) (txHash string, err error)
}

type Server struct {
	mu       sync.Mutex
	storage  *intdb.Storage
	verifier SingleWithdrawalVerifier
	relayer  L1Relayer
}

func New(storage *intdb.Storage, verifier SingleWithdrawalVerifier, relayer L1Relayer) *Server {
	return &Server{storage: storage, verifier: verifier, relayer: relayer}
}

func recordKey(nullifier rolluptypes.Hash) []byte {
	return append([]byte("record:"), nullifier.Bytes()...)
}

// RequestWithdrawal verifies the proof and, if valid, enqueues the
// withdrawal in StateRequested. Requesting the same nullifier twice is
// rejected so a withdrawal can never be double-spent through the server.
func (s *Server) RequestWithdrawal(w rolluptypes.Withdrawal, proof []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing Record
	err := s.storage.LoadJSON(recordKey(w.Nullifier), &existing)
	if err == nil {
		return ErrAlreadyRequested
	}
	if err != intdb.ErrNotFound {
		return err
	}

	ok, err := s.verifier.Verify(w, proof)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProofInvalid
	}

	record := Record{Withdrawal: w, State: StateRequested}
	if err := s.storage.StoreJSON(recordKey(w.Nullifier), record); err != nil {
		return err
	}
	intlog.For("withdrawal-server").WithField("nullifier", w.Nullifier.String()).Info("withdrawal requested")
	return nil
}

// GetWithdrawalInfo reports the current relay state for nullifier.
func (s *Server) GetWithdrawalInfo(nullifier rolluptypes.Hash) (State, error) {
	var record Record
	err := s.storage.LoadJSON(recordKey(nullifier), &record)
	if err == intdb.ErrNotFound {
		return "", ErrUnknownWithdrawal
	}
	if err != nil {
		return "", err
	}
	return record.State, nil
}

// Relay advances one Requested withdrawal to Relayed by submitting it to
// L1, or to Failed if the relayer returns any error, retryable or not
// (callers decide retry policy; this method just records the outcome it
// was told).
func (s *Server) Relay(nullifier rolluptypes.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var record Record
	err := s.storage.LoadJSON(recordKey(nullifier), &record)
	if err == intdb.ErrNotFound {
		return ErrUnknownWithdrawal
	}
	if err != nil {
		return err
	}
	if record.State != StateRequested {
		return ErrWrongState
	}

	txHash, err := s.relayer.RelayWithdrawal(record.Withdrawal)
	if err != nil {
		record.State = StateFailed
		_ = s.storage.StoreJSON(recordKey(nullifier), record)
		return err
	}
	record.State = StateRelayed
	record.RelayTxHash = txHash
	return s.storage.StoreJSON(recordKey(nullifier), record)
}

// ConfirmSettled transitions a Relayed withdrawal to Success once the
// relay tx confirms on L1, or to NeedClaim if the contract's
// direct-withdrawal path rejected it and the user must claim manually
// (spec §4.7's terminal states).
func (s *Server) ConfirmSettled(nullifier rolluptypes.Hash, needsClaim bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var record Record
	err := s.storage.LoadJSON(recordKey(nullifier), &record)
	if err == intdb.ErrNotFound {
		return ErrUnknownWithdrawal
	}
	if err != nil {
		return err
	}
	if record.State != StateRelayed {
		return ErrWrongState
	}
	if needsClaim {
		record.State = StateNeedClaim
	} else {
		record.State = StateSuccess
	}
	return s.storage.StoreJSON(recordKey(nullifier), record)
}
