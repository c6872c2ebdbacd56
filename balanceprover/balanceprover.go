// Package balanceprover defines the collaborator interface for the
// Balance Prover (spec component E), which this repo treats as an
// external, opaque service: it proves that a wallet's new private state
// follows correctly from its old private state plus a set of applied
// deposits/transfers, without this repo needing to know the circuit's
// internals (spec §1 Non-goals).
package balanceprover

import (
	"context"
	"errors"

	"github.com/intmax2/rollup-node/rolluptypes"
)

var ErrProofRejected = errors.New("balanceprover: returned proof failed local verification")

// UpdateRequest is the public-input bundle a balance prover needs to
// prove one private-state transition.
type UpdateRequest struct {
	Prev              rolluptypes.PrivateState
	Next              rolluptypes.PrivateState
	AppliedDeposits   []rolluptypes.Deposit
	AppliedTransfers  []rolluptypes.Transfer
}

// Client is the narrow interface client sync uses to request and verify a
// balance proof from the external service.
type Client interface {
	Prove(ctx context.Context, req UpdateRequest) (proof []byte, err error)
	Verify(ctx context.Context, req UpdateRequest, proof []byte) (bool, error)
}
