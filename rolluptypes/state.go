package rolluptypes

import "math/big"

// AssetLeaf is one entry of a user's private asset tree: a token balance
// keyed by token index. It carries no salt.
type AssetLeaf struct {
	TokenIndex uint32
	Amount     *big.Int
}

func (a AssetLeaf) Commitment() Hash {
	amount := a.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return PoseidonHash(big.NewInt(int64(a.TokenIndex)), amount)
}

// PrivateState is the client-held commitment to a user's full balance and
// nonce state (spec §3 "Private State"): an asset-tree root, a nullifier-
// tree root tracking spent deposit/transfer nullifiers, and a nonce.
type PrivateState struct {
	AssetTreeRoot      Hash
	NullifierTreeRoot  Hash
	Nonce              uint64
	SaltedPubKeyRoot   Hash
	PublicKey          PubKey
}

func (s PrivateState) Commitment() Hash {
	return PoseidonHash(
		s.AssetTreeRoot.BigInt(),
		s.NullifierTreeRoot.BigInt(),
		new(big.Int).SetUint64(s.Nonce),
		s.SaltedPubKeyRoot.BigInt(),
		s.PublicKey.BigInt(),
	)
}

// ApplyDeposit folds a newly-settled deposit into the asset tree, the
// local transition a wallet proposes to the balance prover when syncing a
// receive batch (spec §4.5 step 4).
func (s PrivateState) ApplyDeposit(d Deposit) PrivateState {
	next := s
	next.AssetTreeRoot = PoseidonHash(s.AssetTreeRoot.BigInt(), d.Commitment().BigInt())
	return next
}

// ApplyTransfer folds a newly-settled incoming transfer into the asset
// tree the same way ApplyDeposit does for deposits.
func (s PrivateState) ApplyTransfer(t Transfer) PrivateState {
	next := s
	next.AssetTreeRoot = PoseidonHash(s.AssetTreeRoot.BigInt(), t.Commitment().BigInt())
	return next
}

// ApplyTx records nullifier and nonce changes from having sent a tx,
// mirroring the prior-commitment chaining clientsync's DetermineSequence
// matches tx entries against.
func (s PrivateState) ApplyTx(nullifier Hash) PrivateState {
	next := s
	next.NullifierTreeRoot = PoseidonHash(s.NullifierTreeRoot.BigInt(), nullifier.BigInt())
	next.Nonce++
	return next
}

// Deposit is a single L1-originated deposit leaf (spec §3 "Historical
// Tree" deposit tree, populated from DepositLeafInserted events).
type Deposit struct {
	DepositIndex uint32
	Recipient    SaltedPubKey
	TokenIndex   uint32
	Amount       *big.Int
}

func (d Deposit) Commitment() Hash {
	amount := d.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return PoseidonHash(
		d.Recipient.Commitment().BigInt(),
		big.NewInt(int64(d.TokenIndex)),
		amount,
	)
}

// Withdrawal is a fully-proven exit request ready for relay to L1.
type Withdrawal struct {
	Recipient  Address
	TokenIndex uint32
	Amount     *big.Int
	Nullifier  Hash
}

func (w Withdrawal) Commitment() Hash {
	amount := w.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return PoseidonHash(
		w.Recipient.BigInt(),
		big.NewInt(int64(w.TokenIndex)),
		amount,
		w.Nullifier.BigInt(),
	)
}
