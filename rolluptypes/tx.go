package rolluptypes

import "math/big"

// Transfer is a single leaf of a tx's transfer tree: a recipient, a token
// index and an amount, plus a salt binding the leaf to one specific tx.
type Transfer struct {
	Recipient  PubKey
	TokenIndex uint32
	Amount     *big.Int
	Salt       Hash
}

// TransferLen is the fixed width of a transfer tree (spec §3 "Tx").
const TransferLen = 8

func (t Transfer) Commitment() Hash {
	amount := t.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return PoseidonHash(
		t.Recipient.BigInt(),
		big.NewInt(int64(t.TokenIndex)),
		amount,
		t.Salt.BigInt(),
	)
}

// Tx is a single sender's submission to a block: a fixed-width transfer
// tree root plus the sender's current nonce, matching spec §3's "Tx" leaf.
type Tx struct {
	TransferTreeRoot Hash
	Nonce            uint64
}

func (t Tx) Commitment() Hash {
	return PoseidonHash(t.TransferTreeRoot.BigInt(), new(big.Int).SetUint64(t.Nonce))
}

// BuildTransferTreeRoot folds a fixed-width list of transfers (padded with
// zero-commitment leaves up to TransferLen) into a single root using
// repeated Poseidon sibling hashing, the same primitive the historical
// tree uses for its internal nodes.
func BuildTransferTreeRoot(transfers []Transfer) Hash {
	leaves := make([]Hash, TransferLen)
	for i := range leaves {
		if i < len(transfers) {
			leaves[i] = transfers[i].Commitment()
		} else {
			leaves[i] = ZeroHash
		}
	}
	return merkleFold(leaves)
}

func merkleFold(leaves []Hash) Hash {
	level := leaves
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, PoseidonHashBytes(level[i], level[i+1]))
			} else {
				next = append(next, PoseidonHashBytes(level[i], ZeroHash))
			}
		}
		level = next
	}
	if len(level) == 0 {
		return ZeroHash
	}
	return level[0]
}
