package clientsync

import (
	"context"
	"sort"
	"time"

	"github.com/intmax2/rollup-node/rolluptypes"
)

// HistoryEntry is one line of a user-facing activity feed: a typed data
// entry plus whether it has been applied to the wallet's local private
// state yet.
type HistoryEntry struct {
	Entry   rolluptypes.TypedDataEntry
	Applied bool
}

// History merges every deposit/transfer/tx/withdrawal entry recorded for
// owner into one chronological feed. This supplements spec §4.5, which
// only specifies the forward sync action sequence and not a read-only
// reporting view, filling a gap the original client implementation covers
// (its history reconstruction) but the distilled spec omits.
func (c *Client) History(ctx context.Context, owner rolluptypes.PubKey, appliedThroughBlock uint32) ([]HistoryEntry, error) {
	var all []rolluptypes.TypedDataEntry
	for _, dt := range []rolluptypes.DataType{
		rolluptypes.DataTypeDeposit,
		rolluptypes.DataTypeTransfer,
		rolluptypes.DataTypeTx,
		rolluptypes.DataTypeWithdrawal,
	} {
		entries, err := c.collab.StoreVault.GetDataAllAfter(ctx, owner, dt, time.Time{})
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].BlockNumber < all[j].BlockNumber
	})

	out := make([]HistoryEntry, len(all))
	for i, e := range all {
		out[i] = HistoryEntry{Entry: e, Applied: e.BlockNumber <= appliedThroughBlock}
	}
	return out, nil
}
