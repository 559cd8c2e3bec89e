package types

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bitmap"
)

// RelayFillStatus is the fill state of one relay on a spoke domain.
type RelayFillStatus uint8

const (
	RelayUnfilled RelayFillStatus = iota
	RelayFilled
)

func (s RelayFillStatus) String() string {
	if s == RelayFilled {
		return "filled"
	}
	return "unfilled"
}

// RootBundle is a pair of roots relayed from the hub to a spoke domain. Refund leaves executed
// against it are tracked in its own unbounded bitmap.
type RootBundle struct {
	Id            uint32
	RefundRoot    common.Hash
	SlowRelayRoot common.Hash
	ClaimedBitmap bitmap.ClaimBitmap
	RelayedAt     uint64
}

func (b *RootBundle) Clone() *RootBundle {
	if b == nil {
		return nil
	}
	c := *b
	if b.ClaimedBitmap != nil {
		c.ClaimedBitmap = b.ClaimedBitmap.Clone()
	}
	return &c
}

type rootBundleJSON struct {
	Id            uint32           `json:"id"`
	RefundRoot    common.Hash      `json:"refundRoot"`
	SlowRelayRoot common.Hash      `json:"slowRelayRoot"`
	ClaimedBitmap *bitmap.Snapshot `json:"claimedBitmap,omitempty"`
	RelayedAt     uint64           `json:"relayedAt"`
}

func (b RootBundle) MarshalJSON() ([]byte, error) {
	out := rootBundleJSON{
		Id:            b.Id,
		RefundRoot:    b.RefundRoot,
		SlowRelayRoot: b.SlowRelayRoot,
		RelayedAt:     b.RelayedAt,
	}
	if b.ClaimedBitmap != nil {
		out.ClaimedBitmap = bitmap.TakeSnapshot(b.ClaimedBitmap)
	}
	return json.Marshal(out)
}

func (b *RootBundle) UnmarshalJSON(data []byte) error {
	var in rootBundleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*b = RootBundle{
		Id:            in.Id,
		RefundRoot:    in.RefundRoot,
		SlowRelayRoot: in.SlowRelayRoot,
		RelayedAt:     in.RelayedAt,
	}
	if in.ClaimedBitmap != nil {
		restored, err := in.ClaimedBitmap.Restore()
		if err != nil {
			return fmt.Errorf("failed to restore bundle %d bitmap: %w", in.Id, err)
		}
		b.ClaimedBitmap = restored
	}
	return nil
}
