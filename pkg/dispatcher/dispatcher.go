package dispatcher

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

// IPayloadDispatcher performs the transfer or instruction a claimed leaf authorizes. It is called
// exactly once per successful claim; implementations need not be idempotent.
type IPayloadDispatcher interface {
	DispatchRebalance(ctx context.Context, leaf *types.RebalanceLeaf) error
	DispatchRefund(ctx context.Context, leaf *types.RefundLeaf) error
	DispatchSlowRelay(ctx context.Context, leaf *types.SlowRelayLeaf) error
}

// Dispatch routes leaf to the dispatch operation of its kind.
func Dispatch(ctx context.Context, d IPayloadDispatcher, leaf types.Leaf) error {
	switch l := leaf.(type) {
	case *types.RebalanceLeaf:
		return d.DispatchRebalance(ctx, l)
	case *types.RefundLeaf:
		return d.DispatchRefund(ctx, l)
	case *types.SlowRelayLeaf:
		return d.DispatchSlowRelay(ctx, l)
	default:
		return fmt.Errorf("no dispatcher for leaf type %T", leaf)
	}
}
