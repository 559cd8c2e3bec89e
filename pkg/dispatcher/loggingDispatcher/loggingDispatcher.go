package loggingDispatcher

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/dispatcher"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

// Dispatched is one recorded payload.
type Dispatched struct {
	Kind      types.LeafKind
	ChainId   uint64
	LeafId    uint32
	RelayHash common.Hash
	Leaf      types.Leaf
}

// LoggingDispatcher logs every payload and keeps it for inspection instead of moving funds.
type LoggingDispatcher struct {
	logger *zap.Logger

	mu         sync.Mutex
	dispatched []Dispatched
}

var _ dispatcher.IPayloadDispatcher = (*LoggingDispatcher)(nil)

func NewLoggingDispatcher(logger *zap.Logger) *LoggingDispatcher {
	return &LoggingDispatcher{logger: logger}
}

func (d *LoggingDispatcher) DispatchRebalance(ctx context.Context, leaf *types.RebalanceLeaf) error {
	d.logger.Sugar().Infow("Dispatching rebalance",
		"chain_id", leaf.ChainId,
		"leaf_id", leaf.LeafId,
		"group_index", leaf.GroupIndex,
		"tokens", len(leaf.L1Tokens),
	)
	d.record(Dispatched{Kind: types.LeafKindRebalance, ChainId: leaf.ChainId, LeafId: leaf.LeafId, Leaf: leaf})
	return nil
}

func (d *LoggingDispatcher) DispatchRefund(ctx context.Context, leaf *types.RefundLeaf) error {
	d.logger.Sugar().Infow("Dispatching refund",
		"chain_id", leaf.ChainId,
		"leaf_id", leaf.LeafId,
		"target_token", leaf.TargetToken.Hex(),
		"amount_to_return", leaf.AmountToReturn.String(),
		"total_refund", leaf.TotalRefund().String(),
		"recipients", len(leaf.RefundAddresses),
	)
	d.record(Dispatched{Kind: types.LeafKindRefund, ChainId: leaf.ChainId, LeafId: leaf.LeafId, Leaf: leaf})
	return nil
}

func (d *LoggingDispatcher) DispatchSlowRelay(ctx context.Context, leaf *types.SlowRelayLeaf) error {
	relayHash, err := leaf.RelayHash()
	if err != nil {
		return err
	}
	d.logger.Sugar().Infow("Dispatching slow relay",
		"chain_id", leaf.ChainId,
		"relay_hash", relayHash.Hex(),
		"recipient", leaf.RelayData.Recipient.Hex(),
		"output_amount", leaf.UpdatedOutputAmount.String(),
	)
	d.record(Dispatched{Kind: types.LeafKindSlowRelay, ChainId: leaf.ChainId, RelayHash: relayHash, Leaf: leaf})
	return nil
}

func (d *LoggingDispatcher) record(entry Dispatched) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, entry)
}

// Dispatched returns every payload recorded so far, oldest first.
func (d *LoggingDispatcher) Dispatched() []Dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Dispatched(nil), d.dispatched...)
}
