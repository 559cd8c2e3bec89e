// Package spoke executes relayed root bundles on a destination domain.
//
// After a hub proposal becomes claimable its refund and slow relay roots are relayed to each
// spoke. A spoke keeps every bundle it received, tracks executed refund leaves per bundle and
// tracks slow fills per relay across all bundles, so a relay is filled at most once no matter how
// many bundles include it.
package spoke

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bitmap"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/clock"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/dispatcher"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/settlement"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/verifier"
)

type Dependencies struct {
	Dispatcher  dispatcher.IPayloadDispatcher
	Clock       clock.IClock
	Persistence persistence.ISettlementPersistence
	Logger      *zap.Logger
}

// Pool is the spoke side of one domain.
type Pool struct {
	chainId     uint64
	dispatcher  dispatcher.IPayloadDispatcher
	clock       clock.IClock
	persistence persistence.ISettlementPersistence
	logger      *zap.Logger

	mu      sync.Mutex
	bundles map[uint32]*types.RootBundle
	filled  map[common.Hash]bool
	nextId  uint32
}

// NewPool restores a spoke pool from persistence.
func NewPool(chainId uint64, deps *Dependencies) (*Pool, error) {
	if chainId == 0 {
		return nil, fmt.Errorf("chain id is required")
	}
	if deps == nil || deps.Dispatcher == nil || deps.Clock == nil || deps.Persistence == nil || deps.Logger == nil {
		return nil, fmt.Errorf("dispatcher, clock, persistence and logger are required")
	}

	p := &Pool{
		chainId:     chainId,
		dispatcher:  deps.Dispatcher,
		clock:       deps.Clock,
		persistence: deps.Persistence,
		logger:      deps.Logger,
		bundles:     make(map[uint32]*types.RootBundle),
		filled:      make(map[common.Hash]bool),
	}

	bundles, err := p.persistence.ListRootBundles()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load root bundles")
	}
	for _, b := range bundles {
		if b.ClaimedBitmap == nil {
			b.ClaimedBitmap = bitmap.NewBitmap2D()
		}
		p.bundles[b.Id] = b
		if b.Id >= p.nextId {
			p.nextId = b.Id + 1
		}
	}

	relays, err := p.persistence.ListFilledRelays()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load filled relays")
	}
	for _, h := range relays {
		p.filled[h] = true
	}

	// Deleted bundles leave no record; the counter lives in node state
	state, err := p.persistence.LoadNodeState()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load node state")
	}
	if state != nil && state.NextRootBundleId > p.nextId {
		p.nextId = state.NextRootBundleId
	}

	return p, nil
}

func (p *Pool) ChainId() uint64 { return p.chainId }

// RelayRootBundle stores a new bundle and returns its id. Ids are sequential and never reused.
func (p *Pool) RelayRootBundle(refundRoot, slowRelayRoot common.Hash) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bundle := &types.RootBundle{
		Id:            p.nextId,
		RefundRoot:    refundRoot,
		SlowRelayRoot: slowRelayRoot,
		ClaimedBitmap: bitmap.NewBitmap2D(),
		RelayedAt:     p.clock.Now(),
	}

	if err := p.saveNextId(bundle.Id + 1); err != nil {
		return 0, err
	}
	if err := p.persistence.SaveRootBundle(bundle); err != nil {
		return 0, errors.Wrapf(err, "failed to persist root bundle %d", bundle.Id)
	}
	p.bundles[bundle.Id] = bundle
	p.nextId = bundle.Id + 1

	p.logger.Sugar().Infow("Relayed root bundle",
		"chain_id", p.chainId,
		"bundle_id", bundle.Id,
		"refund_root", refundRoot.Hex(),
		"slow_relay_root", slowRelayRoot.Hex(),
	)
	return bundle.Id, nil
}

func (p *Pool) saveNextId(next uint32) error {
	state, err := p.persistence.LoadNodeState()
	if err != nil {
		return errors.Wrap(err, "failed to load node state")
	}
	if state == nil {
		state = &persistence.NodeState{ChainId: p.chainId}
	}
	state.NextRootBundleId = next
	if err := p.persistence.SaveNodeState(state); err != nil {
		return errors.Wrap(err, "failed to persist root bundle counter")
	}
	return nil
}

// ExecuteRefundLeaf pays out one refund leaf of a relayed bundle.
func (p *Pool) ExecuteRefundLeaf(ctx context.Context, bundleId uint32, leaf *types.RefundLeaf, proof []common.Hash) error {
	if leaf == nil {
		return settlement.ErrBadProof
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.bundles[bundleId]
	if !ok {
		return errors.Wrapf(ErrUnknownRootBundle, "bundle %d", bundleId)
	}
	if current.ClaimedBitmap.IsClaimed(leaf.LeafId) {
		return settlement.ErrAlreadyClaimed
	}
	if !verifier.VerifyRefundLeaf(current.RefundRoot, leaf, proof) {
		return settlement.ErrBadProof
	}
	if leaf.ChainId != p.chainId {
		return settlement.ErrWrongDomain
	}

	next := current.Clone()
	if err := next.ClaimedBitmap.SetClaimed(leaf.LeafId); err != nil {
		return errors.Wrapf(err, "failed to mark refund leaf %d executed", leaf.LeafId)
	}
	if err := p.persistence.SaveRootBundle(next); err != nil {
		return errors.Wrapf(err, "failed to persist bundle %d", bundleId)
	}

	if err := p.dispatcher.DispatchRefund(ctx, leaf); err != nil {
		if rerr := p.persistence.SaveRootBundle(current); rerr != nil {
			p.logger.Sugar().Errorw("Failed to roll back root bundle", "bundle_id", bundleId, "error", rerr)
		}
		return errors.Wrapf(err, "failed to dispatch refund leaf %d", leaf.LeafId)
	}
	p.bundles[bundleId] = next

	p.logger.Sugar().Infow("Executed refund leaf",
		"chain_id", p.chainId,
		"bundle_id", bundleId,
		"leaf_id", leaf.LeafId,
		"total_refund", leaf.TotalRefund().String(),
	)
	return nil
}

// ExecuteSlowRelayLeaf fills a relay from pool liquidity. The relay must still be unfilled and
// within its fill deadline.
func (p *Pool) ExecuteSlowRelayLeaf(ctx context.Context, bundleId uint32, leaf *types.SlowRelayLeaf, proof []common.Hash) error {
	if leaf == nil {
		return settlement.ErrBadProof
	}
	relayHash, err := leaf.RelayHash()
	if err != nil {
		return settlement.ErrBadProof
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.bundles[bundleId]
	if !ok {
		return errors.Wrapf(ErrUnknownRootBundle, "bundle %d", bundleId)
	}
	if p.filled[relayHash] {
		return ErrRelayFilled
	}
	if p.clock.Now() > uint64(leaf.RelayData.FillDeadline) {
		return ErrExpiredFillDeadline
	}
	if !verifier.VerifySlowRelayLeaf(current.SlowRelayRoot, leaf, proof) {
		return settlement.ErrBadProof
	}
	if leaf.ChainId != p.chainId {
		return settlement.ErrWrongDomain
	}

	if err := p.persistence.MarkRelayFilled(relayHash); err != nil {
		return errors.Wrapf(err, "failed to persist fill of %s", relayHash.Hex())
	}
	if err := p.dispatcher.DispatchSlowRelay(ctx, leaf); err != nil {
		if rerr := p.persistence.UnmarkRelayFilled(relayHash); rerr != nil {
			p.logger.Sugar().Errorw("Failed to roll back relay fill", "relay_hash", relayHash.Hex(), "error", rerr)
		}
		return errors.Wrapf(err, "failed to dispatch slow fill of %s", relayHash.Hex())
	}
	p.filled[relayHash] = true

	p.logger.Sugar().Infow("Executed slow relay leaf",
		"chain_id", p.chainId,
		"bundle_id", bundleId,
		"relay_hash", relayHash.Hex(),
		"origin_chain_id", leaf.RelayData.OriginChainId,
		"deposit_id", leaf.RelayData.DepositId.String(),
	)
	return nil
}

// EmergencyDeleteRootBundle drops a bundle so none of its leaves can be executed. Relay fills
// already recorded stay recorded.
func (p *Pool) EmergencyDeleteRootBundle(bundleId uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.bundles[bundleId]; !ok {
		return errors.Wrapf(ErrUnknownRootBundle, "bundle %d", bundleId)
	}
	if err := p.persistence.DeleteRootBundle(bundleId); err != nil {
		return errors.Wrapf(err, "failed to delete bundle %d", bundleId)
	}
	delete(p.bundles, bundleId)

	p.logger.Sugar().Warnw("Deleted root bundle", "chain_id", p.chainId, "bundle_id", bundleId)
	return nil
}

// RootBundle returns a copy of a bundle, or nil.
func (p *Pool) RootBundle(bundleId uint32) *types.RootBundle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bundles[bundleId].Clone()
}

// RootBundles returns copies of every live bundle ordered by id.
func (p *Pool) RootBundles() []*types.RootBundle {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*types.RootBundle, 0, len(p.bundles))
	for _, b := range p.bundles {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

func (p *Pool) FillStatus(relayHash common.Hash) types.RelayFillStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filled[relayHash] {
		return types.RelayFilled
	}
	return types.RelayUnfilled
}
