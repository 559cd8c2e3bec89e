package settlement

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/adjudication"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bitmap"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bonding"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/clock"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/dispatcher"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/verifier"
)

// Config holds the per-domain parameters of an Engine.
type Config struct {
	// ChainId is the domain the engine settles. Leaves for any other chain are rejected.
	ChainId uint64

	// BondAmount is pulled from every proposer and matched by every disputer.
	BondAmount *big.Int

	// Liveness is how long a proposal can be disputed. Truncated to whole seconds.
	Liveness time.Duration

	// SingleWordBitmap tracks claims in one 256-bit word, for domains whose leaf ids fit in a uint8.
	SingleWordBitmap bool
}

func (c *Config) Validate() error {
	if c.ChainId == 0 {
		return fmt.Errorf("chain id is required")
	}
	if c.BondAmount == nil || c.BondAmount.Sign() < 0 {
		return fmt.Errorf("bond amount must be non-negative")
	}
	if c.Liveness < 0 {
		return fmt.Errorf("liveness must be non-negative")
	}
	return nil
}

// Dependencies are the collaborators an Engine drives. Clock, Persistence and Logger default to
// the system clock, an in-memory store and a production logger.
type Dependencies struct {
	Bonds       bonding.IBondManager
	Adjudicator adjudication.IAdjudicator
	Dispatcher  dispatcher.IPayloadDispatcher
	Clock       clock.IClock
	Persistence persistence.ISettlementPersistence
	Logger      *zap.Logger
}

// Engine is the settlement state machine of one domain. It holds at most one live proposal and
// serializes every transition on it.
type Engine struct {
	chainId          uint64
	bondAmount       *big.Int
	livenessSeconds  uint64
	singleWordBitmap bool

	bonds       bonding.IBondManager
	adjudicator adjudication.IAdjudicator
	dispatcher  dispatcher.IPayloadDispatcher
	clock       clock.IClock
	persistence persistence.ISettlementPersistence
	logger      *zap.Logger

	feed *EventFeed[types.Event]

	mu       sync.Mutex
	proposal *types.Proposal
	disputes map[string]*types.DisputeRecord

	// settled is the last fully claimed proposal. Its claim bits keep answering while no
	// proposal is live.
	settled *types.Proposal
}

// NewEngine builds an engine and restores the domain's proposal and disputes from persistence.
func NewEngine(cfg *Config, deps *Dependencies) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid engine config")
	}
	if deps == nil || deps.Bonds == nil || deps.Adjudicator == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("bond manager, adjudicator and dispatcher are required")
	}

	l := deps.Logger
	if l == nil {
		var err error
		if l, err = logger.NewLogger(&logger.LoggerConfig{Debug: false}); err != nil {
			return nil, errors.Wrap(err, "failed to create logger")
		}
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	store := deps.Persistence
	if store == nil {
		store = memory.NewMemoryPersistence()
	}

	e := &Engine{
		chainId:          cfg.ChainId,
		bondAmount:       new(big.Int).Set(cfg.BondAmount),
		livenessSeconds:  uint64(cfg.Liveness / time.Second),
		singleWordBitmap: cfg.SingleWordBitmap,
		bonds:            deps.Bonds,
		adjudicator:      deps.Adjudicator,
		dispatcher:       deps.Dispatcher,
		clock:            clk,
		persistence:      store,
		logger:           l,
		feed:             NewEventFeed[types.Event](),
		proposal:         &types.Proposal{},
		disputes:         make(map[string]*types.DisputeRecord),
	}

	if err := e.restore(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) restore() error {
	proposal, err := e.persistence.LoadProposal()
	if err != nil {
		return errors.Wrap(err, "failed to load proposal")
	}
	if proposal != nil {
		e.proposal = proposal
	}

	settled, err := e.persistence.LoadSettledProposal()
	if err != nil {
		return errors.Wrap(err, "failed to load settled proposal")
	}
	if !settled.IsEmpty() {
		e.settled = settled
	}

	disputes, err := e.persistence.ListDisputes()
	if err != nil {
		return errors.Wrap(err, "failed to load disputes")
	}
	for _, d := range disputes {
		e.disputes[d.RequestId] = d
	}

	if !e.proposal.IsEmpty() || len(disputes) > 0 {
		e.logger.Sugar().Infow("Restored settlement state",
			"chain_id", e.chainId,
			"root", e.proposal.Root.Hex(),
			"unclaimed_leaves", e.proposal.UnclaimedLeafCount,
			"disputes", len(disputes),
		)
	}
	return nil
}

func (e *Engine) ChainId() uint64 { return e.chainId }

func (e *Engine) BondAmount() *big.Int { return new(big.Int).Set(e.bondAmount) }

// Liveness is the dispute window granted to each proposal.
func (e *Engine) Liveness() time.Duration {
	return time.Duration(e.livenessSeconds) * time.Second
}

// Subscribe delivers every event committed from now on to ch until ctx is done.
func (e *Engine) Subscribe(ctx context.Context, ch chan<- types.Event) {
	e.feed.Subscribe(ctx, ch)
}

func (e *Engine) newBitmap() bitmap.ClaimBitmap {
	if e.singleWordBitmap {
		return bitmap.NewBitmap1D()
	}
	return bitmap.NewBitmap2D()
}

// Propose publishes a new root. The previous proposal must be fully claimed, or disputed away.
func (e *Engine) Propose(ctx context.Context, proposer common.Address, leafCount uint32, root common.Hash, metadataRoots []common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proposal.UnclaimedLeafCount > 0 {
		return ErrUnclaimedLeaves
	}
	if leafCount == 0 {
		return ErrEmptyProposal
	}

	if err := e.bonds.PullBond(ctx, proposer, e.bondAmount); err != nil {
		return errors.Wrapf(err, "failed to pull proposer bond from %s", proposer.Hex())
	}

	next := &types.Proposal{
		Proposer:                   proposer,
		BondAmount:                 new(big.Int).Set(e.bondAmount),
		Root:                       root,
		MetadataRoots:              append([]common.Hash(nil), metadataRoots...),
		LeafCount:                  leafCount,
		UnclaimedLeafCount:         leafCount,
		ClaimedBitmap:              e.newBitmap(),
		ClaimedRelayHashes:         make(map[common.Hash]bool),
		RequestExpirationTimestamp: e.clock.Now() + e.livenessSeconds,
	}

	if err := e.persistence.SaveProposal(next); err != nil {
		e.refundBond(ctx, proposer)
		return errors.Wrap(err, "failed to persist proposal")
	}
	e.proposal = next
	if e.settled != nil {
		e.settled = nil
		if err := e.persistence.SaveSettledProposal(&types.Proposal{}); err != nil {
			e.logger.Sugar().Errorw("Failed to clear settled proposal", "chain_id", e.chainId, "error", err)
		}
	}

	e.logger.Sugar().Infow("Proposed root",
		"chain_id", e.chainId,
		"proposer", proposer.Hex(),
		"root", root.Hex(),
		"leaf_count", leafCount,
		"expires_at", next.RequestExpirationTimestamp,
	)
	e.feed.Append(&types.ProposeEvent{
		ChainId:                    e.chainId,
		Proposer:                   proposer,
		Root:                       root,
		MetadataRoots:              append([]common.Hash(nil), next.MetadataRoots...),
		LeafCount:                  leafCount,
		RequestExpirationTimestamp: next.RequestExpirationTimestamp,
		BondAmount:                 new(big.Int).Set(next.BondAmount),
	})
	return nil
}

// Dispute challenges the live proposal inside its liveness window. The disputer posts a bond
// matching the proposer's, both bonds go to the adjudicator's pool and the proposal is cleared.
// The returned request id identifies the dispute when its outcome arrives.
func (e *Engine) Dispute(ctx context.Context, disputer common.Address) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if e.proposal.IsEmpty() || now > e.proposal.RequestExpirationTimestamp {
		return "", ErrLivenessExpired
	}

	snapshot := e.proposal.Clone()
	bond := snapshot.BondAmount
	if bond == nil {
		bond = new(big.Int)
	}

	if err := e.bonds.PullBond(ctx, disputer, bond); err != nil {
		return "", errors.Wrapf(err, "failed to pull disputer bond from %s", disputer.Hex())
	}

	requestId, err := e.adjudicator.RequestAdjudication(ctx, &types.DisputeRequest{
		ChainId:      e.chainId,
		Disputer:     disputer,
		DisputedAt:   now,
		Proposal:     snapshot.Clone(),
		ProposerBond: new(big.Int).Set(bond),
		DisputerBond: new(big.Int).Set(bond),
	})
	if err != nil {
		e.returnBond(ctx, disputer, bond)
		return "", errors.Wrap(err, "failed to request adjudication")
	}

	pool := e.adjudicator.PoolAddress()
	if err := e.bonds.ForfeitBond(ctx, pool, new(big.Int).Add(bond, bond)); err != nil {
		e.returnBond(ctx, disputer, bond)
		if cancelErr := e.adjudicator.CancelAdjudication(ctx, requestId); cancelErr != nil {
			e.logger.Sugar().Errorw("Failed to cancel adjudication request after bond forfeit failed",
				"chain_id", e.chainId,
				"request_id", requestId,
				"error", cancelErr,
			)
		}
		return "", errors.Wrapf(err, "failed to forfeit bonds to %s", pool.Hex())
	}

	record := &types.DisputeRecord{
		RequestId:  requestId,
		ChainId:    e.chainId,
		Disputer:   disputer,
		DisputedAt: now,
		Proposal:   snapshot,
		Outcome:    types.DisputeOutcomePending,
	}
	cleared := &types.Proposal{}

	// Past this point the dispute stands; write failures are only logged.
	if err := e.persistence.SaveDispute(record); err != nil {
		e.logger.Sugar().Errorw("Failed to persist dispute", "chain_id", e.chainId, "request_id", requestId, "error", err)
	}
	if err := e.persistence.SaveProposal(cleared); err != nil {
		e.logger.Sugar().Errorw("Failed to persist cleared proposal", "chain_id", e.chainId, "request_id", requestId, "error", err)
	}

	e.disputes[requestId] = record
	e.proposal = cleared

	e.logger.Sugar().Infow("Disputed proposal",
		"chain_id", e.chainId,
		"disputer", disputer.Hex(),
		"proposer", snapshot.Proposer.Hex(),
		"root", snapshot.Root.Hex(),
		"request_id", requestId,
	)
	e.feed.Append(&types.DisputeEvent{
		ChainId:    e.chainId,
		Disputer:   disputer,
		Proposer:   snapshot.Proposer,
		Root:       snapshot.Root,
		RequestId:  requestId,
		DisputedAt: now,
	})
	return requestId, nil
}

// ResolveDispute records the adjudicator's verdict for a dispute. It never restores the disputed
// proposal. Its signature matches adjudication.ResolveFunc.
func (e *Engine) ResolveDispute(ctx context.Context, requestId string, outcome types.DisputeOutcome) error {
	if !outcome.IsFinal() {
		return ErrInvalidOutcome
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.disputes[requestId]
	if !ok {
		return ErrUnknownDispute
	}
	if current.Outcome.IsFinal() {
		return ErrDisputeAlreadyResolved
	}

	next := current.Clone()
	next.Outcome = outcome
	next.ResolvedAt = e.clock.Now()

	if err := e.persistence.SaveDispute(next); err != nil {
		return errors.Wrapf(err, "failed to persist resolution of %s", requestId)
	}
	e.disputes[requestId] = next

	e.logger.Sugar().Infow("Resolved dispute",
		"chain_id", e.chainId,
		"request_id", requestId,
		"outcome", string(outcome),
	)
	e.feed.Append(&types.DisputeResolvedEvent{
		ChainId:   e.chainId,
		RequestId: requestId,
		Outcome:   outcome,
	})
	return nil
}

// Claim redeems one leaf of the live proposal once its liveness window has passed. The first
// successful claim also repays the proposer's bond.
func (e *Engine) Claim(ctx context.Context, caller common.Address, leaf types.Leaf, proof []common.Hash) error {
	if leaf == nil {
		return ErrBadProof
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.proposal
	if e.clock.Now() <= current.RequestExpirationTimestamp {
		return ErrLivenessNotPassed
	}
	claims := e.claimRecord()

	var (
		leafId    uint32
		relayHash common.Hash
		isRelay   bool
	)
	switch l := leaf.(type) {
	case types.IndexedLeaf:
		leafId = l.LeafID()
		if claims.IsLeafClaimed(leafId) {
			return ErrAlreadyClaimed
		}
	case *types.SlowRelayLeaf:
		h, err := l.RelayHash()
		if err != nil {
			return ErrBadProof
		}
		relayHash, isRelay = h, true
		if claims.IsRelayClaimed(relayHash) {
			return ErrAlreadyClaimed
		}
	default:
		return ErrBadProof
	}

	if current.IsEmpty() || !verifier.VerifyLeaf(current.Root, leaf, proof) {
		return ErrBadProof
	}
	if leaf.ChainID() != e.chainId {
		return ErrWrongDomain
	}

	next := current.Clone()
	if isRelay {
		if next.ClaimedRelayHashes == nil {
			next.ClaimedRelayHashes = make(map[common.Hash]bool)
		}
		next.ClaimedRelayHashes[relayHash] = true
	} else {
		if next.ClaimedBitmap == nil {
			next.ClaimedBitmap = e.newBitmap()
		}
		if err := next.ClaimedBitmap.SetClaimed(leafId); err != nil {
			return errors.Wrapf(err, "failed to mark leaf %d claimed", leafId)
		}
	}
	if next.UnclaimedLeafCount == 0 {
		// More valid leaves than the proposer declared.
		return errors.Wrapf(ErrBadProof, "root %s has no unclaimed leaves left", current.Root.Hex())
	}
	next.UnclaimedLeafCount--

	repayBond := !current.ProposerBondRepaid
	next.ProposerBondRepaid = true

	committed := next
	if next.UnclaimedLeafCount == 0 {
		committed = &types.Proposal{}
	}

	// Persist before any payout: a restart must never reopen a dispatched leaf.
	if err := e.persistence.SaveProposal(committed); err != nil {
		return errors.Wrap(err, "failed to persist claim")
	}

	if repayBond {
		if err := e.bonds.ReturnBond(ctx, current.Proposer, current.BondAmount); err != nil {
			e.rollback(current)
			return errors.Wrapf(err, "failed to repay proposer bond to %s", current.Proposer.Hex())
		}
	}

	if err := dispatcher.Dispatch(ctx, e.dispatcher, leaf); err != nil {
		reverted := current
		if repayBond {
			reverted = current.Clone()
			reverted.ProposerBondRepaid = true
		}
		e.rollback(reverted)
		return errors.Wrapf(err, "failed to dispatch %s leaf", leaf.Kind())
	}

	e.proposal = committed
	if committed != next {
		e.settled = next
		if err := e.persistence.SaveSettledProposal(next); err != nil {
			e.logger.Sugar().Errorw("Failed to persist settled proposal", "chain_id", e.chainId, "root", current.Root.Hex(), "error", err)
		}
	}

	e.logger.Sugar().Infow("Claimed leaf",
		"chain_id", e.chainId,
		"caller", caller.Hex(),
		"root", current.Root.Hex(),
		"kind", leaf.Kind().String(),
		"leaf_id", leafId,
		"unclaimed_leaves", next.UnclaimedLeafCount,
		"bond_repaid", repayBond,
	)
	e.feed.Append(&types.ClaimEvent{
		ChainId:            e.chainId,
		Caller:             caller,
		Root:               current.Root,
		Kind:               leaf.Kind(),
		LeafId:             leafId,
		RelayHash:          relayHash,
		UnclaimedLeafCount: next.UnclaimedLeafCount,
		BondRepaid:         repayBond,
	})
	if committed != next {
		e.logger.Sugar().Infow("Proposal fully claimed", "chain_id", e.chainId, "root", current.Root.Hex())
		e.feed.Append(&types.ProposalClearedEvent{ChainId: e.chainId, Root: current.Root})
	}
	return nil
}

// rollback makes p the live proposal again after a failed claim.
func (e *Engine) rollback(p *types.Proposal) {
	e.proposal = p
	if err := e.persistence.SaveProposal(p); err != nil {
		e.logger.Sugar().Errorw("Failed to roll back persisted proposal", "chain_id", e.chainId, "root", p.Root.Hex(), "error", err)
	}
}

func (e *Engine) refundBond(ctx context.Context, to common.Address) {
	e.returnBond(ctx, to, e.bondAmount)
}

func (e *Engine) returnBond(ctx context.Context, to common.Address, amount *big.Int) {
	if err := e.bonds.ReturnBond(ctx, to, amount); err != nil {
		e.logger.Sugar().Errorw("Failed to return bond", "chain_id", e.chainId, "to", to.Hex(), "amount", amount.String(), "error", err)
	}
}

// claimRecord is the record claim bits are read from: the live proposal, or the settled one
// while nothing is live. Callers hold e.mu.
func (e *Engine) claimRecord() *types.Proposal {
	if e.proposal.IsEmpty() {
		return e.settled
	}
	return e.proposal
}

// IsClaimed reports whether the indexed leaf id has been claimed against the live proposal, or
// against the last settled one while no proposal is live.
func (e *Engine) IsClaimed(leafId uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.claimRecord().IsLeafClaimed(leafId)
}

// IsRelayClaimed is IsClaimed for slow relays.
func (e *Engine) IsRelayClaimed(relayHash common.Hash) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.claimRecord().IsRelayClaimed(relayHash)
}

// Proposal returns a copy of the live proposal record.
func (e *Engine) Proposal() *types.Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proposal.Clone()
}

func (e *Engine) State() types.ProposalState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proposal.StateAt(e.clock.Now())
}

// DisputeRecord returns a copy of one dispute, or nil if the request id is unknown.
func (e *Engine) DisputeRecord(requestId string) *types.DisputeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disputes[requestId].Clone()
}

// Disputes returns every dispute filed on this domain, oldest first.
func (e *Engine) Disputes() []*types.DisputeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*types.DisputeRecord, 0, len(e.disputes))
	for _, d := range e.disputes {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisputedAt != out[j].DisputedAt {
			return out[i].DisputedAt < out[j].DisputedAt
		}
		return out[i].RequestId < out[j].RequestId
	})
	return out
}
