package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/adjudication/inMemoryAdjudicator"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bitmap"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bonding"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bonding/inMemoryBondManager"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/clock"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/dispatcher"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/dispatcher/loggingDispatcher"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

const (
	testChainId  = uint64(10)
	testStart    = uint64(1_700_000_000)
	testLiveness = 2 * time.Hour
)

var (
	testBond     = big.NewInt(1_000)
	testProposer = common.HexToAddress("0xa11ce")
	testDisputer = common.HexToAddress("0xb0b")
	testCaller   = common.HexToAddress("0xca11e7")
	testPool     = common.HexToAddress("0x9001")
)

// failingBonds fails selected operations of an in-memory bond manager.
type failingBonds struct {
	*inMemoryBondManager.InMemoryBondManager
	failPull    error
	failReturn  error
	failForfeit error
	returns     int
}

func (f *failingBonds) PullBond(ctx context.Context, from common.Address, amount *big.Int) error {
	if f.failPull != nil {
		return f.failPull
	}
	return f.InMemoryBondManager.PullBond(ctx, from, amount)
}

func (f *failingBonds) ReturnBond(ctx context.Context, to common.Address, amount *big.Int) error {
	if f.failReturn != nil {
		return f.failReturn
	}
	f.returns++
	return f.InMemoryBondManager.ReturnBond(ctx, to, amount)
}

func (f *failingBonds) ForfeitBond(ctx context.Context, to common.Address, amount *big.Int) error {
	if f.failForfeit != nil {
		return f.failForfeit
	}
	return f.InMemoryBondManager.ForfeitBond(ctx, to, amount)
}

// failingDispatcher fails every dispatch while err is set.
type failingDispatcher struct {
	*loggingDispatcher.LoggingDispatcher
	err error
}

func (f *failingDispatcher) DispatchRefund(ctx context.Context, leaf *types.RefundLeaf) error {
	if f.err != nil {
		return f.err
	}
	return f.LoggingDispatcher.DispatchRefund(ctx, leaf)
}

// failingStore fails proposal writes while err is set.
type failingStore struct {
	persistence.ISettlementPersistence
	err error
}

func (f *failingStore) SaveProposal(p *types.Proposal) error {
	if f.err != nil {
		return f.err
	}
	return f.ISettlementPersistence.SaveProposal(p)
}

type testHarness struct {
	engine      *Engine
	bonds       *failingBonds
	adjudicator *inMemoryAdjudicator.InMemoryAdjudicator
	dispatcher  *failingDispatcher
	clock       *clock.ManualClock
	store       *failingStore
}

type harnessOption func(cfg *Config)

func withSingleWordBitmap() harnessOption {
	return func(cfg *Config) { cfg.SingleWordBitmap = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *testHarness {
	t.Helper()
	return newHarnessWithStore(t, memory.NewMemoryPersistence(), opts...)
}

func newHarnessWithStore(t *testing.T, store persistence.ISettlementPersistence, opts ...harnessOption) *testHarness {
	t.Helper()
	logger := zap.NewNop()

	bonds := &failingBonds{InMemoryBondManager: inMemoryBondManager.NewInMemoryBondManager(logger)}
	require.NoError(t, bonds.Deposit(testProposer, big.NewInt(10_000)))
	require.NoError(t, bonds.Deposit(testDisputer, big.NewInt(10_000)))

	h := &testHarness{
		bonds:       bonds,
		adjudicator: inMemoryAdjudicator.NewInMemoryAdjudicator(testPool, logger),
		dispatcher:  &failingDispatcher{LoggingDispatcher: loggingDispatcher.NewLoggingDispatcher(logger)},
		clock:       clock.NewManualClock(testStart),
		store:       &failingStore{ISettlementPersistence: store},
	}

	cfg := &Config{ChainId: testChainId, BondAmount: testBond, Liveness: testLiveness}
	for _, opt := range opts {
		opt(cfg)
	}

	engine, err := NewEngine(cfg, &Dependencies{
		Bonds:       h.bonds,
		Adjudicator: h.adjudicator,
		Dispatcher:  h.dispatcher,
		Clock:       h.clock,
		Persistence: h.store,
		Logger:      logger,
	})
	require.NoError(t, err)
	h.adjudicator.SetResolver(engine.ResolveDispute)
	h.engine = engine
	return h
}

func (h *testHarness) passLiveness() {
	h.clock.Advance(testLiveness + time.Second)
}

// refundFixture is a proposed refund tree with proofs for every leaf.
type refundFixture struct {
	leaves []*types.RefundLeaf
	tree   *merkle.MerkleTree[*types.RefundLeaf]
}

func newRefundFixture(t *testing.T, chainId uint64, leafIds ...uint32) *refundFixture {
	t.Helper()
	leaves := make([]*types.RefundLeaf, len(leafIds))
	for i, id := range leafIds {
		leaves[i] = &types.RefundLeaf{
			ChainId:         chainId,
			AmountToReturn:  big.NewInt(int64(i)),
			TargetToken:     common.HexToAddress("0x7e57"),
			LeafId:          id,
			RefundAddresses: []common.Address{common.BigToAddress(big.NewInt(int64(id) + 1))},
			RefundAmounts:   []*big.Int{big.NewInt(int64(id) * 10)},
		}
	}
	tree, err := merkle.BuildMerkleTree(leaves, types.HashRefundLeaf)
	require.NoError(t, err)
	return &refundFixture{leaves: leaves, tree: tree}
}

func (f *refundFixture) root() common.Hash { return f.tree.RootHash() }

func (f *refundFixture) proof(t *testing.T, leaf *types.RefundLeaf) []common.Hash {
	t.Helper()
	p, err := f.tree.GenerateProof(leaf)
	require.NoError(t, err)
	return merkle.ToHashes(p.Proof)
}

func (h *testHarness) propose(t *testing.T, f *refundFixture) {
	t.Helper()
	require.NoError(t, h.engine.Propose(context.Background(), testProposer, uint32(len(f.leaves)), f.root(), nil))
}

func TestNewEngineValidation(t *testing.T) {
	logger := zap.NewNop()
	deps := &Dependencies{
		Bonds:       inMemoryBondManager.NewInMemoryBondManager(logger),
		Adjudicator: inMemoryAdjudicator.NewInMemoryAdjudicator(testPool, logger),
		Dispatcher:  loggingDispatcher.NewLoggingDispatcher(logger),
		Logger:      logger,
	}

	tests := []struct {
		name string
		cfg  *Config
		deps *Dependencies
	}{
		{"nil config", nil, deps},
		{"missing chain id", &Config{BondAmount: testBond}, deps},
		{"missing bond", &Config{ChainId: 1}, deps},
		{"negative bond", &Config{ChainId: 1, BondAmount: big.NewInt(-1)}, deps},
		{"negative liveness", &Config{ChainId: 1, BondAmount: testBond, Liveness: -time.Second}, deps},
		{"missing collaborators", &Config{ChainId: 1, BondAmount: testBond}, &Dependencies{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.cfg, tt.deps)
			assert.Error(t, err)
		})
	}

	engine, err := NewEngine(&Config{ChainId: 1, BondAmount: testBond, Liveness: 90 * time.Minute}, deps)
	require.NoError(t, err)
	assert.Equal(t, types.ProposalStateEmpty, engine.State())

	t.Run("default logger", func(t *testing.T) {
		noLogger := *deps
		noLogger.Logger = nil
		engine, err := NewEngine(&Config{ChainId: 1, BondAmount: testBond}, &noLogger)
		require.NoError(t, err)
		assert.NotNil(t, engine)
	})
	assert.Equal(t, 90*time.Minute, engine.Liveness())
}

func TestProposeLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	f := newRefundFixture(t, testChainId, 0, 1, 2)

	metadata := []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}
	require.NoError(t, h.engine.Propose(ctx, testProposer, 3, f.root(), metadata))

	p := h.engine.Proposal()
	assert.Equal(t, testProposer, p.Proposer)
	assert.Equal(t, f.root(), p.Root)
	assert.Equal(t, metadata, p.MetadataRoots)
	assert.Equal(t, uint32(3), p.LeafCount)
	assert.Equal(t, uint32(3), p.UnclaimedLeafCount)
	assert.Equal(t, testStart+uint64(testLiveness/time.Second), p.RequestExpirationTimestamp)
	assert.False(t, p.ProposerBondRepaid)
	assert.False(t, p.ClaimedBitmap.Bounded())

	assert.Equal(t, int64(9_000), h.bonds.BalanceOf(testProposer).Int64())
	assert.Equal(t, testBond.Int64(), h.bonds.Escrowed().Int64())
	assert.Equal(t, types.ProposalStatePending, h.engine.State())

	h.passLiveness()
	assert.Equal(t, types.ProposalStateClaimable, h.engine.State())
}

func TestProposeRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("zero leaves", func(t *testing.T) {
		h := newHarness(t)
		err := h.engine.Propose(ctx, testProposer, 0, common.HexToHash("0x01"), nil)
		require.ErrorIs(t, err, ErrEmptyProposal)
		assert.Zero(t, h.bonds.Escrowed().Sign())
	})

	t.Run("blocked while pending and while partially claimed", func(t *testing.T) {
		h := newHarness(t)
		f := newRefundFixture(t, testChainId, 0, 1)
		h.propose(t, f)

		err := h.engine.Propose(ctx, testProposer, 1, common.HexToHash("0x02"), nil)
		require.ErrorIs(t, err, ErrUnclaimedLeaves)

		h.passLiveness()
		require.NoError(t, h.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[0])))
		assert.Equal(t, types.ProposalStatePartiallyClaimed, h.engine.State())

		err = h.engine.Propose(ctx, testProposer, 1, common.HexToHash("0x02"), nil)
		require.ErrorIs(t, err, ErrUnclaimedLeaves)
		assert.Equal(t, f.root(), h.engine.Proposal().Root)

		require.NoError(t, h.engine.Claim(ctx, testCaller, f.leaves[1], f.proof(t, f.leaves[1])))
		require.NoError(t, h.engine.Propose(ctx, testProposer, 1, common.HexToHash("0x02"), nil))
	})

	t.Run("bond pull failure leaves no proposal", func(t *testing.T) {
		h := newHarness(t)
		h.bonds.failPull = bonding.ErrInsufficientBalance

		err := h.engine.Propose(ctx, testProposer, 1, common.HexToHash("0x01"), nil)
		require.ErrorIs(t, err, bonding.ErrInsufficientBalance)
		assert.True(t, h.engine.Proposal().IsEmpty())
	})

	t.Run("persistence failure returns the bond", func(t *testing.T) {
		h := newHarness(t)
		h.store.err = errors.New("disk full")

		err := h.engine.Propose(ctx, testProposer, 1, common.HexToHash("0x01"), nil)
		require.Error(t, err)
		assert.True(t, h.engine.Proposal().IsEmpty())
		assert.Equal(t, int64(10_000), h.bonds.BalanceOf(testProposer).Int64())
		assert.Zero(t, h.bonds.Escrowed().Sign())
	})
}

func TestLivenessGating(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	f := newRefundFixture(t, testChainId, 0, 1)
	h.propose(t, f)
	expiration := h.engine.Proposal().RequestExpirationTimestamp

	// At the expiration timestamp the proposal is still disputable and not claimable
	h.clock.Set(expiration)
	err := h.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[0]))
	require.ErrorIs(t, err, ErrLivenessNotPassed)
	assert.False(t, h.engine.IsClaimed(0))

	h.clock.Set(expiration + 1)
	_, err = h.engine.Dispute(ctx, testDisputer)
	require.ErrorIs(t, err, ErrLivenessExpired)

	require.NoError(t, h.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[0])))
	assert.True(t, h.engine.IsClaimed(0))
}

func TestClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("no double spend", func(t *testing.T) {
		h := newHarness(t)
		f := newRefundFixture(t, testChainId, 0, 1, 2)
		h.propose(t, f)
		h.passLiveness()

		leaf := f.leaves[1]
		require.NoError(t, h.engine.Claim(ctx, testCaller, leaf, f.proof(t, leaf)))
		err := h.engine.Claim(ctx, testCaller, leaf, f.proof(t, leaf))
		require.ErrorIs(t, err, ErrAlreadyClaimed)

		assert.Len(t, h.dispatcher.Dispatched(), 1)
		assert.Equal(t, uint32(2), h.engine.Proposal().UnclaimedLeafCount)
	})

	t.Run("no double spend after the last leaf", func(t *testing.T) {
		h := newHarness(t)
		f := newRefundFixture(t, testChainId, 0)
		h.propose(t, f)
		h.passLiveness()

		leaf := f.leaves[0]
		require.NoError(t, h.engine.Claim(ctx, testCaller, leaf, f.proof(t, leaf)))
		assert.True(t, h.engine.Proposal().IsEmpty())

		err := h.engine.Claim(ctx, testCaller, leaf, f.proof(t, leaf))
		require.ErrorIs(t, err, ErrAlreadyClaimed)
		assert.True(t, h.engine.IsClaimed(0))
		assert.False(t, h.engine.IsClaimed(1))
		assert.Len(t, h.dispatcher.Dispatched(), 1)

		restarted := newHarnessWithStore(t, h.store)
		err = restarted.engine.Claim(ctx, testCaller, leaf, f.proof(t, leaf))
		require.ErrorIs(t, err, ErrAlreadyClaimed)
		assert.True(t, restarted.engine.IsClaimed(0))

		// A new proposal starts from a clean bitmap
		next := newRefundFixture(t, testChainId, 0, 1)
		h.propose(t, next)
		assert.False(t, h.engine.IsClaimed(0))
		h.passLiveness()
		require.NoError(t, h.engine.Claim(ctx, testCaller, next.leaves[0], next.proof(t, next.leaves[0])))
	})

	t.Run("bad proof", func(t *testing.T) {
		h := newHarness(t)
		f := newRefundFixture(t, testChainId, 0, 1, 2)
		h.propose(t, f)
		h.passLiveness()

		tampered := *f.leaves[0]
		tampered.RefundAmounts = []*big.Int{big.NewInt(1_000_000)}
		err := h.engine.Claim(ctx, testCaller, &tampered, f.proof(t, f.leaves[0]))
		require.ErrorIs(t, err, ErrBadProof)

		err = h.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[1]))
		require.ErrorIs(t, err, ErrBadProof)

		assert.False(t, h.engine.IsClaimed(0))
		assert.Empty(t, h.dispatcher.Dispatched())
	})

	t.Run("wrong domain with valid proof", func(t *testing.T) {
		h := newHarness(t)
		f := newRefundFixture(t, testChainId+1, 0, 1)
		h.propose(t, f)
		h.passLiveness()

		err := h.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[0]))
		require.ErrorIs(t, err, ErrWrongDomain)
	})

	t.Run("no proposal", func(t *testing.T) {
		h := newHarness(t)
		f := newRefundFixture(t, testChainId, 0)
		err := h.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[0]))
		require.ErrorIs(t, err, ErrBadProof)

		require.ErrorIs(t, h.engine.Claim(ctx, testCaller, nil, nil), ErrBadProof)
	})

	t.Run("bond repaid once and proposal cleared on last claim", func(t *testing.T) {
		h := newHarness(t)
		f := newRefundFixture(t, testChainId, 0, 1, 2)
		h.propose(t, f)
		h.passLiveness()

		events := make(chan types.Event, 16)
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		h.engine.Subscribe(subCtx, events)

		for i, leaf := range f.leaves {
			require.NoError(t, h.engine.Claim(ctx, testCaller, leaf, f.proof(t, leaf)))
			if i < len(f.leaves)-1 {
				assert.True(t, h.engine.Proposal().ProposerBondRepaid)
			}
		}

		assert.Equal(t, 1, h.bonds.returns)
		assert.Equal(t, int64(10_000), h.bonds.BalanceOf(testProposer).Int64())
		assert.True(t, h.engine.Proposal().IsEmpty())
		assert.Equal(t, types.ProposalStateEmpty, h.engine.State())
		assert.Len(t, h.dispatcher.Dispatched(), 3)

		var claims []*types.ClaimEvent
		var cleared *types.ProposalClearedEvent
		for len(claims) < 3 || cleared == nil {
			select {
			case ev := <-events:
				switch e := ev.(type) {
				case *types.ClaimEvent:
					claims = append(claims, e)
				case *types.ProposalClearedEvent:
					cleared = e
				}
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for claim events")
			}
		}
		assert.True(t, claims[0].BondRepaid)
		assert.False(t, claims[1].BondRepaid)
		assert.Equal(t, uint32(0), claims[2].UnclaimedLeafCount)
		assert.Equal(t, f.root(), cleared.Root)
	})

	t.Run("more valid leaves than declared", func(t *testing.T) {
		h := newHarness(t)
		f := newRefundFixture(t, testChainId, 0, 1, 2)
		require.NoError(t, h.engine.Propose(ctx, testProposer, 2, f.root(), nil))
		h.passLiveness()

		require.NoError(t, h.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[0])))
		require.NoError(t, h.engine.Claim(ctx, testCaller, f.leaves[1], f.proof(t, f.leaves[1])))

		// The proposal cleared after its declared count; the third leaf has nothing to claim against
		err := h.engine.Claim(ctx, testCaller, f.leaves[2], f.proof(t, f.leaves[2]))
		require.ErrorIs(t, err, ErrBadProof)
	})
}

func TestClaimAtomicity(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatch failure keeps the leaf claimable", func(t *testing.T) {
		h := newHarness(t)
		f := newRefundFixture(t, testChainId, 0, 1)
		h.propose(t, f)
		h.passLiveness()

		h.dispatcher.err = errors.New("bridge down")
		err := h.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[0]))
		require.Error(t, err)

		p := h.engine.Proposal()
		assert.False(t, p.IsLeafClaimed(0))
		assert.Equal(t, uint32(2), p.UnclaimedLeafCount)
		// The bond went out before the dispatch failed and is never paid twice
		assert.True(t, p.ProposerBondRepaid)

		persisted, err := h.store.LoadProposal()
		require.NoError(t, err)
		assert.False(t, persisted.IsLeafClaimed(0))

		h.dispatcher.err = nil
		require.NoError(t, h.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[0])))
		assert.Equal(t, 1, h.bonds.returns)
	})

	t.Run("bond return failure aborts the claim", func(t *testing.T) {
		h := newHarness(t)
		f := newRefundFixture(t, testChainId, 0, 1)
		h.propose(t, f)
		h.passLiveness()

		h.bonds.failReturn = bonding.ErrInsufficientEscrow
		err := h.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[0]))
		require.ErrorIs(t, err, bonding.ErrInsufficientEscrow)

		p := h.engine.Proposal()
		assert.False(t, p.IsLeafClaimed(0))
		assert.False(t, p.ProposerBondRepaid)
		assert.Empty(t, h.dispatcher.Dispatched())
	})

	t.Run("persistence failure aborts before payout", func(t *testing.T) {
		h := newHarness(t)
		f := newRefundFixture(t, testChainId, 0, 1)
		h.propose(t, f)
		h.passLiveness()

		h.store.err = errors.New("disk full")
		err := h.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[0]))
		require.Error(t, err)
		assert.False(t, h.engine.IsClaimed(0))
		assert.Empty(t, h.dispatcher.Dispatched())
		assert.Equal(t, 0, h.bonds.returns)
	})
}

func TestDispute(t *testing.T) {
	ctx := context.Background()

	t.Run("forfeits both bonds and clears the proposal", func(t *testing.T) {
		h := newHarness(t)
		f := newRefundFixture(t, testChainId, 0, 1)
		h.propose(t, f)

		requestId, err := h.engine.Dispute(ctx, testDisputer)
		require.NoError(t, err)
		require.NotEmpty(t, requestId)

		assert.True(t, h.engine.Proposal().IsEmpty())
		assert.Equal(t, types.ProposalStateEmpty, h.engine.State())
		assert.Equal(t, int64(2_000), h.bonds.BalanceOf(testPool).Int64())
		assert.Equal(t, int64(9_000), h.bonds.BalanceOf(testDisputer).Int64())
		assert.Zero(t, h.bonds.Escrowed().Sign())

		req := h.adjudicator.Request(requestId)
		require.NotNil(t, req)
		assert.Equal(t, f.root(), req.Proposal.Root)
		assert.Equal(t, testChainId, req.ChainId)

		record := h.engine.DisputeRecord(requestId)
		require.NotNil(t, record)
		assert.Equal(t, types.DisputeOutcomePending, record.Outcome)
		assert.Equal(t, testProposer, record.Proposal.Proposer)

		// The disputed root can no longer be claimed
		h.passLiveness()
		err = h.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[0]))
		require.ErrorIs(t, err, ErrBadProof)

		// and a new root can be proposed right away
		require.NoError(t, h.engine.Propose(ctx, testProposer, 1, common.HexToHash("0x02"), nil))
	})

	t.Run("no live proposal", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.Dispute(ctx, testDisputer)
		require.ErrorIs(t, err, ErrLivenessExpired)
	})

	t.Run("disputer without funds", func(t *testing.T) {
		h := newHarness(t)
		h.propose(t, newRefundFixture(t, testChainId, 0))

		_, err := h.engine.Dispute(ctx, common.HexToAddress("0xdead"))
		require.ErrorIs(t, err, bonding.ErrInsufficientBalance)
		assert.False(t, h.engine.Proposal().IsEmpty())
		assert.Empty(t, h.adjudicator.Pending())
	})

	t.Run("forfeit failure returns the disputer bond", func(t *testing.T) {
		h := newHarness(t)
		h.propose(t, newRefundFixture(t, testChainId, 0))
		h.bonds.failForfeit = errors.New("pool closed")

		_, err := h.engine.Dispute(ctx, testDisputer)
		require.Error(t, err)
		assert.False(t, h.engine.Proposal().IsEmpty())
		assert.Equal(t, int64(10_000), h.bonds.BalanceOf(testDisputer).Int64())
		assert.Empty(t, h.engine.Disputes())
		assert.Empty(t, h.adjudicator.Pending(), "request for an unrecorded dispute is withdrawn")
	})
}

func TestResolveDispute(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.propose(t, newRefundFixture(t, testChainId, 0))

	requestId, err := h.engine.Dispute(ctx, testDisputer)
	require.NoError(t, err)

	tests := []struct {
		name      string
		requestId string
		outcome   types.DisputeOutcome
		wantErr   error
	}{
		{"pending is not an outcome", requestId, types.DisputeOutcomePending, ErrInvalidOutcome},
		{"unknown request", "missing", types.DisputeOutcomeUpheld, ErrUnknownDispute},
		{"first resolution", requestId, types.DisputeOutcomeUpheld, nil},
		{"second resolution", requestId, types.DisputeOutcomeRejected, ErrDisputeAlreadyResolved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.engine.ResolveDispute(ctx, tt.requestId, tt.outcome)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}

	record := h.engine.DisputeRecord(requestId)
	assert.Equal(t, types.DisputeOutcomeUpheld, record.Outcome)
	assert.Equal(t, testStart, record.ResolvedAt)
	assert.True(t, h.engine.Proposal().IsEmpty(), "resolution never restores the proposal")
}

func TestResolveThroughAdjudicator(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.propose(t, newRefundFixture(t, testChainId, 0))

	requestId, err := h.engine.Dispute(ctx, testDisputer)
	require.NoError(t, err)
	require.Equal(t, []string{requestId}, h.adjudicator.Pending())

	require.NoError(t, h.adjudicator.Resolve(ctx, requestId, types.DisputeOutcomeRejected))
	assert.Empty(t, h.adjudicator.Pending())
	assert.Equal(t, types.DisputeOutcomeRejected, h.engine.DisputeRecord(requestId).Outcome)
}

func TestBitmapVariants(t *testing.T) {
	ctx := context.Background()

	t.Run("single word", func(t *testing.T) {
		h := newHarness(t, withSingleWordBitmap())
		f := newRefundFixture(t, testChainId, 255, 256)
		h.propose(t, f)
		h.passLiveness()

		assert.True(t, h.engine.Proposal().ClaimedBitmap.Bounded())
		require.NoError(t, h.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[0])))
		assert.True(t, h.engine.IsClaimed(255))

		err := h.engine.Claim(ctx, testCaller, f.leaves[1], f.proof(t, f.leaves[1]))
		require.ErrorIs(t, err, bitmap.ErrIndexOutOfRange)
		assert.Len(t, h.dispatcher.Dispatched(), 1)
	})

	t.Run("word indexed", func(t *testing.T) {
		h := newHarness(t)
		f := newRefundFixture(t, testChainId, 1499, 1500, 1501, 1502)
		h.propose(t, f)
		h.passLiveness()

		for _, leaf := range f.leaves[:3] {
			require.NoError(t, h.engine.Claim(ctx, testCaller, leaf, f.proof(t, leaf)))
		}
		for _, id := range []uint32{1499, 1500, 1501} {
			assert.True(t, h.engine.IsClaimed(id))
		}
		assert.False(t, h.engine.IsClaimed(1502))

		word := h.engine.Proposal().ClaimedBitmap.Words()[5]
		require.NotNil(t, word)
		for _, bit := range []uint{219, 220, 221} {
			assert.Equal(t, uint64(1), new(big.Int).Rsh(word.ToBig(), bit).Uint64()&1, "bit %d", bit)
		}
	})
}

func TestSlowRelayClaims(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	leaves := make([]*types.SlowRelayLeaf, 2)
	for i := range leaves {
		leaves[i] = &types.SlowRelayLeaf{
			RelayData: types.RelayData{
				Depositor:     common.HexToHash("0xd1"),
				Recipient:     common.HexToHash("0xd2"),
				InputToken:    common.HexToHash("0xd3"),
				OutputToken:   common.HexToHash("0xd4"),
				InputAmount:   big.NewInt(1_000),
				OutputAmount:  big.NewInt(990),
				OriginChainId: 1,
				DepositId:     big.NewInt(int64(i)),
				FillDeadline:  uint32(testStart) + 100_000,
			},
			ChainId:             testChainId,
			UpdatedOutputAmount: big.NewInt(990),
		}
	}
	tree, err := merkle.BuildMerkleTree(leaves, types.HashSlowRelayLeaf)
	require.NoError(t, err)

	require.NoError(t, h.engine.Propose(ctx, testProposer, 2, tree.RootHash(), nil))
	h.passLiveness()

	proof, err := tree.GenerateProof(leaves[0])
	require.NoError(t, err)
	require.NoError(t, h.engine.Claim(ctx, testCaller, leaves[0], merkle.ToHashes(proof.Proof)))

	relayHash, err := leaves[0].RelayHash()
	require.NoError(t, err)
	assert.True(t, h.engine.IsRelayClaimed(relayHash))

	err = h.engine.Claim(ctx, testCaller, leaves[0], merkle.ToHashes(proof.Proof))
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	dispatched := h.dispatcher.Dispatched()
	require.Len(t, dispatched, 1)
	assert.Equal(t, types.LeafKindSlowRelay, dispatched[0].Kind)
}

func TestRestoreFromPersistence(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryPersistence()

	h1 := newHarnessWithStore(t, store)
	f := newRefundFixture(t, testChainId, 0, 1, 2)
	h1.propose(t, f)
	h1.passLiveness()
	require.NoError(t, h1.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[0])))

	h2 := newHarnessWithStore(t, store)
	h2.clock.Set(h1.clock.Now())

	p := h2.engine.Proposal()
	assert.Equal(t, f.root(), p.Root)
	assert.Equal(t, uint32(2), p.UnclaimedLeafCount)
	assert.True(t, p.ProposerBondRepaid)
	assert.True(t, h2.engine.IsClaimed(0))

	err := h2.engine.Claim(ctx, testCaller, f.leaves[0], f.proof(t, f.leaves[0]))
	require.ErrorIs(t, err, ErrAlreadyClaimed)
	require.NoError(t, h2.engine.Claim(ctx, testCaller, f.leaves[1], f.proof(t, f.leaves[1])))
}

func TestRestoreDisputes(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryPersistence()

	h1 := newHarnessWithStore(t, store)
	h1.propose(t, newRefundFixture(t, testChainId, 0))
	requestId, err := h1.engine.Dispute(ctx, testDisputer)
	require.NoError(t, err)

	h2 := newHarnessWithStore(t, store)
	require.Len(t, h2.engine.Disputes(), 1)
	require.NoError(t, h2.engine.ResolveDispute(ctx, requestId, types.DisputeOutcomeUpheld))
	assert.True(t, h2.engine.Proposal().IsEmpty())
}

// End to end: 101 refund leaves, one claimed per id after liveness.
func TestRefundBatchSettlement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ids := make([]uint32, 101)
	for i := range ids {
		ids[i] = uint32(i)
	}
	f := newRefundFixture(t, testChainId, ids...)
	h.propose(t, f)
	h.passLiveness()

	for i, leaf := range f.leaves {
		require.NoError(t, h.engine.Claim(ctx, testCaller, leaf, f.proof(t, leaf)), fmt.Sprintf("leaf %d", i))
	}
	assert.True(t, h.engine.Proposal().IsEmpty())
	assert.Len(t, h.dispatcher.Dispatched(), 101)
	assert.Equal(t, 1, h.bonds.returns)
}

var _ dispatcher.IPayloadDispatcher = (*failingDispatcher)(nil)
