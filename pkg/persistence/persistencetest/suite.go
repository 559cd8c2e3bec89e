// Package persistencetest holds the behavioral test suite every ISettlementPersistence
// implementation must pass.
package persistencetest

import (
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bitmap"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) persistence.ISettlementPersistence

// Run exercises every method of the persistence interface against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Proposal", func(t *testing.T) { testProposal(t, newStore(t)) })
	t.Run("SettledProposal", func(t *testing.T) { testSettledProposal(t, newStore(t)) })
	t.Run("Disputes", func(t *testing.T) { testDisputes(t, newStore(t)) })
	t.Run("RootBundles", func(t *testing.T) { testRootBundles(t, newStore(t)) })
	t.Run("FilledRelays", func(t *testing.T) { testFilledRelays(t, newStore(t)) })
	t.Run("NodeState", func(t *testing.T) { testNodeState(t, newStore(t)) })
	t.Run("Close", func(t *testing.T) { testClose(t, newStore(t)) })
	t.Run("ThreadSafety", func(t *testing.T) { testThreadSafety(t, newStore(t)) })
}

// NewTestProposal returns a partially claimed proposal.
func NewTestProposal(t *testing.T, leafCount uint32) *types.Proposal {
	t.Helper()
	claimed := bitmap.NewBitmap2D()
	require.NoError(t, claimed.SetClaimed(0))
	require.NoError(t, claimed.SetClaimed(300))

	return &types.Proposal{
		Proposer:                   common.HexToAddress("0x1234"),
		BondAmount:                 big.NewInt(1_000),
		Root:                       common.HexToHash(fmt.Sprintf("0x%x", leafCount)),
		MetadataRoots:              []common.Hash{common.HexToHash("0xaa")},
		LeafCount:                  leafCount,
		UnclaimedLeafCount:         leafCount - 2,
		ClaimedBitmap:              claimed,
		RequestExpirationTimestamp: 500,
		ProposerBondRepaid:         true,
	}
}

func testProposal(t *testing.T, store persistence.ISettlementPersistence) {
	defer func() { _ = store.Close() }()

	loaded, err := store.LoadProposal()
	require.NoError(t, err)
	assert.Nil(t, loaded, "first run has no proposal")

	require.Error(t, store.SaveProposal(nil))

	p := NewTestProposal(t, 10)
	require.NoError(t, store.SaveProposal(p))

	loaded, err = store.LoadProposal()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, p.Root, loaded.Root)
	assert.Equal(t, p.UnclaimedLeafCount, loaded.UnclaimedLeafCount)
	assert.True(t, loaded.IsLeafClaimed(300))
	assert.False(t, loaded.IsLeafClaimed(301))

	// Mutating the loaded copy must not leak into the store
	require.NoError(t, loaded.ClaimedBitmap.SetClaimed(301))
	reloaded, err := store.LoadProposal()
	require.NoError(t, err)
	assert.False(t, reloaded.IsLeafClaimed(301))

	// Cleared proposals are stored too
	require.NoError(t, store.SaveProposal(&types.Proposal{}))
	loaded, err = store.LoadProposal()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.IsEmpty())
}

func testSettledProposal(t *testing.T, store persistence.ISettlementPersistence) {
	defer func() { _ = store.Close() }()

	loaded, err := store.LoadSettledProposal()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	require.Error(t, store.SaveSettledProposal(nil))

	live := NewTestProposal(t, 10)
	settled := NewTestProposal(t, 2)
	require.NoError(t, store.SaveProposal(live))
	require.NoError(t, store.SaveSettledProposal(settled))

	loaded, err = store.LoadSettledProposal()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, settled.Root, loaded.Root)
	assert.Equal(t, uint32(0), loaded.UnclaimedLeafCount)
	assert.True(t, loaded.IsLeafClaimed(0))
	assert.True(t, loaded.IsLeafClaimed(300))

	// The settled record is independent of the live one
	current, err := store.LoadProposal()
	require.NoError(t, err)
	assert.Equal(t, live.Root, current.Root)

	require.NoError(t, store.SaveSettledProposal(&types.Proposal{}))
	loaded, err = store.LoadSettledProposal()
	require.NoError(t, err)
	assert.True(t, loaded.IsEmpty())
}

func testDisputes(t *testing.T, store persistence.ISettlementPersistence) {
	defer func() { _ = store.Close() }()

	require.Error(t, store.SaveDispute(nil))
	require.Error(t, store.SaveDispute(&types.DisputeRecord{}))

	missing, err := store.LoadDispute("missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := store.ListDisputes()
	require.NoError(t, err)
	assert.Empty(t, list)

	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.SaveDispute(&types.DisputeRecord{
			RequestId:  id,
			ChainId:    1,
			DisputedAt: uint64(300 - i*100),
			Proposal:   NewTestProposal(t, 4),
			Outcome:    types.DisputeOutcomePending,
		}))
	}

	list, err = store.ListDisputes()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "b", list[0].RequestId)
	assert.Equal(t, "a", list[1].RequestId)
	assert.Equal(t, "c", list[2].RequestId)

	loaded, err := store.LoadDispute("a")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	loaded.Outcome = types.DisputeOutcomeUpheld
	loaded.ResolvedAt = 999
	require.NoError(t, store.SaveDispute(loaded))

	reloaded, err := store.LoadDispute("a")
	require.NoError(t, err)
	assert.Equal(t, types.DisputeOutcomeUpheld, reloaded.Outcome)
	assert.Equal(t, uint64(999), reloaded.ResolvedAt)
	require.NotNil(t, reloaded.Proposal)
	assert.True(t, reloaded.Proposal.IsLeafClaimed(300))
}

func testRootBundles(t *testing.T, store persistence.ISettlementPersistence) {
	defer func() { _ = store.Close() }()

	require.Error(t, store.SaveRootBundle(nil))

	for _, id := range []uint32{2, 0, 11} {
		claimed := bitmap.NewBitmap2D()
		require.NoError(t, claimed.SetClaimed(id*100))
		require.NoError(t, store.SaveRootBundle(&types.RootBundle{
			Id:            id,
			RefundRoot:    common.HexToHash(fmt.Sprintf("0x%x", id+1)),
			ClaimedBitmap: claimed,
		}))
	}

	bundles, err := store.ListRootBundles()
	require.NoError(t, err)
	require.Len(t, bundles, 3)
	assert.Equal(t, []uint32{0, 2, 11}, []uint32{bundles[0].Id, bundles[1].Id, bundles[2].Id})
	assert.True(t, bundles[2].ClaimedBitmap.IsClaimed(1100))

	loaded, err := store.LoadRootBundle(2)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, common.HexToHash("0x3"), loaded.RefundRoot)

	require.NoError(t, store.DeleteRootBundle(2))
	require.NoError(t, store.DeleteRootBundle(2), "delete is idempotent")

	loaded, err = store.LoadRootBundle(2)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	bundles, err = store.ListRootBundles()
	require.NoError(t, err)
	assert.Len(t, bundles, 2)
}

func testFilledRelays(t *testing.T, store persistence.ISettlementPersistence) {
	defer func() { _ = store.Close() }()

	relays, err := store.ListFilledRelays()
	require.NoError(t, err)
	assert.Empty(t, relays)

	a := common.HexToHash("0x0a")
	b := common.HexToHash("0x0b")
	require.NoError(t, store.MarkRelayFilled(a))
	require.NoError(t, store.MarkRelayFilled(b))
	require.NoError(t, store.MarkRelayFilled(a))

	relays, err = store.ListFilledRelays()
	require.NoError(t, err)
	assert.ElementsMatch(t, []common.Hash{a, b}, relays)

	require.NoError(t, store.UnmarkRelayFilled(a))
	require.NoError(t, store.UnmarkRelayFilled(a))

	relays, err = store.ListFilledRelays()
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{b}, relays)
}

func testNodeState(t *testing.T, store persistence.ISettlementPersistence) {
	defer func() { _ = store.Close() }()

	state, err := store.LoadNodeState()
	require.NoError(t, err)
	assert.Nil(t, state)

	require.Error(t, store.SaveNodeState(nil))

	original := &persistence.NodeState{ChainId: 10, NodeStartTime: 1234, NextRootBundleId: 3}
	require.NoError(t, store.SaveNodeState(original))

	state, err = store.LoadNodeState()
	require.NoError(t, err)
	assert.Equal(t, original, state)
}

func testClose(t *testing.T, store persistence.ISettlementPersistence) {
	require.NoError(t, store.HealthCheck())

	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "close is idempotent")

	assert.Error(t, store.HealthCheck())
	assert.Error(t, store.SaveProposal(&types.Proposal{}))
	_, err := store.LoadProposal()
	assert.Error(t, err)
	assert.Error(t, store.MarkRelayFilled(common.Hash{}))
}

func testThreadSafety(t *testing.T, store persistence.ISettlementPersistence) {
	defer func() { _ = store.Close() }()

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*3)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.SaveProposal(NewTestProposal(t, uint32(i+2))); err != nil {
				errs <- err
			}
			if err := store.SaveRootBundle(&types.RootBundle{Id: uint32(i), ClaimedBitmap: bitmap.NewBitmap2D()}); err != nil {
				errs <- err
			}
			if _, err := store.LoadProposal(); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	bundles, err := store.ListRootBundles()
	require.NoError(t, err)
	assert.Len(t, bundles, workers)
}
