package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence/persistencetest"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

func TestBadgerPersistence(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	persistencetest.Run(t, func(t *testing.T) persistence.ISettlementPersistence {
		bp, err := NewBadgerPersistence(t.TempDir(), testLogger)
		require.NoError(t, err)
		return bp
	})
}

func TestBadgerPersistence_Persistence_AcrossRestarts(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	// First session: write state
	bp1, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)

	proposal := persistencetest.NewTestProposal(t, 12)
	require.NoError(t, bp1.SaveProposal(proposal))
	require.NoError(t, bp1.SaveDispute(&types.DisputeRecord{
		RequestId: "req-1",
		Proposal:  proposal,
		Outcome:   types.DisputeOutcomePending,
	}))
	require.NoError(t, bp1.SaveNodeState(&persistence.NodeState{ChainId: 10, NextRootBundleId: 4}))
	require.NoError(t, bp1.Close())

	// Second session: read it back
	bp2, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp2.Close() }()

	loaded, err := bp2.LoadProposal()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, proposal.Root, loaded.Root)
	assert.Equal(t, proposal.UnclaimedLeafCount, loaded.UnclaimedLeafCount)
	assert.True(t, loaded.IsLeafClaimed(300))

	dispute, err := bp2.LoadDispute("req-1")
	require.NoError(t, err)
	require.NotNil(t, dispute)
	assert.Equal(t, types.DisputeOutcomePending, dispute.Outcome)

	state, err := bp2.LoadNodeState()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), state.NextRootBundleId)
}

func TestBadgerPersistence_RootBundleKeyOrdering(t *testing.T) {
	assert.Less(t, rootBundleKey(9), rootBundleKey(10))
	assert.Less(t, rootBundleKey(99), rootBundleKey(1000))
}
