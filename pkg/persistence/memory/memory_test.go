package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence/persistencetest"
)

func TestMemoryPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.ISettlementPersistence {
		return NewMemoryPersistence()
	})
}

func TestMemoryPersistence_DeepCopyOnSave(t *testing.T) {
	m := NewMemoryPersistence()
	defer func() { _ = m.Close() }()

	p := persistencetest.NewTestProposal(t, 8)
	require.NoError(t, m.SaveProposal(p))

	// Mutating the caller's copy after saving must not change the stored record
	p.UnclaimedLeafCount = 0
	require.NoError(t, p.ClaimedBitmap.SetClaimed(7))

	loaded, err := m.LoadProposal()
	require.NoError(t, err)
	assert.Equal(t, uint32(6), loaded.UnclaimedLeafCount)
	assert.False(t, loaded.IsLeafClaimed(7))
}
