package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

// MemoryPersistence is an in-memory implementation of ISettlementPersistence.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	proposal     *types.Proposal
	settled      *types.Proposal
	disputes     map[string]*types.DisputeRecord
	bundles      map[uint32]*types.RootBundle
	filledRelays map[common.Hash]struct{}
	nodeState    *persistence.NodeState

	closed bool
}

var _ persistence.ISettlementPersistence = (*MemoryPersistence)(nil)

// NewMemoryPersistence creates a new in-memory persistence layer.
// Prints a loud warning since this should only be used for testing.
func NewMemoryPersistence() *MemoryPersistence {
	fmt.Println("⚠️  WARNING: Using in-memory persistence - ALL DATA WILL BE LOST ON RESTART")
	fmt.Println("⚠️  This should ONLY be used for testing. Set SETTLEMENT_PERSISTENCE_TYPE=badger for production")

	return &MemoryPersistence{
		disputes:     make(map[string]*types.DisputeRecord),
		bundles:      make(map[uint32]*types.RootBundle),
		filledRelays: make(map[common.Hash]struct{}),
	}
}

func (m *MemoryPersistence) checkOpen() error {
	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	return nil
}

// SaveProposal persists the proposal record.
func (m *MemoryPersistence) SaveProposal(proposal *types.Proposal) error {
	if proposal == nil {
		return fmt.Errorf("cannot save nil Proposal")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}

	m.proposal = proposal.Clone()
	return nil
}

// LoadProposal retrieves the proposal record.
func (m *MemoryPersistence) LoadProposal() (*types.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	return m.proposal.Clone(), nil
}

// SaveSettledProposal persists the settled proposal record.
func (m *MemoryPersistence) SaveSettledProposal(proposal *types.Proposal) error {
	if proposal == nil {
		return fmt.Errorf("cannot save nil settled Proposal")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}

	m.settled = proposal.Clone()
	return nil
}

// LoadSettledProposal retrieves the settled proposal record.
func (m *MemoryPersistence) LoadSettledProposal() (*types.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	return m.settled.Clone(), nil
}

// SaveDispute persists a dispute record.
func (m *MemoryPersistence) SaveDispute(dispute *types.DisputeRecord) error {
	if dispute == nil {
		return fmt.Errorf("cannot save nil DisputeRecord")
	}
	if dispute.RequestId == "" {
		return fmt.Errorf("cannot save DisputeRecord without request id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}

	m.disputes[dispute.RequestId] = dispute.Clone()
	return nil
}

// LoadDispute retrieves a dispute record.
func (m *MemoryPersistence) LoadDispute(requestId string) (*types.DisputeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	dispute, exists := m.disputes[requestId]
	if !exists {
		return nil, nil // Not found is not an error
	}
	return dispute.Clone(), nil
}

// ListDisputes returns all dispute records sorted by dispute time.
func (m *MemoryPersistence) ListDisputes() ([]*types.DisputeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	result := make([]*types.DisputeRecord, 0, len(m.disputes))
	for _, d := range m.disputes {
		result = append(result, d.Clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].DisputedAt != result[j].DisputedAt {
			return result[i].DisputedAt < result[j].DisputedAt
		}
		return result[i].RequestId < result[j].RequestId
	})

	return result, nil
}

// SaveRootBundle persists a root bundle.
func (m *MemoryPersistence) SaveRootBundle(bundle *types.RootBundle) error {
	if bundle == nil {
		return fmt.Errorf("cannot save nil RootBundle")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}

	m.bundles[bundle.Id] = bundle.Clone()
	return nil
}

// LoadRootBundle retrieves a root bundle.
func (m *MemoryPersistence) LoadRootBundle(id uint32) (*types.RootBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	bundle, exists := m.bundles[id]
	if !exists {
		return nil, nil
	}
	return bundle.Clone(), nil
}

// ListRootBundles returns all root bundles sorted by id.
func (m *MemoryPersistence) ListRootBundles() ([]*types.RootBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	ids := make([]uint32, 0, len(m.bundles))
	for id := range m.bundles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := make([]*types.RootBundle, 0, len(ids))
	for _, id := range ids {
		result = append(result, m.bundles[id].Clone())
	}
	return result, nil
}

// DeleteRootBundle removes a root bundle.
func (m *MemoryPersistence) DeleteRootBundle(id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}

	delete(m.bundles, id)
	return nil
}

// MarkRelayFilled records a filled relay.
func (m *MemoryPersistence) MarkRelayFilled(relayHash common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}

	m.filledRelays[relayHash] = struct{}{}
	return nil
}

// UnmarkRelayFilled forgets a filled relay.
func (m *MemoryPersistence) UnmarkRelayFilled(relayHash common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}

	delete(m.filledRelays, relayHash)
	return nil
}

// ListFilledRelays returns every filled relay hash.
func (m *MemoryPersistence) ListFilledRelays() ([]common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	result := make([]common.Hash, 0, len(m.filledRelays))
	for h := range m.filledRelays {
		result = append(result, h)
	}
	return result, nil
}

// SaveNodeState persists node operational state.
func (m *MemoryPersistence) SaveNodeState(state *persistence.NodeState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil NodeState")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}

	copied := *state
	m.nodeState = &copied
	return nil
}

// LoadNodeState retrieves node operational state.
func (m *MemoryPersistence) LoadNodeState() (*persistence.NodeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	// Return nil if no state has been saved yet (first run)
	if m.nodeState == nil {
		return nil, nil
	}

	copied := *m.nodeState
	return &copied, nil
}

// Close shuts down the persistence layer.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.checkOpen()
}
