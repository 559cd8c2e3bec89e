package persistence

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

// ISettlementPersistence defines the interface for persisting one domain's settlement state
// across restarts. All implementations must be thread-safe.
//
// The interface supports:
// - The live proposal record (save, load)
// - Dispute records handed to the adjudicator (save, load, list)
// - Spoke root bundles and relay fill status
// - Node operational state
// - Lifecycle management (close, health check)
type ISettlementPersistence interface {
	// Proposal

	// SaveProposal persists the domain's proposal record, overwriting the previous one.
	// An empty proposal is stored as well so a restart observes the cleared state.
	SaveProposal(proposal *types.Proposal) error

	// LoadProposal retrieves the proposal record.
	// Returns nil if none was ever saved, error only on storage failure.
	LoadProposal() (*types.Proposal, error)

	// SaveSettledProposal persists the last fully claimed proposal with its claim bits.
	// An empty proposal clears it.
	SaveSettledProposal(proposal *types.Proposal) error

	// LoadSettledProposal retrieves the settled proposal.
	// Returns nil if none was ever saved, error only on storage failure.
	LoadSettledProposal() (*types.Proposal, error)

	// Disputes

	// SaveDispute persists a dispute record keyed by its request id. Overwrites existing records.
	SaveDispute(dispute *types.DisputeRecord) error

	// LoadDispute retrieves a dispute record.
	// Returns nil if it doesn't exist, error only on storage failure.
	LoadDispute(requestId string) (*types.DisputeRecord, error)

	// ListDisputes returns all dispute records sorted by DisputedAt (ascending).
	ListDisputes() ([]*types.DisputeRecord, error)

	// Root bundles

	// SaveRootBundle persists a root bundle keyed by id. Overwrites existing bundles.
	SaveRootBundle(bundle *types.RootBundle) error

	// LoadRootBundle returns nil if the bundle doesn't exist.
	LoadRootBundle(id uint32) (*types.RootBundle, error)

	// ListRootBundles returns all bundles sorted by id (ascending).
	ListRootBundles() ([]*types.RootBundle, error)

	// DeleteRootBundle is idempotent.
	DeleteRootBundle(id uint32) error

	// Relay fills

	// MarkRelayFilled records that a relay has been filled. Idempotent.
	MarkRelayFilled(relayHash common.Hash) error

	// UnmarkRelayFilled reverts MarkRelayFilled when the fill could not be completed. Idempotent.
	UnmarkRelayFilled(relayHash common.Hash) error

	// ListFilledRelays returns every filled relay hash.
	ListFilledRelays() ([]common.Hash, error)

	// Node Operational State

	// SaveNodeState persists operational state. Overwrites any existing state.
	SaveNodeState(state *NodeState) error

	// LoadNodeState retrieves operational state.
	// Returns nil state if none exists (first run), error only on storage failure.
	LoadNodeState() (*NodeState, error)

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations should return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	// Returns nil if healthy, error describing the problem if not.
	HealthCheck() error
}
