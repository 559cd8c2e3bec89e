package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

// MarshalProposal serializes a Proposal to JSON bytes.
// The claim bitmap is stored as a word snapshot.
func MarshalProposal(p *types.Proposal) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot marshal nil Proposal")
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Proposal to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalProposal deserializes a Proposal from JSON bytes.
func UnmarshalProposal(data []byte) (*types.Proposal, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var p types.Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to Proposal: %w", err)
	}

	return &p, nil
}

// MarshalDisputeRecord serializes a DisputeRecord to JSON bytes.
func MarshalDisputeRecord(d *types.DisputeRecord) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("cannot marshal nil DisputeRecord")
	}

	return json.Marshal(d)
}

// UnmarshalDisputeRecord deserializes a DisputeRecord from JSON bytes.
func UnmarshalDisputeRecord(data []byte) (*types.DisputeRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var d types.DisputeRecord
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to DisputeRecord: %w", err)
	}

	return &d, nil
}

// MarshalRootBundle serializes a RootBundle to JSON bytes.
func MarshalRootBundle(b *types.RootBundle) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("cannot marshal nil RootBundle")
	}

	return json.Marshal(b)
}

// UnmarshalRootBundle deserializes a RootBundle from JSON bytes.
func UnmarshalRootBundle(data []byte) (*types.RootBundle, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var b types.RootBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to RootBundle: %w", err)
	}

	return &b, nil
}

// MarshalNodeState serializes NodeState to JSON bytes.
func MarshalNodeState(ns *NodeState) ([]byte, error) {
	if ns == nil {
		return nil, fmt.Errorf("cannot marshal nil NodeState")
	}

	return json.Marshal(ns)
}

// UnmarshalNodeState deserializes NodeState from JSON bytes.
func UnmarshalNodeState(data []byte) (*NodeState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var ns NodeState
	if err := json.Unmarshal(data, &ns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to NodeState: %w", err)
	}

	return &ns, nil
}
