package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event is emitted by a domain on every committed state transition.
type Event interface {
	EventName() string
}

// ProposeEvent carries everything a would-be disputer needs to rebuild the proposed commitment.
type ProposeEvent struct {
	ChainId                    uint64         `json:"chainId"`
	Proposer                   common.Address `json:"proposer"`
	Root                       common.Hash    `json:"root"`
	MetadataRoots              []common.Hash  `json:"metadataRoots"`
	LeafCount                  uint32         `json:"leafCount"`
	RequestExpirationTimestamp uint64         `json:"requestExpirationTimestamp"`
	BondAmount                 *big.Int       `json:"bondAmount"`
}

type DisputeEvent struct {
	ChainId    uint64         `json:"chainId"`
	Disputer   common.Address `json:"disputer"`
	Proposer   common.Address `json:"proposer"`
	Root       common.Hash    `json:"root"`
	RequestId  string         `json:"requestId"`
	DisputedAt uint64         `json:"disputedAt"`
}

type DisputeResolvedEvent struct {
	ChainId   uint64         `json:"chainId"`
	RequestId string         `json:"requestId"`
	Outcome   DisputeOutcome `json:"outcome"`
}

type ClaimEvent struct {
	ChainId            uint64         `json:"chainId"`
	Caller             common.Address `json:"caller"`
	Root               common.Hash    `json:"root"`
	Kind               LeafKind       `json:"kind"`
	LeafId             uint32         `json:"leafId"`
	RelayHash          common.Hash    `json:"relayHash,omitempty"`
	UnclaimedLeafCount uint32         `json:"unclaimedLeafCount"`
	BondRepaid         bool           `json:"bondRepaid"`
}

// ProposalClearedEvent is emitted once the last leaf of a proposal is claimed.
type ProposalClearedEvent struct {
	ChainId uint64      `json:"chainId"`
	Root    common.Hash `json:"root"`
}

func (*ProposeEvent) EventName() string         { return "propose" }
func (*DisputeEvent) EventName() string         { return "dispute" }
func (*DisputeResolvedEvent) EventName() string { return "dispute-resolved" }
func (*ClaimEvent) EventName() string           { return "claim" }
func (*ProposalClearedEvent) EventName() string { return "proposal-cleared" }
