package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ProposeRequest publishes a new root for the node's domain
type ProposeRequest struct {
	Proposer      common.Address `json:"proposer"`
	LeafCount     uint32         `json:"leafCount"`
	Root          common.Hash    `json:"root"`
	MetadataRoots []common.Hash  `json:"metadataRoots,omitempty"`
}

// DisputeProposalRequest disputes the live proposal
type DisputeProposalRequest struct {
	Disputer common.Address `json:"disputer"`
}

// DisputeProposalResponse carries the adjudication request id of a new dispute
type DisputeProposalResponse struct {
	RequestId string `json:"requestId"`
}

// ResolveDisputeRequest delivers an adjudication outcome
type ResolveDisputeRequest struct {
	RequestId string `json:"requestId"`
	Outcome   string `json:"outcome"`
}

// ClaimRequest redeems one leaf of the live proposal
type ClaimRequest struct {
	Caller common.Address `json:"caller"`
	Leaf   *LeafEnvelope  `json:"leaf"`
	Proof  []common.Hash  `json:"proof"`
}

// ClaimStatusResponse reports whether a leaf id has been claimed
type ClaimStatusResponse struct {
	LeafId  uint32 `json:"leafId"`
	Claimed bool   `json:"claimed"`
}

// ProposalResponse is the live proposal of a domain and its derived state
type ProposalResponse struct {
	ChainId  uint64    `json:"chainId"`
	State    string    `json:"state"`
	Proposal *Proposal `json:"proposal"`
}

// VerifyRequest checks a leaf against a root without touching any state
type VerifyRequest struct {
	Root  common.Hash   `json:"root"`
	Leaf  *LeafEnvelope `json:"leaf"`
	Proof []common.Hash `json:"proof"`
}

type VerifyResponse struct {
	Valid    bool        `json:"valid"`
	LeafHash common.Hash `json:"leafHash"`
}

// RelayRootBundleRequest hands a spoke the roots of a claimable hub proposal
type RelayRootBundleRequest struct {
	RefundRoot    common.Hash `json:"refundRoot"`
	SlowRelayRoot common.Hash `json:"slowRelayRoot"`
}

type RelayRootBundleResponse struct {
	BundleId uint32 `json:"bundleId"`
}

// ExecuteLeafRequest executes one leaf of a relayed root bundle
type ExecuteLeafRequest struct {
	Leaf  *LeafEnvelope `json:"leaf"`
	Proof []common.Hash `json:"proof"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	ChainId uint64 `json:"chainId"`
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error string `json:"error"`
}

// DepositRequest credits an account of a development bond manager
type DepositRequest struct {
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

type BalanceResponse struct {
	Account common.Address `json:"account"`
	Balance *big.Int       `json:"balance"`
}

// RelayStatusResponse is the fill status of a relay on a spoke
type RelayStatusResponse struct {
	RelayHash common.Hash `json:"relayHash"`
	Status    string      `json:"status"`
}
