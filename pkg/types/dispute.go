package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// DisputeOutcome is the adjudication result of a disputed proposal.
type DisputeOutcome string

const (
	DisputeOutcomePending  DisputeOutcome = "pending"
	DisputeOutcomeUpheld   DisputeOutcome = "upheld"
	DisputeOutcomeRejected DisputeOutcome = "rejected"
)

// ParseDisputeOutcome accepts only final outcomes.
func ParseDisputeOutcome(s string) (DisputeOutcome, error) {
	switch DisputeOutcome(strings.ToLower(s)) {
	case DisputeOutcomeUpheld:
		return DisputeOutcomeUpheld, nil
	case DisputeOutcomeRejected:
		return DisputeOutcomeRejected, nil
	default:
		return "", fmt.Errorf("unsupported dispute outcome: %s", s)
	}
}

// IsFinal reports whether the outcome is upheld or rejected.
func (o DisputeOutcome) IsFinal() bool {
	return o == DisputeOutcomeUpheld || o == DisputeOutcomeRejected
}

// DisputeRequest is handed to the adjudicator when a proposal is disputed. Proposal is the exact
// record that was live at the time of the dispute.
type DisputeRequest struct {
	ChainId      uint64         `json:"chainId"`
	Disputer     common.Address `json:"disputer"`
	DisputedAt   uint64         `json:"disputedAt"`
	Proposal     *Proposal      `json:"proposal"`
	ProposerBond *big.Int       `json:"proposerBond"`
	DisputerBond *big.Int       `json:"disputerBond"`
}

// DisputeRecord tracks a dispute from hand-off to resolution.
type DisputeRecord struct {
	RequestId  string         `json:"requestId"`
	ChainId    uint64         `json:"chainId"`
	Disputer   common.Address `json:"disputer"`
	DisputedAt uint64         `json:"disputedAt"`
	Proposal   *Proposal      `json:"proposal"`
	Outcome    DisputeOutcome `json:"outcome"`
	ResolvedAt uint64         `json:"resolvedAt,omitempty"`
}

func (d *DisputeRecord) Clone() *DisputeRecord {
	if d == nil {
		return nil
	}
	c := *d
	c.Proposal = d.Proposal.Clone()
	return &c
}
