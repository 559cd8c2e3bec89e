package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bitmap"
)

// ProposalState is the lifecycle position of a domain's proposal record.
type ProposalState uint8

const (
	// ProposalStateEmpty means no proposal is live; a new one may be proposed.
	ProposalStateEmpty ProposalState = iota
	// ProposalStatePending means the liveness window is still open and the proposal can be disputed.
	ProposalStatePending
	// ProposalStateClaimable means the window elapsed and no leaf has been claimed yet.
	ProposalStateClaimable
	// ProposalStatePartiallyClaimed means at least one leaf was claimed and some remain.
	ProposalStatePartiallyClaimed
)

func (s ProposalState) String() string {
	switch s {
	case ProposalStateEmpty:
		return "empty"
	case ProposalStatePending:
		return "pending"
	case ProposalStateClaimable:
		return "claimable"
	case ProposalStatePartiallyClaimed:
		return "partially-claimed"
	default:
		return "unknown"
	}
}

// Proposal is the single live settlement proposal of one domain.
//
// A zero Proposal is the empty state. It is zeroed again when disputed and when its last leaf
// is claimed.
type Proposal struct {
	Proposer      common.Address
	BondAmount    *big.Int
	Root          common.Hash
	MetadataRoots []common.Hash

	LeafCount          uint32
	UnclaimedLeafCount uint32

	// ClaimedBitmap tracks indexed leaves by leaf id.
	ClaimedBitmap bitmap.ClaimBitmap
	// ClaimedRelayHashes tracks slow relay leaves, which carry no leaf id.
	ClaimedRelayHashes map[common.Hash]bool

	RequestExpirationTimestamp uint64
	ProposerBondRepaid         bool
}

// IsEmpty reports whether no proposal is live.
func (p *Proposal) IsEmpty() bool {
	return p == nil || (p.LeafCount == 0 && p.UnclaimedLeafCount == 0 && p.RequestExpirationTimestamp == 0)
}

// StateAt derives the lifecycle state at time now.
func (p *Proposal) StateAt(now uint64) ProposalState {
	if p.IsEmpty() || p.UnclaimedLeafCount == 0 {
		return ProposalStateEmpty
	}
	if now <= p.RequestExpirationTimestamp {
		return ProposalStatePending
	}
	if p.UnclaimedLeafCount == p.LeafCount {
		return ProposalStateClaimable
	}
	return ProposalStatePartiallyClaimed
}

// IsLeafClaimed reports whether an indexed leaf id has been claimed against this proposal.
func (p *Proposal) IsLeafClaimed(leafId uint32) bool {
	if p == nil || p.ClaimedBitmap == nil {
		return false
	}
	return p.ClaimedBitmap.IsClaimed(leafId)
}

// IsRelayClaimed reports whether the slow relay with the given relay hash has been claimed.
func (p *Proposal) IsRelayClaimed(relayHash common.Hash) bool {
	if p == nil {
		return false
	}
	return p.ClaimedRelayHashes[relayHash]
}

// Clone returns a deep copy.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	c := *p
	if p.BondAmount != nil {
		c.BondAmount = new(big.Int).Set(p.BondAmount)
	}
	if p.MetadataRoots != nil {
		c.MetadataRoots = append([]common.Hash(nil), p.MetadataRoots...)
	}
	if p.ClaimedBitmap != nil {
		c.ClaimedBitmap = p.ClaimedBitmap.Clone()
	}
	if p.ClaimedRelayHashes != nil {
		c.ClaimedRelayHashes = make(map[common.Hash]bool, len(p.ClaimedRelayHashes))
		for h, v := range p.ClaimedRelayHashes {
			c.ClaimedRelayHashes[h] = v
		}
	}
	return &c
}

type proposalJSON struct {
	Proposer                   common.Address   `json:"proposer"`
	BondAmount                 *big.Int         `json:"bondAmount"`
	Root                       common.Hash      `json:"root"`
	MetadataRoots              []common.Hash    `json:"metadataRoots"`
	LeafCount                  uint32           `json:"leafCount"`
	UnclaimedLeafCount         uint32           `json:"unclaimedLeafCount"`
	ClaimedBitmap              *bitmap.Snapshot `json:"claimedBitmap,omitempty"`
	ClaimedRelayHashes         []common.Hash    `json:"claimedRelayHashes,omitempty"`
	RequestExpirationTimestamp uint64           `json:"requestExpirationTimestamp"`
	ProposerBondRepaid         bool             `json:"proposerBondRepaid"`
}

func (p Proposal) MarshalJSON() ([]byte, error) {
	out := proposalJSON{
		Proposer:                   p.Proposer,
		BondAmount:                 p.BondAmount,
		Root:                       p.Root,
		MetadataRoots:              p.MetadataRoots,
		LeafCount:                  p.LeafCount,
		UnclaimedLeafCount:         p.UnclaimedLeafCount,
		RequestExpirationTimestamp: p.RequestExpirationTimestamp,
		ProposerBondRepaid:         p.ProposerBondRepaid,
	}
	if p.ClaimedBitmap != nil {
		out.ClaimedBitmap = bitmap.TakeSnapshot(p.ClaimedBitmap)
	}
	for h, claimed := range p.ClaimedRelayHashes {
		if claimed {
			out.ClaimedRelayHashes = append(out.ClaimedRelayHashes, h)
		}
	}
	sort.Slice(out.ClaimedRelayHashes, func(i, j int) bool {
		return bytes.Compare(out.ClaimedRelayHashes[i][:], out.ClaimedRelayHashes[j][:]) < 0
	})
	return json.Marshal(out)
}

func (p *Proposal) UnmarshalJSON(data []byte) error {
	var in proposalJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*p = Proposal{
		Proposer:                   in.Proposer,
		BondAmount:                 in.BondAmount,
		Root:                       in.Root,
		MetadataRoots:              in.MetadataRoots,
		LeafCount:                  in.LeafCount,
		UnclaimedLeafCount:         in.UnclaimedLeafCount,
		RequestExpirationTimestamp: in.RequestExpirationTimestamp,
		ProposerBondRepaid:         in.ProposerBondRepaid,
	}
	if in.ClaimedBitmap != nil {
		b, err := in.ClaimedBitmap.Restore()
		if err != nil {
			return fmt.Errorf("failed to restore claimed bitmap: %w", err)
		}
		p.ClaimedBitmap = b
	}
	if len(in.ClaimedRelayHashes) > 0 {
		p.ClaimedRelayHashes = make(map[common.Hash]bool, len(in.ClaimedRelayHashes))
		for _, h := range in.ClaimedRelayHashes {
			p.ClaimedRelayHashes[h] = true
		}
	}
	return nil
}
