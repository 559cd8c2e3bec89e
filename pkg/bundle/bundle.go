// Package bundle builds the three trees of a settlement epoch off-chain: the rebalance tree the
// hub proposes, and the refund and slow relay trees relayed to spokes as its metadata roots.
package bundle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

// Roots are what a proposer publishes for a bundle.
type Roots struct {
	Rebalance          common.Hash `json:"rebalanceRoot"`
	Refund             common.Hash `json:"refundRoot"`
	SlowRelay          common.Hash `json:"slowRelayRoot"`
	RebalanceLeafCount uint32      `json:"rebalanceLeafCount"`
}

// MetadataRoots is the metadata root list that accompanies the rebalance root in a proposal.
func (r Roots) MetadataRoots() []common.Hash {
	return []common.Hash{r.Refund, r.SlowRelay}
}

// Bundle holds the built trees. A kind with no leaves has no tree and a zero root.
type Bundle struct {
	rebalance *merkle.MerkleTree[*types.RebalanceLeaf]
	refund    *merkle.MerkleTree[*types.RefundLeaf]
	slowRelay *merkle.MerkleTree[*types.SlowRelayLeaf]

	rebalanceLeaves []*types.RebalanceLeaf
	refundLeaves    []*types.RefundLeaf
	slowRelayLeaves []*types.SlowRelayLeaf
}

// Builder validates a leaf set and builds its trees
type Builder struct {
	logger *zap.Logger
}

func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{logger: logger}
}

// Build splits leaves by kind, validates them and builds one tree per non-empty kind.
//
// Rebalance leaf ids must be unique across the bundle. Refund leaf ids must be unique per chain,
// since each spoke tracks them in its own bitmap. Slow relay leaves must not fill the same relay
// twice.
func (b *Builder) Build(leaves []types.Leaf) (*Bundle, error) {
	if len(leaves) == 0 {
		return nil, merkle.ErrEmptyTree
	}

	out := &Bundle{}
	rebalanceIds := make(map[uint32]struct{})
	refundIds := make(map[uint64]map[uint32]struct{})
	relayHashes := make(map[common.Hash]struct{})

	for i, leaf := range leaves {
		if leaf == nil {
			return nil, fmt.Errorf("leaf %d is nil", i)
		}
		if err := leaf.Validate(); err != nil {
			return nil, errors.Wrapf(err, "leaf %d is invalid", i)
		}

		switch l := leaf.(type) {
		case *types.RebalanceLeaf:
			if _, dup := rebalanceIds[l.LeafId]; dup {
				return nil, fmt.Errorf("duplicate rebalance leaf id %d", l.LeafId)
			}
			rebalanceIds[l.LeafId] = struct{}{}
			out.rebalanceLeaves = append(out.rebalanceLeaves, l)
		case *types.RefundLeaf:
			ids, ok := refundIds[l.ChainId]
			if !ok {
				ids = make(map[uint32]struct{})
				refundIds[l.ChainId] = ids
			}
			if _, dup := ids[l.LeafId]; dup {
				return nil, fmt.Errorf("duplicate refund leaf id %d on chain %d", l.LeafId, l.ChainId)
			}
			ids[l.LeafId] = struct{}{}
			out.refundLeaves = append(out.refundLeaves, l)
		case *types.SlowRelayLeaf:
			relayHash, err := l.RelayHash()
			if err != nil {
				return nil, errors.Wrapf(err, "leaf %d", i)
			}
			if _, dup := relayHashes[relayHash]; dup {
				return nil, fmt.Errorf("duplicate slow relay leaf for relay %s", relayHash.Hex())
			}
			relayHashes[relayHash] = struct{}{}
			out.slowRelayLeaves = append(out.slowRelayLeaves, l)
		default:
			return nil, fmt.Errorf("unsupported leaf type %T", leaf)
		}
	}

	var err error
	if len(out.rebalanceLeaves) > 0 {
		if out.rebalance, err = merkle.BuildMerkleTree(out.rebalanceLeaves, types.HashRebalanceLeaf); err != nil {
			return nil, errors.Wrap(err, "failed to build rebalance tree")
		}
	}
	if len(out.refundLeaves) > 0 {
		if out.refund, err = merkle.BuildMerkleTree(out.refundLeaves, types.HashRefundLeaf); err != nil {
			return nil, errors.Wrap(err, "failed to build refund tree")
		}
	}
	if len(out.slowRelayLeaves) > 0 {
		if out.slowRelay, err = merkle.BuildMerkleTree(out.slowRelayLeaves, types.HashSlowRelayLeaf); err != nil {
			return nil, errors.Wrap(err, "failed to build slow relay tree")
		}
	}

	roots := out.Roots()
	b.logger.Sugar().Infow("Built settlement bundle",
		"rebalance_root", roots.Rebalance.Hex(),
		"rebalance_leaves", len(out.rebalanceLeaves),
		"refund_root", roots.Refund.Hex(),
		"refund_leaves", len(out.refundLeaves),
		"slow_relay_root", roots.SlowRelay.Hex(),
		"slow_relay_leaves", len(out.slowRelayLeaves),
	)
	return out, nil
}

func (b *Bundle) Roots() Roots {
	var r Roots
	if b.rebalance != nil {
		r.Rebalance = b.rebalance.RootHash()
	}
	if b.refund != nil {
		r.Refund = b.refund.RootHash()
	}
	if b.slowRelay != nil {
		r.SlowRelay = b.slowRelay.RootHash()
	}
	r.RebalanceLeafCount = uint32(len(b.rebalanceLeaves))
	return r
}

// Root returns the root of the tree holding leaves of kind.
func (b *Bundle) Root(kind types.LeafKind) common.Hash {
	r := b.Roots()
	switch kind {
	case types.LeafKindRebalance:
		return r.Rebalance
	case types.LeafKindRefund:
		return r.Refund
	case types.LeafKindSlowRelay:
		return r.SlowRelay
	default:
		return common.Hash{}
	}
}

// ProofFor returns the inclusion proof of leaf in the tree of its kind.
func (b *Bundle) ProofFor(leaf types.Leaf) ([]common.Hash, error) {
	var (
		proof *merkle.MerkleProof
		err   error
	)
	switch l := leaf.(type) {
	case *types.RebalanceLeaf:
		if b.rebalance == nil {
			return nil, merkle.ErrLeafNotFound
		}
		proof, err = b.rebalance.GenerateProof(l)
	case *types.RefundLeaf:
		if b.refund == nil {
			return nil, merkle.ErrLeafNotFound
		}
		proof, err = b.refund.GenerateProof(l)
	case *types.SlowRelayLeaf:
		if b.slowRelay == nil {
			return nil, merkle.ErrLeafNotFound
		}
		proof, err = b.slowRelay.GenerateProof(l)
	default:
		return nil, fmt.Errorf("unsupported leaf type %T", leaf)
	}
	if err != nil {
		return nil, err
	}
	return merkle.ToHashes(proof.Proof), nil
}

// LeafProof is one entry of a bundle manifest.
type LeafProof struct {
	Root     common.Hash         `json:"root"`
	LeafHash common.Hash         `json:"leafHash"`
	Leaf     *types.LeafEnvelope `json:"leaf"`
	Proof    []common.Hash       `json:"proof"`
}

// Manifest is the full output of a build: the roots plus a proof for every leaf.
type Manifest struct {
	Roots  Roots        `json:"roots"`
	Proofs []*LeafProof `json:"proofs"`
}

// Manifest generates a proof for every leaf, in rebalance, refund, slow relay order.
func (b *Bundle) Manifest() (*Manifest, error) {
	m := &Manifest{Roots: b.Roots()}

	var all []types.Leaf
	for _, kind := range []types.LeafKind{types.LeafKindRebalance, types.LeafKindRefund, types.LeafKindSlowRelay} {
		all = append(all, b.Leaves(kind)...)
	}

	for _, leaf := range all {
		proof, err := b.ProofFor(leaf)
		if err != nil {
			return nil, err
		}
		digest, err := types.HashLeaf(leaf)
		if err != nil {
			return nil, err
		}
		env, err := types.WrapLeaf(leaf)
		if err != nil {
			return nil, err
		}
		m.Proofs = append(m.Proofs, &LeafProof{
			Root:     b.Root(leaf.Kind()),
			LeafHash: common.Hash(digest),
			Leaf:     env,
			Proof:    proof,
		})
	}
	return m, nil
}

func (b *Bundle) RebalanceLeaves() []*types.RebalanceLeaf { return b.rebalanceLeaves }

func (b *Bundle) RefundLeaves() []*types.RefundLeaf { return b.refundLeaves }

func (b *Bundle) SlowRelayLeaves() []*types.SlowRelayLeaf { return b.slowRelayLeaves }

// RefundLeavesForChain returns the refund leaves destined for one spoke.
func (b *Bundle) RefundLeavesForChain(chainId uint64) []*types.RefundLeaf {
	var out []*types.RefundLeaf
	for _, l := range b.refundLeaves {
		if l.ChainId == chainId {
			out = append(out, l)
		}
	}
	return out
}

// Leaves returns every leaf of kind, in input order.
func (b *Bundle) Leaves(kind types.LeafKind) []types.Leaf {
	var out []types.Leaf
	switch kind {
	case types.LeafKindRebalance:
		for _, l := range b.rebalanceLeaves {
			out = append(out, l)
		}
	case types.LeafKindRefund:
		for _, l := range b.refundLeaves {
			out = append(out, l)
		}
	case types.LeafKindSlowRelay:
		for _, l := range b.slowRelayLeaves {
			out = append(out, l)
		}
	}
	return out
}
