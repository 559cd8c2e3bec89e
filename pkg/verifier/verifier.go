// Package verifier checks settlement leaves against a committed root. The functions need nothing
// but the root, the leaf and its proof, so they can run without a node or a proposal lifecycle.
package verifier

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

// VerifyRebalanceLeaf reports whether leaf is committed to by root. Invalid leaves never verify.
func VerifyRebalanceLeaf(root common.Hash, leaf *types.RebalanceLeaf, proof []common.Hash) bool {
	if leaf == nil {
		return false
	}
	return merkle.VerifyLeaf(root, leaf, merkle.FromHashes(proof), types.HashRebalanceLeaf)
}

func VerifyRefundLeaf(root common.Hash, leaf *types.RefundLeaf, proof []common.Hash) bool {
	if leaf == nil {
		return false
	}
	return merkle.VerifyLeaf(root, leaf, merkle.FromHashes(proof), types.HashRefundLeaf)
}

func VerifySlowRelayLeaf(root common.Hash, leaf *types.SlowRelayLeaf, proof []common.Hash) bool {
	if leaf == nil {
		return false
	}
	return merkle.VerifyLeaf(root, leaf, merkle.FromHashes(proof), types.HashSlowRelayLeaf)
}

// VerifyLeaf dispatches on the leaf variant.
func VerifyLeaf(root common.Hash, leaf types.Leaf, proof []common.Hash) bool {
	switch l := leaf.(type) {
	case *types.RebalanceLeaf:
		return VerifyRebalanceLeaf(root, l, proof)
	case *types.RefundLeaf:
		return VerifyRefundLeaf(root, l, proof)
	case *types.SlowRelayLeaf:
		return VerifySlowRelayLeaf(root, l, proof)
	default:
		return false
	}
}
