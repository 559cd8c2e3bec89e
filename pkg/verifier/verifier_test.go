package verifier

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

func rebalanceLeaves(n int) []*types.RebalanceLeaf {
	leaves := make([]*types.RebalanceLeaf, n)
	for i := 0; i < n; i++ {
		leaves[i] = &types.RebalanceLeaf{
			ChainId:         uint64(i%3 + 1),
			L1Tokens:        []common.Address{common.BigToAddress(big.NewInt(int64(i + 1)))},
			BundleLpFees:    []*big.Int{big.NewInt(int64(i))},
			NetSendAmounts:  []*big.Int{big.NewInt(int64(-i))},
			RunningBalances: []*big.Int{big.NewInt(int64(i * 10))},
			LeafId:          uint32(i),
		}
	}
	return leaves
}

func slowRelayLeaves(n int) []*types.SlowRelayLeaf {
	leaves := make([]*types.SlowRelayLeaf, n)
	for i := 0; i < n; i++ {
		leaves[i] = &types.SlowRelayLeaf{
			RelayData: types.RelayData{
				Depositor:     common.BigToHash(big.NewInt(int64(i + 100))),
				Recipient:     common.BigToHash(big.NewInt(int64(i + 200))),
				InputAmount:   big.NewInt(1_000),
				OutputAmount:  big.NewInt(999),
				OriginChainId: 1,
				DepositId:     big.NewInt(int64(i)),
				FillDeadline:  100,
			},
			ChainId:             10,
			UpdatedOutputAmount: big.NewInt(999),
		}
	}
	return leaves
}

func TestVerifyRebalanceLeaf(t *testing.T) {
	leaves := rebalanceLeaves(9)
	tree, err := merkle.BuildMerkleTree(leaves, types.HashRebalanceLeaf)
	require.NoError(t, err)
	root := tree.RootHash()

	for i, leaf := range leaves {
		proof, err := tree.GenerateProof(leaf)
		require.NoError(t, err)
		assert.True(t, VerifyRebalanceLeaf(root, leaf, merkle.ToHashes(proof.Proof)), "leaf %d", i)
		assert.True(t, VerifyLeaf(root, leaf, merkle.ToHashes(proof.Proof)), "leaf %d", i)
	}

	proof, err := tree.GenerateProof(leaves[0])
	require.NoError(t, err)

	tampered := *leaves[0]
	tampered.ChainId = 999
	assert.False(t, VerifyRebalanceLeaf(root, &tampered, merkle.ToHashes(proof.Proof)))

	assert.False(t, VerifyRebalanceLeaf(root, nil, merkle.ToHashes(proof.Proof)))
}

func TestVerifySlowRelayLeaf(t *testing.T) {
	leaves := slowRelayLeaves(5)
	tree, err := merkle.BuildMerkleTree(leaves, types.HashSlowRelayLeaf)
	require.NoError(t, err)

	proof, err := tree.GenerateProof(leaves[2])
	require.NoError(t, err)
	assert.True(t, VerifySlowRelayLeaf(tree.RootHash(), leaves[2], merkle.ToHashes(proof.Proof)))
	assert.False(t, VerifySlowRelayLeaf(tree.RootHash(), leaves[3], merkle.ToHashes(proof.Proof)))
}

func TestVerifyRefundLeafInvalidLeaf(t *testing.T) {
	leaf := &types.RefundLeaf{
		ChainId:         1,
		AmountToReturn:  big.NewInt(0),
		RefundAddresses: []common.Address{{0x01}},
		RefundAmounts:   []*big.Int{big.NewInt(1)},
	}
	tree, err := merkle.BuildMerkleTree([]*types.RefundLeaf{leaf}, types.HashRefundLeaf)
	require.NoError(t, err)
	assert.True(t, VerifyRefundLeaf(tree.RootHash(), leaf, nil))

	broken := *leaf
	broken.RefundAmounts = nil
	assert.False(t, VerifyRefundLeaf(tree.RootHash(), &broken, nil))
}

func TestVerifyLeafCrossKind(t *testing.T) {
	rebalance := rebalanceLeaves(1)[0]
	tree, err := merkle.BuildMerkleTree([]*types.RebalanceLeaf{rebalance}, types.HashRebalanceLeaf)
	require.NoError(t, err)

	refund := &types.RefundLeaf{ChainId: rebalance.ChainId, AmountToReturn: big.NewInt(0), LeafId: rebalance.LeafId}
	assert.False(t, VerifyLeaf(tree.RootHash(), refund, nil))
	assert.False(t, VerifyLeaf(tree.RootHash(), nil, nil))
}
