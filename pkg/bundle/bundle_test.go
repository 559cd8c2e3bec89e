package bundle_test

import (
	"bytes"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bundle"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/testutil"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/verifier"
)

func epochLeaves(t *testing.T) []types.Leaf {
	t.Helper()
	r := testutil.NewRand(99)
	var leaves []types.Leaf
	for i := uint32(0); i < 4; i++ {
		leaves = append(leaves, testutil.RandomRebalanceLeaf(r, uint64(10+i), i, 2))
	}
	for _, chainId := range []uint64{10, 137} {
		for _, l := range testutil.RandomRefundLeaves(r, chainId, 5) {
			leaves = append(leaves, l)
		}
	}
	for i := 0; i < 3; i++ {
		leaves = append(leaves, testutil.RandomSlowRelayLeaf(r, 137, 2_000_000_000))
	}
	return leaves
}

func TestBuild(t *testing.T) {
	leaves := epochLeaves(t)
	b, err := bundle.NewBuilder(zap.NewNop()).Build(leaves)
	require.NoError(t, err)

	roots := b.Roots()
	assert.Equal(t, uint32(4), roots.RebalanceLeafCount)
	assert.NotEqual(t, common.Hash{}, roots.Rebalance)
	assert.NotEqual(t, common.Hash{}, roots.Refund)
	assert.NotEqual(t, common.Hash{}, roots.SlowRelay)
	assert.Equal(t, []common.Hash{roots.Refund, roots.SlowRelay}, roots.MetadataRoots())
	assert.Len(t, b.RefundLeavesForChain(137), 5)
	assert.Len(t, b.Leaves(types.LeafKindSlowRelay), 3)

	for _, leaf := range leaves {
		proof, err := b.ProofFor(leaf)
		require.NoError(t, err)
		assert.True(t, verifier.VerifyLeaf(b.Root(leaf.Kind()), leaf, proof), "leaf of kind %s", leaf.Kind())
	}

	t.Run("root is independent of input order", func(t *testing.T) {
		reversed := make([]types.Leaf, len(leaves))
		for i, l := range leaves {
			reversed[len(leaves)-1-i] = l
		}
		other, err := bundle.NewBuilder(zap.NewNop()).Build(reversed)
		require.NoError(t, err)
		assert.Equal(t, roots, other.Roots())
	})
}

func TestBuildRejections(t *testing.T) {
	r := testutil.NewRand(3)
	invalid := testutil.RandomRefundLeaf(r, 10, 0, 2)
	invalid.RefundAmounts = invalid.RefundAmounts[:1]

	tests := []struct {
		name   string
		leaves []types.Leaf
	}{
		{"empty", nil},
		{"nil leaf", []types.Leaf{nil}},
		{"invalid leaf", []types.Leaf{invalid}},
		{"duplicate rebalance id", []types.Leaf{
			testutil.RandomRebalanceLeaf(r, 10, 1, 1),
			testutil.RandomRebalanceLeaf(r, 137, 1, 1),
		}},
		{"duplicate refund id on one chain", []types.Leaf{
			testutil.RandomRefundLeaf(r, 10, 4, 1),
			testutil.RandomRefundLeaf(r, 10, 4, 2),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bundle.NewBuilder(zap.NewNop()).Build(tt.leaves)
			assert.Error(t, err)
		})
	}

	t.Run("same refund id on different chains", func(t *testing.T) {
		_, err := bundle.NewBuilder(zap.NewNop()).Build([]types.Leaf{
			testutil.RandomRefundLeaf(r, 10, 4, 1),
			testutil.RandomRefundLeaf(r, 137, 4, 1),
		})
		assert.NoError(t, err)
	})

	t.Run("same relay twice", func(t *testing.T) {
		slow := testutil.RandomSlowRelayLeaf(r, 10, 2_000_000_000)
		again := *slow
		again.UpdatedOutputAmount = big.NewInt(1)
		_, err := bundle.NewBuilder(zap.NewNop()).Build([]types.Leaf{slow, &again})
		assert.Error(t, err)
	})
}

func TestPartialBundle(t *testing.T) {
	r := testutil.NewRand(5)
	refunds := testutil.RandomRefundLeaves(r, 10, 3)
	b, err := bundle.NewBuilder(zap.NewNop()).Build([]types.Leaf{refunds[0], refunds[1], refunds[2]})
	require.NoError(t, err)

	roots := b.Roots()
	assert.Equal(t, common.Hash{}, roots.Rebalance)
	assert.Equal(t, common.Hash{}, roots.SlowRelay)
	assert.Zero(t, roots.RebalanceLeafCount)

	_, err = b.ProofFor(testutil.RandomRebalanceLeaf(r, 10, 0, 1))
	assert.ErrorIs(t, err, merkle.ErrLeafNotFound)
}

func TestManifest(t *testing.T) {
	leaves := epochLeaves(t)
	b, err := bundle.NewBuilder(zap.NewNop()).Build(leaves)
	require.NoError(t, err)

	m, err := b.Manifest()
	require.NoError(t, err)
	require.Len(t, m.Proofs, len(leaves))
	assert.Equal(t, types.LeafKindRebalance.String(), m.Proofs[0].Leaf.Kind)
	assert.Equal(t, types.LeafKindSlowRelay.String(), m.Proofs[len(m.Proofs)-1].Leaf.Kind)

	for _, format := range []bundle.Format{bundle.FormatJSON, bundle.FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "manifest."+string(format))
			var buf bytes.Buffer
			require.NoError(t, bundle.WriteManifest(&buf, m, format))
			require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

			loaded, err := bundle.LoadManifest(path)
			require.NoError(t, err)
			assert.Equal(t, m.Roots, loaded.Roots)
			require.Len(t, loaded.Proofs, len(m.Proofs))

			for _, p := range loaded.Proofs {
				leaf, err := p.Leaf.Leaf()
				require.NoError(t, err)
				assert.True(t, verifier.VerifyLeaf(p.Root, leaf, p.Proof))
			}
		})
	}
}

func TestLeafFiles(t *testing.T) {
	leaves := epochLeaves(t)

	for _, format := range []bundle.Format{bundle.FormatJSON, bundle.FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, bundle.WriteLeaves(&buf, leaves, format))

			parsed, err := bundle.ParseLeaves(buf.Bytes(), format)
			require.NoError(t, err)
			require.Len(t, parsed, len(leaves))
			for i := range leaves {
				want, err := types.HashLeaf(leaves[i])
				require.NoError(t, err)
				got, err := types.HashLeaf(parsed[i])
				require.NoError(t, err)
				assert.Equal(t, want, got, "leaf %d", i)
			}
		})
	}
}

func TestParseHandWrittenYAML(t *testing.T) {
	doc := `
leaves:
  - kind: refund
    refund:
      chainId: 10
      amountToReturn: -340282366920938463463374607431768211457
      targetToken: 0x000000000000000000000000000000000000abcd
      leafId: 7
      refundAddresses:
        - 0x0000000000000000000000000000000000000001
      refundAmounts:
        - 1_000_000
  - kind: rebalance
    rebalance:
      chainId: 137
      l1Tokens: ["0x0000000000000000000000000000000000000002"]
      bundleLpFees: [5]
      netSendAmounts: [-10]
      runningBalances: [0]
      leafId: 0
      groupIndex: 0
`
	leaves, err := bundle.ParseLeaves([]byte(doc), bundle.FormatYAML)
	require.NoError(t, err)
	require.Len(t, leaves, 2)

	refund, ok := leaves[0].(*types.RefundLeaf)
	require.True(t, ok)
	assert.Equal(t, "-340282366920938463463374607431768211457", refund.AmountToReturn.String())
	assert.Equal(t, common.HexToAddress("0xabcd"), refund.TargetToken)
	assert.Equal(t, int64(1_000_000), refund.RefundAmounts[0].Int64())

	rebalance, ok := leaves[1].(*types.RebalanceLeaf)
	require.True(t, ok)
	assert.Equal(t, int64(-10), rebalance.NetSendAmounts[0].Int64())

	_, err = bundle.ParseLeaves([]byte("leaves:\n  - kind: refund\n    unknown: 1\n"), bundle.FormatYAML)
	assert.Error(t, err)
	_, err = bundle.ParseLeaves([]byte(`{"leaves": []}`), bundle.FormatJSON)
	assert.Error(t, err)
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, bundle.FormatYAML, bundle.FormatForPath("leaves.YML"))
	assert.Equal(t, bundle.FormatYAML, bundle.FormatForPath("a/b.yaml"))
	assert.Equal(t, bundle.FormatJSON, bundle.FormatForPath("leaves.json"))
	assert.Equal(t, bundle.FormatJSON, bundle.FormatForPath("leaves"))
}
