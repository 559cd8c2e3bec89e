package client

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/clock"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/node"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

func TestNewClient_ValidationErrors(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name        string
		config      *ClientConfig
		expectedErr string
	}{
		{name: "nil config", config: nil, expectedErr: "config cannot be nil"},
		{name: "empty node URL", config: &ClientConfig{Logger: logger}, expectedErr: "node URL is required"},
		{name: "nil logger", config: &ClientConfig{NodeURL: "http://localhost:8000"}, expectedErr: "logger is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			assert.Nil(t, client)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"leaf already claimed"}`))
	}))
	defer srv.Close()

	c, err := NewClient(&ClientConfig{NodeURL: srv.URL + "/", Logger: zap.NewNop()})
	require.NoError(t, err)

	_, err = c.IsClaimed(context.Background(), 1)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "leaf already claimed", apiErr.Message)
}

func TestClient_AgainstNode(t *testing.T) {
	const chainId = uint64(8453)
	clk := clock.NewManualClock(1_700_000_000)
	n, err := node.NewNode(node.Config{
		ChainId:    chainId,
		BondAmount: big.NewInt(500),
		Liveness:   time.Minute,
		Logger:     zap.NewNop(),
	}, node.Dependencies{Clock: clk})
	require.NoError(t, err)

	srv := httptest.NewServer(n.Server().GetHandler())
	defer srv.Close()

	c, err := NewClient(&ClientConfig{NodeURL: srv.URL, Logger: zap.NewNop()})
	require.NoError(t, err)
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, chainId, health.ChainId)

	proposer := common.HexToAddress("0xabc")
	balance, err := c.Deposit(ctx, proposer, big.NewInt(2000))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), balance.Int64())

	leaves := []*types.RefundLeaf{
		{ChainId: chainId, AmountToReturn: big.NewInt(0), LeafId: 0, RefundAddresses: []common.Address{proposer}, RefundAmounts: []*big.Int{big.NewInt(10)}},
		{ChainId: chainId, AmountToReturn: big.NewInt(5), LeafId: 1},
	}
	tree, err := merkle.BuildMerkleTree(leaves, types.HashRefundLeaf)
	require.NoError(t, err)
	p, err := tree.GenerateProof(leaves[0])
	require.NoError(t, err)
	proof := merkle.ToHashes(p.Proof)

	_, err = c.Propose(ctx, &types.ProposeRequest{Proposer: proposer, LeafCount: 2, Root: tree.RootHash()})
	require.NoError(t, err)

	verified, err := c.Verify(ctx, tree.RootHash(), leaves[0], proof)
	require.NoError(t, err)
	assert.True(t, verified.Valid)

	_, err = c.Claim(ctx, proposer, leaves[0], proof)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	clk.Advance(2 * time.Minute)
	resp, err := c.Claim(ctx, proposer, leaves[0], proof)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), resp.Proposal.UnclaimedLeafCount)

	claimed, err := c.IsClaimed(ctx, 0)
	require.NoError(t, err)
	assert.True(t, claimed)

	balance, err = c.BalanceOf(ctx, proposer)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), balance.Int64())

	bundleId, err := c.RelayRootBundle(ctx, tree.RootHash(), common.Hash{})
	require.NoError(t, err)
	require.NoError(t, c.ExecuteRefundLeaf(ctx, bundleId, leaves[0], proof))
	bundles, err := c.ListRootBundles(ctx)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.True(t, bundles[0].ClaimedBitmap.IsClaimed(0))

	require.NoError(t, c.DeleteRootBundle(ctx, bundleId))
	err = c.ExecuteRefundLeaf(ctx, bundleId, leaves[0], proof)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	status, err := c.RelayStatus(ctx, common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Equal(t, "unfilled", status)
}
