package inMemoryAdjudicator

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/adjudication"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

func testRequest(chainId uint64) *types.DisputeRequest {
	return &types.DisputeRequest{
		ChainId:  chainId,
		Disputer: common.HexToAddress("0xd15"),
		Proposal: &types.Proposal{Root: common.HexToHash("0x01"), LeafCount: 2, UnclaimedLeafCount: 2},
	}
}

func TestInMemoryAdjudicator(t *testing.T) {
	ctx := context.Background()
	a := NewInMemoryAdjudicator(common.HexToAddress("0xa11"), zap.NewNop())
	assert.Equal(t, common.HexToAddress("0xa11"), a.PoolAddress())

	delivered := make(map[string]types.DisputeOutcome)
	a.SetResolver(func(ctx context.Context, id string, outcome types.DisputeOutcome) error {
		delivered[id] = outcome
		return nil
	})

	first, err := a.RequestAdjudication(ctx, testRequest(1))
	require.NoError(t, err)
	_, err = uuid.Parse(first)
	require.NoError(t, err)

	second, err := a.RequestAdjudication(ctx, testRequest(2))
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, a.Pending())
	assert.Equal(t, uint64(2), a.Request(second).ChainId)

	require.NoError(t, a.Resolve(ctx, first, types.DisputeOutcomeUpheld))
	assert.Equal(t, types.DisputeOutcomeUpheld, delivered[first])
	assert.Equal(t, []string{second}, a.Pending())

	err = a.Resolve(ctx, first, types.DisputeOutcomeRejected)
	require.ErrorIs(t, err, adjudication.ErrUnknownRequest)
}

func TestInMemoryAdjudicatorFailedDelivery(t *testing.T) {
	ctx := context.Background()
	a := NewInMemoryAdjudicator(common.Address{}, zap.NewNop())

	id, err := a.RequestAdjudication(ctx, testRequest(1))
	require.NoError(t, err)

	require.Error(t, a.Resolve(ctx, id, types.DisputeOutcomeUpheld), "no resolver registered")

	a.SetResolver(func(ctx context.Context, id string, outcome types.DisputeOutcome) error {
		return errors.New("boom")
	})
	require.Error(t, a.Resolve(ctx, id, types.DisputeOutcomeUpheld))
	assert.Equal(t, []string{id}, a.Pending())
}

func TestInMemoryAdjudicatorRejectsEmptyRequest(t *testing.T) {
	a := NewInMemoryAdjudicator(common.Address{}, zap.NewNop())
	_, err := a.RequestAdjudication(context.Background(), &types.DisputeRequest{})
	require.Error(t, err)
}

func TestInMemoryAdjudicatorCancel(t *testing.T) {
	ctx := context.Background()
	a := NewInMemoryAdjudicator(common.Address{}, zap.NewNop())

	kept, err := a.RequestAdjudication(ctx, testRequest(1))
	require.NoError(t, err)
	cancelled, err := a.RequestAdjudication(ctx, testRequest(2))
	require.NoError(t, err)

	require.NoError(t, a.CancelAdjudication(ctx, cancelled))
	assert.Equal(t, []string{kept}, a.Pending())
	assert.Nil(t, a.Request(cancelled))

	require.ErrorIs(t, a.CancelAdjudication(ctx, cancelled), adjudication.ErrUnknownRequest)
	require.ErrorIs(t, a.Resolve(ctx, cancelled, types.DisputeOutcomeUpheld), adjudication.ErrUnknownRequest)
}
