package testutil

import (
	"math/big"
	"math/rand/v2"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

// NewRand returns a deterministic source so failing fixtures can be reproduced from the seed
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func RandomAddress(r *rand.Rand) common.Address {
	var a common.Address
	for i := range a {
		a[i] = byte(r.UintN(256))
	}
	return a
}

func RandomHash(r *rand.Rand) common.Hash {
	var h common.Hash
	for i := range h {
		h[i] = byte(r.UintN(256))
	}
	return h
}

func randomAmount(r *rand.Rand) *big.Int {
	return new(big.Int).SetUint64(r.Uint64N(1_000_000_000_000) + 1)
}

func randomSignedAmount(r *rand.Rand) *big.Int {
	amount := randomAmount(r)
	if r.IntN(2) == 0 {
		amount.Neg(amount)
	}
	return amount
}

// RandomRebalanceLeaf creates a valid rebalance leaf over numTokens distinct tokens
func RandomRebalanceLeaf(r *rand.Rand, chainId uint64, leafId uint32, numTokens int) *types.RebalanceLeaf {
	leaf := &types.RebalanceLeaf{
		ChainId:    chainId,
		LeafId:     leafId,
		GroupIndex: uint8(r.UintN(4)),
	}
	for i := 0; i < numTokens; i++ {
		leaf.L1Tokens = append(leaf.L1Tokens, common.BigToAddress(big.NewInt(int64(i+1)*0x1000+int64(r.UintN(0x1000)))))
		leaf.BundleLpFees = append(leaf.BundleLpFees, randomAmount(r))
		leaf.NetSendAmounts = append(leaf.NetSendAmounts, randomSignedAmount(r))
		leaf.RunningBalances = append(leaf.RunningBalances, randomSignedAmount(r))
	}
	return leaf
}

// RandomRefundLeaf creates a valid refund leaf paying numRefunds relayers
func RandomRefundLeaf(r *rand.Rand, chainId uint64, leafId uint32, numRefunds int) *types.RefundLeaf {
	leaf := &types.RefundLeaf{
		ChainId:        chainId,
		AmountToReturn: randomSignedAmount(r),
		TargetToken:    RandomAddress(r),
		LeafId:         leafId,
	}
	for i := 0; i < numRefunds; i++ {
		leaf.RefundAddresses = append(leaf.RefundAddresses, RandomAddress(r))
		leaf.RefundAmounts = append(leaf.RefundAmounts, randomAmount(r))
	}
	return leaf
}

// RandomRefundLeaves creates count refund leaves with ids 0..count-1
func RandomRefundLeaves(r *rand.Rand, chainId uint64, count int) []*types.RefundLeaf {
	leaves := make([]*types.RefundLeaf, count)
	for i := range leaves {
		leaves[i] = RandomRefundLeaf(r, chainId, uint32(i), 1+r.IntN(3))
	}
	return leaves
}

// RandomSlowRelayLeaf creates a valid slow relay leaf whose relay expires at fillDeadline
func RandomSlowRelayLeaf(r *rand.Rand, chainId uint64, fillDeadline uint32) *types.SlowRelayLeaf {
	output := randomAmount(r)
	leaf := &types.SlowRelayLeaf{
		ChainId: chainId,
		RelayData: types.RelayData{
			Depositor:     RandomHash(r),
			Recipient:     RandomHash(r),
			InputToken:    RandomHash(r),
			OutputToken:   RandomHash(r),
			InputAmount:   new(big.Int).Add(output, big.NewInt(1000)),
			OutputAmount:  output,
			OriginChainId: 1,
			DepositId:     new(big.Int).SetUint64(r.Uint64()),
			FillDeadline:  fillDeadline,
		},
		UpdatedOutputAmount: new(big.Int).Set(output),
	}
	if r.IntN(2) == 0 {
		leaf.RelayData.Message = RandomHash(r).Bytes()
	}
	return leaf
}
