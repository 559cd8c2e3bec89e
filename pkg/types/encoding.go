package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EncodingVersion identifies the leaf encodings below. Changing the field order or width of any
// tuple changes every leaf hash and must bump this version.
const EncodingVersion = 1

// Tuple components, in encoding order. These mirror abi.encode(struct) of the on-chain leaf structs.
var (
	rebalanceLeafComponents = []abi.ArgumentMarshaling{
		{Name: "chainId", Type: "uint256"},
		{Name: "bundleLpFees", Type: "uint256[]"},
		{Name: "netSendAmounts", Type: "int256[]"},
		{Name: "runningBalances", Type: "int256[]"},
		{Name: "groupIndex", Type: "uint8"},
		{Name: "leafId", Type: "uint8"},
		{Name: "l1Tokens", Type: "address[]"},
	}

	refundLeafComponents = []abi.ArgumentMarshaling{
		{Name: "amountToReturn", Type: "int256"},
		{Name: "chainId", Type: "uint256"},
		{Name: "refundAmounts", Type: "uint256[]"},
		{Name: "leafId", Type: "uint32"},
		{Name: "targetToken", Type: "address"},
		{Name: "refundAddresses", Type: "address[]"},
	}

	relayDataComponents = []abi.ArgumentMarshaling{
		{Name: "depositor", Type: "bytes32"},
		{Name: "recipient", Type: "bytes32"},
		{Name: "exclusiveRelayer", Type: "bytes32"},
		{Name: "inputToken", Type: "bytes32"},
		{Name: "outputToken", Type: "bytes32"},
		{Name: "inputAmount", Type: "uint256"},
		{Name: "outputAmount", Type: "uint256"},
		{Name: "originChainId", Type: "uint256"},
		{Name: "depositId", Type: "uint256"},
		{Name: "fillDeadline", Type: "uint32"},
		{Name: "exclusivityDeadline", Type: "uint32"},
		{Name: "messageHash", Type: "bytes32"},
	}

	slowRelayLeafComponents = []abi.ArgumentMarshaling{
		{Name: "relayData", Type: "tuple", Components: relayDataComponents},
		{Name: "chainId", Type: "uint256"},
		{Name: "updatedOutputAmount", Type: "uint256"},
	}
)

var (
	rebalanceLeafArgs abi.Arguments
	refundLeafArgs    abi.Arguments
	slowRelayLeafArgs abi.Arguments
	relayHashArgs     abi.Arguments
)

func init() {
	rebalanceLeafArgs = abi.Arguments{{Type: mustTupleType("struct RebalanceLeaf", rebalanceLeafComponents)}}
	refundLeafArgs = abi.Arguments{{Type: mustTupleType("struct RefundLeaf", refundLeafComponents)}}
	slowRelayLeafArgs = abi.Arguments{{Type: mustTupleType("struct SlowRelayLeaf", slowRelayLeafComponents)}}

	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	relayHashArgs = abi.Arguments{
		{Type: mustTupleType("struct RelayData", relayDataComponents)},
		{Type: uint256Type},
	}
}

func mustTupleType(internalType string, components []abi.ArgumentMarshaling) abi.Type {
	t, err := abi.NewType("tuple", internalType, components)
	if err != nil {
		panic(fmt.Sprintf("invalid tuple type %s: %v", internalType, err))
	}
	return t
}

// The abi package matches tuple components to struct fields by camel-cased name, so these mirror
// the component lists above field for field.
type abiRebalanceLeaf struct {
	ChainId         *big.Int
	BundleLpFees    []*big.Int
	NetSendAmounts  []*big.Int
	RunningBalances []*big.Int
	GroupIndex      uint8
	LeafId          uint8
	L1Tokens        []common.Address
}

type abiRefundLeaf struct {
	AmountToReturn  *big.Int
	ChainId         *big.Int
	RefundAmounts   []*big.Int
	LeafId          uint32
	TargetToken     common.Address
	RefundAddresses []common.Address
}

type abiRelayData struct {
	Depositor           [32]byte
	Recipient           [32]byte
	ExclusiveRelayer    [32]byte
	InputToken          [32]byte
	OutputToken         [32]byte
	InputAmount         *big.Int
	OutputAmount        *big.Int
	OriginChainId       *big.Int
	DepositId           *big.Int
	FillDeadline        uint32
	ExclusivityDeadline uint32
	MessageHash         [32]byte
}

type abiSlowRelayLeaf struct {
	RelayData           abiRelayData
	ChainId             *big.Int
	UpdatedOutputAmount *big.Int
}

// EncodeRebalanceLeaf returns abi.encode(RebalanceLeaf).
func EncodeRebalanceLeaf(l *RebalanceLeaf) ([]byte, error) {
	if l == nil {
		return nil, fmt.Errorf("cannot encode nil rebalance leaf")
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	packed, err := rebalanceLeafArgs.Pack(abiRebalanceLeaf{
		ChainId:         new(big.Int).SetUint64(l.ChainId),
		BundleLpFees:    nonNilAmounts(l.BundleLpFees),
		NetSendAmounts:  nonNilAmounts(l.NetSendAmounts),
		RunningBalances: nonNilAmounts(l.RunningBalances),
		GroupIndex:      l.GroupIndex,
		LeafId:          uint8(l.LeafId),
		L1Tokens:        nonNilAddresses(l.L1Tokens),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rebalance leaf %d: %w", l.LeafId, err)
	}
	return packed, nil
}

// EncodeRefundLeaf returns abi.encode(RefundLeaf).
func EncodeRefundLeaf(l *RefundLeaf) ([]byte, error) {
	if l == nil {
		return nil, fmt.Errorf("cannot encode nil refund leaf")
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	packed, err := refundLeafArgs.Pack(abiRefundLeaf{
		AmountToReturn:  l.AmountToReturn,
		ChainId:         new(big.Int).SetUint64(l.ChainId),
		RefundAmounts:   nonNilAmounts(l.RefundAmounts),
		LeafId:          l.LeafId,
		TargetToken:     l.TargetToken,
		RefundAddresses: nonNilAddresses(l.RefundAddresses),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode refund leaf %d: %w", l.LeafId, err)
	}
	return packed, nil
}

// EncodeSlowRelayLeaf returns abi.encode(SlowRelayLeaf).
func EncodeSlowRelayLeaf(l *SlowRelayLeaf) ([]byte, error) {
	if l == nil {
		return nil, fmt.Errorf("cannot encode nil slow relay leaf")
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	packed, err := slowRelayLeafArgs.Pack(abiSlowRelayLeaf{
		RelayData:           toABIRelayData(&l.RelayData),
		ChainId:             new(big.Int).SetUint64(l.ChainId),
		UpdatedOutputAmount: l.UpdatedOutputAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode slow relay leaf: %w", err)
	}
	return packed, nil
}

// RelayHash returns keccak256(abi.encode(relayData, destinationChainId)), the unique fill key of a relay.
func RelayHash(r *RelayData, destinationChainId uint64) (common.Hash, error) {
	if r == nil {
		return common.Hash{}, fmt.Errorf("cannot hash nil relay data")
	}
	if err := r.Validate(); err != nil {
		return common.Hash{}, err
	}
	packed, err := relayHashArgs.Pack(toABIRelayData(r), new(big.Int).SetUint64(destinationChainId))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode relay data: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// HashLeaf is keccak256 of the leaf's encoding. It is the hash function every tree of
// settlement leaves is built with.
func HashLeaf(leaf Leaf) ([32]byte, error) {
	if leaf == nil {
		return [32]byte{}, fmt.Errorf("cannot hash nil leaf")
	}
	encoded, err := leaf.Encode()
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// HashRebalanceLeaf, HashRefundLeaf and HashSlowRelayLeaf are the typed forms of HashLeaf.
func HashRebalanceLeaf(l *RebalanceLeaf) ([32]byte, error) { return HashLeaf(l) }
func HashRefundLeaf(l *RefundLeaf) ([32]byte, error)       { return HashLeaf(l) }
func HashSlowRelayLeaf(l *SlowRelayLeaf) ([32]byte, error) { return HashLeaf(l) }

func toABIRelayData(r *RelayData) abiRelayData {
	return abiRelayData{
		Depositor:           r.Depositor,
		Recipient:           r.Recipient,
		ExclusiveRelayer:    r.ExclusiveRelayer,
		InputToken:          r.InputToken,
		OutputToken:         r.OutputToken,
		InputAmount:         r.InputAmount,
		OutputAmount:        r.OutputAmount,
		OriginChainId:       new(big.Int).SetUint64(r.OriginChainId),
		DepositId:           r.DepositId,
		FillDeadline:        r.FillDeadline,
		ExclusivityDeadline: r.ExclusivityDeadline,
		MessageHash:         r.MessageHash(),
	}
}

func hashNonEmptyMessage(message []byte) common.Hash {
	if len(message) == 0 {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(message)
}

func nonNilAmounts(in []*big.Int) []*big.Int {
	if in == nil {
		return []*big.Int{}
	}
	return in
}

func nonNilAddresses(in []common.Address) []common.Address {
	if in == nil {
		return []common.Address{}
	}
	return in
}
