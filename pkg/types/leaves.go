package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// LeafKind tags the variant of a settlement leaf.
type LeafKind uint8

const (
	LeafKindUnknown LeafKind = iota
	LeafKindRebalance
	LeafKindRefund
	LeafKindSlowRelay
)

func (k LeafKind) String() string {
	switch k {
	case LeafKindRebalance:
		return "rebalance"
	case LeafKindRefund:
		return "refund"
	case LeafKindSlowRelay:
		return "slow-relay"
	default:
		return "unknown"
	}
}

func (k LeafKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *LeafKind) UnmarshalText(text []byte) error {
	parsed, err := ParseLeafKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseLeafKind converts the string form used on the wire and in bundle files back to a LeafKind.
func ParseLeafKind(s string) (LeafKind, error) {
	switch strings.ToLower(s) {
	case "rebalance":
		return LeafKindRebalance, nil
	case "refund":
		return LeafKindRefund, nil
	case "slow-relay", "slowrelay":
		return LeafKindSlowRelay, nil
	default:
		return LeafKindUnknown, fmt.Errorf("unsupported leaf kind: %s", s)
	}
}

// MaxRebalanceLeafId is the largest leaf id a rebalance leaf may carry; hub domains track
// rebalance claims in a single 256 bit word.
const MaxRebalanceLeafId = 255

// Leaf is implemented by every settlement leaf variant. Callers dispatch on Kind() or with a
// type switch; there is no shared base struct.
type Leaf interface {
	Kind() LeafKind
	ChainID() uint64
	// Validate checks the structural invariants of the leaf.
	Validate() error
	// Encode returns the versioned ABI tuple encoding that is hashed into the tree.
	Encode() ([]byte, error)
}

// IndexedLeaf is a leaf with a committed leaf id, claimed through a claim bitmap.
type IndexedLeaf interface {
	Leaf
	LeafID() uint32
}

// RebalanceLeaf instructs the hub to move funds to (or account for funds on) one spoke chain.
type RebalanceLeaf struct {
	ChainId         uint64           `json:"chainId"`
	L1Tokens        []common.Address `json:"l1Tokens"`
	BundleLpFees    []*big.Int       `json:"bundleLpFees"`
	NetSendAmounts  []*big.Int       `json:"netSendAmounts"`
	RunningBalances []*big.Int       `json:"runningBalances"`
	LeafId          uint32           `json:"leafId"`
	GroupIndex      uint8            `json:"groupIndex"`
}

func (l *RebalanceLeaf) Kind() LeafKind  { return LeafKindRebalance }
func (l *RebalanceLeaf) ChainID() uint64 { return l.ChainId }
func (l *RebalanceLeaf) LeafID() uint32  { return l.LeafId }

// Validate checks the parallel arrays line up and that no token repeats.
func (l *RebalanceLeaf) Validate() error {
	n := len(l.L1Tokens)
	if len(l.BundleLpFees) != n || len(l.NetSendAmounts) != n || len(l.RunningBalances) != n {
		return fmt.Errorf("rebalance leaf %d: parallel arrays differ in length (l1Tokens=%d, bundleLpFees=%d, netSendAmounts=%d, runningBalances=%d)",
			l.LeafId, n, len(l.BundleLpFees), len(l.NetSendAmounts), len(l.RunningBalances))
	}
	if l.LeafId > MaxRebalanceLeafId {
		return fmt.Errorf("rebalance leaf id %d exceeds %d", l.LeafId, MaxRebalanceLeafId)
	}
	seen := make(map[common.Address]struct{}, n)
	for i, token := range l.L1Tokens {
		if _, ok := seen[token]; ok {
			return fmt.Errorf("rebalance leaf %d: duplicate l1 token %s", l.LeafId, token.Hex())
		}
		seen[token] = struct{}{}

		if l.BundleLpFees[i] == nil || l.NetSendAmounts[i] == nil || l.RunningBalances[i] == nil {
			return fmt.Errorf("rebalance leaf %d: nil amount at index %d", l.LeafId, i)
		}
		if l.BundleLpFees[i].Sign() < 0 {
			return fmt.Errorf("rebalance leaf %d: negative bundle lp fee at index %d", l.LeafId, i)
		}
	}
	return nil
}

func (l *RebalanceLeaf) Encode() ([]byte, error) {
	return EncodeRebalanceLeaf(l)
}

// RefundLeaf pays relayers back on a spoke chain and optionally returns excess funds to the hub.
type RefundLeaf struct {
	ChainId         uint64           `json:"chainId"`
	AmountToReturn  *big.Int         `json:"amountToReturn"`
	TargetToken     common.Address   `json:"targetToken"`
	LeafId          uint32           `json:"leafId"`
	RefundAddresses []common.Address `json:"refundAddresses"`
	RefundAmounts   []*big.Int       `json:"refundAmounts"`
}

func (l *RefundLeaf) Kind() LeafKind  { return LeafKindRefund }
func (l *RefundLeaf) ChainID() uint64 { return l.ChainId }
func (l *RefundLeaf) LeafID() uint32  { return l.LeafId }

func (l *RefundLeaf) Validate() error {
	if len(l.RefundAddresses) != len(l.RefundAmounts) {
		return fmt.Errorf("refund leaf %d: %d refund addresses but %d refund amounts",
			l.LeafId, len(l.RefundAddresses), len(l.RefundAmounts))
	}
	if l.AmountToReturn == nil {
		return fmt.Errorf("refund leaf %d: amountToReturn is required", l.LeafId)
	}
	for i, amount := range l.RefundAmounts {
		if amount == nil || amount.Sign() < 0 {
			return fmt.Errorf("refund leaf %d: invalid refund amount at index %d", l.LeafId, i)
		}
	}
	return nil
}

func (l *RefundLeaf) Encode() ([]byte, error) {
	return EncodeRefundLeaf(l)
}

// TotalRefund sums RefundAmounts.
func (l *RefundLeaf) TotalRefund() *big.Int {
	total := new(big.Int)
	for _, amount := range l.RefundAmounts {
		if amount != nil {
			total.Add(total, amount)
		}
	}
	return total
}

// RelayData identifies a single deposit/relay. Addresses are 32 bytes wide so that deposits from
// and to non-EVM chains share one shape.
type RelayData struct {
	Depositor           common.Hash `json:"depositor"`
	Recipient           common.Hash `json:"recipient"`
	ExclusiveRelayer    common.Hash `json:"exclusiveRelayer"`
	InputToken          common.Hash `json:"inputToken"`
	OutputToken         common.Hash `json:"outputToken"`
	InputAmount         *big.Int    `json:"inputAmount"`
	OutputAmount        *big.Int    `json:"outputAmount"`
	OriginChainId       uint64      `json:"originChainId"`
	DepositId           *big.Int    `json:"depositId"`
	FillDeadline        uint32      `json:"fillDeadline"`
	ExclusivityDeadline uint32      `json:"exclusivityDeadline"`
	Message             []byte      `json:"message"`
}

func (r *RelayData) Validate() error {
	if r.InputAmount == nil || r.InputAmount.Sign() < 0 {
		return fmt.Errorf("relay data: invalid input amount")
	}
	if r.OutputAmount == nil || r.OutputAmount.Sign() < 0 {
		return fmt.Errorf("relay data: invalid output amount")
	}
	if r.DepositId == nil || r.DepositId.Sign() < 0 {
		return fmt.Errorf("relay data: invalid deposit id")
	}
	return nil
}

// MessageHash is zero for an empty message and keccak256(message) otherwise.
func (r *RelayData) MessageHash() common.Hash {
	return hashNonEmptyMessage(r.Message)
}

// SlowRelayLeaf lets the spoke pool fill a relay from its own liquidity when no relayer did.
type SlowRelayLeaf struct {
	RelayData           RelayData `json:"relayData"`
	ChainId             uint64    `json:"chainId"`
	UpdatedOutputAmount *big.Int  `json:"updatedOutputAmount"`
}

func (l *SlowRelayLeaf) Kind() LeafKind  { return LeafKindSlowRelay }
func (l *SlowRelayLeaf) ChainID() uint64 { return l.ChainId }

func (l *SlowRelayLeaf) Validate() error {
	if err := l.RelayData.Validate(); err != nil {
		return err
	}
	if l.UpdatedOutputAmount == nil || l.UpdatedOutputAmount.Sign() < 0 {
		return fmt.Errorf("slow relay leaf: invalid updated output amount")
	}
	return nil
}

func (l *SlowRelayLeaf) Encode() ([]byte, error) {
	return EncodeSlowRelayLeaf(l)
}

// RelayHash is the fill key of the relay this leaf fills.
func (l *SlowRelayLeaf) RelayHash() (common.Hash, error) {
	return RelayHash(&l.RelayData, l.ChainId)
}

// LeafEnvelope is the tagged JSON form of a Leaf, used by the HTTP API and bundle files.
type LeafEnvelope struct {
	Kind      string         `json:"kind"`
	Rebalance *RebalanceLeaf `json:"rebalance,omitempty"`
	Refund    *RefundLeaf    `json:"refund,omitempty"`
	SlowRelay *SlowRelayLeaf `json:"slowRelay,omitempty"`
}

// WrapLeaf builds the envelope for a leaf.
func WrapLeaf(leaf Leaf) (*LeafEnvelope, error) {
	switch l := leaf.(type) {
	case *RebalanceLeaf:
		return &LeafEnvelope{Kind: LeafKindRebalance.String(), Rebalance: l}, nil
	case *RefundLeaf:
		return &LeafEnvelope{Kind: LeafKindRefund.String(), Refund: l}, nil
	case *SlowRelayLeaf:
		return &LeafEnvelope{Kind: LeafKindSlowRelay.String(), SlowRelay: l}, nil
	default:
		return nil, fmt.Errorf("unsupported leaf type %T", leaf)
	}
}

// Leaf unwraps the envelope, checking that the populated variant matches Kind.
func (e *LeafEnvelope) Leaf() (Leaf, error) {
	if e == nil {
		return nil, fmt.Errorf("leaf envelope is nil")
	}
	kind, err := ParseLeafKind(e.Kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case LeafKindRebalance:
		if e.Rebalance == nil {
			return nil, fmt.Errorf("leaf envelope of kind %s has no rebalance leaf", e.Kind)
		}
		return e.Rebalance, nil
	case LeafKindRefund:
		if e.Refund == nil {
			return nil, fmt.Errorf("leaf envelope of kind %s has no refund leaf", e.Kind)
		}
		return e.Refund, nil
	case LeafKindSlowRelay:
		if e.SlowRelay == nil {
			return nil, fmt.Errorf("leaf envelope of kind %s has no slow relay leaf", e.Kind)
		}
		return e.SlowRelay, nil
	}
	return nil, fmt.Errorf("unsupported leaf kind: %s", e.Kind)
}
