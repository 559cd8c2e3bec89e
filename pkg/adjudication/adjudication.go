package adjudication

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

var ErrUnknownRequest = errors.New("unknown adjudication request")

// ResolveFunc delivers an adjudication outcome back to the domain that filed the dispute.
type ResolveFunc func(ctx context.Context, requestId string, outcome types.DisputeOutcome) error

// IAdjudicator accepts disputed proposals. RequestAdjudication must return as soon as the request
// is queued; the outcome is delivered later through the registered ResolveFunc.
type IAdjudicator interface {
	RequestAdjudication(ctx context.Context, req *types.DisputeRequest) (string, error)

	// CancelAdjudication withdraws a queued request whose dispute was never recorded. Unknown ids
	// return ErrUnknownRequest.
	CancelAdjudication(ctx context.Context, requestId string) error

	// PoolAddress is the bonding pool forfeited bonds are sent to.
	PoolAddress() common.Address
}
