package bonding

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientEscrow  = errors.New("insufficient escrowed bond")
	ErrInvalidAmount       = errors.New("bond amount must be non-negative")
)

// IBondManager custodies proposer and disputer bonds. Pulled bonds are held in escrow until they
// are returned or forfeited.
type IBondManager interface {
	// PullBond moves amount from the account of from into escrow.
	PullBond(ctx context.Context, from common.Address, amount *big.Int) error

	// ReturnBond releases amount from escrow back to to.
	ReturnBond(ctx context.Context, to common.Address, amount *big.Int) error

	// ForfeitBond releases amount from escrow to the adjudicator's bonding pool.
	ForfeitBond(ctx context.Context, toAdjudicator common.Address, amount *big.Int) error
}
