package inMemoryBondManager

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bonding"
)

// InMemoryBondManager is a ledger of account balances plus a single escrow pool.
type InMemoryBondManager struct {
	logger *zap.Logger

	mu       sync.Mutex
	balances map[common.Address]*big.Int
	escrow   *big.Int
}

var _ bonding.IBondManager = (*InMemoryBondManager)(nil)

func NewInMemoryBondManager(logger *zap.Logger) *InMemoryBondManager {
	return &InMemoryBondManager{
		logger:   logger,
		balances: make(map[common.Address]*big.Int),
		escrow:   new(big.Int),
	}
}

// Deposit credits an account, e.g. to fund a proposer before it proposes.
func (bm *InMemoryBondManager) Deposit(account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return bonding.ErrInvalidAmount
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()

	bm.balanceLocked(account).Add(bm.balanceLocked(account), amount)
	return nil
}

// BalanceOf returns a copy of the account's free balance.
func (bm *InMemoryBondManager) BalanceOf(account common.Address) *big.Int {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	return new(big.Int).Set(bm.balanceLocked(account))
}

// Escrowed returns a copy of the total amount currently held in escrow.
func (bm *InMemoryBondManager) Escrowed() *big.Int {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	return new(big.Int).Set(bm.escrow)
}

func (bm *InMemoryBondManager) PullBond(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return bonding.ErrInvalidAmount
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()

	balance := bm.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return errors.Wrapf(bonding.ErrInsufficientBalance, "account %s has %s, bond is %s", from.Hex(), balance, amount)
	}
	balance.Sub(balance, amount)
	bm.escrow.Add(bm.escrow, amount)

	bm.logger.Sugar().Debugw("Pulled bond", "from", from.Hex(), "amount", amount.String())
	return nil
}

func (bm *InMemoryBondManager) ReturnBond(ctx context.Context, to common.Address, amount *big.Int) error {
	return bm.release(to, amount, "Returned bond")
}

func (bm *InMemoryBondManager) ForfeitBond(ctx context.Context, toAdjudicator common.Address, amount *big.Int) error {
	return bm.release(toAdjudicator, amount, "Forfeited bond")
}

func (bm *InMemoryBondManager) release(to common.Address, amount *big.Int, msg string) error {
	if amount == nil || amount.Sign() < 0 {
		return bonding.ErrInvalidAmount
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if bm.escrow.Cmp(amount) < 0 {
		return errors.Wrapf(bonding.ErrInsufficientEscrow, "escrow holds %s, release is %s", bm.escrow, amount)
	}
	bm.escrow.Sub(bm.escrow, amount)
	balance := bm.balanceLocked(to)
	balance.Add(balance, amount)

	bm.logger.Sugar().Debugw(msg, "to", to.Hex(), "amount", amount.String())
	return nil
}

func (bm *InMemoryBondManager) balanceLocked(account common.Address) *big.Int {
	balance, ok := bm.balances[account]
	if !ok {
		balance = new(big.Int)
		bm.balances[account] = balance
	}
	return balance
}
