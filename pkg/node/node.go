package node

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/adjudication"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/adjudication/inMemoryAdjudicator"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bonding"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bonding/inMemoryBondManager"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/clock"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/dispatcher"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/dispatcher/loggingDispatcher"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/settlement"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/spoke"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

// Node represents one settlement domain: the hub-side proposal engine, the spoke-side bundle pool
// and the HTTP server exposing both.
type Node struct {
	ChainId uint64
	Port    int

	// Dependencies
	engine      *settlement.Engine
	pool        *spoke.Pool
	bonds       bonding.IBondManager
	adjudicator adjudication.IAdjudicator
	dispatcher  dispatcher.IPayloadDispatcher
	clock       clock.IClock
	persistence persistence.ISettlementPersistence
	server      *Server
	logger      *zap.Logger

	startedAt time.Time
}

// Config holds node configuration
type Config struct {
	ChainId          uint64
	Port             int
	BondAmount       *big.Int
	Liveness         time.Duration
	SingleWordBitmap bool
	AdjudicatorPool  common.Address // Used by the default in-memory adjudicator
	RateLimit        float64        // requests per second, 0 disables limiting
	RateBurst        int
	Logger           *zap.Logger // Optional logger, will create default if nil
}

// Dependencies are the node's collaborators. Nil fields get development defaults: an in-memory
// bond manager, an in-memory adjudicator, a logging dispatcher, the system clock and an
// in-memory store.
type Dependencies struct {
	Bonds       bonding.IBondManager
	Adjudicator adjudication.IAdjudicator
	Dispatcher  dispatcher.IPayloadDispatcher
	Clock       clock.IClock
	Persistence persistence.ISettlementPersistence
}

// resolverRegistrar is implemented by adjudicators that deliver outcomes through a callback.
type resolverRegistrar interface {
	SetResolver(resolver adjudication.ResolveFunc)
}

// outcomeResolver is implemented by adjudicators that are resolved by an operator.
type outcomeResolver interface {
	Resolve(ctx context.Context, requestId string, outcome types.DisputeOutcome) error
}

// depositor is implemented by bond managers that accept direct deposits.
type depositor interface {
	Deposit(account common.Address, amount *big.Int) error
	BalanceOf(account common.Address) *big.Int
}

// NewNode creates a new node instance with dependency injection
func NewNode(cfg Config, deps Dependencies) (*Node, error) {
	// Create logger if not provided
	nodeLogger := cfg.Logger
	if nodeLogger == nil {
		nodeLogger, _ = logger.NewLogger(&logger.LoggerConfig{Debug: false})
	}

	if deps.Bonds == nil {
		deps.Bonds = inMemoryBondManager.NewInMemoryBondManager(nodeLogger)
	}
	if deps.Adjudicator == nil {
		deps.Adjudicator = inMemoryAdjudicator.NewInMemoryAdjudicator(cfg.AdjudicatorPool, nodeLogger)
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = loggingDispatcher.NewLoggingDispatcher(nodeLogger)
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystemClock()
	}
	if deps.Persistence == nil {
		deps.Persistence = memory.NewMemoryPersistence()
	}

	if err := checkNodeState(deps.Persistence, cfg.ChainId); err != nil {
		return nil, err
	}

	engine, err := settlement.NewEngine(&settlement.Config{
		ChainId:          cfg.ChainId,
		BondAmount:       cfg.BondAmount,
		Liveness:         cfg.Liveness,
		SingleWordBitmap: cfg.SingleWordBitmap,
	}, &settlement.Dependencies{
		Bonds:       deps.Bonds,
		Adjudicator: deps.Adjudicator,
		Dispatcher:  deps.Dispatcher,
		Clock:       deps.Clock,
		Persistence: deps.Persistence,
		Logger:      nodeLogger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create settlement engine")
	}

	pool, err := spoke.NewPool(cfg.ChainId, &spoke.Dependencies{
		Dispatcher:  deps.Dispatcher,
		Clock:       deps.Clock,
		Persistence: deps.Persistence,
		Logger:      nodeLogger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create spoke pool")
	}

	if r, ok := deps.Adjudicator.(resolverRegistrar); ok {
		r.SetResolver(engine.ResolveDispute)
	}

	n := &Node{
		ChainId:     cfg.ChainId,
		Port:        cfg.Port,
		engine:      engine,
		pool:        pool,
		bonds:       deps.Bonds,
		adjudicator: deps.Adjudicator,
		dispatcher:  deps.Dispatcher,
		clock:       deps.Clock,
		persistence: deps.Persistence,
		logger:      nodeLogger,
	}
	n.server = NewServer(n, cfg.Port, cfg.RateLimit, cfg.RateBurst)

	return n, nil
}

// checkNodeState refuses to run on a store written by another domain.
func checkNodeState(store persistence.ISettlementPersistence, chainId uint64) error {
	state, err := store.LoadNodeState()
	if err != nil {
		return errors.Wrap(err, "failed to load node state")
	}
	if state != nil && state.ChainId != 0 && state.ChainId != chainId {
		return fmt.Errorf("persisted state belongs to chain %d, node is configured for chain %d", state.ChainId, chainId)
	}
	return nil
}

// Start records the start in persistence and starts the node's HTTP server
func (n *Node) Start() error {
	state, err := n.persistence.LoadNodeState()
	if err != nil {
		return errors.Wrap(err, "failed to load node state")
	}
	if state == nil {
		state = &persistence.NodeState{}
	}
	n.startedAt = time.Now()
	state.ChainId = n.ChainId
	state.NodeStartTime = n.startedAt.Unix()
	if err := n.persistence.SaveNodeState(state); err != nil {
		return errors.Wrap(err, "failed to save node state")
	}

	n.logger.Sugar().Infow("Starting settlement node",
		"chain_id", n.ChainId,
		"port", n.Port,
		"bond_amount", n.engine.BondAmount().String(),
		"liveness", n.engine.Liveness().String(),
	)
	return n.server.Start()
}

// Stop stops the HTTP server and closes persistence
func (n *Node) Stop() error {
	serverErr := n.server.Stop()
	if err := n.persistence.Close(); err != nil {
		n.logger.Sugar().Warnw("Failed to close persistence", "chain_id", n.ChainId, "error", err)
	}
	return serverErr
}

func (n *Node) Engine() *settlement.Engine { return n.engine }

func (n *Node) Pool() *spoke.Pool { return n.pool }

func (n *Node) Adjudicator() adjudication.IAdjudicator { return n.adjudicator }

func (n *Node) BondManager() bonding.IBondManager { return n.bonds }

func (n *Node) Dispatcher() dispatcher.IPayloadDispatcher { return n.dispatcher }

// ResolveDispute routes an outcome through the adjudicator when it is operator-resolved, so its
// queue stays in sync, and straight to the engine otherwise. Disputes the adjudicator no longer
// knows about, such as those filed before a restart, also go straight to the engine.
func (n *Node) ResolveDispute(ctx context.Context, requestId string, outcome types.DisputeOutcome) error {
	if r, ok := n.adjudicator.(outcomeResolver); ok {
		err := r.Resolve(ctx, requestId, outcome)
		if err == nil || !errors.Is(err, adjudication.ErrUnknownRequest) {
			return err
		}
	}
	return n.engine.ResolveDispute(ctx, requestId, outcome)
}

// HealthCheck verifies the node's persistence is usable
func (n *Node) HealthCheck() error {
	return n.persistence.HealthCheck()
}

// Server returns the node's HTTP server
func (n *Node) Server() *Server { return n.server }
