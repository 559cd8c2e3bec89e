package testutil

import (
	"context"
	"fmt"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bonding/inMemoryBondManager"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bundle"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/client"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/clock"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/dispatcher/loggingDispatcher"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/node"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

const (
	ClusterStartTime = uint64(1_700_000_000)
	ClusterLiveness  = 10 * time.Minute
)

var (
	ClusterProposer = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	ClusterDisputer = common.HexToAddress("0x0000000000000000000000000000000000000d15")
	ClusterPool     = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	ClusterBond     = big.NewInt(1_000)
)

// Domain is one settlement node of a test cluster
type Domain struct {
	ChainId    uint64
	Node       *node.Node
	Server     *httptest.Server
	Client     *client.Client
	Bonds      *inMemoryBondManager.InMemoryBondManager
	Dispatcher *loggingDispatcher.LoggingDispatcher
}

// TestCluster runs one independent settlement domain per chain, all driven by a shared manual
// clock. The proposer and disputer are funded on every domain.
type TestCluster struct {
	Domains map[uint64]*Domain
	Clock   *clock.ManualClock
	logger  *zap.Logger
}

// NewTestCluster starts one domain per chain id behind an httptest server
func NewTestCluster(t *testing.T, chainIds ...uint64) *TestCluster {
	t.Helper()

	clusterLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	tc := &TestCluster{
		Domains: make(map[uint64]*Domain, len(chainIds)),
		Clock:   clock.NewManualClock(ClusterStartTime),
		logger:  clusterLogger,
	}

	for _, chainId := range chainIds {
		bonds := inMemoryBondManager.NewInMemoryBondManager(clusterLogger)
		for _, account := range []common.Address{ClusterProposer, ClusterDisputer} {
			if err := bonds.Deposit(account, big.NewInt(1_000_000)); err != nil {
				t.Fatalf("Failed to fund %s on chain %d: %v", account.Hex(), chainId, err)
			}
		}
		dispatcher := loggingDispatcher.NewLoggingDispatcher(clusterLogger)

		n, err := node.NewNode(node.Config{
			ChainId:         chainId,
			BondAmount:      ClusterBond,
			Liveness:        ClusterLiveness,
			AdjudicatorPool: ClusterPool,
			Logger:          clusterLogger,
		}, node.Dependencies{
			Bonds:      bonds,
			Dispatcher: dispatcher,
			Clock:      tc.Clock,
		})
		if err != nil {
			t.Fatalf("Failed to create node for chain %d: %v", chainId, err)
		}

		server := httptest.NewServer(n.Server().GetHandler())
		c, err := client.NewClient(&client.ClientConfig{NodeURL: server.URL, Logger: clusterLogger})
		if err != nil {
			server.Close()
			t.Fatalf("Failed to create client for chain %d: %v", chainId, err)
		}

		tc.Domains[chainId] = &Domain{
			ChainId:    chainId,
			Node:       n,
			Server:     server,
			Client:     c,
			Bonds:      bonds,
			Dispatcher: dispatcher,
		}
		clusterLogger.Sugar().Debugw("Started domain", "chain_id", chainId, "url", server.URL)
	}

	t.Cleanup(tc.Close)
	return tc
}

// Domain returns the domain of a chain, failing the test if the cluster has none
func (tc *TestCluster) Domain(t *testing.T, chainId uint64) *Domain {
	t.Helper()
	d, ok := tc.Domains[chainId]
	if !ok {
		t.Fatalf("Cluster has no domain for chain %d", chainId)
	}
	return d
}

// ProposeKind publishes the root of one tree of b on every domain that owns leaves of that kind.
// Each domain commits only to its own leaves, so its leaf count is the number of leaves of the
// kind addressed to its chain.
func (tc *TestCluster) ProposeKind(ctx context.Context, b *bundle.Bundle, kind types.LeafKind) error {
	counts := make(map[uint64]uint32)
	for _, leaf := range b.Leaves(kind) {
		counts[leaf.ChainID()]++
	}

	root := b.Root(kind)
	for chainId, count := range counts {
		d, ok := tc.Domains[chainId]
		if !ok {
			return fmt.Errorf("bundle has %s leaves for chain %d, which has no domain", kind, chainId)
		}
		_, err := d.Client.Propose(ctx, &types.ProposeRequest{
			Proposer:      ClusterProposer,
			LeafCount:     count,
			Root:          root,
			MetadataRoots: b.Roots().MetadataRoots(),
		})
		if err != nil {
			return fmt.Errorf("failed to propose on chain %d: %w", chainId, err)
		}
	}
	return nil
}

// AdvancePastLiveness moves the shared clock past every proposal's dispute window
func (tc *TestCluster) AdvancePastLiveness() {
	tc.Clock.Advance(ClusterLiveness + time.Second)
}

// ClaimKind claims every leaf of kind on the domain it is addressed to
func (tc *TestCluster) ClaimKind(ctx context.Context, b *bundle.Bundle, kind types.LeafKind) error {
	for _, leaf := range b.Leaves(kind) {
		d, ok := tc.Domains[leaf.ChainID()]
		if !ok {
			return fmt.Errorf("no domain for chain %d", leaf.ChainID())
		}
		proof, err := b.ProofFor(leaf)
		if err != nil {
			return err
		}
		if _, err := d.Client.Claim(ctx, ClusterProposer, leaf, proof); err != nil {
			return fmt.Errorf("failed to claim %s leaf on chain %d: %w", kind, leaf.ChainID(), err)
		}
	}
	return nil
}

// RelayRootBundles hands the refund and slow relay roots of b to every domain and returns the
// bundle id each spoke assigned
func (tc *TestCluster) RelayRootBundles(ctx context.Context, b *bundle.Bundle) (map[uint64]uint32, error) {
	roots := b.Roots()
	ids := make(map[uint64]uint32, len(tc.Domains))
	for chainId, d := range tc.Domains {
		id, err := d.Client.RelayRootBundle(ctx, roots.Refund, roots.SlowRelay)
		if err != nil {
			return nil, fmt.Errorf("failed to relay root bundle to chain %d: %w", chainId, err)
		}
		ids[chainId] = id
	}
	return ids, nil
}

// ExecuteRefunds executes every refund leaf of b against the bundle ids returned by
// RelayRootBundles
func (tc *TestCluster) ExecuteRefunds(ctx context.Context, b *bundle.Bundle, bundleIds map[uint64]uint32) error {
	for _, leaf := range b.RefundLeaves() {
		d, ok := tc.Domains[leaf.ChainId]
		if !ok {
			return fmt.Errorf("no domain for chain %d", leaf.ChainId)
		}
		proof, err := b.ProofFor(leaf)
		if err != nil {
			return err
		}
		if err := d.Client.ExecuteRefundLeaf(ctx, bundleIds[leaf.ChainId], leaf, proof); err != nil {
			return fmt.Errorf("failed to execute refund leaf %d on chain %d: %w", leaf.LeafId, leaf.ChainId, err)
		}
	}
	return nil
}

// Close shuts down all test servers
func (tc *TestCluster) Close() {
	for chainId, d := range tc.Domains {
		if d.Server != nil {
			d.Server.Close()
			d.Server = nil
			tc.logger.Sugar().Debugw("Closed domain", "chain_id", chainId)
		}
	}
}
