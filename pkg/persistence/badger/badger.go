package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

// Key prefixes for namespacing
const (
	keyProposal          = "proposal:current"
	keySettledProposal   = "proposal:settled"
	keyPrefixDispute     = "dispute:"
	keyPrefixRootBundle  = "bundle:"
	keyPrefixFilledRelay = "relay:filled:"
	keyNodeState         = "nodestate:main"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerPersistence is a production-ready persistence implementation using Badger.
// Provides durable, disk-based storage with ACID guarantees.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

var _ persistence.ISettlementPersistence = (*BadgerPersistence)(nil)

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for durability.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = newBadgerLogger(logger)
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic value log garbage collection in the background
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *BadgerPersistence) checkOpen() error {
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	return nil
}

func (b *BadgerPersistence) put(key string, data []byte) error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// get returns nil data when the key does not exist.
func (b *BadgerPersistence) get(key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	return data, err
}

// scan calls fn with the key and a copy of the value of every key under prefix.
func (b *BadgerPersistence) scan(prefix string, fn func(key string, val []byte) error) error {
	return b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var data []byte
			err := item.Value(func(val []byte) error {
				data = append([]byte{}, val...)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}
			if err := fn(string(item.KeyCopy(nil)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveProposal persists the proposal record
func (b *BadgerPersistence) SaveProposal(proposal *types.Proposal) error {
	return b.saveProposal(keyProposal, proposal)
}

// LoadProposal retrieves the proposal record
func (b *BadgerPersistence) LoadProposal() (*types.Proposal, error) {
	return b.loadProposal(keyProposal)
}

// SaveSettledProposal persists the last fully claimed proposal
func (b *BadgerPersistence) SaveSettledProposal(proposal *types.Proposal) error {
	return b.saveProposal(keySettledProposal, proposal)
}

// LoadSettledProposal retrieves the last fully claimed proposal
func (b *BadgerPersistence) LoadSettledProposal() (*types.Proposal, error) {
	return b.loadProposal(keySettledProposal)
}

func (b *BadgerPersistence) saveProposal(key string, proposal *types.Proposal) error {
	if proposal == nil {
		return fmt.Errorf("cannot save nil Proposal")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := persistence.MarshalProposal(proposal)
	if err != nil {
		return fmt.Errorf("failed to marshal Proposal: %w", err)
	}

	return b.put(key, data)
}

func (b *BadgerPersistence) loadProposal(key string) (*types.Proposal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to load Proposal: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	proposal, err := persistence.UnmarshalProposal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal Proposal: %w", err)
	}

	return proposal, nil
}

// SaveDispute persists a dispute record
func (b *BadgerPersistence) SaveDispute(dispute *types.DisputeRecord) error {
	if dispute == nil {
		return fmt.Errorf("cannot save nil DisputeRecord")
	}
	if dispute.RequestId == "" {
		return fmt.Errorf("cannot save DisputeRecord without request id")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := persistence.MarshalDisputeRecord(dispute)
	if err != nil {
		return fmt.Errorf("failed to marshal DisputeRecord: %w", err)
	}

	return b.put(keyPrefixDispute+dispute.RequestId, data)
}

// LoadDispute retrieves a dispute record
func (b *BadgerPersistence) LoadDispute(requestId string) (*types.DisputeRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.get(keyPrefixDispute + requestId)
	if err != nil {
		return nil, fmt.Errorf("failed to load DisputeRecord: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	dispute, err := persistence.UnmarshalDisputeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal DisputeRecord: %w", err)
	}

	return dispute, nil
}

// ListDisputes returns all dispute records sorted by dispute time
func (b *BadgerPersistence) ListDisputes() ([]*types.DisputeRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	disputes := make([]*types.DisputeRecord, 0)
	err := b.scan(keyPrefixDispute, func(key string, val []byte) error {
		dispute, err := persistence.UnmarshalDisputeRecord(val)
		if err != nil {
			b.logger.Sugar().Warnw("Failed to unmarshal DisputeRecord, skipping", "key", key, "error", err)
			return nil
		}
		disputes = append(disputes, dispute)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list DisputeRecords: %w", err)
	}

	sort.SliceStable(disputes, func(i, j int) bool {
		return disputes[i].DisputedAt < disputes[j].DisputedAt
	})

	return disputes, nil
}

func rootBundleKey(id uint32) string {
	// Zero padded so iteration order matches id order
	return fmt.Sprintf("%s%010d", keyPrefixRootBundle, id)
}

// SaveRootBundle persists a root bundle
func (b *BadgerPersistence) SaveRootBundle(bundle *types.RootBundle) error {
	if bundle == nil {
		return fmt.Errorf("cannot save nil RootBundle")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := persistence.MarshalRootBundle(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal RootBundle: %w", err)
	}

	return b.put(rootBundleKey(bundle.Id), data)
}

// LoadRootBundle retrieves a root bundle
func (b *BadgerPersistence) LoadRootBundle(id uint32) (*types.RootBundle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.get(rootBundleKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load RootBundle: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	bundle, err := persistence.UnmarshalRootBundle(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal RootBundle: %w", err)
	}

	return bundle, nil
}

// ListRootBundles returns all root bundles sorted by id
func (b *BadgerPersistence) ListRootBundles() ([]*types.RootBundle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	bundles := make([]*types.RootBundle, 0)
	err := b.scan(keyPrefixRootBundle, func(key string, val []byte) error {
		bundle, err := persistence.UnmarshalRootBundle(val)
		if err != nil {
			b.logger.Sugar().Warnw("Failed to unmarshal RootBundle, skipping", "key", key, "error", err)
			return nil
		}
		bundles = append(bundles, bundle)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list RootBundles: %w", err)
	}

	sort.Slice(bundles, func(i, j int) bool {
		return bundles[i].Id < bundles[j].Id
	})

	return bundles, nil
}

// DeleteRootBundle removes a root bundle
func (b *BadgerPersistence) DeleteRootBundle(id uint32) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(rootBundleKey(id)))
	})
}

// MarkRelayFilled records a filled relay
func (b *BadgerPersistence) MarkRelayFilled(relayHash common.Hash) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.put(keyPrefixFilledRelay+relayHash.Hex(), []byte{1})
}

// UnmarkRelayFilled forgets a filled relay
func (b *BadgerPersistence) UnmarkRelayFilled(relayHash common.Hash) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(keyPrefixFilledRelay + relayHash.Hex()))
	})
}

// ListFilledRelays returns every filled relay hash
func (b *BadgerPersistence) ListFilledRelays() ([]common.Hash, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	relays := make([]common.Hash, 0)
	err := b.scan(keyPrefixFilledRelay, func(key string, val []byte) error {
		relays = append(relays, common.HexToHash(strings.TrimPrefix(key, keyPrefixFilledRelay)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list filled relays: %w", err)
	}

	return relays, nil
}

// SaveNodeState persists node operational state
func (b *BadgerPersistence) SaveNodeState(state *persistence.NodeState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil NodeState")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := persistence.MarshalNodeState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal NodeState: %w", err)
	}

	return b.put(keyNodeState, data)
}

// LoadNodeState retrieves node operational state
func (b *BadgerPersistence) LoadNodeState() (*persistence.NodeState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.get(keyNodeState)
	if err != nil {
		return nil, fmt.Errorf("failed to load NodeState: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	state, err := persistence.UnmarshalNodeState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal NodeState: %w", err)
	}

	return state, nil
}

// Close shuts down the persistence layer
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
