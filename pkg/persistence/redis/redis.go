package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

// Key prefixes for namespacing in Redis
const (
	keyProposal          = "settlement:proposal:current"
	keySettledProposal   = "settlement:proposal:settled"
	keyPrefixDispute     = "settlement:dispute:"
	keyPrefixRootBundle  = "settlement:bundle:"
	keyNodeState         = "settlement:nodestate:main"
	keySchemaVersion     = "settlement:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Index sets for listing operations (Redis doesn't support prefix iteration natively)
	keySetDisputes     = "settlement:disputes:index"
	keySetRootBundles  = "settlement:bundles:index"
	keySetFilledRelays = "settlement:relays:filled"
)

// RedisPersistence is a production-ready persistence implementation using Redis.
// Provides durable, distributed storage suitable for cloud-native deployments.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

var _ persistence.ISettlementPersistence = (*RedisPersistence)(nil)

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key. Domains sharing one Redis must use distinct
	// prefixes, e.g. "chain-10:".
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	return r.keyPrefix + key
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

func (r *RedisPersistence) checkOpen() error {
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	return nil
}

// getBytes returns nil data when the key does not exist.
func (r *RedisPersistence) getBytes(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.prefixKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

// saveIndexed stores data under key and adds member to the index set in one pipeline.
func (r *RedisPersistence) saveIndexed(ctx context.Context, key string, data []byte, indexKey string, member string) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.prefixKey(key), data, 0)
	pipe.SAdd(ctx, r.prefixKey(indexKey), member)
	_, err := pipe.Exec(ctx)
	return err
}

// loadIndexed fetches every value listed in the index set, pruning members whose value is gone.
func (r *RedisPersistence) loadIndexed(ctx context.Context, indexKey, keyPrefix string) ([]string, [][]byte, error) {
	members, err := r.client.SMembers(ctx, r.prefixKey(indexKey)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read index %s: %w", indexKey, err)
	}
	if len(members) == 0 {
		return nil, nil, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = r.prefixKey(keyPrefix + m)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch indexed values: %w", err)
	}

	var foundKeys []string
	var found [][]byte
	for i, val := range values {
		if val == nil {
			// Key was in index but doesn't exist - clean up index
			r.client.SRem(ctx, r.prefixKey(indexKey), members[i])
			continue
		}
		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type in index", "key", keys[i])
			continue
		}
		foundKeys = append(foundKeys, keys[i])
		found = append(found, []byte(data))
	}
	return foundKeys, found, nil
}

// SaveProposal persists the proposal record
func (r *RedisPersistence) SaveProposal(proposal *types.Proposal) error {
	return r.saveProposal(keyProposal, proposal)
}

// LoadProposal retrieves the proposal record
func (r *RedisPersistence) LoadProposal() (*types.Proposal, error) {
	return r.loadProposal(keyProposal)
}

// SaveSettledProposal persists the last fully claimed proposal
func (r *RedisPersistence) SaveSettledProposal(proposal *types.Proposal) error {
	return r.saveProposal(keySettledProposal, proposal)
}

// LoadSettledProposal retrieves the last fully claimed proposal
func (r *RedisPersistence) LoadSettledProposal() (*types.Proposal, error) {
	return r.loadProposal(keySettledProposal)
}

func (r *RedisPersistence) saveProposal(key string, proposal *types.Proposal) error {
	if proposal == nil {
		return fmt.Errorf("cannot save nil Proposal")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return err
	}

	data, err := persistence.MarshalProposal(proposal)
	if err != nil {
		return fmt.Errorf("failed to marshal Proposal: %w", err)
	}

	return r.client.Set(context.Background(), r.prefixKey(key), data, 0).Err()
}

func (r *RedisPersistence) loadProposal(key string) (*types.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	data, err := r.getBytes(context.Background(), key)
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
func (r *RedisPersistence) SaveDispute(dispute *types.DisputeRecord) error {
	if dispute == nil {
		return fmt.Errorf("cannot save nil DisputeRecord")
	}
	if dispute.RequestId == "" {
		return fmt.Errorf("cannot save DisputeRecord without request id")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return err
	}

	data, err := persistence.MarshalDisputeRecord(dispute)
	if err != nil {
		return fmt.Errorf("failed to marshal DisputeRecord: %w", err)
	}

	if err := r.saveIndexed(context.Background(), keyPrefixDispute+dispute.RequestId, data, keySetDisputes, dispute.RequestId); err != nil {
		return fmt.Errorf("failed to save DisputeRecord: %w", err)
	}
	return nil
}

// LoadDispute retrieves a dispute record
func (r *RedisPersistence) LoadDispute(requestId string) (*types.DisputeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	data, err := r.getBytes(context.Background(), keyPrefixDispute+requestId)
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
func (r *RedisPersistence) ListDisputes() ([]*types.DisputeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	keys, values, err := r.loadIndexed(context.Background(), keySetDisputes, keyPrefixDispute)
	if err != nil {
		return nil, fmt.Errorf("failed to list DisputeRecords: %w", err)
	}

	disputes := make([]*types.DisputeRecord, 0, len(values))
	for i, data := range values {
		dispute, err := persistence.UnmarshalDisputeRecord(data)
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal DisputeRecord, skipping", "key", keys[i], "error", err)
			continue
		}
		disputes = append(disputes, dispute)
	}

	sort.SliceStable(disputes, func(i, j int) bool {
		return disputes[i].DisputedAt < disputes[j].DisputedAt
	})

	return disputes, nil
}

// SaveRootBundle persists a root bundle
func (r *RedisPersistence) SaveRootBundle(bundle *types.RootBundle) error {
	if bundle == nil {
		return fmt.Errorf("cannot save nil RootBundle")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return err
	}

	data, err := persistence.MarshalRootBundle(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal RootBundle: %w", err)
	}

	id := strconv.FormatUint(uint64(bundle.Id), 10)
	if err := r.saveIndexed(context.Background(), keyPrefixRootBundle+id, data, keySetRootBundles, id); err != nil {
		return fmt.Errorf("failed to save RootBundle: %w", err)
	}
	return nil
}

// LoadRootBundle retrieves a root bundle
func (r *RedisPersistence) LoadRootBundle(id uint32) (*types.RootBundle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	data, err := r.getBytes(context.Background(), keyPrefixRootBundle+strconv.FormatUint(uint64(id), 10))
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
func (r *RedisPersistence) ListRootBundles() ([]*types.RootBundle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	keys, values, err := r.loadIndexed(context.Background(), keySetRootBundles, keyPrefixRootBundle)
	if err != nil {
		return nil, fmt.Errorf("failed to list RootBundles: %w", err)
	}

	bundles := make([]*types.RootBundle, 0, len(values))
	for i, data := range values {
		bundle, err := persistence.UnmarshalRootBundle(data)
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal RootBundle, skipping", "key", keys[i], "error", err)
			continue
		}
		bundles = append(bundles, bundle)
	}

	sort.Slice(bundles, func(i, j int) bool {
		return bundles[i].Id < bundles[j].Id
	})

	return bundles, nil
}

// DeleteRootBundle removes a root bundle
func (r *RedisPersistence) DeleteRootBundle(id uint32) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return err
	}

	ctx := context.Background()
	member := strconv.FormatUint(uint64(id), 10)

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.prefixKey(keyPrefixRootBundle+member))
	pipe.SRem(ctx, r.prefixKey(keySetRootBundles), member)

	_, err := pipe.Exec(ctx)
	return err
}

// MarkRelayFilled records a filled relay
func (r *RedisPersistence) MarkRelayFilled(relayHash common.Hash) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return err
	}

	return r.client.SAdd(context.Background(), r.prefixKey(keySetFilledRelays), relayHash.Hex()).Err()
}

// UnmarkRelayFilled forgets a filled relay
func (r *RedisPersistence) UnmarkRelayFilled(relayHash common.Hash) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return err
	}

	return r.client.SRem(context.Background(), r.prefixKey(keySetFilledRelays), relayHash.Hex()).Err()
}

// ListFilledRelays returns every filled relay hash
func (r *RedisPersistence) ListFilledRelays() ([]common.Hash, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	members, err := r.client.SMembers(context.Background(), r.prefixKey(keySetFilledRelays)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list filled relays: %w", err)
	}

	relays := make([]common.Hash, len(members))
	for i, m := range members {
		relays[i] = common.HexToHash(m)
	}
	return relays, nil
}

// SaveNodeState persists node operational state
func (r *RedisPersistence) SaveNodeState(state *persistence.NodeState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil NodeState")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return err
	}

	data, err := persistence.MarshalNodeState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal NodeState: %w", err)
	}

	return r.client.Set(context.Background(), r.prefixKey(keyNodeState), data, 0).Err()
}

// LoadNodeState retrieves node operational state
func (r *RedisPersistence) LoadNodeState() (*persistence.NodeState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	data, err := r.getBytes(context.Background(), keyNodeState)
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
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
