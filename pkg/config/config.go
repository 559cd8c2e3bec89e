package config

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for settlement server configuration
const (
	EnvSettlementConfigFile       = "SETTLEMENT_CONFIG_FILE"
	EnvSettlementPort             = "SETTLEMENT_PORT"
	EnvSettlementChainID          = "SETTLEMENT_CHAIN_ID"
	EnvSettlementBondAmount       = "SETTLEMENT_BOND_AMOUNT"
	EnvSettlementLiveness         = "SETTLEMENT_LIVENESS"
	EnvSettlementSingleWordBitmap = "SETTLEMENT_SINGLE_WORD_BITMAP"
	EnvSettlementAdjudicatorPool  = "SETTLEMENT_ADJUDICATOR_POOL"
	EnvSettlementRateLimit        = "SETTLEMENT_RATE_LIMIT"
	EnvSettlementRateBurst        = "SETTLEMENT_RATE_BURST"
	EnvSettlementVerbose          = "SETTLEMENT_VERBOSE"

	EnvSettlementPersistenceType = "SETTLEMENT_PERSISTENCE_TYPE"
	EnvSettlementDataPath        = "SETTLEMENT_DATA_PATH"
	EnvSettlementRedisAddress    = "SETTLEMENT_REDIS_ADDRESS"
	EnvSettlementRedisPassword   = "SETTLEMENT_REDIS_PASSWORD"
	EnvSettlementRedisDB         = "SETTLEMENT_REDIS_DB"

	EnvSettlementNodeURL = "SETTLEMENT_NODE_URL"
)

type ChainId uint64

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
	ChainId_Optimism        ChainId = 10
	ChainId_Polygon         ChainId = 137
	ChainId_Base            ChainId = 8453
	ChainId_Arbitrum        ChainId = 42161
	ChainId_Solana          ChainId = 34268394551451 // non-EVM, addresses are full 32 byte keys
)

type ChainName string

const (
	ChainName_EthereumMainnet ChainName = "mainnet"
	ChainName_EthereumSepolia ChainName = "sepolia"
	ChainName_EthereumAnvil   ChainName = "devnet"
	ChainName_Optimism        ChainName = "optimism"
	ChainName_Polygon         ChainName = "polygon"
	ChainName_Base            ChainName = "base"
	ChainName_Arbitrum        ChainName = "arbitrum"
	ChainName_Solana          ChainName = "solana"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_EthereumMainnet: ChainName_EthereumMainnet,
	ChainId_EthereumSepolia: ChainName_EthereumSepolia,
	ChainId_EthereumAnvil:   ChainName_EthereumAnvil,
	ChainId_Optimism:        ChainName_Optimism,
	ChainId_Polygon:         ChainName_Polygon,
	ChainId_Base:            ChainName_Base,
	ChainId_Arbitrum:        ChainName_Arbitrum,
	ChainId_Solana:          ChainName_Solana,
}
var ChainNameToId = map[ChainName]ChainId{
	ChainName_EthereumMainnet: ChainId_EthereumMainnet,
	ChainName_EthereumSepolia: ChainId_EthereumSepolia,
	ChainName_EthereumAnvil:   ChainId_EthereumAnvil,
	ChainName_Optimism:        ChainId_Optimism,
	ChainName_Polygon:         ChainId_Polygon,
	ChainName_Base:            ChainId_Base,
	ChainName_Arbitrum:        ChainId_Arbitrum,
	ChainName_Solana:          ChainId_Solana,
}

// IsHubChain reports whether the chain hosts the hub ledger. Hub domains settle rebalance
// leaves, whose ids fit a single bitmap word.
func IsHubChain(chainId ChainId) bool {
	switch chainId {
	case ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil:
		return true
	default:
		return false
	}
}

// Liveness defaults by chain
const (
	Liveness_Mainnet = 2 * time.Hour
	Liveness_Testnet = 15 * time.Minute
	Liveness_Anvil   = 30 * time.Second
)

// GetLivenessForChain returns the default dispute window for proposals on a given chain
func GetLivenessForChain(chainId ChainId) time.Duration {
	switch chainId {
	case ChainId_EthereumSepolia:
		return Liveness_Testnet
	case ChainId_EthereumAnvil:
		return Liveness_Anvil
	default:
		return Liveness_Mainnet // Default to mainnet liveness
	}
}

type PersistenceType string

const (
	PersistenceType_Memory PersistenceType = "memory"
	PersistenceType_Badger PersistenceType = "badger"
	PersistenceType_Redis  PersistenceType = "redis"
)

type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// PersistenceConfig selects and configures the storage backend of a node
type PersistenceConfig struct {
	Type     PersistenceType `json:"type" yaml:"type"`
	DataPath string          `json:"dataPath" yaml:"dataPath"`
	Redis    RedisConfig     `json:"redis" yaml:"redis"`
}

func (pc *PersistenceConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch pc.Type {
	case PersistenceType_Memory:
	case PersistenceType_Badger:
		if pc.DataPath == "" {
			allErrors = append(allErrors, field.Required(path.Child("dataPath"), "dataPath is required for badger persistence"))
		}
	case PersistenceType_Redis:
		if pc.Redis.Address == "" {
			allErrors = append(allErrors, field.Required(path.Child("redis", "address"), "address is required for redis persistence"))
		}
		if pc.Redis.DB < 0 || pc.Redis.DB > 15 {
			allErrors = append(allErrors, field.Invalid(path.Child("redis", "db"), pc.Redis.DB, "must be between 0-15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), pc.Type,
			[]string{string(PersistenceType_Memory), string(PersistenceType_Badger), string(PersistenceType_Redis)}))
	}
	return allErrors
}

// RedisKeyPrefix namespaces a domain's keys so several domains can share one Redis
func RedisKeyPrefix(chainId ChainId) string {
	return fmt.Sprintf("chain-%d:", chainId)
}

// SettlementServerConfig represents the complete configuration for one settlement domain
type SettlementServerConfig struct {
	Port int `json:"port" yaml:"port"`

	// Chain configuration
	ChainID   ChainId   `json:"chainId" yaml:"chainId"`
	ChainName ChainName `json:"chainName" yaml:"-"`

	// Proposal parameters
	BondAmount       string        `json:"bondAmount" yaml:"bondAmount"` // decimal wei
	Liveness         time.Duration `json:"liveness" yaml:"liveness"`
	SingleWordBitmap bool          `json:"singleWordBitmap" yaml:"singleWordBitmap"`
	AdjudicatorPool  string        `json:"adjudicatorPool" yaml:"adjudicatorPool"`

	// Request limiting
	RateLimit float64 `json:"rateLimit" yaml:"rateLimit"` // requests per second, 0 disables
	RateBurst int     `json:"rateBurst" yaml:"rateBurst"`

	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`

	// Operational settings
	Debug   bool `json:"debug" yaml:"debug"`
	Verbose bool `json:"verbose" yaml:"verbose"`
}

// Validate validates the settlement server configuration, filling in the chain name and the
// chain's default liveness when none is set
func (c *SettlementServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}

	chainName, exists := ChainIdToName[c.ChainID]
	if !exists {
		allErrors = append(allErrors, field.Invalid(field.NewPath("chainId"), c.ChainID,
			fmt.Sprintf("unsupported chain ID. Supported: %s", GetSupportedChainIDsString())))
	} else {
		c.ChainName = chainName
	}

	if _, err := c.BondAmountWei(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("bondAmount"), c.BondAmount, err.Error()))
	}

	if c.Liveness < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("liveness"), c.Liveness.String(), "must not be negative"))
	} else if c.Liveness == 0 {
		c.Liveness = GetLivenessForChain(c.ChainID)
	}

	if c.AdjudicatorPool == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("adjudicatorPool"), "adjudicatorPool is required"))
	} else if !common.IsHexAddress(c.AdjudicatorPool) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("adjudicatorPool"), c.AdjudicatorPool, "invalid address format"))
	}

	if c.RateLimit < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimit"), c.RateLimit, "must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateBurst"), c.RateBurst, "must be at least 1 when rate limiting is enabled"))
	}

	allErrors = append(allErrors, c.Persistence.validate(field.NewPath("persistence"))...)

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// BondAmountWei parses the bond amount as a non-negative decimal integer
func (c *SettlementServerConfig) BondAmountWei() (*big.Int, error) {
	return ParseAmount(c.BondAmount)
}

// ParseAmount parses a non-negative decimal integer amount
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount: %s", s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %s", s)
	}
	return amount, nil
}

// LoadConfigFile reads a YAML configuration file. Unknown keys are rejected.
func LoadConfigFile(path string) (*SettlementServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration document
func ParseConfig(data []byte) (*SettlementServerConfig, error) {
	cfg := &SettlementServerConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// GetSupportedChainIDs returns all supported chain IDs
func GetSupportedChainIDs() []ChainId {
	return []ChainId{
		ChainId_EthereumMainnet,
		ChainId_EthereumSepolia,
		ChainId_EthereumAnvil,
		ChainId_Optimism,
		ChainId_Polygon,
		ChainId_Base,
		ChainId_Arbitrum,
		ChainId_Solana,
	}
}

// GetSupportedChainIDsString returns supported chain IDs as strings for CLI help
func GetSupportedChainIDsString() string {
	parts := make([]string, 0, len(ChainIdToName))
	for _, id := range GetSupportedChainIDs() {
		parts = append(parts, fmt.Sprintf("%d (%s)", id, ChainIdToName[id]))
	}
	return strings.Join(parts, ", ")
}
