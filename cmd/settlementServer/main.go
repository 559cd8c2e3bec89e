package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/config"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/node"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence/badger"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/persistence/redis"
)

func main() {
	app := &cli.App{
		Name:  "settlement-server",
		Usage: "Optimistic cross-chain batch settlement node",
		Description: `Runs one settlement domain behind an HTTP API.

The node serves:
- Bonded root proposals with a liveness window, disputes and per-leaf claims
- Dispute records and their adjudication
- Spoke root bundles with refund and slow relay execution
- Stateless proof verification for every leaf kind

Flags override values read from --config.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{config.EnvSettlementConfigFile},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8000,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvSettlementPort},
			},
			&cli.Uint64Flag{
				Name:    "chain-id",
				Aliases: []string{"chain"},
				Usage:   fmt.Sprintf("Chain ID of the domain: %s", config.GetSupportedChainIDsString()),
				EnvVars: []string{config.EnvSettlementChainID},
			},
			&cli.StringFlag{
				Name:    "bond-amount",
				Usage:   "Proposal bond in wei (decimal)",
				Value:   "1000000000000000000",
				EnvVars: []string{config.EnvSettlementBondAmount},
			},
			&cli.DurationFlag{
				Name:    "liveness",
				Usage:   "Dispute window of a proposal (0 uses the chain default)",
				EnvVars: []string{config.EnvSettlementLiveness},
			},
			&cli.BoolFlag{
				Name:    "single-word-bitmap",
				Usage:   "Track claims in a single 256 bit word (hub domains)",
				EnvVars: []string{config.EnvSettlementSingleWordBitmap},
			},
			&cli.StringFlag{
				Name:    "adjudicator-pool",
				Aliases: []string{"pool"},
				Usage:   "Address that receives forfeited bonds",
				EnvVars: []string{config.EnvSettlementAdjudicatorPool},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Usage:   "Requests per second accepted by the API (0 disables limiting)",
				EnvVars: []string{config.EnvSettlementRateLimit},
			},
			&cli.IntFlag{
				Name:    "rate-burst",
				Usage:   "Burst size of the API rate limiter",
				Value:   20,
				EnvVars: []string{config.EnvSettlementRateBurst},
			},
			&cli.StringFlag{
				Name:    "persistence",
				Usage:   "Storage backend: memory, badger or redis",
				Value:   string(config.PersistenceType_Memory),
				EnvVars: []string{config.EnvSettlementPersistenceType},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Usage:   "Badger data directory",
				EnvVars: []string{config.EnvSettlementDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis server address (host:port)",
				EnvVars: []string{config.EnvSettlementRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvSettlementRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvSettlementRedisDB},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvSettlementVerbose},
			},
		},
		Action: runSettlementServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runSettlementServer(c *cli.Context) error {
	cfg, err := parseSettlementConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug || cfg.Verbose})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	bond, err := cfg.BondAmountWei()
	if err != nil {
		return err
	}

	store, err := newPersistence(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}

	l.Sugar().Infow("Using chain",
		"name", cfg.ChainName,
		"chain_id", cfg.ChainID,
		"hub", config.IsHubChain(cfg.ChainID),
		"persistence", cfg.Persistence.Type,
	)

	n, err := node.NewNode(node.Config{
		ChainId:          uint64(cfg.ChainID),
		Port:             cfg.Port,
		BondAmount:       bond,
		Liveness:         cfg.Liveness,
		SingleWordBitmap: cfg.SingleWordBitmap,
		AdjudicatorPool:  common.HexToAddress(cfg.AdjudicatorPool),
		RateLimit:        cfg.RateLimit,
		RateBurst:        cfg.RateBurst,
		Logger:           l,
	}, node.Dependencies{Persistence: store})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create node: %w", err)
	}

	if cfg.Verbose {
		l.Sugar().Infow("Settlement Server Configuration",
			"port", cfg.Port,
			"chain", cfg.ChainName,
			"bond_amount", bond.String(),
			"liveness", cfg.Liveness,
			"single_word_bitmap", cfg.SingleWordBitmap,
			"adjudicator_pool", cfg.AdjudicatorPool,
			"rate_limit", cfg.RateLimit,
			"rate_burst", cfg.RateBurst)
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	l.Sugar().Infow("Settlement Server running", "chain_id", cfg.ChainID, "port", cfg.Port)
	l.Sugar().Infow("Available endpoints",
		"proposals", "POST /proposals, /proposals/dispute, /proposals/claim",
		"disputes", "GET /disputes, POST /disputes/resolve",
		"bundles", "POST /bundles, /bundles/{id}/refund, /bundles/{id}/slow-relay",
		"verify", "POST /verify/{kind}")
	l.Sugar().Info("Press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	l.Sugar().Infow("Shutting down Settlement Server", "chain_id", cfg.ChainID)
	return n.Stop()
}

// parseSettlementConfig starts from the config file when one is given and lets explicitly set
// flags override it. Without a file every flag value, default or not, is used.
func parseSettlementConfig(c *cli.Context) (*config.SettlementServerConfig, error) {
	cfg := &config.SettlementServerConfig{}
	fromFile := false
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		fromFile = true
	}
	use := func(name string) bool { return !fromFile || c.IsSet(name) }

	if use("port") {
		cfg.Port = c.Int("port")
	}
	if use("chain-id") {
		cfg.ChainID = config.ChainId(c.Uint64("chain-id"))
	}
	if use("bond-amount") {
		cfg.BondAmount = c.String("bond-amount")
	}
	if use("liveness") {
		cfg.Liveness = c.Duration("liveness")
	}
	if use("single-word-bitmap") {
		cfg.SingleWordBitmap = c.Bool("single-word-bitmap")
	}
	if use("adjudicator-pool") {
		cfg.AdjudicatorPool = c.String("adjudicator-pool")
	}
	if use("rate-limit") {
		cfg.RateLimit = c.Float64("rate-limit")
	}
	if use("rate-burst") {
		cfg.RateBurst = c.Int("rate-burst")
	}
	if use("persistence") {
		cfg.Persistence.Type = config.PersistenceType(c.String("persistence"))
	}
	if use("data-path") {
		cfg.Persistence.DataPath = c.String("data-path")
	}
	if use("redis-address") {
		cfg.Persistence.Redis.Address = c.String("redis-address")
	}
	if use("redis-password") {
		cfg.Persistence.Redis.Password = c.String("redis-password")
	}
	if use("redis-db") {
		cfg.Persistence.Redis.DB = c.Int("redis-db")
	}
	if use("verbose") {
		cfg.Verbose = c.Bool("verbose")
		cfg.Debug = cfg.Debug || cfg.Verbose
	}
	return cfg, nil
}

func newPersistence(cfg *config.SettlementServerConfig, l *zap.Logger) (persistence.ISettlementPersistence, error) {
	switch cfg.Persistence.Type {
	case config.PersistenceType_Badger:
		return badger.NewBadgerPersistence(cfg.Persistence.DataPath, l)
	case config.PersistenceType_Redis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.Persistence.Redis.Address,
			Password:  cfg.Persistence.Redis.Password,
			DB:        cfg.Persistence.Redis.DB,
			KeyPrefix: config.RedisKeyPrefix(cfg.ChainID),
		}, l)
	default:
		return memory.NewMemoryPersistence(), nil
	}
}
