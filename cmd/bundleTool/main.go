package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bundle"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/client"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/config"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/verifier"
)

func main() {
	nodeFlag := &cli.StringFlag{
		Name:    "node-url",
		Usage:   "Settlement node base URL",
		Value:   "http://localhost:8000",
		EnvVars: []string{config.EnvSettlementNodeURL},
	}
	manifestFlag := &cli.StringFlag{
		Name:     "manifest",
		Aliases:  []string{"m"},
		Usage:    "Manifest file written by build (.json, .yaml)",
		Required: true,
	}

	app := &cli.App{
		Name:  "bundle-tool",
		Usage: "Build settlement bundles and drive them through a settlement node",
		Description: `Builds the rebalance, refund and slow relay trees of a settlement epoch from a leaf file
and writes a manifest holding the roots and a proof for every leaf.

The manifest can then be verified offline, proposed to a hub node, claimed leaf by leaf,
relayed to spoke nodes and executed there.`,
		Version: "1.0.0",
		Commands: []*cli.Command{
			{
				Name:  "build",
				Usage: "Build the trees of a leaf file and write a manifest",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "leaves",
						Aliases:  []string{"l"},
						Usage:    "Leaf file (.json, .yaml)",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Manifest output file, stdout when empty",
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format when writing to stdout: json or yaml",
						Value: string(bundle.FormatJSON),
					},
				},
				Action: buildCommand,
			},
			{
				Name:   "verify",
				Usage:  "Check every proof in a manifest offline",
				Flags:  []cli.Flag{manifestFlag},
				Action: verifyCommand,
			},
			{
				Name:  "propose",
				Usage: "Propose the manifest's rebalance root to a hub node",
				Flags: []cli.Flag{
					nodeFlag,
					manifestFlag,
					&cli.StringFlag{
						Name:     "proposer",
						Usage:    "Proposer address",
						Required: true,
					},
				},
				Action: proposeCommand,
			},
			{
				Name:  "claim",
				Usage: "Claim every rebalance leaf of the manifest that belongs to the node's chain",
				Flags: []cli.Flag{
					nodeFlag,
					manifestFlag,
					&cli.StringFlag{
						Name:     "caller",
						Usage:    "Address submitting the claims",
						Required: true,
					},
				},
				Action: claimCommand,
			},
			{
				Name:   "relay",
				Usage:  "Relay the manifest's refund and slow relay roots to a spoke node",
				Flags:  []cli.Flag{nodeFlag, manifestFlag},
				Action: relayCommand,
			},
			{
				Name:  "execute",
				Usage: "Execute the refund and slow relay leaves of a relayed bundle on a spoke node",
				Flags: []cli.Flag{
					nodeFlag,
					manifestFlag,
					&cli.UintFlag{
						Name:     "bundle-id",
						Usage:    "Root bundle id returned by relay",
						Required: true,
					},
				},
				Action: executeCommand,
			},
			{
				Name:   "status",
				Usage:  "Show the node's live proposal",
				Flags:  []cli.Flag{nodeFlag},
				Action: statusCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// createClient creates a settlement node client from CLI context
func createClient(c *cli.Context) (*client.Client, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return client.NewClient(&client.ClientConfig{
		NodeURL: c.String("node-url"),
		Logger:  l,
	})
}

func buildCommand(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	leaves, err := bundle.LoadLeaves(c.String("leaves"))
	if err != nil {
		return err
	}
	b, err := bundle.NewBuilder(l).Build(leaves)
	if err != nil {
		return fmt.Errorf("failed to build bundle: %w", err)
	}
	m, err := b.Manifest()
	if err != nil {
		return fmt.Errorf("failed to generate proofs: %w", err)
	}

	out := c.String("output")
	if out == "" {
		return bundle.WriteManifest(os.Stdout, m, bundle.Format(c.String("format")))
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create manifest file: %w", err)
	}
	defer f.Close()
	if err := bundle.WriteManifest(f, m, bundle.FormatForPath(out)); err != nil {
		return err
	}

	fmt.Printf("Manifest written to: %s\n", out)
	printRoots(m.Roots)
	return nil
}

func verifyCommand(c *cli.Context) error {
	m, err := bundle.LoadManifest(c.String("manifest"))
	if err != nil {
		return err
	}

	failed := 0
	for i, p := range m.Proofs {
		leaf, err := p.Leaf.Leaf()
		if err != nil {
			return fmt.Errorf("proof %d: %w", i, err)
		}
		if !verifier.VerifyLeaf(p.Root, leaf, p.Proof) {
			failed++
			fmt.Printf("INVALID  %-10s chain=%d leaf=%s\n", leaf.Kind(), leaf.ChainID(), p.LeafHash.Hex())
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d proofs failed verification", failed, len(m.Proofs))
	}
	fmt.Printf("All %d proofs verified\n", len(m.Proofs))
	return nil
}

func proposeCommand(c *cli.Context) error {
	m, err := bundle.LoadManifest(c.String("manifest"))
	if err != nil {
		return err
	}
	proposer, err := parseAddress(c.String("proposer"))
	if err != nil {
		return err
	}
	nodeClient, err := createClient(c)
	if err != nil {
		return err
	}

	ctx := c.Context
	health, err := nodeClient.Health(ctx)
	if err != nil {
		return err
	}

	leafCount := uint32(0)
	for _, p := range m.Proofs {
		if p.Leaf.Rebalance != nil && p.Leaf.Rebalance.ChainId == health.ChainId {
			leafCount++
		}
	}

	resp, err := nodeClient.Propose(ctx, &types.ProposeRequest{
		Proposer:      proposer,
		LeafCount:     leafCount,
		Root:          m.Roots.Rebalance,
		MetadataRoots: m.Roots.MetadataRoots(),
	})
	if err != nil {
		return fmt.Errorf("failed to propose: %w", err)
	}
	fmt.Printf("Proposed %s on chain %d with %d leaves\n", m.Roots.Rebalance.Hex(), resp.ChainId, leafCount)
	return printJSON(resp)
}

func claimCommand(c *cli.Context) error {
	m, err := bundle.LoadManifest(c.String("manifest"))
	if err != nil {
		return err
	}
	caller, err := parseAddress(c.String("caller"))
	if err != nil {
		return err
	}
	nodeClient, err := createClient(c)
	if err != nil {
		return err
	}

	ctx := c.Context
	health, err := nodeClient.Health(ctx)
	if err != nil {
		return err
	}

	claimed := 0
	for _, p := range m.Proofs {
		leaf := p.Leaf.Rebalance
		if leaf == nil || leaf.ChainId != health.ChainId {
			continue
		}
		if _, err := nodeClient.Claim(ctx, caller, leaf, p.Proof); err != nil {
			return fmt.Errorf("failed to claim leaf %d: %w", leaf.LeafId, err)
		}
		claimed++
		fmt.Printf("Claimed leaf %d\n", leaf.LeafId)
	}
	fmt.Printf("Claimed %d leaves on chain %d\n", claimed, health.ChainId)
	return nil
}

func relayCommand(c *cli.Context) error {
	m, err := bundle.LoadManifest(c.String("manifest"))
	if err != nil {
		return err
	}
	nodeClient, err := createClient(c)
	if err != nil {
		return err
	}

	id, err := nodeClient.RelayRootBundle(c.Context, m.Roots.Refund, m.Roots.SlowRelay)
	if err != nil {
		return fmt.Errorf("failed to relay root bundle: %w", err)
	}
	fmt.Printf("Relayed root bundle %d\n", id)
	return nil
}

func executeCommand(c *cli.Context) error {
	m, err := bundle.LoadManifest(c.String("manifest"))
	if err != nil {
		return err
	}
	nodeClient, err := createClient(c)
	if err != nil {
		return err
	}

	ctx := c.Context
	health, err := nodeClient.Health(ctx)
	if err != nil {
		return err
	}
	bundleId := uint32(c.Uint("bundle-id"))

	executed := 0
	for _, p := range m.Proofs {
		ok, err := executeLeaf(ctx, nodeClient, bundleId, health.ChainId, p)
		if err != nil {
			return err
		}
		if ok {
			executed++
		}
	}
	fmt.Printf("Executed %d leaves of bundle %d on chain %d\n", executed, bundleId, health.ChainId)
	return nil
}

// executeLeaf executes p on the spoke when it is a refund or slow relay leaf of chainId.
func executeLeaf(ctx context.Context, nodeClient *client.Client, bundleId uint32, chainId uint64, p *bundle.LeafProof) (bool, error) {
	switch {
	case p.Leaf.Refund != nil && p.Leaf.Refund.ChainId == chainId:
		if err := nodeClient.ExecuteRefundLeaf(ctx, bundleId, p.Leaf.Refund, p.Proof); err != nil {
			return false, fmt.Errorf("failed to execute refund leaf %d: %w", p.Leaf.Refund.LeafId, err)
		}
		fmt.Printf("Executed refund leaf %d\n", p.Leaf.Refund.LeafId)
		return true, nil
	case p.Leaf.SlowRelay != nil && p.Leaf.SlowRelay.ChainId == chainId:
		if err := nodeClient.ExecuteSlowRelayLeaf(ctx, bundleId, p.Leaf.SlowRelay, p.Proof); err != nil {
			return false, fmt.Errorf("failed to execute slow relay leaf %s: %w", p.LeafHash.Hex(), err)
		}
		fmt.Printf("Executed slow relay leaf %s\n", p.LeafHash.Hex())
		return true, nil
	}
	return false, nil
}

func statusCommand(c *cli.Context) error {
	nodeClient, err := createClient(c)
	if err != nil {
		return err
	}
	resp, err := nodeClient.GetProposal(c.Context)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address: %s", s)
	}
	return common.HexToAddress(s), nil
}

func printRoots(r bundle.Roots) {
	fmt.Printf("  rebalance root:  %s (%d leaves)\n", r.Rebalance.Hex(), r.RebalanceLeafCount)
	fmt.Printf("  refund root:     %s\n", r.Refund.Hex())
	fmt.Printf("  slow relay root: %s\n", r.SlowRelay.Hex())
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
