package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

const defaultTimeout = 30 * time.Second

// ClientConfig holds the configuration for a settlement node client
type ClientConfig struct {
	NodeURL    string
	Logger     *zap.Logger
	HTTPClient *http.Client // Optional, a client with a 30s timeout is used if nil
}

// Client talks to the HTTP API of one settlement node
type Client struct {
	nodeURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// APIError is returned for every non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node returned status %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new settlement node client
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.NodeURL == "" {
		return nil, fmt.Errorf("node URL is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		nodeURL:    strings.TrimRight(config.NodeURL, "/"),
		httpClient: httpClient,
		logger:     config.Logger,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.nodeURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Sugar().Debugw("Sending request", "method", method, "url", req.URL.String())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var errResp types.ErrorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Propose publishes a new root on the node's domain
func (c *Client) Propose(ctx context.Context, req *types.ProposeRequest) (*types.ProposalResponse, error) {
	var resp types.ProposalResponse
	if err := c.do(ctx, http.MethodPost, "/proposals", req, &resp); err != nil {
		return nil, err
	}
	c.logger.Sugar().Infow("Proposed root", "chain_id", resp.ChainId, "root", req.Root.Hex(), "leaf_count", req.LeafCount)
	return &resp, nil
}

// Dispute disputes the live proposal and returns the adjudication request id
func (c *Client) Dispute(ctx context.Context, disputer common.Address) (string, error) {
	var resp types.DisputeProposalResponse
	if err := c.do(ctx, http.MethodPost, "/proposals/dispute", types.DisputeProposalRequest{Disputer: disputer}, &resp); err != nil {
		return "", err
	}
	return resp.RequestId, nil
}

// Claim redeems one leaf of the live proposal
func (c *Client) Claim(ctx context.Context, caller common.Address, leaf types.Leaf, proof []common.Hash) (*types.ProposalResponse, error) {
	env, err := types.WrapLeaf(leaf)
	if err != nil {
		return nil, err
	}
	var resp types.ProposalResponse
	if err := c.do(ctx, http.MethodPost, "/proposals/claim", types.ClaimRequest{Caller: caller, Leaf: env, Proof: proof}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetProposal(ctx context.Context) (*types.ProposalResponse, error) {
	var resp types.ProposalResponse
	if err := c.do(ctx, http.MethodGet, "/proposals/current", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) IsClaimed(ctx context.Context, leafId uint32) (bool, error) {
	var resp types.ClaimStatusResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/claims/%d", leafId), nil, &resp); err != nil {
		return false, err
	}
	return resp.Claimed, nil
}

// ResolveDispute delivers an adjudication outcome for a dispute
func (c *Client) ResolveDispute(ctx context.Context, requestId string, outcome types.DisputeOutcome) (*types.DisputeRecord, error) {
	var resp types.DisputeRecord
	req := types.ResolveDisputeRequest{RequestId: requestId, Outcome: string(outcome)}
	if err := c.do(ctx, http.MethodPost, "/disputes/resolve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListDisputes(ctx context.Context) ([]*types.DisputeRecord, error) {
	var resp []*types.DisputeRecord
	if err := c.do(ctx, http.MethodGet, "/disputes", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Verify checks a leaf against a root on the node without touching its state
func (c *Client) Verify(ctx context.Context, root common.Hash, leaf types.Leaf, proof []common.Hash) (*types.VerifyResponse, error) {
	env, err := types.WrapLeaf(leaf)
	if err != nil {
		return nil, err
	}
	var resp types.VerifyResponse
	path := "/verify/" + leaf.Kind().String()
	if err := c.do(ctx, http.MethodPost, path, types.VerifyRequest{Root: root, Leaf: env, Proof: proof}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RelayRootBundle hands a spoke node the roots of a hub proposal
func (c *Client) RelayRootBundle(ctx context.Context, refundRoot, slowRelayRoot common.Hash) (uint32, error) {
	var resp types.RelayRootBundleResponse
	req := types.RelayRootBundleRequest{RefundRoot: refundRoot, SlowRelayRoot: slowRelayRoot}
	if err := c.do(ctx, http.MethodPost, "/bundles", req, &resp); err != nil {
		return 0, err
	}
	c.logger.Sugar().Infow("Relayed root bundle", "bundle_id", resp.BundleId, "refund_root", refundRoot.Hex())
	return resp.BundleId, nil
}

func (c *Client) ListRootBundles(ctx context.Context) ([]*types.RootBundle, error) {
	var resp []*types.RootBundle
	if err := c.do(ctx, http.MethodGet, "/bundles", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) ExecuteRefundLeaf(ctx context.Context, bundleId uint32, leaf *types.RefundLeaf, proof []common.Hash) error {
	req := types.ExecuteLeafRequest{Leaf: &types.LeafEnvelope{Kind: types.LeafKindRefund.String(), Refund: leaf}, Proof: proof}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/bundles/%d/refund", bundleId), req, nil)
}

func (c *Client) ExecuteSlowRelayLeaf(ctx context.Context, bundleId uint32, leaf *types.SlowRelayLeaf, proof []common.Hash) error {
	req := types.ExecuteLeafRequest{Leaf: &types.LeafEnvelope{Kind: types.LeafKindSlowRelay.String(), SlowRelay: leaf}, Proof: proof}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/bundles/%d/slow-relay", bundleId), req, nil)
}

func (c *Client) DeleteRootBundle(ctx context.Context, bundleId uint32) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/bundles/%d", bundleId), nil, nil)
}

func (c *Client) RelayStatus(ctx context.Context, relayHash common.Hash) (string, error) {
	var resp types.RelayStatusResponse
	if err := c.do(ctx, http.MethodGet, "/relays/"+relayHash.Hex(), nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Deposit credits an account on a node running the development bond manager
func (c *Client) Deposit(ctx context.Context, account common.Address, amount *big.Int) (*big.Int, error) {
	var resp types.BalanceResponse
	if err := c.do(ctx, http.MethodPost, "/bonds/deposit", types.DepositRequest{Account: account, Amount: amount}, &resp); err != nil {
		return nil, err
	}
	return resp.Balance, nil
}

func (c *Client) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var resp types.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/bonds/"+account.Hex(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Balance, nil
}

func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var resp types.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
