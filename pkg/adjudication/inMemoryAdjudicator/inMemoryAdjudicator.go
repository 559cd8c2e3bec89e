package inMemoryAdjudicator

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/adjudication"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

type pendingRequest struct {
	id      string
	request *types.DisputeRequest
	seq     uint64
}

// InMemoryAdjudicator queues dispute requests until an operator (or a test) resolves them.
type InMemoryAdjudicator struct {
	logger *zap.Logger
	pool   common.Address

	mu       sync.Mutex
	pending  map[string]*pendingRequest
	seq      uint64
	resolver adjudication.ResolveFunc
}

var _ adjudication.IAdjudicator = (*InMemoryAdjudicator)(nil)

func NewInMemoryAdjudicator(pool common.Address, logger *zap.Logger) *InMemoryAdjudicator {
	return &InMemoryAdjudicator{
		logger:  logger,
		pool:    pool,
		pending: make(map[string]*pendingRequest),
	}
}

// SetResolver registers the callback outcomes are delivered to.
func (a *InMemoryAdjudicator) SetResolver(resolver adjudication.ResolveFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resolver = resolver
}

func (a *InMemoryAdjudicator) PoolAddress() common.Address {
	return a.pool
}

func (a *InMemoryAdjudicator) RequestAdjudication(ctx context.Context, req *types.DisputeRequest) (string, error) {
	if req == nil || req.Proposal == nil {
		return "", errors.New("dispute request must carry the disputed proposal")
	}
	id := uuid.NewString()

	a.mu.Lock()
	a.seq++
	a.pending[id] = &pendingRequest{id: id, request: req, seq: a.seq}
	a.mu.Unlock()

	a.logger.Sugar().Infow("Queued adjudication request",
		"request_id", id,
		"chain_id", req.ChainId,
		"disputer", req.Disputer.Hex(),
		"root", req.Proposal.Root.Hex(),
	)
	return id, nil
}

func (a *InMemoryAdjudicator) CancelAdjudication(ctx context.Context, requestId string) error {
	a.mu.Lock()
	_, ok := a.pending[requestId]
	delete(a.pending, requestId)
	a.mu.Unlock()

	if !ok {
		return errors.Wrapf(adjudication.ErrUnknownRequest, "request %s", requestId)
	}
	a.logger.Sugar().Infow("Cancelled adjudication request", "request_id", requestId)
	return nil
}

// Pending returns the ids of unresolved requests in the order they were filed.
func (a *InMemoryAdjudicator) Pending() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	reqs := make([]*pendingRequest, 0, len(a.pending))
	for _, p := range a.pending {
		reqs = append(reqs, p)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].seq < reqs[j].seq })

	ids := make([]string, len(reqs))
	for i, p := range reqs {
		ids[i] = p.id
	}
	return ids
}

// Request returns the request filed under id, or nil.
func (a *InMemoryAdjudicator) Request(id string) *types.DisputeRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.pending[id]; ok {
		return p.request
	}
	return nil
}

// Resolve delivers outcome for request id to the registered resolver. The request stays queued
// if delivery fails.
func (a *InMemoryAdjudicator) Resolve(ctx context.Context, id string, outcome types.DisputeOutcome) error {
	a.mu.Lock()
	_, ok := a.pending[id]
	resolver := a.resolver
	a.mu.Unlock()

	if !ok {
		return errors.Wrapf(adjudication.ErrUnknownRequest, "request %s", id)
	}
	if resolver == nil {
		return errors.New("no resolver registered")
	}
	if err := resolver(ctx, id, outcome); err != nil {
		return errors.Wrapf(err, "failed to deliver outcome for request %s", id)
	}

	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()

	a.logger.Sugar().Infow("Resolved adjudication request", "request_id", id, "outcome", outcome)
	return nil
}
