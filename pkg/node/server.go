package node

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

/*
Server exposes one settlement domain over HTTP.

Hub Flow (proposal engine):
  POST /proposals:
    - Request: { proposer, leafCount, root, metadataRoots }
    - Pulls the proposer bond and publishes the root
    - Rejected while the previous proposal still has unclaimed leaves

  POST /proposals/dispute:
    - Request: { disputer }
    - Only while the liveness window is open
    - Hands the live proposal to the adjudicator and clears it
    - Response: { requestId }

  POST /proposals/claim:
    - Request: { caller, leaf, proof }
    - Only after the liveness window has passed
    - Verifies the leaf, marks it claimed and dispatches its payload
    - The proposer bond is repaid on the first claim

  GET /proposals/current, GET /claims/{leafId}

Dispute Flow:
  POST /disputes/resolve:
    - Request: { requestId, outcome }
    - Records the adjudicator's final outcome; the proposal is never restored

  GET /disputes

Spoke Flow (root bundles):
  POST /bundles:                      relay a refund root and a slow relay root
  POST /bundles/{id}/refund:          execute a refund leaf
  POST /bundles/{id}/slow-relay:      execute a slow relay leaf
  DELETE /bundles/{id}:               emergency delete
  GET /bundles, GET /relays/{relayHash}

Stateless:
  POST /verify/{kind}: check a leaf against any root
  GET /health

Development bond manager only:
  POST /bonds/deposit, GET /bonds/{address}
*/

// Server handles HTTP requests for the node
type Server struct {
	node       *Node
	httpServer *http.Server
	limiter    *rate.Limiter
}

// NewServer creates a new server instance. A non-positive rateLimit disables request limiting.
func NewServer(node *Node, port int, rateLimit float64, rateBurst int) *Server {
	s := &Server{
		node: node,
	}
	if rateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(rateLimit), rateBurst)
	}

	mux := http.NewServeMux()

	// Proposal endpoints
	mux.HandleFunc("POST /proposals", s.handlePropose)
	mux.HandleFunc("POST /proposals/dispute", s.handleDispute)
	mux.HandleFunc("POST /proposals/claim", s.handleClaim)
	mux.HandleFunc("GET /proposals/current", s.handleGetProposal)
	mux.HandleFunc("GET /claims/{leafId}", s.handleGetClaimStatus)

	// Dispute endpoints
	mux.HandleFunc("POST /disputes/resolve", s.handleResolveDispute)
	mux.HandleFunc("GET /disputes", s.handleListDisputes)

	// Verification endpoint
	mux.HandleFunc("POST /verify/{kind}", s.handleVerify)

	// Spoke endpoints
	mux.HandleFunc("POST /bundles", s.handleRelayRootBundle)
	mux.HandleFunc("GET /bundles", s.handleListRootBundles)
	mux.HandleFunc("POST /bundles/{id}/refund", s.handleExecuteRefundLeaf)
	mux.HandleFunc("POST /bundles/{id}/slow-relay", s.handleExecuteSlowRelayLeaf)
	mux.HandleFunc("DELETE /bundles/{id}", s.handleDeleteRootBundle)
	mux.HandleFunc("GET /relays/{relayHash}", s.handleGetRelayStatus)

	// Development bond endpoints
	if _, ok := node.bonds.(depositor); ok {
		mux.HandleFunc("POST /bonds/deposit", s.handleDeposit)
		mux.HandleFunc("GET /bonds/{address}", s.handleGetBalance)
	}

	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.rateLimit(mux),
	}

	return s
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.node.logger.Sugar().Warnw("Rate limit exceeded", "chain_id", s.node.ChainId, "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.node.logger.Sugar().Infow("Starting HTTP server", "chain_id", s.node.ChainId, "port", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.node.logger.Sugar().Errorw("HTTP server error", "chain_id", s.node.ChainId, "error", err)
		}
	}()
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	return s.httpServer.Close()
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}
