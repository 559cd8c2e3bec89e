package node

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/adjudication"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bitmap"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/bonding"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/settlement"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/spoke"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
	"github.com/Layr-Labs/eigenx-settlement-go/pkg/verifier"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

// statusForError maps domain errors onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, settlement.ErrBadProof),
		errors.Is(err, settlement.ErrWrongDomain),
		errors.Is(err, settlement.ErrEmptyProposal),
		errors.Is(err, settlement.ErrInvalidOutcome),
		errors.Is(err, bitmap.ErrIndexOutOfRange),
		errors.Is(err, bonding.ErrInsufficientBalance),
		errors.Is(err, bonding.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, settlement.ErrAlreadyClaimed),
		errors.Is(err, settlement.ErrUnclaimedLeaves),
		errors.Is(err, settlement.ErrLivenessNotPassed),
		errors.Is(err, settlement.ErrLivenessExpired),
		errors.Is(err, settlement.ErrDisputeAlreadyResolved),
		errors.Is(err, spoke.ErrRelayFilled),
		errors.Is(err, spoke.ErrExpiredFillDeadline):
		return http.StatusConflict
	case errors.Is(err, settlement.ErrUnknownDispute),
		errors.Is(err, spoke.ErrUnknownRootBundle),
		errors.Is(err, adjudication.ErrUnknownRequest):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, op string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.node.logger.Sugar().Errorw("Request failed", "chain_id", s.node.ChainId, "op", op, "error", err)
	} else {
		s.node.logger.Sugar().Debugw("Request rejected", "chain_id", s.node.ChainId, "op", op, "error", err)
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return false
	}
	return true
}

// handlePropose handles POST /proposals
func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req types.ProposeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Proposer == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "proposer is required")
		return
	}

	if err := s.node.engine.Propose(r.Context(), req.Proposer, req.LeafCount, req.Root, req.MetadataRoots); err != nil {
		s.writeDomainError(w, "propose", err)
		return
	}

	writeJSON(w, http.StatusCreated, s.proposalResponse())
}

// handleDispute handles POST /proposals/dispute
func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	var req types.DisputeProposalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Disputer == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "disputer is required")
		return
	}

	requestId, err := s.node.engine.Dispute(r.Context(), req.Disputer)
	if err != nil {
		s.writeDomainError(w, "dispute", err)
		return
	}

	writeJSON(w, http.StatusAccepted, types.DisputeProposalResponse{RequestId: requestId})
}

// handleClaim handles POST /proposals/claim
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req types.ClaimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	leaf, err := req.Leaf.Leaf()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.node.engine.Claim(r.Context(), req.Caller, leaf, req.Proof); err != nil {
		s.writeDomainError(w, "claim", err)
		return
	}

	writeJSON(w, http.StatusOK, s.proposalResponse())
}

func (s *Server) proposalResponse() types.ProposalResponse {
	return types.ProposalResponse{
		ChainId:  s.node.ChainId,
		State:    s.node.engine.State().String(),
		Proposal: s.node.engine.Proposal(),
	}
}

// handleGetProposal handles GET /proposals/current
func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.proposalResponse())
}

// handleGetClaimStatus handles GET /claims/{leafId}
func (s *Server) handleGetClaimStatus(w http.ResponseWriter, r *http.Request) {
	leafId, err := strconv.ParseUint(r.PathValue("leafId"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "leafId must be a uint32")
		return
	}
	writeJSON(w, http.StatusOK, types.ClaimStatusResponse{
		LeafId:  uint32(leafId),
		Claimed: s.node.engine.IsClaimed(uint32(leafId)),
	})
}

// handleResolveDispute handles POST /disputes/resolve
func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req types.ResolveDisputeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RequestId == "" {
		writeError(w, http.StatusBadRequest, "requestId is required")
		return
	}
	outcome, err := types.ParseDisputeOutcome(req.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.node.ResolveDispute(r.Context(), req.RequestId, outcome); err != nil {
		s.writeDomainError(w, "resolve-dispute", err)
		return
	}

	writeJSON(w, http.StatusOK, s.node.engine.DisputeRecord(req.RequestId))
}

// handleListDisputes handles GET /disputes
func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.engine.Disputes())
}

// handleVerify handles POST /verify/{kind}. It never touches node state.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	kind, err := types.ParseLeafKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req types.VerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	leaf, err := req.Leaf.Leaf()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if leaf.Kind() != kind {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("leaf kind %s does not match %s", leaf.Kind(), kind))
		return
	}

	resp := types.VerifyResponse{Valid: verifier.VerifyLeaf(req.Root, leaf, req.Proof)}
	if digest, err := types.HashLeaf(leaf); err == nil {
		resp.LeafHash = common.Hash(digest)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRelayRootBundle handles POST /bundles
func (s *Server) handleRelayRootBundle(w http.ResponseWriter, r *http.Request) {
	var req types.RelayRootBundleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := s.node.pool.RelayRootBundle(req.RefundRoot, req.SlowRelayRoot)
	if err != nil {
		s.writeDomainError(w, "relay-root-bundle", err)
		return
	}
	writeJSON(w, http.StatusCreated, types.RelayRootBundleResponse{BundleId: id})
}

// handleListRootBundles handles GET /bundles
func (s *Server) handleListRootBundles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.pool.RootBundles())
}

func bundleIdFromPath(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bundle id must be a uint32")
		return 0, false
	}
	return uint32(id), true
}

// handleExecuteRefundLeaf handles POST /bundles/{id}/refund
func (s *Server) handleExecuteRefundLeaf(w http.ResponseWriter, r *http.Request) {
	bundleId, ok := bundleIdFromPath(w, r)
	if !ok {
		return
	}
	var req types.ExecuteLeafRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Leaf == nil || req.Leaf.Refund == nil {
		writeError(w, http.StatusBadRequest, "a refund leaf is required")
		return
	}

	if err := s.node.pool.ExecuteRefundLeaf(r.Context(), bundleId, req.Leaf.Refund, req.Proof); err != nil {
		s.writeDomainError(w, "execute-refund-leaf", err)
		return
	}
	writeJSON(w, http.StatusOK, s.node.pool.RootBundle(bundleId))
}

// handleExecuteSlowRelayLeaf handles POST /bundles/{id}/slow-relay
func (s *Server) handleExecuteSlowRelayLeaf(w http.ResponseWriter, r *http.Request) {
	bundleId, ok := bundleIdFromPath(w, r)
	if !ok {
		return
	}
	var req types.ExecuteLeafRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Leaf == nil || req.Leaf.SlowRelay == nil {
		writeError(w, http.StatusBadRequest, "a slow relay leaf is required")
		return
	}

	if err := s.node.pool.ExecuteSlowRelayLeaf(r.Context(), bundleId, req.Leaf.SlowRelay, req.Proof); err != nil {
		s.writeDomainError(w, "execute-slow-relay-leaf", err)
		return
	}

	relayHash, err := req.Leaf.SlowRelay.RelayHash()
	if err != nil {
		s.writeDomainError(w, "execute-slow-relay-leaf", err)
		return
	}
	writeJSON(w, http.StatusOK, types.RelayStatusResponse{
		RelayHash: relayHash,
		Status:    s.node.pool.FillStatus(relayHash).String(),
	})
}

// handleDeleteRootBundle handles DELETE /bundles/{id}
func (s *Server) handleDeleteRootBundle(w http.ResponseWriter, r *http.Request) {
	bundleId, ok := bundleIdFromPath(w, r)
	if !ok {
		return
	}
	if err := s.node.pool.EmergencyDeleteRootBundle(bundleId); err != nil {
		s.writeDomainError(w, "delete-root-bundle", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetRelayStatus handles GET /relays/{relayHash}
func (s *Server) handleGetRelayStatus(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("relayHash")
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		writeError(w, http.StatusBadRequest, "relayHash must be a 32 byte hex string")
		return
	}
	relayHash := common.BytesToHash(b)
	writeJSON(w, http.StatusOK, types.RelayStatusResponse{
		RelayHash: relayHash,
		Status:    s.node.pool.FillStatus(relayHash).String(),
	})
}

// handleDeposit handles POST /bonds/deposit
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	d := s.node.bonds.(depositor)

	var req types.DepositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Account == (common.Address{}) || req.Amount == nil {
		writeError(w, http.StatusBadRequest, "account and amount are required")
		return
	}
	if err := d.Deposit(req.Account, req.Amount); err != nil {
		s.writeDomainError(w, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, types.BalanceResponse{Account: req.Account, Balance: d.BalanceOf(req.Account)})
}

// handleGetBalance handles GET /bonds/{address}
func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	d := s.node.bonds.(depositor)

	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid address format")
		return
	}
	account := common.HexToAddress(raw)
	writeJSON(w, http.StatusOK, types.BalanceResponse{Account: account, Balance: d.BalanceOf(account)})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.node.HealthCheck(); err != nil {
		s.node.logger.Sugar().Warnw("Health check failed", "chain_id", s.node.ChainId, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, types.HealthResponse{Status: "unhealthy", ChainId: s.node.ChainId})
		return
	}
	writeJSON(w, http.StatusOK, types.HealthResponse{Status: "ok", ChainId: s.node.ChainId})
}
