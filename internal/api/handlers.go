package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/aurora-is-near/aurora-forwarder/internal/factory"
	"github.com/aurora-is-near/aurora-forwarder/internal/feepolicy"
	"github.com/aurora-is-near/aurora-forwarder/internal/forwarder"
	"github.com/aurora-is-near/aurora-forwarder/internal/models"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	factory        *factory.Factory
	forwarders     *forwarder.Service
	defaultRateBps uint32
	logger         *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(f *factory.Factory, forwarders *forwarder.Service, defaultRateBps uint32, logger *zap.Logger) *Handler {
	return &Handler{
		factory:        f,
		forwarders:     forwarders,
		defaultRateBps: defaultRateBps,
		logger:         logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: "1.0.0"})
}

// ==================== Forwarder creation ====================

// HandleCreateForwarder handles POST /api/v1/forwarders
// Gets or creates the forwarder for a binding; idempotent.
func (h *Handler) HandleCreateForwarder(w http.ResponseWriter, r *http.Request) {
	var req CreateForwarderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	binding, err := h.bindingFromRequest(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid binding", err)
		return
	}

	h.logger.Info("Getting or creating forwarder",
		zap.String("target", binding.Target.Hex()),
		zap.String("token_id", binding.TokenID))

	handle, err := h.factory.GetOrCreate(r.Context(), binding)
	if err != nil {
		if errors.Is(err, factory.ErrUnsupportedToken) {
			respondError(w, http.StatusBadRequest, "Unsupported token", err)
			return
		}
		if errors.Is(err, factory.ErrInvalidBinding) {
			respondError(w, http.StatusBadRequest, "Invalid binding", err)
			return
		}
		h.logger.Error("Failed to get or create forwarder", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get or create forwarder", err)
		return
	}

	status := http.StatusOK
	if handle.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, CreateForwarderResponse{
		BindingKey: handle.BindingKey,
		AccountID:  handle.AccountID,
		Created:    handle.Created,
	})
}

func (h *Handler) bindingFromRequest(req CreateForwarderRequest) (models.Binding, error) {
	if !common.IsHexAddress(req.TargetAddress) {
		return models.Binding{}, fmt.Errorf("target_address %q is not a valid address", req.TargetAddress)
	}
	if req.TokenID == "" {
		return models.Binding{}, fmt.Errorf("token_id is required")
	}
	if req.FeeCollector == "" {
		return models.Binding{}, fmt.Errorf("fee_collector is required")
	}

	rate := h.defaultRateBps
	if req.FeeRateBps != nil {
		rate = *req.FeeRateBps
	}

	minFee, err := parseAmount(req.MinFee)
	if err != nil {
		return models.Binding{}, fmt.Errorf("min_fee: %w", err)
	}
	maxFee, err := parseAmount(req.MaxFee)
	if err != nil {
		return models.Binding{}, fmt.Errorf("max_fee: %w", err)
	}

	return models.Binding{
		Target:       common.HexToAddress(req.TargetAddress),
		TokenID:      req.TokenID,
		FeeCollector: req.FeeCollector,
		Fee: models.FeeConfig{
			RateBps: rate,
			MinFee:  minFee,
			MaxFee:  maxFee,
		},
	}, nil
}

// ==================== Forwarder status ====================

// HandleGetForwarder handles GET /api/v1/forwarders/{accountId}
// Returns the pollable state of one forwarder.
func (h *Handler) HandleGetForwarder(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]

	rec, err := h.forwarders.Get(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, forwarder.ErrUnknownForwarder) {
			respondError(w, http.StatusNotFound, "Forwarder not found", nil)
			return
		}
		h.logger.Error("Failed to load forwarder",
			zap.String("account_id", accountID),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to load forwarder", err)
		return
	}

	respondJSON(w, http.StatusOK, statusResponse(rec))
}

// ==================== Forward trigger ====================

// HandleForward handles POST /api/v1/forwarders/{accountId}/forward
// Permissionless: anyone may trigger a forward; the destination is fixed
// by the binding.
func (h *Handler) HandleForward(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]

	rec, err := h.forwarders.Forward(r.Context(), accountID)
	if err != nil {
		switch {
		case errors.Is(err, forwarder.ErrUnknownForwarder):
			respondError(w, http.StatusNotFound, "Forwarder not found", nil)
		case errors.Is(err, forwarder.ErrForwardInProgress):
			respondError(w, http.StatusConflict, "Forward already in progress", err)
		case errors.Is(err, feepolicy.ErrAmountOverflow):
			respondError(w, http.StatusUnprocessableEntity, "Amount overflow", err)
		default:
			h.logger.Error("Forward failed",
				zap.String("account_id", accountID),
				zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Forward failed", err)
		}
		return
	}

	respondJSON(w, http.StatusAccepted, statusResponse(rec))
}

// ==================== Registry lookup ====================

// HandleLookup handles GET /api/v1/registry/{bindingKey}
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	bindingKey := mux.Vars(r)["bindingKey"]

	handle, ok, err := h.factory.Lookup(r.Context(), bindingKey)
	if err != nil {
		h.logger.Error("Registry lookup failed",
			zap.String("binding_key", bindingKey),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Registry lookup failed", err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "Binding not registered", nil)
		return
	}

	respondJSON(w, http.StatusOK, LookupResponse{
		BindingKey: handle.BindingKey,
		AccountID:  handle.AccountID,
	})
}

// ==================== Fee quote ====================

// HandleQuoteFee handles POST /api/v1/fees/quote
// Computes the split a forwarder would apply to an amount.
func (h *Handler) HandleQuoteFee(w http.ResponseWriter, r *http.Request) {
	var req QuoteFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" {
		respondError(w, http.StatusBadRequest, "account_id is required", nil)
		return
	}
	if req.Amount == "" {
		respondError(w, http.StatusBadRequest, "amount is required", nil)
		return
	}

	amount, err := sdkmath.ParseUint(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid amount: must be a non-negative integer", err)
		return
	}

	rec, err := h.forwarders.Get(r.Context(), req.AccountID)
	if err != nil {
		if errors.Is(err, forwarder.ErrUnknownForwarder) {
			respondError(w, http.StatusNotFound, "Forwarder not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load forwarder", err)
		return
	}

	split, err := feepolicy.ComputeSplit(amount, rec.Binding.Fee)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "Failed to compute split", err)
		return
	}

	respondJSON(w, http.StatusOK, QuoteFeeResponse{
		Fee: split.Fee.String(),
		Net: split.Net.String(),
	})
}

// ==================== Helper Functions ====================

func statusResponse(rec models.ForwarderRecord) ForwarderStatusResponse {
	return ForwarderStatusResponse{
		AccountID:         rec.AccountID,
		TargetAddress:     rec.Binding.Target.Hex(),
		TokenID:           rec.Binding.TokenID,
		FeeCollector:      rec.Binding.FeeCollector,
		FeeRateBps:        rec.Binding.Fee.RateBps,
		MinFee:            amountString(rec.Binding.Fee.MinFee),
		MaxFee:            amountString(rec.Binding.Fee.MaxFee),
		State:             string(rec.State),
		FailReason:        rec.FailReason,
		PendingTransferID: rec.PendingTransferID,
		PendingFee:        pendingString(rec.PendingFee),
		PendingNet:        pendingString(rec.PendingNet),
	}
}

func amountString(u sdkmath.Uint) string {
	if u.IsNil() {
		return "0"
	}
	return u.String()
}

// pendingString renders pending amounts, omitting zeros from the response.
func pendingString(u sdkmath.Uint) string {
	if u.IsNil() || u.IsZero() {
		return ""
	}
	return u.String()
}

func parseAmount(s string) (sdkmath.Uint, error) {
	if s == "" {
		return sdkmath.ZeroUint(), nil
	}
	return sdkmath.ParseUint(s)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	respondJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Message: errorMsg,
	})
}
