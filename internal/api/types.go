package api

// ==================== Forwarder creation ====================

// CreateForwarderRequest asks the factory for the forwarder bound to the
// given tuple, deploying it on first request. Amount fields are decimal
// strings in token base units.
type CreateForwarderRequest struct {
	TargetAddress string  `json:"target_address"` // 0x-prefixed Aurora address
	TokenID       string  `json:"token_id"`
	FeeCollector  string  `json:"fee_collector"`
	FeeRateBps    *uint32 `json:"fee_rate_bps"` // omitted -> service default
	MinFee        string  `json:"min_fee,omitempty"`
	MaxFee        string  `json:"max_fee,omitempty"`
}

// CreateForwarderResponse returns the (possibly pre-existing) handle.
type CreateForwarderResponse struct {
	BindingKey string `json:"binding_key"`
	AccountID  string `json:"account_id"`
	Created    bool   `json:"created"`
}

// ==================== Forwarder status ====================

// ForwarderStatusResponse is the pollable view of one forwarder. Callers
// use it to learn whether a forward succeeded, is pending, or needs retry.
type ForwarderStatusResponse struct {
	AccountID         string `json:"account_id"`
	TargetAddress     string `json:"target_address"`
	TokenID           string `json:"token_id"`
	FeeCollector      string `json:"fee_collector"`
	FeeRateBps        uint32 `json:"fee_rate_bps"`
	MinFee            string `json:"min_fee"`
	MaxFee            string `json:"max_fee"`
	State             string `json:"state"`
	FailReason        string `json:"fail_reason,omitempty"`
	PendingTransferID string `json:"pending_transfer_id,omitempty"`
	PendingFee        string `json:"pending_fee,omitempty"`
	PendingNet        string `json:"pending_net,omitempty"`
}

// ==================== Registry lookup ====================

// LookupResponse resolves a binding key to its forwarder account.
type LookupResponse struct {
	BindingKey string `json:"binding_key"`
	AccountID  string `json:"account_id"`
}

// ==================== Fee quote ====================

// QuoteFeeRequest asks for the split a forwarder would apply to an amount.
type QuoteFeeRequest struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"` // decimal string in token base units
}

// QuoteFeeResponse carries the computed split. fee + net == amount.
type QuoteFeeResponse struct {
	Fee string `json:"fee"`
	Net string `json:"net"`
}

// ==================== Error response ====================

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==================== Health check ====================

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
