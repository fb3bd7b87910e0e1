package backend

import "gridtap/pkg/order"

// Wire types for the execution backend's grid / tap-to-trade API.
// Prices are fixed-point strings at 8 decimal places, collateral and
// margin at 6.

// CreateSessionRequest registers a grid session server-side when the
// trader enables tap mode.
type CreateSessionRequest struct {
	Trader           string `json:"trader"`
	Symbol           string `json:"symbol"`
	MarginTotal      string `json:"marginTotal"`
	Leverage         int64  `json:"leverage"`
	TimeframeSeconds int64  `json:"timeframeSeconds"`
	GridSizeX        int64  `json:"gridSizeX"`
	GridSizeYPercent int64  `json:"gridSizeYPercent"`
	ReferenceTime    int64  `json:"referenceTime"`
	ReferencePrice   string `json:"referencePrice"`

	// Delegation proof for the session key, if one was created.
	SessionKey           string `json:"sessionKey,omitempty"`
	SessionExpiresAt     int64  `json:"sessionExpiresAt,omitempty"`
	SessionAuthSignature string `json:"sessionAuthSignature,omitempty"`
}

// CreateSessionResponse returns the backend's id for the grid session.
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// CancelSessionRequest tears a grid session down.
type CancelSessionRequest struct {
	SessionID string `json:"sessionId"`
	Trader    string `json:"trader"`
}

// BatchCreateRequest submits one or more signed orders.
type BatchCreateRequest struct {
	SessionID string               `json:"sessionId"`
	Orders    []*order.SignedOrder `json:"orders"`
}

// BatchCreateResponse acknowledges accepted submissions with backend ids.
type BatchCreateResponse struct {
	OrderIDs []string `json:"orderIds"`
}

// OrderRecord is the backend's view of a submitted order.
type OrderRecord struct {
	ID           string       `json:"id"`
	ClientID     string       `json:"clientId"`
	Trader       string       `json:"trader"`
	Symbol       string       `json:"symbol"`
	IsLong       bool         `json:"isLong"`
	Collateral   string       `json:"collateral"`
	Leverage     int64        `json:"leverage"`
	Nonce        string       `json:"nonce"`
	TriggerPrice string       `json:"triggerPrice"`
	StartTime    int64        `json:"startTime"`
	EndTime      int64        `json:"endTime"`
	Multiplier   string       `json:"multiplier"`
	Status       order.Status `json:"status"`
	SessionKey   string       `json:"sessionKey,omitempty"`
}

// UpdateSignatureRequest replaces a stale (nonce, signature) pair after
// a re-sign.
type UpdateSignatureRequest struct {
	OrderID    string `json:"orderId"`
	Trader     string `json:"trader"`
	Nonce      string `json:"nonce"`
	Signature  string `json:"signature"`
	SessionKey string `json:"sessionKey,omitempty"`
}

// CancelOrderRequest actively cancels an order (e.g. the trader declined
// a re-sign prompt).
type CancelOrderRequest struct {
	OrderID string `json:"orderId"`
	Trader  string `json:"trader"`
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Error string `json:"error"`
}

// StatusUpdate is pushed on the order status WebSocket stream.
type StatusUpdate struct {
	OrderID string       `json:"orderId"`
	Trader  string       `json:"trader"`
	Status  order.Status `json:"status"`
}
