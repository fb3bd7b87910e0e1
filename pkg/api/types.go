package api

// Wire types for the local control API consumed by the chart UI.

// EnableGridRequest activates tap-to-trade mode over a grid frame.
// referenceTime is optional; when omitted the server snaps the current
// time to a column boundary.
type EnableGridRequest struct {
	Symbol           string `json:"symbol"`
	MarginTotal      string `json:"marginTotal"`
	Leverage         int64  `json:"leverage"`
	TimeframeSeconds int64  `json:"timeframeSeconds"`
	GridSizeX        int64  `json:"gridSizeX"`
	GridSizeYPercent int64  `json:"gridSizeYPercent"`
	ReferencePrice   string `json:"referencePrice"`
	ReferenceTime    int64  `json:"referenceTime,omitempty"`
}

// EnableGridResponse returns the session delegation the UI displays.
type EnableGridResponse struct {
	SessionKey       string `json:"sessionKey"`
	SessionExpiresAt int64  `json:"sessionExpiresAt"` // unix milliseconds
	ReferenceTime    int64  `json:"referenceTime"`
	ReferencePrice   string `json:"referencePrice"`
}

// TapRequest is one chart tap. currentPrice is the price the trader saw
// at tap time; it feeds the payout multiplier, not the trigger.
type TapRequest struct {
	CellX        int64  `json:"cellX"`
	CellY        int64  `json:"cellY"`
	CurrentPrice string `json:"currentPrice,omitempty"`
}

// TapResponse echoes the constructed order for immediate cell feedback.
type TapResponse struct {
	OrderID       string `json:"orderId"`
	TriggerPrice  string `json:"triggerPrice"`
	StartTime     int64  `json:"startTime"`
	EndTime       int64  `json:"endTime"`
	IsLong        bool   `json:"isLong"`
	Multiplier    string `json:"multiplier"`
	OrderCount    int    `json:"orderCount"`
	SessionSigned bool   `json:"sessionSigned"`
}

// CellInfo is one grid cell's order tally.
type CellInfo struct {
	CellX      int64 `json:"cellX"`
	CellY      int64 `json:"cellY"`
	OrderCount int   `json:"orderCount"`
}

// GridInfo summarizes the enabled frame.
type GridInfo struct {
	Symbol           string `json:"symbol"`
	MarginTotal      string `json:"marginTotal"`
	Leverage         int64  `json:"leverage"`
	TimeframeSeconds int64  `json:"timeframeSeconds"`
	GridSizeX        int64  `json:"gridSizeX"`
	GridSizeYPercent int64  `json:"gridSizeYPercent"`
	ReferenceTime    int64  `json:"referenceTime"`
	ReferencePrice   string `json:"referencePrice"`
}

// StatusResponse is the full engine view for the UI.
type StatusResponse struct {
	Enabled          bool       `json:"enabled"`
	SessionState     string     `json:"sessionState"`
	SessionKey       string     `json:"sessionKey,omitempty"`
	SessionExpiresAt int64      `json:"sessionExpiresAt,omitempty"`
	Grid             *GridInfo  `json:"grid,omitempty"`
	Cells            []CellInfo `json:"cells"`
}

// MultiplierResponse previews the payout multiplier for a hover target.
type MultiplierResponse struct {
	Multiplier string `json:"multiplier"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is sent by a client to select broadcast channels.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["taps", "status"]
}

// TapUpdate is broadcast on the "taps" channel after each accepted tap.
type TapUpdate struct {
	Type          string `json:"type"` // "tap"
	OrderID       string `json:"orderId"`
	CellX         int64  `json:"cellX"`
	CellY         int64  `json:"cellY"`
	TriggerPrice  string `json:"triggerPrice"`
	IsLong        bool   `json:"isLong"`
	Multiplier    string `json:"multiplier"`
	OrderCount    int    `json:"orderCount"`
	SessionSigned bool   `json:"sessionSigned"`
	Timestamp     int64  `json:"timestamp"` // unix milliseconds
}

// ModeUpdate is broadcast on the "status" channel on enable/disable.
type ModeUpdate struct {
	Type      string `json:"type"` // "mode"
	Enabled   bool   `json:"enabled"`
	Timestamp int64  `json:"timestamp"`
}
