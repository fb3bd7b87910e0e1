package order

// Status is the backend-visible lifecycle state of a submitted order.
// PENDING -> ACCEPTED is the happy path. A nonce gone stale at
// acceptance time sends the order through NEEDS_RESIGN -> RESIGNED ->
// ACCEPTED, or to CANCELLED if the trader declines the re-sign.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusAccepted    Status = "ACCEPTED"
	StatusNeedsResign Status = "NEEDS_RESIGN"
	StatusResigned    Status = "RESIGNED"
	StatusCancelled   Status = "CANCELLED"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusCancelled
}

// SignedOrder is one meta-transaction order as submitted to the
// execution backend. Prices are fixed-point strings at 8 decimals,
// collateral at 6 decimals. A SignedOrder is valid only while its nonce
// matches the trader's authoritative nonce; once superseded it must be
// re-signed, never resubmitted unchanged.
type SignedOrder struct {
	ClientID     string `json:"clientId"`
	Trader       string `json:"trader"`
	Symbol       string `json:"symbol"`
	IsLong       bool   `json:"isLong"`
	Collateral   string `json:"collateral"`
	Leverage     int64  `json:"leverage"`
	Nonce        string `json:"nonce"`
	TriggerPrice string `json:"triggerPrice"`
	StartTime    int64  `json:"startTime"`
	EndTime      int64  `json:"endTime"`
	Multiplier   string `json:"multiplier"`
	Signature    string `json:"signature"`

	// SessionKey is the delegated signer's address, present only when
	// the session key (not the primary wallet) produced the signature.
	// The backend applies different trust rules to each path, so this
	// distinction must survive the wire.
	SessionKey string `json:"sessionKey,omitempty"`
}

// SessionSigned reports whether the order was signed by a session key.
func (o *SignedOrder) SessionSigned() bool {
	return o.SessionKey != ""
}
