package model

// PairingStatus is forward-only: pending -> approved -> used. A record never
// regresses; expiry is enforced by store TTL, not by status.
type PairingStatus string

const (
	PairingStatusPending  PairingStatus = "pending"
	PairingStatusApproved PairingStatus = "approved"
	PairingStatusUsed     PairingStatus = "used"
	// PairingStatusExpired is reported (never stored) once the record's TTL
	// has lapsed or it was consumed.
	PairingStatusExpired PairingStatus = "expired"
)

// PairingSession is the ephemeral record correlating one rendered QR
// instance with its lifecycle state. Stored as a TTL-bound redis hash.
type PairingSession struct {
	SessionID string        `json:"sessionId"`
	Challenge string        `json:"-"`
	Status    PairingStatus `json:"status"`
	// ChannelRef identifies the initiator's current push subscription.
	// Empty until the initiator joins; registration may race approval.
	ChannelRef string `json:"-"`
	// AuthCode is set at approval time so the fallback poll can complete
	// the handoff even if the push was lost.
	AuthCode string `json:"-"`
	// CreatedAt is diagnostics only; expiry is never derived from it.
	CreatedAt int64 `json:"createdAt"`
}

// ExpiryReason distinguishes "pairing completed elsewhere" from "this QR
// went stale" in the courtesy notice pushed to the initiator.
type ExpiryReason string

const (
	ExpiryReasonUsed ExpiryReason = "used"
	ExpiryReasonTTL  ExpiryReason = "ttl"
)
