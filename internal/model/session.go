package model

// DeviceInfo is self-reported by the approver at validation time and carried
// into the persistent session minted for the initiator.
type DeviceInfo struct {
	Name     string `json:"name,omitempty"`
	UA       string `json:"ua,omitempty"`
	Timezone string `json:"tz,omitempty"`
}

// AuthCodePayload is the value bound to a one-time auth code. Redeemable at
// most once; redemption is a combined read+delete.
type AuthCodePayload struct {
	UserID    string     `json:"userId"`
	SessionID string     `json:"sessionId"`
	Device    DeviceInfo `json:"deviceInfo"`
	IssuedAt  int64      `json:"issuedAt"`
}

// AppSession is the long-lived persistent session, keyed in the store by the
// hash of the opaque cookie value.
type AppSession struct {
	UserID    string     `json:"userId"`
	Device    DeviceInfo `json:"device"`
	CreatedAt int64      `json:"createdAt"`
	LastSeen  int64      `json:"lastSeen"`
}
