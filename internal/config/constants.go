package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Expiry sweeper: how often courtesy expiry notices are delivered for
// pairing records whose TTL lapsed without being consumed.
const ExpirySweepInterval = 10 * time.Second

// Tombstone lifetime after a pairing record is consumed or swept. While the
// tombstone lives, approve/status report "expired" instead of "unknown".
const PairingTombstoneTTL = 10 * time.Minute

// Persistent session TTL is refreshed on activity at most once per this
// interval, so hot sessions don't hammer the store with EXPIRE calls.
const SessionTouchInterval = 15 * time.Minute

// Default rate limiting for unauthenticated pairing endpoints
const DefaultRateLimitPerMin = 60
