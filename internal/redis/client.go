package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// Key layout. All mutable pairing state lives under one of these keys, so
// every state transition is scoped to a single session (or {session, code}).

func PairingKey(sessionID string) string {
	return fmt.Sprintf("pair:%s", sessionID)
}

// PairingTombstoneKey marks a consumed or swept pairing record so that late
// callers can be told "expired" rather than "unknown" after the record is gone.
func PairingTombstoneKey(sessionID string) string {
	return fmt.Sprintf("pair:tomb:%s", sessionID)
}

// PairingExpiryQueue is the ZSET of pairing session ids scored by expiry
// time. Redis deletes expired keys silently; the sweeper drains this queue
// to deliver courtesy expiry notices.
const PairingExpiryQueue = "pair:expiry"

func AuthCodeKey(sessionID, code string) string {
	return fmt.Sprintf("authcode:%s:%s", sessionID, code)
}

func AppSessionKey(tokenHash string) string {
	return fmt.Sprintf("sess:%s", tokenHash)
}

// PairingChannel is the pub/sub topic for one pairing session's initiator.
// It accepts unauthenticated subscribers: the initiator has no session yet.
func PairingChannel(sessionID string) string {
	return fmt.Sprintf("pairing:%s", sessionID)
}

// DeviceChannel is the pub/sub topic for a user's authenticated devices.
// Subscribing requires a valid persistent session.
func DeviceChannel(userID string) string {
	return fmt.Sprintf("device:%s", userID)
}
