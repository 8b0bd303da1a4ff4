package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/beamchat/link-server-go/internal/model"
	redisclient "github.com/beamchat/link-server-go/internal/redis"
)

// ErrCodeExists is returned when a minted code collides with a live one.
// The vault refuses to overwrite; the caller may retry with a fresh code.
var ErrCodeExists = errors.New("auth code already exists")

// CodeVault mints and atomically redeems one-time auth codes.
type CodeVault interface {
	Mint(ctx context.Context, code string, payload model.AuthCodePayload, ttl time.Duration) error
	// Redeem is a single atomic get-and-delete: among concurrent redeemers
	// of one code, exactly one receives the payload. Returns nil when the
	// code is gone (redeemed or expired).
	Redeem(ctx context.Context, sessionID, code string) (*model.AuthCodePayload, error)
}

// A plain GET followed by DEL would let two concurrent redeemers both
// observe the payload; the delete has to happen in the same store-side step.
var redeemScript = goredis.NewScript(`
local value = redis.call('GET', KEYS[1])
if not value then
    return false
end
redis.call('DEL', KEYS[1])
return value
`)

type codeVault struct {
	client *redisclient.Client
}

func NewCodeVault(client *redisclient.Client) CodeVault {
	return &codeVault{client: client}
}

func (v *codeVault) Mint(ctx context.Context, code string, payload model.AuthCodePayload, ttl time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal auth code payload: %w", err)
	}

	ok, err := v.client.SetNX(ctx, redisclient.AuthCodeKey(payload.SessionID, code), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("mint auth code: %w", err)
	}
	if !ok {
		return ErrCodeExists
	}
	return nil
}

func (v *codeVault) Redeem(ctx context.Context, sessionID, code string) (*model.AuthCodePayload, error) {
	raw, err := redeemScript.Run(ctx, v.client,
		[]string{redisclient.AuthCodeKey(sessionID, code)},
	).Text()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redeem auth code: %w", err)
	}

	var payload model.AuthCodePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal auth code payload: %w", err)
	}
	if payload.UserID == "" {
		return nil, fmt.Errorf("auth code payload missing userId")
	}
	return &payload, nil
}
