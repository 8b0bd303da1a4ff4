package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/beamchat/link-server-go/internal/config"
	"github.com/beamchat/link-server-go/internal/model"
	redisclient "github.com/beamchat/link-server-go/internal/redis"
	"github.com/beamchat/link-server-go/internal/util"
)

const issueAttempts = 3

// AppSessionRepository stores persistent sessions keyed by token hash.
type AppSessionRepository interface {
	// Issue mints a fresh opaque token and returns it. The stored record is
	// created with SET NX; a collision triggers a retry with a new token.
	Issue(ctx context.Context, userID string, device model.DeviceInfo, ttl time.Duration) (string, error)
	Find(ctx context.Context, tokenHash string) (*model.AppSession, error)
	// Touch refreshes the sliding TTL, at most once per touch interval.
	Touch(ctx context.Context, tokenHash string, ttl time.Duration) error
	Revoke(ctx context.Context, tokenHash string) error
}

type appSessionRepo struct {
	client *redisclient.Client
	// secret keys the token hash; the store never sees raw tokens.
	secret string
}

func NewAppSessionRepository(client *redisclient.Client, secret string) AppSessionRepository {
	return &appSessionRepo{client: client, secret: secret}
}

func (r *appSessionRepo) Issue(ctx context.Context, userID string, device model.DeviceInfo, ttl time.Duration) (string, error) {
	now := time.Now().UnixMilli()
	data, err := json.Marshal(model.AppSession{
		UserID:    userID,
		Device:    device,
		CreatedAt: now,
		LastSeen:  now,
	})
	if err != nil {
		return "", fmt.Errorf("marshal app session: %w", err)
	}

	for i := 0; i < issueAttempts; i++ {
		token, err := util.GenerateToken()
		if err != nil {
			return "", fmt.Errorf("generate session token: %w", err)
		}

		ok, err := r.client.SetNX(ctx, redisclient.AppSessionKey(util.HashToken(r.secret, token)), data, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("store app session: %w", err)
		}
		if ok {
			return token, nil
		}
	}

	return "", errors.New("app session token collision")
}

func (r *appSessionRepo) Find(ctx context.Context, tokenHash string) (*model.AppSession, error) {
	raw, err := r.client.Get(ctx, redisclient.AppSessionKey(tokenHash)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find app session: %w", err)
	}

	var session model.AppSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("unmarshal app session: %w", err)
	}
	return &session, nil
}

func (r *appSessionRepo) Touch(ctx context.Context, tokenHash string, ttl time.Duration) error {
	key := redisclient.AppSessionKey(tokenHash)

	remaining, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("app session ttl: %w", err)
	}
	if remaining <= 0 {
		return nil
	}
	// Skip the refresh while the TTL is still near-full; this caps EXPIRE
	// traffic at one call per touch interval per session.
	if remaining > ttl-config.SessionTouchInterval {
		return nil
	}

	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("refresh app session ttl: %w", err)
	}
	return nil
}

func (r *appSessionRepo) Revoke(ctx context.Context, tokenHash string) error {
	if err := r.client.Del(ctx, redisclient.AppSessionKey(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke app session: %w", err)
	}
	return nil
}
