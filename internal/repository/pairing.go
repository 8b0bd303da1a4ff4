package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/beamchat/link-server-go/internal/model"
	redisclient "github.com/beamchat/link-server-go/internal/redis"
)

// ErrSessionExists is returned when a pairing session id is already taken.
// Collisions are a hard error, never an overwrite.
var ErrSessionExists = errors.New("pairing session already exists")

// ApproveOutcome is the result of the atomic approve step.
type ApproveOutcome string

const (
	ApproveOK           ApproveOutcome = "ok"
	ApproveUnknown      ApproveOutcome = "unknown"
	ApproveExpired      ApproveOutcome = "expired"
	ApproveNotPending   ApproveOutcome = "not-pending"
	ApproveBadChallenge ApproveOutcome = "bad-challenge"
)

type ApproveResult struct {
	Outcome ApproveOutcome
	// Channel is the initiator's registered push channel, empty if the
	// initiator has not joined yet.
	Channel string
	// Remaining is the pairing record's remaining TTL; the minted code's
	// TTL is bounded by it.
	Remaining time.Duration
}

type PairingStatusResult struct {
	Status   model.PairingStatus
	TTL      time.Duration
	AuthCode string
	Channel  string
}

type PairingRepository interface {
	// Create writes a pending record with the given TTL, create-if-absent.
	Create(ctx context.Context, sessionID, challenge string, ttl time.Duration) error
	// RegisterChannel attaches the initiator's push channel. Returns false
	// when the record is gone; callers treat that as "restart", not an error.
	// Does not renew the TTL.
	RegisterChannel(ctx context.Context, sessionID, channelID string) (bool, error)
	// Approve performs the pending->approved transition as one atomic step:
	// existence, status and challenge are checked and the status written
	// without any interleaving window.
	Approve(ctx context.Context, sessionID, challenge string) (ApproveResult, error)
	// SetAuthCode stores the minted code on the still-live record so the
	// fallback poll can complete the handoff if the push is lost.
	SetAuthCode(ctx context.Context, sessionID, code string) error
	// Status returns nil for an unknown session. A tombstoned session
	// reports PairingStatusUsed or PairingStatusExpired per the tombstone's
	// recorded reason.
	Status(ctx context.Context, sessionID string) (*PairingStatusResult, error)
	// Consume deletes the record, removes it from the expiry queue and
	// leaves a tombstone recording why the record went away. Returns the
	// registered channel, if any.
	Consume(ctx context.Context, sessionID string, tombstoneTTL time.Duration, reason model.ExpiryReason) (string, error)
	// PopDueExpiries atomically drains session ids whose expiry time has
	// passed. Each id is returned exactly once across all server processes.
	PopDueExpiries(ctx context.Context, now time.Time, limit int) ([]string, error)
}

var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1], 'status', 'pending', 'challenge', ARGV[1], 'createdAt', ARGV[2])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
redis.call('ZADD', KEYS[2], tonumber(ARGV[4]), ARGV[5])
return 1
`)

var registerChannelScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
redis.call('HSET', KEYS[1], 'channel', ARGV[1])
return 1
`)

var approveScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return {'unknown', '', '0'}
end
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'pending' then
    return {'not-pending', '', '0'}
end
if redis.call('HGET', KEYS[1], 'challenge') ~= ARGV[1] then
    return {'bad-challenge', '', '0'}
end
redis.call('HSET', KEYS[1], 'status', 'approved')
local channel = redis.call('HGET', KEYS[1], 'channel')
if not channel then
    channel = ''
end
local ttl = redis.call('TTL', KEYS[1])
return {'ok', channel, tostring(ttl)}
`)

var statusScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return {'', '0', '', ''}
end
local status = redis.call('HGET', KEYS[1], 'status')
local ttl = redis.call('TTL', KEYS[1])
local code = redis.call('HGET', KEYS[1], 'authCode')
if not code then
    code = ''
end
local channel = redis.call('HGET', KEYS[1], 'channel')
if not channel then
    channel = ''
end
return {status, tostring(ttl), code, channel}
`)

var consumeScript = goredis.NewScript(`
local channel = redis.call('HGET', KEYS[1], 'channel')
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('SET', KEYS[3], ARGV[3], 'EX', tonumber(ARGV[2]))
if not channel then
    return ''
end
return channel
`)

var popDueScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #due > 0 then
    redis.call('ZREM', KEYS[1], unpack(due))
end
return due
`)

type pairingRepo struct {
	client *redisclient.Client
}

func NewPairingRepository(client *redisclient.Client) PairingRepository {
	return &pairingRepo{client: client}
}

func (r *pairingRepo) Create(ctx context.Context, sessionID, challenge string, ttl time.Duration) error {
	key := redisclient.PairingKey(sessionID)
	expiresAt := time.Now().Add(ttl).Unix()

	created, err := createScript.Run(ctx, r.client,
		[]string{key, redisclient.PairingExpiryQueue},
		challenge,
		strconv.FormatInt(time.Now().UnixMilli(), 10),
		int(ttl.Seconds()),
		expiresAt,
		sessionID,
	).Int()
	if err != nil {
		return fmt.Errorf("create pairing record: %w", err)
	}
	if created == 0 {
		return ErrSessionExists
	}
	return nil
}

func (r *pairingRepo) RegisterChannel(ctx context.Context, sessionID, channelID string) (bool, error) {
	ok, err := registerChannelScript.Run(ctx, r.client,
		[]string{redisclient.PairingKey(sessionID)},
		channelID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("register channel: %w", err)
	}
	return ok == 1, nil
}

func (r *pairingRepo) Approve(ctx context.Context, sessionID, challenge string) (ApproveResult, error) {
	raw, err := approveScript.Run(ctx, r.client,
		[]string{redisclient.PairingKey(sessionID)},
		challenge,
	).StringSlice()
	if err != nil {
		return ApproveResult{}, fmt.Errorf("approve: %w", err)
	}
	if len(raw) != 3 {
		return ApproveResult{}, fmt.Errorf("approve: unexpected script result %v", raw)
	}

	outcome := ApproveOutcome(raw[0])
	if outcome == ApproveUnknown {
		missing, err := r.missingStatus(ctx, sessionID)
		if err != nil {
			return ApproveResult{}, err
		}
		switch missing {
		case model.PairingStatusUsed:
			// Completed elsewhere; same answer as a live double-approval.
			outcome = ApproveNotPending
		case model.PairingStatusExpired:
			outcome = ApproveExpired
		}
	}

	ttlSec, _ := strconv.Atoi(raw[2])
	return ApproveResult{
		Outcome:   outcome,
		Channel:   raw[1],
		Remaining: time.Duration(ttlSec) * time.Second,
	}, nil
}

func (r *pairingRepo) SetAuthCode(ctx context.Context, sessionID, code string) error {
	// Plain HSET: only the approve path writes this field, and HSET does
	// not disturb the key's TTL.
	if err := r.client.HSet(ctx, redisclient.PairingKey(sessionID), "authCode", code).Err(); err != nil {
		return fmt.Errorf("set auth code: %w", err)
	}
	return nil
}

func (r *pairingRepo) Status(ctx context.Context, sessionID string) (*PairingStatusResult, error) {
	raw, err := statusScript.Run(ctx, r.client,
		[]string{redisclient.PairingKey(sessionID)},
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("pairing status: %w", err)
	}
	if len(raw) != 4 {
		return nil, fmt.Errorf("pairing status: unexpected script result %v", raw)
	}

	if raw[0] == "" {
		missing, err := r.missingStatus(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if missing == "" {
			return nil, nil
		}
		return &PairingStatusResult{Status: missing}, nil
	}

	ttlSec, _ := strconv.Atoi(raw[1])
	return &PairingStatusResult{
		Status:   model.PairingStatus(raw[0]),
		TTL:      time.Duration(ttlSec) * time.Second,
		AuthCode: raw[2],
		Channel:  raw[3],
	}, nil
}

func (r *pairingRepo) Consume(ctx context.Context, sessionID string, tombstoneTTL time.Duration, reason model.ExpiryReason) (string, error) {
	channel, err := consumeScript.Run(ctx, r.client,
		[]string{
			redisclient.PairingKey(sessionID),
			redisclient.PairingExpiryQueue,
			redisclient.PairingTombstoneKey(sessionID),
		},
		sessionID,
		int(tombstoneTTL.Seconds()),
		string(reason),
	).Text()
	if err != nil {
		return "", fmt.Errorf("consume pairing record: %w", err)
	}
	return channel, nil
}

func (r *pairingRepo) PopDueExpiries(ctx context.Context, now time.Time, limit int) ([]string, error) {
	due, err := popDueScript.Run(ctx, r.client,
		[]string{redisclient.PairingExpiryQueue},
		now.Unix(),
		limit,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("pop due expiries: %w", err)
	}
	return due, nil
}

// missingStatus classifies a session whose record is gone. The tombstone's
// recorded reason wins; failing that, a lapsed entry still sitting in the
// expiry queue means the record was evicted but not yet swept.
func (r *pairingRepo) missingStatus(ctx context.Context, sessionID string) (model.PairingStatus, error) {
	reason, err := r.client.Get(ctx, redisclient.PairingTombstoneKey(sessionID)).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return "", fmt.Errorf("check tombstone: %w", err)
	}

	var queued bool
	var expiresAt int64
	if reason == "" {
		score, err := r.client.ZScore(ctx, redisclient.PairingExpiryQueue, sessionID).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return "", fmt.Errorf("check expiry queue: %w", err)
		}
		if err == nil {
			queued = true
			expiresAt = int64(score)
		}
	}

	return classifyMissing(reason, queued, expiresAt, time.Now()), nil
}

func classifyMissing(tombstoneReason string, queued bool, expiresAt int64, now time.Time) model.PairingStatus {
	switch {
	case tombstoneReason == string(model.ExpiryReasonUsed):
		return model.PairingStatusUsed
	case tombstoneReason != "":
		return model.PairingStatusExpired
	case queued && expiresAt <= now.Unix():
		return model.PairingStatusExpired
	}
	return ""
}
