package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/beamchat/link-server-go/internal/model"
	"github.com/beamchat/link-server-go/internal/repository"
	"github.com/beamchat/link-server-go/internal/sse"
)

type mockPairingRepo struct {
	mock.Mock
}

func (m *mockPairingRepo) Create(ctx context.Context, sessionID, challenge string, ttl time.Duration) error {
	args := m.Called(ctx, sessionID, challenge, ttl)
	return args.Error(0)
}

func (m *mockPairingRepo) RegisterChannel(ctx context.Context, sessionID, channelID string) (bool, error) {
	args := m.Called(ctx, sessionID, channelID)
	return args.Bool(0), args.Error(1)
}

func (m *mockPairingRepo) Approve(ctx context.Context, sessionID, challenge string) (repository.ApproveResult, error) {
	args := m.Called(ctx, sessionID, challenge)
	return args.Get(0).(repository.ApproveResult), args.Error(1)
}

func (m *mockPairingRepo) SetAuthCode(ctx context.Context, sessionID, code string) error {
	args := m.Called(ctx, sessionID, code)
	return args.Error(0)
}

func (m *mockPairingRepo) Status(ctx context.Context, sessionID string) (*repository.PairingStatusResult, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PairingStatusResult), args.Error(1)
}

func (m *mockPairingRepo) Consume(ctx context.Context, sessionID string, tombstoneTTL time.Duration, reason model.ExpiryReason) (string, error) {
	args := m.Called(ctx, sessionID, tombstoneTTL, reason)
	return args.String(0), args.Error(1)
}

func (m *mockPairingRepo) PopDueExpiries(ctx context.Context, now time.Time, limit int) ([]string, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type mockCodeVault struct {
	mock.Mock
}

func (m *mockCodeVault) Mint(ctx context.Context, code string, payload model.AuthCodePayload, ttl time.Duration) error {
	args := m.Called(ctx, code, payload, ttl)
	return args.Error(0)
}

func (m *mockCodeVault) Redeem(ctx context.Context, sessionID, code string) (*model.AuthCodePayload, error) {
	args := m.Called(ctx, sessionID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AuthCodePayload), args.Error(1)
}

type mockAppSessionRepo struct {
	mock.Mock
}

func (m *mockAppSessionRepo) Issue(ctx context.Context, userID string, device model.DeviceInfo, ttl time.Duration) (string, error) {
	args := m.Called(ctx, userID, device, ttl)
	return args.String(0), args.Error(1)
}

func (m *mockAppSessionRepo) Find(ctx context.Context, tokenHash string) (*model.AppSession, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AppSession), args.Error(1)
}

func (m *mockAppSessionRepo) Touch(ctx context.Context, tokenHash string, ttl time.Duration) error {
	args := m.Called(ctx, tokenHash, ttl)
	return args.Error(0)
}

func (m *mockAppSessionRepo) Revoke(ctx context.Context, tokenHash string) error {
	args := m.Called(ctx, tokenHash)
	return args.Error(0)
}

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, event sse.Event) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}
