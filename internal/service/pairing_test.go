package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/beamchat/link-server-go/internal/config"
	apperrors "github.com/beamchat/link-server-go/internal/errors"
	"github.com/beamchat/link-server-go/internal/model"
	"github.com/beamchat/link-server-go/internal/qr"
	"github.com/beamchat/link-server-go/internal/repository"
	"github.com/beamchat/link-server-go/internal/sse"
)

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:            "https://chat.example.com",
		PairingTTLSeconds:  120,
		AuthCodeTTLSeconds: 60,
		AppSessionTTLDays:  30,
	}
}

func newPairingService(repo *mockPairingRepo, vault *mockCodeVault, pub *mockPublisher) *PairingService {
	return NewPairingService(repo, vault, pub, testConfig())
}

func TestPairingService_Create(t *testing.T) {
	t.Run("creates pending record and QR payload", func(t *testing.T) {
		repo := new(mockPairingRepo)
		repo.On("Create", mock.Anything, mock.Anything, mock.Anything, 120*time.Second).Return(nil)

		svc := newPairingService(repo, new(mockCodeVault), new(mockPublisher))
		result, err := svc.Create(context.Background())
		require.NoError(t, err)

		assert.NotEmpty(t, result.SessionID)
		assert.NotEmpty(t, result.Challenge)
		assert.Equal(t, 120, result.TTL)

		payload, err := qr.Parse(result.QRPayload)
		require.NoError(t, err)
		assert.Equal(t, result.SessionID, payload.SessionID)
		assert.Equal(t, result.Challenge, payload.Challenge)

		repo.AssertExpectations(t)
	})

	t.Run("propagates id collisions as errors", func(t *testing.T) {
		repo := new(mockPairingRepo)
		repo.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(repository.ErrSessionExists)

		svc := newPairingService(repo, new(mockCodeVault), new(mockPublisher))
		_, err := svc.Create(context.Background())
		assert.ErrorIs(t, err, repository.ErrSessionExists)
	})
}

func TestPairingService_RegisterChannel(t *testing.T) {
	t.Run("returns false for missing session without error", func(t *testing.T) {
		repo := new(mockPairingRepo)
		repo.On("RegisterChannel", mock.Anything, "s1", "ch1").Return(false, nil)

		svc := newPairingService(repo, new(mockCodeVault), new(mockPublisher))
		ok, err := svc.RegisterChannel(context.Background(), "s1", "ch1")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPairingService_Approve(t *testing.T) {
	device := model.DeviceInfo{Name: "Pixel 9"}

	t.Run("mints code, stores it, pushes to registered channel", func(t *testing.T) {
		repo := new(mockPairingRepo)
		vault := new(mockCodeVault)
		pub := new(mockPublisher)

		repo.On("Approve", mock.Anything, "s1", "c1").Return(repository.ApproveResult{
			Outcome:   repository.ApproveOK,
			Channel:   "ch1",
			Remaining: 90 * time.Second,
		}, nil)
		vault.On("Mint", mock.Anything, mock.Anything, mock.MatchedBy(func(p model.AuthCodePayload) bool {
			return p.UserID == "u1" && p.SessionID == "s1" && p.Device.Name == "Pixel 9"
		}), 60*time.Second).Return(nil)
		repo.On("SetAuthCode", mock.Anything, "s1", mock.Anything).Return(nil)
		pub.On("Publish", mock.Anything, "pairing:s1", mock.MatchedBy(func(e sse.Event) bool {
			if e.Type != sse.EventSessionApproved {
				return false
			}
			var data sse.SessionApprovedData
			require.NoError(t, json.Unmarshal(e.Data, &data))
			return data.SessionID == "s1" && data.AuthCode != ""
		})).Return(nil)

		svc := newPairingService(repo, vault, pub)
		err := svc.Approve(context.Background(), "s1", "c1", "u1", device)
		require.NoError(t, err)

		repo.AssertExpectations(t)
		vault.AssertExpectations(t)
		pub.AssertExpectations(t)
	})

	t.Run("bounds code TTL by the record's remaining TTL", func(t *testing.T) {
		repo := new(mockPairingRepo)
		vault := new(mockCodeVault)

		repo.On("Approve", mock.Anything, "s1", "c1").Return(repository.ApproveResult{
			Outcome:   repository.ApproveOK,
			Remaining: 20 * time.Second,
		}, nil)
		vault.On("Mint", mock.Anything, mock.Anything, mock.Anything, 20*time.Second).Return(nil)
		repo.On("SetAuthCode", mock.Anything, "s1", mock.Anything).Return(nil)

		svc := newPairingService(repo, vault, new(mockPublisher))
		require.NoError(t, svc.Approve(context.Background(), "s1", "c1", "u1", device))

		vault.AssertExpectations(t)
	})

	t.Run("succeeds without a registered channel and skips the push", func(t *testing.T) {
		repo := new(mockPairingRepo)
		vault := new(mockCodeVault)
		pub := new(mockPublisher)

		repo.On("Approve", mock.Anything, "s1", "c1").Return(repository.ApproveResult{
			Outcome:   repository.ApproveOK,
			Remaining: 90 * time.Second,
		}, nil)
		vault.On("Mint", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		repo.On("SetAuthCode", mock.Anything, "s1", mock.Anything).Return(nil)

		svc := newPairingService(repo, vault, pub)
		require.NoError(t, svc.Approve(context.Background(), "s1", "c1", "u1", device))

		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("retries once on code collision", func(t *testing.T) {
		repo := new(mockPairingRepo)
		vault := new(mockCodeVault)

		repo.On("Approve", mock.Anything, "s1", "c1").Return(repository.ApproveResult{
			Outcome:   repository.ApproveOK,
			Remaining: 90 * time.Second,
		}, nil)
		vault.On("Mint", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(repository.ErrCodeExists).Once()
		vault.On("Mint", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil).Once()
		repo.On("SetAuthCode", mock.Anything, "s1", mock.Anything).Return(nil)

		svc := newPairingService(repo, vault, new(mockPublisher))
		require.NoError(t, svc.Approve(context.Background(), "s1", "c1", "u1", device))

		vault.AssertExpectations(t)
	})

	outcomes := []struct {
		name    string
		outcome repository.ApproveOutcome
		code    apperrors.ErrorCode
	}{
		{"unknown session", repository.ApproveUnknown, apperrors.ErrCodeUnknownSession},
		{"expired session", repository.ApproveExpired, apperrors.ErrCodeSessionExpired},
		{"double approval", repository.ApproveNotPending, apperrors.ErrCodeNotPending},
		{"challenge mismatch", repository.ApproveBadChallenge, apperrors.ErrCodeBadChallenge},
	}

	for _, tc := range outcomes {
		t.Run(tc.name+" never mints a code", func(t *testing.T) {
			repo := new(mockPairingRepo)
			vault := new(mockCodeVault)
			pub := new(mockPublisher)

			repo.On("Approve", mock.Anything, "s1", mock.Anything).
				Return(repository.ApproveResult{Outcome: tc.outcome}, nil)

			svc := newPairingService(repo, vault, pub)
			err := svc.Approve(context.Background(), "s1", "whatever", "u1", device)

			assert.True(t, apperrors.IsCode(err, tc.code), "expected %s, got %v", tc.code, err)
			vault.AssertNotCalled(t, "Mint", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPairingService_Status(t *testing.T) {
	t.Run("returns unknown-session for missing record", func(t *testing.T) {
		repo := new(mockPairingRepo)
		repo.On("Status", mock.Anything, "s1").Return(nil, nil)

		svc := newPairingService(repo, new(mockCodeVault), new(mockPublisher))
		_, err := svc.Status(context.Background(), "s1")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnknownSession))
	})

	t.Run("exposes the auth code while approved", func(t *testing.T) {
		repo := new(mockPairingRepo)
		repo.On("Status", mock.Anything, "s1").Return(&repository.PairingStatusResult{
			Status:   model.PairingStatusApproved,
			TTL:      45 * time.Second,
			AuthCode: "k1",
		}, nil)

		svc := newPairingService(repo, new(mockCodeVault), new(mockPublisher))
		result, err := svc.Status(context.Background(), "s1")
		require.NoError(t, err)

		assert.Equal(t, model.PairingStatusApproved, result.Status)
		assert.Equal(t, 45, result.TTL)
		assert.Equal(t, "k1", result.AuthCode)
	})

	t.Run("reports used after completion elsewhere", func(t *testing.T) {
		repo := new(mockPairingRepo)
		repo.On("Status", mock.Anything, "s1").Return(&repository.PairingStatusResult{
			Status: model.PairingStatusUsed,
		}, nil)

		svc := newPairingService(repo, new(mockCodeVault), new(mockPublisher))
		result, err := svc.Status(context.Background(), "s1")
		require.NoError(t, err)
		assert.Equal(t, model.PairingStatusUsed, result.Status)
	})

	t.Run("reports expired for tombstoned record", func(t *testing.T) {
		repo := new(mockPairingRepo)
		repo.On("Status", mock.Anything, "s1").Return(&repository.PairingStatusResult{
			Status: model.PairingStatusExpired,
		}, nil)

		svc := newPairingService(repo, new(mockCodeVault), new(mockPublisher))
		result, err := svc.Status(context.Background(), "s1")
		require.NoError(t, err)
		assert.Equal(t, model.PairingStatusExpired, result.Status)
	})
}

func TestPairingService_ConsumeAndExpire(t *testing.T) {
	t.Run("pushes courtesy notice when a channel is registered", func(t *testing.T) {
		repo := new(mockPairingRepo)
		pub := new(mockPublisher)

		repo.On("Consume", mock.Anything, "s1", mock.Anything, model.ExpiryReasonTTL).Return("ch1", nil)
		pub.On("Publish", mock.Anything, "pairing:s1", mock.MatchedBy(func(e sse.Event) bool {
			if e.Type != sse.EventSessionExpired {
				return false
			}
			var data sse.SessionExpiredData
			require.NoError(t, json.Unmarshal(e.Data, &data))
			return data.SessionID == "s1" && data.Reason == "ttl"
		})).Return(nil)

		svc := newPairingService(repo, new(mockCodeVault), pub)
		require.NoError(t, svc.ConsumeAndExpire(context.Background(), "s1", model.ExpiryReasonTTL))

		pub.AssertExpectations(t)
	})

	t.Run("skips the push when no channel was ever registered", func(t *testing.T) {
		repo := new(mockPairingRepo)
		pub := new(mockPublisher)

		repo.On("Consume", mock.Anything, "s1", mock.Anything, model.ExpiryReasonUsed).Return("", nil)

		svc := newPairingService(repo, new(mockCodeVault), pub)
		require.NoError(t, svc.ConsumeAndExpire(context.Background(), "s1", model.ExpiryReasonUsed))

		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})
}
