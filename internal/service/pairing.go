package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/beamchat/link-server-go/internal/config"
	apperrors "github.com/beamchat/link-server-go/internal/errors"
	"github.com/beamchat/link-server-go/internal/model"
	"github.com/beamchat/link-server-go/internal/qr"
	redisclient "github.com/beamchat/link-server-go/internal/redis"
	"github.com/beamchat/link-server-go/internal/repository"
	"github.com/beamchat/link-server-go/internal/sse"
	"github.com/beamchat/link-server-go/internal/util"
)

const mintAttempts = 2

// Publisher is the push side of the coordinator. Pushes are best-effort:
// the fallback poll is the correctness backstop, not the push.
type Publisher interface {
	Publish(ctx context.Context, topic string, event sse.Event) error
}

type CreatePairingResult struct {
	SessionID string `json:"sessionId"`
	Challenge string `json:"challenge"`
	TTL       int    `json:"ttl"`
	QRPayload string `json:"qrPayload"`
}

type PairingStatusResult struct {
	Status model.PairingStatus `json:"status"`
	TTL    int                 `json:"ttl"`
	// AuthCode is present only while approved, so a poll that outran the
	// push can still complete the handoff.
	AuthCode string `json:"authCode,omitempty"`
}

type PairingService struct {
	pairingRepo repository.PairingRepository
	vault       repository.CodeVault
	publisher   Publisher
	pairingTTL  time.Duration
	authCodeTTL time.Duration
	baseURL     string
}

func NewPairingService(
	pairingRepo repository.PairingRepository,
	vault repository.CodeVault,
	publisher Publisher,
	cfg *config.Config,
) *PairingService {
	return &PairingService{
		pairingRepo: pairingRepo,
		vault:       vault,
		publisher:   publisher,
		pairingTTL:  cfg.PairingTTL(),
		authCodeTTL: cfg.AuthCodeTTL(),
		baseURL:     cfg.BaseURL,
	}
}

// Create mints a fresh pairing session in pending state. The challenge is
// bound to this one QR instance; approving with any other value fails.
func (s *PairingService) Create(ctx context.Context) (*CreatePairingResult, error) {
	sessionID := uuid.NewString()

	challenge, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}

	if err := s.pairingRepo.Create(ctx, sessionID, challenge, s.pairingTTL); err != nil {
		return nil, fmt.Errorf("create pairing session: %w", err)
	}

	log.Info().
		Str("sessionId", sessionID).
		Dur("ttl", s.pairingTTL).
		Msg("pairing session created")

	return &CreatePairingResult{
		SessionID: sessionID,
		Challenge: challenge,
		TTL:       int(s.pairingTTL.Seconds()),
		QRPayload: qr.BuildURL(s.baseURL, qr.Payload{SessionID: sessionID, Challenge: challenge}),
	}, nil
}

// RegisterChannel attaches the initiator's push channel to the record.
// Returns false when the record is gone; this is an expected race on
// reconnect and means "restart", not failure.
func (s *PairingService) RegisterChannel(ctx context.Context, sessionID, channelID string) (bool, error) {
	ok, err := s.pairingRepo.RegisterChannel(ctx, sessionID, channelID)
	if err != nil {
		return false, fmt.Errorf("register channel: %w", err)
	}

	if !ok {
		log.Debug().Str("sessionId", sessionID).Msg("channel registration for missing session")
	}
	return ok, nil
}

// Approve is the approver-side transition. On success it mints the one-time
// code, records it on the pairing record and pushes it to the initiator if a
// channel is registered. The push is best-effort only.
func (s *PairingService) Approve(ctx context.Context, sessionID, challenge, userID string, device model.DeviceInfo) error {
	res, err := s.pairingRepo.Approve(ctx, sessionID, challenge)
	if err != nil {
		return apperrors.Store(err)
	}

	switch res.Outcome {
	case repository.ApproveOK:
	case repository.ApproveUnknown:
		return apperrors.UnknownSession()
	case repository.ApproveExpired:
		return apperrors.SessionExpired()
	case repository.ApproveNotPending:
		// Double-approval, or a replayed validate call.
		return apperrors.NotPending()
	case repository.ApproveBadChallenge:
		log.Warn().Str("sessionId", sessionID).Msg("challenge mismatch on approve")
		return apperrors.BadChallenge()
	default:
		return apperrors.Internal(fmt.Sprintf("unexpected approve outcome %q", res.Outcome))
	}

	code, err := s.mintCode(ctx, sessionID, userID, device, res.Remaining)
	if err != nil {
		return apperrors.Store(err)
	}

	if err := s.pairingRepo.SetAuthCode(ctx, sessionID, code); err != nil {
		// The poll path loses its copy of the code, but the push below may
		// still deliver it.
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to store auth code on record")
	}

	if res.Channel != "" {
		event := sse.NewSessionApprovedEvent(sessionID, code)
		if err := s.publisher.Publish(ctx, redisclient.PairingChannel(sessionID), event); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("approved push failed")
		}
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("userId", userID).
		Bool("channelRegistered", res.Channel != "").
		Msg("pairing session approved")

	return nil
}

func (s *PairingService) mintCode(ctx context.Context, sessionID, userID string, device model.DeviceInfo, remaining time.Duration) (string, error) {
	// A code must not outlive its session context: bound the code TTL by
	// the pairing record's remaining TTL.
	ttl := s.authCodeTTL
	if remaining > 0 && remaining < ttl {
		ttl = remaining
	}

	payload := model.AuthCodePayload{
		UserID:    userID,
		SessionID: sessionID,
		Device:    device,
		IssuedAt:  time.Now().UnixMilli(),
	}

	for i := 0; i < mintAttempts; i++ {
		code, err := util.GenerateToken()
		if err != nil {
			return "", fmt.Errorf("generate auth code: %w", err)
		}

		err = s.vault.Mint(ctx, code, payload, ttl)
		if err == nil {
			return code, nil
		}
		if err != repository.ErrCodeExists {
			return "", err
		}
	}

	return "", fmt.Errorf("auth code collision after %d attempts", mintAttempts)
}

// Status serves the initiator's fallback poll.
func (s *PairingService) Status(ctx context.Context, sessionID string) (*PairingStatusResult, error) {
	res, err := s.pairingRepo.Status(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if res == nil {
		return nil, apperrors.UnknownSession()
	}

	return &PairingStatusResult{
		Status:   res.Status,
		TTL:      int(res.TTL.Seconds()),
		AuthCode: res.AuthCode,
	}, nil
}

// ConsumeAndExpire deletes the record and, if the initiator ever joined,
// pushes a courtesy notice distinguishing "completed elsewhere" (used) from
// "this QR went stale" (ttl).
func (s *PairingService) ConsumeAndExpire(ctx context.Context, sessionID string, reason model.ExpiryReason) error {
	channel, err := s.pairingRepo.Consume(ctx, sessionID, config.PairingTombstoneTTL, reason)
	if err != nil {
		return fmt.Errorf("consume pairing session: %w", err)
	}

	if channel != "" {
		event := sse.NewSessionExpiredEvent(sessionID, string(reason))
		if err := s.publisher.Publish(ctx, redisclient.PairingChannel(sessionID), event); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("expiry push failed")
		}
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("reason", string(reason)).
		Msg("pairing session consumed")

	return nil
}
