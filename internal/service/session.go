package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/beamchat/link-server-go/internal/config"
	apperrors "github.com/beamchat/link-server-go/internal/errors"
	"github.com/beamchat/link-server-go/internal/model"
	redisclient "github.com/beamchat/link-server-go/internal/redis"
	"github.com/beamchat/link-server-go/internal/repository"
	"github.com/beamchat/link-server-go/internal/sse"
)

type ExchangeResult struct {
	Token  string
	UserID string
	TTL    time.Duration
}

// SessionService is the session issuer: it turns a redeemed one-time code
// into a persistent session for the initiator, and revokes sessions on
// logout.
type SessionService struct {
	vault       repository.CodeVault
	sessionRepo repository.AppSessionRepository
	userRepo    repository.UserRepository
	pairing     *PairingService
	publisher   Publisher
	sessionTTL  time.Duration
}

func NewSessionService(
	vault repository.CodeVault,
	sessionRepo repository.AppSessionRepository,
	userRepo repository.UserRepository,
	pairing *PairingService,
	publisher Publisher,
	cfg *config.Config,
) *SessionService {
	return &SessionService{
		vault:       vault,
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		pairing:     pairing,
		publisher:   publisher,
		sessionTTL:  cfg.AppSessionTTL(),
	}
}

// Exchange redeems a one-time code and mints a persistent session. A spent
// or lapsed code yields a non-retryable "gone": a used code can never
// legitimately succeed twice, so the initiator must rescan, never retry.
func (s *SessionService) Exchange(ctx context.Context, sessionID, code string) (*ExchangeResult, error) {
	payload, err := s.vault.Redeem(ctx, sessionID, code)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if payload == nil {
		return nil, apperrors.CodeGone()
	}

	user, err := s.userRepo.FindByID(ctx, payload.UserID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		// The approver's account vanished between approval and exchange.
		log.Warn().Str("userId", payload.UserID).Str("sessionId", sessionID).Msg("auth code for missing user")
		return nil, apperrors.CodeGone()
	}

	token, err := s.sessionRepo.Issue(ctx, user.ID, payload.Device, s.sessionTTL)
	if err != nil {
		return nil, apperrors.Store(err)
	}

	// The pairing record has served its purpose; consuming it also tells
	// any other initiator view "pairing completed elsewhere".
	if err := s.pairing.ConsumeAndExpire(ctx, sessionID, model.ExpiryReasonUsed); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to consume pairing session after exchange")
	}

	event := sse.NewDeviceLinkedEvent(sessionID, payload.Device.Name)
	if err := s.publisher.Publish(ctx, redisclient.DeviceChannel(user.ID), event); err != nil {
		log.Warn().Err(err).Str("userId", user.ID).Msg("device-linked push failed")
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("userId", user.ID).
		Str("deviceName", payload.Device.Name).
		Msg("persistent session minted for linked device")

	return &ExchangeResult{
		Token:  token,
		UserID: user.ID,
		TTL:    s.sessionTTL,
	}, nil
}

// Logout revokes the persistent session behind the given token hash.
func (s *SessionService) Logout(ctx context.Context, tokenHash string) error {
	if err := s.sessionRepo.Revoke(ctx, tokenHash); err != nil {
		return apperrors.Store(err)
	}
	return nil
}
