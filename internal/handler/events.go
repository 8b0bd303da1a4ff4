package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/beamchat/link-server-go/internal/middleware"
	"github.com/beamchat/link-server-go/internal/model"
	redisclient "github.com/beamchat/link-server-go/internal/redis"
	"github.com/beamchat/link-server-go/internal/service"
	"github.com/beamchat/link-server-go/internal/sse"
)

// EventsHandler serves the two push namespaces. They share the broker but
// differ in trust: the pairing stream accepts unauthenticated initiators,
// the device stream requires a valid persistent session.
type EventsHandler struct {
	broker         *sse.Broker
	pairingService *service.PairingService
}

func NewEventsHandler(broker *sse.Broker, pairingService *service.PairingService) *EventsHandler {
	return &EventsHandler{
		broker:         broker,
		pairingService: pairingService,
	}
}

// ServePairing handles GET /v1/pair/{sessionID}/events. Opening the stream
// is the "join-session" step: it registers the initiator's channel on the
// pairing record. Reconnecting re-registers, so a dropped connection never
// strands the session unjoined.
func (h *EventsHandler) ServePairing(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Session id is required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	ctx := r.Context()
	channelID := uuid.NewString()

	registered, err := h.pairingService.RegisterChannel(ctx, sessionID, channelID)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("channel registration failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	writeSSEHeaders(w)

	if !registered {
		// The record is gone; the initiator treats this as "restart".
		h.sendRawEvent(w, flusher, sse.NewSessionExpiredEvent(sessionID, string(model.ExpiryReasonTTL)))
		return
	}

	client := h.broker.Subscribe(redisclient.PairingChannel(sessionID))
	defer h.broker.Unsubscribe(client)

	h.sendEvent(w, flusher, sse.EventConnected, map[string]string{"sessionId": sessionID})

	// The scan may have beaten the join: replay a pending approval so the
	// code is not lost to the registration race.
	if status, err := h.pairingService.Status(ctx, sessionID); err == nil &&
		status.Status == model.PairingStatusApproved && status.AuthCode != "" {
		h.sendRawEvent(w, flusher, sse.NewSessionApprovedEvent(sessionID, status.AuthCode))
	}

	log.Debug().
		Str("sessionId", sessionID).
		Str("channelId", channelID).
		Msg("pairing stream established")

	h.stream(ctx, w, flusher, client)
}

// ServeDevice handles GET /v1/events for already-linked devices; it carries
// device-linked notices and other account-scoped pushes.
func (h *EventsHandler) ServeDevice(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	writeSSEHeaders(w)

	client := h.broker.Subscribe(redisclient.DeviceChannel(user.ID))
	defer h.broker.Unsubscribe(client)

	h.sendEvent(w, flusher, sse.EventConnected, map[string]string{"userId": user.ID})

	h.stream(r.Context(), w, flusher, client)
}

func (h *EventsHandler) stream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, client *sse.Client) {
	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-client.Done:
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Debug().Err(err).Str("topic", client.Topic).Msg("failed to send event, closing stream")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
