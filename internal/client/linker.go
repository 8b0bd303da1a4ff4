// Package client implements the initiator side of the device-link handoff:
// create a pairing session, render its QR payload, keep the push stream
// joined across reconnects, and exchange the pushed one-time code for a
// persistent session. The fallback poll, not the push, is the correctness
// backstop.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/beamchat/link-server-go/internal/model"
	"github.com/beamchat/link-server-go/internal/service"
	"github.com/beamchat/link-server-go/internal/sse"
)

// State is the linker's own lifecycle, independent of stream connectivity.
type State string

const (
	StateIdle       State = "idle"
	StatePending    State = "pending"
	StateExchanging State = "exchanging"
	StateLinked     State = "linked"
	StateExpired    State = "expired"
)

// joinState tracks push-channel membership for the current session cycle.
// It resets on every reconnect: a dropped connection must never strand the
// session unjoined.
type joinState int

const (
	joinIdle joinState = iota
	joinJoining
	joinJoined
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultReconnectDelay = 2 * time.Second
)

type Update struct {
	State     State  `json:"state"`
	SessionID string `json:"sessionId"`
	QRPayload string `json:"qrPayload,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type Config struct {
	BaseURL        string
	HTTPClient     *http.Client
	PollInterval   time.Duration
	ReconnectDelay time.Duration
}

type Linker struct {
	baseURL        string
	httpc          *http.Client
	pollInterval   time.Duration
	reconnectDelay time.Duration

	mu          sync.Mutex
	state       State
	join        joinState
	sessionID   string
	qrPayload   string
	cycleCancel context.CancelFunc

	updates chan Update
}

func New(cfg Config) (*Linker, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	httpc := cfg.HTTPClient
	if httpc == nil {
		// The exchange response sets the session cookie; a jar keeps it.
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpc = &http.Client{Jar: jar}
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}

	return &Linker{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpc:          httpc,
		pollInterval:   pollInterval,
		reconnectDelay: reconnectDelay,
		state:          StateIdle,
		updates:        make(chan Update, 8),
	}, nil
}

// Start creates the first pairing session and begins the stream and poll
// loops. It returns once the session exists; progress arrives on Updates.
func (l *Linker) Start(ctx context.Context) error {
	created, err := l.createSession(ctx)
	if err != nil {
		return err
	}

	l.beginCycle(ctx, created.SessionID, created.QRPayload)
	return nil
}

// Adopt begins a cycle for a session created elsewhere, e.g. handed over in
// a deep link, instead of minting a fresh one.
func (l *Linker) Adopt(ctx context.Context, sessionID, qrPayload string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	l.cancelCycle()
	l.beginCycle(ctx, sessionID, qrPayload)
	return nil
}

// Regenerate abandons the current session and creates a fresh one. The old
// cycle is cancelled first so two valid QR codes never coexist; the
// abandoned record simply ages out server-side.
func (l *Linker) Regenerate(ctx context.Context) error {
	l.cancelCycle()

	created, err := l.createSession(ctx)
	if err != nil {
		return err
	}

	l.beginCycle(ctx, created.SessionID, created.QRPayload)
	return nil
}

func (l *Linker) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Session returns the active session id and its QR payload.
func (l *Linker) Session() (string, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID, l.qrPayload
}

// Joined reports whether the push stream is currently attached for the
// active session. The poll loop runs regardless.
func (l *Linker) Joined() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.join == joinJoined
}

func (l *Linker) Updates() <-chan Update {
	return l.updates
}

func (l *Linker) beginCycle(ctx context.Context, sessionID, qrPayload string) {
	cycleCtx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	l.state = StatePending
	l.join = joinIdle
	l.sessionID = sessionID
	l.qrPayload = qrPayload
	l.cycleCancel = cancel
	l.mu.Unlock()

	l.emit(Update{State: StatePending, SessionID: sessionID, QRPayload: qrPayload})

	go l.runStream(cycleCtx, sessionID)
	go l.runPoll(cycleCtx, sessionID)
}

func (l *Linker) cancelCycle() {
	l.mu.Lock()
	if l.cycleCancel != nil {
		l.cycleCancel()
		l.cycleCancel = nil
	}
	l.mu.Unlock()
}

func (l *Linker) createSession(ctx context.Context) (*service.CreatePairingResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/v1/pair", nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create pairing session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create pairing session: unexpected status %d", resp.StatusCode)
	}

	var created service.CreatePairingResult
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decode pairing session: %w", err)
	}
	if created.SessionID == "" || created.Challenge == "" {
		return nil, fmt.Errorf("pairing session response missing fields")
	}
	return &created, nil
}

// runStream keeps the push stream joined for one session cycle. Opening the
// stream is the join; each reconnect resets the guard and rejoins.
func (l *Linker) runStream(ctx context.Context, sessionID string) {
	for {
		if ctx.Err() != nil || l.terminalFor(sessionID) {
			return
		}

		l.setJoin(sessionID, joinJoining)
		err := l.consumeStream(ctx, sessionID)
		l.setJoin(sessionID, joinIdle)

		if ctx.Err() != nil || l.terminalFor(sessionID) {
			return
		}

		if err != nil {
			log.Debug().Err(err).Str("sessionId", sessionID).Msg("pairing stream dropped, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.reconnectDelay):
		}
	}
}

func (l *Linker) consumeStream(ctx context.Context, sessionID string) error {
	url := fmt.Sprintf("%s/v1/pair/%s/events", l.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := l.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream status %d", resp.StatusCode)
	}

	l.setJoin(sessionID, joinJoined)

	scanner := bufio.NewScanner(resp.Body)
	var eventType string
	var data bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if eventType != "" {
				l.dispatch(eventType, data.Bytes())
			}
			eventType = ""
			data.Reset()

		case strings.HasPrefix(line, ":"):
			// heartbeat comment

		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")

		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}

	return scanner.Err()
}

// dispatch validates a pushed event against its fixed schema before acting
// on it. Malformed payloads are dropped at this boundary.
func (l *Linker) dispatch(eventType string, data []byte) {
	switch eventType {
	case sse.EventSessionApproved:
		var payload sse.SessionApprovedData
		if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" || payload.AuthCode == "" {
			log.Warn().Str("event", eventType).Msg("dropping malformed push event")
			return
		}
		l.handleApproved(payload.SessionID, payload.AuthCode)

	case sse.EventSessionExpired:
		var payload sse.SessionExpiredData
		if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
			log.Warn().Str("event", eventType).Msg("dropping malformed push event")
			return
		}
		l.handleExpired(payload.SessionID, payload.Reason)

	case sse.EventConnected:
		// informational only
	}
}

// handleApproved is shared by the push path and the fallback poll. Approvals
// for a session other than the active one are stale scans (the user
// regenerated the QR) and are silently ignored.
func (l *Linker) handleApproved(sessionID, authCode string) {
	l.mu.Lock()
	if sessionID != l.sessionID || l.state != StatePending {
		l.mu.Unlock()
		return
	}
	l.state = StateExchanging
	l.mu.Unlock()

	l.emit(Update{State: StateExchanging, SessionID: sessionID})

	if err := l.exchange(sessionID, authCode); err != nil {
		// A code never legitimately succeeds twice; show "rescan" rather
		// than retrying.
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("exchange failed")
		l.finish(sessionID, StateExpired, "gone")
		return
	}

	l.finish(sessionID, StateLinked, "")
}

func (l *Linker) handleExpired(sessionID, reason string) {
	l.mu.Lock()
	if sessionID != l.sessionID || l.state == StateLinked || l.state == StateExpired {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	// Never auto-regenerate: that would spin out fresh QR codes forever
	// while nobody is scanning.
	l.finish(sessionID, StateExpired, reason)
}

func (l *Linker) exchange(sessionID, authCode string) error {
	body, err := json.Marshal(map[string]string{
		"sessionId": sessionID,
		"authCode":  authCode,
	})
	if err != nil {
		return err
	}

	resp, err := l.httpc.Post(l.baseURL+"/v1/pair/exchange", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("exchange status %d", resp.StatusCode)
	}
	return nil
}

// runPoll queries status independently of the stream, so a lost push cannot
// stall the handoff.
func (l *Linker) runPoll(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if l.terminalFor(sessionID) {
			return
		}

		status, err := l.fetchStatus(ctx, sessionID)
		if err != nil {
			log.Debug().Err(err).Str("sessionId", sessionID).Msg("status poll failed")
			continue
		}

		switch status.Status {
		case model.PairingStatusApproved:
			if status.AuthCode != "" {
				l.handleApproved(sessionID, status.AuthCode)
			}
		case model.PairingStatusUsed:
			// Completed elsewhere; this view can only go stale.
			l.handleExpired(sessionID, string(model.ExpiryReasonUsed))
		case model.PairingStatusExpired:
			l.handleExpired(sessionID, string(model.ExpiryReasonTTL))
		}
	}
}

func (l *Linker) fetchStatus(ctx context.Context, sessionID string) (*service.PairingStatusResult, error) {
	url := fmt.Sprintf("%s/v1/pair/%s/status", l.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown here means the record lapsed before a tombstone was laid
		// down; either way this QR is dead.
		return &service.PairingStatusResult{Status: model.PairingStatusExpired}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var status service.PairingStatusResult
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (l *Linker) finish(sessionID string, state State, reason string) {
	l.mu.Lock()
	if sessionID != l.sessionID {
		l.mu.Unlock()
		return
	}
	l.state = state
	if l.cycleCancel != nil {
		l.cycleCancel()
		l.cycleCancel = nil
	}
	l.mu.Unlock()

	l.emit(Update{State: state, SessionID: sessionID, Reason: reason})
}

func (l *Linker) terminalFor(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sessionID != l.sessionID {
		return true
	}
	return l.state == StateLinked || l.state == StateExpired
}

// setJoin is scoped to one cycle: a goroutine winding down after Regenerate
// must not clobber the new cycle's join state.
func (l *Linker) setJoin(sessionID string, state joinState) {
	l.mu.Lock()
	if l.sessionID == sessionID {
		l.join = state
	}
	l.mu.Unlock()
}

func (l *Linker) emit(update Update) {
	select {
	case l.updates <- update:
	default:
		log.Warn().Str("sessionId", update.SessionID).Msg("update channel full, dropping update")
	}
}
