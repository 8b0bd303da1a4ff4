package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/beamchat/link-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBufferSize  = 16
)

// Event types form a closed set; payload schemas are fixed per type and
// validated at the receiving boundary before being trusted.
const (
	EventConnected       = "connected"
	EventSessionApproved = "session-approved"
	EventSessionExpired  = "session-expired"
	EventDeviceLinked    = "device-linked"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type SessionApprovedData struct {
	SessionID string `json:"sessionId"`
	AuthCode  string `json:"authCode"`
}

type SessionExpiredData struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

type DeviceLinkedData struct {
	SessionID  string `json:"sessionId"`
	DeviceName string `json:"deviceName,omitempty"`
	LinkedAt   string `json:"linkedAt"`
}

type Client struct {
	Topic  string
	Events chan Event
	Done   chan struct{}
}

// Broker fans Redis pub/sub topics out to locally connected SSE clients.
// The topic is the pub/sub channel name, so multiple server processes
// deliver identically no matter which one holds the subscriber.
// Topics here are ephemeral (one per pairing session), so the per-topic
// Redis reader lives exactly as long as its local subscriber set.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // topic -> set of clients
	readers map[string]*goredis.PubSub  // topic -> its pub/sub reader
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		readers: make(map[string]*goredis.PubSub),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(topic string) *Client {
	client := &Client{
		Topic:  topic,
		Events: make(chan Event, clientBufferSize),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[topic] == nil {
		b.clients[topic] = make(map[*Client]bool)
		pubsub := b.redis.Subscribe(b.ctx, topic)
		b.readers[topic] = pubsub
		go b.readTopic(topic, pubsub)
	}
	b.clients[topic][client] = true
	clientCount := len(b.clients[topic])
	b.mu.Unlock()

	log.Debug().
		Str("topic", topic).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.Topic]; ok {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.Topic)
			// Closing the reader ends its goroutine; a later Subscribe on
			// the same topic starts a fresh one, never a second concurrent
			// reader.
			if pubsub := b.readers[client.Topic]; pubsub != nil {
				pubsub.Close()
				delete(b.readers, client.Topic)
			}
		}

		log.Debug().
			Str("topic", client.Topic).
			Int("clientCount", len(clients)).
			Msg("sse client unsubscribed")
	}
}

// Publish is best-effort by contract: the absence of a live subscriber is a
// missed notification, not an error.
func (b *Broker) Publish(ctx context.Context, topic string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, topic, data).Err()
}

func (b *Broker) readTopic(topic string, pubsub *goredis.PubSub) {
	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			// The channel closes when Unsubscribe (or Close) closed the
			// reader for this topic.
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(topic, event)
		}
	}
}

func (b *Broker) broadcast(topic string, event Event) {
	b.mu.RLock()
	clients := b.clients[topic]
	b.mu.RUnlock()

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("topic", topic).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, pubsub := range b.readers {
		pubsub.Close()
	}
	b.readers = make(map[string]*goredis.PubSub)

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) hasReader(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.readers[topic]
	return ok
}

func (b *Broker) ClientCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[topic])
}

// NewSessionApprovedEvent builds the push carrying the one-time code to the
// initiator.
func NewSessionApprovedEvent(sessionID, authCode string) Event {
	data, _ := json.Marshal(SessionApprovedData{SessionID: sessionID, AuthCode: authCode})
	return Event{Type: EventSessionApproved, Data: data}
}

func NewSessionExpiredEvent(sessionID, reason string) Event {
	data, _ := json.Marshal(SessionExpiredData{SessionID: sessionID, Reason: reason})
	return Event{Type: EventSessionExpired, Data: data}
}

func NewDeviceLinkedEvent(sessionID, deviceName string) Event {
	data, _ := json.Marshal(DeviceLinkedData{
		SessionID:  sessionID,
		DeviceName: deviceName,
		LinkedAt:   time.Now().UTC().Format(time.RFC3339),
	})
	return Event{Type: EventDeviceLinked, Data: data}
}
