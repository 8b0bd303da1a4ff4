package sse

import (
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	redisclient "github.com/beamchat/link-server-go/internal/redis"
)

// go-redis connects lazily, so subscription bookkeeping is testable without
// a live server; only delivery needs one.
func testBroker() *Broker {
	client := &redisclient.Client{
		Client: goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}),
	}
	return NewBroker(client)
}

func TestBroker_ReaderLifecycle(t *testing.T) {
	t.Run("closes the topic reader when the last client leaves", func(t *testing.T) {
		broker := testBroker()
		defer broker.Close()

		first := broker.Subscribe("pairing:s1")
		second := broker.Subscribe("pairing:s1")
		assert.True(t, broker.hasReader("pairing:s1"))

		broker.Unsubscribe(first)
		assert.True(t, broker.hasReader("pairing:s1"), "reader must survive while clients remain")

		broker.Unsubscribe(second)
		assert.False(t, broker.hasReader("pairing:s1"), "reader must close with its last client")
		assert.Equal(t, 0, broker.ClientCount("pairing:s1"))
	})

	t.Run("resubscribing an emptied topic gets exactly one fresh reader", func(t *testing.T) {
		broker := testBroker()
		defer broker.Close()

		client := broker.Subscribe("pairing:s1")
		broker.Unsubscribe(client)

		again := broker.Subscribe("pairing:s1")
		defer broker.Unsubscribe(again)

		assert.True(t, broker.hasReader("pairing:s1"))
		assert.Equal(t, 1, broker.ClientCount("pairing:s1"))
	})

	t.Run("readers are per topic", func(t *testing.T) {
		broker := testBroker()
		defer broker.Close()

		one := broker.Subscribe("pairing:s1")
		two := broker.Subscribe("pairing:s2")

		broker.Unsubscribe(one)
		assert.False(t, broker.hasReader("pairing:s1"))
		assert.True(t, broker.hasReader("pairing:s2"))

		broker.Unsubscribe(two)
	})

	t.Run("close drops every reader", func(t *testing.T) {
		broker := testBroker()

		broker.Subscribe("pairing:s1")
		broker.Subscribe("device:u1")

		broker.Close()

		assert.False(t, broker.hasReader("pairing:s1"))
		assert.False(t, broker.hasReader("device:u1"))
	})
}
