package pubsub

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miraihub/mirai-gateway/internal/logging"
)

func newTestHub(bufferSize int) *Hub {
	return NewHub(bufferSize, logging.New().WithComponent("pubsub-test"))
}

// collector is a thread-safe callback sink.
type collector struct {
	mu       sync.Mutex
	payloads []string
}

func (c *collector) callback(payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func (c *collector) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.got(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d payloads, got %d", n, len(c.got()))
	return nil
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	hub := newTestHub(20)
	c := &collector{}
	hub.Subscribe("conversation:c1:messages", c.callback)

	hub.Publish("conversation:c1:messages", `{"n":1}`)

	got := c.waitFor(t, 1)
	assert.Equal(t, []string{`{"n":1}`}, got)
}

func TestReplayBufferBounded(t *testing.T) {
	hub := newTestHub(5)
	channel := "conversation:c1:messages"

	for i := 0; i < 12; i++ {
		hub.Publish(channel, fmt.Sprintf("msg-%d", i))
	}

	assert.Equal(t, 5, hub.BufferLen(channel))

	// A late subscriber catches up with exactly the most recent messages.
	c := &collector{}
	hub.Subscribe(channel, c.callback)
	got := c.waitFor(t, 5)
	assert.Equal(t, []string{"msg-7", "msg-8", "msg-9", "msg-10", "msg-11"}, got)
}

func TestReplayPreservesOrder(t *testing.T) {
	hub := newTestHub(20)
	channel := "conversation:c2:messages"
	hub.Publish(channel, "first")
	hub.Publish(channel, "second")
	hub.Publish(channel, "third")

	c := &collector{}
	hub.Subscribe(channel, c.callback)

	got := c.waitFor(t, 3)
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestFailingSubscriberRemovedSiblingUnaffected(t *testing.T) {
	hub := newTestHub(20)
	channel := "conversation:c3:messages"

	healthy := &collector{}
	hub.Subscribe(channel, healthy.callback)
	hub.Subscribe(channel, func(string) error {
		return errors.New("broken pipe")
	})
	require.Equal(t, 2, hub.SubscriberCount(channel))

	hub.Publish(channel, "one")
	healthy.waitFor(t, 1)
	assert.Equal(t, 1, hub.SubscriberCount(channel))

	hub.Publish(channel, "two")
	got := healthy.waitFor(t, 2)
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestPanickingSubscriberRemoved(t *testing.T) {
	hub := newTestHub(20)
	channel := "conversation:c4:messages"

	healthy := &collector{}
	hub.Subscribe(channel, healthy.callback)
	hub.Subscribe(channel, func(string) error {
		panic("subscriber bug")
	})

	hub.Publish(channel, "payload")
	healthy.waitFor(t, 1)
	assert.Equal(t, 1, hub.SubscriberCount(channel))
}

func TestUnsubscribeLastDeletesConversationChannel(t *testing.T) {
	hub := newTestHub(20)
	channel := ConversationChannel("c5")

	sub := hub.Subscribe(channel, func(string) error { return nil })
	hub.Publish(channel, "x")
	require.Equal(t, 1, hub.BufferLen(channel))

	hub.Unsubscribe(sub)

	assert.Equal(t, 0, hub.SubscriberCount(channel))
	assert.Equal(t, 0, hub.BufferLen(channel), "channel entry should be gone")
}

func TestGlobalChannelSurvivesLastUnsubscribe(t *testing.T) {
	hub := newTestHub(20)
	hub.Publish(GlobalChannel, "kept")

	sub := hub.Subscribe(GlobalChannel, func(string) error { return nil })
	hub.Unsubscribe(sub)

	assert.Equal(t, 1, hub.BufferLen(GlobalChannel))
}

func TestUnsubscribeIdempotent(t *testing.T) {
	hub := newTestHub(20)
	sub := hub.Subscribe(GlobalChannel, func(string) error { return nil })
	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub) // second removal is a no-op
	assert.Equal(t, 0, hub.SubscriberCount(GlobalChannel))
}

func TestConversationChannelName(t *testing.T) {
	assert.Equal(t, "conversation:abc:messages", ConversationChannel("abc"))
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	hub := newTestHub(10)
	channel := ConversationChannel("c6")
	c := &collector{}
	hub.Subscribe(channel, c.callback)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				hub.Publish(channel, fmt.Sprintf("%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	c.waitFor(t, 200)
	assert.Equal(t, 10, hub.BufferLen(channel))
}
