// Package pubsub provides the in-process channel hub that decouples turn
// orchestration from the realtime transport. Channels hold a bounded replay
// buffer so reconnecting clients can catch up.
package pubsub

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/miraihub/mirai-gateway/internal/metrics"
)

// GlobalChannel is the shared multi-agent conversation channel.
const GlobalChannel = "global"

// ConversationChannel returns the channel name for a conversation's
// message stream.
func ConversationChannel(conversationID string) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

// Callback receives one serialized message. Returning an error removes the
// subscription.
type Callback func(payload string) error

// Subscription is an explicit handle identifying one subscriber, so
// unsubscription stays unambiguous under concurrent modification.
type Subscription struct {
	id      uint64
	channel string
	fn      Callback
}

// Channel returns the channel this subscription is attached to.
func (s *Subscription) Channel() string { return s.channel }

type channelState struct {
	buffer []string
	subs   map[uint64]*Subscription
}

// Hub is the process-lifetime channel registry.
type Hub struct {
	mu         sync.Mutex
	channels   map[string]*channelState
	bufferSize int
	nextID     uint64
	logger     *slog.Logger
}

// NewHub creates a Hub whose channels buffer the last bufferSize payloads.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 20
	}
	return &Hub{
		channels:   make(map[string]*channelState),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Publish appends the payload to the channel's replay buffer, evicting the
// oldest entry beyond capacity, then delivers it to every current
// subscriber. A failing subscriber is removed without affecting delivery to
// the others.
func (h *Hub) Publish(channel, payload string) {
	h.mu.Lock()
	state := h.channels[channel]
	if state == nil {
		state = &channelState{subs: make(map[uint64]*Subscription)}
		h.channels[channel] = state
	}
	state.buffer = append(state.buffer, payload)
	if len(state.buffer) > h.bufferSize {
		state.buffer = state.buffer[len(state.buffer)-h.bufferSize:]
	}
	subs := make([]*Subscription, 0, len(state.subs))
	for _, sub := range state.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	metrics.PublishedMessages.WithLabelValues(channelClass(channel)).Inc()

	for _, sub := range subs {
		if err := h.deliver(sub, payload); err != nil {
			h.logger.Error("subscriber delivery failed, removing subscriber",
				"channel", channel, "error", err)
			h.Unsubscribe(sub)
		}
	}
}

// deliver invokes one callback, converting a panic into an error so one
// misbehaving subscriber cannot take down the publish loop.
func (h *Hub) deliver(sub *Subscription, payload string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return sub.fn(payload)
}

// Subscribe registers the callback on the channel and asynchronously
// replays the channel's buffered messages to it in original order.
func (h *Hub) Subscribe(channel string, fn Callback) *Subscription {
	h.mu.Lock()
	state := h.channels[channel]
	if state == nil {
		state = &channelState{subs: make(map[uint64]*Subscription)}
		h.channels[channel] = state
	}
	h.nextID++
	sub := &Subscription{id: h.nextID, channel: channel, fn: fn}
	state.subs[sub.id] = sub
	replay := make([]string, len(state.buffer))
	copy(replay, state.buffer)
	h.mu.Unlock()

	metrics.ActiveSubscribers.Inc()

	go func() {
		for _, payload := range replay {
			if err := h.deliver(sub, payload); err != nil {
				h.logger.Error("replay delivery failed, removing subscriber",
					"channel", channel, "error", err)
				h.Unsubscribe(sub)
				return
			}
		}
	}()

	return sub
}

// Unsubscribe removes the subscription. Removing the last subscriber of a
// per-conversation channel deletes the channel entry entirely.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.channels[sub.channel]
	if state == nil {
		return
	}
	if _, ok := state.subs[sub.id]; !ok {
		return
	}
	delete(state.subs, sub.id)
	metrics.ActiveSubscribers.Dec()

	if len(state.subs) == 0 && sub.channel != GlobalChannel {
		delete(h.channels, sub.channel)
	}
}

// SubscriberCount reports the live subscriber count for a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if state := h.channels[channel]; state != nil {
		return len(state.subs)
	}
	return 0
}

// BufferLen reports the replay buffer length for a channel.
func (h *Hub) BufferLen(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if state := h.channels[channel]; state != nil {
		return len(state.buffer)
	}
	return 0
}

func channelClass(channel string) string {
	if strings.HasPrefix(channel, "conversation:") {
		return "conversation"
	}
	return channel
}
