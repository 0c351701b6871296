package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// subscriptionBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind starts losing frames (logged); terminal status
// frames are re-derivable from the REST API.
const subscriptionBuffer = 256

// Broadcaster receives every marshaled frame for a channel. Implemented by
// ConnectionManager.
type Broadcaster interface {
	Broadcast(channel string, event []byte)
}

// Bus is the in-process pub/sub hub. Publish marshals a typed frame and
// delivers it, in emission order, to every in-process subscription for the
// chat's channel and to the attached Broadcaster. Delivery is synchronous
// under the bus lock, which is what guarantees FIFO per subscriber.
type Bus struct {
	mu          sync.Mutex
	subs        map[string][]*Subscription
	broadcaster Broadcaster
}

// Subscription is one in-process listener. Frames arrive on C in emission
// order. Close the subscription when done or the bus keeps delivering.
type Subscription struct {
	C       <-chan []byte
	c       chan []byte
	channel string
	bus     *Bus
}

// NewBus creates a Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*Subscription)}
}

// SetBroadcaster attaches the WebSocket fanout. Called once during startup.
func (b *Bus) SetBroadcaster(bc Broadcaster) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcaster = bc
}

// Subscribe registers an in-process listener for a channel.
func (b *Bus) Subscribe(channel string) *Subscription {
	s := &Subscription{
		c:       make(chan []byte, subscriptionBuffer),
		channel: channel,
		bus:     b,
	}
	s.C = s.c
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], s)
	b.mu.Unlock()
	return s
}

// Close removes the subscription and closes its channel.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	subs := b.subs[s.channel]
	for i, sub := range subs {
		if sub == s {
			b.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[s.channel]) == 0 {
		delete(b.subs, s.channel)
	}
	b.mu.Unlock()
	close(s.c)
}

// Publish marshals {type, payload} and fans it out on the chat's channel.
// The payload must carry the chatId; routing uses only the channel name.
func (b *Bus) Publish(chatID, frameType string, payload any) error {
	data, err := json.Marshal(Frame{Type: frameType, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", frameType, err)
	}
	channel := ChatChannel(chatID)

	b.mu.Lock()
	subs := b.subs[channel]
	for _, s := range subs {
		select {
		case s.c <- data:
		default:
			slog.Warn("Event subscriber lagging, dropping frame",
				"channel", channel, "type", frameType)
		}
	}
	bc := b.broadcaster
	b.mu.Unlock()

	if bc != nil {
		bc.Broadcast(channel, data)
	}
	return nil
}
