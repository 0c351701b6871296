package events

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvFrame(t *testing.T, sub *Subscription) Frame {
	t.Helper()
	select {
	case data := <-sub.C:
		var f Frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	default:
		t.Fatal("expected a buffered frame")
		return Frame{}
	}
}

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(ChatChannel("chat-1"))
	defer sub.Close()

	require.NoError(t, bus.Publish("chat-1", TypeAgentStatus, AgentStatusPayload{
		ChatID: "chat-1", AgentName: "research", Status: "running",
	}))

	f := recvFrame(t, sub)
	assert.Equal(t, TypeAgentStatus, f.Type)

	payload, ok := f.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "chat-1", payload["chatId"])
	assert.Equal(t, "running", payload["status"])
}

func TestBus_ChatFilterIsStrict(t *testing.T) {
	bus := NewBus()
	subA := bus.Subscribe(ChatChannel("chat-a"))
	subB := bus.Subscribe(ChatChannel("chat-b"))
	defer subA.Close()
	defer subB.Close()

	require.NoError(t, bus.Publish("chat-a", TypeChatMessage, ChatMessagePayload{ChatID: "chat-a"}))
	require.NoError(t, bus.Publish("chat-a", TypeChatMessage, ChatMessagePayload{ChatID: "chat-a"}))

	assert.Len(t, subA.C, 2)
	assert.Len(t, subB.C, 0, "subscriber of another chat sees nothing")
}

func TestBus_FIFOPerSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(ChatChannel("c"))
	defer sub.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish("c", TypeAgentThinking, AgentThinkingPayload{
			ChatID: "c", Delta: string(rune('a' + i)),
		}))
	}

	for i := 0; i < 10; i++ {
		f := recvFrame(t, sub)
		payload := f.Payload.(map[string]any)
		assert.Equal(t, string(rune('a'+i)), payload["delta"])
	}
}

func TestBus_LaggingSubscriberDropsFrames(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(ChatChannel("c"))
	defer sub.Close()

	// Fill the buffer and then some. Publish must not block.
	for i := 0; i < subscriptionBuffer+50; i++ {
		require.NoError(t, bus.Publish("c", TypeAgentThinking, AgentThinkingPayload{ChatID: "c"}))
	}
	assert.Len(t, sub.C, subscriptionBuffer)
}

func TestBus_CloseRemovesSubscription(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(ChatChannel("c"))
	sub.Close()

	// Publishing after close must not panic or deliver.
	require.NoError(t, bus.Publish("c", TypeChatMessage, ChatMessagePayload{ChatID: "c"}))

	_, open := <-sub.C
	assert.False(t, open)
}

type captureBroadcaster struct {
	mu     sync.Mutex
	frames map[string][][]byte
}

func (c *captureBroadcaster) Broadcast(channel string, event []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frames == nil {
		c.frames = make(map[string][][]byte)
	}
	c.frames[channel] = append(c.frames[channel], event)
}

func TestBus_BroadcasterReceivesMarshaledFrames(t *testing.T) {
	bus := NewBus()
	bc := &captureBroadcaster{}
	bus.SetBroadcaster(bc)

	require.NoError(t, bus.Publish("chat-9", TypePreviewReady, PreviewReadyPayload{
		ChatID: "chat-9", URL: "http://localhost:5173",
	}))

	bc.mu.Lock()
	defer bc.mu.Unlock()
	require.Len(t, bc.frames["chat:chat-9"], 1)

	var f Frame
	require.NoError(t, json.Unmarshal(bc.frames["chat:chat-9"][0], &f))
	assert.Equal(t, TypePreviewReady, f.Type)
}

func TestPublisher_NilSafe(t *testing.T) {
	var p *Publisher
	p.PublishAgentStatus(AgentStatusPayload{ChatID: "c"})
	p.PublishChatMessage(ChatMessagePayload{ChatID: "c"})
}

func TestPublisher_StampsTimestamp(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(ChatChannel("c"))
	defer sub.Close()

	NewPublisher(bus).PublishAgentStatus(AgentStatusPayload{ChatID: "c", Status: "running"})

	f := recvFrame(t, sub)
	payload := f.Payload.(map[string]any)
	assert.NotEmpty(t, payload["timestamp"])
}
