// Package events implements the publish/subscribe fan-out used to expose
// session lifecycle activity to admin tooling, grounded on the teacher's
// daemon/service/events.go EventPublisher: same subscribe/unsubscribe/
// non-blocking-publish shape, with the event vocabulary renamed from
// transfer/chunk lifecycle to this protocol's session/wave/receiver
// lifecycle, and subscription IDs generated with google/uuid rather than
// the teacher's time+pseudo-random string.
package events

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a session lifecycle event.
type Kind int

const (
	KindReceiverJoined Kind = iota + 1
	KindWaveStarted
	KindWaveComplete
	KindReceiverEvicted
	KindSessionTerminated
)

func (k Kind) String() string {
	switch k {
	case KindReceiverJoined:
		return "RECEIVER_JOINED"
	case KindWaveStarted:
		return "WAVE_STARTED"
	case KindWaveComplete:
		return "WAVE_COMPLETE"
	case KindReceiverEvicted:
		return "RECEIVER_EVICTED"
	case KindSessionTerminated:
		return "SESSION_TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Event is a single session lifecycle occurrence.
type Event struct {
	SessionID  string
	Kind       Kind
	Timestamp  time.Time
	WaveNumber int64
	ReceiverID string
	Message    string
	Metadata   map[string]string
}

// Subscription is an active event subscription.
type Subscription struct {
	ID              string
	SessionIDFilter string
	Channel         chan *Event
}

// Publisher manages event subscriptions and broadcasting.
type Publisher struct {
	subscriptions map[string]*Subscription
	mu            sync.RWMutex
	bufferSize    int
}

// NewPublisher creates a new event publisher with the given per-subscriber
// channel buffer size.
func NewPublisher(bufferSize int) *Publisher {
	return &Publisher{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    bufferSize,
	}
}

// Subscribe creates a new subscription, optionally filtered to one session.
func (p *Publisher) Subscribe(sessionIDFilter string) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &Subscription{
		ID:              uuid.NewString(),
		SessionIDFilter: sessionIDFilter,
		Channel:         make(chan *Event, p.bufferSize),
	}
	p.subscriptions[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (p *Publisher) Unsubscribe(subscriptionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sub, exists := p.subscriptions[subscriptionID]; exists {
		close(sub.Channel)
		delete(p.subscriptions, subscriptionID)
	}
}

// Publish broadcasts an event to every matching subscriber. Slow consumers
// are skipped rather than allowed to block the publisher.
func (p *Publisher) Publish(event *Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, sub := range p.subscriptions {
		if sub.SessionIDFilter != "" && sub.SessionIDFilter != event.SessionID {
			continue
		}
		select {
		case sub.Channel <- event:
		default:
		}
	}
}

// PublishReceiverJoined publishes a receiver-joined event.
func (p *Publisher) PublishReceiverJoined(sessionID, receiverID string, fileCount int) {
	p.Publish(&Event{
		SessionID:  sessionID,
		Kind:       KindReceiverJoined,
		Timestamp:  time.Now(),
		ReceiverID: receiverID,
		Message:    "receiver joined session",
		Metadata:   map[string]string{"file_count": strconv.Itoa(fileCount)},
	})
}

// PublishWaveStarted publishes a wave-started event.
func (p *Publisher) PublishWaveStarted(sessionID string, waveNumber int64, segmentCount int) {
	p.Publish(&Event{
		SessionID:  sessionID,
		Kind:       KindWaveStarted,
		Timestamp:  time.Now(),
		WaveNumber: waveNumber,
		Message:    "wave started",
		Metadata:   map[string]string{"segment_count": strconv.Itoa(segmentCount)},
	})
}

// PublishWaveComplete publishes a wave-complete event.
func (p *Publisher) PublishWaveComplete(sessionID string, waveNumber int64, retransmitted int) {
	p.Publish(&Event{
		SessionID:  sessionID,
		Kind:       KindWaveComplete,
		Timestamp:  time.Now(),
		WaveNumber: waveNumber,
		Message:    "wave complete",
		Metadata:   map[string]string{"retransmitted_segments": strconv.Itoa(retransmitted)},
	})
}

// PublishReceiverEvicted publishes a receiver-evicted event.
func (p *Publisher) PublishReceiverEvicted(sessionID, receiverID, reason string) {
	p.Publish(&Event{
		SessionID:  sessionID,
		Kind:       KindReceiverEvicted,
		Timestamp:  time.Now(),
		ReceiverID: receiverID,
		Message:    reason,
	})
}

// PublishSessionTerminated publishes a session-terminated event.
func (p *Publisher) PublishSessionTerminated(sessionID, reason string) {
	p.Publish(&Event{
		SessionID: sessionID,
		Kind:      KindSessionTerminated,
		Timestamp: time.Now(),
		Message:   reason,
	})
}

// SubscriptionCount returns the number of active subscriptions.
func (p *Publisher) SubscriptionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}
