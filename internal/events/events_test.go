package events

import "testing"

func TestPublishDeliversToMatchingSubscriber(t *testing.T) {
	p := NewPublisher(4)
	sub := p.Subscribe("session-1")
	defer p.Unsubscribe(sub.ID)

	p.PublishWaveComplete("session-1", 3, 2)

	select {
	case ev := <-sub.Channel:
		if ev.Kind != KindWaveComplete || ev.WaveNumber != 3 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestPublishSkipsNonMatchingSubscriber(t *testing.T) {
	p := NewPublisher(4)
	sub := p.Subscribe("session-1")
	defer p.Unsubscribe(sub.ID)

	p.PublishSessionTerminated("session-2", "done")

	select {
	case ev := <-sub.Channel:
		t.Fatalf("expected no event for a filtered-out session, got %+v", ev)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	p := NewPublisher(1)
	sub := p.Subscribe("")
	p.Unsubscribe(sub.ID)

	if _, ok := <-sub.Channel; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
	if p.SubscriptionCount() != 0 {
		t.Fatalf("expected 0 subscriptions, got %d", p.SubscriptionCount())
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	p := NewPublisher(1)
	sub := p.Subscribe("")
	defer p.Unsubscribe(sub.ID)

	p.PublishWaveStarted("s", 1, 10)
	p.PublishWaveStarted("s", 2, 10) // buffer full, should be dropped, not block

	<-sub.Channel
	select {
	case <-sub.Channel:
		t.Fatal("expected the second event to have been dropped")
	default:
	}
}
