package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHub_EveryListenerReceivesEachEvent(t *testing.T) {
	hub := NewHub()

	first := hub.Subscribe()
	second := hub.Subscribe()
	defer hub.Unsubscribe(first)
	defer hub.Unsubscribe(second)

	hub.Publish(Event{Type: SignedIn, UserID: "user-1"})

	for _, sub := range []*Subscriber{first, second} {
		select {
		case event := <-sub.Events:
			assert.Equal(t, SignedIn, event.Type)
			assert.Equal(t, "user-1", event.UserID)
			assert.False(t, event.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestHub_SubscribingDoesNotDisplaceOthers(t *testing.T) {
	hub := NewHub()

	first := hub.Subscribe()
	defer hub.Unsubscribe(first)

	// A second listener joining must not overwrite the first one
	second := hub.Subscribe()
	defer hub.Unsubscribe(second)
	assert.Equal(t, 2, hub.SubscriberCount())

	hub.Publish(Event{Type: SubscriptionChanged, UserID: "user-1", Tier: "Pro"})

	select {
	case event := <-first.Events:
		assert.Equal(t, SubscriptionChanged, event.Type)
		assert.Equal(t, "Pro", event.Tier)
	case <-time.After(time.Second):
		t.Fatal("first subscriber stopped receiving after a second one joined")
	}
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()

	sub := hub.Subscribe()
	hub.Unsubscribe(sub)
	assert.Equal(t, 0, hub.SubscriberCount())

	// Publishing to an empty hub must not panic or block
	hub.Publish(Event{Type: SignedOut})

	_, open := <-sub.Events
	assert.False(t, open)
}

func TestHub_SlowListenerDoesNotBlockPublish(t *testing.T) {
	hub := NewHub()

	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	// Fill the subscriber's queue and keep publishing; the publisher must
	// drop events for the slow listener instead of blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(sub.Events)+10; i++ {
			hub.Publish(Event{Type: SignedIn})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
