/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"testing"
	"time"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventBookingCreated)
	other := bus.Subscribe(EventItemPublished)

	bus.Publish(EventBookingCreated, Payload{"booking_id": "b1"})

	select {
	case p := <-sub:
		if p["booking_id"] != "b1" {
			t.Fatalf("unexpected payload %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case p := <-other:
		t.Fatalf("unrelated subscriber got %v", p)
	default:
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventAvailabilityUpdated)

	for i := 0; i < cap(sub)+5; i++ {
		bus.Publish(EventAvailabilityUpdated, Payload{"n": i})
	}
	if len(sub) != cap(sub) {
		t.Fatalf("expected buffer to be full, len=%d cap=%d", len(sub), cap(sub))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventItemScheduled)
	bus.Unsubscribe(EventItemScheduled, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected channel to be closed")
	}

	// publishing after unsubscribe must not panic
	bus.Publish(EventItemScheduled, Payload{})
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(EventBookingCreated, Payload{})
}
