/*
Package events provides an in-memory broker for dataplane change events.

The reconciler publishes one event per change it applies: a chassis
registered, a tunnel port created or deleted, a logical port bound or
unbound, a router port added or deleted, or a cycle abandoned on error.
Subscribers receive them asynchronously. The agent command subscribes and
logs each event at debug level.

# Delivery

	Publisher → Event Channel (buffer: 100)
	     ↓
	Broadcast Loop
	     ↓
	Subscriber Channels (buffer: 50 each)

Publish never blocks. An event is dropped when the broker buffer is full or
a subscriber's buffer is full. Events are a notification stream, not a
record of state: the cache and the northbound store remain authoritative.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			log.Debug().Str("type", string(ev.Type)).Msg(ev.Message)
		}
	}()

	broker.Publish(events.NewEvent(events.EventTunnelCreated, "tunnel to host-2",
		map[string]string{"chassis": "host-2"}))
*/
package events
