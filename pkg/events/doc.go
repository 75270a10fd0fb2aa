/*
Package events provides Kiln's in-memory Event Bus.

The Event Bus is the typed pub/sub fan-out that decouples the Fleet
Orchestrator, Health Monitor, Recovery Planner, and Tool Dispatcher: state
changes publish events, and interested components subscribe without the
publisher knowing who's listening.

# Delivery Semantics

Delivery runs on the publisher's goroutine and never blocks it: Publish
offers the event to each subscriber channel without waiting. When a
channel's buffer is full, its oldest queued event is evicted to make room
and the eviction is counted. A slow subscriber therefore loses its oldest
events instead of throttling publishing, and every loss is retrievable via
Dropped. A subscriber created with Subscribe(0) receives an event only if
it is already waiting in a receive when Publish runs; otherwise that event
is dropped and counted. Subscribers with a positive buffer size absorb
bursts and only lose events under sustained backpressure.

# History

Broker retains a bounded ring of the most recent events (History), so a
newly-subscribed component (or a diagnostic tool) can inspect recent
activity without having been subscribed when it happened.
*/
package events
