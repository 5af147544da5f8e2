package alerts

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Notification event types delivered to subscribers.
const (
	EventRegistered = "alert_registered"
	EventEscalated  = "alert_escalated"
	EventAssigned   = "alert_assigned"
	EventResolved   = "alert_resolved"
	EventExpired    = "alert_expired"
)

// Notification is the envelope delivered on every alert lifecycle event.
type Notification struct {
	Event  string   `json:"event"`
	Alert  Snapshot `json:"alert"`
	UnitID string   `json:"unit_id,omitempty"`
}

// subscriberBuffer bounds the per-subscriber channel. A consumer that
// falls this far behind is dropped rather than allowed to block the
// coordinator.
const subscriberBuffer = 64

// Subscription is one consumer's delivery channel. Each subscription
// gets a dedicated goroutine, so delivery order to an individual
// subscriber is preserved while a slow or failing subscriber never
// blocks the coordinator or its peers.
//
// The delivery channel is never closed; shutdown is signaled through
// done so a concurrent publish can never hit a closed channel.
type Subscription struct {
	ch   chan Notification
	done chan struct{}
	once sync.Once
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Subscribe registers a callback for alert lifecycle events and returns
// a handle for Unsubscribe. A callback that panics is logged and its
// subscription dropped; remaining subscribers are unaffected.
func (c *Coordinator) Subscribe(fn func(Notification)) *Subscription {
	sub := &Subscription{
		ch:   make(chan Notification, subscriberBuffer),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	c.subscribers[sub] = struct{}{}
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case n := <-sub.ch:
				if !deliver(fn, n) {
					c.Unsubscribe(sub)
					return
				}
			}
		}
	}()
	return sub
}

// deliver invokes the callback, converting a panic into a drop signal.
func deliver(fn func(Notification), n Notification) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("alert subscriber panicked, dropping: %v", r)
			ok = false
		}
	}()
	fn(n)
	return true
}

// Unsubscribe removes a subscription. Safe to call more than once and
// safe to call from inside the subscriber's own callback goroutine.
func (c *Coordinator) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	_, present := c.subscribers[sub]
	delete(c.subscribers, sub)
	c.mu.Unlock()
	if present {
		sub.stop()
	}
}

// publish fans a notification out to every subscriber's channel.
// A subscriber whose buffer is full is dropped; delivery to the rest
// continues.
func (c *Coordinator) publish(n Notification) {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subscribers))
	for s := range c.subscribers {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- n:
		default:
			logrus.Warnf("alert subscriber buffer full, dropping subscriber")
			c.Unsubscribe(s)
		}
	}
}
