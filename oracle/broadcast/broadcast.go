// Package broadcast fans a stream of price updates out to subscribers
// without ever blocking the publisher: a slow or absent subscriber drops
// the oldest buffered update rather than stall the aggregation loop.
package broadcast

import "price-oracle/oracle/types"

// Capacity bounds each subscriber's buffered channel.
const Capacity = 1000

// Hub distributes PriceUpdate values to any number of subscribers. The
// zero value is not usable; construct with NewHub.
type Hub struct {
	sub     chan chan types.PriceUpdate
	unsub   chan chan types.PriceUpdate
	publish chan types.PriceUpdate
	done    chan struct{}
}

// NewHub starts the hub's dispatch loop and returns it ready for use.
func NewHub() *Hub {
	h := &Hub{
		sub:     make(chan chan types.PriceUpdate),
		unsub:   make(chan chan types.PriceUpdate),
		publish: make(chan types.PriceUpdate),
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Subscribe returns a channel receiving every subsequent Publish. The
// channel is buffered to Capacity; once full, the oldest queued update is
// dropped to make room for the newest rather than blocking Publish. Pass
// the returned channel to Unsubscribe when done.
func (h *Hub) Subscribe() chan types.PriceUpdate {
	ch := make(chan types.PriceUpdate, Capacity)
	select {
	case h.sub <- ch:
	case <-h.done:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a previously returned channel and closes it. Safe to
// call once per channel returned from Subscribe.
func (h *Hub) Unsubscribe(ch chan types.PriceUpdate) {
	select {
	case h.unsub <- ch:
	case <-h.done:
	}
}

// Publish fans update out to every current subscriber. If no subscribers
// are registered, update is silently dropped. Never blocks.
func (h *Hub) Publish(update types.PriceUpdate) {
	select {
	case h.publish <- update:
	case <-h.done:
	}
}

// Close stops the dispatch loop and closes every subscriber channel.
// Subsequent Publish/Subscribe calls are no-ops.
func (h *Hub) Close() {
	close(h.done)
}

func (h *Hub) run() {
	subscribers := map[chan types.PriceUpdate]struct{}{}
	for {
		select {
		case ch := <-h.sub:
			subscribers[ch] = struct{}{}
		case ch := <-h.unsub:
			if _, ok := subscribers[ch]; ok {
				delete(subscribers, ch)
				close(ch)
			}
		case update := <-h.publish:
			for ch := range subscribers {
				select {
				case ch <- update:
				default:
					// Buffer full: drop the oldest queued update, then
					// retry so the newest value is never silently lost.
					select {
					case <-ch:
					default:
					}
					select {
					case ch <- update:
					default:
					}
				}
			}
		case <-h.done:
			for ch := range subscribers {
				close(ch)
			}
			return
		}
	}
}
