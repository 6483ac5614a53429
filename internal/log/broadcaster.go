package log

import (
	"io"
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 256

// Broadcaster copies every log line to the live log subscribers. A subscriber
// that falls behind loses lines instead of stalling the logger.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
	dropped     atomic.Uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan []byte]struct{}),
	}
}

func (b *Broadcaster) Write(p []byte) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.subscribers) == 0 {
		return len(p), nil
	}

	line := append([]byte(nil), p...)
	for ch := range b.subscribers {
		select {
		case ch <- line:
		default:
			b.dropped.Add(1)
		}
	}
	return len(p), nil
}

// Subscribe returns a channel receiving every subsequent line. Release it
// with Unsubscribe.
func (b *Broadcaster) Subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	_, ok := b.subscribers[ch]
	delete(b.subscribers, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Subscribers returns the number of live subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many lines slow subscribers missed.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

var _ io.Writer = (*Broadcaster)(nil)
