package cache

import (
	"context"
	"sync"
)

// LocalNotifier implements Notifier within one process.
type LocalNotifier struct {
	mu     sync.Mutex
	latest *Change
	subs   map[chan Change]struct{}
	closed bool
}

// NewLocalNotifier creates an in-process notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[chan Change]struct{})}
}

// Publish implements Notifier. Slow subscribers miss changes rather than
// block the publisher; Latest still reports the newest one.
func (n *LocalNotifier) Publish(_ context.Context, change Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := change
	n.latest = &c
	for ch := range n.subs {
		select {
		case ch <- change:
		default:
		}
	}
	return nil
}

// Subscribe implements Notifier.
func (n *LocalNotifier) Subscribe(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 16)
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch, nil
	}
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.unsubscribe(ch)
	}()
	return ch, nil
}

func (n *LocalNotifier) unsubscribe(ch chan Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[ch]; ok {
		delete(n.subs, ch)
		close(ch)
	}
}

// Latest implements Notifier.
func (n *LocalNotifier) Latest(context.Context) (*Change, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.latest == nil {
		return nil, nil
	}
	c := *n.latest
	return &c, nil
}

// Close ends every subscription.
func (n *LocalNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for ch := range n.subs {
		delete(n.subs, ch)
		close(ch)
	}
	return nil
}
