package messaging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/banshee-data/accessgate/internal/monitoring"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("messaging: bus closed")

const memoryQueueDepth = 64

// MemoryBus is an in-process Bus. Each subscription has its own queue and
// goroutine so deliveries to one subscriber are ordered and never block
// the publisher; a full queue drops the message.
type MemoryBus struct {
	mu      sync.Mutex
	subs    map[string]*memorySub
	closing bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type memorySub struct {
	filter string
	ch     chan Message
}

func NewMemoryBus() *MemoryBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryBus{
		subs:   make(map[string]*memorySub),
		ctx:    ctx,
		cancel: cancel,
	}
}

func randomID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func (b *MemoryBus) Subscribe(filter string, h Handler) error {
	sub := &memorySub{filter: filter, ch: make(chan Message, memoryQueueDepth)}

	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return ErrClosed
	}
	b.subs[randomID()] = sub
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		for msg := range sub.ch {
			h(b.ctx, msg)
		}
	}()
	return nil
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		return ErrClosed
	}
	for id, sub := range b.subs {
		if !Match(sub.filter, topic) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			monitoring.Logf("messaging: subscriber %s queue full, dropping %s", id, topic)
		}
	}
	return nil
}

// Close stops delivery and waits for in-flight handlers to return.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return nil
	}
	b.closing = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}
