// ABOUTME: Per-session fan-out of server-initiated messages to SSE subscribers
// ABOUTME: Sends never block; subscribers that keep falling behind are dropped

package httpengine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/mcp-runtime/internal/jsonrpc"
)

const (
	// DefaultSubscriberBuffer is the channel buffer for each subscriber.
	DefaultSubscriberBuffer = 64
	// DefaultMaxDrops is how many consecutive drops make a subscriber laggy.
	DefaultMaxDrops = 8
)

type subscriber struct {
	ch    chan *jsonrpc.Message
	drops int
}

// Broadcaster provides in-memory pub/sub of envelopes keyed by session id.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber // sessionID -> subID -> sub
	bufferSize  int
	maxDrops    int
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Zero sizes use the defaults.
func NewBroadcaster(bufferSize, maxDrops int, logger *slog.Logger) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	if maxDrops <= 0 {
		maxDrops = DefaultMaxDrops
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]*subscriber),
		bufferSize:  bufferSize,
		maxDrops:    maxDrops,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for a session. The channel is closed when
// the subscription ends: on Unsubscribe, when ctx is cancelled, when the
// subscriber is reaped for lagging, or on Close.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) (<-chan *jsonrpc.Message, string) {
	subID := uuid.New().String()
	sub := &subscriber{ch: make(chan *jsonrpc.Message, b.bufferSize)}

	b.mu.Lock()
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[string]*subscriber)
	}
	b.subscribers[sessionID][subID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "session_id", sessionID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sessionID, subID)
	}()

	return sub.ch, subID
}

// Publish delivers msg to every subscriber of sessionID and returns how many
// accepted it. Full subscribers miss the message; after maxDrops misses in a
// row they are removed.
func (b *Broadcaster) Publish(sessionID string, msg *jsonrpc.Message) int {
	b.mu.Lock()
	delivered, laggy := b.publishLocked(sessionID, msg)
	b.mu.Unlock()

	for _, subID := range laggy {
		b.logger.Warn("dropping laggy subscriber", "session_id", sessionID, "sub_id", subID)
		b.Unsubscribe(sessionID, subID)
	}
	return delivered
}

// PublishAll delivers msg to every subscriber of every session.
func (b *Broadcaster) PublishAll(msg *jsonrpc.Message) int {
	b.mu.RLock()
	sessions := make([]string, 0, len(b.subscribers))
	for id := range b.subscribers {
		sessions = append(sessions, id)
	}
	b.mu.RUnlock()

	total := 0
	for _, id := range sessions {
		total += b.Publish(id, msg)
	}
	return total
}

func (b *Broadcaster) publishLocked(sessionID string, msg *jsonrpc.Message) (int, []string) {
	delivered := 0
	var laggy []string
	for subID, sub := range b.subscribers[sessionID] {
		select {
		case sub.ch <- msg:
			sub.drops = 0
			delivered++
		default:
			sub.drops++
			b.logger.Debug("dropped message for slow subscriber", "session_id", sessionID, "sub_id", subID)
			if sub.drops >= b.maxDrops {
				laggy = append(laggy, subID)
			}
		}
	}
	return delivered, laggy
}

// Subscribers returns the number of live subscribers for a session.
func (b *Broadcaster) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sessionID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}
	sub, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.subscribers, sessionID)
	}
	b.logger.Debug("subscriber removed", "session_id", sessionID, "sub_id", subID)
}

// CloseSession ends every subscription of a session.
func (b *Broadcaster) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for subID, sub := range b.subscribers[sessionID] {
		close(sub.ch)
		delete(b.subscribers[sessionID], subID)
	}
	delete(b.subscribers, sessionID)
}

// Close ends all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, subs := range b.subscribers {
		for subID, sub := range subs {
			close(sub.ch)
			delete(subs, subID)
		}
		delete(b.subscribers, sessionID)
	}
	b.logger.Debug("broadcaster closed")
}
