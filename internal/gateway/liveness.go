package gateway

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/devpulse/devpulse-server/internal/protocol"
)

// csExpiry is one pending custom-status deadline. gen pins the entry to the custom status that installed it; if the
// status changed since, the entry is stale and fires as a no-op.
type csExpiry struct {
	client   *Client
	gen      uint64
	deadline int64 // unix milli
}

type csHeap []*csExpiry

func (h csHeap) Len() int           { return len(h) }
func (h csHeap) Less(i, j int) bool { return h[i].deadline < h[j].deadline }
func (h csHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *csHeap) Push(x any)        { *h = append(*h, x.(*csExpiry)) }
func (h *csHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// expiryQueue is a deadline min-heap of pending custom-status expiries, drained by the liveness sweep.
type expiryQueue struct {
	mu sync.Mutex
	h  csHeap
}

func newExpiryQueue() *expiryQueue {
	q := &expiryQueue{}
	heap.Init(&q.h)
	return q
}

func (q *expiryQueue) push(c *Client, gen uint64, deadline int64) {
	q.mu.Lock()
	heap.Push(&q.h, &csExpiry{client: c, gen: gen, deadline: deadline})
	q.mu.Unlock()
}

// due pops every entry whose deadline has passed.
func (q *expiryQueue) due(now int64) []*csExpiry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*csExpiry
	for q.h.Len() > 0 && q.h[0].deadline <= now {
		out = append(out, heap.Pop(&q.h).(*csExpiry))
	}
	return out
}

// RunSweeper drives the periodic liveness sweep. It blocks until the context is cancelled.
func (h *Hub) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep walks every admitted connection once per heartbeat interval: connections silent for more than one full
// interval are closed, the rest are pinged. It then fires due custom-status expiries and Away transitions.
func (h *Hub) sweep() {
	now := time.Now()
	nowMS := now.UnixMilli()

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	ping, err := protocol.NewHeartbeat()
	if err != nil {
		return
	}

	for _, c := range clients {
		if nowMS-c.lastLiveness.Load() > h.cfg.HeartbeatInterval.Milliseconds() {
			c.log.Debug().Str("username", c.Username()).Msg("Liveness timeout, closing connection")
			c.closeWithCode(CloseSessionTimedOut, "liveness timeout")
			continue
		}
		c.enqueue(ping)

		if nowMS-c.lastActivity.Load() > h.cfg.AwayTimeout.Milliseconds() {
			if delta := c.forceAway(); !delta.Empty() {
				h.publishDelta(c, delta)
			}
		}
	}

	for _, e := range h.expiries.due(nowMS) {
		if !e.client.IsAuthed() {
			continue
		}
		if e.client.clearCustomIfGen(e.gen) {
			h.publishDelta(e.client, protocol.Delta{CS: protocol.NullCustomStatus})
		}
	}
}
