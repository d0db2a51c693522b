package gateway

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// broker is the physical pub/sub handle behind the subscription table. *redis.PubSub satisfies it; tests substitute a
// recording fake.
type broker interface {
	Subscribe(ctx context.Context, topics ...string) error
	Unsubscribe(ctx context.Context, topics ...string) error
}

// subscriptionTable maps topics to the local clients that want their frames. Physical broker subscriptions are
// reference-counted: subscribe fires on the 0→1 transition and unsubscribe on 1→0, so the broker-level subscription
// list stays minimal. Broker calls happen after the lock is released; the lock only covers the map updates.
type subscriptionTable struct {
	mu       sync.RWMutex
	byTopic  map[string]map[*Client]struct{}
	byClient map[*Client]map[string]struct{}
	broker   broker
	log      zerolog.Logger
}

func newSubscriptionTable(b broker, logger zerolog.Logger) *subscriptionTable {
	return &subscriptionTable{
		byTopic:  make(map[string]map[*Client]struct{}),
		byClient: make(map[*Client]map[string]struct{}),
		broker:   b,
		log:      logger,
	}
}

// add subscribes a client to the given topics, physically subscribing to any topic that gains its first subscriber.
func (t *subscriptionTable) add(ctx context.Context, c *Client, topics ...string) error {
	t.mu.Lock()
	var fresh []string
	for _, topic := range topics {
		set, ok := t.byTopic[topic]
		if !ok {
			set = make(map[*Client]struct{})
			t.byTopic[topic] = set
			fresh = append(fresh, topic)
		}
		set[c] = struct{}{}

		clientSet, ok := t.byClient[c]
		if !ok {
			clientSet = make(map[string]struct{})
			t.byClient[c] = clientSet
		}
		clientSet[topic] = struct{}{}
	}
	t.mu.Unlock()

	if len(fresh) > 0 {
		if err := t.broker.Subscribe(ctx, fresh...); err != nil {
			return err
		}
	}
	return nil
}

// remove unsubscribes a client from the given topics, physically unsubscribing from any topic that loses its last
// subscriber.
func (t *subscriptionTable) remove(ctx context.Context, c *Client, topics ...string) {
	t.mu.Lock()
	var drained []string
	for _, topic := range topics {
		if set, ok := t.byTopic[topic]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(t.byTopic, topic)
				drained = append(drained, topic)
			}
		}
		if clientSet, ok := t.byClient[c]; ok {
			delete(clientSet, topic)
		}
	}
	t.mu.Unlock()

	if len(drained) > 0 {
		if err := t.broker.Unsubscribe(ctx, drained...); err != nil {
			t.log.Warn().Err(err).Strs("topics", drained).Msg("Failed to unsubscribe drained topics")
		}
	}
}

// removeAll drops every subscription a client holds. Called from the disconnect path.
func (t *subscriptionTable) removeAll(ctx context.Context, c *Client) {
	t.mu.Lock()
	topics := t.byClient[c]
	delete(t.byClient, c)
	var drained []string
	for topic := range topics {
		if set, ok := t.byTopic[topic]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(t.byTopic, topic)
				drained = append(drained, topic)
			}
		}
	}
	t.mu.Unlock()

	if len(drained) > 0 {
		if err := t.broker.Unsubscribe(ctx, drained...); err != nil {
			t.log.Warn().Err(err).Strs("topics", drained).Msg("Failed to unsubscribe drained topics")
		}
	}
}

// subscribers returns a snapshot of the clients subscribed to a topic.
func (t *subscriptionTable) subscribers(topic string) []*Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.byTopic[topic]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// topicsOf returns a snapshot of the topics a client is subscribed to.
func (t *subscriptionTable) topicsOf(c *Client) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.byClient[c]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for topic := range set {
		out = append(out, topic)
	}
	return out
}
