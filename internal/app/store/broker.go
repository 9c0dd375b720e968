package store

import "sync"

// Topic names. Every mutation publishes the topics whose query results it can change.
func topicUser(id string) string       { return "user:" + id }
func topicChatsFor(uid string) string  { return "chats:" + uid }
func topicMessages(chat string) string { return "messages:" + chat }

const (
	topicUsers   = "users"
	topicReports = "reports"
)

// broker fans change notifications out to watchers. Notifications carry no data:
// each watcher re-reads its query, so a burst of writes coalesces into one snapshot.
type broker struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]chan struct{}
	nextID uint64
}

func newBroker() *broker {
	return &broker{topics: make(map[string]map[uint64]chan struct{})}
}

// subscribe registers a notification channel (capacity 1) for topic.
func (b *broker) subscribe(topic string) (uint64, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan struct{}, 1)

	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[uint64]chan struct{})
		b.topics[topic] = subs
	}
	subs[id] = ch
	return id, ch
}

func (b *broker) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}

// publish marks every watcher of the given topics dirty without blocking.
func (b *broker) publish(topics ...string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, t := range topics {
		for _, ch := range b.topics[t] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// count returns the number of watchers registered on topic.
func (b *broker) count(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
