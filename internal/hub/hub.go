package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"reelay/internal/stream"
)

// Hub routes job-status messages to live push subscribers. It holds no
// durable state: a dropped connection just misses messages, and the
// canonical job status stays queryable from the store.
type Hub struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[string]*Subscription // video id ("" = every job) -> sub id -> sub
}

// Subscription is one live listener. Receive from C; Close detaches.
type Subscription struct {
	C <-chan stream.Message

	id      string
	videoID string
	ch      chan stream.Message
	hub     *Hub
	once    sync.Once
}

func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[string]map[string]*Subscription),
	}
}

// Subscribe registers interest in one video's events, or in all events
// when videoID is empty. buf bounds how far a slow consumer may lag
// before messages are dropped for it.
func (h *Hub) Subscribe(videoID string, buf int) *Subscription {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan stream.Message, buf)
	sub := &Subscription{
		C:       ch,
		id:      uuid.NewString(),
		videoID: videoID,
		ch:      ch,
		hub:     h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.subs[videoID]
	if !ok {
		m = make(map[string]*Subscription)
		h.subs[videoID] = m
	}
	m[sub.id] = sub
	return sub
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if m, ok := h.subs[s.videoID]; ok {
			delete(m, s.id)
			if len(m) == 0 {
				delete(h.subs, s.videoID)
			}
		}
	})
}

// Publish delivers msg to every subscriber of videoID plus every
// subscribe-to-all listener. Zero subscribers is a no-op. Delivery is
// isolated per subscriber: one full buffer drops the message for that
// subscriber only and never blocks the rest.
func (h *Hub) Publish(videoID string, msg stream.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.deliverLocked(h.subs[videoID], msg)
	if videoID != "" {
		h.deliverLocked(h.subs[""], msg)
	}
}

// Broadcast delivers msg to every subscriber regardless of scope. It
// is the entry point for non-job-scoped messages, such as ops-level
// announcements or maintenance notices pushed from admin tooling;
// per-connection liveness pings go out on the stream handler's own
// ticker instead.
func (h *Hub) Broadcast(msg stream.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, m := range h.subs {
		h.deliverLocked(m, msg)
	}
}

func (h *Hub) deliverLocked(m map[string]*Subscription, msg stream.Message) {
	for _, sub := range m {
		select {
		case sub.ch <- msg:
		default:
			h.logger.Warn("subscriber buffer full, dropping message",
				"subscriber", sub.id, "video_id", sub.videoID, "type", msg.Type)
		}
	}
}

// SubscriberCount reports live subscriptions for a video id.
func (h *Hub) SubscriberCount(videoID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[videoID])
}
