package fakeserver

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/seedlethq/fieldsync/model"
)

type connection struct {
	userId string
	events chan model.SeedletEvent
}

// Hub fans push events out to every connected subscriber, the server-side
// counterpart of the client's push subscription. All internal state is
// managed by its public receivers.
type Hub struct {
	// connectionMap maps from connection id (uuid) to the subscriber's
	// connection, so that deletion of a connection is O(1).
	connectionMap map[string]connection

	// Adding/Removing a connection must grab WriteLock, broadcasting grabs a
	// ReadLock.
	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		connectionMap: make(map[string]connection),
		mu:            sync.RWMutex{},
	}
}

// cleanUp a single connection when the context terminates.
func (h *Hub) cleanUp(ctx context.Context, connId string) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.connectionMap, connId)
}

// Thread-safe
func (h *Hub) AddNewConnection(ctx context.Context, userId string) chan model.SeedletEvent {
	connId := "evt_" + uuid.New().String()
	ch := make(chan model.SeedletEvent, 16)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.connectionMap[connId] = connection{userId: userId, events: ch}

	// Spin up a background garbage collector.
	go h.cleanUp(ctx, connId)

	return ch
}

// Thread-safe
func (h *Hub) GetActiveConnectionsCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.connectionMap)
}

// Broadcast delivers an event to every connection. A subscriber that falls
// more than a buffer behind loses events, which is exactly the best-effort
// contract clients reconcile against.
func (h *Hub) Broadcast(event model.SeedletEvent) {
	h.BroadcastExcept(event, "")
}

// BroadcastExcept delivers an event to every connection not owned by
// excludeUserId. Like events carry a state delta rather than a deduplicable
// id, so the actor's own sessions must be skipped or they would count the
// action twice.
func (h *Hub) BroadcastExcept(event model.SeedletEvent, excludeUserId string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connectionMap {
		if excludeUserId != "" && conn.userId == excludeUserId {
			continue
		}
		select {
		case conn.events <- event:
		default:
		}
	}
}
