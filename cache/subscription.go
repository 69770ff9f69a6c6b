package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ChangeChannels contains all structures that handle view adapter
// subscriptions. All internal state should not be handled directly by hand
// but managed by its public receivers.
type ChangeChannels struct {
	// connectionMap maps from channel id (uuid) to the subscriber's tick
	// channel, so that deletion of a channel is O(1). Every view that wants
	// re-render triggers registers its own channel, there is no channel
	// sharing between views.
	connectionMap map[string]chan struct{}

	// Adding/Removing a subscription must grab WriteLock, while broadcasting
	// a tick should grab a ReadLock.
	mu sync.RWMutex
}

func NewChangeChannels() *ChangeChannels {
	return &ChangeChannels{
		connectionMap: make(map[string]chan struct{}),
		mu:            sync.RWMutex{},
	}
}

// cleanUp a single connection when the context terminates.
func (cc *ChangeChannels) cleanUp(ctx context.Context, chId string) {
	<-ctx.Done()

	cc.mu.Lock()
	defer cc.mu.Unlock()

	delete(cc.connectionMap, chId)
}

// Thread-safe
func (cc *ChangeChannels) AddNewConnection(ctx context.Context) chan struct{} {
	chId := "sub_" + uuid.New().String()
	// Buffered by 1 so ticks coalesce instead of blocking a write on a slow
	// subscriber.
	ch := make(chan struct{}, 1)

	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.connectionMap[chId] = ch

	// Spin up a background garbage collector.
	go cc.cleanUp(ctx, chId)

	return ch
}

// Thread-safe
func (cc *ChangeChannels) GetActiveConnectionsCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	return len(cc.connectionMap)
}

// Broadcast sends a non-blocking tick to every subscriber. A subscriber
// that has not drained its previous tick keeps exactly one pending.
func (cc *ChangeChannels) Broadcast() {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	for _, ch := range cc.connectionMap {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
