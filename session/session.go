package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/seedlethq/fieldsync/api"
	"github.com/seedlethq/fieldsync/cache"
	"github.com/seedlethq/fieldsync/model"
	"github.com/seedlethq/fieldsync/mutation"
	"github.com/seedlethq/fieldsync/push"
	"github.com/seedlethq/fieldsync/reconcile"
	Logger "github.com/seedlethq/fieldsync/utils/log"
)

// TopicSeedletEvents is the bus topic carrying validated push events from
// the push client to the reconciler.
const TopicSeedletEvents = "seedlet.events"

var _ mutation.Backend = (*api.Client)(nil)

type Config struct {
	// BackendURL is the REST base, e.g. https://api.seedlet.example
	BackendURL string
	// EventsURL is the websocket push endpoint, e.g. wss://api.seedlet.example/events
	EventsURL string
	// CurrentUser identifies the viewer all viewer-specific flags belong to.
	CurrentUser model.User
	// Header carries auth across both the REST client and the push dial.
	Header http.Header
	// HTTPClient is optional; request timeouts are its concern.
	HTTPClient *http.Client
}

/*

Session owns one user's cache lifecycle: created at login, torn down on
logout. It wires the Store, the REST client, the mutation executor, the
push client and the event reconciler around a shared GoChannel event bus,
and runs the long-lived pieces as modules with graceful restart. For now we
use a golang channel implementation for the EventBus, but later when needed
we could substitute it with a broker-backed one.
*/
type Session struct {
	Store    *cache.Store
	API      *api.Client
	Executor *mutation.Executor

	bus     *gochannel.GoChannel
	modules []Module

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSession(ctx context.Context, config Config) *Session {
	cancelCtx, cancel := context.WithCancel(ctx)

	store := cache.NewStore()
	client := api.NewClient(config.BackendURL, config.Header, config.HTTPClient)
	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})

	return &Session{
		Store:    store,
		API:      client,
		Executor: mutation.NewExecutor(store, client, config.CurrentUser),
		bus:      bus,
		modules: []Module{
			reconcile.NewReconciler(store, bus, TopicSeedletEvents),
			push.NewClient(config.EventsURL, config.Header, bus, TopicSeedletEvents),
		},
		ctx:    cancelCtx,
		cancel: cancel,
	}
}

// Run executes all session modules and blocks until they finish, which
// happens once Shutdown is called or the parent context terminates.
func (s *Session) Run() {
	var wg sync.WaitGroup

	for idx := range s.modules {
		wg.Add(1)
		go func(index int) {
			Logger.Log.Infof("start session module %s", s.modules[index].Name())
			defer wg.Done()
			RunModuleWithGracefulRestart(s.ctx, s.modules[index])
			Logger.Log.Infof("module %s finished execution", s.modules[index].Name())
		}(idx)
	}

	wg.Wait()
}

// Shutdown tears the session down: cancels every module and closes the
// event bus. The Store itself is left readable for any final snapshots.
func (s *Session) Shutdown() {
	Logger.Log.Infoln("starting graceful session shutdown")
	s.cancel()
	s.bus.Close()
}

// LoadFeed fetches the feed and seeds the feed partition.
func (s *Session) LoadFeed(ctx context.Context) error {
	seedlets, err := s.API.FetchFeed(ctx)
	if err != nil {
		return err
	}
	s.Store.SeedFeed(seedlets)
	return nil
}

// LoadDetail fetches one seedlet with its discussion and seeds the detail
// partition.
func (s *Session) LoadDetail(ctx context.Context, id string) error {
	seedlet, comments, err := s.API.FetchDetail(ctx, id)
	if err != nil {
		return err
	}
	s.Store.SeedDetail(id, cache.DetailView{Seedlet: seedlet, Comments: comments})
	return nil
}

// LoadReplies fetches the direct replies under a comment and seeds the
// reply partition.
func (s *Session) LoadReplies(ctx context.Context, commentId string) error {
	replies, err := s.API.FetchCommentSubtree(ctx, commentId)
	if err != nil {
		return err
	}
	s.Store.SeedReplies(commentId, replies)
	return nil
}
