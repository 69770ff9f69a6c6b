package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/seedlethq/fieldsync/model"
	"github.com/seedlethq/fieldsync/session"
	"github.com/seedlethq/fieldsync/utils/dotenv"
	. "github.com/seedlethq/fieldsync/utils/log"
)

var (
	backendURL *string
	eventsURL  *string
	userId     *string
	username   *string
)

// init() will always be called on before the execution of main function.
func init() {
	backendURL = flag.String("backend", "http://localhost:8080", "REST base url of the seedlet backend")
	eventsURL = flag.String("events", "ws://localhost:8080/events", "websocket push endpoint")
	userId = flag.String("user", "local_user", "current viewer's user id")
	username = flag.String("username", "local", "current viewer's username")
	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}
}

// fieldwatch tails a seedlet feed: it loads the feed into the cache, keeps
// it reconciled against the push stream, and logs the head of the feed on
// every change.
func main() {
	flag.Parse()

	header := http.Header{}
	header.Set("X-Seedlet-User", *userId)
	header.Set("X-Seedlet-Username", *username)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := session.NewSession(ctx, session.Config{
		BackendURL:  *backendURL,
		EventsURL:   *eventsURL,
		CurrentUser: model.User{Id: *userId, Username: *username},
		Header:      header,
	})
	go s.Run()
	defer s.Shutdown()

	if err := s.LoadFeed(ctx); err != nil {
		Log.Fatal("fail to load feed : ", err)
	}

	changes := s.Store.Subscribe(ctx)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	Log.Info("watching feed on ", *backendURL)
	for {
		select {
		case <-sigs:
			Log.Info("shutting down. Goodbye!")
			return
		case <-changes:
			feed, ok := s.Store.GetFeedSnapshot()
			if !ok {
				continue
			}
			for i, seedlet := range feed {
				if i >= 5 {
					break
				}
				Log.Infof("#%d %s likes=%d comments=%d interest=%d", i+1, seedlet.Title, seedlet.LikeCount, seedlet.CommentCount, seedlet.InterestCount)
			}
		}
	}
}
