package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"

	"github.com/seedlethq/fieldsync/model"
	Logger "github.com/seedlethq/fieldsync/utils/log"
)

/*

Client maintains exactly one long-lived push subscription at a time. On
transport error it closes the connection and redials after a backoff delay;
any successful connection resets the backoff to its base.

Each frame is decoded and validated here, at one choke point, before it
reaches any consumer: malformed frames are logged and dropped, never
retried and never allowed to crash the subscription. Valid events are
published to the session event bus for the reconciler. No ordering is
guaranteed across frames or reconnects.
*/
type Client struct {
	url    string
	header http.Header

	dialer    *websocket.Dialer
	publisher message.Publisher
	topic     string
	backoff   *Backoff
}

func NewClient(url string, header http.Header, publisher message.Publisher, topic string) *Client {
	if header == nil {
		header = http.Header{}
	}
	return &Client{
		url:       url,
		header:    header,
		dialer:    websocket.DefaultDialer,
		publisher: publisher,
		topic:     topic,
		backoff:   NewBackoff(DefaultBaseDelay, DefaultMaxDelay),
	}
}

func (c *Client) Name() string {
	return "push_client"
}

// RunModule keeps the subscription alive until the context terminates.
func (c *Client) RunModule(ctx context.Context) error {
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err == nil {
			c.backoff.Reset()
			Logger.Log.Info("push subscription connected")
			c.consume(ctx, conn)
		} else {
			Logger.Log.Warnf("push subscription dial failed: %v", err)
		}

		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.backoff.Next()):
		}
	}
}

// consume reads frames until the connection errors out. The connection is
// closed as soon as either the transport fails or ctx terminates.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn) {
	handleCtx, handleCancel := context.WithCancel(ctx)
	defer handleCancel()
	go func() {
		<-handleCtx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			Logger.Log.Warnf("push subscription dropped: %v", err)
			return
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var event model.SeedletEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		Logger.Log.Warnf("drop malformed push frame: %v", err)
		return
	}
	if err := event.Validate(); err != nil {
		Logger.Log.Warnf("drop invalid push frame: %v", err)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), raw)
	if err := c.publisher.Publish(c.topic, msg); err != nil {
		Logger.Log.Errorf("fail to publish push event to bus: %v", err)
	}
}
