package reconcile

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"

	"github.com/seedlethq/fieldsync/cache"
	"github.com/seedlethq/fieldsync/model"
	Logger "github.com/seedlethq/fieldsync/utils/log"
)

/*

Reconciler folds fan-out push events into the Store. The push feed is best
effort and at least once, reporting interactions initiated by any user
including the current one, so every merge rule here is idempotent and
tolerant of reordering:

	like:     delta derived against the last push-reported aggregate state,
	          never against the viewer's own flag
	comment:  duplicate ids (and the viewer's own still-provisional insert)
	          are no-ops, otherwise prepend and count exactly 1
	interest: authoritative absolute count, overwritten directly
	create:   prepend unless the id already raced in

A partition the user has not opened yet is simply skipped; the next
explicit fetch seeds it with correct state. Reconciliation never fails a
message, it only logs and moves on.
*/
type Reconciler struct {
	store      *cache.Store
	subscriber message.Subscriber
	topic      string
}

func NewReconciler(store *cache.Store, subscriber message.Subscriber, topic string) *Reconciler {
	return &Reconciler{
		store:      store,
		subscriber: subscriber,
		topic:      topic,
	}
}

func (r *Reconciler) Name() string {
	return "event_reconciler"
}

// RunModule consumes decoded push events until the context terminates.
func (r *Reconciler) RunModule(ctx context.Context) error {
	messages, err := r.subscriber.Subscribe(ctx, r.topic)
	if err != nil {
		return errors.Wrap(err, "fail to subscribe to event topic")
	}
	for msg := range messages {
		r.processMessage(msg)
		msg.Ack()
	}
	return nil
}

func (r *Reconciler) processMessage(msg *message.Message) {
	var event model.SeedletEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		Logger.Log.Warnf("drop undecodable event message %s: %v", msg.UUID, err)
		return
	}
	if err := event.Validate(); err != nil {
		Logger.Log.Warnf("drop invalid event message %s: %v", msg.UUID, err)
		return
	}
	r.Apply(&event)
}

// Apply merges one validated event into every partition holding the
// referenced entity.
func (r *Reconciler) Apply(event *model.SeedletEvent) {
	switch event.Kind {
	case model.EventLikeChanged:
		r.applyLike(event.RefId, *event.Liked)
	case model.EventCommentAdded:
		r.applyComment(event)
	case model.EventInterestChanged:
		r.applyInterest(event.RefId, *event.Interested)
	case model.EventSeedletCreated:
		r.applyCreate(*event.Created)
	}
}

// applyLike adjusts the aggregate like count only when the reported state
// differs from what the push stream last reported for this seedlet. The
// event fans out some user's action, not necessarily the viewer's, so the
// viewer's own flag never enters the comparison and is never touched.
func (r *Reconciler) applyLike(seedletId string, liked bool) {
	r.store.UpdateSeedlet(seedletId, func(s model.Seedlet) model.Seedlet {
		if s.ReportedLiked == liked {
			return s
		}
		if liked {
			s.LikeCount = s.LikeCount + 1
		} else {
			s.LikeCount = clamp(s.LikeCount - 1)
		}
		s.ReportedLiked = liked
		return s
	})
}

func (r *Reconciler) applyComment(event *model.SeedletEvent) {
	reply := *event.Reply
	if event.Ref == model.RefComment {
		r.store.AddReply(event.RefId, reply)
		return
	}
	r.store.AddTopLevelComment(event.RefId, reply)
}

// applyInterest carries an authoritative absolute count, unlike the like
// and comment events: overwrite, never derive by delta.
func (r *Reconciler) applyInterest(seedletId string, count int) {
	r.store.UpdateSeedlet(seedletId, func(s model.Seedlet) model.Seedlet {
		s.InterestCount = count
		return s
	})
}

func (r *Reconciler) applyCreate(seedlet model.Seedlet) {
	r.store.PrependSeedlet(seedlet)
}

func clamp(count int) int {
	if count < 0 {
		return 0
	}
	return count
}
