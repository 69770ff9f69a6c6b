package mutation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/seedlethq/fieldsync/cache"
	"github.com/seedlethq/fieldsync/model"
	Logger "github.com/seedlethq/fieldsync/utils/log"
)

// ErrValidationRejected marks a mutation refused before any state change.
// Use errors.Cause to test for it.
var ErrValidationRejected = errors.New("rejected by validation")

// Backend is the slice of the REST client the executor needs. Every submit
// returns the server's canonical representation of the affected entity or
// an error.
type Backend interface {
	SubmitLike(ctx context.Context, id string) (model.CanonicalSeedlet, error)
	SubmitInterest(ctx context.Context, id string, role string) (model.CanonicalSeedlet, error)
	SubmitComment(ctx context.Context, id string, text string) (model.CanonicalComment, error)
	SubmitReply(ctx context.Context, commentId string, text string) (model.CanonicalComment, error)
	SubmitCommentLike(ctx context.Context, commentId string) (model.CanonicalComment, error)
	SubmitSeedlet(ctx context.Context, payload model.CreateSeedletPayload) (model.CanonicalSeedlet, error)
	SubmitSeedletEdit(ctx context.Context, id string, payload model.EditSeedletPayload) (model.CanonicalSeedlet, error)
}

/*

Executor performs optimistic mutations against the Store. Every operation
follows the same state machine:

	Idle -> Optimistic-Applied -> {Confirmed | RolledBack}

Before the network call it captures a deep snapshot of every partition it
is about to touch and applies the tentative delta atomically across all of
them. On success the server canonical record replaces the provisional one
everywhere it appears, preserving viewer flags the server was silent about.
On failure the captured snapshot is restored exactly, which also undoes any
push event that interleaved inside the optimistic window - the price of
never mis-counting the local delta.

Known race: the executor does not serialize rapid repeated triggers of the
same action on the same entity. Each trigger is an independent delta;
callers that care should disable the control while a mutation is in
flight.
*/
type Executor struct {
	store       *cache.Store
	backend     Backend
	currentUser model.User
}

func NewExecutor(store *cache.Store, backend Backend, currentUser model.User) *Executor {
	return &Executor{
		store:       store,
		backend:     backend,
		currentUser: currentUser,
	}
}

// ToggleLike flips the current viewer's like on a seedlet.
func (e *Executor) ToggleLike(ctx context.Context, id string) error {
	snap := e.store.Capture(cache.Scope{Feed: true, Details: []string{id}})

	e.store.UpdateSeedlet(id, func(s model.Seedlet) model.Seedlet {
		if s.LikedByCurrentUser {
			s.LikedByCurrentUser = false
			s.LikeCount = clamp(s.LikeCount - 1)
		} else {
			s.LikedByCurrentUser = true
			s.LikeCount = s.LikeCount + 1
		}
		return s
	})

	canonical, err := e.backend.SubmitLike(ctx, id)
	if err != nil {
		e.store.Restore(snap)
		Logger.Log.Warnf("toggle like rolled back for seedlet %s: %v", id, err)
		return errors.Wrap(err, "fail to submit like")
	}

	e.store.UpdateSeedlet(id, canonical.Merge)
	return nil
}

// SetInterest records the current viewer's interest in a seedlet under the
// given role, or withdraws it when role is empty. Interest in one's own
// seedlet is rejected before any optimistic write.
func (e *Executor) SetInterest(ctx context.Context, id string, role string) error {
	if seedlet, ok := e.store.GetSeedlet(id); ok && seedlet.Owner.Id == e.currentUser.Id {
		return errors.Wrap(ErrValidationRejected, "cannot express interest in your own seedlet")
	}

	snap := e.store.Capture(cache.Scope{Feed: true, Details: []string{id}})

	userId := e.currentUser.Id
	e.store.UpdateSeedlet(id, func(s model.Seedlet) model.Seedlet {
		already := s.CurrentUserHasInterest
		interests := make([]model.Interest, 0, len(s.Interests)+1)
		for _, interest := range s.Interests {
			if interest.UserId != userId {
				interests = append(interests, interest)
			}
		}
		if role != "" {
			interests = append(interests, model.Interest{UserId: userId, RoleInterestedIn: role})
		}
		s.Interests = interests
		s.CurrentUserHasInterest = role != ""
		if role != "" && !already {
			s.InterestCount = s.InterestCount + 1
		} else if role == "" && already {
			s.InterestCount = clamp(s.InterestCount - 1)
		}
		return s
	})

	canonical, err := e.backend.SubmitInterest(ctx, id, role)
	if err != nil {
		e.store.Restore(snap)
		Logger.Log.Warnf("set interest rolled back for seedlet %s: %v", id, err)
		return errors.Wrap(err, "fail to submit interest")
	}

	e.store.UpdateSeedlet(id, canonical.Merge)
	return nil
}

// PostComment posts a top level comment. The comment is inserted under a
// client-generated provisional id immediately and swapped for the server
// canonical record on confirmation.
func (e *Executor) PostComment(ctx context.Context, seedletId string, text string) (model.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return model.Comment{}, errors.Wrap(ErrValidationRejected, "comment text is empty")
	}

	provisional := model.Comment{
		Id:          provisionalId(),
		SeedletId:   seedletId,
		Owner:       e.currentUser,
		Content:     text,
		CreatedAt:   time.Now(),
		Provisional: true,
	}

	snap := e.store.Capture(cache.Scope{Feed: true, Details: []string{seedletId}})
	e.store.AddTopLevelComment(seedletId, provisional)

	canonical, err := e.backend.SubmitComment(ctx, seedletId, text)
	if err != nil {
		e.store.Restore(snap)
		Logger.Log.Warnf("post comment rolled back for seedlet %s: %v", seedletId, err)
		return model.Comment{}, errors.Wrap(err, "fail to submit comment")
	}

	confirmed := canonical.Merge(provisional)
	e.store.ReplaceCommentId(provisional.Id, confirmed)
	return confirmed, nil
}

// PostReply posts a reply under a parent comment, same shape as
// PostComment but against the reply partition and the parent's direct
// reply count.
func (e *Executor) PostReply(ctx context.Context, parentId string, text string) (model.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return model.Comment{}, errors.Wrap(ErrValidationRejected, "reply text is empty")
	}

	provisional := model.Comment{
		Id:          provisionalId(),
		ParentId:    parentId,
		Owner:       e.currentUser,
		Content:     text,
		CreatedAt:   time.Now(),
		Provisional: true,
	}

	snap := e.store.Capture(e.store.CommentScope(parentId))
	e.store.AddReply(parentId, provisional)

	canonical, err := e.backend.SubmitReply(ctx, parentId, text)
	if err != nil {
		e.store.Restore(snap)
		Logger.Log.Warnf("post reply rolled back for comment %s: %v", parentId, err)
		return model.Comment{}, errors.Wrap(err, "fail to submit reply")
	}

	confirmed := canonical.Merge(provisional)
	e.store.ReplaceCommentId(provisional.Id, confirmed)
	return confirmed, nil
}

// ToggleCommentLike flips the current viewer's like on a comment wherever
// it is cached.
func (e *Executor) ToggleCommentLike(ctx context.Context, commentId string) error {
	snap := e.store.Capture(e.store.CommentScope(commentId))

	e.store.UpdateComment(commentId, func(c model.Comment) model.Comment {
		if c.LikedByCurrentUser {
			c.LikedByCurrentUser = false
			c.LikeCount = clamp(c.LikeCount - 1)
		} else {
			c.LikedByCurrentUser = true
			c.LikeCount = c.LikeCount + 1
		}
		return c
	})

	canonical, err := e.backend.SubmitCommentLike(ctx, commentId)
	if err != nil {
		e.store.Restore(snap)
		Logger.Log.Warnf("toggle comment like rolled back for comment %s: %v", commentId, err)
		return errors.Wrap(err, "fail to submit comment like")
	}

	e.store.UpdateComment(commentId, canonical.Merge)
	return nil
}

// PostSeedlet creates a new seedlet, prepended to the feed under a
// provisional id until the server confirms.
func (e *Executor) PostSeedlet(ctx context.Context, payload model.CreateSeedletPayload) (model.Seedlet, error) {
	tags := model.NormalizeTags(payload.Tags)
	if len(tags) < 2 || len(tags) > 4 {
		return model.Seedlet{}, errors.Wrap(ErrValidationRejected, "seedlets need 2 to 4 unique tags")
	}
	payload.Tags = tags

	provisional := model.Seedlet{
		Id:          provisionalId(),
		Owner:       e.currentUser,
		Title:       payload.Title,
		Description: payload.Description,
		Tags:        tags,
		NeededRoles: payload.NeededRoles,
		CreatedAt:   time.Now(),
	}

	snap := e.store.Capture(cache.Scope{Feed: true})
	e.store.PrependSeedlet(provisional)

	canonical, err := e.backend.SubmitSeedlet(ctx, payload)
	if err != nil {
		e.store.Restore(snap)
		Logger.Log.Warnf("post seedlet rolled back: %v", err)
		return model.Seedlet{}, errors.Wrap(err, "fail to submit seedlet")
	}

	confirmed := canonical.Merge(provisional)
	e.store.ReplaceSeedletId(provisional.Id, confirmed)
	return confirmed, nil
}

// EditSeedlet applies a partial edit to an existing seedlet.
func (e *Executor) EditSeedlet(ctx context.Context, id string, payload model.EditSeedletPayload) error {
	if payload.Tags != nil {
		tags := model.NormalizeTags(payload.Tags)
		if len(tags) < 2 || len(tags) > 4 {
			return errors.Wrap(ErrValidationRejected, "seedlets need 2 to 4 unique tags")
		}
		payload.Tags = tags
	}

	snap := e.store.Capture(cache.Scope{Feed: true, Details: []string{id}})

	e.store.UpdateSeedlet(id, func(s model.Seedlet) model.Seedlet {
		if payload.Title != nil {
			s.Title = *payload.Title
		}
		if payload.Description != nil {
			s.Description = *payload.Description
		}
		if payload.Tags != nil {
			s.Tags = payload.Tags
		}
		if payload.NeededRoles != nil {
			s.NeededRoles = payload.NeededRoles
		}
		return s
	})

	canonical, err := e.backend.SubmitSeedletEdit(ctx, id, payload)
	if err != nil {
		e.store.Restore(snap)
		Logger.Log.Warnf("edit seedlet rolled back for %s: %v", id, err)
		return errors.Wrap(err, "fail to submit seedlet edit")
	}

	e.store.UpdateSeedlet(id, canonical.Merge)
	return nil
}

func provisionalId() string {
	return "tmp_" + uuid.New().String()
}

func clamp(count int) int {
	if count < 0 {
		return 0
	}
	return count
}
