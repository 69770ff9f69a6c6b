package mutation

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedlethq/fieldsync/cache"
	"github.com/seedlethq/fieldsync/model"
	"github.com/seedlethq/fieldsync/reconcile"
)

var (
	viewer = model.User{Id: "user_1", Username: "viewer"}
	author = model.User{Id: "user_9", Username: "author"}
)

// fakeBackend implements Backend through per-method function fields. A nil
// field fails the submit, which is also how tests force the rollback path.
type fakeBackend struct {
	likeFn        func(id string) (model.CanonicalSeedlet, error)
	interestFn    func(id string, role string) (model.CanonicalSeedlet, error)
	commentFn     func(id string, text string) (model.CanonicalComment, error)
	replyFn       func(commentId string, text string) (model.CanonicalComment, error)
	commentLikeFn func(commentId string) (model.CanonicalComment, error)
	seedletFn     func(payload model.CreateSeedletPayload) (model.CanonicalSeedlet, error)
	editFn        func(id string, payload model.EditSeedletPayload) (model.CanonicalSeedlet, error)

	// onSubmit runs before every submit resolves, standing in for work
	// that races with the in-flight request.
	onSubmit func()

	submitted int
}

var errUnavailable = errors.New("backend unavailable")

func (f *fakeBackend) enter() {
	f.submitted++
	if f.onSubmit != nil {
		f.onSubmit()
	}
}

func (f *fakeBackend) SubmitLike(ctx context.Context, id string) (model.CanonicalSeedlet, error) {
	f.enter()
	if f.likeFn == nil {
		return model.CanonicalSeedlet{}, errUnavailable
	}
	return f.likeFn(id)
}

func (f *fakeBackend) SubmitInterest(ctx context.Context, id string, role string) (model.CanonicalSeedlet, error) {
	f.enter()
	if f.interestFn == nil {
		return model.CanonicalSeedlet{}, errUnavailable
	}
	return f.interestFn(id, role)
}

func (f *fakeBackend) SubmitComment(ctx context.Context, id string, text string) (model.CanonicalComment, error) {
	f.enter()
	if f.commentFn == nil {
		return model.CanonicalComment{}, errUnavailable
	}
	return f.commentFn(id, text)
}

func (f *fakeBackend) SubmitReply(ctx context.Context, commentId string, text string) (model.CanonicalComment, error) {
	f.enter()
	if f.replyFn == nil {
		return model.CanonicalComment{}, errUnavailable
	}
	return f.replyFn(commentId, text)
}

func (f *fakeBackend) SubmitCommentLike(ctx context.Context, commentId string) (model.CanonicalComment, error) {
	f.enter()
	if f.commentLikeFn == nil {
		return model.CanonicalComment{}, errUnavailable
	}
	return f.commentLikeFn(commentId)
}

func (f *fakeBackend) SubmitSeedlet(ctx context.Context, payload model.CreateSeedletPayload) (model.CanonicalSeedlet, error) {
	f.enter()
	if f.seedletFn == nil {
		return model.CanonicalSeedlet{}, errUnavailable
	}
	return f.seedletFn(payload)
}

func (f *fakeBackend) SubmitSeedletEdit(ctx context.Context, id string, payload model.EditSeedletPayload) (model.CanonicalSeedlet, error) {
	f.enter()
	if f.editFn == nil {
		return model.CanonicalSeedlet{}, errUnavailable
	}
	return f.editFn(id, payload)
}

func seedStore(likeCount int) *cache.Store {
	store := cache.NewStore()
	seedlet := model.Seedlet{
		Id:        "s1",
		Owner:     author,
		Title:     "distributed beehive monitor",
		Tags:      []string{"iot", "go"},
		LikeCount: likeCount,
	}
	store.SeedFeed([]model.Seedlet{seedlet})
	store.SeedDetail("s1", cache.DetailView{Seedlet: seedlet})
	return store
}

func canonicalSeedlet(likeCount int, liked bool) model.CanonicalSeedlet {
	return model.CanonicalSeedlet{
		Seedlet: model.Seedlet{
			Id:        "s1",
			Owner:     author,
			Title:     "distributed beehive monitor",
			Tags:      []string{"iot", "go"},
			LikeCount: likeCount,
		},
		LikedByCurrentUser: &liked,
	}
}

// echoStore builds a canonical response out of whatever the store holds,
// which after the optimistic apply is exactly what a well-behaved backend
// would confirm.
func echoStore(store *cache.Store, id string) (model.CanonicalSeedlet, error) {
	seedlet, ok := store.GetSeedlet(id)
	if !ok {
		return model.CanonicalSeedlet{}, errors.Errorf("no seedlet %s", id)
	}
	return model.CanonicalSeedlet{Seedlet: seedlet}, nil
}

func TestToggleLikeOptimisticThenConfirmed(t *testing.T) {
	store := seedStore(5)
	backend := &fakeBackend{}
	backend.likeFn = func(id string) (model.CanonicalSeedlet, error) {
		return canonicalSeedlet(6, true), nil
	}
	executor := NewExecutor(store, backend, viewer)

	require.NoError(t, executor.ToggleLike(context.Background(), "s1"))

	feed, _ := store.GetFeedSnapshot()
	detail, _ := store.GetDetailSnapshot("s1")
	assert.Equal(t, 6, feed[0].LikeCount)
	assert.True(t, feed[0].LikedByCurrentUser)
	assert.Empty(t, cmp.Diff(feed[0], detail.Seedlet))
}

func TestToggleLikeConfirmThenFanOutOfAnotherUser(t *testing.T) {
	store := seedStore(5)
	backend := &fakeBackend{}
	backend.likeFn = func(id string) (model.CanonicalSeedlet, error) {
		return canonicalSeedlet(6, true), nil
	}
	executor := NewExecutor(store, backend, viewer)
	reconciler := reconcile.NewReconciler(store, nil, "unused")

	require.NoError(t, executor.ToggleLike(context.Background(), "s1"))

	// Another user's like fans out: the reported boolean differs from the
	// last push-recorded aggregate state, so the count moves but the
	// viewer's own flag does not.
	liked := true
	reconciler.Apply(&model.SeedletEvent{
		Kind:  model.EventLikeChanged,
		Ref:   model.RefSeedlet,
		RefId: "s1",
		Liked: &liked,
	})

	feed, _ := store.GetFeedSnapshot()
	assert.Equal(t, 7, feed[0].LikeCount)
	assert.True(t, feed[0].LikedByCurrentUser)
}

func TestToggleLikeRollbackRestoresPreMutationState(t *testing.T) {
	store := seedStore(5)
	backend := &fakeBackend{}
	executor := NewExecutor(store, backend, viewer)

	feedBefore, _ := store.GetFeedSnapshot()
	detailBefore, _ := store.GetDetailSnapshot("s1")

	err := executor.ToggleLike(context.Background(), "s1")
	require.Error(t, err)

	feedAfter, _ := store.GetFeedSnapshot()
	detailAfter, _ := store.GetDetailSnapshot("s1")
	assert.Empty(t, cmp.Diff(feedBefore, feedAfter))
	assert.Empty(t, cmp.Diff(detailBefore, detailAfter))
}

func TestToggleLikeNetDeltaMatchesFlagTransitions(t *testing.T) {
	store := seedStore(5)
	backend := &fakeBackend{}
	backend.likeFn = func(id string) (model.CanonicalSeedlet, error) {
		return echoStore(store, id)
	}
	executor := NewExecutor(store, backend, viewer)

	for i := 0; i < 7; i++ {
		seedlet, ok := store.GetSeedlet("s1")
		require.True(t, ok)
		expected := seedlet.LikeCount + 1
		if seedlet.LikedByCurrentUser {
			expected = seedlet.LikeCount - 1
		}
		liked := !seedlet.LikedByCurrentUser

		require.NoError(t, executor.ToggleLike(context.Background(), "s1"))

		after, _ := store.GetSeedlet("s1")
		assert.Equal(t, expected, after.LikeCount)
		assert.Equal(t, liked, after.LikedByCurrentUser)
		assert.GreaterOrEqual(t, after.LikeCount, 0)
	}
}

func TestSetInterestOnOwnSeedletRejectedBeforeAnyWrite(t *testing.T) {
	store := seedStore(0)
	backend := &fakeBackend{}
	executor := NewExecutor(store, backend, author)

	feedBefore, _ := store.GetFeedSnapshot()

	err := executor.SetInterest(context.Background(), "s1", "designer")
	require.Error(t, err)
	assert.Equal(t, ErrValidationRejected, errors.Cause(err))
	assert.Equal(t, 0, backend.submitted)

	feedAfter, _ := store.GetFeedSnapshot()
	assert.Empty(t, cmp.Diff(feedBefore, feedAfter))
}

func TestSetInterestKeepsAtMostOneEntryPerViewer(t *testing.T) {
	store := seedStore(0)
	backend := &fakeBackend{}
	backend.interestFn = func(id string, role string) (model.CanonicalSeedlet, error) {
		return echoStore(store, id)
	}
	executor := NewExecutor(store, backend, viewer)

	roles := []string{"designer", "backend", "designer", "", "frontend"}
	for _, role := range roles {
		require.NoError(t, executor.SetInterest(context.Background(), "s1", role))

		seedlet, ok := store.GetSeedlet("s1")
		require.True(t, ok)
		mine := 0
		for _, interest := range seedlet.Interests {
			if interest.UserId == viewer.Id {
				mine++
			}
		}
		assert.LessOrEqual(t, mine, 1)
		if role == "" {
			assert.Equal(t, 0, mine)
			assert.False(t, seedlet.CurrentUserHasInterest)
			assert.Equal(t, 0, seedlet.InterestCount)
		} else {
			assert.Equal(t, 1, mine)
			assert.True(t, seedlet.CurrentUserHasInterest)
			assert.Equal(t, 1, seedlet.InterestCount)
		}
	}
}

func TestSetInterestRollbackOnFailure(t *testing.T) {
	store := seedStore(0)
	backend := &fakeBackend{}
	executor := NewExecutor(store, backend, viewer)

	feedBefore, _ := store.GetFeedSnapshot()

	err := executor.SetInterest(context.Background(), "s1", "designer")
	require.Error(t, err)

	feedAfter, _ := store.GetFeedSnapshot()
	assert.Empty(t, cmp.Diff(feedBefore, feedAfter))
}

func TestPostCommentProvisionalThenConfirmed(t *testing.T) {
	store := seedStore(0)
	backend := &fakeBackend{}
	backend.commentFn = func(id string, text string) (model.CanonicalComment, error) {
		return model.CanonicalComment{
			Comment: model.Comment{
				Id:        "real_1",
				SeedletId: id,
				Owner:     viewer,
				Content:   text,
			},
		}, nil
	}
	executor := NewExecutor(store, backend, viewer)

	confirmed, err := executor.PostComment(context.Background(), "s1", "count me in")
	require.NoError(t, err)
	assert.Equal(t, "real_1", confirmed.Id)
	assert.False(t, confirmed.Provisional)

	detail, _ := store.GetDetailSnapshot("s1")
	require.Len(t, detail.Comments, 1)
	assert.Equal(t, "real_1", detail.Comments[0].Id)
	assert.Equal(t, 1, detail.Seedlet.CommentCount)
}

func TestPostCommentFanOutBeforeConfirmationDoesNotDouble(t *testing.T) {
	store := seedStore(0)
	reconciler := reconcile.NewReconciler(store, nil, "unused")

	// Three comments already there.
	seedlet, _ := store.GetSeedlet("s1")
	seedlet.CommentCount = 3
	store.SeedDetail("s1", cache.DetailView{
		Seedlet: seedlet,
		Comments: []model.Comment{
			{Id: "old_1", SeedletId: "s1", Content: "a"},
			{Id: "old_2", SeedletId: "s1", Content: "b"},
			{Id: "old_3", SeedletId: "s1", Content: "c"},
		},
	})

	// Optimistic insert under a provisional id.
	provisional := model.Comment{
		Id:          "tmp_1",
		SeedletId:   "s1",
		Owner:       viewer,
		Content:     "count me in",
		Provisional: true,
	}
	store.AddTopLevelComment("s1", provisional)
	detail, _ := store.GetDetailSnapshot("s1")
	require.Equal(t, 4, detail.Seedlet.CommentCount)

	// The fan-out of our own post arrives first, carrying the real id: no
	// id match, but it must not double-count either.
	fanned := model.Comment{Id: "real_1", SeedletId: "s1", Owner: viewer, Content: "count me in"}
	reconciler.Apply(&model.SeedletEvent{
		Kind:  model.EventCommentAdded,
		Ref:   model.RefSeedlet,
		RefId: "s1",
		Reply: &fanned,
	})
	detail, _ = store.GetDetailSnapshot("s1")
	assert.Equal(t, 4, detail.Seedlet.CommentCount)
	assert.Len(t, detail.Comments, 4)

	// Confirmation swaps the provisional id for the real one, count stays.
	store.ReplaceCommentId("tmp_1", fanned)
	detail, _ = store.GetDetailSnapshot("s1")
	assert.Equal(t, 4, detail.Seedlet.CommentCount)
	require.Len(t, detail.Comments, 4)
	assert.Equal(t, "real_1", detail.Comments[0].Id)
}

func TestPostCommentEmptyTextRejected(t *testing.T) {
	store := seedStore(0)
	backend := &fakeBackend{}
	executor := NewExecutor(store, backend, viewer)

	_, err := executor.PostComment(context.Background(), "s1", "   ")
	require.Error(t, err)
	assert.Equal(t, ErrValidationRejected, errors.Cause(err))
	assert.Equal(t, 0, backend.submitted)
}

func TestPostCommentRollbackUndoesInterleavedEventInScope(t *testing.T) {
	store := seedStore(0)
	reconciler := reconcile.NewReconciler(store, nil, "unused")
	backend := &fakeBackend{}
	// A like event for the same seedlet lands while the request is in
	// flight. Rollback restores the captured partitions wholesale, so
	// the event's effect is dropped along with the optimistic comment.
	liked := true
	backend.onSubmit = func() {
		reconciler.Apply(&model.SeedletEvent{
			Kind:  model.EventLikeChanged,
			Ref:   model.RefSeedlet,
			RefId: "s1",
			Liked: &liked,
		})
	}
	executor := NewExecutor(store, backend, viewer)

	feedBefore, _ := store.GetFeedSnapshot()
	detailBefore, _ := store.GetDetailSnapshot("s1")

	_, err := executor.PostComment(context.Background(), "s1", "doomed")
	require.Error(t, err)

	feedAfter, _ := store.GetFeedSnapshot()
	detailAfter, _ := store.GetDetailSnapshot("s1")
	assert.Empty(t, cmp.Diff(feedBefore, feedAfter))
	assert.Empty(t, cmp.Diff(detailBefore, detailAfter))
}

func TestPostSeedletValidatesTags(t *testing.T) {
	store := cache.NewStore()
	store.SeedFeed(nil)
	backend := &fakeBackend{}
	executor := NewExecutor(store, backend, viewer)

	_, err := executor.PostSeedlet(context.Background(), model.CreateSeedletPayload{
		Title: "too few tags",
		Tags:  []string{"solo"},
	})
	require.Error(t, err)
	assert.Equal(t, ErrValidationRejected, errors.Cause(err))

	// Case-normalized duplicates collapse below the minimum too.
	_, err = executor.PostSeedlet(context.Background(), model.CreateSeedletPayload{
		Title: "dup tags",
		Tags:  []string{"Go", "go"},
	})
	require.Error(t, err)
	assert.Equal(t, ErrValidationRejected, errors.Cause(err))
	assert.Equal(t, 0, backend.submitted)
}

func TestPostSeedletConfirmationSwapsProvisionalId(t *testing.T) {
	store := cache.NewStore()
	store.SeedFeed(nil)
	backend := &fakeBackend{}
	backend.seedletFn = func(payload model.CreateSeedletPayload) (model.CanonicalSeedlet, error) {
		return model.CanonicalSeedlet{
			Seedlet: model.Seedlet{
				Id:    "server_1",
				Owner: viewer,
				Title: payload.Title,
				Tags:  payload.Tags,
			},
		}, nil
	}
	executor := NewExecutor(store, backend, viewer)

	confirmed, err := executor.PostSeedlet(context.Background(), model.CreateSeedletPayload{
		Title: "mesh of birdhouses",
		Tags:  []string{"IoT", "nature"},
	})
	require.NoError(t, err)
	assert.Equal(t, "server_1", confirmed.Id)
	assert.Equal(t, []string{"iot", "nature"}, confirmed.Tags)

	feed, _ := store.GetFeedSnapshot()
	require.Len(t, feed, 1)
	assert.Equal(t, "server_1", feed[0].Id)
}

func TestEditSeedletRollbackOnFailure(t *testing.T) {
	store := seedStore(0)
	backend := &fakeBackend{}
	executor := NewExecutor(store, backend, viewer)

	feedBefore, _ := store.GetFeedSnapshot()

	title := "new title"
	err := executor.EditSeedlet(context.Background(), "s1", model.EditSeedletPayload{Title: &title})
	require.Error(t, err)

	feedAfter, _ := store.GetFeedSnapshot()
	assert.Empty(t, cmp.Diff(feedBefore, feedAfter))
}

func TestToggleCommentLikeAcrossPartitions(t *testing.T) {
	store := seedStore(0)
	comment := model.Comment{Id: "c1", SeedletId: "s1", Content: "hi", LikeCount: 2}
	seedlet, _ := store.GetSeedlet("s1")
	store.SeedDetail("s1", cache.DetailView{Seedlet: seedlet, Comments: []model.Comment{comment}})
	store.SeedReplies("c0", []model.Comment{comment})

	backend := &fakeBackend{}
	backend.commentLikeFn = func(commentId string) (model.CanonicalComment, error) {
		liked := true
		return model.CanonicalComment{
			Comment:            model.Comment{Id: commentId, SeedletId: "s1", Content: "hi", LikeCount: 3},
			LikedByCurrentUser: &liked,
		}, nil
	}
	executor := NewExecutor(store, backend, viewer)

	require.NoError(t, executor.ToggleCommentLike(context.Background(), "c1"))

	detail, _ := store.GetDetailSnapshot("s1")
	replies, _ := store.GetCommentSnapshot("c0")
	assert.Equal(t, 3, detail.Comments[0].LikeCount)
	assert.True(t, detail.Comments[0].LikedByCurrentUser)
	assert.Empty(t, cmp.Diff(detail.Comments[0], replies[0]))
}
