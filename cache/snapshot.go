package cache

import (
	"github.com/jinzhu/copier"

	"github.com/seedlethq/fieldsync/model"
)

// Scope names the partitions a mutation is about to touch, so the executor
// can capture exactly the state it may have to roll back.
type Scope struct {
	Feed    bool
	Details []string
	Replies []string
}

// Snapshot is a deep copy of the scoped partitions at capture time.
// Restoring it puts the captured partitions back exactly as they were,
// including re-absenting entries that did not exist yet. Rollback must go
// through a snapshot rather than an inverse delta: an inverse delta would
// double-undo push events that interleaved during the optimistic window.
type Snapshot struct {
	scope Scope

	feed       []model.Seedlet
	feedLoaded bool

	// nil entry value means the key was absent at capture time.
	details map[string]*DetailView
	replies map[string]*[]model.Comment
}

// Capture deep-copies the scoped partitions under the store's critical
// section.
func (s *Store) Capture(scope Scope) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		scope:   scope,
		details: make(map[string]*DetailView),
		replies: make(map[string]*[]model.Comment),
	}
	if scope.Feed {
		snap.feed = copySeedlets(s.feed)
		snap.feedLoaded = s.feedLoaded
	}
	for _, id := range scope.Details {
		if view, ok := s.details[id]; ok {
			copied := copyDetailView(view)
			snap.details[id] = &copied
		} else {
			snap.details[id] = nil
		}
	}
	for _, parentId := range scope.Replies {
		if list, ok := s.replies[parentId]; ok {
			copied := copyComments(list)
			snap.replies[parentId] = &copied
		} else {
			snap.replies[parentId] = nil
		}
	}
	return snap
}

// Restore puts every captured partition back exactly. Partitions outside
// the snapshot's scope are untouched.
func (s *Store) Restore(snap *Snapshot) {
	s.mu.Lock()
	if snap.scope.Feed {
		s.feed = copySeedlets(snap.feed)
		s.feedLoaded = snap.feedLoaded
	}
	for id, view := range snap.details {
		if view == nil {
			delete(s.details, id)
			continue
		}
		s.details[id] = copyDetailView(*view)
	}
	for parentId, list := range snap.replies {
		if list == nil {
			delete(s.replies, parentId)
			continue
		}
		s.replies[parentId] = copyComments(*list)
	}
	s.mu.Unlock()
	s.channels.Broadcast()
}

// CommentScope locates every partition currently holding the comment, plus
// its own reply list, for mutations addressed at a single comment.
func (s *Store) CommentScope(commentId string) Scope {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope := Scope{Replies: []string{commentId}}
	for id, view := range s.details {
		for i := range view.Comments {
			if view.Comments[i].Id == commentId {
				scope.Details = append(scope.Details, id)
			}
		}
	}
	for parentId, list := range s.replies {
		for i := range list {
			if list[i].Id == commentId {
				scope.Replies = append(scope.Replies, parentId)
			}
		}
	}
	return scope
}

func copySeedlet(seedlet model.Seedlet) model.Seedlet {
	var copied model.Seedlet
	// Deep copy so callers can never alias the store's slices.
	copier.CopyWithOption(&copied, &seedlet, copier.Option{DeepCopy: true})
	return copied
}

func copySeedlets(seedlets []model.Seedlet) []model.Seedlet {
	copied := make([]model.Seedlet, 0, len(seedlets))
	for i := range seedlets {
		copied = append(copied, copySeedlet(seedlets[i]))
	}
	return copied
}

func copyComment(comment model.Comment) model.Comment {
	var copied model.Comment
	copier.CopyWithOption(&copied, &comment, copier.Option{DeepCopy: true})
	return copied
}

func copyComments(comments []model.Comment) []model.Comment {
	copied := make([]model.Comment, 0, len(comments))
	for i := range comments {
		copied = append(copied, copyComment(comments[i]))
	}
	return copied
}

func copyDetailView(view DetailView) DetailView {
	return DetailView{
		Seedlet:  copySeedlet(view.Seedlet),
		Comments: copyComments(view.Comments),
	}
}
