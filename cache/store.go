package cache

import (
	"context"
	"sync"

	"github.com/seedlethq/fieldsync/model"
)

// DetailView is the detail partition entry for one seedlet: the full record
// plus its top level discussion, newest first.
type DetailView struct {
	Seedlet  model.Seedlet   `json:"idea"`
	Comments []model.Comment `json:"comments"`
}

/*

Store is the in-memory cache of social interaction state, holding three
denormalized partitions over the same entities:

	feed:    ordered seedlet summaries, newest first
	details: seedlet id -> full seedlet + top level comments
	replies: comment id -> direct replies, newest first

The same seedlet typically appears in both the feed and a detail entry, and
every write that touches it goes through a single critical section so the
two views can never be observed diverged. Count fields are always derived
from the stored value plus a signed delta by the callers, never overwritten
with an externally supplied absolute number, except where an event is
specified as authoritative (interest counts).

A partition that has not been fetched yet is simply absent: writes against
it are no-ops and the next explicit fetch seeds it with correct state.

The Store owns no I/O. It is created at session start and torn down on
logout, and all access is mediated through its receivers rather than
ambient globals so it can be tested in isolation from any UI layer.
*/
type Store struct {
	mu sync.Mutex

	feed       []model.Seedlet
	feedLoaded bool
	details    map[string]DetailView
	replies    map[string][]model.Comment

	channels *ChangeChannels
}

func NewStore() *Store {
	return &Store{
		details:  make(map[string]DetailView),
		replies:  make(map[string][]model.Comment),
		channels: NewChangeChannels(),
	}
}

// SeedFeed populates the feed partition from a fetch, dropping duplicate
// ids so an ordered sequence never holds the same entity twice.
func (s *Store) SeedFeed(seedlets []model.Seedlet) {
	s.mu.Lock()
	s.feed = dedupeSeedlets(seedlets)
	s.feedLoaded = true
	s.mu.Unlock()
	s.channels.Broadcast()
}

// SeedDetail populates the detail partition entry for one seedlet.
func (s *Store) SeedDetail(id string, view DetailView) {
	s.mu.Lock()
	view.Comments = dedupeComments(view.Comments)
	s.details[id] = view
	s.mu.Unlock()
	s.channels.Broadcast()
}

// SeedReplies populates the reply partition entry for one parent comment.
func (s *Store) SeedReplies(parentId string, replies []model.Comment) {
	s.mu.Lock()
	s.replies[parentId] = dedupeComments(replies)
	s.mu.Unlock()
	s.channels.Broadcast()
}

// GetFeedSnapshot returns a deep copy of the feed partition. The second
// return is false when the feed has not been seeded yet.
func (s *Store) GetFeedSnapshot() ([]model.Seedlet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.feedLoaded {
		return nil, false
	}
	return copySeedlets(s.feed), true
}

// GetDetailSnapshot returns a deep copy of one detail entry.
func (s *Store) GetDetailSnapshot(id string) (DetailView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view, ok := s.details[id]
	if !ok {
		return DetailView{}, false
	}
	return copyDetailView(view), true
}

// GetCommentSnapshot returns a deep copy of one reply list.
func (s *Store) GetCommentSnapshot(parentId string) ([]model.Comment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	replies, ok := s.replies[parentId]
	if !ok {
		return nil, false
	}
	return copyComments(replies), true
}

// GetSeedlet looks a seedlet up in the detail partition first, then in the
// feed. Used for pre-write validation such as the owner check on interests.
func (s *Store) GetSeedlet(id string) (model.Seedlet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if view, ok := s.details[id]; ok {
		return copySeedlet(view.Seedlet), true
	}
	for i := range s.feed {
		if s.feed[i].Id == id {
			return copySeedlet(s.feed[i]), true
		}
	}
	return model.Seedlet{}, false
}

// GetComment returns the first cached occurrence of a comment.
func (s *Store) GetComment(commentId string) (model.Comment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, view := range s.details {
		for i := range view.Comments {
			if view.Comments[i].Id == commentId {
				return copyComment(view.Comments[i]), true
			}
		}
	}
	for _, list := range s.replies {
		for i := range list {
			if list[i].Id == commentId {
				return copyComment(list[i]), true
			}
		}
	}
	return model.Comment{}, false
}

// UpdateSeedlet applies updater to the seedlet in every partition holding
// it, atomically, so feed and detail views cannot diverge. The updater must
// be pure; absence of the seedlet everywhere is a no-op.
func (s *Store) UpdateSeedlet(id string, updater func(model.Seedlet) model.Seedlet) {
	s.mu.Lock()
	for i := range s.feed {
		if s.feed[i].Id == id {
			s.feed[i] = updater(s.feed[i])
		}
	}
	if view, ok := s.details[id]; ok {
		view.Seedlet = updater(view.Seedlet)
		s.details[id] = view
	}
	s.mu.Unlock()
	s.channels.Broadcast()
}

// UpdateFeed applies updater to the whole feed sequence. No-op until the
// feed is seeded. Duplicate ids produced by the updater are dropped.
func (s *Store) UpdateFeed(updater func([]model.Seedlet) []model.Seedlet) {
	s.mu.Lock()
	if s.feedLoaded {
		s.feed = dedupeSeedlets(updater(s.feed))
	}
	s.mu.Unlock()
	s.channels.Broadcast()
}

// UpdateDetail applies updater to one detail entry if present.
func (s *Store) UpdateDetail(id string, updater func(DetailView) DetailView) {
	s.mu.Lock()
	if view, ok := s.details[id]; ok {
		next := updater(view)
		next.Comments = dedupeComments(next.Comments)
		s.details[id] = next
	}
	s.mu.Unlock()
	s.channels.Broadcast()
}

// UpdateReplies applies updater to one reply list if present.
func (s *Store) UpdateReplies(parentId string, updater func([]model.Comment) []model.Comment) {
	s.mu.Lock()
	if replies, ok := s.replies[parentId]; ok {
		s.replies[parentId] = dedupeComments(updater(replies))
	}
	s.mu.Unlock()
	s.channels.Broadcast()
}

// UpdateComment applies updater to a comment in every partition where it
// appears: top level discussion lists and reply lists alike.
func (s *Store) UpdateComment(commentId string, updater func(model.Comment) model.Comment) {
	s.mu.Lock()
	for id, view := range s.details {
		for i := range view.Comments {
			if view.Comments[i].Id == commentId {
				view.Comments[i] = updater(view.Comments[i])
				s.details[id] = view
			}
		}
	}
	for parentId, list := range s.replies {
		for i := range list {
			if list[i].Id == commentId {
				list[i] = updater(list[i])
				s.replies[parentId] = list
			}
		}
	}
	s.mu.Unlock()
	s.channels.Broadcast()
}

// AddTopLevelComment prepends a comment to a seedlet's discussion and bumps
// the seedlet's comment count by exactly 1 in every view, all in one
// critical section. It reports false without touching anything when the
// comment is already present, either by id or as the current viewer's own
// provisional insert with the same owner and content still awaiting its
// canonical id. Replaying the same event is therefore a no-op.
func (s *Store) AddTopLevelComment(seedletId string, comment model.Comment) bool {
	s.mu.Lock()
	if view, ok := s.details[seedletId]; ok {
		if commentPresent(view.Comments, comment) {
			s.mu.Unlock()
			return false
		}
		view.Comments = append([]model.Comment{comment}, view.Comments...)
		view.Seedlet.CommentCount = view.Seedlet.CommentCount + 1
		s.details[seedletId] = view
	}
	for i := range s.feed {
		if s.feed[i].Id == seedletId {
			s.feed[i].CommentCount = s.feed[i].CommentCount + 1
		}
	}
	s.mu.Unlock()
	s.channels.Broadcast()
	return true
}

// AddReply prepends a reply under a parent comment and bumps the parent's
// direct reply count by exactly 1 wherever the parent appears. Same
// duplicate semantics as AddTopLevelComment.
func (s *Store) AddReply(parentId string, reply model.Comment) bool {
	s.mu.Lock()
	if list, ok := s.replies[parentId]; ok {
		if commentPresent(list, reply) {
			s.mu.Unlock()
			return false
		}
		s.replies[parentId] = append([]model.Comment{reply}, list...)
	}
	bumpReplyCountLocked(s, parentId, 1)
	s.mu.Unlock()
	s.channels.Broadcast()
	return true
}

// PrependSeedlet inserts a new seedlet at the head of the feed unless an
// entity with that id is already present.
func (s *Store) PrependSeedlet(seedlet model.Seedlet) bool {
	s.mu.Lock()
	if !s.feedLoaded {
		s.mu.Unlock()
		return false
	}
	for i := range s.feed {
		if s.feed[i].Id == seedlet.Id {
			s.mu.Unlock()
			return false
		}
	}
	s.feed = append([]model.Seedlet{seedlet}, s.feed...)
	s.mu.Unlock()
	s.channels.Broadcast()
	return true
}

// ReplaceSeedletId swaps a provisional seedlet for its server canonical
// record everywhere. If the canonical id already landed through the push
// stream the provisional entry is simply dropped.
func (s *Store) ReplaceSeedletId(provisionalId string, canonical model.Seedlet) {
	s.mu.Lock()
	canonicalPresent := false
	for i := range s.feed {
		if s.feed[i].Id == canonical.Id {
			canonicalPresent = true
		}
	}
	next := make([]model.Seedlet, 0, len(s.feed))
	for i := range s.feed {
		switch {
		case s.feed[i].Id == provisionalId && canonicalPresent:
			// drop, the event beat the confirmation
		case s.feed[i].Id == provisionalId:
			next = append(next, canonical)
		default:
			next = append(next, s.feed[i])
		}
	}
	s.feed = next
	if view, ok := s.details[provisionalId]; ok {
		delete(s.details, provisionalId)
		view.Seedlet = canonical
		s.details[canonical.Id] = view
	}
	s.mu.Unlock()
	s.channels.Broadcast()
}

// ReplaceCommentId swaps a provisional comment for its server canonical
// record everywhere it appears. If the canonical id is already present in
// the same list the provisional entry is dropped and the owning count is
// walked back by 1, since both the optimistic insert and the fanned-out
// event contributed one.
func (s *Store) ReplaceCommentId(provisionalId string, canonical model.Comment) {
	s.mu.Lock()
	for id, view := range s.details {
		replaced, dropped := swapComment(view.Comments, provisionalId, canonical)
		if replaced == nil {
			continue
		}
		view.Comments = replaced
		view.Seedlet.CommentCount = clampCount(view.Seedlet.CommentCount - dropped)
		s.details[id] = view
		if dropped > 0 {
			for i := range s.feed {
				if s.feed[i].Id == id {
					s.feed[i].CommentCount = clampCount(s.feed[i].CommentCount - dropped)
				}
			}
		}
	}
	for parentId, list := range s.replies {
		replaced, dropped := swapComment(list, provisionalId, canonical)
		if replaced == nil {
			continue
		}
		s.replies[parentId] = replaced
		if dropped > 0 {
			bumpReplyCountLocked(s, parentId, -dropped)
		}
	}
	s.mu.Unlock()
	s.channels.Broadcast()
}

// Subscribe registers a change listener that receives a coalesced tick
// after every store write, for re-render triggers. The channel is cleaned
// up when ctx terminates.
func (s *Store) Subscribe(ctx context.Context) <-chan struct{} {
	return s.channels.AddNewConnection(ctx)
}

// bumpReplyCountLocked adjusts a parent comment's direct reply count in
// every partition. Caller must hold s.mu.
func bumpReplyCountLocked(s *Store, parentId string, delta int) {
	for id, view := range s.details {
		for i := range view.Comments {
			if view.Comments[i].Id == parentId {
				view.Comments[i].CommentCount = clampCount(view.Comments[i].CommentCount + delta)
				s.details[id] = view
			}
		}
	}
	for pid, list := range s.replies {
		for i := range list {
			if list[i].Id == parentId {
				list[i].CommentCount = clampCount(list[i].CommentCount + delta)
				s.replies[pid] = list
			}
		}
	}
}

// swapComment replaces provisionalId with canonical in one list. Returns
// the new list (nil if the provisional id was not found) and how many
// entries were dropped because the canonical id was already present.
func swapComment(list []model.Comment, provisionalId string, canonical model.Comment) ([]model.Comment, int) {
	found := false
	canonicalPresent := false
	for i := range list {
		if list[i].Id == provisionalId {
			found = true
		}
		if list[i].Id == canonical.Id {
			canonicalPresent = true
		}
	}
	if !found {
		return nil, 0
	}
	next := make([]model.Comment, 0, len(list))
	dropped := 0
	for i := range list {
		switch {
		case list[i].Id == provisionalId && canonicalPresent:
			dropped++
		case list[i].Id == provisionalId:
			next = append(next, canonical)
		default:
			next = append(next, list[i])
		}
	}
	return next, dropped
}

func commentPresent(list []model.Comment, comment model.Comment) bool {
	for i := range list {
		if list[i].Id == comment.Id {
			return true
		}
		// The current viewer's own optimistic insert, still under its
		// provisional id: the fanned-out event for it must not double.
		if !comment.Provisional && list[i].Provisional &&
			list[i].Owner.Id == comment.Owner.Id && list[i].Content == comment.Content {
			return true
		}
	}
	return false
}

func dedupeSeedlets(seedlets []model.Seedlet) []model.Seedlet {
	seen := make(map[string]bool)
	next := make([]model.Seedlet, 0, len(seedlets))
	for i := range seedlets {
		if seen[seedlets[i].Id] {
			continue
		}
		seen[seedlets[i].Id] = true
		next = append(next, seedlets[i])
	}
	return next
}

func dedupeComments(comments []model.Comment) []model.Comment {
	seen := make(map[string]bool)
	next := make([]model.Comment, 0, len(comments))
	for i := range comments {
		if seen[comments[i].Id] {
			continue
		}
		seen[comments[i].Id] = true
		next = append(next, comments[i])
	}
	return next
}

func clampCount(count int) int {
	if count < 0 {
		return 0
	}
	return count
}
