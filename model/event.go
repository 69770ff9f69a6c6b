package model

import "github.com/pkg/errors"

// EventKind discriminates the push message union. The push stream is
// best-effort and at least once, so every consumer of these events has to be
// idempotent and tolerate reordering.
type EventKind string

const (
	EventLikeChanged     EventKind = "like"
	EventCommentAdded    EventKind = "comment"
	EventInterestChanged EventKind = "interest"
	EventSeedletCreated  EventKind = "create"
)

const (
	RefSeedlet = "idea"
	RefComment = "comment"
)

/*

SeedletEvent is one decoded push message, a tagged union discriminated by
Kind. Exactly one of the kind-specific payload fields is expected to be set:

	like:     RefId + Liked, the reported aggregate like state
	comment:  RefId + Reply, Ref tells whether RefId is a seedlet or a
	          parent comment
	interest: RefId + Interested, an authoritative absolute count
	create:   Created, the full new seedlet

Validation happens once at the push client boundary so malformed payloads
never reach the reconciler.
*/
type SeedletEvent struct {
	Kind       EventKind `json:"kind"`
	Ref        string    `json:"ref,omitempty"`
	RefId      string    `json:"refId,omitempty"`
	Liked      *bool     `json:"liked,omitempty"`
	Reply      *Comment  `json:"reply,omitempty"`
	Interested *int      `json:"interested,omitempty"`
	Created    *Seedlet  `json:"created,omitempty"`
}

func (e *SeedletEvent) Validate() error {
	switch e.Kind {
	case EventLikeChanged:
		if e.RefId == "" || e.Liked == nil {
			return errors.New("like event missing refId or liked")
		}
	case EventCommentAdded:
		if e.RefId == "" || e.Reply == nil || e.Reply.Id == "" {
			return errors.New("comment event missing refId or reply")
		}
		if e.Ref != RefSeedlet && e.Ref != RefComment {
			return errors.Errorf("comment event has unknown ref %q", e.Ref)
		}
	case EventInterestChanged:
		if e.RefId == "" || e.Interested == nil {
			return errors.New("interest event missing refId or interested")
		}
		if *e.Interested < 0 {
			return errors.Errorf("interest event reports negative count %d", *e.Interested)
		}
	case EventSeedletCreated:
		if e.Created == nil || e.Created.Id == "" {
			return errors.New("create event missing created seedlet")
		}
	default:
		return errors.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}
