package model

import (
	"strings"
	"time"
)

/*

Seedlet is a posted project idea, the root social object of the platform

Id: primary key, use to identify a seedlet
Owner: user who posted the seedlet, immutable after creation
Title: seedlet's display title in plain text
Description: seedlet's long-form description in plain text
Tags: 2-4 unique case-normalized labels
NeededRoles: ordered list of free-text role labels the owner is looking for

LikeCount / CommentCount / InterestCount:
		three independent interaction aggregates, never negative.
		CommentCount counts top level comments only, replies are counted on
		their parent comment.
LikedByCurrentUser: whether the current viewer has liked this seedlet
CurrentUserHasInterest: whether the current viewer has a live interest
Interests: join facts between users and this seedlet, at most one per user

ReportedLiked:
		last like state reported by the push stream for this seedlet. Like
		events fan out some user's action, so the count adjustment has to be
		derived against this aggregate state rather than against the viewer's
		own flag. Cache bookkeeping, never serialized.
*/
type Seedlet struct {
	Id                     string     `json:"id"`
	Owner                  User       `json:"owner"`
	Title                  string     `json:"title"`
	Description            string     `json:"description"`
	Tags                   []string   `json:"tags"`
	NeededRoles            []string   `json:"neededRoles"`
	LikeCount              int        `json:"likeCount"`
	CommentCount           int        `json:"commentCount"`
	InterestCount          int        `json:"interestCount"`
	LikedByCurrentUser     bool       `json:"likedByCurrentUser"`
	CurrentUserHasInterest bool       `json:"currentUserHasInterest"`
	Interests              []Interest `json:"interests"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`

	ReportedLiked bool `json:"-"`
}

// Interest is a join fact between a user and a seedlet carrying the chosen
// role. An empty RoleInterestedIn denotes withdrawal and is never stored.
type Interest struct {
	UserId           string `json:"userId"`
	RoleInterestedIn string `json:"roleInterestedIn"`
}

// CanonicalSeedlet is a server-confirmed seedlet. The viewer flags are
// pointers because the server may be silent about them, and a confirmation
// must never clobber a flag the server did not actually report.
type CanonicalSeedlet struct {
	Seedlet

	LikedByCurrentUser     *bool `json:"likedByCurrentUser,omitempty"`
	CurrentUserHasInterest *bool `json:"currentUserHasInterest,omitempty"`
}

// Merge folds the canonical record into the locally cached one. Counts and
// content are taken from the server, viewer-specific flags only when the
// server reported them.
func (c CanonicalSeedlet) Merge(local Seedlet) Seedlet {
	merged := c.Seedlet
	merged.LikedByCurrentUser = local.LikedByCurrentUser
	merged.CurrentUserHasInterest = local.CurrentUserHasInterest
	merged.ReportedLiked = local.ReportedLiked
	if c.LikedByCurrentUser != nil {
		merged.LikedByCurrentUser = *c.LikedByCurrentUser
	}
	if c.CurrentUserHasInterest != nil {
		merged.CurrentUserHasInterest = *c.CurrentUserHasInterest
	}
	if merged.Interests == nil {
		merged.Interests = local.Interests
	}
	return merged
}

// Resolve returns the plain seedlet with unreported viewer flags defaulted
// to false, for contexts where there is no local record to merge against.
func (c CanonicalSeedlet) Resolve() Seedlet {
	s := c.Seedlet
	if c.LikedByCurrentUser != nil {
		s.LikedByCurrentUser = *c.LikedByCurrentUser
	}
	if c.CurrentUserHasInterest != nil {
		s.CurrentUserHasInterest = *c.CurrentUserHasInterest
	}
	return s
}

// CreateSeedletPayload is the submission shape for a new seedlet.
type CreateSeedletPayload struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	NeededRoles []string `json:"neededRoles"`
}

// EditSeedletPayload carries a partial update. Nil fields are unchanged.
type EditSeedletPayload struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	NeededRoles []string `json:"neededRoles,omitempty"`
}

// NormalizeTags lowercases tags and drops duplicates preserving order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool)
	normalized := []string{}
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		normalized = append(normalized, t)
	}
	return normalized
}
