package model

import "time"

/*

Comment is a discussion entry under a seedlet

Id: primary key, use to identify a comment
SeedletId: set iff this is a top level comment under a seedlet
ParentId: set iff this is a reply under another comment
		Exactly one of SeedletId / ParentId is non-empty. The tree is kept
		flat as parent pointer lookups, subtrees are fetched lazily per
		parent rather than materialized eagerly.
Owner: user who wrote the comment
Content: comment body in plain text

LikeCount / LikedByCurrentUser: same shape as on Seedlet
CommentCount: count of direct replies only, not recursive

Provisional:
		marks an optimistic local insert still waiting for server
		confirmation, carrying a client-generated id. Cache bookkeeping,
		never serialized.
*/
type Comment struct {
	Id                 string    `json:"id"`
	SeedletId          string    `json:"seedletId,omitempty"`
	ParentId           string    `json:"parentId,omitempty"`
	Owner              User      `json:"owner"`
	Content            string    `json:"content"`
	LikeCount          int       `json:"likeCount"`
	LikedByCurrentUser bool      `json:"likedByCurrentUser"`
	CommentCount       int       `json:"commentCount"`
	CreatedAt          time.Time `json:"createdAt"`

	Provisional bool `json:"-"`
}

// CanonicalComment is a server-confirmed comment, with the viewer flag as a
// pointer for the same reason as CanonicalSeedlet.
type CanonicalComment struct {
	Comment

	LikedByCurrentUser *bool `json:"likedByCurrentUser,omitempty"`
}

func (c CanonicalComment) Merge(local Comment) Comment {
	merged := c.Comment
	merged.LikedByCurrentUser = local.LikedByCurrentUser
	if c.LikedByCurrentUser != nil {
		merged.LikedByCurrentUser = *c.LikedByCurrentUser
	}
	return merged
}

func (c CanonicalComment) Resolve() Comment {
	comment := c.Comment
	if c.LikedByCurrentUser != nil {
		comment.LikedByCurrentUser = *c.LikedByCurrentUser
	}
	return comment
}
