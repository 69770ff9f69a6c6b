package fakeserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/seedlethq/fieldsync/model"
	Logger "github.com/seedlethq/fieldsync/utils/log"
)

// Identity headers standing in for real auth.
const (
	UserIdHeader   = "X-Seedlet-User"
	UsernameHeader = "X-Seedlet-Username"
)

type seedletRecord struct {
	seedlet    model.Seedlet
	likedBy    map[string]bool
	interests  map[string]string
	commentIds []string
}

type commentRecord struct {
	comment  model.Comment
	likedBy  map[string]bool
	replyIds []string
}

/*

Server is an in-process Seedlet backend for integration tests and local
development: the REST surface the client consumes plus a websocket /events
endpoint fanning out like/comment/interest/create events to every connected
client, the actor's own included. State lives in memory and is thrown away
with the server.
*/
type Server struct {
	mu        sync.Mutex
	seedlets  map[string]*seedletRecord
	feedOrder []string
	comments  map[string]*commentRecord

	// failWrites makes the next N write endpoints return a 500, for
	// exercising client-side rollback.
	failWrites int

	hub      *Hub
	upgrader websocket.Upgrader
}

func NewServer() *Server {
	return &Server{
		seedlets: make(map[string]*seedletRecord),
		comments: make(map[string]*commentRecord),
		hub:      NewHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the gin handler, ready for httptest.NewServer or ListenAndServe.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	router.GET("/ideas", s.listSeedlets)
	router.POST("/ideas", s.createSeedlet)
	router.GET("/ideas/:id", s.getSeedlet)
	router.PATCH("/ideas/:id", s.editSeedlet)
	router.POST("/ideas/:id/likes", s.toggleLike)
	router.POST("/ideas/:id/interests", s.setInterest)
	router.POST("/ideas/:id/comments", s.postComment)
	router.GET("/comments/:id", s.getReplies)
	router.POST("/comments/:id/replies", s.postReply)
	router.POST("/comments/:id/likes", s.toggleCommentLike)
	router.GET("/events", s.subscribeEvents)

	return router
}

// FailNextWrites makes the following n write requests fail with a 500, so
// tests can force the rollback path.
func (s *Server) FailNextWrites(n int) {
	s.mu.Lock()
	s.failWrites = n
	s.mu.Unlock()
}

// SeedSeedlet installs a seedlet as server truth, for test setup.
func (s *Server) SeedSeedlet(seedlet model.Seedlet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seedlets[seedlet.Id] = &seedletRecord{
		seedlet:   seedlet,
		likedBy:   make(map[string]bool),
		interests: make(map[string]string),
	}
	s.feedOrder = append([]string{seedlet.Id}, s.feedOrder...)
}

// Broadcast pushes an arbitrary event to all subscribers, so tests can
// simulate other users' interactions without driving the REST surface.
func (s *Server) Broadcast(event model.SeedletEvent) {
	s.hub.Broadcast(event)
}

// ActiveSubscribers reports how many push connections are live, so tests
// can wait for clients to finish subscribing before acting.
func (s *Server) ActiveSubscribers() int {
	return s.hub.GetActiveConnectionsCount()
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"statuscode": status,
		"message":    http.StatusText(status),
		"data":       data,
	})
}

func currentUser(c *gin.Context) model.User {
	return model.User{
		Id:       c.GetHeader(UserIdHeader),
		Username: c.GetHeader(UsernameHeader),
	}
}

// consumeFailure reports whether this write should be failed artificially.
func (s *Server) consumeFailure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites > 0 {
		s.failWrites--
		return true
	}
	return false
}

func (s *Server) canonical(record *seedletRecord, userId string) model.CanonicalSeedlet {
	liked := record.likedBy[userId]
	_, interested := record.interests[userId]
	interests := make([]model.Interest, 0, len(record.interests))
	for uid, role := range record.interests {
		interests = append(interests, model.Interest{UserId: uid, RoleInterestedIn: role})
	}
	seedlet := record.seedlet
	seedlet.Interests = interests
	return model.CanonicalSeedlet{
		Seedlet:                seedlet,
		LikedByCurrentUser:     &liked,
		CurrentUserHasInterest: &interested,
	}
}

func (s *Server) canonicalComment(record *commentRecord, userId string) model.CanonicalComment {
	liked := record.likedBy[userId]
	return model.CanonicalComment{
		Comment:            record.comment,
		LikedByCurrentUser: &liked,
	}
}

func (s *Server) listSeedlets(c *gin.Context) {
	user := currentUser(c)
	s.mu.Lock()
	feed := make([]model.CanonicalSeedlet, 0, len(s.feedOrder))
	for _, id := range s.feedOrder {
		feed = append(feed, s.canonical(s.seedlets[id], user.Id))
	}
	s.mu.Unlock()
	respond(c, http.StatusOK, feed)
}

func (s *Server) createSeedlet(c *gin.Context) {
	if s.consumeFailure() {
		respond(c, http.StatusInternalServerError, nil)
		return
	}
	var payload model.CreateSeedletPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respond(c, http.StatusBadRequest, nil)
		return
	}
	user := currentUser(c)

	s.mu.Lock()
	record := &seedletRecord{
		seedlet: model.Seedlet{
			Id:          uuid.New().String(),
			Owner:       user,
			Title:       payload.Title,
			Description: payload.Description,
			Tags:        model.NormalizeTags(payload.Tags),
			NeededRoles: payload.NeededRoles,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		},
		likedBy:   make(map[string]bool),
		interests: make(map[string]string),
	}
	s.seedlets[record.seedlet.Id] = record
	s.feedOrder = append([]string{record.seedlet.Id}, s.feedOrder...)
	canonical := s.canonical(record, user.Id)
	created := record.seedlet
	s.mu.Unlock()

	s.hub.Broadcast(model.SeedletEvent{
		Kind:    model.EventSeedletCreated,
		Ref:     model.RefSeedlet,
		Created: &created,
	})
	respond(c, http.StatusCreated, canonical)
}

func (s *Server) getSeedlet(c *gin.Context) {
	user := currentUser(c)
	s.mu.Lock()
	record, ok := s.seedlets[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil)
		return
	}
	comments := make([]model.CanonicalComment, 0, len(record.commentIds))
	for _, id := range record.commentIds {
		comments = append(comments, s.canonicalComment(s.comments[id], user.Id))
	}
	payload := gin.H{"idea": s.canonical(record, user.Id), "comments": comments}
	s.mu.Unlock()
	respond(c, http.StatusOK, payload)
}

func (s *Server) editSeedlet(c *gin.Context) {
	if s.consumeFailure() {
		respond(c, http.StatusInternalServerError, nil)
		return
	}
	var payload model.EditSeedletPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respond(c, http.StatusBadRequest, nil)
		return
	}
	user := currentUser(c)

	s.mu.Lock()
	record, ok := s.seedlets[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil)
		return
	}
	if payload.Title != nil {
		record.seedlet.Title = *payload.Title
	}
	if payload.Description != nil {
		record.seedlet.Description = *payload.Description
	}
	if payload.Tags != nil {
		record.seedlet.Tags = model.NormalizeTags(payload.Tags)
	}
	if payload.NeededRoles != nil {
		record.seedlet.NeededRoles = payload.NeededRoles
	}
	record.seedlet.UpdatedAt = time.Now()
	canonical := s.canonical(record, user.Id)
	s.mu.Unlock()

	respond(c, http.StatusOK, canonical)
}

func (s *Server) toggleLike(c *gin.Context) {
	if s.consumeFailure() {
		respond(c, http.StatusInternalServerError, nil)
		return
	}
	user := currentUser(c)

	s.mu.Lock()
	record, ok := s.seedlets[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil)
		return
	}
	liked := !record.likedBy[user.Id]
	if liked {
		record.likedBy[user.Id] = true
		record.seedlet.LikeCount++
	} else {
		delete(record.likedBy, user.Id)
		if record.seedlet.LikeCount > 0 {
			record.seedlet.LikeCount--
		}
	}
	canonical := s.canonical(record, user.Id)
	refId := record.seedlet.Id
	s.mu.Unlock()

	// The actor's sessions already hold the confirmed state. A like event is
	// a delta with no deduplicable id, so fanning it back would double count.
	s.hub.BroadcastExcept(model.SeedletEvent{
		Kind:  model.EventLikeChanged,
		Ref:   model.RefSeedlet,
		RefId: refId,
		Liked: &liked,
	}, user.Id)
	respond(c, http.StatusOK, canonical)
}

type interestBody struct {
	RoleInterestedIn string `json:"roleInterestedIn"`
}

func (s *Server) setInterest(c *gin.Context) {
	if s.consumeFailure() {
		respond(c, http.StatusInternalServerError, nil)
		return
	}
	var body interestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, nil)
		return
	}
	user := currentUser(c)

	s.mu.Lock()
	record, ok := s.seedlets[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil)
		return
	}
	if record.seedlet.Owner.Id == user.Id {
		s.mu.Unlock()
		respond(c, http.StatusForbidden, nil)
		return
	}
	if body.RoleInterestedIn == "" {
		delete(record.interests, user.Id)
	} else {
		record.interests[user.Id] = body.RoleInterestedIn
	}
	record.seedlet.InterestCount = len(record.interests)
	count := record.seedlet.InterestCount
	canonical := s.canonical(record, user.Id)
	refId := record.seedlet.Id
	s.mu.Unlock()

	s.hub.Broadcast(model.SeedletEvent{
		Kind:       model.EventInterestChanged,
		Ref:        model.RefSeedlet,
		RefId:      refId,
		Interested: &count,
	})
	respond(c, http.StatusOK, canonical)
}

type commentBody struct {
	Comment string `json:"comment"`
}

func (s *Server) postComment(c *gin.Context) {
	if s.consumeFailure() {
		respond(c, http.StatusInternalServerError, nil)
		return
	}
	var body commentBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Comment == "" {
		respond(c, http.StatusBadRequest, nil)
		return
	}
	user := currentUser(c)

	s.mu.Lock()
	record, ok := s.seedlets[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil)
		return
	}
	comment := &commentRecord{
		comment: model.Comment{
			Id:        uuid.New().String(),
			SeedletId: record.seedlet.Id,
			Owner:     user,
			Content:   body.Comment,
			CreatedAt: time.Now(),
		},
		likedBy: make(map[string]bool),
	}
	s.comments[comment.comment.Id] = comment
	record.commentIds = append([]string{comment.comment.Id}, record.commentIds...)
	record.seedlet.CommentCount++
	canonical := s.canonicalComment(comment, user.Id)
	reply := comment.comment
	refId := record.seedlet.Id
	s.mu.Unlock()

	s.hub.Broadcast(model.SeedletEvent{
		Kind:  model.EventCommentAdded,
		Ref:   model.RefSeedlet,
		RefId: refId,
		Reply: &reply,
	})
	respond(c, http.StatusCreated, canonical)
}

func (s *Server) getReplies(c *gin.Context) {
	user := currentUser(c)
	s.mu.Lock()
	record, ok := s.comments[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil)
		return
	}
	replies := make([]model.CanonicalComment, 0, len(record.replyIds))
	for _, id := range record.replyIds {
		replies = append(replies, s.canonicalComment(s.comments[id], user.Id))
	}
	s.mu.Unlock()
	respond(c, http.StatusOK, gin.H{"comments": replies})
}

type replyBody struct {
	Reply string `json:"reply"`
}

func (s *Server) postReply(c *gin.Context) {
	if s.consumeFailure() {
		respond(c, http.StatusInternalServerError, nil)
		return
	}
	var body replyBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Reply == "" {
		respond(c, http.StatusBadRequest, nil)
		return
	}
	user := currentUser(c)

	s.mu.Lock()
	parent, ok := s.comments[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil)
		return
	}
	reply := &commentRecord{
		comment: model.Comment{
			Id:        uuid.New().String(),
			ParentId:  parent.comment.Id,
			Owner:     user,
			Content:   body.Reply,
			CreatedAt: time.Now(),
		},
		likedBy: make(map[string]bool),
	}
	s.comments[reply.comment.Id] = reply
	parent.replyIds = append([]string{reply.comment.Id}, parent.replyIds...)
	parent.comment.CommentCount++
	canonical := s.canonicalComment(reply, user.Id)
	fanned := reply.comment
	refId := parent.comment.Id
	s.mu.Unlock()

	s.hub.Broadcast(model.SeedletEvent{
		Kind:  model.EventCommentAdded,
		Ref:   model.RefComment,
		RefId: refId,
		Reply: &fanned,
	})
	respond(c, http.StatusCreated, canonical)
}

func (s *Server) toggleCommentLike(c *gin.Context) {
	if s.consumeFailure() {
		respond(c, http.StatusInternalServerError, nil)
		return
	}
	user := currentUser(c)

	s.mu.Lock()
	record, ok := s.comments[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil)
		return
	}
	if record.likedBy[user.Id] {
		delete(record.likedBy, user.Id)
		if record.comment.LikeCount > 0 {
			record.comment.LikeCount--
		}
	} else {
		record.likedBy[user.Id] = true
		record.comment.LikeCount++
	}
	canonical := s.canonicalComment(record, user.Id)
	s.mu.Unlock()

	respond(c, http.StatusOK, canonical)
}

// subscribeEvents upgrades to a websocket and streams hub events as JSON
// frames until the client goes away.
func (s *Server) subscribeEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		Logger.Log.Warnf("fail to upgrade events connection: %v", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	events := s.hub.AddNewConnection(ctx, currentUser(c).Id)

	// Drain the read side so client closes are noticed.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readerDone:
			return
		case event := <-events:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
