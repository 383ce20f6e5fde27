package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/lifecycle"
	"github.com/civix/civix-api/models"
)

// engagement sorting kicks in once a post has more comments than this
const engagementSortThreshold = 3

// Escalator raises an issue's priority from the votes on its linked post
type Escalator interface {
	EscalatePriority(ctx context.Context, issueID primitive.ObjectID, netVotes int) (bool, error)
}

// Post exported for testing purposes
type Post struct {
	DB       databases.PostDatabase
	CDB      databases.CommentDatabase
	UDB      databases.UserDatabase
	Notifier lifecycle.Notifier
	Issues   Escalator
}

type authorView struct {
	ID                primitive.ObjectID `json:"_id"`
	Name              string             `json:"name"`
	ProfilePictureURL string             `json:"profilePictureUrl,omitempty"`
	Role              models.Role        `json:"role,omitempty"`
}

type postView struct {
	models.Post
	Author   authorView `json:"author"`
	NetVotes int        `json:"netVotes"`
}

type commentView struct {
	models.Comment
	Author          authorView `json:"author"`
	ReplyCount      int        `json:"replyCount"`
	EngagementScore int        `json:"engagementScore"`
}

type createPostRequest struct {
	Content     string `json:"content"`
	Image       string `json:"image"`
	LinkedIssue string `json:"linkedIssue"`
}

// CreatePostHandler publishes a community post
func (p Post) CreatePostHandler(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := callerAccount(w, r)
	if !ok {
		return
	}
	var req createPostRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" && req.Image == "" {
		config.ErrorStatus("Post content required", http.StatusBadRequest, w, errors.New("empty post"))
		return
	}

	now := time.Now().UTC()
	post := models.Post{
		ID:        primitive.NewObjectID(),
		Content:   req.Content,
		Image:     req.Image,
		Author:    userID,
		Type:      models.PostTypePost,
		Likes:     []primitive.ObjectID{},
		Upvotes:   []primitive.ObjectID{},
		Downvotes: []primitive.ObjectID{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.LinkedIssue != "" {
		issueID, err := primitive.ObjectIDFromHex(req.LinkedIssue)
		if err != nil {
			config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
			return
		}
		post.LinkedIssue = &issueID
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	if _, err := p.DB.InsertOne(ctx, post); err != nil {
		config.ErrorStatus("Failed to create post", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p.viewPosts(ctx, []models.Post{post})[0])
}

// FeedHandler returns every post, newest first
func (p Post) FeedHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	posts, err := p.DB.Find(ctx, bson.M{}, databases.Paginate(queryInt(r, "limit", 50), queryInt(r, "page", 1)))
	if err != nil {
		config.ErrorStatus("Failed to fetch feed", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.viewPosts(ctx, posts))
}

// UserPostsHandler returns one user's posts. Without a userId query it returns the caller's.
func (p Post) UserPostsHandler(w http.ResponseWriter, r *http.Request) {
	var author primitive.ObjectID
	if q := r.URL.Query().Get("userId"); q != "" {
		oid, err := primitive.ObjectIDFromHex(q)
		if err != nil {
			config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
			return
		}
		author = oid
	} else {
		_, oid, ok := callerAccount(w, r)
		if !ok {
			return
		}
		author = oid
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	posts, err := p.DB.Find(ctx, bson.M{"author": author}, opts)
	if err != nil {
		config.ErrorStatus("Failed to fetch posts", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.viewPosts(ctx, posts))
}

// DeletePostHandler removes a post and its comments. Only the author or an admin may.
func (p Post) DeletePostHandler(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	caller, userID, ok := callerAccount(w, r)
	if !ok {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	post, ok := p.loadPost(ctx, w, postID)
	if !ok {
		return
	}
	if post.Author != userID && caller.Role != models.RoleAdmin {
		config.ErrorStatus("Not authorized to delete this post", http.StatusForbidden, w, errors.New("not post author"))
		return
	}
	if _, err := p.DB.DeleteOne(ctx, bson.M{"_id": postID}); err != nil {
		config.ErrorStatus("Failed to delete post", http.StatusInternalServerError, w, err)
		return
	}
	if _, err := p.CDB.DeleteMany(ctx, bson.M{"post": postID}); err != nil {
		zap.S().Warnw("failed to delete comments of post", "postId", postID.Hex(), "error", err)
	}
	writeMessage(w, http.StatusOK, "Post deleted successfully")
}

// LikePostHandler toggles the caller's like
func (p Post) LikePostHandler(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	_, userID, ok := callerAccount(w, r)
	if !ok {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	post, ok := p.loadPost(ctx, w, postID)
	if !ok {
		return
	}
	update := bson.M{"$addToSet": bson.M{"likes": userID}}
	if containsID(post.Likes, userID) {
		update = bson.M{"$pull": bson.M{"likes": userID}}
	}
	updated, err := p.apply(ctx, postID, update)
	if err != nil {
		config.ErrorStatus("Like failed", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// UpvotePostHandler toggles the caller's upvote
func (p Post) UpvotePostHandler(w http.ResponseWriter, r *http.Request) {
	p.vote(w, r, true)
}

// DownvotePostHandler toggles the caller's downvote
func (p Post) DownvotePostHandler(w http.ResponseWriter, r *http.Request) {
	p.vote(w, r, false)
}

// vote toggles a vote and lets a well supported post escalate its linked issue
func (p Post) vote(w http.ResponseWriter, r *http.Request, up bool) {
	postID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	_, userID, ok := callerAccount(w, r)
	if !ok {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	post, ok := p.loadPost(ctx, w, postID)
	if !ok {
		return
	}
	mine, other, voted := "upvotes", "downvotes", post.Upvotes
	if !up {
		mine, other, voted = "downvotes", "upvotes", post.Downvotes
	}
	update := bson.M{"$addToSet": bson.M{mine: userID}, "$pull": bson.M{other: userID}}
	if containsID(voted, userID) {
		update = bson.M{"$pull": bson.M{mine: userID}}
	}
	updated, err := p.apply(ctx, postID, update)
	if err != nil {
		config.ErrorStatus("Vote failed", http.StatusInternalServerError, w, err)
		return
	}

	if up && updated.LinkedIssue != nil && p.Issues != nil {
		escalated, err := p.Issues.EscalatePriority(ctx, *updated.LinkedIssue, updated.NetVotes())
		if err != nil {
			zap.S().Warnw("failed to escalate linked issue", "issueId", updated.LinkedIssue.Hex(), "error", err)
		} else if escalated {
			zap.S().Infow("issue escalated by community votes", "issueId", updated.LinkedIssue.Hex(), "netVotes", updated.NetVotes())
		}
	}
	writeJSON(w, http.StatusOK, postView{Post: *updated, Author: authorView{ID: updated.Author}, NetVotes: updated.NetVotes()})
}

type commentRequest struct {
	Text            string `json:"text"`
	ParentCommentID string `json:"parentCommentId"`
}

// AddCommentHandler comments on a post, optionally as a reply to another comment
func (p Post) AddCommentHandler(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	caller, userID, ok := callerAccount(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		config.ErrorStatus("Comment content required", http.StatusBadRequest, w, errors.New("empty comment"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	post, ok := p.loadPost(ctx, w, postID)
	if !ok {
		return
	}
	comment := models.Comment{
		ID:        primitive.NewObjectID(),
		Content:   req.Text,
		Author:    userID,
		Post:      postID,
		Likes:     []primitive.ObjectID{},
		CreatedAt: time.Now().UTC(),
	}
	var parent *models.Comment
	if req.ParentCommentID != "" {
		parentID, err := primitive.ObjectIDFromHex(req.ParentCommentID)
		if err != nil {
			config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
			return
		}
		parent, err = p.CDB.FindOne(ctx, bson.M{"_id": parentID, "post": postID})
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("Parent comment not found", http.StatusNotFound, w, err)
			return
		}
		if err != nil {
			config.ErrorStatus("failed to get parent comment", http.StatusInternalServerError, w, err)
			return
		}
		comment.ParentComment = &parentID
	}

	if _, err := p.CDB.InsertOne(ctx, comment); err != nil {
		config.ErrorStatus("Failed to add comment", http.StatusInternalServerError, w, err)
		return
	}

	name := displayName(caller)
	if post.Author != userID {
		p.notify(ctx, post.Author, "New Comment", fmt.Sprintf("%s commented on your post", name), postID)
	}
	if parent != nil && parent.Author != userID && parent.Author != post.Author {
		p.notify(ctx, parent.Author, "New Reply", fmt.Sprintf("%s replied to your comment", name), postID)
	}

	view := commentView{Comment: comment, Author: authorView{ID: userID, Name: name, Role: caller.Role}}
	writeJSON(w, http.StatusCreated, view)
}

// CommentsHandler lists a post's comments. Short threads read oldest first; longer
// ones put the most engaging comments on top.
func (p Post) CommentsHandler(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	comments, err := p.CDB.Find(ctx, bson.M{"post": postID})
	if err != nil {
		config.ErrorStatus("Failed to fetch comments", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, rankComments(comments, p.authors(ctx, commentAuthors(comments))))
}

// LikeCommentHandler toggles the caller's like on a comment
func (p Post) LikeCommentHandler(w http.ResponseWriter, r *http.Request) {
	commentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	caller, userID, ok := callerAccount(w, r)
	if !ok {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	comment, err := p.CDB.FindOne(ctx, bson.M{"_id": commentID})
	if errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("Comment not found", http.StatusNotFound, w, err)
		return
	}
	if err != nil {
		config.ErrorStatus("failed to get comment", http.StatusInternalServerError, w, err)
		return
	}

	liked := containsID(comment.Likes, userID)
	update := bson.M{"$addToSet": bson.M{"likes": userID}}
	if liked {
		update = bson.M{"$pull": bson.M{"likes": userID}}
	}
	after := options.After
	updated, err := p.CDB.FindOneAndUpdate(ctx, bson.M{"_id": commentID}, update, &options.FindOneAndUpdateOptions{ReturnDocument: &after})
	if err != nil {
		config.ErrorStatus("Like failed", http.StatusInternalServerError, w, err)
		return
	}
	if !liked && comment.Author != userID {
		p.notify(ctx, comment.Author, "Comment Liked", fmt.Sprintf("%s liked your comment", displayName(caller)), comment.Post)
	}
	writeJSON(w, http.StatusOK, updated)
}

func (p Post) loadPost(ctx context.Context, w http.ResponseWriter, id primitive.ObjectID) (*models.Post, bool) {
	post, err := p.DB.FindOne(ctx, bson.M{"_id": id})
	if errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("Post not found", http.StatusNotFound, w, err)
		return nil, false
	}
	if err != nil {
		config.ErrorStatus("failed to get post", http.StatusInternalServerError, w, err)
		return nil, false
	}
	return post, true
}

func (p Post) apply(ctx context.Context, id primitive.ObjectID, update bson.M) (*models.Post, error) {
	update["$set"] = bson.M{"updatedAt": time.Now().UTC()}
	after := options.After
	return p.DB.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, &options.FindOneAndUpdateOptions{ReturnDocument: &after})
}

func (p Post) notify(ctx context.Context, recipient primitive.ObjectID, title, message string, related primitive.ObjectID) {
	if p.Notifier == nil {
		return
	}
	err := p.Notifier.Notify(ctx, models.Notification{
		Recipient: recipient.Hex(),
		Title:     title,
		Message:   message,
		Type:      models.NotificationInfo,
		RelatedID: &related,
	})
	if err != nil {
		zap.S().Warnw("failed to create notification", "recipient", recipient.Hex(), "title", title, "error", err)
	}
}

func (p Post) viewPosts(ctx context.Context, posts []models.Post) []postView {
	ids := make([]primitive.ObjectID, 0, len(posts))
	for _, post := range posts {
		ids = append(ids, post.Author)
	}
	authors := p.authors(ctx, ids)
	out := make([]postView, 0, len(posts))
	for _, post := range posts {
		a, ok := authors[post.Author]
		if !ok {
			a = authorView{ID: post.Author}
		}
		out = append(out, postView{Post: post, Author: a, NetVotes: post.NetVotes()})
	}
	return out
}

// authors loads the public profile of each id. Failures leave the map short
// rather than failing the listing.
func (p Post) authors(ctx context.Context, ids []primitive.ObjectID) map[primitive.ObjectID]authorView {
	out := map[primitive.ObjectID]authorView{}
	if len(ids) == 0 || p.UDB == nil {
		return out
	}
	opts := options.Find().SetProjection(bson.M{"name": 1, "profilePictureUrl": 1, "role": 1})
	users, err := p.UDB.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		zap.S().Warnw("failed to load authors", "error", err)
		return out
	}
	for _, u := range users {
		out[u.ID] = authorView{ID: u.ID, Name: u.Name, ProfilePictureURL: u.ProfilePictureURL, Role: u.Role}
	}
	return out
}

func commentAuthors(comments []models.Comment) []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(comments))
	for _, c := range comments {
		ids = append(ids, c.Author)
	}
	return ids
}

func rankComments(comments []models.Comment, authors map[primitive.ObjectID]authorView) []commentView {
	replies := map[primitive.ObjectID]int{}
	for _, c := range comments {
		if c.ParentComment != nil {
			replies[*c.ParentComment]++
		}
	}
	out := make([]commentView, 0, len(comments))
	for _, c := range comments {
		a, ok := authors[c.Author]
		if !ok {
			a = authorView{ID: c.Author}
		}
		n := replies[c.ID]
		out = append(out, commentView{Comment: c, Author: a, ReplyCount: n, EngagementScore: len(c.Likes) + n})
	}

	if len(out) > engagementSortThreshold {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].EngagementScore != out[j].EngagementScore {
				return out[i].EngagementScore > out[j].EngagementScore
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	}
	return out
}

func displayName(id api.Identity) string {
	switch {
	case id.Name != "":
		return id.Name
	case id.Email != "":
		return strings.Split(id.Email, "@")[0]
	}
	return "Someone"
}
