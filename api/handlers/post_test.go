package handlers_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/api/handlers"
	"github.com/civix/civix-api/databases/mocks"
	"github.com/civix/civix-api/models"
)

type escalation struct {
	issue primitive.ObjectID
	net   int
}

type fakeEscalator struct {
	calls []escalation
}

func (f *fakeEscalator) EscalatePriority(ctx context.Context, issueID primitive.ObjectID, netVotes int) (bool, error) {
	f.calls = append(f.calls, escalation{issueID, netVotes})
	return netVotes >= 10, nil
}

type postFixture struct {
	posts    *mocks.PostDatabase
	comments *mocks.CommentDatabase
	users    *mocks.UserDatabase
	notes    *notified
	esc      *fakeEscalator
	h        handlers.Post
}

func newPostFixture() *postFixture {
	f := &postFixture{
		posts:    &mocks.PostDatabase{},
		comments: &mocks.CommentDatabase{},
		users:    &mocks.UserDatabase{},
		notes:    &notified{},
		esc:      &fakeEscalator{},
	}
	f.h = handlers.Post{DB: f.posts, CDB: f.comments, UDB: f.users, Notifier: f.notes, Issues: f.esc}
	return f
}

func TestPost_CreatePostRequiresContent(t *testing.T) {
	f := newPostFixture()
	caller, _ := citizen()

	rr := serve(f.h.CreatePostHandler, newRequest("POST", "/api/posts", `{"content":"  "}`, caller, nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	f.posts.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestPost_CreatePost(t *testing.T) {
	f := newPostFixture()
	caller, uid := citizen()
	issueID := primitive.NewObjectID()

	f.posts.On("InsertOne", mock.Anything, mock.MatchedBy(func(p models.Post) bool {
		return p.Author == uid && p.LinkedIssue != nil && *p.LinkedIssue == issueID && p.Type == models.PostTypePost
	})).Return(nil, nil)
	f.users.On("Find", mock.Anything, mock.Anything).Return([]models.User{{ID: uid, Name: "Ana"}}, nil)

	body := `{"content":"Streetlight out again","linkedIssue":"` + issueID.Hex() + `"}`
	rr := serve(f.h.CreatePostHandler, newRequest("POST", "/api/posts", body, caller, nil))

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var got struct {
		Content string `json:"content"`
		Author  struct {
			Name string `json:"name"`
		} `json:"author"`
	}
	decodeJSON(t, rr, &got)
	assert.Equal(t, "Streetlight out again", got.Content)
	assert.Equal(t, "Ana", got.Author.Name)
}

func TestPost_DeleteByStranger(t *testing.T) {
	f := newPostFixture()
	caller, _ := citizen()
	postID := primitive.NewObjectID()
	f.posts.On("FindOne", mock.Anything, bson.M{"_id": postID}).Return(&models.Post{ID: postID, Author: primitive.NewObjectID()}, nil)

	rr := serve(f.h.DeletePostHandler, newRequest("DELETE", "/api/posts/x", "", caller, map[string]string{"id": postID.Hex()}))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "Not authorized to delete this post", errorMessage(t, rr))
	f.posts.AssertNotCalled(t, "DeleteOne", mock.Anything, mock.Anything)
}

func TestPost_DeleteByAdminRemovesComments(t *testing.T) {
	f := newPostFixture()
	postID := primitive.NewObjectID()
	admin := &api.Identity{UserID: primitive.NewObjectID().Hex(), Role: models.RoleAdmin}
	f.posts.On("FindOne", mock.Anything, bson.M{"_id": postID}).Return(&models.Post{ID: postID, Author: primitive.NewObjectID()}, nil)
	f.posts.On("DeleteOne", mock.Anything, bson.M{"_id": postID}).Return(int64(1), nil)
	f.comments.On("DeleteMany", mock.Anything, bson.M{"post": postID}).Return(int64(3), nil)

	rr := serve(f.h.DeletePostHandler, newRequest("DELETE", "/api/posts/x", "", admin, map[string]string{"id": postID.Hex()}))

	assert.Equal(t, http.StatusOK, rr.Code)
	f.comments.AssertExpectations(t)
}

func TestPost_LikeToggles(t *testing.T) {
	f := newPostFixture()
	caller, uid := citizen()
	postID := primitive.NewObjectID()
	f.posts.On("FindOne", mock.Anything, bson.M{"_id": postID}).Return(&models.Post{ID: postID, Likes: []primitive.ObjectID{uid}}, nil)
	f.posts.On("FindOneAndUpdate", mock.Anything, bson.M{"_id": postID}, mock.MatchedBy(func(u bson.M) bool {
		pull, ok := u["$pull"].(bson.M)
		return ok && pull["likes"] == uid
	})).Return(&models.Post{ID: postID, Likes: []primitive.ObjectID{}}, nil)

	rr := serve(f.h.LikePostHandler, newRequest("PUT", "/api/posts/x/like", "", caller, map[string]string{"id": postID.Hex()}))

	assert.Equal(t, http.StatusOK, rr.Code)
	f.posts.AssertExpectations(t)
}

func TestPost_UpvoteEscalatesLinkedIssue(t *testing.T) {
	f := newPostFixture()
	caller, uid := citizen()
	postID, issueID := primitive.NewObjectID(), primitive.NewObjectID()

	voters := make([]primitive.ObjectID, 10)
	for i := range voters {
		voters[i] = primitive.NewObjectID()
	}
	f.posts.On("FindOne", mock.Anything, bson.M{"_id": postID}).Return(&models.Post{ID: postID, LinkedIssue: &issueID, Upvotes: voters[:9]}, nil)
	f.posts.On("FindOneAndUpdate", mock.Anything, bson.M{"_id": postID}, mock.MatchedBy(func(u bson.M) bool {
		add, ok := u["$addToSet"].(bson.M)
		return ok && add["upvotes"] == uid
	})).Return(&models.Post{ID: postID, LinkedIssue: &issueID, Upvotes: voters}, nil)

	rr := serve(f.h.UpvotePostHandler, newRequest("PUT", "/api/posts/x/upvote", "", caller, map[string]string{"id": postID.Hex()}))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, f.esc.calls, 1)
	assert.Equal(t, escalation{issueID, 10}, f.esc.calls[0])
}

func TestPost_DownvoteDoesNotEscalate(t *testing.T) {
	f := newPostFixture()
	caller, _ := citizen()
	postID, issueID := primitive.NewObjectID(), primitive.NewObjectID()
	f.posts.On("FindOne", mock.Anything, bson.M{"_id": postID}).Return(&models.Post{ID: postID, LinkedIssue: &issueID}, nil)
	f.posts.On("FindOneAndUpdate", mock.Anything, bson.M{"_id": postID}, mock.Anything).Return(&models.Post{ID: postID, LinkedIssue: &issueID}, nil)

	rr := serve(f.h.DownvotePostHandler, newRequest("PUT", "/api/posts/x/downvote", "", caller, map[string]string{"id": postID.Hex()}))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, f.esc.calls)
}

func TestPost_ReplyNotifiesPostAndParentAuthors(t *testing.T) {
	f := newPostFixture()
	caller, _ := citizen()
	postAuthor, parentAuthor := primitive.NewObjectID(), primitive.NewObjectID()
	postID, parentID := primitive.NewObjectID(), primitive.NewObjectID()

	f.posts.On("FindOne", mock.Anything, bson.M{"_id": postID}).Return(&models.Post{ID: postID, Author: postAuthor}, nil)
	f.comments.On("FindOne", mock.Anything, bson.M{"_id": parentID, "post": postID}).Return(&models.Comment{ID: parentID, Author: parentAuthor, Post: postID}, nil)
	f.comments.On("InsertOne", mock.Anything, mock.MatchedBy(func(c models.Comment) bool {
		return c.ParentComment != nil && *c.ParentComment == parentID && c.Content == "Same on my street"
	})).Return(nil, nil)

	body := `{"text":"Same on my street","parentCommentId":"` + parentID.Hex() + `"}`
	rr := serve(f.h.AddCommentHandler, newRequest("POST", "/api/posts/x/comments", body, caller, map[string]string{"id": postID.Hex()}))

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, []string{"New Comment", "New Reply"}, f.notes.titles())
	assert.Equal(t, "Ana commented on your post", f.notes.sent[0].Message)
	assert.Equal(t, parentAuthor.Hex(), f.notes.sent[1].Recipient)
}

func TestPost_CommentOnOwnPostIsSilent(t *testing.T) {
	f := newPostFixture()
	caller, uid := citizen()
	postID := primitive.NewObjectID()
	f.posts.On("FindOne", mock.Anything, bson.M{"_id": postID}).Return(&models.Post{ID: postID, Author: uid}, nil)
	f.comments.On("InsertOne", mock.Anything, mock.Anything).Return(nil, nil)

	rr := serve(f.h.AddCommentHandler, newRequest("POST", "/api/posts/x/comments", `{"text":"update: fixed"}`, caller, map[string]string{"id": postID.Hex()}))

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Empty(t, f.notes.titles())
}

func TestPost_CommentsShortThreadOldestFirst(t *testing.T) {
	f := newPostFixture()
	postID := primitive.NewObjectID()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := models.Comment{ID: primitive.NewObjectID(), Content: "first", Post: postID, CreatedAt: t0}
	second := models.Comment{ID: primitive.NewObjectID(), Content: "second", Post: postID, CreatedAt: t0.Add(time.Minute),
		Likes: []primitive.ObjectID{primitive.NewObjectID(), primitive.NewObjectID()}}
	f.comments.On("Find", mock.Anything, bson.M{"post": postID}).Return([]models.Comment{second, first}, nil)
	f.users.On("Find", mock.Anything, mock.Anything).Return([]models.User{}, nil)

	rr := serve(f.h.CommentsHandler, newRequest("GET", "/api/posts/x/comments", "", nil, map[string]string{"id": postID.Hex()}))

	require.Equal(t, http.StatusOK, rr.Code)
	var got []struct {
		Content string `json:"content"`
	}
	decodeJSON(t, rr, &got)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Content)
}

func TestPost_CommentsLongThreadByEngagement(t *testing.T) {
	f := newPostFixture()
	postID := primitive.NewObjectID()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	popular := models.Comment{ID: primitive.NewObjectID(), Content: "popular", Post: postID, CreatedAt: t0,
		Likes: []primitive.ObjectID{primitive.NewObjectID()}}
	reply1 := models.Comment{ID: primitive.NewObjectID(), Content: "reply1", Post: postID, ParentComment: &popular.ID, CreatedAt: t0.Add(time.Minute)}
	reply2 := models.Comment{ID: primitive.NewObjectID(), Content: "reply2", Post: postID, ParentComment: &popular.ID, CreatedAt: t0.Add(2 * time.Minute)}
	quiet := models.Comment{ID: primitive.NewObjectID(), Content: "quiet", Post: postID, CreatedAt: t0.Add(3 * time.Minute)}
	f.comments.On("Find", mock.Anything, bson.M{"post": postID}).Return([]models.Comment{quiet, reply2, reply1, popular}, nil)
	f.users.On("Find", mock.Anything, mock.Anything).Return([]models.User{}, nil)

	rr := serve(f.h.CommentsHandler, newRequest("GET", "/api/posts/x/comments", "", nil, map[string]string{"id": postID.Hex()}))

	require.Equal(t, http.StatusOK, rr.Code)
	var got []struct {
		Content         string `json:"content"`
		ReplyCount      int    `json:"replyCount"`
		EngagementScore int    `json:"engagementScore"`
	}
	decodeJSON(t, rr, &got)
	require.Len(t, got, 4)
	assert.Equal(t, "popular", got[0].Content)
	assert.Equal(t, 2, got[0].ReplyCount)
	assert.Equal(t, 3, got[0].EngagementScore)
	// equal scores fall back to newest first
	assert.Equal(t, []string{"quiet", "reply2", "reply1"}, []string{got[1].Content, got[2].Content, got[3].Content})
}

func TestPost_LikeCommentNotifiesAuthor(t *testing.T) {
	f := newPostFixture()
	caller, _ := citizen()
	commentID, author := primitive.NewObjectID(), primitive.NewObjectID()
	f.comments.On("FindOne", mock.Anything, bson.M{"_id": commentID}).Return(&models.Comment{ID: commentID, Author: author}, nil)
	f.comments.On("FindOneAndUpdate", mock.Anything, bson.M{"_id": commentID}, mock.Anything).Return(&models.Comment{ID: commentID, Author: author}, nil)

	rr := serve(f.h.LikeCommentHandler, newRequest("PUT", "/api/comments/x/like", "", caller, map[string]string{"id": commentID.Hex()}))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"Comment Liked"}, f.notes.titles())
}

func TestPost_LikeMissingComment(t *testing.T) {
	f := newPostFixture()
	caller, _ := citizen()
	commentID := primitive.NewObjectID()
	f.comments.On("FindOne", mock.Anything, bson.M{"_id": commentID}).Return(nil, mongo.ErrNoDocuments)

	rr := serve(f.h.LikeCommentHandler, newRequest("PUT", "/api/comments/x/like", "", caller, map[string]string{"id": commentID.Hex()}))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
