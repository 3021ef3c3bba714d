package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/martinpagelaws/simpleposts/pkg/action"
	"github.com/martinpagelaws/simpleposts/pkg/audit"
	"github.com/martinpagelaws/simpleposts/pkg/authz"
	"github.com/martinpagelaws/simpleposts/pkg/httpx"
	"github.com/martinpagelaws/simpleposts/pkg/identity"
	"github.com/martinpagelaws/simpleposts/pkg/poststore"
	"github.com/martinpagelaws/simpleposts/pkg/stream"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Swappable so tests can prove identity handling never runs for unknown routes.
var extractIdentity = identity.FromBearer

// handle runs the fixed request pipeline for one resolved action: identity,
// optional resource load, permission check, then the store operation. Each
// stage either passes or terminates the request; no stage runs out of order.
func (s *Server) handle(act action.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ident, err := extractIdentity(r.Header.Get("Authorization"))
		if err != nil {
			httpx.Message(w, http.StatusUnauthorized, "Invalid or missing credentials")
			return
		}
		idToken := strings.TrimSpace(r.Header.Get("idtoken"))
		if idToken == "" {
			httpx.Message(w, http.StatusUnauthorized, "Invalid or missing credentials")
			return
		}

		// Resource-scoped actions load the post first so the permission query
		// can carry the real owner. A missing post terminates here, before
		// any policy evaluation.
		var post *poststore.Post
		if act.RequiresResource() {
			loaded, err := s.Posts.GetByID(ctx, chi.URLParam(r, "postId"))
			if errors.Is(err, poststore.ErrNotFound) {
				httpx.Message(w, http.StatusBadRequest, "Invalid input, item does not exist")
				return
			}
			if err != nil {
				log.Printf("gateway: load post: %v", err)
				httpx.Message(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			post = &loaded
		}

		decision := s.Authz.Authorize(ctx, idToken, act, post)
		s.recordDecision(ctx, ident, act, post, decision)
		if decision != authz.Allow {
			httpx.Message(w, http.StatusUnauthorized, "Access denied - permission check failed")
			return
		}

		s.Metrics.IncAction(act.String())
		switch act {
		case action.GetAllPosts:
			s.listAllPosts(w, r)
		case action.GetUserPosts:
			s.listUserPosts(w, r, ident)
		case action.CreatePost:
			s.createPost(w, r, ident)
		case action.DeletePost:
			s.deletePost(w, r, post)
		default:
			unknownAPICall(w, r)
		}
	}
}

func (s *Server) listAllPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.Posts.ListAll(r.Context())
	if err != nil {
		log.Printf("gateway: list posts: %v", err)
		httpx.Message(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, posts)
}

// listUserPosts filters by the author query parameter, defaulting to the
// caller's own author handle.
func (s *Server) listUserPosts(w http.ResponseWriter, r *http.Request, ident identity.Identity) {
	author := r.URL.Query().Get("author")
	if author == "" {
		author = ident.Author
	}
	posts, err := s.Posts.ListByAuthor(r.Context(), author)
	if err != nil {
		log.Printf("gateway: list posts by author: %v", err)
		httpx.Message(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, posts)
}

type createPostRequest struct {
	Text string `json:"text"`
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request, ident identity.Identity) {
	var req createPostRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if strings.TrimSpace(req.Text) == "" {
		httpx.Message(w, http.StatusBadRequest, "Invalid input, text required.")
		return
	}
	post, err := s.Posts.Create(r.Context(), ident.OwnerID, req.Text, ident.Author)
	if err != nil {
		log.Printf("gateway: create post: %v", err)
		httpx.Message(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if s.Events != nil {
		s.Events.Publish(stream.PostCreated(post))
	}
	httpx.WriteJSON(w, http.StatusOK, post)
}

// deletePost removes the already-loaded post by its stored owner key. The
// permission check has passed by now, so deleting on behalf of the real owner
// is correct even when an admin issued the request.
func (s *Server) deletePost(w http.ResponseWriter, r *http.Request, post *poststore.Post) {
	if err := s.Posts.Delete(r.Context(), post.OwnerID, post.PostID); err != nil {
		log.Printf("gateway: delete post: %v", err)
		httpx.Message(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if s.Events != nil {
		s.Events.Publish(stream.PostDeleted(post.OwnerID, post.PostID))
	}
	httpx.Message(w, http.StatusOK, "Done")
}

// recordDecision appends to the decision log and bumps counters. Logging
// failures never block the request.
func (s *Server) recordDecision(ctx context.Context, ident identity.Identity, act action.Action, post *poststore.Post, decision authz.Decision) {
	s.Metrics.IncDecision(decision.String())
	if s.Audit == nil {
		return
	}
	rec := audit.Record{
		DecisionID:   uuid.New().String(),
		OwnerIDHash:  audit.HashOwner(ident.OwnerID),
		Action:       act.String(),
		ResourceType: authz.EntityTypeApp,
		ResourceID:   authz.ApplicationEntityID,
		Decision:     decision.String(),
		CreatedAt:    time.Now().UTC(),
	}
	if post != nil {
		rec.ResourceType = authz.EntityTypePost
		rec.ResourceID = post.PostID
	}
	if err := s.Audit.Append(ctx, rec); err != nil {
		log.Printf("gateway: audit append: %v", err)
	}
}
