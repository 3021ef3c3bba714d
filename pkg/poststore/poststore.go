// Package poststore persists posts in PostgreSQL behind the three access
// patterns the API needs: direct lookup by post id, listing by author, and
// the (owner, post) primary key used for deletes.
package poststore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("post not found")
	// ErrDuplicate signals a broken uniqueness invariant: two rows share one
	// post id. It is a consistency failure, never a normal outcome.
	ErrDuplicate = errors.New("duplicate post id")
)

// Post is the sole persisted entity. Immutable once created.
type Post struct {
	OwnerID   string `json:"userId"`
	PostID    string `json:"postId"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"time"`
}

type postDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Store struct {
	DB postDB
}

// Testable hooks for id and clock generation.
var (
	newPostID = func() string { return uuid.New().String() }
	nowUnix   = func() int64 { return time.Now().Unix() }
)

// GetByID loads the unique post for an id via the post_id index, ordered by
// creation time. Zero rows is ErrNotFound; more than one surfaces as
// ErrDuplicate rather than silently picking a winner.
func (s *Store) GetByID(ctx context.Context, postID string) (Post, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT owner_id, post_id, author, body, created_at
		FROM posts
		WHERE post_id = $1
		ORDER BY created_at
	`, postID)
	if err != nil {
		return Post{}, fmt.Errorf("get post: %w", err)
	}
	defer rows.Close()
	var (
		post  Post
		count int
	)
	for rows.Next() {
		count++
		if count > 1 {
			return Post{}, ErrDuplicate
		}
		if err := rows.Scan(&post.OwnerID, &post.PostID, &post.Author, &post.Text, &post.CreatedAt); err != nil {
			return Post{}, fmt.Errorf("scan post: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return Post{}, fmt.Errorf("get post: %w", err)
	}
	if count == 0 {
		return Post{}, ErrNotFound
	}
	return post, nil
}

// ListAll returns every post, unordered. Deliberately unbounded: fine at this
// service's scale, and the method signature is where pagination would slot in.
func (s *Store) ListAll(ctx context.Context) ([]Post, error) {
	rows, err := s.DB.Query(ctx, `SELECT owner_id, post_id, author, body, created_at FROM posts`)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// ListByAuthor returns one author's posts ordered by post id, via the
// (author, post_id) index.
func (s *Store) ListByAuthor(ctx context.Context, author string) ([]Post, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT owner_id, post_id, author, body, created_at
		FROM posts
		WHERE author = $1
		ORDER BY post_id
	`, author)
	if err != nil {
		return nil, fmt.Errorf("list posts by author: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// Create inserts a new post with a fresh random id and the current epoch
// second. Two identical calls produce two distinct posts.
func (s *Store) Create(ctx context.Context, ownerID, text, author string) (Post, error) {
	post := Post{
		OwnerID:   ownerID,
		PostID:    newPostID(),
		Author:    author,
		Text:      text,
		CreatedAt: strconv.FormatInt(nowUnix(), 10),
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO posts (owner_id, post_id, author, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, post.OwnerID, post.PostID, post.Author, post.Text, post.CreatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("create post: %w", err)
	}
	return post, nil
}

// Delete removes a post by its primary key. Deleting a missing key succeeds
// silently; ownership is enforced by the caller before this point, so the
// idempotence is not an authorization bypass.
func (s *Store) Delete(ctx context.Context, ownerID, postID string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM posts WHERE owner_id = $1 AND post_id = $2`, ownerID, postID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

func collect(rows pgx.Rows) ([]Post, error) {
	posts := make([]Post, 0)
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.OwnerID, &p.PostID, &p.Author, &p.Text, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read posts: %w", err)
	}
	return posts, nil
}
