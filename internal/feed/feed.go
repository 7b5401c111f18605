// Package feed builds per-request views over live posts, annotating each
// with the seconds it has left before it vanishes.
package feed

import (
	"database/sql"
	"time"

	"vanish/internal/expiry"
	"vanish/internal/models"
)

type Kind string

const (
	Global   Kind = "global"
	Followed Kind = "followed"
	Search   Kind = "search"
	Profile  Kind = "profile"
)

// SearchResult pairs the capped post and user matches of one query.
type SearchResult struct {
	Posts []models.Post
	Users []models.User
}

// Build returns the requested feed for the viewer, newest first, with every
// post annotated. arg is the search query for Search and the profile user id
// for Profile; it is ignored otherwise. Expired posts never appear, even if
// the sweeper has not deleted them yet.
func Build(db *sql.DB, viewerID int, kind Kind, arg any, now time.Time) ([]models.Post, error) {
	var (
		posts []models.Post
		err   error
	)
	switch kind {
	case Followed:
		posts, err = models.FollowedFeed(db, viewerID, now)
	case Search:
		q, _ := arg.(string)
		posts, err = models.SearchPosts(db, q, now)
	case Profile:
		userID, _ := arg.(int)
		posts, err = models.PostsByAuthor(db, userID, now)
	default:
		posts, err = models.GlobalFeed(db, now)
	}
	if err != nil {
		return nil, err
	}
	return annotate(posts, now)
}

// SearchAll runs the live-filtered post search and the username search side
// by side, each silently capped at its own limit.
func SearchAll(db *sql.DB, query string, now time.Time) (*SearchResult, error) {
	posts, err := models.SearchPosts(db, query, now)
	if err != nil {
		return nil, err
	}
	posts, err = annotate(posts, now)
	if err != nil {
		return nil, err
	}
	users, err := models.SearchUsers(db, query)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Posts: posts, Users: users}, nil
}

// Replies returns a post's live replies, oldest first, annotated. The parent
// must still exist.
func Replies(db *sql.DB, postID int, now time.Time) ([]models.Post, error) {
	if _, err := models.GetPost(db, postID); err != nil {
		return nil, err
	}
	cutoff := expiry.Cutoff(now, expiry.KindHuman)
	replies, err := models.Replies(db, postID, cutoff)
	if err != nil {
		return nil, err
	}
	return annotate(replies, now)
}

func annotate(posts []models.Post, now time.Time) ([]models.Post, error) {
	for i := range posts {
		secs, err := expiry.Remaining(now, posts[i].Kind, posts[i].CreatedAt)
		if err != nil {
			return nil, err
		}
		posts[i].RemainingSeconds = secs
	}
	return posts, nil
}
