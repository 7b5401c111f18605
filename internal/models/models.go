package models

import "time"

type User struct {
	ID           int
	Username     string
	Email        string
	PasswordHash string
	Bio          string
	ProfilePic   string
	CreatedAt    time.Time
}

type Session struct {
	ID        string
	UserID    int
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

type Post struct {
	ID        int
	Content   string
	CreatedAt time.Time
	UserID    int
	ParentID  *int
	Kind      string
	SourceURL string

	// Author fields are joined in on reads for rendering.
	AuthorUsername   string
	AuthorProfilePic string

	// RemainingSeconds is filled in by the feed read model, not stored.
	RemainingSeconds int64
}

func (p *Post) IsReply() bool {
	return p.ParentID != nil
}
