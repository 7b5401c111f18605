package models

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"vanish/internal/expiry"
)

var (
	ErrDuplicateEmail     = errors.New("email already exists")
	ErrDuplicateUsername  = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotFound           = errors.New("not found")
	ErrEmptyContent       = errors.New("post content is empty")
)

// Caps on search results, matching the read model's I/O bounds.
const (
	SearchPostLimit = 20
	SearchUserLimit = 10
)

func CreateUser(db *sql.DB, username, email, passwordHash string) error {
	_, err := db.Exec(`INSERT INTO users (username, email, password_hash) VALUES (?, ?, ?)`, username, email, passwordHash)
	return mapUserConstraint(err)
}

// CreateBotUser inserts a fully specified account in one statement. Used by
// the bot registry, which sets bio and avatar up front.
func CreateBotUser(db *sql.DB, username, email, passwordHash, bio, profilePic string) error {
	_, err := db.Exec(`INSERT INTO users (username, email, password_hash, bio, profile_pic) VALUES (?, ?, ?, ?, ?)`,
		username, email, passwordHash, bio, profilePic)
	return mapUserConstraint(err)
}

func mapUserConstraint(err error) error {
	if err != nil {
		str := err.Error()
		if strings.Contains(str, "UNIQUE constraint failed: users.email") {
			return ErrDuplicateEmail
		}
		if strings.Contains(str, "UNIQUE constraint failed: users.username") {
			return ErrDuplicateUsername
		}
	}
	return err
}

func GetUserByID(db *sql.DB, id int) (*User, error) {
	return scanUser(db.QueryRow(`SELECT id, username, email, password_hash, bio, profile_pic, created_at FROM users WHERE id = ?`, id))
}

func GetUserByUsername(db *sql.DB, username string) (*User, error) {
	return scanUser(db.QueryRow(`SELECT id, username, email, password_hash, bio, profile_pic, created_at FROM users WHERE username = ?`, username))
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Bio, &u.ProfilePic, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func UpdateProfile(db *sql.DB, userID int, bio, profilePic string) error {
	res, err := db.Exec(`UPDATE users SET bio = ?, profile_pic = ? WHERE id = ?`, bio, profilePic, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func UpdateProfilePic(db *sql.DB, userID int, profilePic string) error {
	_, err := db.Exec(`UPDATE users SET profile_pic = ? WHERE id = ?`, profilePic, userID)
	return err
}

// DeleteUser removes the account. Posts, replies to those posts, follow edges
// and sessions go with it via the schema's cascades.
func DeleteUser(db *sql.DB, userID int) error {
	res, err := db.Exec(`DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func CreateSession(db *sql.DB, userID int, sessionID string, expires time.Time) error {
	// revoke existing
	_, err := db.Exec(`UPDATE sessions SET revoked_at = CURRENT_TIMESTAMP WHERE user_id = ? AND revoked_at IS NULL`, userID)
	if err != nil {
		return err
	}
	_, err = db.Exec(`INSERT INTO sessions (id, user_id, expires_at) VALUES (?, ?, ?)`, sessionID, userID, expires.UTC())
	return err
}

func GetSession(db *sql.DB, id string) (*Session, error) {
	row := db.QueryRow(`SELECT id, user_id, created_at, expires_at, revoked_at FROM sessions WHERE id = ?`, id)
	var s Session
	var revoked sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if revoked.Valid {
		s.RevokedAt = &revoked.Time
	}
	return &s, nil
}

func RevokeSession(db *sql.DB, id string) error {
	_, err := db.Exec(`UPDATE sessions SET revoked_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// CreatePost inserts a post and returns its id. The creation instant must be
// set; it is normalized to UTC before it hits the database so that the text
// comparisons in the live-window queries stay chronological.
func CreatePost(db *sql.DB, p *Post) (int, error) {
	if strings.TrimSpace(p.Content) == "" {
		return 0, ErrEmptyContent
	}
	if p.CreatedAt.IsZero() {
		return 0, expiry.ErrZeroTime
	}
	if p.Kind == "" {
		p.Kind = expiry.KindHuman
	}
	var parent any
	if p.ParentID != nil {
		parent = *p.ParentID
	}
	var source any
	if p.SourceURL != "" {
		source = p.SourceURL
	}
	res, err := db.Exec(`INSERT INTO posts (content, created_at, user_id, parent_id, kind, source_url) VALUES (?, ?, ?, ?, ?, ?)`,
		p.Content, p.CreatedAt.UTC(), p.UserID, parent, p.Kind, source)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = int(id)
	return p.ID, nil
}

const postCols = `p.id, p.content, p.created_at, p.user_id, p.parent_id, p.kind, p.source_url, u.username, u.profile_pic`

const postFrom = ` FROM posts p JOIN users u ON u.id = p.user_id`

// liveCond is the read-time expiration filter: a post is live while its
// kind-specific window is still open, whether or not the sweeper has reaped
// it. Bind order: bot cutoff first, then human cutoff.
const liveCond = `((p.kind = 'bot' AND p.created_at > ?) OR (p.kind != 'bot' AND p.created_at > ?))`

func liveArgs(now time.Time) (time.Time, time.Time) {
	return expiry.Cutoff(now, expiry.KindBot), expiry.Cutoff(now, expiry.KindHuman)
}

func GetPost(db *sql.DB, id int) (*Post, error) {
	row := db.QueryRow(`SELECT `+postCols+postFrom+` WHERE p.id = ?`, id)
	p, err := scanPostRow(row)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func DeletePost(db *sql.DB, id int) error {
	res, err := db.Exec(`DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Replies returns the direct replies of a post created after since, oldest
// first. The cutoff keeps conceptually-expired replies out of view even
// before the sweeper deletes them.
func Replies(db *sql.DB, postID int, since time.Time) ([]Post, error) {
	rows, err := db.Query(`SELECT `+postCols+postFrom+` WHERE p.parent_id = ? AND p.created_at > ? ORDER BY p.created_at ASC`,
		postID, since.UTC())
	return scanPosts(rows, err)
}

func PostsByAuthor(db *sql.DB, userID int, now time.Time) ([]Post, error) {
	botCut, humanCut := liveArgs(now)
	rows, err := db.Query(`SELECT `+postCols+postFrom+` WHERE p.user_id = ? AND `+liveCond+` ORDER BY p.created_at DESC`,
		userID, botCut, humanCut)
	return scanPosts(rows, err)
}

func GlobalFeed(db *sql.DB, now time.Time) ([]Post, error) {
	botCut, humanCut := liveArgs(now)
	rows, err := db.Query(`SELECT `+postCols+postFrom+` WHERE `+liveCond+` ORDER BY p.created_at DESC`,
		botCut, humanCut)
	return scanPosts(rows, err)
}

// FollowedFeed returns live posts from the viewer and everyone the viewer
// follows, newest first. The viewer's own posts are always included; there is
// no self-follow edge.
func FollowedFeed(db *sql.DB, viewerID int, now time.Time) ([]Post, error) {
	botCut, humanCut := liveArgs(now)
	rows, err := db.Query(`SELECT `+postCols+postFrom+`
        WHERE (p.user_id = ? OR p.user_id IN (SELECT followed_id FROM followers WHERE follower_id = ?))
          AND `+liveCond+` ORDER BY p.created_at DESC`,
		viewerID, viewerID, botCut, humanCut)
	return scanPosts(rows, err)
}

func SearchPosts(db *sql.DB, query string, now time.Time) ([]Post, error) {
	botCut, humanCut := liveArgs(now)
	pattern := "%" + escapeLike(query) + "%"
	rows, err := db.Query(`SELECT `+postCols+postFrom+` WHERE p.content LIKE ? ESCAPE '\' AND `+liveCond+`
        ORDER BY p.created_at DESC LIMIT ?`,
		pattern, botCut, humanCut, SearchPostLimit)
	return scanPosts(rows, err)
}

func SearchUsers(db *sql.DB, query string) ([]User, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := db.Query(`SELECT id, username, email, password_hash, bio, profile_pic, created_at FROM users
        WHERE username LIKE ? ESCAPE '\' ORDER BY username ASC LIMIT ?`, pattern, SearchUserLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Bio, &u.ProfilePic, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func Follow(db *sql.DB, followerID, followedID int) error {
	_, err := db.Exec(`INSERT INTO followers (follower_id, followed_id) VALUES (?, ?)
        ON CONFLICT (follower_id, followed_id) DO NOTHING`, followerID, followedID)
	return err
}

func Unfollow(db *sql.DB, followerID, followedID int) error {
	_, err := db.Exec(`DELETE FROM followers WHERE follower_id = ? AND followed_id = ?`, followerID, followedID)
	return err
}

func IsFollowing(db *sql.DB, followerID, followedID int) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM followers WHERE follower_id = ? AND followed_id = ?`, followerID, followedID).Scan(&n)
	return n > 0, err
}

func FollowCounts(db *sql.DB, userID int) (followers, following int, err error) {
	if err = db.QueryRow(`SELECT COUNT(*) FROM followers WHERE followed_id = ?`, userID).Scan(&followers); err != nil {
		return
	}
	err = db.QueryRow(`SELECT COUNT(*) FROM followers WHERE follower_id = ?`, userID).Scan(&following)
	return
}

// DeleteExpired removes every post created before the cutoff, replies
// cascading with their parents. The sweeper passes a single global cutoff.
func DeleteExpired(db *sql.DB, before time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM posts WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func CountRecentBotPosts(db *sql.DB, userID int, since time.Time) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM posts WHERE user_id = ? AND kind = 'bot' AND created_at > ?`,
		userID, since.UTC()).Scan(&n)
	return n, err
}

func OldestRecentBotPost(db *sql.DB, userID int, since time.Time) (*Post, error) {
	row := db.QueryRow(`SELECT `+postCols+postFrom+` WHERE p.user_id = ? AND p.kind = 'bot' AND p.created_at > ?
        ORDER BY p.created_at ASC LIMIT 1`, userID, since.UTC())
	return scanPostRow(row)
}

// HasRecentBotPostContaining reports whether the bot posted something since
// the cutoff whose content contains needle. Used as the repost guard.
func HasRecentBotPostContaining(db *sql.DB, userID int, since time.Time, needle string) (bool, error) {
	pattern := "%" + escapeLike(needle) + "%"
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM posts WHERE user_id = ? AND kind = 'bot' AND created_at > ? AND content LIKE ? ESCAPE '\'`,
		userID, since.UTC(), pattern).Scan(&n)
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(sc rowScanner) (*Post, error) {
	var p Post
	var parent sql.NullInt64
	var source sql.NullString
	err := sc.Scan(&p.ID, &p.Content, &p.CreatedAt, &p.UserID, &parent, &p.Kind, &source, &p.AuthorUsername, &p.AuthorProfilePic)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		id := int(parent.Int64)
		p.ParentID = &id
	}
	if source.Valid {
		p.SourceURL = source.String
	}
	return &p, nil
}

func scanPostRow(row *sql.Row) (*Post, error) {
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func scanPosts(rows *sql.Rows, err error) ([]Post, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// escapeLike neutralizes LIKE wildcards in user input so a search for "100%"
// matches that literal text.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
