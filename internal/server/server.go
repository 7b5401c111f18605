package server

import (
	"database/sql"
	"errors"
	"html/template"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"vanish/internal/expiry"
	"vanish/internal/feed"
	"vanish/internal/models"
	"vanish/internal/newsbot"
	"vanish/internal/scheduler"
)

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

type Server struct {
	DB *sql.DB

	tmpl map[string]*template.Template

	CookieName string
	UploadDir  string

	News  *newsbot.Service
	Sched *scheduler.Scheduler

	// Now is stubbed in tests.
	Now func() time.Time
}

func New(db *sql.DB, templateDir, uploadDir string, news *newsbot.Service, sched *scheduler.Scheduler) (*Server, error) {
	templates := map[string]*template.Template{}
	layout := filepath.Join(templateDir, "layout.html")
	pages, err := filepath.Glob(filepath.Join(templateDir, "*.html"))
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		if filepath.Base(page) == "layout.html" {
			continue
		}
		t, err := template.ParseFiles(layout, page)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(page), ".html")
		templates[name] = t
	}
	return &Server{
		DB:         db,
		tmpl:       templates,
		CookieName: "session_id",
		UploadDir:  uploadDir,
		News:       news,
		Sched:      sched,
		Now:        time.Now,
	}, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.HandleFunc("/feed", s.requireAuth(s.handleFeed))
	mux.HandleFunc("/feed/followed", s.requireAuth(s.handleFollowedFeed))
	mux.HandleFunc("/post", s.requireAuth(s.handleNewPost))
	mux.HandleFunc("/post/delete", s.requireAuth(s.handleDeletePost))
	mux.HandleFunc("/profile/", s.requireAuth(s.handleProfile))
	mux.HandleFunc("/edit_profile", s.requireAuth(s.handleEditProfile))
	mux.HandleFunc("/follow/", s.requireAuth(s.handleFollow))
	mux.HandleFunc("/unfollow/", s.requireAuth(s.handleUnfollow))
	mux.HandleFunc("/search", s.requireAuth(s.handleSearch))
	mux.HandleFunc("/api/post/", s.handlePostAPI)
	mux.HandleFunc("/api/user/", s.requireAuth(s.handleFollowersCount))
	mux.HandleFunc("/test-news-bot", s.handleTestNewsBot)
	mux.HandleFunc("/test-bot/", s.handleTestBot)
	mux.HandleFunc("/scheduler-status", s.handleSchedulerStatus)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("web/static"))))
	return mux
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.routes().ServeHTTP(w, r)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	t, ok := s.tmpl[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		http.Error(w, "render error", http.StatusInternalServerError)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if s.currentUser(r) != nil {
		http.Redirect(w, r, "/feed", http.StatusSeeOther)
		return
	}
	s.render(w, "index", map[string]any{"Now": s.Now().UTC()})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.currentUser(r) != nil {
			http.Redirect(w, r, "/feed", http.StatusSeeOther)
			return
		}
		s.render(w, "register", map[string]any{})
	case http.MethodPost:
		username := r.FormValue("username")
		email := r.FormValue("email")
		password := r.FormValue("password")
		if username == "" || email == "" || password == "" {
			http.Error(w, "missing fields", http.StatusBadRequest)
			return
		}
		hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err := models.CreateUser(s.DB, username, email, string(hash)); err != nil {
			if errors.Is(err, models.ErrDuplicateUsername) || errors.Is(err, models.ErrDuplicateEmail) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "could not register", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.currentUser(r) != nil {
			http.Redirect(w, r, "/feed", http.StatusSeeOther)
			return
		}
		s.render(w, "login", map[string]any{})
	case http.MethodPost:
		username := r.FormValue("username")
		password := r.FormValue("password")
		user, err := models.GetUserByUsername(s.DB, username)
		if err != nil {
			http.Error(w, models.ErrInvalidCredentials.Error(), http.StatusBadRequest)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			http.Error(w, models.ErrInvalidCredentials.Error(), http.StatusBadRequest)
			return
		}
		sid := uuid.NewString()
		expires := s.Now().Add(24 * time.Hour)
		if err := models.CreateSession(s.DB, user.ID, sid, expires); err != nil {
			http.Error(w, "could not create session", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: s.CookieName, Value: sid, Path: "/", Expires: expires, HttpOnly: true})
		http.Redirect(w, r, "/feed", http.StatusSeeOther)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if cookie, err := r.Cookie(s.CookieName); err == nil {
		models.RevokeSession(s.DB, cookie.Value)
		http.SetCookie(w, &http.Cookie{Name: s.CookieName, Path: "/", MaxAge: -1})
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request, user *models.User) {
	feedType := r.URL.Query().Get("type")
	kind := feed.Global
	if feedType == "followed" {
		kind = feed.Followed
	} else {
		feedType = "all"
	}
	posts, err := feed.Build(s.DB, user.ID, kind, nil, s.Now())
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	s.render(w, "feed", map[string]any{"Posts": posts, "FeedType": feedType, "User": user})
}

func (s *Server) handleFollowedFeed(w http.ResponseWriter, r *http.Request, user *models.User) {
	posts, err := feed.Build(s.DB, user.ID, feed.Followed, nil, s.Now())
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	s.render(w, "feed", map[string]any{"Posts": posts, "FeedType": "followed", "User": user})
}

func (s *Server) handleNewPost(w http.ResponseWriter, r *http.Request, user *models.User) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	post := models.Post{
		Content:   r.FormValue("content"),
		CreatedAt: s.Now().UTC(),
		UserID:    user.ID,
		Kind:      expiry.KindHuman,
	}
	if v := r.FormValue("parent_id"); v != "" {
		parentID := atoi(v)
		if parentID == 0 {
			http.Error(w, "invalid parent", http.StatusBadRequest)
			return
		}
		if _, err := models.GetPost(s.DB, parentID); err != nil {
			http.Error(w, "parent post not found", http.StatusNotFound)
			return
		}
		post.ParentID = &parentID
	}
	if _, err := models.CreatePost(s.DB, &post); err != nil {
		if errors.Is(err, models.ErrEmptyContent) {
			http.Error(w, "post cannot be empty", http.StatusBadRequest)
			return
		}
		http.Error(w, "could not create post", http.StatusInternalServerError)
		return
	}
	if post.ParentID != nil {
		http.Redirect(w, r, "/feed#post-"+itoa(*post.ParentID), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/feed", http.StatusSeeOther)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request, user *models.User) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	postID := atoi(r.FormValue("post_id"))
	post, err := models.GetPost(s.DB, postID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if post.UserID != user.ID {
		http.Error(w, "not your post", http.StatusForbidden)
		return
	}
	if err := models.DeletePost(s.DB, postID); err != nil {
		http.Error(w, "could not delete", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/feed", http.StatusSeeOther)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, viewer *models.User) {
	username := strings.TrimPrefix(r.URL.Path, "/profile/")
	if username == "" {
		http.NotFound(w, r)
		return
	}
	user, err := models.GetUserByUsername(s.DB, username)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	posts, err := feed.Build(s.DB, viewer.ID, feed.Profile, user.ID, s.Now())
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	s.render(w, "profile", map[string]any{"ProfileUser": user, "Posts": posts, "User": viewer})
}

func (s *Server) handleEditProfile(w http.ResponseWriter, r *http.Request, user *models.User) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	bio := r.FormValue("bio")
	picPath := user.ProfilePic

	file, header, err := r.FormFile("profile_pic")
	if err == nil {
		defer file.Close()
		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !allowedExtensions[ext] {
			http.Error(w, "invalid file type: allowed types are png, jpg, jpeg, gif", http.StatusBadRequest)
			return
		}
		if err := os.MkdirAll(s.UploadDir, 0755); err != nil {
			http.Error(w, "could not save picture", http.StatusInternalServerError)
			return
		}
		filename := user.Username + "_profile" + ext
		dst, err := os.Create(filepath.Join(s.UploadDir, filename))
		if err != nil {
			http.Error(w, "could not save picture", http.StatusInternalServerError)
			return
		}
		defer dst.Close()
		if _, err := io.Copy(dst, file); err != nil {
			http.Error(w, "could not save picture", http.StatusInternalServerError)
			return
		}
		picPath = "images/profile_pics/" + filename
	}

	if err := models.UpdateProfile(s.DB, user.ID, bio, picPath); err != nil {
		http.Error(w, "could not update profile", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/profile/"+user.Username, http.StatusSeeOther)
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request, user *models.User) {
	s.handleFollowChange(w, r, user, "/follow/", models.Follow)
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request, user *models.User) {
	s.handleFollowChange(w, r, user, "/unfollow/", models.Unfollow)
}

func (s *Server) handleFollowChange(w http.ResponseWriter, r *http.Request, user *models.User, prefix string, change func(*sql.DB, int, int) error) {
	username := strings.TrimPrefix(r.URL.Path, prefix)
	target, err := models.GetUserByUsername(s.DB, username)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	// No self-edges; checked here, not in the store.
	if target.ID == user.ID {
		http.Error(w, "you cannot follow yourself", http.StatusBadRequest)
		return
	}
	if err := change(s.DB, user.ID, target.ID); err != nil {
		http.Error(w, "could not update follow", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/profile/"+username, http.StatusSeeOther)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, user *models.User) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.render(w, "search", map[string]any{"Query": "", "User": user})
		return
	}
	result, err := feed.SearchAll(s.DB, query, s.Now())
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	s.render(w, "search", map[string]any{"Query": query, "Posts": result.Posts, "Users": result.Users, "User": user})
}

// middleware
func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request, *models.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := s.currentUser(r)
		if user == nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r, user)
	}
}

func (s *Server) currentUser(r *http.Request) *models.User {
	cookie, err := r.Cookie(s.CookieName)
	if err != nil {
		return nil
	}
	sess, err := models.GetSession(s.DB, cookie.Value)
	if err != nil || sess.RevokedAt != nil || sess.ExpiresAt.Before(s.Now()) {
		return nil
	}
	user, err := models.GetUserByID(s.DB, sess.UserID)
	if err != nil {
		return nil
	}
	return user
}

// helpers
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
