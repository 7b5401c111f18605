package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"vanish/internal/expiry"
	"vanish/internal/feed"
	"vanish/internal/models"
	"vanish/internal/newsbot"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type replyJSON struct {
	ID               int        `json:"id"`
	Content          string     `json:"content"`
	Author           authorJSON `json:"author"`
	CreatedAt        string     `json:"created_at"`
	RemainingSeconds int64      `json:"remaining_seconds"`
}

type authorJSON struct {
	Username   string `json:"username"`
	ProfilePic string `json:"profile_pic"`
}

// handlePostAPI dispatches /api/post/{id}/replies and /api/post/{id}/remaining.
func (s *Server) handlePostAPI(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/post/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	postID := atoi(parts[0])
	if postID == 0 {
		http.NotFound(w, r)
		return
	}
	switch parts[1] {
	case "replies":
		if s.currentUser(r) == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s.handleReplies(w, r, postID)
	case "remaining":
		s.handleRemaining(w, r, postID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleReplies(w http.ResponseWriter, r *http.Request, postID int) {
	replies, err := feed.Replies(s.DB, postID, s.Now())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	out := make([]replyJSON, 0, len(replies))
	for _, reply := range replies {
		out = append(out, replyJSON{
			ID:      reply.ID,
			Content: reply.Content,
			Author: authorJSON{
				Username:   reply.AuthorUsername,
				ProfilePic: reply.AuthorProfilePic,
			},
			CreatedAt:        reply.CreatedAt.UTC().Format("15:04"),
			RemainingSeconds: reply.RemainingSeconds,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"replies": out})
}

func (s *Server) handleRemaining(w http.ResponseWriter, r *http.Request, postID int) {
	post, err := models.GetPost(s.DB, postID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	secs, err := expiry.Remaining(s.Now(), post.Kind, post.CreatedAt)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"remaining_seconds": secs})
}

// handleFollowersCount serves /api/user/{id}/followers-count.
func (s *Server) handleFollowersCount(w http.ResponseWriter, r *http.Request, viewer *models.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/user/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "followers-count" {
		http.NotFound(w, r)
		return
	}
	userID := atoi(parts[0])
	if _, err := models.GetUserByID(s.DB, userID); err != nil {
		http.NotFound(w, r)
		return
	}
	followers, following, err := models.FollowCounts(s.DB, userID)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	isFollowing, err := models.IsFollowing(s.DB, viewer.ID, userID)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"followers_count": followers,
		"following_count": following,
		"is_following":    isFollowing,
	})
}

// handleTestNewsBot triggers one ingestion tick for a random category.
func (s *Server) handleTestNewsBot(w http.ResponseWriter, r *http.Request) {
	if err := s.News.Ingest(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "News scraping triggered for all bots"})
}

// handleTestBot triggers one ingestion tick for a specific category.
func (s *Server) handleTestBot(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimPrefix(r.URL.Path, "/test-bot/")
	cfg, ok := newsbot.Config(category)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": "Unknown bot type: " + category})
		return
	}
	if err := s.News.IngestCategory(r.Context(), category); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "News scraping triggered for " + cfg.Username})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Sched.Snapshot())
}
