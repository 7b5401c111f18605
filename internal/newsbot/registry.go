// Package newsbot maintains the automated news accounts and the periodic
// job that turns RSS articles into short-lived bot posts.
package newsbot

import (
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"vanish/internal/models"
)

// Categories lists the bot content categories in a fixed order.
var Categories = []string{"general", "financial", "political"}

type BotConfig struct {
	Username   string
	Email      string
	Bio        string
	ProfilePic string
	Emoji      string
}

// Bots are never logged into by a person; the credential only exists so the
// accounts fit the users table.
const botPassword = "bot_password_123"

var botConfigs = map[string]BotConfig{
	"general": {
		Username:   "news_bot",
		Email:      "news_bot@vanish.com",
		Bio:        "📰 General News Bot - Bringing you the latest headlines from around the world",
		ProfilePic: "images/profile_pics/news_bot.png",
		Emoji:      "📰",
	},
	"financial": {
		Username:   "finance_bot",
		Email:      "finance_bot@vanish.com",
		Bio:        "💰 Finance Bot - Market updates, business news, and economic insights",
		ProfilePic: "images/profile_pics/finance_bot.png",
		Emoji:      "💰",
	},
	"political": {
		Username:   "politics_bot",
		Email:      "politics_bot@vanish.com",
		Bio:        "🏛️ Politics Bot - Political news, policy updates, and government insights",
		ProfilePic: "images/profile_pics/politics_bot.png",
		Emoji:      "🏛️",
	},
}

// Config returns the fixed account settings for a bot category.
func Config(category string) (BotConfig, bool) {
	cfg, ok := botConfigs[category]
	return cfg, ok
}

// EnsureBot looks up the bot account for a category, creating it on first
// use. Safe to call from every tick: a lost create race surfaces as a
// username conflict and resolves by re-fetching the winner's row. If the
// stored avatar path drifts from the configured one it is updated in place.
func EnsureBot(db *sql.DB, category string) (*models.User, error) {
	cfg, ok := botConfigs[category]
	if !ok {
		return nil, fmt.Errorf("unknown bot category: %s", category)
	}
	user, err := models.GetUserByUsername(db, cfg.Username)
	if errors.Is(err, models.ErrNotFound) {
		hash, herr := bcrypt.GenerateFromPassword([]byte(botPassword), bcrypt.DefaultCost)
		if herr != nil {
			return nil, herr
		}
		cerr := models.CreateBotUser(db, cfg.Username, cfg.Email, string(hash), cfg.Bio, cfg.ProfilePic)
		if cerr != nil && !errors.Is(cerr, models.ErrDuplicateUsername) {
			return nil, cerr
		}
		return models.GetUserByUsername(db, cfg.Username)
	}
	if err != nil {
		return nil, err
	}
	if user.ProfilePic != cfg.ProfilePic {
		if err := models.UpdateProfilePic(db, user.ID, cfg.ProfilePic); err != nil {
			return nil, err
		}
		user.ProfilePic = cfg.ProfilePic
	}
	return user, nil
}

// EnsureAll creates or refreshes every bot account.
func EnsureAll(db *sql.DB) (map[string]*models.User, error) {
	bots := make(map[string]*models.User, len(Categories))
	for _, category := range Categories {
		bot, err := EnsureBot(db, category)
		if err != nil {
			return nil, err
		}
		bots[category] = bot
	}
	return bots, nil
}
