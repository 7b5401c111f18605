package config

import (
	"os"
	"time"
)

type Config struct {
	Port      string
	DBPath    string
	UploadDir string

	SweepInterval time.Duration
	NewsInterval  time.Duration
	RSSTimeout    time.Duration
}

func Load() Config {
	return Config{
		Port:          getenv("PORT", "8080"),
		DBPath:        getenv("DB_PATH", "vanish.db"),
		UploadDir:     getenv("UPLOAD_DIR", "web/static/images/profile_pics"),
		SweepInterval: parseDurationEnv("SWEEP_INTERVAL", 10*time.Minute),
		NewsInterval:  parseDurationEnv("NEWS_INTERVAL", 30*time.Second),
		RSSTimeout:    parseDurationEnv("RSS_TIMEOUT", 20*time.Second),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
