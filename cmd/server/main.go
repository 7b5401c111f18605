package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"vanish/internal/config"
	"vanish/internal/db"
	"vanish/internal/expiry"
	"vanish/internal/models"
	"vanish/internal/newsbot"
	"vanish/internal/scheduler"
	"vanish/internal/server"
)

func main() {
	cfg := config.Load()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal(err)
	}

	if _, err := newsbot.EnsureAll(database); err != nil {
		log.Fatal(err)
	}

	sources, err := newsbot.LoadSources()
	if err != nil {
		log.Fatal(err)
	}
	news := newsbot.New(database, newsbot.NewFetcher(cfg.RSSTimeout), sources)

	sched := scheduler.New()
	if err := sched.Add("delete_expired_posts", cfg.SweepInterval, func(ctx context.Context) {
		cutoff := time.Now().UTC().Add(-expiry.HumanTTL)
		if n, err := models.DeleteExpired(database, cutoff); err != nil {
			log.Printf("sweep failed: %v", err)
		} else if n > 0 {
			log.Printf("swept %d expired posts", n)
		}
	}); err != nil {
		log.Fatal(err)
	}
	if err := sched.Add("news_scraper", cfg.NewsInterval, news.Run); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer sched.Stop()

	srv, err := server.New(database, "web/templates", cfg.UploadDir, news, sched)
	if err != nil {
		log.Fatal(err)
	}

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: srv}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on :%s", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
