package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/lojasmm/wabot/internal/bot"
	"github.com/lojasmm/wabot/internal/config"
	"github.com/lojasmm/wabot/internal/dispatch"
	"github.com/lojasmm/wabot/internal/session"
	"github.com/lojasmm/wabot/internal/store"
	"github.com/lojasmm/wabot/internal/whatsapp"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.SetLevel(level)

	var (
		contexts dispatch.ContextStore
		contacts bot.ContactRecorder
	)
	switch cfg.ContextBackend {
	case config.BackendBolt:
		db, err := store.NewBoltStore(cfg.BoltPath())
		if err != nil {
			log.Fatalf("store: %v", err)
		}
		defer db.Close()
		contexts, contacts = db, db
	default:
		contexts = store.NewMemoryStore(cfg.ContextTTL)
	}

	waClient := whatsapp.NewClient(cfg.WAPhoneNumberID, cfg.WAAccessToken,
		whatsapp.WithAPIVersion(cfg.WAAPIVersion),
		whatsapp.WithHTTPClient(&http.Client{Timeout: cfg.WAHTTPTimeout}),
		whatsapp.WithRateLimit(cfg.WASendRate),
		whatsapp.WithLogger(log),
	)

	sessionMgr := session.NewManager()

	// Periodic cleanup of stale per-user locks
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if n := sessionMgr.Cleanup(1 * time.Hour); n > 0 {
				log.Debugf("wabot: removed %d idle session locks", n)
			}
		}
	}()

	d := dispatch.New(cfg.WAPhoneNumberID, waClient,
		dispatch.WithContextStore(contexts),
		dispatch.WithSessions(sessionMgr),
		dispatch.WithMarkAsRead(cfg.WAMarkAsRead),
		dispatch.WithLogger(log),
	)

	if err := os.MkdirAll(cfg.MediaDir, 0o755); err != nil {
		log.Fatalf("media dir: %v", err)
	}
	botHandler, err := bot.NewHandler(d, waClient, contacts, cfg.MediaDir, log)
	if err != nil {
		log.Fatalf("bot: %v", err)
	}
	botHandler.Register()

	webhookHandler := whatsapp.NewWebhookHandler(cfg.WAVerifyToken, cfg.WAAppSecret, d.ProcessUpdate, log)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	webhookHandler.Mount(r, "/webhook")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("wabot: listening on :%s", cfg.Port)
		log.Infof("wabot: webhook verify token = %s", cfg.WAVerifyToken)
		if cfg.WAAppSecret == "" {
			log.Warn("wabot: WA_APP_SECRET not set, webhook signatures are not checked")
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("wabot: shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
	log.Info("wabot: stopped")
}
