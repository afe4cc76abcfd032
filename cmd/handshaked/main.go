// Command handshaked is the composition root for the wake-up handshake
// coordinator: it wires the durable store, shared Redis state, the
// orchestrator and its collaborators, and the HTTP surface, then serves
// until the process is signaled to stop.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/handshake/coordinator/internal/auth"
	"github.com/handshake/coordinator/internal/config"
	"github.com/handshake/coordinator/internal/httpapi"
	"github.com/handshake/coordinator/internal/hub"
	"github.com/handshake/coordinator/internal/idempotency"
	"github.com/handshake/coordinator/internal/orchestrator"
	"github.com/handshake/coordinator/internal/presence"
	"github.com/handshake/coordinator/internal/push"
	"github.com/handshake/coordinator/internal/recordstore"
	"github.com/handshake/coordinator/internal/scheduler"
	"github.com/handshake/coordinator/internal/sharedstore"
	"github.com/handshake/coordinator/internal/timeline"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TokenSecret == "" {
		log.Fatal("handshaked: TOKEN_SIGNING_SECRET must be set")
	}
	issuer, err := auth.NewIssuer(cfg.TokenSecret, cfg.TokenLifetime)
	if err != nil {
		log.Fatalf("handshaked: %v", err)
	}

	store, err := sharedstore.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		log.Fatalf("handshaked: connect to redis at %s: %v", cfg.RedisAddr, err)
	}

	var records recordstore.Store
	var timelineRecorder timeline.Recorder
	pgStore, err := recordstore.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("handshaked: postgres unavailable (%v), falling back to in-memory store", err)
		records = recordstore.NewMemoryStore()
		timelineRecorder = timeline.NewMemoryRecorder()
	} else {
		records = pgStore
		timelineRecorder = timeline.NewPostgresRecorder(pgStore.Pool())
	}

	presenceRegistry := presence.New(store, cfg.PresenceTTL)
	connHub := hub.New(hub.NewRedisBus(store))
	go connHub.Run(ctx)

	dispatcher := push.New(cfg.PushVendorURL, cfg.PushVendorToken, records)
	if !cfg.PushConfigured() {
		log.Println("handshaked: no push vendor configured, push delivery disabled")
	}
	notifier := orchestrator.NewLiveNotifier(connHub, dispatcher, records)
	recorder := orchestrator.NewTimelineRecorder(timelineRecorder)
	sched := scheduler.New()
	defer sched.Stop()

	orch := orchestrator.New(records, store, notifier, sched, presenceRegistry, recorder, orchestrator.Config{
		ChallengeExpiration: cfg.ChallengeExpiration,
		HandshakeTimeout:    cfg.HandshakeTimeout,
		MaxRetryAttempts:    cfg.MaxRetryAttempts,
		LockTTL:             cfg.LockTTL,
	})

	sched.ScheduleRecurring("sweep-expired-challenges", time.Minute, func(ctx context.Context, jobID string) {
		n, err := orch.MarkExpired(ctx)
		if err != nil {
			log.Printf("handshaked: expire sweep failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("handshaked: expired %d stale pending challenges", n)
		}
	})

	sched.ScheduleRecurring("prune-terminal-records", cfg.RetentionWindow/4, func(ctx context.Context, jobID string) {
		cutoff := time.Now().Add(-cfg.RetentionWindow)
		n, err := records.DeleteTerminalOlderThan(ctx, cutoff)
		if err != nil {
			log.Printf("handshaked: terminal record pruning failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("handshaked: pruned %d terminal challenges older than %s", n, cutoff)
		}
	})

	idemStore := idempotency.NewStore(store)

	api := httpapi.New(records, orch, issuer, presenceRegistry, connHub, timelineRecorder, idemStore)

	mux := http.NewServeMux()
	mux.Handle("/", api.Router())
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("handshaked: graceful shutdown failed: %v", err)
		}
	}()

	log.Printf("handshaked: listening on :%s", cfg.HTTPPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("handshaked: %v", err)
	}
}
