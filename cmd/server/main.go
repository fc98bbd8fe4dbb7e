package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"taskline/backend/internal/config"
	"taskline/backend/internal/entitlement"
	"taskline/backend/internal/httpapi"
	"taskline/backend/internal/line"
	"taskline/backend/internal/payment"
	"taskline/backend/internal/rerun"
	"taskline/backend/internal/store"
	"taskline/backend/internal/store/memory"
	"taskline/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	var st store.Store
	var closer func()

	if cfg.DatabaseURL != "" {
		pg, err := postgres.NewStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init postgres store: %v", err)
		}
		ctxSchema, cancelSchema := context.WithTimeout(rootCtx, 30*time.Second)
		if err := pg.EnsureSchema(ctxSchema); err != nil {
			cancelSchema()
			log.Fatalf("failed to ensure schema: %v", err)
		}
		cancelSchema()
		st = pg
		closer = pg.Close
		log.Printf("using postgres store")
	} else {
		st = memory.NewStore()
		log.Printf("using memory store")
	}

	if closer != nil {
		defer closer()
	}

	queue := rerun.NewQueue(st)
	transport := line.NewClient(cfg.LineChannelAccessToken)
	dispatcher := line.NewDispatcher(st, queue, transport, cfg.RerunRichMenuID)
	reconciler := payment.NewReconciler(st, cfg.StripeWebhookSecret)

	sweeper := startExpirySweeper(rootCtx, st, cfg.ExpirySweepSpec)
	if sweeper != nil {
		defer sweeper.Stop()
	}

	srv := httpapi.NewServer(cfg, st, queue, dispatcher, reconciler)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.ListenAddr())
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Printf("shutdown requested")
	case err := <-errCh:
		log.Printf("server error: %v", err)
	}

	cancelRoot()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(ctxShutdown)
}

// startExpirySweeper schedules the daily pass that flips paid plans to
// expired once their expiry has passed. The spec is evaluated in JST,
// the timezone entitlements live in.
func startExpirySweeper(ctx context.Context, st store.Store, spec string) *cron.Cron {
	c := cron.New(cron.WithLocation(entitlement.JST))

	run := func() {
		ctxSweep, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		n, err := st.ExpirePlans(ctxSweep, time.Now())
		if err != nil {
			log.Printf("expiry sweep failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("expiry sweep marked %d tasks expired", n)
		}
	}

	if _, err := c.AddFunc(spec, run); err != nil {
		log.Printf("invalid expiry sweep spec %q, sweeper disabled: %v", spec, err)
		return nil
	}

	run()
	c.Start()
	return c
}
