package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roadwatch.org/internal/httpapi"
	"roadwatch.org/internal/obs"
	"roadwatch.org/internal/store/pg"
	"roadwatch.org/internal/stream"
	"roadwatch.org/internal/verification"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		db        *sql.DB
		store     verification.Store
		timeline  verification.Timeline
		dir       verification.Directory
		incidents verification.Incidents
	)
	if dsn := os.Getenv("ROADWATCH_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = pgStore.DB()
		store, timeline, dir, incidents = pgStore, pgStore, pgStore, pgStore
	} else {
		// No DSN: run fully in memory. Dev-only; nothing survives a restart.
		mem := verification.NewInMemory()
		store, timeline, incidents = mem, mem, mem
		dir = verification.NewStaticDirectory(nil)
		log.Println("ROADWATCH_PG_DSN not set, using in-memory store")
	}

	svc := verification.NewService(store, timeline, dir, incidents)
	st := stream.New()

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, st)

	addr := os.Getenv("ROADWATCH_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting roadwatch-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
