package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"agrotrace.org/internal/access"
	"agrotrace.org/internal/batch"
	"agrotrace.org/internal/httpapi"
	"agrotrace.org/internal/obs"
	"agrotrace.org/internal/provenance"
	"agrotrace.org/internal/roles"
	"agrotrace.org/internal/store/pg"
	"agrotrace.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := envOr("AGROTRACE_ADDR", ":8080")
	bootstrapAdmins := splitList(os.Getenv("AGROTRACE_BOOTSTRAP_ADMIN"))

	var (
		db        *sql.DB
		authority roles.Service
		ledger    provenance.Service
		batches   batch.Service
	)
	if dsn := os.Getenv("AGROTRACE_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		db = store.DB()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.EnsureAdmins(ctx, bootstrapAdmins...); err != nil {
			cancel()
			log.Fatalf("bootstrap admins: %v", err)
		}
		cancel()

		authority, ledger, batches = store, store, store
	} else {
		mem := roles.NewInMemory(bootstrapAdmins...)
		led := provenance.NewInMemory(mem)
		authority = mem
		ledger = led
		batches = batch.NewRegistry(mem, led)
	}

	policy, err := access.NewPolicy(authority)
	if err != nil {
		log.Fatalf("access policy: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(probe, version, authority, ledger, batches, policy, stream.New())

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcServer *grpc.Server
	if grpcAddr := os.Getenv("AGROTRACE_GRPC_ADDR"); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcServer = grpc.NewServer()
		httpapi.RegisterGRPC(grpcServer, httpapi.NewGRPCServer(probe, version))
		go func() {
			log.Printf("gRPC health on %s", grpcAddr)
			if err := grpcServer.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	log.Printf("Starting agrotrace-api %s on %s", version, srv.Addr)

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
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
