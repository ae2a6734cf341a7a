package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jdavenport/go-listenroom/internal/api"
	"github.com/jdavenport/go-listenroom/internal/catalog"
	"github.com/jdavenport/go-listenroom/internal/config"
	"github.com/jdavenport/go-listenroom/internal/server"
	"github.com/jdavenport/go-listenroom/internal/stats"
	_ "github.com/lib/pq"
)

const defaultSigningKey = "d2hhdCBhcmUgeW91IGxpc3RlbmluZyB0bz8="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	migrationsURL  string
	graceWindow    time.Duration
	idleTimeout    time.Duration
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.StringVar(&migrationsURL, "migrations", "file://migrations", "migrations source URL (empty to skip)")
	flag.DurationVar(&graceWindow, "grace-window", config.DefaultGraceWindow, "how long a dropped participant's seat is held")
	flag.DurationVar(&idleTimeout, "idle-timeout", config.DefaultIdleRoomTimeout, "how long an empty room stays loaded")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[listenroom] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}
	cfg.GraceWindow = graceWindow
	cfg.IdleRoomTimeout = idleTimeout

	db, err := catalog.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if migrationsURL != "" {
		if err := db.Migrate(migrationsURL); err != nil {
			logger.Fatal("migrate:", err)
		}
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	syncServer, err := server.NewSyncServer(logger, db, statsUpdater, cfg.GraceWindow, cfg.IdleRoomTimeout)
	if err != nil {
		logger.Fatal("new sync server:", err)
	}

	app := api.NewApp(mux, logger, syncServer, db, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go syncServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down sync server...")
	if err := syncServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("sync server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
