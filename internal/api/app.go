package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/jdavenport/go-listenroom/internal/catalog"
	"github.com/jdavenport/go-listenroom/internal/config"
	"github.com/jdavenport/go-listenroom/internal/server"
)

type App struct {
	log            *log.Logger
	db             catalog.Repository
	mux            *http.Server
	ss             *server.SyncServer
	signingKey     []byte
	allowedOrigins []string
}

func NewApp(mux *http.ServeMux, logger *log.Logger, ss *server.SyncServer, db catalog.Repository, cfg *config.Config) *App {
	a := &App{
		log:            logger,
		db:             db,
		ss:             ss,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", a.createAccount)
	mux.HandleFunc("POST /api/auth/login", a.login)
	mux.Handle("GET /api/auth/session", a.authMiddleware(a.session))
	mux.Handle("GET /api/auth/logout", a.authMiddleware(a.logout))
	mux.Handle("POST /api/rooms", a.authMiddleware(a.createRoom))
	mux.Handle("DELETE /api/rooms", a.authMiddleware(a.deleteRoom))
	mux.Handle("GET /api/rooms", a.authMiddleware(a.getRoom))
	mux.Handle("GET /api/tracks", a.authMiddleware(a.getTrack))
	mux.Handle("GET /ws", a.authMiddleware(a.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = a.errorHandler(h)

	a.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return a
}

func (a *App) Start() error {
	a.log.Printf("starting server on %s\n", a.mux.Addr)
	return a.mux.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Println("shutting down HTTP server...")
	if err := a.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
