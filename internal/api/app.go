package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/avolkov/go-messenger/internal/config"
	"github.com/avolkov/go-messenger/internal/database"
	"github.com/avolkov/go-messenger/internal/server"
)

type MessengerApp struct {
	log            *log.Logger
	db             database.MessengerRepository
	srv            *http.Server
	cs             *server.ChatServer
	validate       *validator.Validate
	signingKey     []byte
	allowedOrigins []string
}

func NewMessengerApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer,
	db database.MessengerRepository, metricsHandler http.Handler, cfg *config.Config) *MessengerApp {
	a := &MessengerApp{
		log:            logger,
		db:             db,
		cs:             cs,
		validate:       validator.New(),
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", a.register)
	mux.HandleFunc("POST /api/auth/login", a.login)
	mux.HandleFunc("GET /api/auth/session", a.authMiddleware(a.session))
	mux.HandleFunc("GET /api/auth/logout", a.authMiddleware(a.logout))
	mux.HandleFunc("PUT /api/account", a.authMiddleware(a.updateAccount))
	mux.HandleFunc("GET /api/chats", a.authMiddleware(a.listChats))
	mux.HandleFunc("POST /api/chats/direct", a.authMiddleware(a.createDirectChat))
	mux.HandleFunc("POST /api/chats/group", a.authMiddleware(a.createGroupChat))
	mux.HandleFunc("GET /api/messages", a.authMiddleware(a.listMessages))
	mux.HandleFunc("POST /api/messages", a.authMiddleware(a.sendMessage))
	mux.HandleFunc("POST /api/users/search", a.authMiddleware(a.searchUsers))
	mux.HandleFunc("GET /ws", a.authMiddleware(a.serveWs))
	mux.HandleFunc("GET /healthz", a.healthCheck)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = a.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	a.srv = srv
	return a
}

func (a *MessengerApp) generateChatId() (string, error) {
	return shortid.Generate()
}

func (a *MessengerApp) Start() error {
	a.log.Printf("starting server on %s\n", a.srv.Addr)
	return a.srv.ListenAndServe()
}

func (a *MessengerApp) Shutdown(ctx context.Context) error {
	a.log.Println("shutting down HTTP server...")
	if err := a.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
