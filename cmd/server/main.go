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

	"github.com/joho/godotenv"

	"github.com/avolkov/go-messenger/internal/api"
	"github.com/avolkov/go-messenger/internal/config"
	"github.com/avolkov/go-messenger/internal/database"
	"github.com/avolkov/go-messenger/internal/metrics"
	"github.com/avolkov/go-messenger/internal/server"
)

type stringSliceFlag []string

func (f *stringSliceFlag) String() string {
	return strings.Join(*f, ",")
}

func (f *stringSliceFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := log.New(os.Stderr, "[go-messenger] ", log.LstdFlags)

	// a .env file is optional, environment wins either way
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Println("load .env:", err)
	}

	var allowedOrigins stringSliceFlag
	addr := flag.String("addr", envOr("MESSENGER_ADDR", "localhost:8000"), "server address")
	dsn := flag.String("dsn", envOr("MESSENGER_DATABASE_DSN",
		"host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "postgres DSN")
	signingSecret := flag.String("signing-secret", os.Getenv("MESSENGER_SIGNING_SECRET"),
		"base64-encoded JWT signing secret")
	flag.Var(&allowedOrigins, "allowed-origin", "allowed CORS origin (repeatable)")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if env := os.Getenv("MESSENGER_ALLOWED_ORIGINS"); env != "" {
			allowedOrigins = strings.Split(env, ",")
		} else {
			allowedOrigins = []string{"http://localhost:8000"}
		}
	}

	cfg, err := config.NewConfig(*addr, *dsn, *signingSecret, allowedOrigins)
	if err != nil {
		logger.Fatalln("config:", err)
	}

	db, err := database.NewPgMessengerRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatalln("db open:", err)
	}

	defer func() {
		if err := db.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if err := db.Migrate(); err != nil {
		logger.Fatalln("migrate:", err)
	}

	stats := metrics.NewPromProvider()

	chatServer, err := server.NewChatServer(logger, db, stats)
	if err != nil {
		logger.Fatalln("chat server:", err)
	}
	go chatServer.Run()

	app := api.NewMessengerApp(http.NewServeMux(), logger, chatServer, db, stats.Handler(), cfg)

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
		logger.Println("shutdown:", err)
	}

	logger.Println("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
