package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avolkov/go-messenger/internal/config"
	"github.com/avolkov/go-messenger/internal/database"
	"github.com/avolkov/go-messenger/internal/server"
	"github.com/avolkov/go-messenger/internal/testutil"
)

func TestNewMessengerApp(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	cs := &server.ChatServer{}
	db := &database.MockMessengerRepository{}
	cfg := &config.Config{
		ServerAddr:     "localhost:8080",
		DatabaseDSN:    "dsn",
		SigningKey:     []byte("secret"),
		AllowedOrigins: []string{"http://localhost:3000"},
	}

	app := NewMessengerApp(mux, logger, cs, db, nil, cfg)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.Equal(t, logger, app.log, "expected logger to be set")
	assert.Equal(t, db, app.db, "expected db to be set")
	assert.Equal(t, cs, app.cs, "expected chat server to be set")
	assert.NotNil(t, app.validate, "expected validator to be initialized")
	assert.Equal(t, cfg.SigningKey, app.signingKey, "expected signing key to be set")
	assert.Equal(t, cfg.AllowedOrigins, app.allowedOrigins, "expected allowed origins to be set")
	assert.Equal(t, cfg.ServerAddr, app.srv.Addr, "expected server address to match config")
}

func Test_generateChatId(t *testing.T) {
	app := newTestApp(t, &database.MockMessengerRepository{})

	id, err := app.generateChatId()
	assert.NoError(t, err, "expected id generation to succeed")
	assert.NotEmpty(t, id, "expected a non-empty chat id")

	other, err := app.generateChatId()
	assert.NoError(t, err)
	assert.NotEqual(t, id, other, "expected ids to be unique")
}
