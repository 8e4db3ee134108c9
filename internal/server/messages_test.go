package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow(t *testing.T) {
	now := Now()
	assert.Equal(t, time.UTC, now.Location(), "expected UTC timestamps")
	assert.Equal(t, now, now.Round(time.Millisecond), "expected millisecond precision")
}

func Test_responseConstructors(t *testing.T) {
	tcases := []struct {
		name         string
		msg          *ServerMessage
		expectedCode int
	}{
		{"ok", NoErrOK(1, nil), http.StatusOK},
		{"accepted", NoErrAccepted(1), http.StatusAccepted},
		{"chat not found", ErrChatNotFound(1), http.StatusNotFound},
		{"not a member", ErrNotChatMember(1), http.StatusForbidden},
		{"empty publish", ErrEmptyPublish(1), http.StatusBadRequest},
		{"internal error", ErrInternalError(1), http.StatusInternalServerError},
		{"service unavailable", ErrServiceUnavailable(1), http.StatusServiceUnavailable},
		{"invalid message", ErrInvalidMessage(1), http.StatusBadRequest},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotNil(t, tc.msg.Response, "expected a response payload")
			assert.Equal(t, tc.expectedCode, tc.msg.Response.ResponseCode)
			assert.Equal(t, 1, tc.msg.Id, "expected response to echo the request id")
			assert.False(t, tc.msg.Timestamp.IsZero(), "expected a timestamp")
		})
	}
}

func TestErrInvalidMessageWithoutId(t *testing.T) {
	msg := ErrInvalidMessage(-1)
	assert.Equal(t, 0, msg.Id, "expected no id echoed for unparseable messages")
}
