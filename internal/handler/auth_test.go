package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wagate/gateway-server-go/internal/errors"
	"github.com/wagate/gateway-server-go/internal/service"
)

type mockAuthenticator struct {
	mock.Mock
}

func (m *mockAuthenticator) Register(ctx context.Context, username, password string) (*service.AuthResult, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AuthResult), args.Error(1)
}

func (m *mockAuthenticator) Login(ctx context.Context, username, password string) (*service.AuthResult, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AuthResult), args.Error(1)
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthHandler_Register(t *testing.T) {
	t.Run("creates a user", func(t *testing.T) {
		auth := new(mockAuthenticator)
		auth.On("Register", mock.Anything, "alice", "hunter2hunter2").
			Return(&service.AuthResult{UserID: "user-1", Username: "alice", AccessToken: "tok"}, nil)
		router := NewAuthHandler(auth).Routes()

		rec := postJSON(t, router, "/register", map[string]string{
			"username": "alice",
			"password": "hunter2hunter2",
		})

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"accessToken":"tok"`)
	})

	t.Run("maps duplicate username to 409", func(t *testing.T) {
		auth := new(mockAuthenticator)
		auth.On("Register", mock.Anything, "alice", "hunter2hunter2").
			Return(nil, apperrors.AlreadyExists("Username"))
		router := NewAuthHandler(auth).Routes()

		rec := postJSON(t, router, "/register", map[string]string{
			"username": "alice",
			"password": "hunter2hunter2",
		})

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "ALREADY_EXISTS")
	})

	t.Run("rejects a malformed body", func(t *testing.T) {
		router := NewAuthHandler(new(mockAuthenticator)).Routes()

		req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString("{nope"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuthHandler_Login(t *testing.T) {
	t.Run("returns an access token", func(t *testing.T) {
		auth := new(mockAuthenticator)
		auth.On("Login", mock.Anything, "alice", "hunter2hunter2").
			Return(&service.AuthResult{UserID: "user-1", Username: "alice", AccessToken: "tok"}, nil)
		router := NewAuthHandler(auth).Routes()

		rec := postJSON(t, router, "/login", map[string]string{
			"username": "alice",
			"password": "hunter2hunter2",
		})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"accessToken":"tok"`)
	})

	t.Run("maps bad credentials to 401", func(t *testing.T) {
		auth := new(mockAuthenticator)
		auth.On("Login", mock.Anything, "alice", "wrong").
			Return(nil, apperrors.Unauthorized("Invalid username or password"))
		router := NewAuthHandler(auth).Routes()

		rec := postJSON(t, router, "/login", map[string]string{
			"username": "alice",
			"password": "wrong",
		})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
