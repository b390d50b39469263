package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wagate/gateway-server-go/internal/errors"
	"github.com/wagate/gateway-server-go/internal/model"
	"github.com/wagate/gateway-server-go/internal/token"
	"github.com/wagate/gateway-server-go/internal/util"
)

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func newAuthService(users *mockUserRepo) *AuthService {
	return NewAuthService(users, token.NewManager("session-secret", "access-secret"))
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("registers a new user", func(t *testing.T) {
		users := new(mockUserRepo)
		svc := newAuthService(users)

		users.On("FindByUsername", ctx, "alice").Return(nil, nil)
		users.On("Create", ctx, mock.MatchedBy(func(p model.CreateUserParams) bool {
			return p.Username == "alice" && p.ID != "" && util.CheckPasswordHash("hunter2hunter2", p.PasswordHash)
		})).Return(&model.User{ID: "user-1", Username: "alice"}, nil)

		result, err := svc.Register(ctx, "alice", "hunter2hunter2")

		require.NoError(t, err)
		assert.Equal(t, "user-1", result.UserID)
		assert.NotEmpty(t, result.AccessToken)
		users.AssertExpectations(t)
	})

	t.Run("rejects a taken username", func(t *testing.T) {
		users := new(mockUserRepo)
		svc := newAuthService(users)

		users.On("FindByUsername", ctx, "alice").Return(&model.User{ID: "user-1", Username: "alice"}, nil)

		_, err := svc.Register(ctx, "alice", "hunter2hunter2")

		assert.Equal(t, apperrors.ErrCodeAlreadyExists, apperrors.GetCode(err))
	})

	t.Run("rejects a short password", func(t *testing.T) {
		users := new(mockUserRepo)
		svc := newAuthService(users)

		_, err := svc.Register(ctx, "alice", "short")

		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})

	t.Run("rejects a blank username", func(t *testing.T) {
		users := new(mockUserRepo)
		svc := newAuthService(users)

		_, err := svc.Register(ctx, "   ", "hunter2hunter2")

		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
	})
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials", func(t *testing.T) {
		users := new(mockUserRepo)
		svc := newAuthService(users)

		hash, err := util.HashPassword("hunter2hunter2")
		require.NoError(t, err)
		users.On("FindByUsername", ctx, "alice").Return(&model.User{ID: "user-1", Username: "alice", PasswordHash: hash}, nil)

		result, err := svc.Login(ctx, "alice", "hunter2hunter2")

		require.NoError(t, err)
		assert.Equal(t, "user-1", result.UserID)
		assert.NotEmpty(t, result.AccessToken)
	})

	t.Run("wrong password", func(t *testing.T) {
		users := new(mockUserRepo)
		svc := newAuthService(users)

		hash, err := util.HashPassword("hunter2hunter2")
		require.NoError(t, err)
		users.On("FindByUsername", ctx, "alice").Return(&model.User{ID: "user-1", Username: "alice", PasswordHash: hash}, nil)

		_, err = svc.Login(ctx, "alice", "wrong")

		assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.GetCode(err))
	})

	t.Run("unknown user gets the same error as a bad password", func(t *testing.T) {
		users := new(mockUserRepo)
		svc := newAuthService(users)

		users.On("FindByUsername", ctx, "ghost").Return(nil, nil)

		_, err := svc.Login(ctx, "ghost", "whatever")

		assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.GetCode(err))
	})
}
