package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/wagate/gateway-server-go/internal/model"
)

// IsUniqueViolation reports whether err is a Postgres duplicate-key error.
// Callers racing on the same primary key use it to fall back to the existing
// row instead of failing.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type WaSessionRepository interface {
	Create(ctx context.Context, params model.CreateWaSessionParams) (*model.WaSession, error)
	FindByAccountID(ctx context.Context, accountID string) (*model.WaSession, error)
	FindByUserAndAccount(ctx context.Context, userID, accountID string) (*model.WaSession, error)
	FindAllByUserID(ctx context.Context, userID string) ([]model.WaSession, error)
	FindAll(ctx context.Context) ([]model.WaSession, error)
	CountByUserID(ctx context.Context, userID string) (int, error)
	// UpdateStatus touches only the status and last_updated columns so
	// concurrent webhook updates on sibling records are never clobbered.
	UpdateStatus(ctx context.Context, accountID string, status model.SessionStatus) error
	SetWebhookURL(ctx context.Context, userID, accountID string, url *string) (bool, error)
	// DeleteByUserAndAccount removes the record only when it belongs to the
	// given user; returns whether a row was deleted.
	DeleteByUserAndAccount(ctx context.Context, userID, accountID string) (bool, error)
}

type waSessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type waSessionRepo struct {
	db waSessionDB
}

func NewWaSessionRepository(db *sqlx.DB) WaSessionRepository {
	return &waSessionRepo{db: db}
}

func (r *waSessionRepo) Create(ctx context.Context, params model.CreateWaSessionParams) (*model.WaSession, error) {
	var session model.WaSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO wa_sessions (account_id, user_id, session_token, status, use_pairing_code)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.AccountID, params.UserID, params.SessionToken, params.Status, params.UsePairingCode)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *waSessionRepo) FindByAccountID(ctx context.Context, accountID string) (*model.WaSession, error) {
	var session model.WaSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM wa_sessions WHERE account_id = $1
	`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *waSessionRepo) FindByUserAndAccount(ctx context.Context, userID, accountID string) (*model.WaSession, error) {
	var session model.WaSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM wa_sessions WHERE user_id = $1 AND account_id = $2
	`, userID, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *waSessionRepo) FindAllByUserID(ctx context.Context, userID string) ([]model.WaSession, error) {
	sessions := []model.WaSession{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM wa_sessions
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *waSessionRepo) FindAll(ctx context.Context) ([]model.WaSession, error) {
	sessions := []model.WaSession{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM wa_sessions
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *waSessionRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM wa_sessions WHERE user_id = $1
	`, userID)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *waSessionRepo) UpdateStatus(ctx context.Context, accountID string, status model.SessionStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE wa_sessions SET
			status = $2,
			last_updated = $3
		WHERE account_id = $1
	`, accountID, status, time.Now())
	return err
}

func (r *waSessionRepo) SetWebhookURL(ctx context.Context, userID, accountID string, url *string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE wa_sessions SET
			webhook_url = $3,
			last_updated = $4
		WHERE user_id = $1 AND account_id = $2
	`, userID, accountID, url, time.Now())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *waSessionRepo) DeleteByUserAndAccount(ctx context.Context, userID, accountID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM wa_sessions
		WHERE user_id = $1 AND account_id = $2
	`, userID, accountID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
