package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/wa-session-broker/internal/database"
	"github.com/openclaw/wa-session-broker/internal/model"
)

// SessionRepository stores the durable projection of session records.
type SessionRepository interface {
	SaveSession(ctx context.Context, s model.Session) error
	FindByID(ctx context.Context, id string) (*model.Session, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Session, error)
	ListSessions(ctx context.Context) ([]model.Session, error)
	DeleteSession(ctx context.Context, id string) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

const sessionColumns = `
	session_id, owner_id, status, qr_code, qr_issued_at, phone_number,
	error_message, created_at, connected_at, ended_at, updated_at`

type sessionRepo struct {
	db database.DBTX
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) SaveSession(ctx context.Context, s model.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO whatsapp_sessions
			(session_id, owner_id, status, connected, qr_code, qr_issued_at, phone_number,
			 error_message, created_at, connected_at, ended_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			connected = EXCLUDED.connected,
			qr_code = EXCLUDED.qr_code,
			qr_issued_at = EXCLUDED.qr_issued_at,
			phone_number = EXCLUDED.phone_number,
			error_message = EXCLUDED.error_message,
			connected_at = EXCLUDED.connected_at,
			ended_at = EXCLUDED.ended_at,
			updated_at = EXCLUDED.updated_at
	`, s.ID, s.OwnerID, s.State, s.Connected(), s.QRPayload, s.QRIssuedAt, s.PhoneNumber,
		s.LastErrorMessage, s.CreatedAt, s.ConnectedAt, s.EndedAt, s.UpdatedAt)
	return err
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := r.db.GetContext(ctx, &s, `
		SELECT `+sessionColumns+` FROM whatsapp_sessions WHERE session_id = $1
	`, id)
	return HandleNotFound(&s, err)
}

func (r *sessionRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+` FROM whatsapp_sessions
		WHERE owner_id = $1
		ORDER BY created_at ASC
	`, ownerID)
	return sessions, err
}

func (r *sessionRepo) ListSessions(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+` FROM whatsapp_sessions
		ORDER BY created_at ASC
	`)
	return sessions, err
}

func (r *sessionRepo) DeleteSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM whatsapp_sessions WHERE session_id = $1`, id)
	return err
}
