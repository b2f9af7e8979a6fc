package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/wa-session-broker/internal/database"
	"github.com/openclaw/wa-session-broker/internal/model"
)

type MessageRepository interface {
	CreateMessage(ctx context.Context, ownerID string, msg model.ExtractedMessage) error
	CreateMediaFile(ctx context.Context, ownerID string, att model.MediaAttachment) error
	FindByChat(ctx context.Context, ownerID, chatID string, from, to time.Time) ([]model.ExtractedMessage, error)
	FindMediaByMessage(ctx context.Context, messageID string) ([]model.MediaAttachment, error)
	UpdateMediaStatus(ctx context.Context, id string, status model.MediaStatus, errMsg *string) error
	DeleteFailedMediaBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) MessageRepository
}

type messageRepo struct {
	db database.DBTX
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) WithTx(tx *sqlx.Tx) MessageRepository {
	return &messageRepo{db: tx}
}

func (r *messageRepo) CreateMessage(ctx context.Context, ownerID string, msg model.ExtractedMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, owner_id, chat_id, sender, text, has_media, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, ownerID, msg.ChatID, msg.Sender, msg.Text, msg.HasMedia, msg.ObservedAt)
	return err
}

func (r *messageRepo) CreateMediaFile(ctx context.Context, ownerID string, att model.MediaAttachment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO media_files (id, message_id, owner_id, mime_type, storage_path, processing_status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, att.ID, att.MessageRef, ownerID, att.MimeType, att.StorageLocator, att.ProcessingStatus, att.ErrorMessage)
	return err
}

func (r *messageRepo) FindByChat(ctx context.Context, ownerID, chatID string, from, to time.Time) ([]model.ExtractedMessage, error) {
	var msgs []model.ExtractedMessage
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT id, chat_id, sender, text, has_media, observed_at FROM messages
		WHERE owner_id = $1 AND chat_id = $2 AND observed_at BETWEEN $3 AND $4
		ORDER BY observed_at ASC
	`, ownerID, chatID, from, to)
	return msgs, err
}

func (r *messageRepo) FindMediaByMessage(ctx context.Context, messageID string) ([]model.MediaAttachment, error) {
	var media []model.MediaAttachment
	err := r.db.SelectContext(ctx, &media, `
		SELECT id, message_id, mime_type, storage_path, processing_status, error_message FROM media_files
		WHERE message_id = $1
	`, messageID)
	return media, err
}

func (r *messageRepo) UpdateMediaStatus(ctx context.Context, id string, status model.MediaStatus, errMsg *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE media_files SET
			processing_status = $2,
			error_message = $3,
			updated_at = NOW()
		WHERE id = $1
	`, id, status, errMsg)
	return err
}

func (r *messageRepo) DeleteFailedMediaBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM media_files
		WHERE processing_status = 'failed' AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
