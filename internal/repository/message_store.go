package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/wa-session-broker/internal/database"
	"github.com/openclaw/wa-session-broker/internal/model"
)

// MessageStore writes an extracted message and its attachment in one transaction.
type MessageStore struct {
	db       *database.DB
	messages MessageRepository
}

func NewMessageStore(db *database.DB, messages MessageRepository) *MessageStore {
	return &MessageStore{db: db, messages: messages}
}

func (s *MessageStore) SaveMessage(ctx context.Context, ownerID string, msg model.ExtractedMessage, media *model.MediaAttachment) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		repo := s.messages.WithTx(tx)
		if err := repo.CreateMessage(ctx, ownerID, msg); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if media == nil {
			return nil
		}
		if err := repo.CreateMediaFile(ctx, ownerID, *media); err != nil {
			return fmt.Errorf("insert media file: %w", err)
		}
		return nil
	})
}

func (s *MessageStore) MarkMediaFailed(ctx context.Context, mediaID, reason string) error {
	return s.messages.UpdateMediaStatus(ctx, mediaID, model.MediaStatusFailed, &reason)
}
