// Package extraction turns a raw driver message batch into stored messages and
// media attachments. A failing attachment never fails its message or the batch.
package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/wa-session-broker/internal/errors"
	"github.com/openclaw/wa-session-broker/internal/model"
)

// Window is a closed time range: both bounds are included.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

type Fetcher interface {
	Fetch(ctx context.Context, msg model.RawMessage) (data []byte, mimeType string, err error)
}

type BlobStore interface {
	Put(ctx context.Context, chatID, mimeType string, data []byte) (locator string, err error)
}

// Store persists one message together with its attachment, if any, atomically.
type Store interface {
	SaveMessage(ctx context.Context, ownerID string, msg model.ExtractedMessage, media *model.MediaAttachment) error
	MarkMediaFailed(ctx context.Context, mediaID, reason string) error
}

// MediaQueue hands stored attachments to the downstream OCR stage.
type MediaQueue interface {
	Enqueue(ctx context.Context, ownerID string, att model.MediaAttachment) error
}

type Request struct {
	SessionID string
	OwnerID   string
	ChatID    string
	Window    Window
	Messages  []model.RawMessage
	// MediaDeadline bounds every media download in the batch. Attachments
	// still downloading when it passes are marked failed. Zero means only
	// the per-attachment timeout applies.
	MediaDeadline time.Time
}

type Result struct {
	Messages            []model.ExtractedMessage `json:"messages"`
	Attachments         []model.MediaAttachment  `json:"attachments"`
	ExtractedCount      int                      `json:"extractedCount"`
	MediaFailureCount   int                      `json:"mediaFailureCount"`
	PersistFailureCount int                      `json:"persistFailureCount,omitempty"`
	QueueFailureCount   int                      `json:"queueFailureCount,omitempty"`
	FilteredCount       int                      `json:"filteredCount"`
}

type Pipeline struct {
	fetcher         Fetcher
	blobs           BlobStore
	store           Store
	queue           MediaQueue
	downloadTimeout time.Duration
}

// NewPipeline wires the pipeline. store and queue may be nil, in which case
// results are returned without being persisted or queued.
func NewPipeline(fetcher Fetcher, blobs BlobStore, store Store, queue MediaQueue, downloadTimeout time.Duration) *Pipeline {
	return &Pipeline{
		fetcher:         fetcher,
		blobs:           blobs,
		store:           store,
		queue:           queue,
		downloadTimeout: downloadTimeout,
	}
}

func (p *Pipeline) Process(ctx context.Context, req Request) (*Result, error) {
	if req.Window.To.Before(req.Window.From) {
		return nil, apperrors.ValidationError("dateFrom must not be after dateTo")
	}

	res := &Result{
		Messages:    make([]model.ExtractedMessage, 0, len(req.Messages)),
		Attachments: make([]model.MediaAttachment, 0),
	}

	for _, raw := range req.Messages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		observed := raw.ObservedAt()
		if !req.Window.Contains(observed) {
			res.FilteredCount++
			continue
		}

		msg := model.ExtractedMessage{
			ID:         uuid.NewString(),
			ChatID:     req.ChatID,
			Sender:     raw.Sender(),
			Text:       raw.Body,
			HasMedia:   raw.HasMedia,
			ObservedAt: observed,
		}

		var att *model.MediaAttachment
		if raw.HasMedia {
			a := p.processMedia(ctx, msg, raw, req.MediaDeadline)
			if a.ProcessingStatus == model.MediaStatusFailed {
				res.MediaFailureCount++
			}
			att = &a
		}

		if err := p.save(ctx, req.OwnerID, msg, att); err != nil {
			log.Error().Err(err).
				Str("sessionId", req.SessionID).
				Str("messageId", raw.ID).
				Msg("failed to persist extracted message")
			res.PersistFailureCount++
		} else {
			res.ExtractedCount++
			if att != nil && att.ProcessingStatus == model.MediaStatusQueued {
				if !p.enqueue(ctx, req.OwnerID, att) {
					res.QueueFailureCount++
				}
			}
		}

		res.Messages = append(res.Messages, msg)
		if att != nil {
			res.Attachments = append(res.Attachments, *att)
		}
	}

	log.Info().
		Str("sessionId", req.SessionID).
		Str("chatId", req.ChatID).
		Int("received", len(req.Messages)).
		Int("extracted", res.ExtractedCount).
		Int("mediaFailures", res.MediaFailureCount).
		Int("queueFailures", res.QueueFailureCount).
		Int("filtered", res.FilteredCount).
		Msg("messages extracted")

	return res, nil
}

func (p *Pipeline) processMedia(ctx context.Context, msg model.ExtractedMessage, raw model.RawMessage, deadline time.Time) model.MediaAttachment {
	att := model.MediaAttachment{
		ID:               uuid.NewString(),
		MessageRef:       msg.ID,
		MimeType:         raw.MediaType,
		ProcessingStatus: model.MediaStatusQueued,
	}
	if raw.Media != nil && raw.Media.MimeType != "" {
		att.MimeType = raw.Media.MimeType
	}

	fail := func(err error) model.MediaAttachment {
		appErr := apperrors.MediaDownload(err)
		log.Warn().Err(err).Str("chatId", msg.ChatID).Str("messageId", raw.ID).Msg("media download failed")
		att.ProcessingStatus = model.MediaStatusFailed
		reason := appErr.Error()
		att.ErrorMessage = &reason
		return att
	}

	dctx, cancel := context.WithTimeout(ctx, p.downloadTimeout)
	defer cancel()
	if !deadline.IsZero() {
		var cancelDeadline context.CancelFunc
		dctx, cancelDeadline = context.WithDeadline(dctx, deadline)
		defer cancelDeadline()
	}

	data, mimeType, err := p.fetcher.Fetch(dctx, raw)
	if err != nil {
		return fail(err)
	}
	if mimeType != "" {
		att.MimeType = mimeType
	}

	locator, err := p.blobs.Put(dctx, msg.ChatID, att.MimeType, data)
	if err != nil {
		return fail(err)
	}
	att.StorageLocator = locator
	return att
}

func (p *Pipeline) save(ctx context.Context, ownerID string, msg model.ExtractedMessage, att *model.MediaAttachment) error {
	if p.store == nil {
		return nil
	}
	return p.store.SaveMessage(ctx, ownerID, msg, att)
}

// enqueue hands att to the OCR queue and reports whether it was accepted.
func (p *Pipeline) enqueue(ctx context.Context, ownerID string, att *model.MediaAttachment) bool {
	if p.queue == nil {
		return true
	}
	err := p.queue.Enqueue(ctx, ownerID, *att)
	if err == nil {
		return true
	}
	log.Warn().Err(err).Str("mediaId", att.ID).Msg("failed to queue media for ocr")

	// A queued row nobody will pick up is marked failed so the janitor reclaims it.
	reason := fmt.Sprintf("ocr hand-off failed: %v", err)
	att.ProcessingStatus = model.MediaStatusFailed
	att.ErrorMessage = &reason
	if p.store == nil {
		return false
	}
	if err := p.store.MarkMediaFailed(ctx, att.ID, reason); err != nil {
		log.Error().Err(err).Str("mediaId", att.ID).Msg("failed to mark media as failed")
	}
	return false
}
