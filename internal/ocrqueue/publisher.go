// Package ocrqueue hands stored media attachments to the OCR stage over Kafka.
package ocrqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/openclaw/wa-session-broker/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Job is the payload published for every queued attachment.
type Job struct {
	MediaID        string    `json:"mediaId"`
	MessageID      string    `json:"messageId"`
	OwnerID        string    `json:"ownerId"`
	MimeType       string    `json:"mimeType"`
	StorageLocator string    `json:"storageLocator"`
	QueuedAt       time.Time `json:"queuedAt"`
}

type Publisher struct {
	writer messageWriter
	topic  string
}

func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("ocr publisher requires at least one broker")
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

// Enqueue publishes att keyed by owner so one owner's media stays ordered.
func (p *Publisher) Enqueue(ctx context.Context, ownerID string, att model.MediaAttachment) error {
	payload, err := json.Marshal(Job{
		MediaID:        att.ID,
		MessageID:      att.MessageRef,
		OwnerID:        ownerID,
		MimeType:       att.MimeType,
		StorageLocator: att.StorageLocator,
		QueuedAt:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode ocr job: %w", err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(ownerID),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
