// Package notify delivers best-effort notifications after successful
// document publications, so downstream dataset builders can react without
// polling the record store.
package notify

import (
	"context"
	"time"
)

// Message is the payload sent after one record is published.
type Message struct {
	RecordID     string    `json:"record_id"`
	Source       string    `json:"source"`
	PublishedURL string    `json:"published_url"`
	ItemID       string    `json:"item_id,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
}

// Notifier publishes Messages. Implementations must not block the pipeline;
// delivery failures are logged by callers, never fatal.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
	Close() error
}

// NoOp discards all notifications.
type NoOp struct{}

// Notify implements Notifier.
func (NoOp) Notify(context.Context, Message) error { return nil }

// Close implements Notifier.
func (NoOp) Close() error { return nil }
