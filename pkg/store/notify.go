package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Change describes one successful save.
type Change struct {
	DocumentID     string    `json:"document_id"`
	UpdatedAt      time.Time `json:"updated_at"`
	ContentLength  int       `json:"content_length"`
	ContributorIDs []string  `json:"contributor_ids,omitempty"`
}

// Notifier is told about every document save.
type Notifier interface {
	DocumentChanged(ctx context.Context, change Change) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, change Change) error

// DocumentChanged calls f.
func (f NotifierFunc) DocumentChanged(ctx context.Context, change Change) error {
	return f(ctx, change)
}

// NotifyingStore wraps a Store and reports successful saves to a Notifier.
// Notifier failures are logged and never fail the save.
type NotifyingStore struct {
	Store
	notifier Notifier
	logger   *slog.Logger
}

// NewNotifyingStore wraps base. If logger is nil, slog.Default() is used.
func NewNotifyingStore(base Store, notifier Notifier, logger *slog.Logger) *NotifyingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyingStore{
		Store:    base,
		notifier: notifier,
		logger:   logger.With("component", "store_notifier"),
	}
}

// SaveSnapshot saves through the wrapped store, then notifies.
func (n *NotifyingStore) SaveSnapshot(ctx context.Context, documentID string, snap Snapshot) error {
	if err := n.Store.SaveSnapshot(ctx, documentID, snap); err != nil {
		return err
	}

	change := Change{
		DocumentID:     documentID,
		UpdatedAt:      snap.UpdatedAt,
		ContentLength:  len([]rune(snap.Content)),
		ContributorIDs: snap.ContributorIDs,
	}
	if err := n.notifier.DocumentChanged(ctx, change); err != nil {
		n.logger.Warn("change notification failed",
			"document_id", documentID,
			"error", err)
	}
	return nil
}

// DefaultChangeChannel is the Redis channel RedisNotifier publishes on.
const DefaultChangeChannel = "docsync:changed"

// RedisNotifier publishes changes as JSON on a Redis channel.
type RedisNotifier struct {
	client  RedisClient
	channel string
}

// NewRedisNotifier creates a notifier publishing on DefaultChangeChannel.
func NewRedisNotifier(client RedisClient) *RedisNotifier {
	return &RedisNotifier{client: client, channel: DefaultChangeChannel}
}

// WithChannel overrides the channel name.
func (r *RedisNotifier) WithChannel(channel string) *RedisNotifier {
	r.channel = channel
	return r
}

// DocumentChanged publishes change.
func (r *RedisNotifier) DocumentChanged(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}
