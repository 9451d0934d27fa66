package lifecycle

import (
	"context"
	"iter"
	"time"

	"playtestbot/internal/model"
)

// HistoryReader reads channel history.
type HistoryReader interface {
	// History yields the messages of channel posted after the given instant,
	// oldest first, with their current reactions.
	History(ctx context.Context, channel model.ChannelRef, after time.Time) iter.Seq2[model.Message, error]
}

// ResourceManager creates and destroys ephemeral resources.
type ResourceManager interface {
	// Resources lists the live ephemeral resources.
	Resources(ctx context.Context) ([]model.Resource, error)
	// CreateResource clones template under the given label.
	CreateResource(ctx context.Context, template model.ChannelRef, label string) (model.Resource, error)
	DestroyResource(ctx context.Context, id string) error
}

// Notification is a post to a channel.
type Notification struct {
	Text string
	// ImageURL is attached when non-empty.
	ImageURL string
}

// Notifier posts notifications.
type Notifier interface {
	Notify(ctx context.Context, channel model.ChannelRef, n Notification) error
}

// Platform is everything the lifecycle needs from the chat platform.
// Implementations are expected to bound each call with their own timeout.
type Platform interface {
	HistoryReader
	ResourceManager
	Notifier
}
