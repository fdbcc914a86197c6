// Package chat defines the chat-platform transport boundary (§6): the
// Client interface every handler and dispatcher depends on, the inbound
// event shapes the orchestrator routes on, and a MemoryClient test double.
package chat

import "context"

// View is an opaque modal payload; its structure is owned by
// internal/chat/blocks.
type View map[string]any

// Message is a single outbound chat message, built from blocks.
type Message struct {
	Blocks []map[string]any
	Text   string // fallback text for notification previews
}

// Client is every chat-platform operation the system depends on.
// Implementations must acknowledge within the platform's own deadline;
// callers are responsible for the 3s ack budget (§5), not this interface.
type Client interface {
	OpenView(ctx context.Context, triggerID string, view View) (viewID string, err error)
	UpdateView(ctx context.Context, viewID string, view View) error
	PostMessage(ctx context.Context, userID string, msg Message) error
	PostEphemeral(ctx context.Context, userID, channelID string, msg Message) error
}

// EventType distinguishes the inbound interaction shapes the orchestrator
// routes on (§2, §4.1).
type EventType string

const (
	EventSlashCommand  EventType = "slash_command"
	EventBlockAction   EventType = "block_action"
	EventViewSubmission EventType = "view_submission"
	EventHomeOpened    EventType = "home_opened"
)

// Event is the inbound payload from the chat platform, normalized across
// the four interaction shapes above.
type Event struct {
	Type      EventType
	UserID    string
	ChannelID string
	TriggerID string // valid ≤3s; never used from a detached task (§5)
	ViewID    string
	ActionID  string
	Values    map[string]string
}
