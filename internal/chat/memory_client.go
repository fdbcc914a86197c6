package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryClient is an in-process Client double for tests: it records every
// call instead of talking to a real chat platform.
type MemoryClient struct {
	mu sync.Mutex

	Views      map[string]View
	Messages   []sentMessage
	Ephemerals []sentMessage

	// FailNextUpdate, if set, makes the next UpdateView call return this
	// error once, then clears itself. PostMessage, the only call notify
	// retries, has no such hook.
	FailNextUpdate error
}

type sentMessage struct {
	UserID    string
	ChannelID string
	Message   Message
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{Views: make(map[string]View)}
}

func (c *MemoryClient) OpenView(ctx context.Context, triggerID string, view View) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	viewID := "view-" + uuid.NewString()
	c.Views[viewID] = view
	return viewID, nil
}

func (c *MemoryClient) UpdateView(ctx context.Context, viewID string, view View) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailNextUpdate != nil {
		err := c.FailNextUpdate
		c.FailNextUpdate = nil
		return err
	}
	if _, ok := c.Views[viewID]; !ok {
		return fmt.Errorf("update view: unknown view id %s", viewID)
	}
	c.Views[viewID] = view
	return nil
}

func (c *MemoryClient) PostMessage(ctx context.Context, userID string, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Messages = append(c.Messages, sentMessage{UserID: userID, Message: msg})
	return nil
}

func (c *MemoryClient) PostEphemeral(ctx context.Context, userID, channelID string, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Ephemerals = append(c.Ephemerals, sentMessage{UserID: userID, ChannelID: channelID, Message: msg})
	return nil
}
