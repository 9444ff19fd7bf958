package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mfenderov/elf/internal/messaging"
)

func failure(err error) *messaging.Response {
	return &messaging.Response{Success: false, Error: err.Error()}
}

func (c *Coordinator) handleContentExtracted(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
	if err := c.RecordExtraction(ctx, msg.Data); err != nil {
		slog.Warn("failed to store extraction", "error", err)
		return failure(err), nil
	}
	return messaging.OK(), nil
}

// relay forwards tab notifications to every open panel.
func (c *Coordinator) relay(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
	c.bus.Publish(msg)
	return messaging.OK(), nil
}

func (c *Coordinator) handleGetState(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
	return &messaging.Response{Success: true, Enabled: c.Enabled(ctx)}, nil
}

func (c *Coordinator) handleStateChanged(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
	if msg.Enabled == nil {
		return failure(fmt.Errorf("missing enabled flag")), nil
	}
	if err := c.SetEnabled(ctx, *msg.Enabled); err != nil {
		return failure(err), nil
	}
	c.bus.Publish(msg)
	return &messaging.Response{Success: true, Enabled: *msg.Enabled}, nil
}

func (c *Coordinator) handleExtractNow(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
	resp, err := c.bus.SendToTab(ctx, msg.TabID, messaging.Message{Type: messaging.TriggerExtraction})
	if err != nil {
		slog.Debug("extract now failed", "tab", msg.TabID, "error", err)
		return failure(err), nil
	}
	return resp, nil
}

func (c *Coordinator) handleGetAPIURL(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
	return &messaging.Response{Success: true, APIURL: c.APIURL(ctx)}, nil
}

func (c *Coordinator) handleSetAPIURL(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
	if err := c.SetAPIURL(ctx, msg.APIURL); err != nil {
		return failure(err), nil
	}
	return &messaging.Response{Success: true, APIURL: c.APIURL(ctx)}, nil
}

func (c *Coordinator) handleOpenSidePanel(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
	if c.config.Panel == nil {
		return failure(fmt.Errorf("side panel unavailable")), nil
	}
	if err := c.config.Panel.OpenPanel(ctx, msg.TabID); err != nil {
		return failure(err), nil
	}
	return messaging.OK(), nil
}
