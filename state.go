package courier

import (
	"context"
	"fmt"

	"github.com/opd-ai/courier/protocol"
)

// GetMessagesState fetches per-device delivery status for a batch of
// message ids in one round trip. Unknown ids map to a singleton UNKNOWN
// status.
func (c *Client) GetMessagesState(ctx context.Context, messageIDs []string) (protocol.StateResult, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if len(messageIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one message id required", ErrValidation)
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	return c.coordinator.QueryStatus(cctx, messageIDs)
}

// GetAllTags returns the tags attached to a message.
func (c *Client) GetAllTags(ctx context.Context, messageID string) ([]string, error) {
	return c.getList(ctx, protocol.CmdGetTags, messageID)
}

// SetAllTags replaces the message's full tag set. A nil or empty list
// clears every tag.
func (c *Client) SetAllTags(ctx context.Context, messageID string, tags []string) error {
	return c.setList(ctx, protocol.CmdSetTags, messageID, tags)
}

// AddTags adds tags to a message. The list must be non-empty and every
// value must pass format validation.
func (c *Client) AddTags(ctx context.Context, messageID string, tags []string) error {
	return c.mutateList(ctx, protocol.CmdAddTags, messageID, tags)
}

// RemoveTags removes tags from a message. The list must be non-empty
// and every value must pass format validation.
func (c *Client) RemoveTags(ctx context.Context, messageID string, tags []string) error {
	return c.mutateList(ctx, protocol.CmdRemoveTags, messageID, tags)
}

// GetEvents returns the events attached to a message.
func (c *Client) GetEvents(ctx context.Context, messageID string) ([]string, error) {
	return c.getList(ctx, protocol.CmdGetEvents, messageID)
}

// SetEvents replaces the message's full event set. A nil or empty list
// clears every event.
func (c *Client) SetEvents(ctx context.Context, messageID string, events []string) error {
	return c.setList(ctx, protocol.CmdSetEvents, messageID, events)
}

// AddEvents adds events to a message. The list must be non-empty and
// every value must pass format validation.
func (c *Client) AddEvents(ctx context.Context, messageID string, events []string) error {
	return c.mutateList(ctx, protocol.CmdAddEvents, messageID, events)
}

// RemoveEvents removes events from a message. The list must be
// non-empty and every value must pass format validation.
func (c *Client) RemoveEvents(ctx context.Context, messageID string, events []string) error {
	return c.mutateList(ctx, protocol.CmdRemoveEvents, messageID, events)
}

// getList performs a get-style tag/event round trip.
func (c *Client) getList(ctx context.Context, cmd protocol.Command, messageID string) ([]string, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if messageID == "" {
		return nil, fmt.Errorf("%w: message id required", ErrValidation)
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()

	var resp protocol.TagList
	body := protocol.MsgID{IDType: protocol.IDTypeMessage, ID: messageID}
	if err := protocol.Call(cctx, c.opts.Exchanger, cmd, body, &resp); err != nil {
		return nil, err
	}
	return resp.Tags, nil
}

// setList performs a full-replacement tag/event round trip. Unlike
// add/remove, an empty list is a valid request that clears the set, but
// supplied values still pass format validation.
func (c *Client) setList(ctx context.Context, cmd protocol.Command, messageID string, values []string) error {
	if c.isClosed() {
		return ErrClosed
	}
	if messageID == "" {
		return fmt.Errorf("%w: message id required", ErrValidation)
	}
	if values == nil {
		values = []string{}
	}
	if len(values) > 0 {
		if err := protocol.ValidateTags(values); err != nil {
			return err
		}
	}
	return c.callList(ctx, cmd, messageID, values)
}

// mutateList performs an add or remove round trip; those require a
// non-empty validated list.
func (c *Client) mutateList(ctx context.Context, cmd protocol.Command, messageID string, values []string) error {
	if c.isClosed() {
		return ErrClosed
	}
	if messageID == "" {
		return fmt.Errorf("%w: message id required", ErrValidation)
	}
	if err := protocol.ValidateTags(values); err != nil {
		return err
	}
	return c.callList(ctx, cmd, messageID, values)
}

func (c *Client) callList(ctx context.Context, cmd protocol.Command, messageID string, values []string) error {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()

	body := protocol.TagList{IDType: protocol.IDTypeMessage, ID: messageID, Tags: values}
	var status protocol.Status
	return protocol.Call(cctx, c.opts.Exchanger, cmd, body, &status)
}
