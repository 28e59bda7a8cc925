package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TheMichaelB/newsync/internal/creds"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/transport"
)

// pluginRequest is the RPC envelope. The CMS routes on the query action;
// the body action selects the plugin operation.
type pluginRequest struct {
	Action string      `json:"action"`
	APIKey string      `json:"apiKey"`
	Data   interface{} `json:"data,omitempty"`
}

// pluginReply follows the CMS JSON success/error envelope.
type pluginReply struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	RemoteID int64           `json:"remoteId"`
	Message  string          `json:"message"`
}

type pluginAck struct {
	ID       int64  `json:"id"`
	RemoteID int64  `json:"remoteId"`
	PostID   int64  `json:"post_id"`
	Message  string `json:"message"`
}

func (a pluginAck) remoteID() int64 {
	switch {
	case a.RemoteID > 0:
		return a.RemoteID
	case a.PostID > 0:
		return a.PostID
	default:
		return a.ID
	}
}

// plugin performs one RPC call and returns the data payload. A 200 reply
// with success false is a rejection carrying the reply body.
func (c *Client) plugin(ctx context.Context, b *creds.Bundle, action string, data interface{}, timeout time.Duration) (*pluginReply, error) {
	endpoint := c.cfg.PluginEndpoint
	if b.Plugin.Endpoint != "" {
		endpoint = b.Plugin.Endpoint
	}

	resp, err := c.http.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   endpoint,
		Query:  url.Values{"action": {c.cfg.PluginAction}},
		Body: pluginRequest{
			Action: action,
			APIKey: b.Plugin.APIKey,
			Data:   data,
		},
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	var reply pluginReply
	if err := resp.DecodeJSON(&reply); err != nil {
		return nil, err
	}

	if !reply.Success {
		return nil, &models.APIError{
			Code:       "plugin_rejected",
			Message:    rejectionMessage(&reply),
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
		}
	}

	return &reply, nil
}

// rejectionMessage extracts a human message from data, which the CMS sends
// as a string, an object with message, or a list of such objects.
func rejectionMessage(reply *pluginReply) string {
	if reply.Message != "" {
		return reply.Message
	}

	data := bytes.TrimSpace(reply.Data)
	var text string
	if json.Unmarshal(data, &text) == nil && text != "" {
		return text
	}
	var ack pluginAck
	if json.Unmarshal(data, &ack) == nil && ack.Message != "" {
		return ack.Message
	}
	var list []pluginAck
	if json.Unmarshal(data, &list) == nil {
		msgs := make([]string, 0, len(list))
		for _, a := range list {
			if a.Message != "" {
				msgs = append(msgs, a.Message)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return "rejected by plugin"
}

func (c *Client) pluginWrite(ctx context.Context, b *creds.Bundle, action string, item *models.ContentItem) (*models.PushResult, error) {
	reply, err := c.plugin(ctx, b, action, pluginPostFrom(item, NewsContentType), c.cfg.PushTimeout)
	if err != nil {
		return nil, err
	}

	id := reply.RemoteID
	if id == 0 && len(reply.Data) > 0 {
		var ack pluginAck
		if err := json.Unmarshal(reply.Data, &ack); err == nil {
			id = ack.remoteID()
		}
	}
	if id == 0 && action == "update" {
		id = item.RemoteKey()
	}
	if id <= 0 {
		return nil, fmt.Errorf("%s %s: reply without remote id: %w", action, item.LocalID, models.ErrInvalidItem)
	}

	return &models.PushResult{RemoteID: id, Channel: ChannelPlugin}, nil
}

func (c *Client) pluginGet(ctx context.Context, b *creds.Bundle, remoteID int64) (*models.RemoteItem, error) {
	reply, err := c.plugin(ctx, b, "get", map[string]int64{"id": remoteID}, c.cfg.LightTimeout)
	if err != nil {
		return nil, err
	}

	var post pluginPost
	if err := json.Unmarshal(reply.Data, &post); err != nil {
		return nil, fmt.Errorf("parse get reply: %w", err)
	}
	if post.ID == 0 {
		post.ID = remoteID
	}
	item := post.toRemoteItem()
	return &item, nil
}

// pluginSync pulls through the plugin's bulk sync action.
func (c *Client) pluginSync(ctx context.Context, b *creds.Bundle, filter PullFilter) ([]models.RemoteItem, error) {
	data := map[string]interface{}{
		"status":       filter.Status,
		"content_type": NewsContentType,
	}
	if filter.ModifiedAfter != nil {
		data["modified_after"] = filter.ModifiedAfter.UTC().Format(time.RFC3339)
	}

	reply, err := c.plugin(ctx, b, "sync", data, c.cfg.PullTimeout)
	if err != nil {
		return nil, fmt.Errorf("plugin sync: %w", err)
	}

	var payload struct {
		Items []pluginPost `json:"items"`
	}
	if err := json.Unmarshal(reply.Data, &payload); err != nil {
		// Older plugin versions return the bare list.
		if err := json.Unmarshal(reply.Data, &payload.Items); err != nil {
			return nil, fmt.Errorf("parse sync reply: %w", err)
		}
	}

	items := make([]models.RemoteItem, 0, len(payload.Items))
	for i := range payload.Items {
		items = append(items, payload.Items[i].toRemoteItem())
	}

	c.logger.WithField("items", len(items)).Info("Plugin sync complete")
	return items, nil
}
