// Package rest is the HTTP collaborator: conversation and message history
// reads, call record mutations, and user profile lookup. The live transport
// treats these endpoints as the source of truth to reconcile against.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-im/meridian-go/internal/model"
)

// Client talks to the chat backend's REST API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient creates a Client with a sane default timeout.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// getJSON performs an authorized GET, drains the response body, and decodes
// JSON into v.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("GET %s: status %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// postJSON performs an authorized POST with a JSON body (nil for empty) and
// decodes the response into v when v is non-nil.
func (c *Client) postJSON(ctx context.Context, path string, body, v any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST %s: status %s", path, resp.Status)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

// Conversations fetches the caller's conversation list.
func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if err := c.getJSON(ctx, "/api/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages fetches one page of a conversation's history. page is zero-based;
// size ≤ 0 falls back to the server default.
func (c *Client) Messages(ctx context.Context, conversationID string, page, size int) ([]model.Message, error) {
	path := "/api/conversations/" + conversationID + "/messages?page=" + strconv.Itoa(page)
	if size > 0 {
		path += "&size=" + strconv.Itoa(size)
	}
	var out []model.Message
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InitiateCall registers a new outbound call and returns the server record,
// which carries the authoritative call id.
func (c *Client) InitiateCall(ctx context.Context, receiverID string, callType model.CallType, conversationID string) (model.Call, error) {
	body := map[string]string{
		"receiverId":     receiverID,
		"type":           string(callType),
		"conversationId": conversationID,
	}
	var out model.Call
	if err := c.postJSON(ctx, "/api/video/call/initiate", body, &out); err != nil {
		return model.Call{}, err
	}
	return out, nil
}

// AcceptCall marks an incoming call accepted.
func (c *Client) AcceptCall(ctx context.Context, callID string) (model.Call, error) {
	var out model.Call
	if err := c.postJSON(ctx, "/api/video/call/"+callID+"/accept", nil, &out); err != nil {
		return model.Call{}, err
	}
	return out, nil
}

// RejectCall declines an incoming call.
func (c *Client) RejectCall(ctx context.Context, callID string) error {
	return c.postJSON(ctx, "/api/video/call/"+callID+"/reject", nil, nil)
}

// EndCall releases the server-side record of a live call.
func (c *Client) EndCall(ctx context.Context, callID string) error {
	return c.postJSON(ctx, "/api/video/call/"+callID+"/end", nil, nil)
}

// Call fetches one call record by id.
func (c *Client) Call(ctx context.Context, callID string) (model.Call, error) {
	var out model.Call
	if err := c.getJSON(ctx, "/api/video/call/"+callID, &out); err != nil {
		return model.Call{}, err
	}
	return out, nil
}

// User fetches one user profile by id.
func (c *Client) User(ctx context.Context, userID string) (model.User, error) {
	var out model.User
	if err := c.getJSON(ctx, "/api/users/"+userID, &out); err != nil {
		return model.User{}, err
	}
	return out, nil
}
