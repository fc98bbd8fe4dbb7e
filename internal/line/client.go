// Package line speaks to the LINE Messaging API and turns inbound
// webhook events into typed chat commands.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.line.me"

// Message is one outbound message object as the Messaging API expects
// it (text, flex, ...). Kept schemaless: Flex payloads are deep and we
// never read them back.
type Message map[string]any

func TextMessage(text string) Message {
	return Message{"type": "text", "text": text}
}

type Profile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl"`
	StatusMessage string `json:"statusMessage"`
}

// Transport is the capability surface the dispatcher needs. The HTTP
// client below is the production implementation; tests substitute a
// recorder.
type Transport interface {
	FetchProfile(ctx context.Context, userID string) (*Profile, error)
	Reply(ctx context.Context, replyToken string, messages []Message) error
	LinkRichMenu(ctx context.Context, userID, richMenuID string) error
	UnlinkRichMenu(ctx context.Context, userID string) error
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(token string) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL points the client at a different API host. Tests only.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func (c *Client) FetchProfile(ctx context.Context, userID string) (*Profile, error) {
	res, err := c.do(ctx, http.MethodGet, "/v2/bot/profile/"+userID, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile fetch: status %d", res.StatusCode)
	}
	var p Profile
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("profile decode: %w", err)
	}
	return &p, nil
}

func (c *Client) Reply(ctx context.Context, replyToken string, messages []Message) error {
	res, err := c.do(ctx, http.MethodPost, "/v2/bot/message/reply", map[string]any{
		"replyToken": replyToken,
		"messages":   messages,
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("reply: status %d: %s", res.StatusCode, string(b))
	}
	return nil
}

func (c *Client) LinkRichMenu(ctx context.Context, userID, richMenuID string) error {
	res, err := c.do(ctx, http.MethodPost, "/v2/bot/user/"+userID+"/richmenu/"+richMenuID, nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("link richmenu: status %d", res.StatusCode)
	}
	return nil
}

func (c *Client) UnlinkRichMenu(ctx context.Context, userID string) error {
	res, err := c.do(ctx, http.MethodDelete, "/v2/bot/user/"+userID+"/richmenu", nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unlink richmenu: status %d", res.StatusCode)
	}
	return nil
}
