package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"

	"github.com/gorilla/websocket"
)

// Client wraps the server's HTTP surface and the websocket dial.
type Client struct {
	host string
}

func NewClient(host string) *Client {
	return &Client{host: host}
}

func (c *Client) SharePublicKey(ctx context.Context, channel, sender, publicKey, aesKey string) error {
	body := map[string]string{
		"channel":   channel,
		"sender":    sender,
		"publicKey": publicKey,
		"aesKey":    aesKey,
	}
	return c.post(ctx, "/share-public-key", body, nil)
}

func (c *Client) GetPublicKey(ctx context.Context, channel, userID string) (*model.PublicKeyResponse, error) {
	var resp model.PublicKeyResponse
	params := url.Values{
		"channel": []string{channel},
		"userId":  []string{userID},
	}
	if err := c.get(ctx, "/get-public-key", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SendMessage(ctx context.Context, req *model.MessageRequest) (*model.MessageResponse, error) {
	var resp model.MessageResponse
	if err := c.post(ctx, "/message", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ChannelMembers(ctx context.Context, channel string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	params := url.Values{"channel": []string{channel}}
	if err := c.get(ctx, "/get-users-in-channel", params, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Dial opens the websocket and announces the user to the channel. A
// non-empty userName performs a group join instead of a private one.
func (c *Client) Dial(channel, userID, userName, publicKey string) (*websocket.Conn, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   c.host,
		Path:   "/init",
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	var frame *model.Frame
	if userName != "" {
		frame, err = model.NewFrame(model.EventGroupJoin, &model.GroupJoinPayload{
			UserID:    userID,
			ChannelID: channel,
			PublicKey: publicKey,
			UserName:  userName,
		})
	} else {
		frame, err = model.NewFrame(model.EventChatJoin, &model.ChatJoinPayload{
			UserID:    userID,
			ChannelID: channel,
			PublicKey: publicKey,
		})
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(frame); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// GroupPublicKeys fetches every member's key-exchange record.
func (c *Client) GroupPublicKeys(ctx context.Context, channel, userID string) (map[string]*model.PublicKeyResponse, error) {
	var resp struct {
		PublicKeys map[string]*model.PublicKeyResponse `json:"publicKeys"`
	}
	params := url.Values{
		"channel": []string{channel},
		"userId":  []string{userID},
	}
	if err := c.get(ctx, "/get-group-public-keys", params, &resp); err != nil {
		return nil, err
	}
	return resp.PublicKeys, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := url.URL{
		Scheme:   "http",
		Host:     c.host,
		Path:     path,
		RawQuery: params.Encode(),
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	u := url.URL{
		Scheme: "http",
		Host:   c.host,
		Path:   path,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		reason := body.Message
		if reason == "" {
			reason = body.Error
		}
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, reason)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
