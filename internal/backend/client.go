// Package backend talks to the remote nudge API over HTTP JSON.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"NudgeAgent/internal/domain"

	"golang.org/x/oauth2"
)

const maxErrorBody = 4 << 10

type Client struct {
	baseURL string
	client  *http.Client
	// Tokens supplies the session bearer token.
	Tokens oauth2.TokenSource
	// IDTokens, when set, adds a Google ID token for ingress in front of
	// the API.
	IDTokens oauth2.TokenSource
	Logger   *slog.Logger
}

func New(baseURL string, timeout time.Duration, tokens oauth2.TokenSource) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		Tokens:  tokens,
	}
}

type addFriendRequest struct {
	Username string `json:"username"`
}

func (c *Client) AddFriend(ctx context.Context, username string) (domain.RemoteFriend, error) {
	var out domain.RemoteFriend
	err := c.do(ctx, "add_friend", http.MethodPost, "/v1/friends", true, addFriendRequest{Username: username}, &out)
	if err != nil {
		return domain.RemoteFriend{}, err
	}
	if out.Username == "" {
		out.Username = username
	}
	return out, nil
}

// DeleteFriend removes a friend or declines a request. block also stops the
// user from sending new requests.
func (c *Client) DeleteFriend(ctx context.Context, username string, block bool) error {
	q := url.Values{}
	if block {
		q.Set("block", "true")
	}
	path := "/v1/friends/" + url.PathEscape(username)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.do(ctx, "delete_friend", http.MethodDelete, path, true, nil, nil)
}

type editNameRequest struct {
	DisplayName string `json:"display_name"`
}

func (c *Client) EditFriendName(ctx context.Context, username, displayName string) error {
	return c.do(ctx, "edit_friend_name", http.MethodPatch, "/v1/friends/"+url.PathEscape(username), true, editNameRequest{DisplayName: displayName}, nil)
}

type nameResponse struct {
	DisplayName string `json:"display_name"`
}

func (c *Client) GetName(ctx context.Context, username string) (string, error) {
	var out nameResponse
	if err := c.do(ctx, "get_name", http.MethodGet, "/v1/users/"+url.PathEscape(username)+"/name", true, nil, &out); err != nil {
		return "", err
	}
	return out.DisplayName, nil
}

type sendAlertRequest struct {
	To      string `json:"to"`
	Message string `json:"message,omitempty"`
}

type sendAlertResponse struct {
	AlertID string `json:"alert_id"`
}

// SendAlert returns the server-assigned alert id.
func (c *Client) SendAlert(ctx context.Context, to, body string) (string, error) {
	var out sendAlertResponse
	if err := c.do(ctx, "send_alert", http.MethodPost, "/v1/alerts", true, sendAlertRequest{To: to, Message: body}, &out); err != nil {
		return "", err
	}
	if out.AlertID == "" {
		return "", fmt.Errorf("backend send_alert: %w: empty alert id", domain.ErrServer)
	}
	return out.AlertID, nil
}

type deviceRequest struct {
	Token string `json:"token"`
}

func (c *Client) RegisterDevice(ctx context.Context, token string) error {
	return c.do(ctx, "register_device", http.MethodPost, "/v1/devices", true, deviceRequest{Token: token}, nil)
}

func (c *Client) UnregisterDevice(ctx context.Context, token string) error {
	return c.do(ctx, "unregister_device", http.MethodDelete, "/v1/devices/"+url.PathEscape(token), true, nil, nil)
}

func (c *Client) AlertDelivered(ctx context.Context, alertID string) error {
	return c.do(ctx, "alert_delivered", http.MethodPost, "/v1/alerts/"+url.PathEscape(alertID)+"/delivered", true, nil, nil)
}

func (c *Client) AlertRead(ctx context.Context, alertID string) error {
	return c.do(ctx, "alert_read", http.MethodPost, "/v1/alerts/"+url.PathEscape(alertID)+"/read", true, nil, nil)
}

func (c *Client) GetUserInfo(ctx context.Context) (domain.UserInfo, error) {
	var out domain.UserInfo
	if err := c.do(ctx, "get_user_info", http.MethodGet, "/v1/users/me", true, nil, &out); err != nil {
		return domain.UserInfo{}, err
	}
	return out, nil
}

type credentialsRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Password    string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// RegisterUser creates the account and returns its session token.
func (c *Client) RegisterUser(ctx context.Context, username, displayName, password string) (string, error) {
	var out tokenResponse
	req := credentialsRequest{Username: username, DisplayName: displayName, Password: password}
	if err := c.do(ctx, "register_user", http.MethodPost, "/v1/users", false, req, &out); err != nil {
		return "", err
	}
	return tokenOrError("register_user", out.Token)
}

// GetToken exchanges credentials for a session token.
func (c *Client) GetToken(ctx context.Context, username, password string) (string, error) {
	var out tokenResponse
	req := credentialsRequest{Username: username, Password: password}
	if err := c.do(ctx, "get_token", http.MethodPost, "/v1/token", false, req, &out); err != nil {
		return "", err
	}
	return tokenOrError("get_token", out.Token)
}

func tokenOrError(op, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("backend %s: %w: empty token", op, domain.ErrServer)
	}
	return token, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, authed bool, in, out any) error {
	var bearer *oauth2.Token
	if authed {
		if c.Tokens == nil {
			return fmt.Errorf("backend %s: %w", op, domain.ErrNoSession)
		}
		tok, err := c.Tokens.Token()
		if err != nil {
			if errors.Is(err, domain.ErrNoSession) {
				return fmt.Errorf("backend %s: %w", op, err)
			}
			return fmt.Errorf("backend %s: session token: %w", op, err)
		}
		bearer = tok
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if bearer != nil {
		bearer.SetAuthHeader(req)
	}
	if c.IDTokens != nil {
		idt, err := c.IDTokens.Token()
		if err != nil {
			return fmt.Errorf("backend %s: %w: id token: %v", op, domain.ErrTransient, err)
		}
		req.Header.Set("X-Serverless-Authorization", "Bearer "+idt.AccessToken)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("backend %s: %w: %w", op, domain.ErrCanceled, err)
		}
		return fmt.Errorf("backend %s: %w: %w", op, domain.ErrTransient, err)
	}
	defer resp.Body.Close()
	c.logger().Debug("backend: request", "op", op, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classify(op, resp.StatusCode, errorMessage(raw))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend %s: %w: decode response: %v", op, domain.ErrServer, err)
	}
	return nil
}

// errorMessage pulls "error"/"message" out of a JSON error body and falls
// back to the raw text.
func errorMessage(raw []byte) string {
	var env struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &env) == nil {
		switch v := env.Error.(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if m, ok := v["message"].(string); ok && m != "" {
				return m
			}
		}
		if env.Message != "" {
			return env.Message
		}
	}
	return string(raw)
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
