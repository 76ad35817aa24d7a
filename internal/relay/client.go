// Package relay implements the remote channel client: the HTTP contract for
// sending a message to, and fetching pending replies from, the assistant's
// Telegram backend. Two backend shapes are supported: the Bot API directly
// (bot token on device) and the pairing relay (session token from a 6-digit
// code). The client performs no deduplication; callers must assume a fetch
// may return messages they have already seen.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/watchgram/watchgram/internal/config"
	"github.com/watchgram/watchgram/internal/logger"
)

// Creds is the authentication view the session layer hands to channel calls.
// Token is a bot token in bot mode and a relay session token in relay mode.
type Creds struct {
	ChatID string
	Token  string
}

// Configured reports whether the creds are usable for network calls.
func (c Creds) Configured() bool {
	return c.ChatID != "" && c.Token != ""
}

// Inbound is one raw message returned by a fetch. ID is a server-assigned
// identifier when the backend provides one, otherwise empty.
type Inbound struct {
	ID   string
	Text string
}

// PairConfig is the connection info returned by a successful code
// verification.
type PairConfig struct {
	UserID       string
	ChatID       string
	Username     string
	SessionToken string
}

// Client is the remote channel contract. It is an interface so the
// reconciliation loop can be tested against a fake backend.
type Client interface {
	Send(ctx context.Context, creds Creds, text string) error
	FetchPending(ctx context.Context, creds Creds) ([]Inbound, error)
	VerifyCode(ctx context.Context, code string) (PairConfig, error)
}

// HTTP is the production Client backed by net/http.
type HTTP struct {
	cfg  config.ChannelConfig
	http *http.Client

	mu     sync.Mutex
	offset int64 // bot mode update cursor, best effort only
}

// NewHTTP creates a channel client for the configured backend.
func NewHTTP(cfg config.ChannelConfig) *HTTP {
	return &HTTP{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Send transmits one outbound message. It fails fast with KindNotConfigured
// when creds are incomplete, before any network I/O.
func (c *HTTP) Send(ctx context.Context, creds Creds, text string) error {
	if !creds.Configured() {
		return newError(KindNotConfigured, "send", "no paired session", nil)
	}

	if c.cfg.Mode == config.ModeBot {
		u := fmt.Sprintf("%s/bot%s/sendMessage", c.cfg.BotAPIBase, creds.Token)
		body := map[string]string{"chat_id": creds.ChatID, "text": text}
		return c.postJSON(ctx, "send", u, body, nil)
	}

	body := map[string]string{
		"chatId":       creds.ChatID,
		"sessionToken": creds.Token,
		"message":      text,
	}
	return c.postJSON(ctx, "send", c.cfg.RelayBase+"/api/send", body, nil)
}

// FetchPending retrieves inbound messages waiting on the backend. The
// returned slice preserves the server's order.
func (c *HTTP) FetchPending(ctx context.Context, creds Creds) ([]Inbound, error) {
	if !creds.Configured() {
		return nil, newError(KindNotConfigured, "fetch", "no paired session", nil)
	}
	if c.cfg.Mode == config.ModeBot {
		return c.fetchBot(ctx, creds)
	}
	return c.fetchRelay(ctx, creds)
}

func (c *HTTP) fetchRelay(ctx context.Context, creds Creds) ([]Inbound, error) {
	u := c.cfg.RelayBase + "/api/messages?chatId=" + url.QueryEscape(creds.ChatID)

	var resp struct {
		Success  bool `json:"success"`
		Messages []struct {
			ID   json.Number `json:"id"`
			Text string      `json:"text"`
		} `json:"messages"`
	}
	if err := c.getJSON(ctx, "fetch", u, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, newError(KindServer, "fetch", "relay reported failure", nil)
	}

	out := make([]Inbound, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, Inbound{ID: m.ID.String(), Text: m.Text})
	}
	return out, nil
}

// fetchBot polls getUpdates. The offset cursor only trims traffic; a backend
// replaying updates is still handled by the caller's dedup.
func (c *HTTP) fetchBot(ctx context.Context, creds Creds) ([]Inbound, error) {
	c.mu.Lock()
	offset := c.offset
	c.mu.Unlock()

	u := fmt.Sprintf("%s/bot%s/getUpdates", c.cfg.BotAPIBase, creds.Token)
	body := map[string]any{"offset": offset, "allowed_updates": []string{"message"}}

	var resp struct {
		OK     bool `json:"ok"`
		Result []struct {
			UpdateID int64 `json:"update_id"`
			Message  *struct {
				Text string `json:"text"`
				Chat struct {
					ID int64 `json:"id"`
				} `json:"chat"`
			} `json:"message"`
		} `json:"result"`
	}
	if err := c.postJSON(ctx, "fetch", u, body, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, newError(KindServer, "fetch", "bot api reported failure", nil)
	}

	var out []Inbound
	next := offset
	for _, upd := range resp.Result {
		if upd.UpdateID >= next {
			next = upd.UpdateID + 1
		}
		if upd.Message == nil || upd.Message.Text == "" {
			continue
		}
		if strconv.FormatInt(upd.Message.Chat.ID, 10) != creds.ChatID {
			continue
		}
		out = append(out, Inbound{
			ID:   strconv.FormatInt(upd.UpdateID, 10),
			Text: upd.Message.Text,
		})
	}

	c.mu.Lock()
	if next > c.offset {
		c.offset = next
	}
	c.mu.Unlock()

	return out, nil
}

// VerifyCode exchanges a pairing code for connection config. All failures,
// transport included, surface as KindPair with a human-readable reason so
// the pairing UI can show them inline.
func (c *HTTP) VerifyCode(ctx context.Context, code string) (PairConfig, error) {
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Config  *struct {
			UserID       int64  `json:"userId"`
			ChatID       int64  `json:"chatId"`
			Username     string `json:"username"`
			SessionToken string `json:"sessionToken"`
		} `json:"config"`
	}

	body := map[string]string{"code": code}
	if err := c.postJSON(ctx, "verify", c.cfg.RelayBase+"/api/verify-code", body, &resp); err != nil {
		reason := "network error"
		if KindOf(err) == KindDecode {
			reason = "invalid response"
		}
		return PairConfig{}, newError(KindPair, "verify", reason, err)
	}
	if !resp.Success || resp.Config == nil {
		reason := resp.Error
		if reason == "" {
			reason = "invalid code"
		}
		return PairConfig{}, newError(KindPair, "verify", reason, nil)
	}

	return PairConfig{
		UserID:       strconv.FormatInt(resp.Config.UserID, 10),
		ChatID:       strconv.FormatInt(resp.Config.ChatID, 10),
		Username:     resp.Config.Username,
		SessionToken: resp.Config.SessionToken,
	}, nil
}

func (c *HTTP) postJSON(ctx context.Context, op, u string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return newError(KindDecode, op, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return newError(KindNetwork, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *HTTP) getJSON(ctx context.Context, op, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return newError(KindNetwork, op, "build request", err)
	}
	return c.do(op, req, out)
}

func (c *HTTP) do(op string, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return newError(KindNetwork, op, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		logger.L.Debug("channel call failed", "op", op, "status", resp.StatusCode)
		return newError(KindServer, op, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(KindDecode, op, "decode response", err)
	}
	return nil
}
