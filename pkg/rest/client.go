// Package rest is the fetch-based side channel next to the live socket:
// bootstrap, history, send, mark-read, attachment upload, thread list and
// message deletion. Failed calls are logged and never retried; the socket is
// the only channel with a retry policy.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/barchshimelis/supportchat/pkg/attach"
	"github.com/barchshimelis/supportchat/pkg/logger"
	"github.com/barchshimelis/supportchat/pkg/models"
	"github.com/barchshimelis/supportchat/pkg/telemetry"
)

// csrfCookie / csrfHeader implement the anti-forgery echo every mutating
// call requires: the server sets the cookie, the client copies its value
// into the header. Minting the token is the server's concern.
const (
	csrfCookie = "csrftoken"
	csrfHeader = "X-CSRFToken"
	roleHeader = "X-Chat-Role"
)

type Client struct {
	baseURL string
	role    models.Role
	http    *http.Client
}

// New builds a client for the given origin. The cookie jar keeps the
// anti-forgery cookie between calls.
func New(baseURL string, role models.Role) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		role:    role,
		http:    &http.Client{Jar: jar, Timeout: 30 * time.Second},
	}, nil
}

// Role returns the conversation side this client acts as.
func (c *Client) Role() models.Role { return c.role }

// Header returns headers suitable for the socket dial request so the
// websocket handshake carries the same identity as REST calls.
func (c *Client) Header() http.Header {
	h := http.Header{}
	h.Set(roleHeader, string(c.role))
	if tok := c.csrfToken(); tok != "" {
		h.Set("Cookie", csrfCookie+"="+tok)
	}
	return h
}

func (c *Client) csrfToken() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == csrfCookie {
			return ck.Value
		}
	}
	return ""
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set(roleHeader, string(c.role))
	resp, err := c.http.Do(req)
	if err != nil {
		telemetry.RequestErrors.Inc()
		logger.Error("rest_get_failed", "path", path, "error", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		telemetry.RequestErrors.Inc()
		logger.Error("rest_get_status", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(ctx context.Context, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(roleHeader, string(c.role))
	req.Header.Set(csrfHeader, c.csrfToken())
	resp, err := c.http.Do(req)
	if err != nil {
		telemetry.RequestErrors.Inc()
		logger.Error("rest_post_failed", "path", path, "error", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		telemetry.RequestErrors.Inc()
		logger.Error("rest_post_status", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// BootstrapResult is the initial full-history load of the caller's thread.
type BootstrapResult struct {
	Thread   models.Thread    `json:"thread"`
	Messages []models.Message `json:"messages"`
}

// Bootstrap fetches the customer's own thread plus its full history. Used
// by the bootstrap-over-fetch deployment variant before the socket opens.
func (c *Client) Bootstrap(ctx context.Context) (*BootstrapResult, error) {
	var out BootstrapResult
	if err := c.get(ctx, "/chat/bootstrap/", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ThreadList fetches the agent-side thread summaries.
func (c *Client) ThreadList(ctx context.Context) ([]models.Thread, error) {
	var out struct {
		Threads []models.Thread `json:"threads"`
	}
	if err := c.get(ctx, "/chat/threads/", &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

// History fetches one thread's metadata and ordered messages.
func (c *Client) History(ctx context.Context, threadID string) (*BootstrapResult, error) {
	start := time.Now()
	var out BootstrapResult
	if err := c.get(ctx, "/chat/threads/"+threadID+"/messages/", &out); err != nil {
		return nil, err
	}
	telemetry.HistoryFetchSeconds.Observe(time.Since(start).Seconds())
	return &out, nil
}

// SendText posts a text message to a thread over the side channel.
func (c *Client) SendText(ctx context.Context, threadID, text string) error {
	b, _ := json.Marshal(map[string]string{"message": text})
	return c.post(ctx, "/chat/threads/"+threadID+"/send/", bytes.NewReader(b), "application/json", nil)
}

// MarkRead clears the caller's unread direction on the server. Idempotent.
func (c *Client) MarkRead(ctx context.Context, threadID string) error {
	return c.post(ctx, "/chat/threads/"+threadID+"/read/", nil, "application/json", nil)
}

// Upload posts an attachment as multipart form data, validating size and
// MIME prefix locally first; a rejection makes no network call. On success
// the server delivers the resulting message over the live socket, so the
// caller must not inject anything into its buffer here.
func (c *Client) Upload(ctx context.Context, threadID, fileName, mimeType string, data []byte) error {
	if err := attach.Validate(attach.ModeUpload, mimeType, int64(len(data))); err != nil {
		telemetry.Uploads.WithLabelValues("rejected").Inc()
		logger.Warn("upload_rejected", "thread", threadID, "name", fileName, "reason", err)
		return err
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("attachment", fileName)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := c.post(ctx, "/chat/threads/"+threadID+"/upload/", &buf, w.FormDataContentType(), nil); err != nil {
		telemetry.Uploads.WithLabelValues("failed").Inc()
		return err
	}
	telemetry.Uploads.WithLabelValues("ok").Inc()
	return nil
}

// ErrDeleteForbidden rejects deletion attempts from the customer side
// before any network call.
var ErrDeleteForbidden = fmt.Errorf("only the support side may delete messages")

// DeleteMessage removes a message after an explicit confirmation. The
// server's returned identifier is authoritative over the requested one;
// callers remove that id from their local state, through the same path a
// socket delete event uses.
func (c *Client) DeleteMessage(ctx context.Context, threadID, messageID string, confirm func() bool) (string, error) {
	if c.role != models.RoleAgent {
		return "", ErrDeleteForbidden
	}
	if confirm == nil || !confirm() {
		return "", nil
	}
	var out struct {
		DeletedMessageID string `json:"deleted_message_id"`
	}
	if err := c.post(ctx, "/chat/threads/"+threadID+"/messages/"+messageID+"/delete/", nil, "application/json", &out); err != nil {
		return "", err
	}
	if out.DeletedMessageID != "" {
		return out.DeletedMessageID, nil
	}
	return messageID, nil
}
