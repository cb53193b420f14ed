// Package api implements the HTTP clients for the external collaborators:
// upload, post creation, message send, mark-read and message history.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"snaporia/internal/chat"
)

// ErrUnauthorized marks an explicit server rejection (not signed in, or not
// a participant). Callers surface it distinctly instead of retrying.
var ErrUnauthorized = errors.New("unauthorized")

const defaultTimeout = 60 * time.Second

// Client talks to the backend with an opaque bearer token. The embedded
// http.Client carries a bounded timeout so a hung call cannot wedge a job or
// a send forever.
type Client struct {
	base  string
	token string
	http  *http.Client
	log   *zap.Logger
}

func NewClient(baseURL, token string, log *zap.Logger) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: defaultTimeout},
		log:   log,
	}
}

// Upload submits a media blob and returns the stable reference URL.
func (c *Client) Upload(ctx context.Context, media []byte, contentType string) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreatePart(fileHeader("file", "video.mp4", contentType))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(media); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	c.log.Debug("media uploaded", zap.Int("bytes", len(media)), zap.String("url", out.URL))
	return out.URL, nil
}

// Post is the created-post record the server returns.
type Post struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreatePost publishes a post from a caption, optional companion images and
// the uploaded media reference.
func (c *Client) CreatePost(ctx context.Context, content string, imageURLs []string, videoURL string) (Post, error) {
	if imageURLs == nil {
		imageURLs = []string{}
	}
	payload := map[string]any{
		"content":   content,
		"imageUrls": imageURLs,
		"videoUrl":  videoURL,
	}
	var out struct {
		Post Post `json:"post"`
	}
	if err := c.postJSON(ctx, "/api/posts/create", payload, &out); err != nil {
		return Post{}, fmt.Errorf("create post: %w", err)
	}
	return out.Post, nil
}

// SendMessage persists one message and returns its canonical server form.
// The server also broadcasts a realtime echo; the caller must not assume the
// echo and this response arrive in any particular order.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	payload := map[string]string{
		"conversationId": conversationID,
		"content":        content,
	}
	var out struct {
		Message chat.Message `json:"message"`
	}
	if err := c.postJSON(ctx, "/api/chat/send-message", payload, &out); err != nil {
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}
	return out.Message, nil
}

// MarkRead acknowledges a batch of message ids as read by the local user.
func (c *Client) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	payload := map[string]any{
		"conversationId": conversationID,
		"messageIds":     messageIDs,
	}
	if err := c.postJSON(ctx, "/api/chat/mark-read", payload, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// Messages fetches the conversation history, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	query := url.Values{"conversationId": {conversationID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/api/chat/messages?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	return out.Messages, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrUnauthorized, serverError(resp.Body))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, serverError(resp.Body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// serverError pulls the {"error": ...} message out of a failure body, falling
// back to a generic label when the body is not in that shape.
func serverError(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&body); err == nil && body.Error != "" {
		return body.Error
	}
	return "request failed"
}

func fileHeader(field, filename, contentType string) textproto.MIMEHeader {
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename)},
		"Content-Type":        {contentType},
	}
}
