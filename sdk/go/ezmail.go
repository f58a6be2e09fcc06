// Package ezmail is a Go client for the ezmail compose and delivery API.
package ezmail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for the ezmail client.
type Config struct {
	// BaseURL is the root URL of the ezmail server, e.g. "https://mail.example.com"
	BaseURL string

	// AccountID is sent as X-Account-ID on every call
	AccountID string

	// ServiceToken is sent as X-Service-Token when set. Only the billing
	// and contacts services hold one; it is required by SetPlan and
	// SetContacts.
	ServiceToken string

	// PollInterval is the default interval for WaitForOutcome.
	// Default: 500ms
	PollInterval time.Duration

	// HTTPClient is an optional custom HTTP client.
	// If nil, a default client with 30s timeout is used.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
}

// Client calls the ezmail API on behalf of one account.
type Client struct {
	cfg Config
}

// NewClient creates a new ezmail client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// CreateDraft opens a compose session.
func (c *Client) CreateDraft(ctx context.Context, req DraftRequest) (*Session, error) {
	body := map[string]interface{}{
		"accountId":  c.cfg.AccountID,
		"recipients": req.Recipients,
	}
	if req.Subject != nil {
		body["subject"] = *req.Subject
	}
	if req.BodyHTML != nil {
		body["bodyHtml"] = *req.BodyHTML
	}
	if req.MaxAttempts > 0 {
		body["maxAttempts"] = req.MaxAttempts
	}

	var s Session
	if err := c.doJSON(ctx, http.MethodPost, "/compose", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetDraft returns the current snapshot of a session.
func (c *Client) GetDraft(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := c.doJSON(ctx, http.MethodGet, "/compose/"+url.PathEscape(id), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateDraft replaces the non-nil fields of a draft. A nil Recipients
// slice leaves the recipients unchanged.
func (c *Client) UpdateDraft(ctx context.Context, id string, req DraftRequest) (*Session, error) {
	body := map[string]interface{}{}
	if req.Recipients != nil {
		body["recipients"] = req.Recipients
	}
	if req.Subject != nil {
		body["subject"] = *req.Subject
	}
	if req.BodyHTML != nil {
		body["bodyHtml"] = *req.BodyHTML
	}

	var s Session
	if err := c.doJSON(ctx, http.MethodPatch, "/compose/"+url.PathEscape(id), body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Discard abandons a session.
func (c *Client) Discard(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := c.doJSON(ctx, http.MethodDelete, "/compose/"+url.PathEscape(id), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AddAttachment uploads content as a new attachment of the draft.
func (c *Client) AddAttachment(ctx context.Context, id, name, mimeType string, content io.Reader) (*Session, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	hdr.Set("Content-Type", mimeType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("ezmail: failed to create form part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("ezmail: failed to read attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("ezmail: failed to finish form: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/compose/"+url.PathEscape(id)+"/attachments", &buf, w.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("ezmail: failed to parse session: %w", err)
	}
	return &s, nil
}

// RemoveAttachment drops an attachment by name.
func (c *Client) RemoveAttachment(ctx context.Context, id, name string) (*Session, error) {
	path := "/compose/" + url.PathEscape(id) + "/attachments/" + url.PathEscape(name)
	var s Session
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Send submits the draft. Validation and quota rejections are returned as
// *APIError; on success the session is already sending.
func (c *Client) Send(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := c.doJSON(ctx, http.MethodPost, "/compose/"+url.PathEscape(id)+"/send", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// WaitForOutcome polls a session until it is sent, failed or discarded, or
// until ctx is done.
func (c *Client) WaitForOutcome(ctx context.Context, id string) (*Session, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		s, err := c.GetDraft(ctx, id)
		if err != nil {
			return nil, err
		}
		if s.Done() {
			return s, nil
		}

		select {
		case <-ctx.Done():
			return s, fmt.Errorf("%w: %v", ErrWaitTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Usage returns usage analytics and the quota position of the account.
func (c *Client) Usage(ctx context.Context) (*Usage, error) {
	var u Usage
	if err := c.doJSON(ctx, http.MethodGet, "/usage/"+url.PathEscape(c.cfg.AccountID), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Sent searches the sent log of the account.
func (c *Client) Sent(ctx context.Context, q SentQuery) ([]SentMessage, error) {
	params := url.Values{}
	if q.Query != "" {
		params.Set("q", q.Query)
	}
	if q.Order != "" {
		params.Set("order", q.Order)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/sent/" + url.PathEscape(c.cfg.AccountID)
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp struct {
		Messages []SentMessage `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Quota returns the quota position of the account.
func (c *Client) Quota(ctx context.Context) (*Quota, error) {
	var q Quota
	if err := c.doJSON(ctx, http.MethodGet, "/quota/"+url.PathEscape(c.cfg.AccountID), nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// SetPlan replaces the plan limits of accountID. It needs a client
// configured with a ServiceToken.
func (c *Client) SetPlan(ctx context.Context, accountID string, limits Resources) (*Quota, error) {
	var q Quota
	if err := c.doJSON(ctx, http.MethodPut, "/admin/quota/"+url.PathEscape(accountID)+"/plan", limits, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// SetContacts reports the number of contacts accountID holds. It needs a
// client configured with a ServiceToken.
func (c *Client) SetContacts(ctx context.Context, accountID string, contacts int64) (*Quota, error) {
	body := map[string]int64{"contacts": contacts}
	var q Quota
	if err := c.doJSON(ctx, http.MethodPut, "/admin/quota/"+url.PathEscape(accountID)+"/contacts", body, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// doJSON sends payload as JSON and decodes the response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	var bodyReader io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("ezmail: failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
		contentType = "application/json"
	}

	body, err := c.do(ctx, method, path, bodyReader, contentType)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("ezmail: failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("ezmail: failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.AccountID != "" {
		req.Header.Set("X-Account-ID", c.cfg.AccountID)
	}
	if c.cfg.ServiceToken != "" {
		req.Header.Set("X-Service-Token", c.cfg.ServiceToken)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ezmail: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ezmail: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}

	return respBody, nil
}
