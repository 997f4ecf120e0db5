// Package crm pushes lead state to the CRM over its REST surface and
// keeps the two in sync through rate-limited, retried writes.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"leadflow_backend/platform/logger"
)

// Client is the HTTP client for the CRM contact API. Every call waits
// on the shared rate limiter before hitting the wire, so burst traffic
// from parallel syncs stays under the vendor's sustained cap.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	log        *logger.Logger
}

// New creates a CRM client. rps and burst bound the request rate.
func New(baseURL, apiKey string, rps float64, burst int, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		baseURL:    baseURL,
		apiKey:     apiKey,
		log:        log,
	}
}

// Contact is the CRM-side representation of a lead.
type Contact struct {
	ID     string   `json:"id,omitempty"`
	Name   string   `json:"name"`
	Phone  string   `json:"phone"`
	Email  string   `json:"email,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	Source string   `json:"source,omitempty"`
}

// UpsertContact creates or updates the contact keyed by phone number
// and returns the CRM contact id.
func (c *Client) UpsertContact(ctx context.Context, contact Contact) (string, error) {
	var out struct {
		Contact Contact `json:"contact"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/contacts/upsert", contact, &out); err != nil {
		return "", err
	}
	return out.Contact.ID, nil
}

// AddTags attaches tags to the contact. Existing tags are kept.
func (c *Client) AddTags(ctx context.Context, contactID string, tags []string) error {
	body := map[string][]string{"tags": tags}
	return c.do(ctx, http.MethodPost, "/v1/contacts/"+contactID+"/tags", body, nil)
}

// RemoveTags detaches tags from the contact.
func (c *Client) RemoveTags(ctx context.Context, contactID string, tags []string) error {
	body := map[string][]string{"tags": tags}
	return c.do(ctx, http.MethodDelete, "/v1/contacts/"+contactID+"/tags", body, nil)
}

// AddNote appends a note to the contact's activity feed.
func (c *Client) AddNote(ctx context.Context, contactID, note string) error {
	body := map[string]string{"body": note}
	return c.do(ctx, http.MethodPost, "/v1/contacts/"+contactID+"/notes", body, nil)
}

// SendSMS sends an outbound SMS to the contact through the CRM's
// conversation channel.
func (c *Client) SendSMS(ctx context.Context, contactID, body string) error {
	payload := map[string]string{
		"contactId": contactID,
		"type":      "SMS",
		"message":   body,
	}
	return c.do(ctx, http.MethodPost, "/v1/conversations/messages", payload, nil)
}

// TriggerWorkflow enrolls the contact in a CRM workflow.
func (c *Client) TriggerWorkflow(ctx context.Context, contactID, workflowID string) error {
	return c.do(ctx, http.MethodPost, "/v1/contacts/"+contactID+"/workflow/"+workflowID, nil, nil)
}

// retryableError marks a failure worth another attempt (5xx, 429,
// transport errors). 4xx responses other than 429 are permanent.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable reports whether the error came from a transient condition.
func Retryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("crm request failed", "error", err, "method", method, "path", path)
		return &retryableError{fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Success - continue to decode
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.log.Warn("crm transient error", "status", resp.StatusCode, "path", path)
		return &retryableError{fmt.Errorf("crm status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("unauthorized: invalid CRM API key")
	default:
		c.log.Error("crm request rejected", "status", resp.StatusCode, "path", path)
		return fmt.Errorf("crm status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
