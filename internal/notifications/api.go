package notifications

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"resty.dev/v3"

	"github.com/quillchat/quill/internal/version"
)

// SyncAPI is the server-side notification interface used for periodic
// reconciliation.
type SyncAPI interface {
	// FetchNotifications returns the server's authoritative notification
	// list.
	FetchNotifications(ctx context.Context) ([]Notification, error)
	// MarkRead reports conversations as read, or everything when markAll
	// is set.
	MarkRead(ctx context.Context, conversationIDs []string, markAll bool) error
	// DeleteOld asks the server to drop notifications older than the given
	// number of days.
	DeleteOld(ctx context.Context, olderThanDays int) error
}

// APIClient talks to the Quill REST notification endpoints.
type APIClient struct {
	http *resty.Client
}

// NewAPIClient creates a client for the server at baseURL authenticating
// with token.
func NewAPIClient(baseURL, token string) *APIClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetHeader("User-Agent", version.UserAgent()).
		SetTimeout(10 * time.Second)
	return &APIClient{http: client}
}

// Close releases the underlying HTTP client.
func (c *APIClient) Close() error {
	return c.http.Close()
}

type notificationList struct {
	Notifications []Notification `json:"notifications"`
}

type markReadRequest struct {
	ConversationIDs []string `json:"conversationIds,omitempty"`
	MarkAll         bool     `json:"markAll,omitempty"`
}

// FetchNotifications implements SyncAPI.
func (c *APIClient) FetchNotifications(ctx context.Context) ([]Notification, error) {
	var out notificationList
	res, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/notifications")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notifications: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("notification fetch failed: %s", res.Status())
	}
	return out.Notifications, nil
}

// MarkRead implements SyncAPI.
func (c *APIClient) MarkRead(ctx context.Context, conversationIDs []string, markAll bool) error {
	if !markAll && len(conversationIDs) == 0 {
		return nil
	}
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(markReadRequest{ConversationIDs: conversationIDs, MarkAll: markAll}).
		Post("/v1/notifications/mark-read")
	if err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("mark read failed: %s", res.Status())
	}
	return nil
}

// DeleteOld implements SyncAPI.
func (c *APIClient) DeleteOld(ctx context.Context, olderThanDays int) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("olderThanDays", strconv.Itoa(olderThanDays)).
		Delete("/v1/notifications")
	if err != nil {
		return fmt.Errorf("failed to delete old notifications: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("delete old notifications failed: %s", res.Status())
	}
	return nil
}
