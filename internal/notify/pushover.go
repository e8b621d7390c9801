// Package notify delivers chat notifications to external push services.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"resty.dev/v3"
)

const (
	// pushoverEndpoint is the Pushover API endpoint used for message delivery.
	pushoverEndpoint = "https://api.pushover.net/1/messages.json"
	// defaultPushoverTimeout is the HTTP timeout used for Pushover requests.
	defaultPushoverTimeout = 10 * time.Second
)

// PushoverConfig describes the credentials and defaults for Pushover delivery.
type PushoverConfig struct {
	// Token is the application API token.
	Token string
	// UserKey is the destination user key.
	UserKey string
	// Priority is the Pushover priority value for messages.
	Priority int
	// Cooldown is the minimum interval between pushes per conversation.
	Cooldown time.Duration
}

// Pushover forwards chat notifications to the Pushover service. Pushes are
// rate limited per conversation so a busy thread produces one push per
// cooldown window, not one per message.
type Pushover struct {
	userKey  string
	priority int
	cooldown time.Duration

	http *resty.Client
	// endpoint is overridable in tests.
	endpoint string

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewPushover creates a notifier using the supplied config.
func NewPushover(cfg PushoverConfig) (*Pushover, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("pushover token is required")
	}
	if strings.TrimSpace(cfg.UserKey) == "" {
		return nil, fmt.Errorf("pushover user key is required")
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("pushover cooldown must be non-negative")
	}

	client := resty.New().
		SetTimeout(defaultPushoverTimeout).
		SetFormData(map[string]string{"token": cfg.Token})

	return &Pushover{
		userKey:  cfg.UserKey,
		priority: cfg.Priority,
		cooldown: cfg.Cooldown,
		http:     client,
		endpoint: pushoverEndpoint,
		lastSent: make(map[string]time.Time),
	}, nil
}

// Close releases the underlying HTTP client.
func (p *Pushover) Close() error {
	return p.http.Close()
}

// Push sends a notification for a conversation unless one was already sent
// within the cooldown window. A suppressed push is not an error.
func (p *Pushover) Push(ctx context.Context, conversationID, title, body string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return fmt.Errorf("push body is required")
	}

	now := time.Now()
	if !p.shouldSend(conversationID, now) {
		return nil
	}
	if err := p.send(ctx, title, body); err != nil {
		return err
	}
	p.markSent(conversationID, now)
	return nil
}

// shouldSend reports whether a push is allowed under cooldown rules.
func (p *Pushover) shouldSend(conversationID string, now time.Time) bool {
	if p.cooldown == 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastSent[conversationID]
	if !ok {
		return true
	}
	return now.Sub(last) >= p.cooldown
}

// markSent records a successful push time for a conversation.
func (p *Pushover) markSent(conversationID string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSent[conversationID] = now
}

// send performs the HTTP request to Pushover.
func (p *Pushover) send(ctx context.Context, title, body string) error {
	form := map[string]string{
		"user":    p.userKey,
		"message": body,
	}
	if title = strings.TrimSpace(title); title != "" {
		form["title"] = title
	}
	if p.priority != 0 {
		form["priority"] = strconv.Itoa(p.priority)
	}

	res, err := p.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(p.endpoint)
	if err != nil {
		return fmt.Errorf("pushover request failed: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("pushover response %s: %s", res.Status(), strings.TrimSpace(res.String()))
	}
	return nil
}
