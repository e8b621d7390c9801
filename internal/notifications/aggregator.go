// Package notifications maintains the deduplicated unread-notification
// store: one entry per message, persisted locally and periodically
// reconciled with the server.
package notifications

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quillchat/quill/internal/events"
	"github.com/quillchat/quill/internal/eventbus"
	"github.com/quillchat/quill/internal/storage"
	"github.com/quillchat/quill/pkg/logger"
)

// stateKey is the persistence key for the notification store.
const stateKey = "chat_notifications"

// Notification is a single unread-activity entry. Exactly one notification
// exists per message id.
type Notification struct {
	// ID is the notification id, derived from the message id.
	ID string `json:"id"`
	// ConversationID is the conversation the message belongs to.
	ConversationID string `json:"conversationId"`
	// MessageID is the id of the triggering message.
	MessageID string `json:"messageId"`
	// SenderID identifies the sending user.
	SenderID string `json:"senderId"`
	// SenderName is the display name of the sender.
	SenderName string `json:"senderName"`
	// Content is the message body.
	Content string `json:"content"`
	// Timestamp is the message creation time.
	Timestamp time.Time `json:"timestamp"`
	// IsRead marks the notification as read. Read state is monotonic: a
	// read notification never becomes unread again.
	IsRead bool `json:"isRead"`
}

// Snapshot is the full aggregator state pushed to listeners.
type Snapshot struct {
	// Notifications is ordered oldest first.
	Notifications []Notification `json:"notifications"`
	// UnreadCount is the number of unread entries.
	UnreadCount int `json:"unreadCount"`
	// LastUpdated is the time of the last state change.
	LastUpdated time.Time `json:"lastUpdated"`
}

// Listener receives the full state after every change.
type Listener func(Snapshot)

// Options holds aggregation knobs.
type Options struct {
	// Cap bounds the store; the oldest entries are evicted beyond it.
	Cap int
	// RetentionDays is the default horizon for ClearOldNotifications.
	RetentionDays int
	// SyncInterval is the period between server reconciliations.
	SyncInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.Cap <= 0 {
		o.Cap = 100
	}
	if o.RetentionDays <= 0 {
		o.RetentionDays = 7
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = time.Minute
	}
}

// Aggregator is the notification store. All methods are safe for concurrent
// use.
type Aggregator struct {
	mu          sync.Mutex
	notifs      []Notification
	lastUpdated time.Time

	nextListenerID int
	listeners      map[int]Listener

	store *storage.Store
	api   SyncAPI
	log   *logger.Logger
	opts  Options

	// now is swappable in tests.
	now func() time.Time

	syncStop chan struct{}
}

// New creates an Aggregator and eagerly loads persisted state. store and
// api may be nil; persistence and server sync are then disabled.
func New(store *storage.Store, api SyncAPI, opts Options, log *logger.Logger) *Aggregator {
	if log == nil {
		log = logger.Nop()
	}
	opts.applyDefaults()
	a := &Aggregator{
		listeners: make(map[int]Listener),
		store:     store,
		api:       api,
		log:       log,
		opts:      opts,
		now:       time.Now,
	}
	a.load()
	return a
}

// NotificationID derives the stable notification id for a message.
func NotificationID(messageID string) string {
	return "notif-" + messageID
}

// Attach subscribes the aggregator to bus events: inbound messages create
// notifications and locally opened conversations clear them.
func (a *Aggregator) Attach(bus *eventbus.Bus) {
	bus.On(string(events.TypeMessageReceived), func(payload any) {
		ev, ok := payload.(events.MessageReceived)
		if !ok {
			return
		}
		a.AddFromMessage(ev)
	})
	bus.On(string(events.TypeConversationOpened), func(payload any) {
		ev, ok := payload.(events.ConversationOpened)
		if !ok {
			return
		}
		a.MarkConversationAsRead(ev.ConversationID)
	})
}

// AddFromMessage records a notification for an inbound message event.
func (a *Aggregator) AddFromMessage(ev events.MessageReceived) {
	msg := ev.Message
	ts, err := time.Parse(time.RFC3339, msg.Timestamp)
	if err != nil {
		ts = a.now()
	}
	a.AddNotification(Notification{
		ID:             NotificationID(msg.ID),
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		Content:        msg.Content,
		Timestamp:      ts,
	})
}

// AddNotification inserts n unless a notification for the same message
// already exists. Beyond the cap the oldest entries are evicted.
func (a *Aggregator) AddNotification(n Notification) {
	if n.ID == "" {
		n.ID = NotificationID(n.MessageID)
	}
	a.mu.Lock()
	for _, existing := range a.notifs {
		if existing.MessageID == n.MessageID {
			a.mu.Unlock()
			return
		}
	}
	a.notifs = append(a.notifs, n)
	if over := len(a.notifs) - a.opts.Cap; over > 0 {
		a.notifs = a.notifs[over:]
	}
	a.changedLocked()
}

// MarkAsRead marks the given notifications read. Already-read entries and
// unknown ids are ignored; listeners fire only when something changed.
func (a *Aggregator) MarkAsRead(ids ...string) {
	a.mu.Lock()
	changed := false
	for i := range a.notifs {
		if a.notifs[i].IsRead {
			continue
		}
		for _, id := range ids {
			if a.notifs[i].ID == id {
				a.notifs[i].IsRead = true
				changed = true
				break
			}
		}
	}
	a.finishLocked(changed)
}

// MarkConversationAsRead marks every notification in a conversation read.
func (a *Aggregator) MarkConversationAsRead(conversationID string) {
	a.mu.Lock()
	changed := false
	for i := range a.notifs {
		if a.notifs[i].ConversationID == conversationID && !a.notifs[i].IsRead {
			a.notifs[i].IsRead = true
			changed = true
		}
	}
	a.finishLocked(changed)
}

// MarkAllAsRead marks every notification read.
func (a *Aggregator) MarkAllAsRead() {
	a.mu.Lock()
	changed := false
	for i := range a.notifs {
		if !a.notifs[i].IsRead {
			a.notifs[i].IsRead = true
			changed = true
		}
	}
	a.finishLocked(changed)
}

// RemoveNotifications deletes the given notifications.
func (a *Aggregator) RemoveNotifications(ids ...string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	a.mu.Lock()
	a.removeLocked(func(n Notification) bool { return drop[n.ID] })
}

// ClearConversationNotifications deletes every notification in a
// conversation.
func (a *Aggregator) ClearConversationNotifications(conversationID string) {
	a.mu.Lock()
	a.removeLocked(func(n Notification) bool { return n.ConversationID == conversationID })
}

// ClearAll deletes every notification.
func (a *Aggregator) ClearAll() {
	a.mu.Lock()
	a.removeLocked(func(Notification) bool { return true })
}

// ClearOldNotifications deletes notifications older than the given number
// of days. olderThanDays <= 0 falls back to the configured retention.
func (a *Aggregator) ClearOldNotifications(olderThanDays int) {
	if olderThanDays <= 0 {
		olderThanDays = a.opts.RetentionDays
	}
	cutoff := a.now().AddDate(0, 0, -olderThanDays)
	a.mu.Lock()
	a.removeLocked(func(n Notification) bool { return n.Timestamp.Before(cutoff) })
}

// removeLocked drops matching entries and finishes the mutation. The
// caller holds a.mu.
func (a *Aggregator) removeLocked(match func(Notification) bool) {
	kept := a.notifs[:0]
	for _, n := range a.notifs {
		if !match(n) {
			kept = append(kept, n)
		}
	}
	changed := len(kept) != len(a.notifs)
	a.notifs = kept
	a.finishLocked(changed)
}

// Snapshot returns a copy of the current state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// UnreadCount reports the number of unread notifications.
func (a *Aggregator) UnreadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for _, n := range a.notifs {
		if !n.IsRead {
			count++
		}
	}
	return count
}

// Subscribe registers a listener and immediately pushes the current state
// to it. The returned id is used with Unsubscribe.
func (a *Aggregator) Subscribe(l Listener) int {
	if l == nil {
		return 0
	}
	a.mu.Lock()
	a.nextListenerID++
	id := a.nextListenerID
	a.listeners[id] = l
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.invoke(l, snap)
	return id
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (a *Aggregator) Unsubscribe(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.listeners, id)
}

// SyncWithServer replaces local state wholesale with the server's view.
func (a *Aggregator) SyncWithServer(ctx context.Context) error {
	if a.api == nil {
		return nil
	}
	remote, err := a.api.FetchNotifications(ctx)
	if err != nil {
		return err
	}
	sort.Slice(remote, func(i, j int) bool {
		return remote[i].Timestamp.Before(remote[j].Timestamp)
	})
	a.mu.Lock()
	a.notifs = remote
	if over := len(a.notifs) - a.opts.Cap; over > 0 {
		a.notifs = a.notifs[over:]
	}
	a.changedLocked()
	return nil
}

// MarkAsReadOnServer marks the given conversations (or everything, when
// markAll is set) read locally and reports the change to the server. A
// server failure is logged but the local mark is kept: the next sync
// reconciles.
func (a *Aggregator) MarkAsReadOnServer(ctx context.Context, conversationIDs []string, markAll bool) {
	if markAll {
		a.MarkAllAsRead()
	} else {
		for _, id := range conversationIDs {
			a.MarkConversationAsRead(id)
		}
	}
	if a.api == nil {
		return
	}
	if err := a.api.MarkRead(ctx, conversationIDs, markAll); err != nil {
		a.log.Warn("failed to mark notifications read on server", zap.Error(err))
	}
}

// StartSync reconciles with the server immediately and then on the
// configured interval until StopSync is called or ctx ends.
func (a *Aggregator) StartSync(ctx context.Context) {
	a.mu.Lock()
	if a.syncStop != nil {
		a.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	a.syncStop = stop
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(a.opts.SyncInterval)
		defer ticker.Stop()
		a.syncOnce(ctx)
		for {
			select {
			case <-ticker.C:
				a.syncOnce(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopSync stops the periodic reconciliation loop.
func (a *Aggregator) StopSync() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.syncStop != nil {
		close(a.syncStop)
		a.syncStop = nil
	}
}

// syncOnce runs one reconciliation round: the retention horizon is pushed
// server-side first so the subsequent fetch mirrors the local eviction.
func (a *Aggregator) syncOnce(ctx context.Context) {
	if a.api != nil {
		if err := a.api.DeleteOld(ctx, a.opts.RetentionDays); err != nil {
			a.log.Warn("failed to delete old notifications on server", zap.Error(err))
		}
	}
	a.ClearOldNotifications(a.opts.RetentionDays)
	if err := a.SyncWithServer(ctx); err != nil {
		a.log.Warn("notification sync failed", zap.Error(err))
	}
}

// finishLocked persists and notifies when changed, and releases a.mu.
func (a *Aggregator) finishLocked(changed bool) {
	if !changed {
		a.mu.Unlock()
		return
	}
	a.changedLocked()
}

// changedLocked stamps, persists, snapshots, and releases a.mu before
// notifying listeners.
func (a *Aggregator) changedLocked() {
	a.lastUpdated = a.now()
	a.persistLocked()
	snap := a.snapshotLocked()
	listeners := make([]Listener, 0, len(a.listeners))
	for _, l := range a.listeners {
		listeners = append(listeners, l)
	}
	a.mu.Unlock()

	for _, l := range listeners {
		a.invoke(l, snap)
	}
}

func (a *Aggregator) invoke(l Listener, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("notification listener panicked", zap.Any("panic", r))
		}
	}()
	l(snap)
}

func (a *Aggregator) snapshotLocked() Snapshot {
	notifs := make([]Notification, len(a.notifs))
	copy(notifs, a.notifs)
	unread := 0
	for _, n := range notifs {
		if !n.IsRead {
			unread++
		}
	}
	return Snapshot{
		Notifications: notifs,
		UnreadCount:   unread,
		LastUpdated:   a.lastUpdated,
	}
}

func (a *Aggregator) persistLocked() {
	if a.store == nil {
		return
	}
	state := Snapshot{
		Notifications: a.notifs,
		UnreadCount:   0,
		LastUpdated:   a.lastUpdated,
	}
	for _, n := range a.notifs {
		if !n.IsRead {
			state.UnreadCount++
		}
	}
	if err := a.store.Save(stateKey, state); err != nil {
		a.log.Warn("failed to persist notifications", zap.Error(err))
	}
}

func (a *Aggregator) load() {
	if a.store == nil {
		return
	}
	var state Snapshot
	ok, err := a.store.Load(stateKey, &state)
	if err != nil {
		a.log.Warn("failed to load persisted notifications", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	a.notifs = state.Notifications
	a.lastUpdated = state.LastUpdated
	if over := len(a.notifs) - a.opts.Cap; over > 0 {
		a.notifs = a.notifs[over:]
	}
}
