package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/quillchat/quill/internal/wire"
	"github.com/quillchat/quill/pkg/logger"
)

// fakeConn is a scriptable Conn. Inbound frames are injected via
// serverSend; writes are recorded and can be made to fail.
type fakeConn struct {
	mu        sync.Mutex
	writes    []wire.Message
	failWrite bool
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, &websocket.CloseError{
			Code: websocket.CloseAbnormalClosure,
			Text: "connection lost",
		}
	}
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return errors.New("write failed")
	}
	msg, ok := v.(wire.Message)
	if !ok {
		return errors.New("unexpected write type")
	}
	f.writes = append(f.writes, msg)
	return nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) setFailWrite(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrite = fail
}

func (f *fakeConn) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.writes))
	for i, msg := range f.writes {
		types[i] = msg.Type
	}
	return types
}

func (f *fakeConn) serverSend(t *testing.T, msg wire.Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	f.inbound <- data
}

func (f *fakeConn) serverSendRaw(data []byte) {
	f.inbound <- data
}

// fakeDialer hands out fakeConns, optionally failing the first N dials.
type fakeDialer struct {
	mu    sync.Mutex
	fails int
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) dial(string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fails != 0 {
		if d.fails > 0 {
			d.fails--
		}
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// recorder collects transport events and signals arrivals per event name.
type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func record(c *Client, names ...string) *recorder {
	r := &recorder{ch: make(chan Event, 64)}
	for _, name := range names {
		c.On(name, func(ev Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
			r.ch <- ev
		})
	}
	return r
}

func (r *recorder) wait(t *testing.T, name string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-r.ch:
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %q event", name)
			return Event{}
		}
	}
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func newTestClient(d *fakeDialer, mutate func(*Config)) *Client {
	cfg := Config{
		URL:                  "https://server.test",
		Token:                "tok",
		BackoffBase:          time.Millisecond,
		MaxReconnectAttempts: 10,
		QueueCapacity:        100,
		SendMaxRetries:       3,
		Dialer:               d.dial,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, logger.Nop())
}

func TestNewBackoff_DoublingSeries(t *testing.T) {
	t.Parallel()

	base := 5 * time.Second
	b := newBackoff(base, 10)
	for k := 1; k <= 6; k++ {
		want := base << uint(k-1)
		require.Equal(t, want, b.NextBackOff(), "attempt %d", k)
	}
	b.Reset()
	require.Equal(t, base, b.NextBackOff())
}

func TestClient_ConnectIdempotent(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := newTestClient(d, nil)

	require.NoError(t, c.Connect())
	require.True(t, c.IsConnected())
	require.NoError(t, c.Connect())
	require.Equal(t, 1, d.dialCount())
}

func TestClient_ConnectSurfacesDialError(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{fails: -1}
	c := newTestClient(d, nil)

	err := c.Connect()
	require.Error(t, err)
	require.Equal(t, StateDisconnected, c.Status().State)
}

func TestClient_EndpointBuildsWebsocketURL(t *testing.T) {
	t.Parallel()

	c := newTestClient(&fakeDialer{}, func(cfg *Config) {
		cfg.URL = "https://server.test"
		cfg.Token = "secret"
	})
	endpoint, err := c.endpoint()
	require.NoError(t, err)
	require.Equal(t, "wss://server.test/v1/stream?token=secret", endpoint)
}

func TestClient_SendWhileOpenTransmitsInCallOrder(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := newTestClient(d, nil)
	require.NoError(t, c.Connect())

	for _, content := range []string{"one", "two", "three"} {
		ok := c.Send(wire.TypeSendMessage, wire.SendMessagePayload{
			ConversationID: "c1", Content: content, Type: "text",
		})
		require.True(t, ok)
	}

	conn := d.lastConn()
	require.Equal(t, []string{
		wire.TypeSendMessage, wire.TypeSendMessage, wire.TypeSendMessage,
	}, conn.sentTypes())

	var payload wire.SendMessagePayload
	require.NoError(t, conn.writes[0].DecodeData(&payload))
	require.Equal(t, "one", payload.Content)
}

func TestClient_SendWhileDisconnectedQueues(t *testing.T) {
	t.Parallel()

	c := newTestClient(&fakeDialer{}, nil)
	rec := record(c, EventMessageQueued)

	ok := c.Send(wire.TypeSendMessage, wire.SendMessagePayload{ConversationID: "c1"})
	require.True(t, ok)
	require.Equal(t, 1, c.Status().QueueLength)
	require.Equal(t, 1, rec.count(EventMessageQueued))
}

func TestClient_SendWithoutQueueingReturnsFalse(t *testing.T) {
	t.Parallel()

	c := newTestClient(&fakeDialer{}, nil)

	ok := c.SendWithOptions(wire.TypeSendMessage, nil, SendOptions{QueueOnFailure: false})
	require.False(t, ok)
	require.Equal(t, 0, c.Status().QueueLength)
}

func TestClient_QueueEvictsOldestOnOverflow(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := newTestClient(d, func(cfg *Config) { cfg.QueueCapacity = 3 })

	for _, content := range []string{"one", "two", "three", "four"} {
		c.Send(wire.TypeSendMessage, wire.SendMessagePayload{Content: content})
	}
	require.Equal(t, 3, c.Status().QueueLength)

	// Drain on connect: the oldest entry must be gone.
	require.NoError(t, c.Connect())
	conn := d.lastConn()
	contents := make([]string, 0, len(conn.writes))
	for _, msg := range conn.writes {
		var payload wire.SendMessagePayload
		require.NoError(t, msg.DecodeData(&payload))
		contents = append(contents, payload.Content)
	}
	require.Equal(t, []string{"two", "three", "four"}, contents)
}

func TestClient_DrainTransmitsInOriginalOrder(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := newTestClient(d, nil)
	rec := record(c, EventMessageRetrySuccess)

	for _, content := range []string{"a", "b", "c"} {
		c.Send(wire.TypeSendMessage, wire.SendMessagePayload{Content: content})
	}
	require.NoError(t, c.Connect())

	conn := d.lastConn()
	contents := make([]string, 0, 3)
	for _, msg := range conn.writes {
		var payload wire.SendMessagePayload
		require.NoError(t, msg.DecodeData(&payload))
		contents = append(contents, payload.Content)
	}
	require.Equal(t, []string{"a", "b", "c"}, contents)
	require.Equal(t, 3, rec.count(EventMessageRetrySuccess))
	require.Equal(t, 0, c.Status().QueueLength)
}

func TestClient_RetryCeilingProducesSingleTerminalEvent(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := newTestClient(d, nil)
	rec := record(c, EventMessageRetryFailed)

	ok := c.SendWithOptions(wire.TypeSendMessage, wire.SendMessagePayload{Content: "x"},
		SendOptions{QueueOnFailure: true, MaxRetries: 2})
	require.True(t, ok)

	require.NoError(t, c.Connect())
	conn := d.lastConn()
	// The connect drain already consumed the queue successfully, so re-queue
	// it against a failing connection.
	require.Equal(t, 0, rec.count(EventMessageRetryFailed))

	conn.setFailWrite(true)
	c.Send(wire.TypeSendMessage, wire.SendMessagePayload{Content: "y"})
	require.Equal(t, 1, c.Status().QueueLength)

	c.drainQueue() // retryCount 1 of 2, re-queued
	require.Equal(t, 1, c.Status().QueueLength)
	require.Equal(t, 0, rec.count(EventMessageRetryFailed))

	c.drainQueue() // retryCount 2 of 2, dropped
	require.Equal(t, 0, c.Status().QueueLength)
	require.Equal(t, 1, rec.count(EventMessageRetryFailed))

	c.drainQueue() // nothing left, no further events
	require.Equal(t, 1, rec.count(EventMessageRetryFailed))
}

func TestClient_FailedDrainRequeuesAtBack(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := newTestClient(d, nil)

	require.NoError(t, c.Connect())
	conn := d.lastConn()
	conn.setFailWrite(true)

	c.SendWithOptions(wire.TypeSendMessage, wire.SendMessagePayload{Content: "old"},
		SendOptions{QueueOnFailure: true, MaxRetries: 5})
	c.drainQueue()
	c.SendWithOptions(wire.TypeSendMessage, wire.SendMessagePayload{Content: "new"},
		SendOptions{QueueOnFailure: true, MaxRetries: 5})

	conn.setFailWrite(false)
	c.drainQueue()

	contents := make([]string, 0, 2)
	for _, msg := range conn.writes {
		var payload wire.SendMessagePayload
		require.NoError(t, msg.DecodeData(&payload))
		contents = append(contents, payload.Content)
	}
	require.Equal(t, []string{"old", "new"}, contents)
}

func TestClient_UnexpectedCloseReconnectsWithBackoff(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := newTestClient(d, nil)
	rec := record(c, EventConnected, EventDisconnected, EventReconnecting)

	require.NoError(t, c.Connect())
	rec.wait(t, EventConnected, time.Second)

	d.mu.Lock()
	d.fails = 2 // two failed dials before the next one succeeds
	d.mu.Unlock()
	d.lastConn().Close()

	rec.wait(t, EventDisconnected, time.Second)
	rec.wait(t, EventConnected, 2*time.Second)

	require.True(t, c.IsConnected())
	require.Equal(t, 3, rec.count(EventReconnecting))
	// A successful connection resets the attempt counter.
	require.Equal(t, 0, c.Status().ReconnectAttempt)
}

func TestClient_StopsAfterMaxReconnectAttempts(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := newTestClient(d, func(cfg *Config) { cfg.MaxReconnectAttempts = 3 })
	rec := record(c, EventConnected, EventReconnecting, EventMaxReconnectAttempts)

	require.NoError(t, c.Connect())
	rec.wait(t, EventConnected, time.Second)

	d.mu.Lock()
	d.fails = -1 // all further dials fail
	d.mu.Unlock()
	d.lastConn().Close()

	ev := rec.wait(t, EventMaxReconnectAttempts, 2*time.Second)
	require.Equal(t, 3, ev.Attempt)
	require.Equal(t, 3, rec.count(EventReconnecting))
	require.False(t, c.IsConnected())
}

func TestClient_DisconnectSuppressesReconnect(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := newTestClient(d, nil)
	rec := record(c, EventConnected, EventDisconnected, EventReconnecting)

	require.NoError(t, c.Connect())
	rec.wait(t, EventConnected, time.Second)

	c.Disconnect()
	ev := rec.wait(t, EventDisconnected, time.Second)
	require.Equal(t, websocket.CloseNormalClosure, ev.Code)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, rec.count(EventReconnecting))

	// Sends after a manual disconnect are dropped, never queued.
	require.False(t, c.Send(wire.TypeSendMessage, nil))
	require.Equal(t, 0, c.Status().QueueLength)
}

func TestClient_UnauthorizedIsTerminal(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := newTestClient(d, nil)
	rec := record(c, EventConnected, EventDisconnected, EventReconnecting, EventUnauthorized)

	require.NoError(t, c.Connect())
	rec.wait(t, EventConnected, time.Second)

	d.lastConn().serverSend(t, wire.Message{
		Type:    wire.TypeError,
		Code:    wire.CodeUnauthorized,
		Message: "token revoked",
	})

	rec.wait(t, EventUnauthorized, time.Second)
	rec.wait(t, EventDisconnected, time.Second)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, rec.count(EventReconnecting))
	require.False(t, c.IsConnected())

	// A manual Connect resumes the session.
	require.NoError(t, c.Connect())
	require.True(t, c.IsConnected())
	require.Equal(t, 2, d.dialCount())
}

func TestClient_RateLimitErrorDoesNotDisconnect(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := newTestClient(d, nil)
	rec := record(c, wire.TypeError)

	require.NoError(t, c.Connect())
	d.lastConn().serverSend(t, wire.Message{
		Type:      wire.TypeError,
		Code:      wire.CodeRateLimited,
		Message:   "slow down",
		Retryable: true,
	})

	ev := rec.wait(t, wire.TypeError, time.Second)
	require.Equal(t, wire.CodeRateLimited, ev.Wire.Code)
	require.True(t, ev.Wire.Retryable)
	require.True(t, c.IsConnected())
}

func TestClient_PongUpdatesHeartbeatTimestamp(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := newTestClient(d, nil)
	rec := record(c, wire.TypeMessageReceived)

	require.NoError(t, c.Connect())
	require.True(t, c.Status().LastHeartbeat.IsZero())

	d.lastConn().serverSend(t, wire.Message{Type: wire.TypePong})
	// Follow with a second frame so the pong is known to be processed.
	d.lastConn().serverSend(t, wire.Message{Type: wire.TypeMessageReceived})
	rec.wait(t, wire.TypeMessageReceived, time.Second)

	require.False(t, c.Status().LastHeartbeat.IsZero())
}

func TestClient_MalformedFrameIsDroppedNotFatal(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := newTestClient(d, nil)
	rec := record(c, wire.TypeMessageReceived)

	require.NoError(t, c.Connect())
	d.lastConn().serverSendRaw([]byte("{not json"))
	d.lastConn().serverSend(t, wire.Message{Type: wire.TypeMessageReceived})

	rec.wait(t, wire.TypeMessageReceived, time.Second)
	require.True(t, c.IsConnected())
}

func TestClient_PanickingHandlerDoesNotStopSiblings(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := newTestClient(d, nil)

	var called bool
	c.On(EventConnected, func(Event) { panic("boom") })
	c.On(EventConnected, func(Event) { called = true })

	require.NoError(t, c.Connect())
	require.True(t, called)
}
