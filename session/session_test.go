package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibin_realtime/models"
)

type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	// block, when set, holds every data write until it is closed
	block chan struct{}

	mu     sync.Mutex
	writes []models.Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-c.closed:
		}
	}
	select {
	case <-c.closed:
		return errors.New("use of closed network connection")
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.writes = append(c.writes, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.writes))
	for _, env := range c.writes {
		var payload models.ConversationPayload
		_ = json.Unmarshal(env.Payload, &payload)
		types = append(types, payload.ConversationID)
	}
	return types
}

// fakeDialer hands out scripted results in order; once the script runs out it
// keeps returning fresh connections.
type fakeDialer struct {
	mu      sync.Mutex
	script  []error
	conns   []*fakeConn
	urls    []string
	release chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if len(d.script) > 0 {
		err := d.script[0]
		d.script = d.script[1:]
		if err != nil {
			return nil, err
		}
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func testConfig(d Dialer) Config {
	return Config{
		URL:         "ws://localhost:8080/ws",
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		MaxAttempts: 3,
		Dialer:      d,
	}
}

func envelope(t *testing.T, conversationID string) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(models.EnvelopeMessageSend, models.ConversationPayload{ConversationID: conversationID})
	require.NoError(t, err)
	return env
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestBackoffIsMonotonicAndCapped(t *testing.T) {
	base, max := 100*time.Millisecond, 3*time.Second
	b := newBackOff(base, max)

	var delays []time.Duration
	for i := 0; i < 64; i++ {
		delays = append(delays, b.NextBackOff())
	}
	for i, delay := range delays {
		assert.LessOrEqual(t, delay, max)
		if i > 0 {
			assert.GreaterOrEqual(t, delay, delays[i-1], "retry %d", i)
		}
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		max,
	}, delays[:6])
	assert.Equal(t, max, delays[63])

	b.Reset()
	assert.Equal(t, base, b.NextBackOff())
}

func TestTransportURLCarriesToken(t *testing.T) {
	got, err := TransportURL("wss://api.example.com/ws", "abc.def")
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/ws?token=abc.def", got)

	got, err = TransportURL("ws://localhost/ws?v=2", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost/ws?v=2", got)
}

func TestConnectUsesPrincipalCredential(t *testing.T) {
	dialer := &fakeDialer{}
	s := New(testConfig(dialer), StaticPrincipal{UserID: "u1", Token: "secret"}, nil)
	defer s.Disconnect()

	s.Connect()
	waitFor(t, func() bool { return s.Status().IsConnected })
	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	assert.Equal(t, []string{"ws://localhost:8080/ws?token=secret"}, dialer.urls)
}

func TestQueuedEnvelopesFlushBeforeLaterSends(t *testing.T) {
	dialer := &fakeDialer{release: make(chan struct{})}
	s := New(testConfig(dialer), StaticPrincipal{UserID: "u1"}, nil)
	defer s.Disconnect()

	var once sync.Once
	s.OnStatus(func(status models.ConnectionStatus) {
		if status.IsConnected {
			once.Do(func() { s.Send(envelope(t, "4")) })
		}
	})

	assert.False(t, s.Status().IsConnected)
	s.Send(envelope(t, "1"))
	s.Connect()
	assert.True(t, s.Status().IsConnecting)
	s.Send(envelope(t, "2"))
	s.Send(envelope(t, "3"))
	assert.Equal(t, 3, s.Pending())

	close(dialer.release)
	waitFor(t, func() bool {
		conn := dialer.last()
		return conn != nil && len(conn.written()) == 4
	})
	assert.Equal(t, []string{"1", "2", "3", "4"}, dialer.last().written())
	assert.Zero(t, s.Pending())
}

func TestQueuePreservedAcrossReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	s := New(testConfig(dialer), nil, nil)
	defer s.Disconnect()

	s.Connect()
	waitFor(t, func() bool { return s.Status().IsConnected })
	first := dialer.last()
	s.Send(envelope(t, "a"))
	waitFor(t, func() bool { return len(first.written()) == 1 })

	// the network drops; sends made meanwhile are queued, none are lost
	require.NoError(t, first.Close())
	s.Send(envelope(t, "b"))
	s.Send(envelope(t, "c"))

	waitFor(t, func() bool { return dialer.calls() == 2 && s.Status().IsConnected })
	s.Send(envelope(t, "d"))

	assert.Equal(t, []string{"a"}, first.written())
	waitFor(t, func() bool { return len(dialer.last().written()) == 3 })
	assert.Equal(t, []string{"b", "c", "d"}, dialer.last().written())
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	refused := errors.New("connection refused")
	dialer := &fakeDialer{script: []error{refused, refused, refused, refused}}
	s := New(testConfig(dialer), nil, nil)
	defer s.Disconnect()

	var (
		mu       sync.Mutex
		statuses []models.ConnectionStatus
	)
	s.OnStatus(func(status models.ConnectionStatus) {
		mu.Lock()
		statuses = append(statuses, status)
		mu.Unlock()
	})

	s.Connect()
	waitFor(t, func() bool { return s.State() == GivenUp })
	assert.Equal(t, 4, dialer.calls())

	status := s.Status()
	assert.False(t, status.IsConnected)
	assert.False(t, status.IsConnecting)
	assert.Contains(t, status.Error, "connection refused")

	// no further retries on their own
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, dialer.calls())

	mu.Lock()
	for _, st := range statuses {
		assert.False(t, st.IsConnected && st.IsConnecting)
		if st.IsConnected || st.IsConnecting {
			assert.Empty(t, st.Error)
		}
	}
	mu.Unlock()

	// a manual connect gets a fresh budget
	s.Connect()
	waitFor(t, func() bool { return s.Status().IsConnected })
	assert.Equal(t, 5, dialer.calls())
}

func TestConnectIsNoOpWhileConnected(t *testing.T) {
	dialer := &fakeDialer{}
	s := New(testConfig(dialer), nil, nil)
	defer s.Disconnect()

	s.Connect()
	waitFor(t, func() bool { return s.Status().IsConnected })
	s.Connect()
	s.Connect()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, dialer.calls())
}

func TestDisconnectDiscardsQueueAndIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{release: make(chan struct{})}
	s := New(testConfig(dialer), nil, nil)

	s.Connect()
	s.Send(envelope(t, "x"))
	s.Disconnect()
	s.Disconnect()
	assert.Equal(t, Idle, s.State())
	assert.Zero(t, s.Pending())
	assert.Equal(t, models.ConnectionStatus{}, s.Status())

	close(dialer.release)
	s.Connect()
	waitFor(t, func() bool { return s.Status().IsConnected })
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, dialer.last().written())
	s.Disconnect()

	select {
	case <-dialer.last().closed:
	default:
		t.Fatal("transport left open after Disconnect")
	}
}

func TestDisconnectStopsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := testConfig(dialer)
	cfg.BaseDelay = 50 * time.Millisecond
	cfg.MaxDelay = 50 * time.Millisecond
	s := New(cfg, nil, nil)

	s.Connect()
	waitFor(t, func() bool { return s.Status().IsConnected })
	require.NoError(t, dialer.last().Close())
	waitFor(t, func() bool { return s.State() == Disconnected })
	assert.NotEmpty(t, s.Status().Error)

	s.Disconnect()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, dialer.calls())
	assert.Equal(t, Idle, s.State())
}

func TestMalformedFramesAreDropped(t *testing.T) {
	dialer := &fakeDialer{}
	var (
		mu     sync.Mutex
		frames []models.Frame
	)
	handler := FrameHandlerFunc(func(frame models.Frame) {
		mu.Lock()
		frames = append(frames, frame)
		mu.Unlock()
	})
	s := New(testConfig(dialer), nil, handler)
	defer s.Disconnect()

	s.Connect()
	waitFor(t, func() bool { return s.Status().IsConnected })
	conn := dialer.last()
	conn.inbound <- []byte("not json")
	conn.inbound <- []byte(`{"payload":{"conversationId":"c"}}`)
	conn.inbound <- []byte(`{"type":"typing:start","payload":{"conversationId":"c","fromUserId":"u2"}}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 1
	})
	assert.Equal(t, models.FrameTypingStart, frames[0].Type)
	assert.True(t, s.Status().IsConnected)
	assert.Equal(t, 1, dialer.calls())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "given-up", GivenUp.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestSendDoesNotWaitOnAStalledWrite(t *testing.T) {
	conn := newFakeConn()
	conn.block = make(chan struct{})
	dialer := DialerFunc(func(ctx context.Context, url string) (Conn, error) { return conn, nil })
	s := New(testConfig(dialer), nil, nil)
	defer s.Disconnect()

	s.Connect()
	waitFor(t, func() bool { return s.Status().IsConnected })

	first, second := envelope(t, "1"), envelope(t, "2")
	sent := make(chan struct{})
	go func() {
		s.Send(first)
		s.Send(second)
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("Send waited for the socket write")
	}
	assert.Empty(t, conn.written())

	close(conn.block)
	waitFor(t, func() bool { return len(conn.written()) == 2 })
	assert.Equal(t, []string{"1", "2"}, conn.written())
}

func TestResumeEnvelopesGoAheadOfTheQueue(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := testConfig(dialer)
	cfg.BaseDelay = 50 * time.Millisecond
	cfg.MaxDelay = 50 * time.Millisecond
	s := New(cfg, nil, nil)
	defer s.Disconnect()

	join, err := models.NewEnvelope(models.EnvelopeJoin, models.ConversationPayload{ConversationID: "c1"})
	require.NoError(t, err)
	typing, err := models.NewEnvelope(models.EnvelopeTypingStart, models.ConversationPayload{ConversationID: "c1"})
	require.NoError(t, err)

	var resumes atomic.Int32
	s.OnResume(func() []models.Envelope {
		resumes.Add(1)
		return []models.Envelope{join}
	})

	// queued before the first connection, including a copy of the join
	s.Send(join)
	s.Send(typing)
	s.Connect()
	waitFor(t, func() bool { return len(dialer.last().written()) == 2 })
	first := dialer.last()

	require.NoError(t, first.Close())
	waitFor(t, func() bool { return s.State() == Disconnected })
	s.Send(typing)
	waitFor(t, func() bool { return dialer.calls() == 2 && len(dialer.last().written()) == 2 })

	for _, conn := range []*fakeConn{first, dialer.last()} {
		conn.mu.Lock()
		types := []string{conn.writes[0].Type, conn.writes[1].Type}
		conn.mu.Unlock()
		assert.Equal(t, []string{models.EnvelopeJoin, models.EnvelopeTypingStart}, types)
	}
	assert.Equal(t, int32(2), resumes.Load())
}

func TestPrependKeepsCopiesBehindOtherEnvelopes(t *testing.T) {
	join, err := models.NewEnvelope(models.EnvelopeJoin, models.ConversationPayload{ConversationID: "c1"})
	require.NoError(t, err)
	leave, err := models.NewEnvelope(models.EnvelopeLeave, models.ConversationPayload{ConversationID: "c1"})
	require.NoError(t, err)

	s := New(testConfig(&fakeDialer{}), nil, nil)
	s.queue = []models.Envelope{join, leave, join}
	s.prependLocked([]models.Envelope{join})

	var types []string
	for _, env := range s.queue {
		types = append(types, env.Type)
	}
	assert.Equal(t, []string{models.EnvelopeJoin, models.EnvelopeLeave, models.EnvelopeJoin}, types)
}
