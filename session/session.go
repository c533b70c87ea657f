package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vibin_realtime/models"
)

// State of a Session.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
	GivenUp
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case GivenUp:
		return "given-up"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// FrameHandler receives every well-formed inbound frame, in arrival order.
type FrameHandler interface {
	HandleFrame(frame models.Frame)
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(frame models.Frame)

func (f FrameHandlerFunc) HandleFrame(frame models.Frame) { f(frame) }

// Config tunes a Session. Zero values take the defaults below.
type Config struct {
	URL         string
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	DialTimeout time.Duration
	WriteWait   time.Duration
	Dialer      Dialer
}

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 5
	DefaultDialTimeout = 10 * time.Second
	DefaultWriteWait   = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.Dialer == nil {
		c.Dialer = WebsocketDialer{}
	}
	return c
}

// Session owns one logical connection for one principal. It reconnects with
// capped exponential backoff and queues envelopes while it has no connection.
//
// Every envelope goes through the queue. Each connection has one writer
// goroutine that drains it in order, so Send never touches the socket.
// Envelopes from the resume hook are put at the head of the queue in the same
// critical section that marks the session connected.
type Session struct {
	cfg       Config
	principal PrincipalProvider

	mu         sync.Mutex
	state      State
	conn       Conn
	queue      []models.Envelope
	attempt    int
	backoff    *backoff.ExponentialBackOff
	timer      *time.Timer
	cancelDial context.CancelFunc
	generation uint64
	lastErr    string
	handler    FrameHandler
	onResume   func() []models.Envelope
	wake       chan struct{}
	writerDone chan struct{}
	resets     uint64

	notifyMu      sync.Mutex
	onStatus      func(models.ConnectionStatus)
	publishing    bool
	republish     bool
	lastPublished *models.ConnectionStatus
}

// New creates an idle session. Call Connect to start it.
func New(cfg Config, principal PrincipalProvider, handler FrameHandler) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:       cfg,
		principal: principal,
		handler:   handler,
		backoff:   newBackOff(cfg.BaseDelay, cfg.MaxDelay),
	}
}

// SetHandler replaces the inbound frame handler.
func (s *Session) SetHandler(handler FrameHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// OnResume registers fn to be called on every new connection. The envelopes
// it returns are sent before anything already queued, and queued copies of
// them are dropped. fn runs outside the session lock.
func (s *Session) OnResume(fn func() []models.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResume = fn
}

// OnStatus registers the observer for ConnectionStatus changes. The observer
// runs outside the session lock and may call back into the session.
func (s *Session) OnStatus(fn func(models.ConnectionStatus)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.onStatus = fn
}

// Status returns the current ConnectionStatus.
func (s *Session) Status() models.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending is the number of envelopes not yet handed to the transport.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Connect starts connecting in the background. It is a no-op while connected
// or connecting. After the session gave up, Connect starts a new retry budget.
func (s *Session) Connect() {
	s.mu.Lock()
	switch s.state {
	case Connected, Connecting:
		s.mu.Unlock()
		return
	case GivenUp:
		s.attempt = 0
		s.backoff.Reset()
	}
	s.stopTimerLocked()
	s.startDialLocked()
	s.mu.Unlock()
	s.publish()
}

// Send queues env for the connection's writer. It never waits for
// connectivity or for the socket.
func (s *Session) Send(env models.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, env)
	if s.state != Connected {
		zap.S().Debugf("📥 Queued %s while %s (%d pending)", env.Type, s.state, len(s.queue))
		return
	}
	s.wakeWriterLocked()
}

// SendPayload marshals payload into an envelope of the given type and sends it.
func (s *Session) SendPayload(envelopeType string, payload interface{}) error {
	env, err := models.NewEnvelope(envelopeType, payload)
	if err != nil {
		return err
	}
	s.Send(env)
	return nil
}

// Disconnect cancels any reconnect, closes the transport and discards queued
// envelopes. Calling it again is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == Idle && s.conn == nil && len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.resets++
	s.stopTimerLocked()
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	conn := s.conn
	s.conn = nil
	s.stopWriterLocked()
	if len(s.queue) > 0 {
		zap.S().Infof("🗑️ Discarding %d queued envelopes on disconnect", len(s.queue))
	}
	s.queue = nil
	s.attempt = 0
	s.backoff.Reset()
	s.lastErr = ""
	s.state = Idle
	s.mu.Unlock()

	if conn != nil {
		closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, closeFrame, time.Now().Add(s.cfg.WriteWait))
		_ = conn.Close()
	}
	s.publish()
}

func (s *Session) startDialLocked() {
	s.generation++
	generation := s.generation
	s.state = Connecting
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	s.cancelDial = cancel
	go s.dial(ctx, cancel, generation)
}

func (s *Session) dial(ctx context.Context, cancel context.CancelFunc, generation uint64) {
	defer cancel()

	conn, err := s.open(ctx)
	var resume []models.Envelope
	if err == nil {
		resume = s.resumeEnvelopes()
	}

	s.mu.Lock()
	if generation != s.generation || s.state != Connecting {
		// superseded by Disconnect or a newer Connect
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.cancelDial = nil
	if err != nil {
		s.dropLocked(err)
		s.mu.Unlock()
		s.publish()
		return
	}

	s.conn = conn
	s.state = Connected
	s.attempt = 0
	s.backoff.Reset()
	s.lastErr = ""
	zap.S().Infof("✅ Transport connected for %s", s.principalID())
	s.prependLocked(resume)
	if len(s.queue) > 0 {
		zap.S().Infof("📤 Flushing %d queued envelopes", len(s.queue))
	}

	wake, done, prev := make(chan struct{}, 1), make(chan struct{}), s.writerDone
	s.wake, s.writerDone = wake, done
	go s.writeLoop(conn, wake, prev, done)
	s.wakeWriterLocked()
	go s.readLoop(conn)
	s.mu.Unlock()
	s.publish()
}

func (s *Session) resumeEnvelopes() []models.Envelope {
	s.mu.Lock()
	fn := s.onResume
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn()
}

// prependLocked puts envs at the head of the queue. Queued envelopes equal to
// one of envs are dropped while they lead the queue; later copies stay, since
// something queued before them may have undone the first.
func (s *Session) prependLocked(envs []models.Envelope) {
	if len(envs) == 0 {
		return
	}
	rest := s.queue
	for len(rest) > 0 && containsEnvelope(envs, rest[0]) {
		rest = rest[1:]
	}
	queue := make([]models.Envelope, 0, len(envs)+len(rest))
	queue = append(queue, envs...)
	s.queue = append(queue, rest...)
}

func containsEnvelope(envs []models.Envelope, target models.Envelope) bool {
	for _, env := range envs {
		if env.Type == target.Type && bytes.Equal(env.Payload, target.Payload) {
			return true
		}
	}
	return false
}

func (s *Session) open(ctx context.Context) (Conn, error) {
	token := ""
	if s.principal != nil {
		credential, err := s.principal.Credential(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get credential: %w", err)
		}
		token = credential
	}
	target, err := TransportURL(s.cfg.URL, token)
	if err != nil {
		return nil, err
	}
	return s.cfg.Dialer.Dial(ctx, target)
}

func (s *Session) wakeWriterLocked() {
	if s.wake == nil {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// stopWriterLocked ends the current writer once its in-flight write returns.
func (s *Session) stopWriterLocked() {
	if s.wake != nil {
		close(s.wake)
		s.wake = nil
	}
}

// writeLoop drains the queue onto conn until conn is replaced. It starts only
// after the previous connection's writer finished, so an envelope re-queued by
// a failed write still goes out ahead of later ones.
func (s *Session) writeLoop(conn Conn, wake <-chan struct{}, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}
	for range wake {
		for {
			s.mu.Lock()
			if s.conn != conn || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			env := s.queue[0]
			s.queue = s.queue[1:]
			resets := s.resets
			s.mu.Unlock()

			data, err := json.Marshal(env)
			if err != nil {
				zap.S().Errorf("❌ Dropping %s that failed to encode: %v", env.Type, err)
				continue
			}
			if err := s.write(conn, data); err != nil {
				s.mu.Lock()
				if resets == s.resets {
					// not known to have left; it goes first on the next connection
					s.queue = append([]models.Envelope{env}, s.queue...)
				}
				dropped := s.conn == conn
				if dropped {
					s.dropLocked(fmt.Errorf("write failed: %w", err))
				}
				s.mu.Unlock()
				if dropped {
					s.publish()
				}
				return
			}
		}
	}
}

func (s *Session) write(conn Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// dropLocked records a lost or failed connection and schedules the next
// attempt, or gives up once the budget is spent.
func (s *Session) dropLocked(cause error) {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.stopWriterLocked()
	reason := describe(cause)

	if s.attempt >= s.cfg.MaxAttempts {
		s.state = GivenUp
		s.lastErr = fmt.Sprintf("connection lost after %d reconnect attempts: %s", s.attempt, reason)
		zap.S().Errorf("❌ Giving up on transport for %s: %s", s.principalID(), s.lastErr)
		return
	}

	delay := s.backoff.NextBackOff()
	s.attempt++
	s.state = Disconnected
	s.lastErr = reason
	zap.S().Warnf("⚠️ Transport disconnected (%s), reconnect %d/%d in %s", reason, s.attempt, s.cfg.MaxAttempts, delay)

	generation := s.generation
	s.timer = time.AfterFunc(delay, func() { s.retry(generation) })
}

func (s *Session) retry(generation uint64) {
	s.mu.Lock()
	if generation != s.generation || s.state != Disconnected {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.startDialLocked()
	s.mu.Unlock()
	s.publish()
}

func (s *Session) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if s.conn != conn {
				// closed on purpose or already handled by a failed write
				s.mu.Unlock()
				return
			}
			s.dropLocked(err)
			s.mu.Unlock()
			s.publish()
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) dispatch(data []byte) {
	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		zap.S().Warnf("⚠️ Dropping malformed frame: %v", err)
		return
	}
	if frame.Type == "" {
		zap.S().Warnf("⚠️ Dropping frame without a type: %s", truncate(data, 120))
		return
	}

	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		zap.S().Debugf("ℹ️ No handler for frame %s", frame.Type)
		return
	}
	handler.HandleFrame(frame)
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) statusLocked() models.ConnectionStatus {
	switch s.state {
	case Connected:
		return models.ConnectionStatus{IsConnected: true}
	case Connecting:
		return models.ConnectionStatus{IsConnecting: true}
	case Disconnected, GivenUp:
		return models.ConnectionStatus{Error: s.lastErr}
	}
	return models.ConnectionStatus{}
}

// publish hands the current status to the observer. One caller delivers at a
// time; a publish that arrives meanwhile (including one made from inside the
// observer) makes that caller loop again, so the last delivery is always the
// latest state.
func (s *Session) publish() {
	s.notifyMu.Lock()
	if s.publishing {
		s.republish = true
		s.notifyMu.Unlock()
		return
	}
	s.publishing = true
	for {
		s.republish = false
		observer := s.onStatus
		s.notifyMu.Unlock()

		status := s.Status()
		if observer != nil && (s.lastPublished == nil || *s.lastPublished != status) {
			s.lastPublished = &status
			observer(status)
		}

		s.notifyMu.Lock()
		if !s.republish {
			s.publishing = false
			s.notifyMu.Unlock()
			return
		}
	}
}

func (s *Session) principalID() string {
	if s.principal == nil {
		return "anonymous"
	}
	return s.principal.PrincipalID()
}

func describe(err error) string {
	var closeErr *websocket.CloseError
	switch {
	case err == nil:
		return "connection closed"
	case errors.As(err, &closeErr):
		if closeErr.Text != "" {
			return fmt.Sprintf("closed by server (%d): %s", closeErr.Code, closeErr.Text)
		}
		return fmt.Sprintf("closed by server (%d)", closeErr.Code)
	case errors.Is(err, context.DeadlineExceeded):
		return "connect timed out"
	}
	return err.Error()
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
