// Package mpd keeps a session with an MPD server over its line protocol.
// A single worker owns the connection, sends queued commands one at a time
// and reports responses, errors and connection state as Messages.
package mpd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	bannerPrefix    = "OK MPD"
	goodbyeTimeout  = time.Second
	outboxQueueSize = 64
)

var errTerminating = errors.New("mpd: engine terminating")

// Engine owns one MPD connection at a time. A single worker goroutine
// connects, sends queued commands one by one, decodes the responses and posts
// them to Messages. Connection loss triggers a reconnect; Close ends the
// worker for good.
type Engine struct {
	cfg    Config
	queue  *CommandQueue
	outbox *outbox

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	state atomic.Int32

	mu            sync.Mutex
	started       bool
	closing       bool
	conn          net.Conn // current connection, only touched here to interrupt I/O
	serverVersion string

	// Worker-owned.
	connID       string
	lastActivity string
}

// NewEngine creates an engine in the Disconnected state. No goroutine runs
// until Start. Commands may be enqueued before Start; they are sent once a
// connection is up.
func NewEngine(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:    cfg,
		queue:  NewCommandQueue(cfg.ElideReads),
		outbox: newOutbox(outboxQueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the worker. The engine is Connecting when Start returns.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	e.outbox.start()
	e.setState(StateConnecting)
	go e.run()
	return nil
}

// Enqueue submits cmd without blocking. It reports false when cmd was elided
// as a duplicate poll or the engine no longer accepts commands. The close
// command is reserved for Close.
func (e *Engine) Enqueue(cmd Command) bool {
	if cmd.IsZero() {
		return false
	}
	if cmd.Op() == OpClose {
		log.Warn().Msg("Ignoring queued close command, use Engine.Close")
		return false
	}
	return e.queue.Enqueue(cmd)
}

// Messages returns the channel of engine output. It is closed after the
// worker exits. Consumers must keep draining it.
func (e *Engine) Messages() <-chan Message {
	return e.outbox.out
}

// State returns the current connection state.
func (e *Engine) State() ConnectionState {
	return ConnectionState(e.state.Load())
}

// ServerVersion returns the protocol version announced by the last banner.
func (e *Engine) ServerVersion() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.serverVersion
}

// Pending returns the number of commands waiting to be sent.
func (e *Engine) Pending() int {
	return e.queue.Len()
}

// Done is closed when the worker has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Close terminates the engine: a blocked worker is woken, a live connection
// is sent a polite close and shut, and queued commands are dropped. Close
// waits for the worker to exit. The engine cannot be restarted.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		<-e.done
		return nil
	}
	e.closing = true
	started := e.started
	if e.conn != nil {
		// Fails any read or write in flight.
		_ = e.conn.SetDeadline(time.Unix(1, 0))
	}
	e.mu.Unlock()

	e.cancel()
	e.queue.Terminate()

	if !started {
		e.outbox.close()
		close(e.done)
		return nil
	}
	<-e.done
	return nil
}

func (e *Engine) isClosing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closing
}

func (e *Engine) run() {
	defer close(e.done)
	defer e.outbox.close()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("MPD session worker crashed")
			e.queue.Terminate()
			e.detach()
			e.setState(StateDisconnected)
			e.post(Message{Kind: MessageFault, Text: fmt.Sprintf("session worker crashed: %v", r)})
		}
	}()

	for e.ctx.Err() == nil {
		e.setState(StateConnecting)

		s, err := e.connect()
		if err != nil {
			if e.ctx.Err() != nil || errors.Is(err, errTerminating) {
				break
			}
			if isFatalDialError(err) {
				log.Error().Err(err).Str("addr", e.cfg.Addr()).Msg("MPD host cannot be resolved, giving up")
				e.activity(fmt.Sprintf("Cannot resolve %s", e.cfg.Host))
				e.queue.Terminate()
				break
			}
			log.Warn().Err(err).Str("addr", e.cfg.Addr()).Dur("retry_in", e.cfg.CoolOff).Msg("MPD connection failed")
			e.activity(fmt.Sprintf("Connection to %s failed, retrying in %s", e.cfg.Addr(), e.cfg.CoolOff))
			e.coolOff()
			e.setState(StateDisconnected)
			continue
		}

		err = e.serve(s)

		e.setState(StateDisconnecting)
		if e.isClosing() {
			e.sayGoodbye(s)
		} else if err != nil {
			dropped := e.queue.Clear()
			log.Warn().Err(err).Str("conn_id", s.id).Int("dropped", dropped).Msg("MPD connection lost")
			e.activity("Connection lost: " + err.Error())
		}
		e.detach()
		e.setState(StateDisconnected)
		if err != nil && !e.isClosing() {
			e.coolOff()
		}
	}

	e.setState(StateDisconnected)
	log.Info().Msg("MPD session worker stopped")
}

// session is the per-connection state. It is rebuilt on every connect so no
// buffered bytes survive a reconnect.
type session struct {
	id     string
	conn   net.Conn
	rw     guardedConn
	reader *lineReader
}

func (e *Engine) connect() (*session, error) {
	e.connID = uuid.New().String()
	addr := e.cfg.Addr()

	log.Info().Str("addr", addr).Str("conn_id", e.connID).Msg("Connecting to MPD")
	e.activity("Connecting to " + addr)

	d := net.Dialer{Timeout: e.cfg.Timeout}
	conn, err := d.DialContext(e.ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MPD: %w", err)
	}

	s := &session{id: e.connID, conn: conn}
	s.rw = guardedConn{e: e, conn: conn}
	s.reader = newLineReader(s.rw, e.cfg.ReadBufferSize)

	if !e.attach(conn) {
		conn.Close()
		return nil, errTerminating
	}

	banner, err := s.reader.ReadLine()
	if err != nil {
		e.detach()
		return nil, fmt.Errorf("reading banner: %w", err)
	}
	if !strings.HasPrefix(banner, bannerPrefix) {
		e.detach()
		return nil, &ProtocolError{Line: banner, Err: ErrBadBanner}
	}

	version := strings.TrimSpace(strings.TrimPrefix(banner, bannerPrefix))
	e.mu.Lock()
	e.serverVersion = version
	e.mu.Unlock()

	log.Info().Str("conn_id", s.id).Str("version", version).Msg("Connected to MPD")
	e.activity("Connected to MPD " + version)
	return s, nil
}

// attach publishes conn so Close can interrupt it.
func (e *Engine) attach(conn net.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return false
	}
	e.conn = conn
	return true
}

func (e *Engine) detach() {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// arm refreshes the I/O deadline of conn unless the engine is closing. It
// runs under the same lock Close uses to expire the deadline, so an
// interruption is never overwritten.
func (e *Engine) arm(conn net.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return errTerminating
	}
	return conn.SetDeadline(time.Now().Add(e.cfg.Timeout))
}

func (e *Engine) serve(s *session) error {
	e.setState(StateConnected)

	if e.cfg.Password != "" {
		if err := e.execute(s, Password(e.cfg.Password), true); err != nil {
			return err
		}
	}

	for {
		cmd, ok := e.queue.Dequeue()
		if !ok {
			return nil
		}
		if err := e.execute(s, cmd, false); err != nil {
			return err
		}
	}
}

// execute runs one command and posts its outcome. Only connection level
// failures are returned; an ACK is a normal outcome. Internal commands post
// nothing on success.
func (e *Engine) execute(s *session, cmd Command, internal bool) error {
	if !internal {
		e.activity("Executing " + string(cmd.Op()))
	}

	lines, ack, err := e.roundTrip(s, cmd)
	if err != nil {
		return err
	}

	if ack != nil && cmd.Op() == OpListAllInfo && e.cfg.ListAllFallback && ack.NotImplemented() {
		fallback := ListAllInfoFallback()
		log.Info().Str("ack", ack.Text).Str("fallback", fallback.String()).Msg("listallinfo unsupported, retrying as search")
		lines, ack, err = e.roundTrip(s, fallback)
		if err != nil {
			return err
		}
	}

	if ack != nil {
		log.Warn().Str("command", cmd.String()).Str("ack", ack.Text).Msg("MPD command failed")
		e.activity(fmt.Sprintf("%s failed: %s", cmd.Op(), ack.Text))
		e.post(Message{Kind: MessageError, Command: cmd, Err: ack})
		return nil
	}
	if internal {
		return nil
	}

	msg := Message{Kind: MessageResponse, Command: cmd, Lines: lines}
	if ResultKindOf(cmd.Op()) == ResultSongs {
		msg.Songs = ParseSongBlocks(lines)
	}
	e.post(msg)
	return nil
}

// roundTrip writes cmd and reads lines up to the terminal line.
func (e *Engine) roundTrip(s *session, cmd Command) ([]ResponseLine, *ACKError, error) {
	log.Debug().Str("conn_id", s.id).Str("command", cmd.String()).Msg("MPD send")

	if _, err := io.WriteString(s.rw, cmd.WireForm()+"\n"); err != nil {
		return nil, nil, fmt.Errorf("sending %s: %w", cmd.Op(), err)
	}

	var lines []ResponseLine
	for {
		raw, err := s.reader.ReadLine()
		if err != nil {
			return nil, nil, fmt.Errorf("response to %s: %w", cmd.Op(), err)
		}
		switch ClassifyTerminal(raw) {
		case TerminalOK:
			return lines, nil, nil
		case TerminalACK:
			return nil, ParseACK(raw), nil
		case TerminalInvalid:
			return nil, nil, &ProtocolError{Line: raw, Err: ErrProtocol}
		}
		lines = append(lines, ParseResponseLine(raw))
	}
}

func (e *Engine) sayGoodbye(s *session) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(goodbyeTimeout))
	if _, err := io.WriteString(s.conn, Close().WireForm()+"\n"); err != nil {
		log.Debug().Err(err).Str("conn_id", s.id).Msg("MPD close not sent")
	}
}

func (e *Engine) coolOff() {
	if e.cfg.CoolOff <= 0 {
		return
	}
	t := time.NewTimer(e.cfg.CoolOff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-e.ctx.Done():
	}
}

func (e *Engine) setState(s ConnectionState) {
	old := ConnectionState(e.state.Swap(int32(s)))
	if old == s {
		return
	}
	log.Debug().Str("from", old.String()).Str("to", s.String()).Msg("MPD connection state")
	e.post(Message{Kind: MessageState, State: s})
}

func (e *Engine) activity(text string) {
	if text == e.lastActivity {
		return
	}
	e.lastActivity = text
	e.post(Message{Kind: MessageActivity, Text: text})
}

func (e *Engine) post(msg Message) {
	msg.ConnID = e.connID
	e.outbox.post(msg)
}

// guardedConn re-arms the deadline before every read and write.
type guardedConn struct {
	e    *Engine
	conn net.Conn
}

func (g guardedConn) Read(p []byte) (int, error) {
	if err := g.e.arm(g.conn); err != nil {
		return 0, err
	}
	return g.conn.Read(p)
}

func (g guardedConn) Write(p []byte) (int, error) {
	if err := g.e.arm(g.conn); err != nil {
		return 0, err
	}
	return g.conn.Write(p)
}
