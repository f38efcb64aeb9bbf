package mpd_test

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edumarques81/stellar-mpdsession/internal/infra/mpd"
)

const dropConnection = "<drop>"

// fakeServer is a scripted MPD server. respond returns the lines to send for
// a command, terminal line included; nil leaves the command unanswered and
// dropConnection hangs up.
type fakeServer struct {
	ln      net.Listener
	banner  string
	respond func(cmd string) []string

	mu       sync.Mutex
	received []string
	conns    int
}

func newFakeServer(t *testing.T, banner string, respond func(string) []string) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{ln: ln, banner: banner, respond: respond}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()

	s.mu.Lock()
	s.conns++
	s.mu.Unlock()

	fmt.Fprintf(conn, "%s\n", s.banner)
	if !strings.HasPrefix(s.banner, "OK MPD") {
		return
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		cmd := scanner.Text()
		s.mu.Lock()
		s.received = append(s.received, cmd)
		s.mu.Unlock()

		if cmd == "close" {
			return
		}
		resp := s.respond(cmd)
		if resp == nil {
			continue
		}
		if resp[0] == dropConnection {
			return
		}
		fmt.Fprintf(conn, "%s\n", strings.Join(resp, "\n"))
	}
}

func (s *fakeServer) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func (s *fakeServer) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *fakeServer) config() mpd.Config {
	cfg := mpd.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = s.ln.Addr().(*net.TCPAddr).Port
	cfg.Timeout = 2 * time.Second
	cfg.CoolOff = 20 * time.Millisecond
	return cfg
}

func defaultRespond(cmd string) []string {
	switch cmd {
	case "status":
		return []string{"volume: 50", "state: play", "OK"}
	case `setvol "150"`:
		return []string{"ACK [2@0] {setvol} volume out of range"}
	default:
		return []string{"OK"}
	}
}

// collector drains an engine's messages so tests can wait on them.
type collector struct {
	mu     sync.Mutex
	msgs   []mpd.Message
	closed chan struct{}
}

func collect(e *mpd.Engine) *collector {
	c := &collector{closed: make(chan struct{})}
	go func() {
		defer close(c.closed)
		for msg := range e.Messages() {
			c.mu.Lock()
			c.msgs = append(c.msgs, msg)
			c.mu.Unlock()
		}
	}()
	return c
}

func (c *collector) snapshot() []mpd.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mpd.Message(nil), c.msgs...)
}

func (c *collector) states() []mpd.ConnectionState {
	var out []mpd.ConnectionState
	for _, msg := range c.snapshot() {
		if msg.Kind == mpd.MessageState {
			out = append(out, msg.State)
		}
	}
	return out
}

func (c *collector) count(pred func(mpd.Message) bool) int {
	n := 0
	for _, msg := range c.snapshot() {
		if pred(msg) {
			n++
		}
	}
	return n
}

func (c *collector) waitFor(t *testing.T, what string, pred func(mpd.Message) bool) mpd.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range c.snapshot() {
			if pred(msg) {
				return msg
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
	return mpd.Message{}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func isState(s mpd.ConnectionState) func(mpd.Message) bool {
	return func(m mpd.Message) bool { return m.Kind == mpd.MessageState && m.State == s }
}

func isResponse(op mpd.Op) func(mpd.Message) bool {
	return func(m mpd.Message) bool { return m.Kind == mpd.MessageResponse && m.Command.Op() == op }
}

func isError(op mpd.Op) func(mpd.Message) bool {
	return func(m mpd.Message) bool { return m.Kind == mpd.MessageError && m.Command.Op() == op }
}

func startEngine(t *testing.T, cfg mpd.Config) (*mpd.Engine, *collector) {
	t.Helper()
	e := mpd.NewEngine(cfg)
	c := collect(e)
	if err := e.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, c
}

func TestEngineCommandsAndErrors(t *testing.T) {
	srv := newFakeServer(t, "OK MPD 0.20.0", defaultRespond)
	e, c := startEngine(t, srv.config())

	c.waitFor(t, "connected", isState(mpd.StateConnected))
	if e.ServerVersion() != "0.20.0" {
		t.Errorf("ServerVersion() = %q", e.ServerVersion())
	}

	e.Enqueue(mpd.Play())
	resp := c.waitFor(t, "play response", isResponse(mpd.OpPlay))
	if len(resp.Lines) != 0 {
		t.Errorf("play response lines = %v", resp.Lines)
	}
	if resp.ConnID == "" {
		t.Error("response carries no connection id")
	}

	e.Enqueue(mpd.SetVol(150))
	msg := c.waitFor(t, "setvol error", isError(mpd.OpSetVol))
	if msg.Err == nil || msg.Err.Text != "[2@0] {setvol} volume out of range" {
		t.Errorf("error = %+v", msg.Err)
	}
	if e.State() != mpd.StateConnected {
		t.Errorf("State() after ACK = %v, want connected", e.State())
	}

	e.Enqueue(mpd.Status())
	status := c.waitFor(t, "status response", isResponse(mpd.OpStatus))
	if len(status.Lines) != 2 || status.Lines[0].Keyword != mpd.KeywordVolume || status.Lines[0].Value != "50" {
		t.Errorf("status lines = %+v", status.Lines)
	}
	if status.Songs != nil {
		t.Error("status response carries songs")
	}
}

func TestEnginePreservesOrder(t *testing.T) {
	srv := newFakeServer(t, "OK MPD 0.23.5", defaultRespond)
	e := mpd.NewEngine(srv.config())
	c := collect(e)
	t.Cleanup(func() { e.Close() })

	for _, cmd := range []mpd.Command{mpd.Stop(), mpd.Next(), mpd.Previous()} {
		if !e.Enqueue(cmd) {
			t.Fatalf("Enqueue(%s) refused", cmd)
		}
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	c.waitFor(t, "previous response", isResponse(mpd.OpPrevious))

	want := []string{"stop", "next", "previous"}
	if got := srv.Received(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("server received %v, want %v", got, want)
	}

	var ops []mpd.Op
	for _, msg := range c.snapshot() {
		if msg.Kind == mpd.MessageResponse {
			ops = append(ops, msg.Command.Op())
		}
	}
	if len(ops) != 3 || ops[0] != mpd.OpStop || ops[1] != mpd.OpNext || ops[2] != mpd.OpPrevious {
		t.Errorf("responses delivered as %v", ops)
	}
}

func TestEngineElidesPendingStatus(t *testing.T) {
	srv := newFakeServer(t, "OK MPD 0.23.5", defaultRespond)
	e := mpd.NewEngine(srv.config())
	c := collect(e)
	t.Cleanup(func() { e.Close() })

	if !e.Enqueue(mpd.Status()) {
		t.Fatal("first status refused")
	}
	if e.Enqueue(mpd.Status()) {
		t.Error("duplicate status accepted")
	}
	if !e.Enqueue(mpd.Play()) || !e.Enqueue(mpd.Play()) {
		t.Error("play is never elided")
	}
	if e.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", e.Pending())
	}

	if err := e.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	waitUntil(t, "two plays", func() bool { return c.count(isResponse(mpd.OpPlay)) == 2 })
	if n := c.count(isResponse(mpd.OpStatus)); n != 1 {
		t.Errorf("got %d status responses, want 1", n)
	}
}

func TestEngineRejectsBadBanner(t *testing.T) {
	srv := newFakeServer(t, "ERROR not mpd", defaultRespond)
	e, c := startEngine(t, srv.config())

	waitUntil(t, "a retry", func() bool { return srv.Conns() >= 2 })
	c.waitFor(t, "disconnected", isState(mpd.StateDisconnected))

	if n := c.count(isState(mpd.StateConnected)); n != 0 {
		t.Errorf("engine reported connected %d times", n)
	}
	if s := e.State(); s == mpd.StateConnected {
		t.Errorf("State() = %v", s)
	}
}

func TestEngineSendsPasswordFirst(t *testing.T) {
	srv := newFakeServer(t, "OK MPD 0.23.5", defaultRespond)
	cfg := srv.config()
	cfg.Password = `se"cret`

	e := mpd.NewEngine(cfg)
	c := collect(e)
	t.Cleanup(func() { e.Close() })
	e.Enqueue(mpd.Play())
	if err := e.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	c.waitFor(t, "play response", isResponse(mpd.OpPlay))
	got := srv.Received()
	if len(got) < 2 || got[0] != `password "se\"cret"` || got[1] != "play" {
		t.Errorf("server received %v", got)
	}
	if n := c.count(isResponse(mpd.OpPassword)); n != 0 {
		t.Errorf("password produced %d responses", n)
	}
}

func TestEngineReconnectsAfterDrop(t *testing.T) {
	srv := newFakeServer(t, "OK MPD 0.23.5", func(cmd string) []string {
		if cmd == "next" {
			return []string{dropConnection}
		}
		return defaultRespond(cmd)
	})
	e, c := startEngine(t, srv.config())

	first := c.waitFor(t, "connected", isState(mpd.StateConnected))
	e.Enqueue(mpd.Next())

	waitUntil(t, "second connection", func() bool {
		return c.count(isState(mpd.StateConnected)) >= 2
	})
	c.waitFor(t, "disconnecting", isState(mpd.StateDisconnecting))
	if srv.Conns() < 2 {
		t.Errorf("server saw %d connections", srv.Conns())
	}
	if n := c.count(isResponse(mpd.OpNext)); n != 0 {
		t.Errorf("lost command produced %d responses", n)
	}

	e.Enqueue(mpd.Status())
	resp := c.waitFor(t, "status after reconnect", isResponse(mpd.OpStatus))
	if resp.ConnID == first.ConnID {
		t.Error("reconnect reused the connection id")
	}
}

func TestEngineProtocolViolationReconnects(t *testing.T) {
	srv := newFakeServer(t, "OK MPD 0.23.5", func(cmd string) []string {
		if cmd == "ping" {
			return []string{"OK MPD 0.23.5"}
		}
		return defaultRespond(cmd)
	})
	e, c := startEngine(t, srv.config())

	c.waitFor(t, "connected", isState(mpd.StateConnected))
	e.Enqueue(mpd.Ping())

	waitUntil(t, "reconnect", func() bool { return c.count(isState(mpd.StateConnected)) >= 2 })
	if n := c.count(isResponse(mpd.OpPing)); n != 0 {
		t.Errorf("bad terminal produced %d responses", n)
	}
}

func TestEngineListAllInfoFallback(t *testing.T) {
	respond := func(cmd string) []string {
		switch cmd {
		case "listallinfo":
			return []string{`ACK [5@0] {} unknown command "listallinfo"`}
		case `search "filename" ""`:
			return []string{"file: a.flac", "Title: A", "file: b.flac", "Title: B", "OK"}
		}
		return defaultRespond(cmd)
	}

	t.Run("enabled", func(t *testing.T) {
		srv := newFakeServer(t, "OK MPD 0.23.5", respond)
		e, c := startEngine(t, srv.config())

		e.Enqueue(mpd.ListAllInfo())
		msg := c.waitFor(t, "listallinfo response", isResponse(mpd.OpListAllInfo))
		if len(msg.Songs) != 2 || msg.Songs[1].Title != "B" {
			t.Errorf("songs = %+v", msg.Songs)
		}
		if n := c.count(isError(mpd.OpListAllInfo)); n != 0 {
			t.Errorf("fallback still reported %d errors", n)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		srv := newFakeServer(t, "OK MPD 0.23.5", respond)
		cfg := srv.config()
		cfg.ListAllFallback = false
		e, c := startEngine(t, cfg)

		e.Enqueue(mpd.ListAllInfo())
		msg := c.waitFor(t, "listallinfo error", isError(mpd.OpListAllInfo))
		if !msg.Err.NotImplemented() {
			t.Errorf("error = %+v", msg.Err)
		}
		for _, cmd := range srv.Received() {
			if strings.HasPrefix(cmd, "search") {
				t.Errorf("fallback sent although disabled: %q", cmd)
			}
		}
	})
}

func TestEngineCloseSaysGoodbye(t *testing.T) {
	srv := newFakeServer(t, "OK MPD 0.23.5", defaultRespond)
	e, c := startEngine(t, srv.config())
	c.waitFor(t, "connected", isState(mpd.StateConnected))

	if err := e.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	waitUntil(t, "close command", func() bool {
		got := srv.Received()
		return len(got) > 0 && got[len(got)-1] == "close"
	})
	select {
	case <-c.closed:
	case <-time.After(time.Second):
		t.Fatal("Messages() not closed after Close")
	}
	select {
	case <-e.Done():
	default:
		t.Error("Done() not closed after Close")
	}

	if e.State() != mpd.StateDisconnected {
		t.Errorf("State() = %v", e.State())
	}
	if c.count(isState(mpd.StateDisconnecting)) == 0 {
		t.Error("no disconnecting state reported")
	}
	if e.Enqueue(mpd.Play()) {
		t.Error("Enqueue accepted after Close")
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestEngineCloseInterruptsPendingRead(t *testing.T) {
	srv := newFakeServer(t, "OK MPD 0.23.5", func(cmd string) []string {
		if cmd == "status" {
			return nil
		}
		return defaultRespond(cmd)
	})
	cfg := srv.config()
	cfg.Timeout = 10 * time.Second
	e, c := startEngine(t, cfg)

	c.waitFor(t, "connected", isState(mpd.StateConnected))
	e.Enqueue(mpd.Status())
	waitUntil(t, "status sent", func() bool { return len(srv.Received()) == 1 })

	start := time.Now()
	e.Close()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Close() took %v", elapsed)
	}
	waitUntil(t, "close command", func() bool {
		got := srv.Received()
		return len(got) == 2 && got[1] == "close"
	})
}

func TestEngineCloseDuringCoolOff(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close() // nothing listens: every attempt is refused

	cfg := mpd.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	cfg.CoolOff = time.Hour
	e, c := startEngine(t, cfg)

	c.waitFor(t, "failure activity", func(m mpd.Message) bool {
		return m.Kind == mpd.MessageActivity && strings.Contains(m.Text, "failed")
	})

	start := time.Now()
	e.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Close() during cool-off took %v", elapsed)
	}
	if n := c.count(isState(mpd.StateConnected)); n != 0 {
		t.Errorf("reported connected %d times", n)
	}
}

func TestEngineLifecycleErrors(t *testing.T) {
	srv := newFakeServer(t, "OK MPD 0.23.5", defaultRespond)

	e := mpd.NewEngine(srv.config())
	collect(e)
	if err := e.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := e.Start(); !errors.Is(err, mpd.ErrAlreadyStarted) {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}
	e.Close()
	if err := e.Start(); !errors.Is(err, mpd.ErrEngineClosed) {
		t.Errorf("Start() after Close = %v, want ErrEngineClosed", err)
	}

	// Closing an engine that never started still releases consumers.
	idle := mpd.NewEngine(srv.config())
	c := collect(idle)
	idle.Close()
	select {
	case <-c.closed:
	case <-time.After(time.Second):
		t.Fatal("Messages() not closed for an unstarted engine")
	}
}

func TestEngineEnqueueValidation(t *testing.T) {
	e := mpd.NewEngine(mpd.DefaultConfig())
	t.Cleanup(func() { e.Close() })

	if e.Enqueue(mpd.Command{}) {
		t.Error("zero command accepted")
	}
	if e.Enqueue(mpd.Close()) {
		t.Error("close command accepted")
	}
	if !e.Enqueue(mpd.Ping()) {
		t.Error("ping refused")
	}
	if e.State() != mpd.StateDisconnected {
		t.Errorf("State() before Start = %v", e.State())
	}
}

func TestEngineCoolsOffAfterLostConnection(t *testing.T) {
	// Greets, then hangs up on the first command.
	srv := newFakeServer(t, "OK MPD 0.23.5", func(string) []string {
		return []string{dropConnection}
	})
	cfg := srv.config()
	cfg.Password = "secret"
	cfg.CoolOff = 200 * time.Millisecond
	e, c := startEngine(t, cfg)

	c.waitFor(t, "connected", isState(mpd.StateConnected))
	time.Sleep(500 * time.Millisecond)
	e.Close()

	// Attempts at roughly 0, 200 and 400ms.
	if n := srv.Conns(); n < 2 || n > 4 {
		t.Errorf("server saw %d connections in 500ms with a 200ms cool-off", n)
	}
}

func TestEngineStartIsConnecting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := mpd.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	cfg.CoolOff = time.Hour

	e := mpd.NewEngine(cfg)
	collect(e)
	t.Cleanup(func() { e.Close() })

	if err := e.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if s := e.State(); s != mpd.StateConnecting {
		t.Errorf("State() after Start = %v, want connecting", s)
	}
}

func TestEngineGivesUpOnUnknownHost(t *testing.T) {
	cfg := mpd.DefaultConfig()
	// The empty label fails name validation, so no resolver query is sent.
	cfg.Host = "nope..invalid"
	cfg.CoolOff = time.Hour

	e := mpd.NewEngine(cfg)
	c := collect(e)
	if err := e.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	select {
	case <-e.Done():
	case <-time.After(3 * time.Second):
		e.Close()
		t.Fatal("worker still running for an unresolvable host")
	}

	select {
	case <-c.closed:
	case <-time.After(time.Second):
		t.Fatal("Messages() not closed after the worker exited")
	}
	if n := c.count(func(m mpd.Message) bool {
		return m.Kind == mpd.MessageActivity && strings.Contains(m.Text, "Cannot resolve")
	}); n != 1 {
		t.Errorf("got %d resolve failure activities, want 1", n)
	}
	if e.State() != mpd.StateDisconnected {
		t.Errorf("State() = %v, want disconnected", e.State())
	}
	if e.Enqueue(mpd.Status()) {
		t.Error("engine accepted a command after giving up")
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
