package mpd

import (
	"context"
	"fmt"
	"sync"
)

// ResultKind tells which decoded form a successful response is delivered in.
type ResultKind int

const (
	// ResultLines delivers the raw response lines.
	ResultLines ResultKind = iota
	// ResultSongs additionally decodes the lines into song blocks.
	ResultSongs
)

var resultKinds = map[Op]ResultKind{
	OpCurrentSong:      ResultSongs,
	OpListAllInfo:      ResultSongs,
	OpSearch:           ResultSongs,
	OpPlaylistInfo:     ResultSongs,
	OpListPlaylist:     ResultSongs,
	OpListPlaylistInfo: ResultSongs,
}

// ResultKindOf returns the result kind of op. Unlisted operations are line based.
func ResultKindOf(op Op) ResultKind {
	return resultKinds[op]
}

// MessageKind discriminates Message.
type MessageKind int

const (
	// MessageResponse is an OK-terminated response to Command.
	MessageResponse MessageKind = iota + 1
	// MessageError is an ACK-terminated response to Command.
	MessageError
	// MessageState reports a connection state transition.
	MessageState
	// MessageActivity carries human readable progress text.
	MessageActivity
	// MessageFault reports an unexpected failure of the engine worker.
	MessageFault
)

func (k MessageKind) String() string {
	switch k {
	case MessageResponse:
		return "response"
	case MessageError:
		return "error"
	case MessageState:
		return "state"
	case MessageActivity:
		return "activity"
	case MessageFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Message is what the engine posts to its consumer. Only the fields relevant
// to Kind are set.
type Message struct {
	Kind   MessageKind
	ConnID string

	Command Command
	Lines   []ResponseLine
	Songs   []SongBlock // only for ResultSongs operations
	Err     *ACKError

	State ConnectionState
	Text  string
}

type (
	LinesHandler    func(cmd Command, lines []ResponseLine)
	SongsHandler    func(cmd Command, songs []SongBlock)
	ErrorHandler    func(cmd Command, err *ACKError)
	StateHandler    func(state ConnectionState)
	ActivityHandler func(text string)
	FaultHandler    func(text string)
)

// Dispatcher routes engine messages to registered handlers. Handlers run on
// whichever goroutine calls Dispatch or Run, never on the engine's worker.
type Dispatcher struct {
	mu         sync.RWMutex
	lines      map[Op][]LinesHandler
	songs      map[Op][]SongsHandler
	onError    []ErrorHandler
	onState    []StateHandler
	onActivity []ActivityHandler
	onFault    []FaultHandler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		lines: make(map[Op][]LinesHandler),
		songs: make(map[Op][]SongsHandler),
	}
}

// OnLines registers h for successful responses to op. Every operation
// delivers its raw lines, including song listings.
func (d *Dispatcher) OnLines(op Op, h LinesHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines[op] = append(d.lines[op], h)
}

// OnSongs registers h for the decoded songs of op. It panics if op does not
// produce a song listing.
func (d *Dispatcher) OnSongs(op Op, h SongsHandler) {
	if ResultKindOf(op) != ResultSongs {
		panic(fmt.Sprintf("mpd: %s does not return songs", op))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.songs[op] = append(d.songs[op], h)
}

// OnError registers h for ACK responses of any operation.
func (d *Dispatcher) OnError(h ErrorHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onError = append(d.onError, h)
}

// OnStateChanged registers h for connection state transitions.
func (d *Dispatcher) OnStateChanged(h StateHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onState = append(d.onState, h)
}

// OnActivity registers h for activity text.
func (d *Dispatcher) OnActivity(h ActivityHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onActivity = append(d.onActivity, h)
}

// OnFault registers h for worker faults.
func (d *Dispatcher) OnFault(h FaultHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFault = append(d.onFault, h)
}

// Dispatch delivers one message synchronously.
func (d *Dispatcher) Dispatch(msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch msg.Kind {
	case MessageResponse:
		op := msg.Command.Op()
		for _, h := range d.lines[op] {
			h(msg.Command, msg.Lines)
		}
		if ResultKindOf(op) == ResultSongs {
			for _, h := range d.songs[op] {
				h(msg.Command, msg.Songs)
			}
		}
	case MessageError:
		for _, h := range d.onError {
			h(msg.Command, msg.Err)
		}
	case MessageState:
		for _, h := range d.onState {
			h(msg.State)
		}
	case MessageActivity:
		for _, h := range d.onActivity {
			h(msg.Text)
		}
	case MessageFault:
		for _, h := range d.onFault {
			h(msg.Text)
		}
	}
}

// Run dispatches messages until msgs is closed or ctx is done.
func (d *Dispatcher) Run(ctx context.Context, msgs <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			d.Dispatch(msg)
		}
	}
}

// outbox decouples the worker from the consumer: post never blocks, and a
// pump goroutine started by start feeds messages to out in posting order.
type outbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []Message
	running bool
	closed  bool
	out     chan Message
}

func newOutbox(size int) *outbox {
	o := &outbox{out: make(chan Message, size)}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *outbox) start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running || o.closed {
		return
	}
	o.running = true
	go o.pump()
}

func (o *outbox) post(msg Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.items = append(o.items, msg)
	o.cond.Signal()
}

// close lets a running pump deliver what is left, then closes out. Without a
// pump, pending messages are dropped and out is closed at once.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	if !o.running {
		o.items = nil
		close(o.out)
		return
	}
	o.cond.Signal()
}

func (o *outbox) pump() {
	defer close(o.out)
	for {
		o.mu.Lock()
		for len(o.items) == 0 && !o.closed {
			o.cond.Wait()
		}
		if len(o.items) == 0 {
			o.mu.Unlock()
			return
		}
		batch := o.items
		o.items = nil
		o.mu.Unlock()

		for _, msg := range batch {
			o.out <- msg
		}
	}
}
