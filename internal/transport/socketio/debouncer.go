package socketio

import (
	"sync"
	"time"
)

// Refresh is a set of views the player can re-request from the server.
type Refresh uint8

const (
	RefreshState Refresh = 1 << iota
	RefreshQueue
	RefreshOutputs
)

// refreshOrder is the order in which pending refreshes run.
var refreshOrder = []Refresh{RefreshState, RefreshQueue, RefreshOutputs}

// subsystemRefreshes maps MPD idle subsystems to the views they invalidate.
// Queue edits can move the current position, so playlist also refreshes state.
var subsystemRefreshes = map[string]Refresh{
	"player":   RefreshState,
	"mixer":    RefreshState,
	"options":  RefreshState,
	"playlist": RefreshState | RefreshQueue,
	"output":   RefreshOutputs,
}

// RefreshFor returns the refreshes an idle event on subsystem calls for.
func RefreshFor(subsystem string) Refresh {
	return subsystemRefreshes[subsystem]
}

// RefreshDebouncer accumulates requested refreshes and runs each one once
// after the window passes without a new request. A turning volume knob thus
// costs one status round trip.
type RefreshDebouncer struct {
	window  time.Duration
	actions map[Refresh]func()

	mu      sync.Mutex
	pending Refresh
	timer   *time.Timer
	stopped bool
}

// NewRefreshDebouncer creates a debouncer running actions[r] for every
// pending refresh r. Refreshes without an action are dropped.
func NewRefreshDebouncer(window time.Duration, actions map[Refresh]func()) *RefreshDebouncer {
	return &RefreshDebouncer{window: window, actions: actions}
}

// Trigger requests the refreshes for an idle event. Unknown subsystems are
// ignored.
func (d *RefreshDebouncer) Trigger(subsystem string) {
	d.Request(RefreshFor(subsystem))
}

// Request adds r to the pending set and restarts the window.
func (d *RefreshDebouncer) Request(r Refresh) {
	if r == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending |= r
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.flush)
		return
	}
	d.timer.Reset(d.window)
}

func (d *RefreshDebouncer) flush() {
	d.mu.Lock()
	pending := d.pending
	d.pending = 0
	stopped := d.stopped
	d.mu.Unlock()

	if stopped {
		return
	}
	for _, r := range refreshOrder {
		if pending&r == 0 {
			continue
		}
		if run := d.actions[r]; run != nil {
			run()
		}
	}
}

// Stop discards pending refreshes; no action runs afterwards.
func (d *RefreshDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.pending = 0
	if d.timer != nil {
		d.timer.Stop()
	}
}
