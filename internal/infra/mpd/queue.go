package mpd

import "sync"

// CommandQueue is an unbounded FIFO of pending commands shared between any
// number of producers and the engine's worker, the single consumer.
type CommandQueue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	items      []Command
	terminated bool
	elide      bool
}

// NewCommandQueue creates a queue. With elide set, a status or stats command
// is dropped when an identical one is still waiting to be sent.
func NewCommandQueue(elide bool) *CommandQueue {
	q := &CommandQueue{elide: elide}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends cmd and wakes the consumer. It never blocks for long and
// returns false if cmd was elided or the queue has been terminated.
func (q *CommandQueue) Enqueue(cmd Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.terminated {
		return false
	}
	if q.elide && cmd.Elidable() {
		for _, pending := range q.items {
			if pending.wire == cmd.wire {
				return false
			}
		}
	}

	q.items = append(q.items, cmd)
	q.cond.Signal()
	return true
}

// Dequeue blocks until a command is available or the queue is terminated.
// ok is false once terminated; pending commands are then never handed out.
func (q *CommandQueue) Dequeue() (cmd Command, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.terminated {
		q.cond.Wait()
	}
	if q.terminated {
		return Command{}, false
	}

	cmd = q.items[0]
	q.items[0] = Command{}
	q.items = q.items[1:]
	return cmd, true
}

// Clear drops all pending commands and returns how many were dropped.
func (q *CommandQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	return n
}

// Terminate wakes any blocked Dequeue and drops pending commands. It is
// idempotent.
func (q *CommandQueue) Terminate() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.terminated = true
	q.items = nil
	q.cond.Broadcast()
}

// Terminated reports whether Terminate has been called.
func (q *CommandQueue) Terminated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.terminated
}

// Len returns the number of pending commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
