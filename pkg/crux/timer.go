package crux

import (
	"sync"
	"time"
)

type timerState int

const (
	timerStopped timerState = iota
	timerRunning
	timerExecuting
	timerCancelingToStop
	timerCancelingToStart
	timerCancelingToFF
)

// Timer is a one-shot periodic scheduler: arming it schedules its handler to
// run once, period from now; the handler is expected to call Start again if
// it wants another tick. It tolerates the handler re-entrantly calling
// Start, Stop or Close on the same Timer.
//
// Unlike the Boost.Asio timer this is modeled on, Close does not need to
// guard against use-after-free — Go's garbage collector already makes that
// impossible — so it only needs to make the handler a logical no-op.
type Timer struct {
	mu      sync.Mutex
	state   timerState
	period  time.Duration
	handler func()
	t       *time.Timer
	closed  bool
}

// NewTimer returns a stopped Timer with the given period and handler. Either
// may be changed later with SetPeriod/SetHandler.
func NewTimer(period time.Duration, handler func()) *Timer {
	return &Timer{period: period, handler: handler}
}

// SetPeriod changes the period used by future Start/restart calls.
func (t *Timer) SetPeriod(d time.Duration) {
	t.mu.Lock()
	t.period = d
	t.mu.Unlock()
}

// SetHandler changes the handler invoked on expiry.
func (t *Timer) SetHandler(h func()) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Start arms the timer for Period from now. If already running, it restarts
// from now. If called from within the handler (i.e. while executing), it
// arms fresh for another Period.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	switch t.state {
	case timerStopped, timerExecuting:
		t.doStart()
	case timerRunning:
		t.cancelUnderlying()
		t.doStart()
	case timerCancelingToStop, timerCancelingToFF:
		t.state = timerCancelingToStart
	case timerCancelingToStart:
		// already scheduled to restart
	}
}

// Stop cancels any pending expiry. The handler will not run again unless
// Start or FastForward is called afterwards.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case timerStopped:
	case timerRunning:
		if t.t != nil && t.t.Stop() {
			// The pending callback will never run, so nothing is left to cancel.
			t.state = timerStopped
		} else {
			t.state = timerCancelingToStop
		}
	case timerExecuting:
		t.state = timerStopped
	case timerCancelingToStop:
	case timerCancelingToStart, timerCancelingToFF:
		t.state = timerCancelingToStop
	}
}

// FastForward schedules the handler to run as soon as possible, but never
// synchronously within this call.
func (t *Timer) FastForward() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if t.state == timerRunning {
		t.cancelUnderlying()
	}
	t.state = timerRunning
	t.t = time.AfterFunc(0, t.onTick)
}

// Close permanently disables the timer; any pending expiry becomes a no-op.
func (t *Timer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cancelUnderlying()
	t.state = timerStopped
}

func (t *Timer) doStart() {
	t.state = timerRunning
	t.t = time.AfterFunc(t.period, t.onTick)
}

func (t *Timer) cancelUnderlying() {
	if t.t != nil {
		t.t.Stop()
	}
}

func (t *Timer) onTick() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	switch t.state {
	case timerStopped:
		t.mu.Unlock()
		return
	case timerCancelingToStop:
		t.state = timerStopped
		t.mu.Unlock()
		return
	case timerCancelingToStart:
		t.doStart()
		t.mu.Unlock()
		return
	case timerRunning, timerCancelingToFF:
		// fall through to execute
	}
	t.state = timerExecuting
	h := t.handler
	t.mu.Unlock()

	if h != nil {
		h()
	}

	t.mu.Lock()
	if t.state == timerExecuting {
		t.state = timerStopped
	}
	t.mu.Unlock()
}
