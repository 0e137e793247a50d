package crux

import (
	"sync"
	"time"
)

// DefaultRetransmitPeriod is the fixed interval at which an unacknowledged
// entry at the front of a TransmitQueue is re-sent. There is no RTT
// estimation or exponential backoff; retransmission continues indefinitely
// until acked or the entry is canceled.
const DefaultRetransmitPeriod = 3 * time.Second

// StepFunc performs one send attempt for a queued entry and reports the
// outcome via cb. retransmitCount is how many times this entry has already
// been sent (0 on the first attempt), so the step can stamp it into the
// frame before writing. It must not block past the send itself.
type StepFunc func(retransmitCount uint8, cb func(err error, n int))

// CompletionFunc is invoked exactly once per queued entry: with a nil error
// on ack, with the step's error if a send attempt fails, or with
// ErrAlreadyStarted if push collided with a live sequence, or with
// ErrOperationAborted if the queue is closed with the entry still pending.
type CompletionFunc func(err error, n int)

type txEntry struct {
	seq             Seq
	payloadSize     int
	period          time.Duration
	step            StepFunc
	completion      CompletionFunc
	retransmitCount uint8
}

// TransmitQueue is a per-connection retransmit book keyed by sequence
// number. A single Timer drives retransmission of the front (oldest
// outstanding) entry only; acking an entry anywhere in the queue removes it
// without disturbing the timer unless it was the front.
//
// Every method takes the queue's mutex, so the owning connection's actor
// goroutine, the driving Timer and the spawned send steps can all use it
// concurrently.
type TransmitQueue struct {
	mu      sync.Mutex
	order   []Seq // insertion order, front = oldest outstanding
	entries map[Seq]*txEntry
	timer   *Timer
	closed  bool
}

// NewTransmitQueue returns an empty queue. Its timer starts out with
// DefaultRetransmitPeriod; each pushed entry is then driven at the period
// passed to Push.
func NewTransmitQueue() *TransmitQueue {
	q := &TransmitQueue{entries: make(map[Seq]*txEntry)}
	q.timer = NewTimer(DefaultRetransmitPeriod, q.onTimerFire)
	return q
}

// Push enqueues seq for retransmission every period until acked. If seq
// already has a live entry, completion fires immediately with
// ErrAlreadyStarted and the existing entry is left untouched. If the queue
// was empty, the new entry becomes the front and its first send step runs
// immediately.
func (q *TransmitQueue) Push(seq Seq, payloadSize int, period time.Duration, step StepFunc, completion CompletionFunc) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if completion != nil {
			completion(ErrOperationAborted, 0)
		}
		return
	}
	if _, exists := q.entries[seq]; exists {
		q.mu.Unlock()
		if completion != nil {
			completion(ErrAlreadyStarted, 0)
		}
		return
	}
	e := &txEntry{seq: seq, payloadSize: payloadSize, period: period, step: step, completion: completion}
	q.entries[seq] = e
	wasEmpty := len(q.order) == 0
	q.order = append(q.order, seq)
	if wasEmpty {
		q.timer.SetPeriod(period)
		q.runFrontStep()
	}
	q.mu.Unlock()
}

// ApplyAck removes the entry for seq, if any, firing its completion with
// success. If it was the front entry, the timer is reset to drive the new
// front (if any).
func (q *TransmitQueue) ApplyAck(seq Seq) {
	q.mu.Lock()
	e, ok := q.entries[seq]
	if !ok {
		q.mu.Unlock()
		return
	}
	delete(q.entries, seq)
	wasFront := len(q.order) > 0 && q.order[0] == seq
	q.order = removeSeq(q.order, seq)
	if wasFront {
		q.timer.Stop()
		if len(q.order) > 0 {
			next := q.entries[q.order[0]]
			q.timer.SetPeriod(next.period)
			q.runFrontStep()
		}
	}
	q.mu.Unlock()
	if e.completion != nil {
		e.completion(nil, e.payloadSize)
	}
}

// Len reports how many entries are currently outstanding.
func (q *TransmitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Close cancels every outstanding entry, firing each completion with
// ErrOperationAborted, and stops the driving timer permanently.
func (q *TransmitQueue) Close() {
	q.mu.Lock()
	q.closed = true
	entries := q.entries
	q.entries = make(map[Seq]*txEntry)
	order := q.order
	q.order = nil
	q.timer.Close()
	q.mu.Unlock()
	for _, seq := range order {
		if e := entries[seq]; e != nil && e.completion != nil {
			e.completion(ErrOperationAborted, 0)
		}
	}
}

// runFrontStep invokes the front entry's send step. Must be called with mu
// held; the callback re-acquires mu itself.
func (q *TransmitQueue) runFrontStep() {
	if len(q.order) == 0 {
		return
	}
	e := q.entries[q.order[0]]
	if e == nil {
		return
	}
	step := e.step
	seq := e.seq
	rtx := e.retransmitCount
	go func() {
		step(rtx, func(err error, n int) {
			q.handleStepResult(seq, err, n)
		})
	}()
}

func (q *TransmitQueue) handleStepResult(seq Seq, err error, n int) {
	q.mu.Lock()
	e, ok := q.entries[seq]
	if !ok {
		q.mu.Unlock()
		return
	}
	if err != nil {
		delete(q.entries, seq)
		q.order = removeSeq(q.order, seq)
		q.timer.Stop()
		if len(q.order) > 0 {
			next := q.entries[q.order[0]]
			q.timer.SetPeriod(next.period)
			q.runFrontStep()
		}
		q.mu.Unlock()
		if e.completion != nil {
			e.completion(err, n)
		}
		return
	}
	e.retransmitCount++
	q.timer.Start()
	q.mu.Unlock()
}

func (q *TransmitQueue) onTimerFire() {
	q.mu.Lock()
	if q.closed || len(q.order) == 0 {
		q.mu.Unlock()
		return
	}
	q.runFrontStep()
	q.mu.Unlock()
}

func removeSeq(s []Seq, target Seq) []Seq {
	for i, v := range s {
		if v == target {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
